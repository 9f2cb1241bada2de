package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/freightdocs/internal/auth"
)

// BearerAuth resolves the Authorization header to a caller and stores it
// in the request context.
func BearerAuth(resolver auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeError(w, r, errors.Join(auth.ErrUnauthorized, errors.New("missing bearer token")))
				return
			}
			caller, err := resolver.Resolve(r.Context(), strings.TrimSpace(header[len(prefix):]))
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), caller)))
		})
	}
}

// caller returns the authenticated caller, or an error if allowed rejects its role.
func caller(r *http.Request, allowed func(auth.Role) bool) (auth.Context, error) {
	c, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Context{}, auth.ErrUnauthorized
	}
	if allowed != nil && !allowed(c.Role) {
		return auth.Context{}, errors.Join(auth.ErrForbidden, errors.New("role "+string(c.Role)+" may not do this"))
	}
	return c, nil
}
