// Package auth resolves opaque bearer tokens to the caller's identity.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/freightdocs/internal/storage"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Role is what a user may do with shipments.
type Role string

const (
	RoleSupplier  Role = "supplier"
	RoleForwarder Role = "forwarder"
	RoleBuyer     Role = "buyer"
	RoleDriver    Role = "driver"
	RoleAdmin     Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleSupplier, RoleForwarder, RoleBuyer, RoleDriver, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanUpload reports whether the role may attach documents to shipments.
func (r Role) CanUpload() bool {
	return r != RoleDriver
}

// CanEditShipments reports whether the role may create shipments or merge
// extracted data into them.
func (r Role) CanEditShipments() bool {
	return r == RoleSupplier || r == RoleForwarder || r == RoleAdmin
}

// Context identifies the caller of a request.
type Context struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Resolver maps a bearer token to a Context.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Context, error)
}

// TokenStore is the storage the StoreResolver needs.
type TokenStore interface {
	GetAPIToken(ctx context.Context, tokenHash string) (storage.APIToken, error)
}

// StoreResolver looks tokens up by their sha256 hash.
type StoreResolver struct {
	store TokenStore
}

func NewStoreResolver(store TokenStore) *StoreResolver {
	return &StoreResolver{store: store}
}

func (r *StoreResolver) Resolve(ctx context.Context, token string) (Context, error) {
	if token == "" {
		return Context{}, ErrUnauthorized
	}
	t, err := r.store.GetAPIToken(ctx, HashToken(token))
	if errors.Is(err, storage.ErrNotFound) {
		return Context{}, ErrUnauthorized
	}
	if err != nil {
		return Context{}, fmt.Errorf("resolving token: %w", err)
	}
	role, err := ParseRole(t.Role)
	if err != nil {
		return Context{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return Context{UserID: t.UserID, Role: role}, nil
}

// HashToken returns the hex sha256 of a plaintext token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateToken returns a new random plaintext token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return "fd_" + hex.EncodeToString(b), nil
}

type ctxKey struct{}

// WithContext attaches the caller to ctx.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the caller attached by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}
