// Package api exposes the document pipeline over HTTP and MCP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/freightdocs/internal/auth"
	"github.com/kalambet/freightdocs/internal/autofill"
	"github.com/kalambet/freightdocs/internal/ingest"
	"github.com/kalambet/freightdocs/internal/storage"
)

// ShipmentStore is the slice of storage the shipment and health handlers use.
type ShipmentStore interface {
	CreateShipment(ctx context.Context, s storage.Shipment) error
	GetShipment(ctx context.Context, id string) (storage.Shipment, error)
	Ping(ctx context.Context) error
}

type AppDeps struct {
	Pipeline  *ingest.Pipeline
	Merger    *autofill.Merger
	Shipments ShipmentStore
	Auth      auth.Resolver
	Limiter   *RateLimiter // optional; uploads are unlimited when nil
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Auth))

		r.Route("/api/documents", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if deps.Limiter != nil {
					r.Use(deps.Limiter.Middleware)
				}
				r.Post("/shipments/{id}/upload", handleUpload(deps))
			})
			r.Get("/shipments/{id}/documents", handleListDocuments(deps))
			r.Get("/{id}", handleGetDocument(deps))
			r.Get("/{id}/job", handleGetJob(deps))
			r.Get("/{id}/download", handleDownload(deps))
			r.Post("/{id}/autofill", handleAutofill(deps))
		})

		r.Post("/api/shipments", handleCreateShipment(deps))
		r.Get("/api/shipments/{id}", handleGetShipment(deps))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Shipments.Ping(ctx); err != nil {
			slog.Warn("health check: database unreachable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "degraded",
				"database": "disconnected",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "healthy",
			"database": "connected",
		})
	}
}
