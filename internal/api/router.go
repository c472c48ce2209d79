// Package api assembles the gorilla/mux router for the loader execution
// core's HTTP control surface (SPEC_FULL.md §6): middleware ordering and
// sub-router composition follow the teacher's publishing API router, with
// the domain routes replaced by internal/api/handlers.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/etl-signal-loader/internal/api/handlers"
	"github.com/vitaliisemenov/etl-signal-loader/internal/api/middleware"
	"github.com/vitaliisemenov/etl-signal-loader/internal/apperr"
	"github.com/vitaliisemenov/etl-signal-loader/internal/database/postgres"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	EnableAuth        bool
	EnableRateLimit   bool
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	AuthConfig middleware.AuthConfig

	RateLimitPerMinute int
	RateLimitBurst     int

	CORSConfig middleware.CORSConfig

	JWTSecret string

	DB postgres.DatabaseConnection

	Logger   *slog.Logger
	Handlers *handlers.Deps
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig(logger *slog.Logger) RouterConfig {
	return RouterConfig{
		EnableAuth:         true,
		EnableRateLimit:    true,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      true,
		RateLimitPerMinute: 100,
		RateLimitBurst:     20,
		CORSConfig:         middleware.DefaultCORSConfig(),
		Logger:             logger,
		AuthConfig: middleware.AuthConfig{
			EnableAPIKey: true,
			EnableJWT:    true,
			APIKeys:      make(map[string]*middleware.User),
		},
	}
}

// NewRouter builds the router. The middleware stack is applied in order:
//  1. RequestID (always)
//  2. Logging (always)
//  3. Metrics (if enabled)
//  4. CORS (if enabled)
//  5. Compression (if enabled)
//  6. Route-specific: Auth, RBAC, RateLimit
func NewRouter(config RouterConfig) *mux.Router {
	router := mux.NewRouter()
	d := config.Handlers
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))
	if config.EnableMetrics {
		router.Use(middleware.MetricsMiddleware)
	}
	if config.EnableCORS {
		router.Use(middleware.CORSMiddleware(config.CORSConfig))
	}
	if config.EnableCompression {
		router.Use(middleware.CompressionMiddleware)
	}

	router.HandleFunc("/actuator/health", d.Health(config.DB)).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/auth/login", d.Login(config.JWTSecret)).Methods(http.MethodPost)

	protected := v1.PathPrefix("").Subrouter()
	if config.EnableAuth {
		protected.Use(middleware.AuthMiddleware(config.AuthConfig))
	}
	if config.EnableRateLimit {
		protected.Use(middleware.RateLimitMiddleware(config.RateLimitPerMinute, config.RateLimitBurst))
	}

	loaders := protected.PathPrefix("/res/loaders").Subrouter()
	loaders.HandleFunc("", d.ListLoaders).Methods(http.MethodGet)
	loaders.HandleFunc("", d.CreateLoader).Methods(http.MethodPost)
	loaders.HandleFunc("/{code}", d.GetLoader).Methods(http.MethodGet)
	loaders.HandleFunc("/{code}", d.UpdateLoader).Methods(http.MethodPut)
	loaders.HandleFunc("/{code}", d.DeleteLoader).Methods(http.MethodDelete)
	loaders.HandleFunc("/{code}/toggle", d.ToggleLoader).Methods(http.MethodPut)
	loaders.HandleFunc("/{code}/execute", d.ExecuteLoader).Methods(http.MethodPost)
	loaders.HandleFunc("/{code}/approve", d.ApproveLoader).Methods(http.MethodPost)
	loaders.HandleFunc("/{code}/reject", d.RejectLoader).Methods(http.MethodPost)
	loaders.HandleFunc("/{code}/history", d.LoaderHistory).Methods(http.MethodGet)
	loaders.HandleFunc("/{code}/backfill", d.CreateBackfill).Methods(http.MethodPost)
	loaders.HandleFunc("/{code}/backfill", d.ListBackfills).Methods(http.MethodGet)
	loaders.HandleFunc("/{code}/backfill/{id}/cancel", d.CancelBackfill).Methods(http.MethodPost)

	signals := protected.PathPrefix("/res/signals").Subrouter()
	signals.HandleFunc("/signal/{code}", d.GetSignals).Methods(http.MethodGet)
	signals.HandleFunc("/segments/{code}", d.GetSegments).Methods(http.MethodGet)

	protected.HandleFunc("/res/events/stream", d.StreamEvents).Methods(http.MethodGet)

	admin := router.PathPrefix("/ops/v1/admin").Subrouter()
	if config.EnableAuth {
		admin.Use(middleware.AuthMiddleware(config.AuthConfig))
		admin.Use(middleware.AdminMiddleware)
	}
	admin.HandleFunc("/res/db-sources", d.ListSources).Methods(http.MethodGet)
	admin.HandleFunc("/res/db-sources/reload", d.ReloadSources).Methods(http.MethodPost)
	admin.HandleFunc("/security/reload", d.ReloadSecurity).Methods(http.MethodPost)
	admin.HandleFunc("/backfill/run-next", d.RunNextBackfillHandler).Methods(http.MethodPost)
	admin.HandleFunc("/config/status", d.ConfigReloadStatus).Methods(http.MethodGet)
	admin.HandleFunc("/config/reload", d.ConfigReload).Methods(http.MethodPost)
	admin.HandleFunc("/config/history", d.ConfigHistory).Methods(http.MethodGet)
	admin.HandleFunc("/config/rollback/{version}", d.ConfigRollback).Methods(http.MethodPost)

	return router
}

// PlaceholderHandler writes a uniform "not yet implemented" error, kept
// for any route the composition root wires before its handler exists.
func PlaceholderHandler(handlerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetRequestID(r.Context())
		apperr.WriteError(w, apperr.Internal("handler not yet implemented: "+handlerName).WithRequestID(requestID))
	}
}
