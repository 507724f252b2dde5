package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentwire-protocol/agentwire/internal/api/middleware"
	"github.com/agentwire-protocol/agentwire/internal/dispatch"
	"github.com/agentwire-protocol/agentwire/internal/dispense"
	"github.com/agentwire-protocol/agentwire/internal/envelope"
	"github.com/agentwire-protocol/agentwire/internal/store"
)

// NewRouter creates and configures the HTTP router for the inbound envelope
// listener. mirror may be nil.
func NewRouter(logger zerolog.Logger, d *dispatch.Dispatcher, history *envelope.History, mirror *store.RedisHistory, pending *PendingResponses) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(1024 * 1024)) // envelopes are small; 1MB is generous

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - agents submit from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", dispense.SyncHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := NewHandler(d, history, mirror, pending, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Post("/v1/submit", h.Submit)
	r.Get("/v1/messages", h.Messages)

	return r
}
