// Package api serves the relay over HTTP.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/murelay/internal/engine"
	"github.com/roach88/murelay/internal/ir"
)

// Reader is the read side of the cache the API exposes.
// Implemented by store.Store and store.RedisStore.
type Reader interface {
	FindMessage(ctx context.Context, messageID string) (ir.CacheRecord, error)
	FindLatestTx(ctx context.Context, processID string) (ir.SequencedTx, error)
	FindLatestMessages(ctx context.Context, processID string, cursor int64, limit int) ([]ir.CacheRecord, int64, error)
	Ping(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	// RequestTimeout bounds each request, cranks included. Zero disables it.
	RequestTimeout time.Duration
}

// NewRouter creates and configures the HTTP router.
func NewRouter(proc *engine.Processor, cranker *engine.Cranker, cache Reader, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger)
	r.Use(chimw.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := NewHandler(proc, cranker, cache)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(chimw.Timeout(opts.RequestTimeout))
		}
		r.Use(chimw.AllowContentType("application/json"))

		r.Post("/messages", h.PostMessage)
		r.Post("/crank", h.PostCrank)
		r.Get("/messages/{id}", h.GetMessage)
		r.Get("/processes/{pid}/messages", h.ListMessages)
		r.Get("/processes/{pid}/latest-tx", h.GetLatestTx)
	})

	return r
}
