package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"ecoscore-gateway/internal/handlers"
	"ecoscore-gateway/internal/metrics"
	"ecoscore-gateway/internal/middleware"
)

// Deps are the handlers and probes mounted on the router.
type Deps struct {
	Score *handlers.ScoreHandler

	// Bridge serves the websocket message bridge; nil leaves /ws/bridge unmounted.
	Bridge http.Handler

	// Ready lists dependencies checked by /readyz.
	Ready map[string]handlers.Pinger

	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, deps Deps) {
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 45 * time.Second
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 512 * 1024
	}

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Tracing())

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer()) // panic recovery

	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	// routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(deps.RequestTimeout))
		r.Use(middleware.MaxBodySize(deps.MaxBodyBytes))
		r.Post("/score", deps.Score.Score)
	})

	// long-lived; must stay outside the timeout group
	if deps.Bridge != nil {
		r.Handle("/ws/bridge", deps.Bridge)
	}

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", handlers.Readyz(deps.Ready))

	r.Handle("/metrics", metrics.Handler())
}
