package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/eventpool/pool-engine/internal/api"
	"github.com/eventpool/pool-engine/internal/metrics"
	"github.com/eventpool/pool-engine/internal/notify"
)

func newRouter(log zerolog.Logger, ready api.Pinger, h *api.Handler, wsHub *notify.WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.AccessLog(log)...)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(api.CORS)

	r.Get("/health", api.Health)
	r.Get("/ready", api.Ready(ready))

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket connections are long-lived and stay outside the timeout.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			h.Routes(r)
		})
	})
	return r
}
