package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnmchuo/careerkit-gateway/internal/auth"
	"github.com/vnmchuo/careerkit-gateway/internal/metrics"
)

// Routes mounts the API. Tier information and health endpoints are public;
// everything else sits behind authn.
func (h *Handler) Routes(authn auth.Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tiers", h.HandleTiers)
		r.Get("/tiers/{tierId}", h.HandleTier)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Post("/parse", h.HandleParse)
			r.Post("/analyze", h.HandleAnalyze)
			r.Post("/cover-letter", h.HandleCoverLetter)
			r.Get("/usage", h.HandleUsage)
			r.Get("/usage/calls", h.HandleCalls)
		})
	})
	return r
}
