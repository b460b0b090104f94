// Package server is the HTTP front for the product aggregation pipeline:
// routing, auth guard, request logging, and the result cache.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the service routes around h. registry may be nil to
// skip the metrics endpoint.
func NewRouter(h *Handler, registry *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.handleHealth)
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(BasicAuthToken(h.cfg.APIAuthToken))
		r.Get("/api/product/{sku}", h.handleProduct)
		r.Post("/api/products", h.handleProducts)
	})

	return r
}
