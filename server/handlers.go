package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/nattapongw/ktw-product-api/config"
	"github.com/nattapongw/ktw-product-api/models"
	"github.com/nattapongw/ktw-product-api/scraper"
)

// ProductFetcher is the aggregation pipeline the API fronts.
type ProductFetcher interface {
	FetchOne(ctx context.Context, sku string) (models.BatchItem, error)
	FetchMany(ctx context.Context, skus []string, maxWorkers int) (*models.BatchResult, error)
}

// SessionController exposes the forced-login operation used by /login.
type SessionController interface {
	Login(ctx context.Context) error
}

// Handler serves the product API on top of the fetcher.
type Handler struct {
	cfg      *config.Config
	fetcher  ProductFetcher
	sessions SessionController
	cache    *ResultCache
	metrics  *scraper.Metrics
}

// NewHandler wires the API handlers. cache and metrics may be nil.
func NewHandler(cfg *config.Config, fetcher ProductFetcher, sessions SessionController, cache *ResultCache, metrics *scraper.Metrics) *Handler {
	return &Handler{
		cfg:      cfg,
		fetcher:  fetcher,
		sessions: sessions,
		cache:    cache,
		metrics:  metrics,
	}
}

type batchRequest struct {
	SKUIDs     []string `json:"sku_ids"`
	MaxWorkers int      `json:"max_workers"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Login(r.Context()); err != nil {
		slog.Error("login failed", slog.Any("error", err))
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, map[string]string{"status": "error", "message": "Login failed"})
		return
	}
	render.JSON(w, r, map[string]string{"status": "success", "message": "Login successful"})
}

func (h *Handler) handleProduct(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sku := chi.URLParam(r, "sku")

	if record, ok := h.cache.Get(sku); ok {
		h.metrics.IncCacheHit()
		render.JSON(w, r, map[string]any{
			"product":         record,
			"processing_time": time.Since(start).Seconds(),
		})
		return
	}
	h.metrics.IncCacheMiss()

	item, err := h.fetcher.FetchOne(r.Context(), sku)
	if err != nil {
		h.renderAuthFailure(w, r, err)
		return
	}

	if !item.OK() {
		render.Status(r, failureStatus(item.Failure.Reason))
		render.JSON(w, r, map[string]any{
			"error":           item.Failure,
			"processing_time": time.Since(start).Seconds(),
		})
		return
	}

	h.cache.Add(item.Record)
	render.JSON(w, r, map[string]any{
		"product":         item.Record,
		"processing_time": time.Since(start).Seconds(),
	})
}

func (h *Handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req batchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "Invalid request. Expected JSON with 'sku_ids' list"})
		return
	}
	if len(req.SKUIDs) == 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "sku_ids must be a non-empty list"})
		return
	}

	workers := req.MaxWorkers
	if workers <= 0 {
		workers = h.cfg.MaxWorkers
	}
	if workers > h.cfg.WorkerCap {
		workers = h.cfg.WorkerCap
	}

	items, err := h.batchLookup(r.Context(), req.SKUIDs, workers)
	if err != nil {
		h.renderAuthFailure(w, r, err)
		return
	}

	successful := 0
	for _, it := range items {
		if it.OK() {
			successful++
		}
	}

	render.JSON(w, r, map[string]any{
		"products":        items,
		"count":           len(items),
		"successful":      successful,
		"processing_time": time.Since(start).Seconds(),
	})
}

// batchLookup serves what it can from the cache and fetches the rest in one
// ordered batch, folding the fetched items back into their original slots.
func (h *Handler) batchLookup(ctx context.Context, skus []string, workers int) ([]models.BatchItem, error) {
	items := make([]models.BatchItem, len(skus))

	var missIdx []int
	var missSKUs []string
	for i, sku := range skus {
		if record, ok := h.cache.Get(sku); ok {
			h.metrics.IncCacheHit()
			items[i] = models.BatchItem{Record: record}
			continue
		}
		h.metrics.IncCacheMiss()
		missIdx = append(missIdx, i)
		missSKUs = append(missSKUs, sku)
	}

	if len(missSKUs) > 0 {
		result, err := h.fetcher.FetchMany(ctx, missSKUs, workers)
		if err != nil {
			return nil, err
		}
		for j, item := range result.Items {
			items[missIdx[j]] = item
			if item.OK() {
				h.cache.Add(item.Record)
			}
		}
	}

	return items, nil
}

func (h *Handler) renderAuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("session acquisition failed", slog.Any("error", err))
	render.Status(r, http.StatusBadGateway)
	render.JSON(w, r, map[string]string{
		"error":  "authentication against catalog site failed",
		"detail": err.Error(),
	})
}

func failureStatus(reason models.FailureKind) int {
	switch reason {
	case models.FailureNotFound:
		return http.StatusNotFound
	case models.FailureAuth:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

var _ ProductFetcher = (*scraper.Fetcher)(nil)
