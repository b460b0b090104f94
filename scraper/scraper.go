// Package scraper fetches and merges per-SKU product data from the two
// catalog-site sources. It houses the per-SKU fetcher and the batch
// orchestrator along with the failure taxonomy and Prometheus collectors.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nattapongw/ktw-product-api/config"
	"github.com/nattapongw/ktw-product-api/models"
	"github.com/nattapongw/ktw-product-api/parser"
	"github.com/nattapongw/ktw-product-api/pricing"
	"github.com/nattapongw/ktw-product-api/session"
)

const (
	sourceStock   = "stock"
	sourceCatalog = "catalog"

	// maxPageBytes bounds how much of a product page is read into memory.
	maxPageBytes = 4 << 20
)

// Fetcher runs the per-SKU aggregation pipeline: dual-source fetch, field
// extraction, discount computation. One Fetcher is shared by all requests;
// the discount table and credentials it holds are read-only.
type Fetcher struct {
	cfg     *config.Config
	session *session.Provider
	table   *models.DiscountTable
	Metrics *Metrics
}

// New builds a fetcher around a shared session provider and discount table.
func New(cfg *config.Config, sess *session.Provider, table *models.DiscountTable) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		session: sess,
		table:   table,
		Metrics: NewMetrics(),
	}
}

// FetchOne retrieves one SKU. The returned item carries either a record or a
// per-SKU failure; the error return is non-nil only when authentication
// failed, which would fail any fetch.
func (f *Fetcher) FetchOne(ctx context.Context, sku string) (models.BatchItem, error) {
	if err := f.ensureSession(ctx); err != nil {
		return models.BatchItem{}, err
	}
	return f.fetchSKU(ctx, sku), nil
}

// FetchMany runs the pipeline across skus with at most maxWorkers concurrent
// fetches (capped by configuration; the batch size bounds it further). The
// result items align index-for-index with skus regardless of completion
// order, and duplicates are fetched independently. An authentication failure
// aborts the whole batch.
func (f *Fetcher) FetchMany(ctx context.Context, skus []string, maxWorkers int) (*models.BatchResult, error) {
	start := time.Now()

	if err := f.ensureSession(ctx); err != nil {
		return nil, err
	}

	workers := maxWorkers
	if workers <= 0 {
		workers = f.cfg.MaxWorkers
	}
	if workers > f.cfg.WorkerCap {
		workers = f.cfg.WorkerCap
	}
	if workers > len(skus) {
		workers = len(skus)
	}
	if workers < 1 {
		workers = 1
	}

	f.Metrics.ObserveBatch(len(skus))

	items := make([]models.BatchItem, len(skus))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, sku := range skus {
		g.Go(func() error {
			items[i] = f.fetchSKU(ctx, sku)
			return nil
		})
	}
	g.Wait()

	result := &models.BatchResult{
		Items:   items,
		Elapsed: time.Since(start),
	}
	slog.Info("batch complete",
		slog.Int("skus", len(skus)),
		slog.Int("workers", workers),
		slog.Int("successful", result.SuccessCount()),
		slog.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func (f *Fetcher) ensureSession(ctx context.Context) error {
	if err := f.session.EnsureAuthenticated(ctx); err != nil {
		f.Metrics.IncAuth("failure")
		f.Metrics.IncFailure(string(models.FailureAuth))
		return ErrAuth{Err: err}
	}
	f.Metrics.IncAuth("success")
	return nil
}

// fetchSKU issues the stock and catalog lookups concurrently, merges the
// extracted fields, and applies the discount. Every failure mode is captured
// in the returned item; fetchSKU never aborts sibling fetches.
func (f *Fetcher) fetchSKU(ctx context.Context, sku string) models.BatchItem {
	var (
		wg         sync.WaitGroup
		stock      *parser.StockInfo
		stockErr   error
		catalog    *parser.CatalogInfo
		catalogErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		stock, stockErr = f.fetchStock(ctx, sku)
	}()
	go func() {
		defer wg.Done()
		catalog, catalogErr = f.fetchCatalog(ctx, sku)
	}()
	wg.Wait()

	if catalogErr != nil {
		return f.failItem(sku, sourceCatalog, catalogErr)
	}
	if stockErr != nil {
		return f.failItem(sku, sourceStock, stockErr)
	}

	record := f.assemble(sku, stock, catalog)
	f.Metrics.IncProduct()
	return models.BatchItem{Record: record}
}

func (f *Fetcher) failItem(sku, stage string, err error) models.BatchItem {
	failure := newFailure(sku, err)
	f.Metrics.IncFailure(string(failure.Reason))
	slog.Warn("sku fetch failed",
		slog.String("sku", sku),
		slog.String("stage", stage),
		slog.String("reason", string(failure.Reason)),
		slog.Any("error", err),
	)
	return models.BatchItem{Failure: failure}
}

func (f *Fetcher) fetchStock(ctx context.Context, sku string) (*parser.StockInfo, error) {
	pageURL := strings.TrimSuffix(f.cfg.Credentials.StockBaseURL, "/") + "/ktw/th/THB/p/" + url.PathEscape(sku)

	body, err := f.fetchPage(ctx, sourceStock, pageURL)
	if err != nil {
		return nil, err
	}

	info, err := parser.ParseStockPage(bytes.NewReader(body))
	if err != nil {
		return nil, ErrParse{Err: err}
	}
	return info, nil
}

func (f *Fetcher) fetchCatalog(ctx context.Context, sku string) (*parser.CatalogInfo, error) {
	searchURL := fmt.Sprintf("%s/search/?searchType=All&viewType=grid&text=%s",
		strings.TrimSuffix(f.cfg.Credentials.CatalogBaseURL, "/"), url.QueryEscape(sku))

	body, err := f.fetchPage(ctx, sourceCatalog, searchURL)
	if err != nil {
		return nil, err
	}

	info, err := parser.ParseCatalogPage(bytes.NewReader(body), sku)
	if err != nil {
		return nil, classifyFetchError(err, 0)
	}
	return info, nil
}

// fetchPage issues one GET through the shared session client. There is no
// retry here: a transient failure for one SKU is reported, not retried, so a
// flaky page cannot stretch worst-case batch latency.
func (f *Fetcher) fetchPage(ctx context.Context, source, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, ErrNetwork{Err: err}
	}
	f.session.Decorate(req)

	f.Metrics.IncFetch(source)
	start := time.Now()
	resp, err := f.session.Client().Do(req)
	f.Metrics.ObserveFetch(source, time.Since(start))
	if err != nil {
		return nil, classifyFetchError(err, 0)
	}
	defer resp.Body.Close()

	// Landing back on the login form means the remote expired our cookies.
	if resp.Request != nil && resp.Request.URL != nil && strings.Contains(resp.Request.URL.Path, "/login") {
		f.session.Invalidate()
		return nil, ErrNetwork{Err: fmt.Errorf("session expired fetching %s", pageURL)}
	}

	if classified := classifyFetchError(nil, resp.StatusCode); classified != nil {
		return nil, classified
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, ErrNetwork{Err: fmt.Errorf("read %s page: %w", source, err)}
	}
	return body, nil
}

// assemble merges the two page extractions into one immutable record.
// stock_status is 1 iff quantity is positive; when the stock table was
// absent entirely, the catalog page's availability badge decides.
func (f *Fetcher) assemble(sku string, stock *parser.StockInfo, catalog *parser.CatalogInfo) *models.ProductRecord {
	record := &models.ProductRecord{
		SKU:           sku,
		StockQuantity: stock.Quantity,
		RegularPrice:  catalog.RegularPrice,
		FetchedAt:     time.Now(),
	}

	if catalog.Brand != "" {
		brand := catalog.Brand
		record.Brand = &brand
	}

	switch {
	case stock.Quantity != nil:
		if *stock.Quantity > 0 {
			record.StockStatus = 1
		}
	case catalog.InStock != nil && *catalog.InStock:
		record.StockStatus = 1
	}

	if catalog.HasPrice {
		sale := pricing.Apply(f.table, record.Brand, catalog.BasePrice)
		record.SalePrice = &sale
	}

	return record
}
