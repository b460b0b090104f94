package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"

	"github.com/nattapongw/ktw-product-api/config"
	"github.com/nattapongw/ktw-product-api/models"
	"github.com/nattapongw/ktw-product-api/parser"
	"github.com/nattapongw/ktw-product-api/session"
)

const (
	shopBase    = "https://shop.example"
	catalogBase = "https://catalog.example"
)

const loginPageHTML = `<html><body>
<form action="/ktw/th/THB/j_spring_security_check">
  <input type="hidden" name="CSRFToken" value="token-123"/>
</form>
</body></html>`

const profilePageHTML = `<html><body><form id="updateProfileForm"></form></body></html>`

const stockPageHTML = `<html><body>
<div class="table-responsive stock-striped">
  <table>
    <tr><th>สาขา</th><th>ในสต๊อก</th></tr>
    <tr><td>คลังสินค้ากลาง</td><td>12</td></tr>
    <tr><td>สาขาบางนา</td><td>3</td></tr>
  </table>
</div>
</body></html>`

const stockPageNoTableHTML = `<html><body><div class="product-details"></div></body></html>`

func catalogPageHTML(sku, brand, wasPrice, salePrice string) string {
	return fmt.Sprintf(`<html><body><div class="product-grid">
<div class="grid-item">
  <span class="grid-item__sku">%s</span>
  <span class="grid-item__brand">%s</span>
  <span class="grid-item__wasprice">%s</span>
  <span class="grid-item__saleprice">%s</span>
  <span class="grid-item__stock">มีสินค้า</span>
</div>
</div></body></html>`, sku, brand, wasPrice, salePrice)
}

func newTestFetcher(t *testing.T) (*Fetcher, *httpmock.MockTransport) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Credentials.Username = "shop_manager1"
	cfg.Credentials.Password = "secret"
	cfg.Credentials.StockBaseURL = shopBase
	cfg.Credentials.CatalogBaseURL = catalogBase
	cfg.AuthMaxRetries = 0

	sess, err := session.NewProvider(cfg)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	transport := httpmock.NewMockTransport()
	sess.Client().Transport = transport

	transport.RegisterResponder(http.MethodGet, shopBase+"/ktw/th/THB/login",
		httpmock.NewStringResponder(http.StatusOK, loginPageHTML))
	transport.RegisterResponder(http.MethodPost, shopBase+"/ktw/th/THB/j_spring_security_check",
		httpmock.NewStringResponder(http.StatusOK, ""))
	transport.RegisterResponder(http.MethodGet, shopBase+"/ktw/th/THB/my-account/update-profile",
		httpmock.NewStringResponder(http.StatusOK, profilePageHTML))

	table, err := models.NewDiscountTable(map[string]decimal.Decimal{
		"brandx": decimal.RequireFromString("0.85"),
	}, decimal.RequireFromString("0.95"))
	if err != nil {
		t.Fatalf("new discount table: %v", err)
	}

	return New(cfg, sess, table), transport
}

func registerStock(transport *httpmock.MockTransport, sku, body string, status int) {
	transport.RegisterResponder(http.MethodGet, shopBase+"/ktw/th/THB/p/"+sku,
		httpmock.NewStringResponder(status, body))
}

func registerCatalog(transport *httpmock.MockTransport, sku, body string, status int) {
	transport.RegisterResponderWithQuery(http.MethodGet, catalogBase+"/search/",
		url.Values{"searchType": {"All"}, "viewType": {"grid"}, "text": {sku}},
		httpmock.NewStringResponder(status, body))
}

func TestFetchOneSuccess(t *testing.T) {
	f, transport := newTestFetcher(t)
	registerStock(transport, "HP1630", stockPageHTML, http.StatusOK)
	registerCatalog(transport, "HP1630", catalogPageHTML("HP1630", "BrandX", "฿1,200.00", "฿1,000.00"), http.StatusOK)

	item, err := f.FetchOne(context.Background(), "HP1630")
	if err != nil {
		t.Fatalf("fetch one: %v", err)
	}
	if !item.OK() {
		t.Fatalf("expected record, got failure %+v", item.Failure)
	}

	rec := item.Record
	if rec.SKU != "HP1630" {
		t.Errorf("sku = %q", rec.SKU)
	}
	if rec.Brand == nil || *rec.Brand != "BrandX" {
		t.Errorf("brand = %v, want BrandX", rec.Brand)
	}
	if rec.StockQuantity == nil || *rec.StockQuantity != 15 {
		t.Errorf("stock quantity = %v, want 15", rec.StockQuantity)
	}
	if rec.StockStatus != 1 {
		t.Errorf("stock status = %d, want 1", rec.StockStatus)
	}
	if rec.RegularPrice != "฿1,200.00" {
		t.Errorf("regular price = %q, want original formatted string", rec.RegularPrice)
	}
	if rec.SalePrice == nil || !rec.SalePrice.Equal(decimal.RequireFromString("850")) {
		t.Errorf("sale price = %v, want 850", rec.SalePrice)
	}
}

func TestFetchOneUnlistedBrandUsesDefaultRatio(t *testing.T) {
	f, transport := newTestFetcher(t)
	registerStock(transport, "AB1", stockPageHTML, http.StatusOK)
	registerCatalog(transport, "AB1", catalogPageHTML("AB1", "Other", "", "฿1,000.00"), http.StatusOK)

	item, err := f.FetchOne(context.Background(), "AB1")
	if err != nil {
		t.Fatalf("fetch one: %v", err)
	}
	if item.Record.SalePrice == nil || !item.Record.SalePrice.Equal(decimal.RequireFromString("950")) {
		t.Fatalf("sale price = %v, want 950", item.Record.SalePrice)
	}
}

func TestFetchOneMissingStockTableFallsBackToBadge(t *testing.T) {
	f, transport := newTestFetcher(t)
	registerStock(transport, "AB2", stockPageNoTableHTML, http.StatusOK)
	registerCatalog(transport, "AB2", catalogPageHTML("AB2", "BrandX", "", "฿500.00"), http.StatusOK)

	item, err := f.FetchOne(context.Background(), "AB2")
	if err != nil {
		t.Fatalf("fetch one: %v", err)
	}
	rec := item.Record
	if rec.StockQuantity != nil {
		t.Errorf("stock quantity = %v, want nil", rec.StockQuantity)
	}
	if rec.StockStatus != 1 {
		t.Errorf("stock status = %d, want 1 from catalog badge", rec.StockStatus)
	}
}

func TestFetchOneNotFound(t *testing.T) {
	f, transport := newTestFetcher(t)
	registerStock(transport, "ZZ9", stockPageHTML, http.StatusOK)
	registerCatalog(transport, "ZZ9", catalogPageHTML("HP1630", "BrandX", "", "฿1.00"), http.StatusOK)

	item, err := f.FetchOne(context.Background(), "ZZ9")
	if err != nil {
		t.Fatalf("fetch one: %v", err)
	}
	if item.OK() {
		t.Fatalf("expected failure")
	}
	if item.Failure.Reason != models.FailureNotFound {
		t.Fatalf("reason = %s, want %s", item.Failure.Reason, models.FailureNotFound)
	}
}

func TestFetchOneMarkupChanged(t *testing.T) {
	f, transport := newTestFetcher(t)
	registerStock(transport, "AB3", stockPageHTML, http.StatusOK)
	registerCatalog(transport, "AB3", "<html><body><h1>redesign</h1></body></html>", http.StatusOK)

	item, err := f.FetchOne(context.Background(), "AB3")
	if err != nil {
		t.Fatalf("fetch one: %v", err)
	}
	if item.OK() || item.Failure.Reason != models.FailureParse {
		t.Fatalf("expected parse failure, got %+v", item)
	}
}

func TestFetchOneTransportFailures(t *testing.T) {
	tests := []struct {
		name        string
		stockStatus int
		expected    models.FailureKind
	}{
		{name: "server error", stockStatus: http.StatusInternalServerError, expected: models.FailureNetwork},
		{name: "forbidden", stockStatus: http.StatusForbidden, expected: models.FailureNetwork},
		{name: "stock page missing", stockStatus: http.StatusNotFound, expected: models.FailureNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, transport := newTestFetcher(t)
			registerStock(transport, "AB4", "", tt.stockStatus)
			registerCatalog(transport, "AB4", catalogPageHTML("AB4", "BrandX", "", "฿1.00"), http.StatusOK)

			item, err := f.FetchOne(context.Background(), "AB4")
			if err != nil {
				t.Fatalf("fetch one: %v", err)
			}
			if item.OK() || item.Failure.Reason != tt.expected {
				t.Fatalf("expected %s failure, got %+v", tt.expected, item)
			}
		})
	}
}

func TestFetchManyPreservesOrder(t *testing.T) {
	f, transport := newTestFetcher(t)

	skus := []string{"S1", "S2", "S3", "S4", "S5"}
	for i, sku := range skus {
		// Earlier SKUs finish last, so completion order inverts input
		// order while the result slice must not.
		delay := time.Duration(len(skus)-i) * 20 * time.Millisecond
		stockBody := stockPageHTML
		catalogBody := catalogPageHTML(sku, "BrandX", "", "฿100.00")

		transport.RegisterResponder(http.MethodGet, shopBase+"/ktw/th/THB/p/"+sku,
			func(req *http.Request) (*http.Response, error) {
				time.Sleep(delay)
				return httpmock.NewStringResponse(http.StatusOK, stockBody), nil
			})
		transport.RegisterResponderWithQuery(http.MethodGet, catalogBase+"/search/",
			url.Values{"searchType": {"All"}, "viewType": {"grid"}, "text": {sku}},
			httpmock.NewStringResponder(http.StatusOK, catalogBody))
	}

	result, err := f.FetchMany(context.Background(), skus, 5)
	if err != nil {
		t.Fatalf("fetch many: %v", err)
	}
	if len(result.Items) != len(skus) {
		t.Fatalf("items = %d, want %d", len(result.Items), len(skus))
	}
	for i, sku := range skus {
		if !result.Items[i].OK() {
			t.Fatalf("item %d failed: %+v", i, result.Items[i].Failure)
		}
		if got := result.Items[i].Record.SKU; got != sku {
			t.Errorf("item %d sku = %q, want %q", i, got, sku)
		}
	}
	if result.Elapsed <= 0 {
		t.Errorf("elapsed = %v, want positive", result.Elapsed)
	}
}

func TestFetchManyIsolatesFailures(t *testing.T) {
	f, transport := newTestFetcher(t)

	for _, sku := range []string{"G1", "G2"} {
		registerStock(transport, sku, stockPageHTML, http.StatusOK)
		registerCatalog(transport, sku, catalogPageHTML(sku, "BrandX", "", "฿100.00"), http.StatusOK)
	}
	registerStock(transport, "BAD", stockPageHTML, http.StatusOK)
	registerCatalog(transport, "BAD", catalogPageHTML("OTHER", "BrandX", "", "฿100.00"), http.StatusOK)

	result, err := f.FetchMany(context.Background(), []string{"G1", "BAD", "G2"}, 3)
	if err != nil {
		t.Fatalf("fetch many: %v", err)
	}
	if len(result.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(result.Items))
	}
	if got := result.SuccessCount(); got != 2 {
		t.Fatalf("successes = %d, want 2", got)
	}
	if result.Items[1].OK() || result.Items[1].Failure.Reason != models.FailureNotFound {
		t.Fatalf("middle item should be a not_found failure, got %+v", result.Items[1])
	}
	if result.Items[1].Failure.SKU != "BAD" {
		t.Fatalf("failure sku = %q, want BAD", result.Items[1].Failure.SKU)
	}
}

func TestFetchManyRespectsWorkerBound(t *testing.T) {
	f, transport := newTestFetcher(t)

	const maxWorkers = 10
	var inFlight, peak int64

	skus := make([]string, 50)
	for i := range skus {
		sku := fmt.Sprintf("W%02d", i)
		skus[i] = sku
		catalogBody := catalogPageHTML(sku, "BrandX", "", "฿100.00")

		transport.RegisterResponder(http.MethodGet, shopBase+"/ktw/th/THB/p/"+sku,
			func(req *http.Request) (*http.Response, error) {
				current := atomic.AddInt64(&inFlight, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if current <= old || atomic.CompareAndSwapInt64(&peak, old, current) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&inFlight, -1)
				return httpmock.NewStringResponse(http.StatusOK, stockPageHTML), nil
			})
		transport.RegisterResponderWithQuery(http.MethodGet, catalogBase+"/search/",
			url.Values{"searchType": {"All"}, "viewType": {"grid"}, "text": {sku}},
			httpmock.NewStringResponder(http.StatusOK, catalogBody))
	}

	result, err := f.FetchMany(context.Background(), skus, maxWorkers)
	if err != nil {
		t.Fatalf("fetch many: %v", err)
	}
	if got := result.SuccessCount(); got != 50 {
		t.Fatalf("successes = %d, want 50", got)
	}
	if got := atomic.LoadInt64(&peak); got > maxWorkers {
		t.Fatalf("peak concurrent stock fetches = %d, want <= %d", got, maxWorkers)
	}
}

func TestFetchManyFetchesDuplicatesIndependently(t *testing.T) {
	f, transport := newTestFetcher(t)

	var stockHits int64
	transport.RegisterResponder(http.MethodGet, shopBase+"/ktw/th/THB/p/DUP",
		func(req *http.Request) (*http.Response, error) {
			atomic.AddInt64(&stockHits, 1)
			return httpmock.NewStringResponse(http.StatusOK, stockPageHTML), nil
		})
	registerCatalog(transport, "DUP", catalogPageHTML("DUP", "BrandX", "", "฿100.00"), http.StatusOK)

	result, err := f.FetchMany(context.Background(), []string{"DUP", "DUP"}, 2)
	if err != nil {
		t.Fatalf("fetch many: %v", err)
	}
	if got := result.SuccessCount(); got != 2 {
		t.Fatalf("successes = %d, want 2", got)
	}
	if got := atomic.LoadInt64(&stockHits); got != 2 {
		t.Fatalf("stock page hits = %d, want 2 (no deduplication)", got)
	}
}

func TestFetchManyAuthFailureAbortsBatch(t *testing.T) {
	f, transport := newTestFetcher(t)
	// Verification always lands on the login form: credentials rejected.
	transport.RegisterResponder(http.MethodGet, shopBase+"/ktw/th/THB/my-account/update-profile",
		httpmock.NewStringResponder(http.StatusOK, loginPageHTML))

	result, err := f.FetchMany(context.Background(), []string{"S1", "S2"}, 2)
	if result != nil {
		t.Fatalf("expected nil result, got %+v", result)
	}
	var authErr ErrAuth
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
}

func TestClassifyFetchError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   models.FailureKind
	}{
		{name: "deadline", err: context.DeadlineExceeded, statusCode: 0, expected: models.FailureNetwork},
		{name: "dns timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: models.FailureNetwork},
		{name: "status 404", err: nil, statusCode: http.StatusNotFound, expected: models.FailureNotFound},
		{name: "status 500", err: nil, statusCode: http.StatusInternalServerError, expected: models.FailureNetwork},
		{name: "status 403", err: nil, statusCode: http.StatusForbidden, expected: models.FailureNetwork},
		{name: "sku not listed", err: parser.ErrProductNotFound, statusCode: 0, expected: models.FailureNotFound},
		{name: "markup changed", err: parser.ErrNoContainer, statusCode: 0, expected: models.FailureParse},
		{name: "login rejected", err: session.ErrLoginRejected, statusCode: 0, expected: models.FailureAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyFetchError(tt.err, tt.statusCode)
			if got := failureKind(classified); got != tt.expected {
				t.Fatalf("classifyFetchError(%v, %d) = %s, want %s", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}
