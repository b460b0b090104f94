// Package parser extracts product fields from the two catalog-site page
// formats. All functions are pure: they read markup and return typed fields,
// tolerating absent elements. The markup structure is an external contract
// that can change without notice, so a hard error is reserved for pages with
// no recognizable product content at all.
package parser

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

var (
	// ErrProductNotFound marks a catalog page that renders results but has
	// no entry for the requested SKU.
	ErrProductNotFound = errors.New("parser: product not found")

	// ErrNoContainer marks a page with no recognizable product markup at
	// all. It usually means the site's markup contract changed.
	ErrNoContainer = errors.New("parser: no product container in page")
)

// stockColumnHeader is the Thai column label for on-hand quantity in the
// warehouse stock table.
const stockColumnHeader = "ในสต๊อก"

// StockInfo is the result of parsing a stock-source product page.
// Quantity is nil when the page carries no stock table.
type StockInfo struct {
	Quantity *int
	InStock  bool
}

// CatalogInfo is the result of parsing a catalog-source search page for one
// SKU. String fields are empty when the grid item lacks them; BasePrice is
// valid only when HasPrice is true.
type CatalogInfo struct {
	Brand        string
	RegularPrice string
	SalePriceRaw string
	BasePrice    decimal.Decimal
	HasPrice     bool
	InStock      *bool
}

// ParseStockPage sums the stock column of the warehouse table. The column is
// located by the Thai header text, defaulting to the second column. A page
// without the table yields a nil Quantity rather than an error; callers fall
// back to the catalog page's availability signal in that case.
func ParseStockPage(r io.Reader) (*StockInfo, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse stock page: %w", err)
	}

	table := doc.Find("div.table-responsive.stock-striped table").First()
	if table.Length() == 0 {
		return &StockInfo{}, nil
	}

	stockIndex := 1
	table.Find("th").EachWithBreak(func(i int, th *goquery.Selection) bool {
		if strings.Contains(strings.TrimSpace(th.Text()), stockColumnHeader) {
			stockIndex = i
			return false
		}
		return true
	})

	total := 0
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() <= stockIndex {
			return
		}
		text := strings.TrimSpace(cells.Eq(stockIndex).Text())
		if text == "" {
			return
		}
		// Cells read like "คลัง A 12"; the quantity is the last field.
		fields := strings.Fields(text)
		n, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			return
		}
		total += n
	})

	return &StockInfo{
		Quantity: &total,
		InStock:  total > 0,
	}, nil
}

// ParseCatalogPage locates the grid item whose SKU label contains sku and
// extracts brand and pricing from it. It returns ErrProductNotFound when the
// results grid has no entry for the SKU and ErrNoContainer when the page has
// no results markup at all.
func ParseCatalogPage(r io.Reader, sku string) (*CatalogInfo, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse catalog page: %w", err)
	}

	items := doc.Find(".grid-item")
	if items.Length() == 0 {
		if doc.Find(".product-grid, .search-results").Length() == 0 {
			return nil, ErrNoContainer
		}
		return nil, ErrProductNotFound
	}

	var info *CatalogInfo
	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		label := strings.TrimSpace(item.Find(".grid-item__sku").Text())
		if label == "" || !strings.Contains(label, sku) {
			return true
		}
		info = extractGridItem(item)
		return false
	})
	if info == nil {
		return nil, ErrProductNotFound
	}
	return info, nil
}

func extractGridItem(item *goquery.Selection) *CatalogInfo {
	info := &CatalogInfo{
		Brand:        strings.TrimSpace(item.Find(".grid-item__brand").Text()),
		RegularPrice: strings.TrimSpace(item.Find(".grid-item__wasprice").Text()),
		SalePriceRaw: strings.TrimSpace(item.Find(".grid-item__saleprice").Text()),
	}

	if info.SalePriceRaw != "" {
		if price, err := ParsePrice(info.SalePriceRaw); err == nil {
			info.BasePrice = price
			info.HasPrice = true
		}
	}

	if badge := item.Find(".grid-item__stock"); badge.Length() > 0 {
		text := strings.ToLower(strings.TrimSpace(badge.Text()))
		inStock := strings.Contains(text, "in stock") || strings.Contains(text, "มีสินค้า")
		info.InStock = &inStock
	}

	return info
}

// ParsePrice extracts the numeric magnitude of a shop price string such as
// "฿1,234.50" or "THB 990". The original formatted string is kept by callers;
// this only strips the currency glyph, thousands separators, and whitespace.
func ParsePrice(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(
		"฿", "",
		"THB", "",
		",", "",
		" ", " ",
	).Replace(s)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("empty price string %q", s)
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", s, err)
	}
	return price, nil
}
