// Package models defines data structures shared across the product pipeline.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FailureKind classifies why a single SKU could not be fetched.
type FailureKind string

const (
	FailureAuth     FailureKind = "auth_error"
	FailureNetwork  FailureKind = "network_error"
	FailureNotFound FailureKind = "not_found"
	FailureParse    FailureKind = "parse_error"
)

// ProductRecord is the merged view of one SKU across the stock and catalog
// sources. Optional fields are nil when the markup did not carry them.
// StockStatus is 1 iff the SKU is known to be in stock.
type ProductRecord struct {
	SKU           string           `json:"sku"`
	Brand         *string          `json:"brand"`
	StockQuantity *int             `json:"stock_quantity"`
	StockStatus   int              `json:"stock_status"`
	SalePrice     *decimal.Decimal `json:"sale_price"`
	RegularPrice  string           `json:"regular_price"`
	FetchedAt     time.Time        `json:"fetched_at"`
}

// FetchFailure reports one SKU that could not be fetched. It never aborts
// sibling fetches in a batch.
type FetchFailure struct {
	SKU    string      `json:"sku"`
	Reason FailureKind `json:"reason"`
	Detail string      `json:"detail"`
}

// BatchItem holds exactly one of a record or a failure for one input SKU.
type BatchItem struct {
	Record  *ProductRecord `json:"product,omitempty"`
	Failure *FetchFailure  `json:"error,omitempty"`
}

// OK reports whether the item carries a successful record.
func (it BatchItem) OK() bool {
	return it.Record != nil
}

// BatchResult is the outcome of a batch run. Items is aligned index-for-index
// with the requested SKU sequence.
type BatchResult struct {
	Items   []BatchItem
	Elapsed time.Duration
}

// SuccessCount returns the number of items that produced a record.
func (r *BatchResult) SuccessCount() int {
	n := 0
	for _, it := range r.Items {
		if it.OK() {
			n++
		}
	}
	return n
}
