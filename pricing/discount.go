// Package pricing computes displayed sale prices from scraped base prices.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/nattapongw/ktw-product-api/models"
)

// Apply multiplies basePrice by the table ratio for brand and rounds to two
// decimal places, half away from zero. A nil or unknown brand uses the
// table's default ratio. Pure and deterministic: no I/O, no shared state.
func Apply(table *models.DiscountTable, brand *string, basePrice decimal.Decimal) decimal.Decimal {
	ratio := table.DefaultRatio()
	if brand != nil {
		ratio = table.Ratio(*brand)
	}
	return basePrice.Mul(ratio).Round(2)
}
