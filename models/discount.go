package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountTable maps lowercased brand names to price ratios in (0,1], with a
// default ratio for unlisted brands. Immutable after construction.
type DiscountTable struct {
	brandRatio   map[string]decimal.Decimal
	defaultRatio decimal.Decimal
}

// NewDiscountTable validates the ratios and lowercases the brand keys.
func NewDiscountTable(brandRatio map[string]decimal.Decimal, defaultRatio decimal.Decimal) (*DiscountTable, error) {
	if err := validateRatio("default_ratio", defaultRatio); err != nil {
		return nil, err
	}

	normalized := make(map[string]decimal.Decimal, len(brandRatio))
	for brand, ratio := range brandRatio {
		key := strings.ToLower(strings.TrimSpace(brand))
		if key == "" {
			return nil, fmt.Errorf("brand ratio key cannot be empty")
		}
		if err := validateRatio(fmt.Sprintf("ratio for brand %q", brand), ratio); err != nil {
			return nil, err
		}
		normalized[key] = ratio
	}

	return &DiscountTable{
		brandRatio:   normalized,
		defaultRatio: defaultRatio,
	}, nil
}

// Ratio returns the ratio for brand, case-insensitively, falling back to the
// default ratio for unknown or empty brands.
func (t *DiscountTable) Ratio(brand string) decimal.Decimal {
	key := strings.ToLower(strings.TrimSpace(brand))
	if key == "" {
		return t.defaultRatio
	}
	if ratio, ok := t.brandRatio[key]; ok {
		return ratio
	}
	return t.defaultRatio
}

// DefaultRatio exposes the fallback ratio.
func (t *DiscountTable) DefaultRatio() decimal.Decimal {
	return t.defaultRatio
}

// Len returns the number of brand-specific entries.
func (t *DiscountTable) Len() int {
	return len(t.brandRatio)
}

func validateRatio(label string, ratio decimal.Decimal) error {
	if ratio.LessThanOrEqual(decimal.Zero) || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in (0,1], got %s", label, ratio)
	}
	return nil
}
