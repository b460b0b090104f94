package server

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nattapongw/ktw-product-api/models"
)

// ResultCache keeps recently fetched records so repeated lookups for hot SKUs
// skip the remote round trips. Entries expire after the configured TTL; a nil
// cache (TTL or size of zero) disables caching entirely.
type ResultCache struct {
	records *expirable.LRU[string, *models.ProductRecord]
}

// NewResultCache builds a TTL-bounded LRU, or returns nil when disabled.
func NewResultCache(size int, ttl time.Duration) *ResultCache {
	if size <= 0 || ttl <= 0 {
		return nil
	}
	return &ResultCache{
		records: expirable.NewLRU[string, *models.ProductRecord](size, nil, ttl),
	}
}

// Get returns the cached record for sku, if fresh.
func (c *ResultCache) Get(sku string) (*models.ProductRecord, bool) {
	if c == nil {
		return nil, false
	}
	return c.records.Get(sku)
}

// Add stores a successful record. Failures are never cached: a transient
// error must not mask a later successful fetch.
func (c *ResultCache) Add(record *models.ProductRecord) {
	if c == nil || record == nil {
		return
	}
	c.records.Add(record.SKU, record)
}

// Len reports the number of live entries.
func (c *ResultCache) Len() int {
	if c == nil {
		return 0
	}
	return c.records.Len()
}
