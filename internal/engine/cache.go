package engine

import (
	"sync"
	"time"

	"depotwatch-backend/internal/metrics"
)

// tenantCache holds one value per company for at most ttl.
// A ttl of zero disables caching: every Get misses.
type tenantCache[T any] struct {
	mutex   sync.RWMutex
	entries map[string]*cacheEntry[T]
	ttl     time.Duration
	now     func() time.Time
	name    string
}

type cacheEntry[T any] struct {
	value    T
	loadedAt time.Time
}

// newTenantCache reports its lookups under name in the tenant cache metrics
func newTenantCache[T any](name string, ttl time.Duration, now func() time.Time) *tenantCache[T] {
	return &tenantCache[T]{
		entries: make(map[string]*cacheEntry[T]),
		ttl:     ttl,
		now:     now,
		name:    name,
	}
}

func (c *tenantCache[T]) Get(companyID string) (T, bool) {
	c.mutex.RLock()
	entry, ok := c.entries[companyID]
	c.mutex.RUnlock()

	if ok && c.ttl > 0 && c.now().Sub(entry.loadedAt) < c.ttl {
		metrics.TenantCacheLookups.WithLabelValues(c.name, "hit").Inc()
		return entry.value, true
	}

	metrics.TenantCacheLookups.WithLabelValues(c.name, "miss").Inc()
	var zero T
	return zero, false
}

func (c *tenantCache[T]) Set(companyID string, value T) {
	if c.ttl <= 0 {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries[companyID] = &cacheEntry[T]{value: value, loadedAt: c.now()}
}

// Invalidate drops the company's entry so the next Get reloads from the store
func (c *tenantCache[T]) Invalidate(companyID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, companyID)
}
