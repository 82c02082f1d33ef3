package indicator

import (
	"sync"
	"time"

	"symphonybacktest/internal/domain"
)

type cacheKey struct {
	Ticker string
	Name   domain.Indicator
	Window int
	Date   time.Time
}

// Cache memoizes indicator values across evaluations of the same date batch.
// Entries are immutable once computed, so concurrent readers and inserters
// need no coordination beyond the lock.
type Cache struct {
	mu     sync.RWMutex
	values map[cacheKey]float64
}

func NewCache() *Cache {
	return &Cache{values: map[cacheKey]float64{}}
}

func (c *Cache) get(key cacheKey) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *Cache) put(key cacheKey, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

type cachedEngine struct {
	inner Engine
	cache *Cache
}

// NewCachedEngine wraps an engine with a shared cache keyed by
// (ticker, indicator, window, as-of date). Only successful computations are
// cached; failures always re-run.
func NewCachedEngine(inner Engine, cache *Cache) Engine {
	return cachedEngine{inner: inner, cache: cache}
}

func (e cachedEngine) Compute(spec domain.IndicatorSpec, ticker string, series domain.Series) (float64, error) {
	if len(series) == 0 {
		return e.inner.Compute(spec, ticker, series)
	}
	key := cacheKey{
		Ticker: ticker,
		Name:   spec.Name,
		Window: spec.Window,
		Date:   series[len(series)-1].Date,
	}
	if v, ok := e.cache.get(key); ok {
		return v, nil
	}
	v, err := e.inner.Compute(spec, ticker, series)
	if err != nil {
		return 0, err
	}
	e.cache.put(key, v)
	return v, nil
}
