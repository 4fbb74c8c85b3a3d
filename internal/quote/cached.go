package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*Cached)(nil)

// Cached memoises quotes from another provider for a fixed TTL. Failed
// lookups are not cached.
type Cached struct {
	next Provider
	c    *ristretto.Cache[string, domain.Quote]
	ttl  time.Duration
}

// NewCached wraps next with a cache holding up to maxEntries quotes.
func NewCached(next Provider, maxEntries int64, ttl time.Duration) (*Cached, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, domain.Quote]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating quote cache: %w", err)
	}
	return &Cached{next: next, c: c, ttl: ttl}, nil
}

// Name returns the wrapped provider's name.
func (c *Cached) Name() string {
	return c.next.Name()
}

// Lookup serves from the cache when possible.
func (c *Cached) Lookup(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if q, ok := c.c.Get(symbol); ok {
		return &q, nil
	}
	q, err := c.next.Lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.c.SetWithTTL(symbol, *q, 1, c.ttl)
	return q, nil
}

// Wait blocks until pending cache writes are applied.
func (c *Cached) Wait() {
	c.c.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cached) Close() {
	c.c.Close()
}
