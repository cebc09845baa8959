// Package market caches market attributes looked up from the exchange.
//
// Attributes are assumed immutable, so an entry fetched once is kept for the
// process lifetime. Misses are fetched in batches of at most
// api.MaxMarketsPerRequest hashes, with batches running concurrently.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/sx-copybot/internal/api"
	"github.com/rickgao/sx-copybot/internal/model"
)

// ErrNotFound is returned when the exchange does not know a market.
var ErrNotFound = errors.New("market not found")

// Fetcher looks markets up by hash. *api.Client implements it.
type Fetcher interface {
	GetMarkets(ctx context.Context, hashes []string) ([]api.APIMarket, error)
}

// Config holds market cache configuration.
type Config struct {
	BatchSize   int           // Hashes per request, capped at api.MaxMarketsPerRequest
	Concurrency int           // Batches in flight at once
	Timeout     time.Duration // Per-lookup deadline
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   api.MaxMarketsPerRequest,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Stats provides statistics about the cache.
type Stats struct {
	Size    int
	Hits    int64
	Misses  int64
	Fetches int64 // Requests sent to the exchange
}

// Cache memoizes market attributes by hash.
type Cache struct {
	cfg     Config
	fetcher Fetcher
	logger  *slog.Logger

	mu      sync.RWMutex
	markets map[string]model.Market

	group singleflight.Group

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
}

// NewCache creates a new market cache.
func NewCache(cfg Config, fetcher Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > api.MaxMarketsPerRequest {
		cfg.BatchSize = api.MaxMarketsPerRequest
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		markets: make(map[string]model.Market),
	}
}

// Get returns the market for hash, fetching it on a miss. Concurrent misses
// for the same hash share one request.
func (c *Cache) Get(ctx context.Context, hash string) (model.Market, error) {
	if m, ok := c.lookup(hash); ok {
		c.hits.Add(1)
		return m, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(hash, func() (any, error) {
		if m, ok := c.lookup(hash); ok {
			return m, nil
		}
		found, err := c.fetch(ctx, []string{hash})
		if err != nil {
			return nil, err
		}
		m, ok := found[hash]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return m, nil
	})
	if err != nil {
		return model.Market{}, err
	}
	return v.(model.Market), nil
}

// Resolve returns every known market among hashes. Hashes the exchange does
// not know are absent from the result. The error is non-nil if any batch
// failed; markets from successful batches are still returned.
func (c *Cache) Resolve(ctx context.Context, hashes []string) (map[string]model.Market, error) {
	out := make(map[string]model.Market, len(hashes))
	var missing []string
	seen := make(map[string]bool, len(hashes))

	c.mu.RLock()
	for _, h := range hashes {
		if seen[h] {
			continue
		}
		seen[h] = true
		if m, ok := c.markets[h]; ok {
			out[h] = m
		} else {
			missing = append(missing, h)
		}
	}
	c.mu.RUnlock()

	c.hits.Add(int64(len(out)))
	if len(missing) == 0 {
		return out, nil
	}
	c.misses.Add(int64(len(missing)))

	found, err := c.fetch(ctx, missing)
	for h, m := range found {
		out[h] = m
	}
	return out, err
}

// Put stores a market, replacing any cached entry.
func (c *Cache) Put(m model.Market) {
	c.mu.Lock()
	c.markets[m.Hash] = m
	c.mu.Unlock()
}

// Len returns the number of cached markets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}

// Stats returns current statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:    c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
	}
}

func (c *Cache) lookup(hash string) (model.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[hash]
	return m, ok
}

// fetch requests hashes in batches and memoizes what comes back.
func (c *Cache) fetch(ctx context.Context, hashes []string) (map[string]model.Market, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		found = make(map[string]model.Market, len(hashes))
	)

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)

	for start := 0; start < len(hashes); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(hashes))
		batch := hashes[start:end]

		g.Go(func() error {
			c.fetches.Add(1)
			markets, err := c.fetcher.GetMarkets(ctx, batch)
			if err != nil {
				c.logger.Warn("market lookup failed", "batch_size", len(batch), "error", err)
				return err
			}

			converted := make([]model.Market, len(markets))
			for i, am := range markets {
				converted[i] = am.ToModel()
			}

			c.mu.Lock()
			for _, m := range converted {
				c.markets[m.Hash] = m
			}
			c.mu.Unlock()

			mu.Lock()
			for _, m := range converted {
				found[m.Hash] = m
			}
			mu.Unlock()
			return nil
		})
	}

	// Batches are independent; a failed one does not discard the others.
	err := g.Wait()
	return found, err
}
