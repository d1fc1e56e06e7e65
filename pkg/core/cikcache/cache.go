// Package cikcache resolves ticker symbols to SEC company identifiers.
//
// Cache is a read-through cache over the SEC ticker list. Lookups take a read lock;
// a refill replaces the whole map at once and is single-flight, so any number of
// concurrent misses share one upstream call. When the upstream is unavailable the
// cache serves, in order, its own stale map, the shared Redis copy and the on-disk
// copy before giving up.
package cikcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"edgar_reconciler/pkg/models"
)

const (
	DefaultTTL             = 24 * time.Hour
	DefaultAttempts        = 3
	DefaultFailureCooldown = 5 * time.Minute
)

// RetryDelay is the pause between refresh attempts. Tests set it to zero.
var RetryDelay = time.Second

// TickerSource fetches the full TICKER -> padded CIK map.
// Implemented by edgar.Client.
type TickerSource interface {
	FetchTickerMap(ctx context.Context) (map[string]string, error)
}

// Backend is a secondary copy of the ticker map that outlives the process.
type Backend interface {
	Name() string
	Load(ctx context.Context) (map[string]string, error)
	Store(ctx context.Context, tickers map[string]string) error
}

// Cache is safe for concurrent use.
type Cache struct {
	source   TickerSource
	backends []Backend

	mu      sync.RWMutex
	tickers map[string]string
	expires time.Time

	group    singleflight.Group
	ttl      time.Duration
	cooldown time.Duration
	attempts int
	now      func() time.Time
	logger   zerolog.Logger
	observe  func(result string)
}

// Option configures a Cache.
type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithAttempts(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithBackends adds fallback copies, consulted in the given order.
func WithBackends(backends ...Backend) Option {
	return func(c *Cache) { c.backends = append(c.backends, backends...) }
}

// WithFailureCooldown is how long a fallback map is served before the upstream is tried again.
func WithFailureCooldown(d time.Duration) Option {
	return func(c *Cache) { c.cooldown = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l.With().Str("component", "cikcache").Logger() }
}

// WithObserver receives "hit", "refresh", "fallback" or "miss" for every Resolve.
func WithObserver(fn func(result string)) Option {
	return func(c *Cache) { c.observe = fn }
}

func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache; the first Resolve fills it.
func New(source TickerSource, opts ...Option) *Cache {
	c := &Cache{
		source:   source,
		ttl:      DefaultTTL,
		cooldown: DefaultFailureCooldown,
		attempts: DefaultAttempts,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the 10-digit CIK for ticker.
// An unknown ticker wraps models.ErrFilingNotFound; an unreachable upstream with no
// fallback copy wraps models.ErrUpstreamUnavailable.
func (c *Cache) Resolve(ctx context.Context, ticker string) (string, error) {
	symbol := normalizeTicker(ticker)
	if symbol == "" {
		return "", fmt.Errorf("%w: empty ticker", models.ErrInvalidRequest)
	}

	c.mu.RLock()
	tickers, fresh := c.tickers, c.now().Before(c.expires)
	c.mu.RUnlock()

	if fresh {
		if cik, ok := tickers[symbol]; ok {
			c.record("hit")
			return cik, nil
		}
		c.record("miss")
		return "", fmt.Errorf("%w: ticker %s not in SEC ticker list", models.ErrFilingNotFound, symbol)
	}

	tickers, err := c.fill(ctx)
	if err != nil {
		c.record("miss")
		return "", err
	}
	if cik, ok := tickers[symbol]; ok {
		return cik, nil
	}
	c.record("miss")
	return "", fmt.Errorf("%w: ticker %s not in SEC ticker list", models.ErrFilingNotFound, symbol)
}

// Refresh forces an upstream reload regardless of TTL.
func (c *Cache) Refresh(ctx context.Context) (int, error) {
	tickers, err := c.fetch(ctx)
	if err != nil {
		return 0, err
	}
	c.install(ctx, tickers)
	return len(tickers), nil
}

// Len is the number of tickers currently held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tickers)
}

func (c *Cache) fill(ctx context.Context) (map[string]string, error) {
	v, err, _ := c.group.Do("tickers", func() (interface{}, error) {
		tickers, fetchErr := c.fetch(ctx)
		if fetchErr == nil {
			c.install(ctx, tickers)
			c.record("refresh")
			return tickers, nil
		}

		c.mu.RLock()
		stale := c.tickers
		c.mu.RUnlock()
		if len(stale) > 0 {
			c.logger.Warn().Err(fetchErr).Int("tickers", len(stale)).Msg("ticker refresh failed, serving stale map")
			c.extend()
			c.record("fallback")
			return stale, nil
		}

		for _, b := range c.backends {
			tickers, err := b.Load(ctx)
			if err != nil || len(tickers) == 0 {
				c.logger.Debug().Err(err).Str("backend", b.Name()).Msg("fallback copy unavailable")
				continue
			}
			c.logger.Warn().Err(fetchErr).Str("backend", b.Name()).Int("tickers", len(tickers)).Msg("ticker refresh failed, serving fallback copy")
			c.mu.Lock()
			c.tickers = tickers
			c.expires = c.now().Add(c.cooldown)
			c.mu.Unlock()
			c.record("fallback")
			return tickers, nil
		}

		return nil, fmt.Errorf("%w: ticker list: %v", models.ErrUpstreamUnavailable, fetchErr)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

func (c *Cache) fetch(ctx context.Context) (map[string]string, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 && RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(RetryDelay):
			}
		}
		tickers, err := c.source.FetchTickerMap(ctx)
		if err == nil && len(tickers) > 0 {
			return tickers, nil
		}
		if err == nil {
			err = fmt.Errorf("empty ticker list")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.logger.Debug().Err(err).Int("attempt", attempt+1).Msg("ticker list fetch failed")
	}
	return nil, lastErr
}

// install swaps in a fresh map and writes it through to every backend.
func (c *Cache) install(ctx context.Context, tickers map[string]string) {
	c.mu.Lock()
	c.tickers = tickers
	c.expires = c.now().Add(c.ttl)
	c.mu.Unlock()

	for _, b := range c.backends {
		if err := b.Store(ctx, tickers); err != nil {
			c.logger.Warn().Err(err).Str("backend", b.Name()).Msg("failed to persist ticker map")
		}
	}
}

func (c *Cache) extend() {
	c.mu.Lock()
	c.expires = c.now().Add(c.cooldown)
	c.mu.Unlock()
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

func (c *Cache) record(result string) {
	if c.observe != nil {
		c.observe(result)
	}
}
