package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rgoodall/quartermaster/internal/metrics"
)

// DefaultTTL is the retention applied when a store does not specify one.
const DefaultTTL = 24 * time.Hour

// Fill is the product of one external call, supplied by the miss function.
type Fill struct {
	Result  string
	Tokens  int64
	CostUSD float64
}

// Cache fronts a KV store with exact and near-duplicate lookup, lazy and
// periodic expiry, and single-flight collapse of concurrent identical
// misses.
type Cache struct {
	kv        KV
	sim       SimilarityFunc
	threshold float64
	ttl       time.Duration
	now       func() time.Time
	metrics   *metrics.Collector
	group     singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithSimilarity replaces the near-match scoring strategy.
func WithSimilarity(fn SimilarityFunc, threshold float64) Option {
	return func(c *Cache) {
		c.sim = fn
		c.threshold = threshold
	}
}

// WithTTL sets the default entry retention.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache over the given KV store.
func New(kv KV, opts ...Option) *Cache {
	c := &Cache{
		kv:        kv,
		sim:       JaccardSimilarity,
		threshold: DefaultSimilarityThreshold,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the stored entry for a request, if one is live. Near-match
// lookup runs only when allowNear is set and the request is deterministic
// (temperature zero). Hits record the original entry's tokens and cost as
// savings; expired and corrupt entries are evicted and reported as misses.
func (c *Cache) Lookup(req Request, allowNear bool) (*Entry, bool) {
	now := c.now()
	key := req.Key()

	e, ok, err := c.kv.Get(key)
	if err != nil {
		// Corrupt entry: evict and fall through to a miss. Never fatal.
		log.Printf("[cache] evicting unreadable entry %s: %v", key[:12], err)
		if delErr := c.kv.Delete(key); delErr != nil {
			log.Printf("[cache] warning: failed to evict %s: %v", key[:12], delErr)
		}
	} else if ok {
		if e.Live(now) {
			c.metrics.RecordCacheHit(false, e.Tokens, e.CostUSD)
			return &e, true
		}
		// Lazy eviction on access.
		if delErr := c.kv.Delete(key); delErr != nil {
			log.Printf("[cache] warning: failed to evict expired %s: %v", key[:12], delErr)
		}
	}

	if allowNear && req.Deterministic() {
		if near := c.nearest(req, now); near != nil {
			c.metrics.RecordCacheHit(true, near.Tokens, near.CostUSD)
			return near, true
		}
	}

	c.metrics.RecordCacheMiss()
	return nil, false
}

// nearest scans live entries for the request's model and returns the
// best-scoring one at or above the similarity threshold.
func (c *Cache) nearest(req Request, now time.Time) *Entry {
	candidates, err := c.kv.ScanLive(req.Model, now)
	if err != nil {
		log.Printf("[cache] warning: near-match scan failed: %v", err)
		return nil
	}

	text := req.Normalized()
	var best *Entry
	bestScore := 0.0
	for i := range candidates {
		cand := &candidates[i]
		// Near matches are only meaningful between deterministic requests.
		if cand.Temperature != 0 {
			continue
		}
		score := c.sim(text, cand.RequestText)
		if score >= c.threshold && score > bestScore {
			best = cand
			bestScore = score
		}
	}
	return best
}

// Store writes an entry for the request, replacing any previous entry for
// the same key. A non-positive ttl uses the cache default.
func (c *Cache) Store(req Request, fill Fill, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	e := Entry{
		Key:         req.Key(),
		RequestText: req.Normalized(),
		Model:       req.Model,
		Temperature: req.Temperature,
		Result:      fill.Result,
		Tokens:      fill.Tokens,
		CostUSD:     fill.CostUSD,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := c.kv.Put(e); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Do returns the cached entry for the request or, on a miss, invokes fn
// exactly once across concurrent identical callers and stores its product.
// hit reports whether the entry came from the cache without calling fn for
// this caller.
func (c *Cache) Do(req Request, allowNear bool, ttl time.Duration, fn func() (Fill, error)) (*Entry, bool, error) {
	if e, ok := c.Lookup(req, allowNear); ok {
		return e, true, nil
	}

	key := req.Key()
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// A concurrent flight may have stored the entry between our
		// lookup and joining the flight.
		if e, ok, getErr := c.kv.Get(key); getErr == nil && ok && e.Live(c.now()) {
			return &e, nil
		}

		fill, fnErr := fn()
		if fnErr != nil {
			return nil, fnErr
		}
		if storeErr := c.Store(req, fill, ttl); storeErr != nil {
			log.Printf("[cache] warning: %v", storeErr)
		}
		e, ok, getErr := c.kv.Get(key)
		if getErr != nil || !ok {
			// Storage refused the entry; synthesize it so callers still
			// receive the result.
			now := c.now()
			e = Entry{
				Key:         key,
				RequestText: req.Normalized(),
				Model:       req.Model,
				Temperature: req.Temperature,
				Result:      fill.Result,
				Tokens:      fill.Tokens,
				CostUSD:     fill.CostUSD,
				CreatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			}
		}
		return &e, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Entry), shared, nil
}

// Sweep removes every expired entry now.
func (c *Cache) Sweep() int {
	n, err := c.kv.SweepExpired(c.now())
	if err != nil {
		log.Printf("[cache] warning: sweep failed: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("[cache] swept %d expired entries", n)
	}
	return n
}

// StartSweeper runs periodic sweeps until the context is cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}
