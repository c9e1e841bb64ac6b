// Package embedcache maps content fingerprints to embedding vectors and makes
// sure each distinct content is embedded at most once.
package embedcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bireport/internal/core"
	"bireport/internal/logger"
	"bireport/internal/metrics"
	"bireport/internal/retry"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// PersistentStore is the optional write-through layer behind the memory map.
type PersistentStore interface {
	GetEmbedding(ctx context.Context, fingerprint, model string) ([]float64, bool, error)
	PutEmbedding(ctx context.Context, fingerprint, model string, vec []float64) error
	ClearEmbeddings(ctx context.Context) error
	CountEmbeddings(ctx context.Context) (int, error)
}

const statsTimeout = 2 * time.Second

// Options configures a Cache.
type Options struct {
	Store       PersistentStore  // nil keeps the cache in memory only
	Retry       retry.Policy     // Applied to every embedding call
	CallTimeout time.Duration    // Bound for a single embedding call, 0 for none
	Metrics     *metrics.Metrics // Optional
}

// Embedding is a resolved vector and where it came from.
type Embedding struct {
	Fingerprint string
	Vector      []float64
	Cached      bool // True when no external call was made
}

// Cache is safe for concurrent use.
type Cache struct {
	embedder core.Embedder
	opts     Options
	log      zerolog.Logger

	mu          sync.RWMutex
	entries     map[string][]float64
	generation  uint64
	lastCleared time.Time

	group singleflight.Group

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
}

// New creates a cache in front of embedder.
func New(embedder core.Embedder, opts Options) *Cache {
	return &Cache{
		embedder: embedder,
		opts:     opts,
		log:      logger.Component("embedcache"),
		entries:  make(map[string][]float64),
	}
}

// GetOrCompute returns the embedding for text, computing it on a miss.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float64, error) {
	e, err := c.Resolve(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.Vector, nil
}

// Resolve is GetOrCompute that also reports whether the vector was cached.
// Concurrent callers with the same fingerprint share one computation.
func (c *Cache) Resolve(ctx context.Context, text string) (Embedding, error) {
	fp := Fingerprint(text)

	if vec, ok := c.lookup(fp); ok {
		c.hits.Add(1)
		c.opts.Metrics.CacheHit()
		return Embedding{Fingerprint: fp, Vector: vec, Cached: true}, nil
	}

	leader := false
	v, err, _ := c.group.Do(fp, func() (any, error) {
		leader = true
		return c.fill(ctx, fp, text)
	})
	if err != nil {
		return Embedding{Fingerprint: fp}, err
	}

	e := v.(Embedding)
	if !leader {
		// Waiters on an in-flight computation made no call of their own
		e.Cached = true
	}
	if e.Cached {
		c.hits.Add(1)
		c.opts.Metrics.CacheHit()
	} else {
		c.misses.Add(1)
		c.opts.Metrics.CacheMiss()
	}
	e.Vector = clone(e.Vector)
	return e, nil
}

func (c *Cache) fill(ctx context.Context, fp, text string) (Embedding, error) {
	// Another caller may have filled the entry between lookup and Do
	if vec, ok := c.lookup(fp); ok {
		return Embedding{Fingerprint: fp, Vector: vec, Cached: true}, nil
	}

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	model := c.embedder.Model()
	if c.opts.Store != nil {
		vec, found, err := c.opts.Store.GetEmbedding(ctx, fp, model)
		if err != nil {
			c.log.Warn().Err(err).Str("fingerprint", fp[:12]).Msg("persistent lookup failed")
		} else if found {
			c.store(gen, fp, vec)
			return Embedding{Fingerprint: fp, Vector: vec, Cached: true}, nil
		}
	}

	policy := c.opts.Retry
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		c.opts.Metrics.Retry("embed")
		c.log.Debug().Err(err).Int("attempt", attempt).Str("fingerprint", fp[:12]).Msg("retrying embedding")
		if userHook != nil {
			userHook(attempt, err)
		}
	}

	vec, err := retry.DoValue(ctx, policy, core.IsTransient, func(ctx context.Context) ([]float64, error) {
		callCtx, cancel := c.callContext(ctx)
		defer cancel()
		c.computations.Add(1)
		v, err := c.embedder.Embed(callCtx, text)
		c.opts.Metrics.ServiceCall("embed", err)
		return v, err
	})
	if err != nil {
		return Embedding{}, fmt.Errorf("%w: %w", core.ErrEmbedding, err)
	}
	if len(vec) == 0 {
		return Embedding{}, fmt.Errorf("%w: service returned an empty vector", core.ErrEmbedding)
	}

	if c.store(gen, fp, vec) && c.opts.Store != nil {
		if err := c.opts.Store.PutEmbedding(ctx, fp, model, vec); err != nil {
			c.log.Warn().Err(err).Str("fingerprint", fp[:12]).Msg("persistent write failed")
		}
	}
	return Embedding{Fingerprint: fp, Vector: vec}, nil
}

func (c *Cache) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Cache) lookup(fp string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	return clone(vec), true
}

// store keeps vec unless the cache was cleared after the computation began.
func (c *Cache) store(gen uint64, fp string, vec []float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.entries[fp] = clone(vec)
	c.opts.Metrics.CacheEntries(len(c.entries))
	return true
}

// Clear drops every entry from memory and from the persistent store.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string][]float64)
	c.generation++
	c.lastCleared = time.Now().UTC()
	c.mu.Unlock()
	c.opts.Metrics.CacheEntries(0)

	c.log.Info().Int("entries", n).Msg("embedding cache cleared")
	if c.opts.Store != nil {
		if err := c.opts.Store.ClearEmbeddings(ctx); err != nil {
			return fmt.Errorf("clearing persistent embeddings: %w", err)
		}
	}
	return nil
}

// Stats returns a snapshot of cache counters. Persisted is filled from the
// persistent store when one is configured.
func (c *Cache) Stats() core.CacheStats {
	c.mu.RLock()
	stats := core.CacheStats{
		Entries:      len(c.entries),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		LastCleared:  c.lastCleared,
	}
	c.mu.RUnlock()

	if c.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		defer cancel()
		n, err := c.opts.Store.CountEmbeddings(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("counting persisted embeddings failed")
		} else {
			stats.Persisted = n
		}
	}
	return stats
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
