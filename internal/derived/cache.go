package derived

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"vellum/internal/logging"
	"vellum/internal/services"
)

// Kind names a derived computation.
type Kind string

const (
	// KindTypeTable is the union of declared resource kinds mapped to their URLs.
	KindTypeTable Kind = "type_table"
	// KindNameIndex is the sorted distinct-URL index.
	KindNameIndex Kind = "name_index"
)

// ComputeFunc produces a derived value. It must be a pure function of the
// registry snapshot current when it is invoked.
type ComputeFunc func(context.Context) (any, error)

// GenerationSource exposes the registry generation counter used to validate
// cache freshness.
type GenerationSource interface {
	Generation() uint64
}

// Options configures cache retention.
type Options struct {
	// ContextCapacity bounds how many processing contexts keep live caches.
	ContextCapacity int
	// ContextTTL releases a context's cache after this idle time.
	ContextTTL time.Duration
}

type entry struct {
	value      any
	generation uint64
}

type contextCache struct {
	mu      sync.RWMutex
	entries map[Kind]entry
}

// Cache memoizes derived computations per (context, kind), validated against
// the registry generation. Safe for concurrent use.
type Cache struct {
	logger *slog.Logger
	source GenerationSource

	flights  singleflight.Group
	contexts *expirable.LRU[uuid.UUID, *contextCache]

	hits   atomic.Uint64
	misses atomic.Uint64
	shares atomic.Uint64
}

// New constructs a cache bound to the given generation source.
func New(source GenerationSource, opts Options, logger *slog.Logger) *Cache {
	if opts.ContextCapacity <= 0 {
		opts.ContextCapacity = 64
	}
	if opts.ContextTTL <= 0 {
		opts.ContextTTL = 15 * time.Minute
	}
	return &Cache{
		logger:   logging.NewComponentLogger(logger, "derived"),
		source:   source,
		contexts: expirable.NewLRU[uuid.UUID, *contextCache](opts.ContextCapacity, nil, opts.ContextTTL),
	}
}

// GetOrCompute returns the memoized value for (ctxID, kind) when its stored
// generation stamp matches the registry's current generation. Otherwise it
// invokes fn exactly once, even under concurrent callers for the same key,
// stores the result with the observed generation, and returns it. A failed
// computation is propagated to every waiter of that flight and never cached.
func (c *Cache) GetOrCompute(ctx context.Context, ctxID uuid.UUID, kind Kind, fn ComputeFunc) (any, error) {
	generation := c.source.Generation()
	cc := c.contextFor(ctxID)

	cc.mu.RLock()
	if e, ok := cc.entries[kind]; ok && e.generation == generation {
		cc.mu.RUnlock()
		c.hits.Add(1)
		return e.value, nil
	}
	cc.mu.RUnlock()
	c.misses.Add(1)

	flightKey := fmt.Sprintf("%s|%s|%d", ctxID, kind, generation)
	value, err, shared := c.flights.Do(flightKey, func() (any, error) {
		// A previous flight for this key may have already stored the value.
		cc.mu.RLock()
		if e, ok := cc.entries[kind]; ok && e.generation == generation {
			cc.mu.RUnlock()
			return e.value, nil
		}
		cc.mu.RUnlock()

		started := time.Now()
		value, err := fn(ctx)
		if err != nil {
			return nil, services.Wrap(services.ErrComputation, "derived", string(kind), "", err)
		}

		cc.mu.Lock()
		cc.entries[kind] = entry{value: value, generation: generation}
		cc.mu.Unlock()

		c.logger.Debug("computed derived value",
			logging.String("kind", string(kind)),
			logging.String(logging.FieldRunID, ctxID.String()),
			logging.Uint64(logging.FieldGeneration, generation),
			logging.Duration("elapsed", time.Since(started)))
		return value, nil
	})
	if shared {
		c.shares.Add(1)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Release drops the cached values for a processing context. Call it at
// context teardown; contexts that skip it are still reclaimed by TTL or
// capacity eviction.
func (c *Cache) Release(ctxID uuid.UUID) {
	c.contexts.Remove(ctxID)
}

// Stats summarizes cache effectiveness for diagnostics.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Shares   uint64
	Contexts int
}

// Snapshot returns current cache statistics.
func (c *Cache) Snapshot() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Shares:   c.shares.Load(),
		Contexts: c.contexts.Len(),
	}
}

func (c *Cache) contextFor(ctxID uuid.UUID) *contextCache {
	if cc, ok := c.contexts.Get(ctxID); ok {
		return cc
	}
	cc := &contextCache{entries: make(map[Kind]entry)}
	// Two goroutines may race constructing the same context cache; the LRU
	// add is last-write-wins, so re-read after adding.
	c.contexts.Add(ctxID, cc)
	if existing, ok := c.contexts.Get(ctxID); ok {
		return existing
	}
	return cc
}
