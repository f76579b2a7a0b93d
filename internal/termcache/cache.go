package termcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"vellum/internal/fileutil"
	"vellum/internal/logging"
	"vellum/internal/services"
)

// Options controls flush cadence and failure tolerance.
type Options struct {
	// FlushInterval is the background flush cadence. Zero means the default
	// of five seconds.
	FlushInterval time.Duration
	// RetryBudget is the number of consecutive flush failures tolerated
	// before the cache reports a fatal persistence error. Zero means the
	// default of twelve.
	RetryBudget int
}

// persistedEntry is the on-disk form of one cache entry. Value is opaque
// bytes (base64 in the snapshot), so callers may Put any payload, not just
// JSON.
type persistedEntry struct {
	Key      string    `json:"key"`
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

type entry struct {
	value    []byte
	dirty    bool
	version  uint64
	storedAt time.Time
}

// Cache is a thread-safe write-behind key-value cache. If path is empty the
// cache is memory-only and flushes are no-ops.
type Cache struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
	opts   Options

	mu       sync.RWMutex
	entries  map[string]entry
	nextVer  uint64
	removals int // deletions not yet covered by a successful flush

	flushMu  sync.Mutex
	failures int
	fatal    error

	flushes     uint64
	flushErrors uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open creates a cache backed by the snapshot at path. A missing snapshot is
// a fresh start; an unreadable or corrupt one logs a warning and starts
// empty, because losing cached lookups is recoverable while refusing to start
// is not.
func Open(path string, opts Options, logger *slog.Logger) *Cache {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = 12
	}
	logger = logging.NewComponentLogger(logger, "termcache")

	c := &Cache{
		path:    path,
		logger:  logger,
		opts:    opts,
		entries: make(map[string]entry),
	}

	if path == "" {
		return c
	}
	c.lock = flock.New(path + ".lock")

	if err := c.load(); err != nil {
		logging.WarnWithContext(logger, "failed to load terminology cache", "termcache_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "cache will start empty"),
			logging.String(logging.FieldImpact, "previously cached expansions will be recomputed"))
	}

	return c
}

// Get returns the in-memory value for key. Absence is a miss, not an error;
// the caller computes the real value and Puts it.
func (c *Cache) Get(key string) ([]byte, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Put stores the value in memory and marks the entry dirty. It performs no
// I/O; persistence happens on the next flush cycle.
func (c *Cache) Put(key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return services.Wrap(services.ErrValidation, "termcache", "put", "key cannot be empty", nil)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextVer++
	c.entries[key] = entry{
		value:    stored,
		dirty:    true,
		version:  c.nextVer,
		storedAt: time.Now().UTC(),
	}
	return nil
}

// Remove deletes an entry. The deletion becomes durable on the next flush.
func (c *Cache) Remove(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return services.Wrap(services.ErrValidation, "termcache", "remove", "key cannot be empty", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return services.Wrap(services.ErrNotFound, "termcache", "remove", fmt.Sprintf("key %q", key), nil)
	}
	delete(c.entries, key)
	// Removal must reach disk even when nothing else is dirty; the flush
	// loop gates on this counter alongside the dirty set.
	c.removals++
	return nil
}

// Keys returns all cached keys sorted.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries in the cache.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DirtyCount returns the number of entries awaiting persistence.
func (c *Cache) DirtyCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dirty := 0
	for _, e := range c.entries {
		if e.dirty {
			dirty++
		}
	}
	return dirty
}

// pendingWrites reports whether a flush cycle has anything to persist:
// dirty entries or removals not yet covered by a successful flush.
func (c *Cache) pendingWrites() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.removals > 0 {
		return true
	}
	for _, e := range c.entries {
		if e.dirty {
			return true
		}
	}
	return false
}

// Err returns the fatal persistence error once the consecutive-failure
// budget is exhausted, nil otherwise.
func (c *Cache) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fatal
}

// Stats summarizes cache state for diagnostics.
type Stats struct {
	Entries     int
	Dirty       int
	Flushes     uint64
	FlushErrors uint64
}

// Snapshot returns current cache statistics.
func (c *Cache) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dirty := 0
	for _, e := range c.entries {
		if e.dirty {
			dirty++
		}
	}
	return Stats{
		Entries:     len(c.entries),
		Dirty:       dirty,
		Flushes:     c.flushes,
		FlushErrors: c.flushErrors,
	}
}

// Start launches the background flusher. It runs until ctx is cancelled or
// Close is called.
func (c *Cache) Start(ctx context.Context) {
	if c.path == "" {
		return
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.flushLoop(runCtx)
}

func (c *Cache) flushLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.pendingWrites() {
				continue
			}
			if err := c.Flush(); err != nil {
				logging.WarnWithContext(c.logger, "terminology cache flush failed", "termcache_flush_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check disk space and permissions"),
					logging.String(logging.FieldImpact, "dirty entries retained; retrying next cycle"))
			}
		}
	}
}

// Close stops the background flusher and performs a final synchronous flush
// of all dirty entries. It returns the flush error, or the fatal persistence
// error when the retry budget was already exhausted.
func (c *Cache) Close() error {
	c.runMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.runMu.Unlock()
	c.wg.Wait()

	if err := c.Flush(); err != nil {
		return err
	}
	return c.Err()
}

// Flush serializes all entries and writes them durably, then clears dirty
// flags for the entries covered by this cycle. Entries written by a Put that
// races the flush keep their dirty flag and are covered by the next cycle.
// Safe to call concurrently; flush cycles serialize among themselves.
func (c *Cache) Flush() error {
	if c.path == "" {
		return nil
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	snapshot, versions, removals := c.snapshotEntries()
	if err := c.writeSnapshot(snapshot); err != nil {
		c.mu.Lock()
		c.failures++
		c.flushErrors++
		pending := 0
		for _, e := range c.entries {
			if e.dirty {
				pending++
			}
		}
		budgetExhausted := c.failures >= c.opts.RetryBudget
		if budgetExhausted && c.fatal == nil {
			c.fatal = services.Wrap(services.ErrFlush, "termcache", "flush",
				fmt.Sprintf("could not persist %d pending writes after %d attempts", pending, c.failures), err)
		}
		fatal := c.fatal
		c.mu.Unlock()

		if budgetExhausted {
			return fatal
		}
		return services.Wrap(services.ErrFlush, "termcache", "flush", "", err)
	}

	c.mu.Lock()
	for key, version := range versions {
		if e, ok := c.entries[key]; ok && e.version == version {
			e.dirty = false
			c.entries[key] = e
		}
	}
	// Removals that raced this flush keep the counter positive for the
	// next cycle.
	c.removals -= removals
	if c.removals < 0 {
		c.removals = 0
	}
	c.failures = 0
	c.flushes++
	c.mu.Unlock()

	c.logger.Debug("flushed terminology cache",
		logging.Int("entry_count", len(snapshot)),
		logging.String("path", c.path))
	return nil
}

// snapshotEntries copies the full entry set, records the version of each
// dirty entry so the flush can tell which writes it covered, and reports how
// many removals this snapshot makes durable.
func (c *Cache) snapshotEntries() ([]persistedEntry, map[string]uint64, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]persistedEntry, 0, len(c.entries))
	versions := make(map[string]uint64)
	for key, e := range c.entries {
		out = append(out, persistedEntry{
			Key:      key,
			Value:    append([]byte(nil), e.value...),
			StoredAt: e.storedAt,
		})
		if e.dirty {
			versions[key] = e.version
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, versions, c.removals
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var persisted []persistedEntry
	if err := json.Unmarshal(data, &persisted); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}

	c.entries = make(map[string]entry, len(persisted))
	for _, p := range persisted {
		if strings.TrimSpace(p.Key) == "" {
			continue
		}
		c.entries[p.Key] = entry{
			value:    []byte(p.Value),
			storedAt: p.StoredAt,
		}
	}

	c.logger.Debug("loaded terminology cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String("path", c.path))
	return nil
}

// writeSnapshot persists the entry set atomically via a temp file and rename,
// holding the sidecar flock so concurrent processes serialize on the file.
func (c *Cache) writeSnapshot(entries []persistedEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("acquire cache lock: %w", err)
	}
	defer func() {
		_ = c.lock.Unlock()
	}()

	return fileutil.WriteAtomic(c.path, data, 0o644)
}
