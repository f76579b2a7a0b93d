package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vellum/internal/bulkload"
	"vellum/internal/logging"
	"vellum/internal/services"
	"vellum/internal/termcache"
)

// Item identifies one resource to resolve and persist.
type Item struct {
	URL     string
	Version string
}

// ManagerOptions tunes the worker pool.
type ManagerOptions struct {
	// Workers is the number of concurrent resolvers. Defaults to 4.
	Workers int
	// ErrorRetryInterval is the pause after a failed item before the worker
	// picks up the next one. Defaults to 1s.
	ErrorRetryInterval time.Duration
	// QueueDepth bounds the submission channel. Defaults to 256.
	QueueDepth int
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.ErrorRetryInterval <= 0 {
		o.ErrorRetryInterval = time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 256
	}
	return o
}

// Manager drives the resolution workers for one processing run. Each worker
// looks up its item in the run's registry, resolves the expansion through the
// terminology cache, and enqueues sink rows on the bulk loader.
type Manager struct {
	pc     *Context
	terms  *termcache.Cache
	loader *bulkload.Loader
	logger *slog.Logger
	opts   ManagerOptions

	items chan Item

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed atomic.Uint64
	failed    atomic.Uint64
	cacheHits atomic.Uint64
}

// NewManager constructs a manager over the processing context and caches.
func NewManager(pc *Context, terms *termcache.Cache, loader *bulkload.Loader, logger *slog.Logger, opts ManagerOptions) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts = opts.withDefaults()
	return &Manager{
		pc:     pc,
		terms:  terms,
		loader: loader,
		logger: logging.NewComponentLogger(logger, "pipeline"),
		opts:   opts,
		items:  make(chan Item, opts.QueueDepth),
	}
}

// Start launches the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("pipeline already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.opts.Workers)
	for i := 0; i < m.opts.Workers; i++ {
		go m.runWorker(runCtx, i)
	}
	m.logger.Info("pipeline started",
		logging.Int("workers", m.opts.Workers),
		logging.String(logging.FieldRunID, m.pc.ID().String()),
		logging.String(logging.FieldEventType, "pipeline_started"))
	return nil
}

// Stop terminates the workers and waits for them to drain. Items still in
// the submission channel after cancellation are dropped.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("pipeline stopped",
		logging.Uint64("processed", m.processed.Load()),
		logging.Uint64("failed", m.failed.Load()),
		logging.String(logging.FieldEventType, "pipeline_stopped"))
}

// Submit hands an item to the worker pool. It blocks while the channel is
// full and fails once the manager is stopped or ctx expires.
func (m *Manager) Submit(ctx context.Context, item Item) error {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return errors.New("pipeline not running")
	}
	select {
	case m.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ManagerStats reports processing counters.
type ManagerStats struct {
	Processed uint64
	Failed    uint64
	CacheHits uint64
	Queued    int
}

// Snapshot returns current counters.
func (m *Manager) Snapshot() ManagerStats {
	return ManagerStats{
		Processed: m.processed.Load(),
		Failed:    m.failed.Load(),
		CacheHits: m.cacheHits.Load(),
		Queued:    len(m.items),
	}
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-m.items:
			itemCtx := services.WithResource(services.WithRunID(ctx, m.pc.ID().String()), item.URL)
			itemLogger := logging.WithContext(itemCtx, logger)
			if err := m.processItem(itemCtx, itemLogger, item); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.failed.Add(1)
				logging.ErrorWithContext(itemLogger, "item processing failed", "item_failed",
					logging.String(logging.FieldVersion, item.Version),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check the resource payload"))
				// Flush failures may clear up on their own; malformed items
				// will not, so only transient errors earn the backoff.
				if services.Retryable(err) {
					select {
					case <-ctx.Done():
						return
					case <-time.After(m.opts.ErrorRetryInterval):
					}
				}
				continue
			}
			m.processed.Add(1)
		}
	}
}

// resourcePayload is the subset of a terminology resource payload the
// resolver reads.
type resourcePayload struct {
	Concepts []conceptEntry  `json:"concept"`
	Props    []propertyEntry `json:"property"`
}

type conceptEntry struct {
	Code    string `json:"code"`
	Display string `json:"display"`
}

type propertyEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (m *Manager) processItem(ctx context.Context, logger *slog.Logger, item Item) error {
	res, ok := m.pc.Registry().Lookup(item.URL, item.Version)
	if !ok {
		return services.Wrap(services.ErrNotFound, "pipeline", "process", fmt.Sprintf("resource %s@%s not registered", item.URL, item.Version), nil)
	}

	table, err := m.pc.TypeTable(ctx)
	if err != nil {
		return err
	}
	kind := res.Kind
	if kind == "" {
		kind = "Unknown"
	}
	if _, ok := table[kind]; !ok {
		return services.Wrap(services.ErrValidation, "pipeline", "process", fmt.Sprintf("kind %q missing from type table", kind), nil)
	}

	expansion, hit, err := m.resolveExpansion(res.URL, res.Version, res.Payload)
	if err != nil {
		return err
	}
	if hit {
		m.cacheHits.Add(1)
	}

	if err := m.loader.Begin(ctx); err != nil {
		return err
	}
	for _, concept := range expansion.Concepts {
		if err := m.loader.Enqueue("expansions", res.URL, res.Version, concept.Code, concept.Display); err != nil {
			return errors.Join(err, m.loader.Abort())
		}
	}
	for _, prop := range expansion.Props {
		if err := m.loader.Enqueue("properties", res.URL, res.Version, prop.Name, prop.Value); err != nil {
			return errors.Join(err, m.loader.Abort())
		}
	}
	if err := m.loader.End(); err != nil {
		return err
	}

	logger.Debug("item resolved",
		logging.String(logging.FieldVersion, res.Version),
		logging.Int("concepts", len(expansion.Concepts)),
		logging.Bool("cache_hit", hit))
	return nil
}

// resolveExpansion returns the parsed payload for a resource, consulting the
// terminology cache first and recording misses for the background flusher.
func (m *Manager) resolveExpansion(url, version string, payload []byte) (resourcePayload, bool, error) {
	key := termKey(url, version)
	if cached, ok := m.terms.Get(key); ok {
		var expansion resourcePayload
		if err := json.Unmarshal(cached, &expansion); err == nil {
			return expansion, true, nil
		}
		// Unparseable cached value: drop it and recompute below.
		_ = m.terms.Remove(key)
	}

	var expansion resourcePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &expansion); err != nil {
			return resourcePayload{}, false, services.Wrap(services.ErrValidation, "pipeline", "resolve", fmt.Sprintf("decode payload for %s@%s", url, version), err)
		}
	}

	encoded, err := json.Marshal(expansion)
	if err != nil {
		return resourcePayload{}, false, services.Wrap(services.ErrComputation, "pipeline", "resolve", fmt.Sprintf("encode expansion for %s@%s", url, version), err)
	}
	if err := m.terms.Put(key, encoded); err != nil {
		return resourcePayload{}, false, err
	}
	return expansion, false, nil
}

func termKey(url, version string) string {
	return url + "|" + version
}
