package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vellum/internal/bulkload"
	"vellum/internal/config"
	"vellum/internal/derived"
	"vellum/internal/logging"
	"vellum/internal/pipeline"
	"vellum/internal/registry"
	"vellum/internal/termcache"
)

// Daemon owns the processing components and enforces single-instance
// execution through a file lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	reg     *registry.Registry
	derived *derived.Cache
	pc      *pipeline.Context
	terms   *termcache.Cache
	db      *sql.DB
	loader  *bulkload.Loader
	manager *pipeline.Manager

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status aggregates component statistics for reporting.
type Status struct {
	Running      bool
	LockFilePath string
	Registry     registry.Stats
	Derived      derived.Stats
	TermCache    termcache.Stats
	Loader       bulkload.Stats
	Pipeline     pipeline.ManagerStats
}

// New constructs a daemon and its component graph from configuration. The
// sink database is opened here; Close releases it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	db, err := bulkload.OpenSink(ctx, cfg.BulkLoad.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sink database: %w", err)
	}

	reg := registry.New(logger)
	dcache := derived.New(reg, derived.Options{
		ContextCapacity: cfg.Derived.ContextCapacity,
		ContextTTL:      time.Duration(cfg.Derived.ContextTTLSeconds) * time.Second,
	}, logger)
	pc := pipeline.NewContext(reg, dcache)

	terms := termcache.Open(cfg.TermCache.Path, termcache.Options{
		FlushInterval: time.Duration(cfg.TermCache.FlushIntervalSeconds) * time.Second,
		RetryBudget:   cfg.TermCache.FlushRetryBudget,
	}, logger)

	loader := bulkload.New(db, bulkload.Options{
		BatchThreshold: cfg.BulkLoad.BatchThreshold,
	}, logger)

	manager := pipeline.NewManager(pc, terms, loader, logger, pipeline.ManagerOptions{
		Workers:            cfg.Pipeline.Workers,
		ErrorRetryInterval: time.Duration(cfg.Pipeline.ErrorRetryInterval) * time.Second,
	})

	lockPath := filepath.Join(cfg.Paths.StateDir, "vellumd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		reg:      reg,
		derived:  dcache,
		pc:       pc,
		terms:    terms,
		db:       db,
		loader:   loader,
		manager:  manager,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the flush loop and workers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another vellum daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.terms.Start(runCtx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.terms.Close()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("vellum daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"))
	return nil
}

// Stop shuts the components down in dependency order: workers first so no
// new writes arrive, then the bulk loader drains its queue, then the
// terminology cache takes its final flush. The first error is returned but
// every component still gets its shutdown.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.running.Load() {
		return nil
	}

	d.manager.Stop()

	var errs []error
	if err := d.loader.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.loader.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.terms.Close(); err != nil {
		errs = append(errs, err)
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("vellum daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"))
	return errors.Join(errs...)
}

// Close stops the daemon and releases the sink database.
func (d *Daemon) Close() error {
	err := d.Stop(context.Background())
	d.pc.Close()
	if d.db != nil {
		if closeErr := d.db.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		d.db = nil
	}
	return err
}

// LoadDir ingests resource descriptors from dir into the registry and
// submits every registered resource to the worker pool.
func (d *Daemon) LoadDir(ctx context.Context, dir string) (pipeline.IngestResult, error) {
	result, err := pipeline.LoadDir(d.reg, dir, d.logger)
	if err != nil {
		return result, err
	}
	for _, res := range d.reg.List("") {
		if err := d.manager.Submit(ctx, pipeline.Item{URL: res.URL, Version: res.Version}); err != nil {
			return result, fmt.Errorf("submit %s@%s: %w", res.URL, res.Version, err)
		}
	}
	return result, nil
}

// Context returns the daemon's processing context.
func (d *Daemon) Context() *pipeline.Context { return d.pc }

// Registry returns the daemon's resource registry.
func (d *Daemon) Registry() *registry.Registry { return d.reg }

// TermCache returns the write-behind terminology cache.
func (d *Daemon) TermCache() *termcache.Cache { return d.terms }

// Loader returns the bulk loader.
func (d *Daemon) Loader() *bulkload.Loader { return d.loader }

// LockFilePath returns the path of the single-instance lock file.
func (d *Daemon) LockFilePath() string { return d.lockPath }

// Status reports aggregate component statistics.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		Registry:     d.reg.Snapshot(),
		Derived:      d.derived.Snapshot(),
		TermCache:    d.terms.Snapshot(),
		Loader:       d.loader.Snapshot(),
		Pipeline:     d.manager.Snapshot(),
	}
}
