package bulkload

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"vellum/internal/logging"
	"vellum/internal/services"
)

// Row is one pending insertion: a target table and its field values in
// column order.
type Row struct {
	Table  string
	Values []any
}

// Options controls batch sizing.
type Options struct {
	// BatchThreshold is the pending-row count that triggers an execute pass
	// inside an open span. Zero means the default of 5000.
	BatchThreshold int
}

// Loader batches rows for a database/sql sink. Enqueue is safe under
// concurrent callers; Flush, Begin, and End serialize among themselves.
type Loader struct {
	db     *sql.DB
	logger *slog.Logger
	opts   Options

	mu      sync.Mutex
	pending []Row

	// spanMu is the single-flusher lock: it guards the open transaction and
	// serializes Flush/Begin/End. spanSem is the span ownership token, held
	// from Begin until the span closes, so concurrent Begin callers queue
	// instead of failing.
	spanMu   sync.Mutex
	spanSem  chan struct{}
	tx       *sql.Tx
	txCtx    context.Context
	spanRows []Row // rows already executed in the open span, kept for rollback restore

	statsMu    sync.Mutex
	rowsLoaded uint64
	commits    uint64
	rollbacks  uint64
}

// New constructs a loader bound to db.
func New(db *sql.DB, opts Options, logger *slog.Logger) *Loader {
	if opts.BatchThreshold <= 0 {
		opts.BatchThreshold = 5000
	}
	return &Loader{
		db:      db,
		logger:  logging.NewComponentLogger(logger, "bulkload"),
		opts:    opts,
		spanSem: make(chan struct{}, 1),
	}
}

// Enqueue appends a row to the pending queue. No I/O occurs unless a span is
// open and the queue has reached the batch threshold, in which case the
// pending rows are executed inside the span transaction (without commit) to
// bound peak memory.
func (l *Loader) Enqueue(table string, values ...any) error {
	table = strings.TrimSpace(table)
	if table == "" {
		return services.Wrap(services.ErrValidation, "bulkload", "enqueue", "table cannot be empty", nil)
	}
	if len(values) == 0 {
		return services.Wrap(services.ErrValidation, "bulkload", "enqueue", "row has no values", nil)
	}

	l.mu.Lock()
	l.pending = append(l.pending, Row{Table: table, Values: values})
	n := len(l.pending)
	l.mu.Unlock()

	if n < l.opts.BatchThreshold {
		return nil
	}

	l.spanMu.Lock()
	defer l.spanMu.Unlock()
	if l.tx == nil {
		// No open span: nothing forces an execute here. The caller commits
		// at its own batch boundary.
		return nil
	}
	return l.executeIntoSpan()
}

// Pending returns the number of rows awaiting a flush, excluding rows
// already executed inside an open span.
func (l *Loader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Begin opens a span: an outer transaction shared by every Flush until End.
// Readers of the sink never observe a partially populated span. If another
// caller's span is open, Begin blocks until that span finishes or ctx
// expires, so concurrent callers queue rather than fail.
func (l *Loader) Begin(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case l.spanSem <- struct{}{}:
	case <-ctx.Done():
		return services.Wrap(services.ErrFlush, "bulkload", "begin", "wait for open span", ctx.Err())
	}

	l.spanMu.Lock()
	defer l.spanMu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		l.releaseSpanToken()
		return services.Wrap(services.ErrFlush, "bulkload", "begin", "open transaction", err)
	}
	l.tx = tx
	l.txCtx = ctx
	l.spanRows = nil
	return nil
}

// releaseSpanToken frees the span ownership token. Safe to call when the
// token is already free.
func (l *Loader) releaseSpanToken() {
	select {
	case <-l.spanSem:
	default:
	}
}

// End executes any remaining pending rows into the span transaction and
// commits it. On failure the transaction is rolled back and every row of the
// span is restored to the pending queue.
func (l *Loader) End() error {
	l.spanMu.Lock()
	defer l.spanMu.Unlock()

	if l.tx == nil {
		return services.Wrap(services.ErrValidation, "bulkload", "end", "no span open", nil)
	}

	if err := l.executeIntoSpan(); err != nil {
		return err
	}

	if err := l.tx.Commit(); err != nil {
		l.restoreSpan()
		l.tx = nil
		l.txCtx = nil
		l.noteRollback()
		l.releaseSpanToken()
		return services.Wrap(services.ErrBatch, "bulkload", "end",
			fmt.Sprintf("commit failed; %d rows restored", l.Pending()), err)
	}

	committed := len(l.spanRows)
	l.tx = nil
	l.txCtx = nil
	l.spanRows = nil
	l.releaseSpanToken()

	l.statsMu.Lock()
	l.rowsLoaded += uint64(committed)
	l.commits++
	l.statsMu.Unlock()

	l.logger.Debug("committed bulk span", logging.Int("row_count", committed))
	return nil
}

// Abort rolls back an open span without committing. Rows already executed
// into the span are restored to the pending queue so nothing is lost.
func (l *Loader) Abort() error {
	l.spanMu.Lock()
	defer l.spanMu.Unlock()

	if l.tx == nil {
		return services.Wrap(services.ErrValidation, "bulkload", "abort", "no span open", nil)
	}

	_ = l.tx.Rollback()
	l.restoreSpan()
	l.tx = nil
	l.txCtx = nil
	l.noteRollback()
	l.releaseSpanToken()
	return nil
}

// Flush commits the pending queue. Outside a span it is one transaction:
// begin, replay FIFO, commit. Inside a span it executes the pending rows
// into the open transaction and leaves the commit to End.
func (l *Loader) Flush(ctx context.Context) error {
	l.spanMu.Lock()
	defer l.spanMu.Unlock()

	if l.tx != nil {
		return l.executeIntoSpan()
	}

	rows := l.takePending()
	if len(rows) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		l.restorePending(rows)
		return services.Wrap(services.ErrFlush, "bulkload", "flush", "open transaction", err)
	}

	if err := replay(ctx, tx, rows); err != nil {
		_ = tx.Rollback()
		l.restorePending(rows)
		l.noteRollback()
		return services.Wrap(services.ErrBatch, "bulkload", "flush",
			fmt.Sprintf("batch of %d rows rolled back", len(rows)), err)
	}

	if err := tx.Commit(); err != nil {
		l.restorePending(rows)
		l.noteRollback()
		return services.Wrap(services.ErrBatch, "bulkload", "flush",
			fmt.Sprintf("commit of %d rows failed", len(rows)), err)
	}

	l.statsMu.Lock()
	l.rowsLoaded += uint64(len(rows))
	l.commits++
	l.statsMu.Unlock()

	l.logger.Debug("committed bulk batch", logging.Int("row_count", len(rows)))
	return nil
}

// Close rolls back any open span so partial commits are never observable,
// restoring its rows to the pending queue. It returns the count of rows left
// unpersisted through the error, if any remain.
func (l *Loader) Close() error {
	l.spanMu.Lock()
	if l.tx != nil {
		_ = l.tx.Rollback()
		l.restoreSpan()
		l.tx = nil
		l.txCtx = nil
		l.noteRollback()
		l.releaseSpanToken()
	}
	l.spanMu.Unlock()

	if n := l.Pending(); n > 0 {
		return services.Wrap(services.ErrFlush, "bulkload", "close",
			fmt.Sprintf("could not persist %d pending rows", n), nil)
	}
	return nil
}

// Stats summarizes loader state for diagnostics.
type Stats struct {
	Pending    int
	RowsLoaded uint64
	Commits    uint64
	Rollbacks  uint64
}

// Snapshot returns current loader statistics.
func (l *Loader) Snapshot() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return Stats{
		Pending:    l.Pending(),
		RowsLoaded: l.rowsLoaded,
		Commits:    l.commits,
		Rollbacks:  l.rollbacks,
	}
}

// executeIntoSpan drains the pending queue into the open transaction without
// committing. Caller holds spanMu. On failure the whole span rolls back and
// all of its rows return to the pending queue.
func (l *Loader) executeIntoSpan() error {
	rows := l.takePending()
	if len(rows) == 0 {
		return nil
	}

	if err := replay(l.txCtx, l.tx, rows); err != nil {
		_ = l.tx.Rollback()
		l.restorePending(rows)
		l.restoreSpan()
		l.tx = nil
		l.txCtx = nil
		l.noteRollback()
		l.releaseSpanToken()
		return services.Wrap(services.ErrBatch, "bulkload", "execute",
			fmt.Sprintf("span of %d rows rolled back", len(rows)), err)
	}

	l.spanRows = append(l.spanRows, rows...)
	return nil
}

func (l *Loader) takePending() []Row {
	l.mu.Lock()
	defer l.mu.Unlock()
	rows := l.pending
	l.pending = nil
	return rows
}

// restorePending puts rows back at the front of the queue, preserving FIFO
// order ahead of anything enqueued since the drain.
func (l *Loader) restorePending(rows []Row) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(rows, l.pending...)
}

// restoreSpan returns already-executed span rows to the queue. Caller holds
// spanMu.
func (l *Loader) restoreSpan() {
	if len(l.spanRows) == 0 {
		return
	}
	l.restorePending(l.spanRows)
	l.spanRows = nil
}

func (l *Loader) noteRollback() {
	l.statsMu.Lock()
	l.rollbacks++
	l.statsMu.Unlock()
}

type stmtKey struct {
	table string
	arity int
}

// replay executes rows FIFO against tx, preparing one statement per
// (table, arity) and reusing it across that table's rows.
func replay(ctx context.Context, tx *sql.Tx, rows []Row) error {
	if ctx == nil {
		ctx = context.Background()
	}

	stmts := make(map[stmtKey]*sql.Stmt)
	defer func() {
		for _, stmt := range stmts {
			_ = stmt.Close()
		}
	}()

	for i, row := range rows {
		key := stmtKey{table: row.Table, arity: len(row.Values)}
		stmt, ok := stmts[key]
		if !ok {
			prepared, err := tx.PrepareContext(ctx, insertSQL(row.Table, len(row.Values)))
			if err != nil {
				return fmt.Errorf("prepare insert for %s: %w", row.Table, err)
			}
			stmts[key] = prepared
			stmt = prepared
		}
		if _, err := stmt.ExecContext(ctx, row.Values...); err != nil {
			return fmt.Errorf("row %d into %s: %w", i, row.Table, err)
		}
	}
	return nil
}

func insertSQL(table string, arity int) string {
	return "INSERT INTO " + table + " VALUES (" + makePlaceholders(arity) + ")"
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
