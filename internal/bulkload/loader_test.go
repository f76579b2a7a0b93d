package bulkload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"vellum/internal/services"
)

func TestFlushCommitsAllRows(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{BatchThreshold: 10}, nil)
	const total = 25
	for i := 0; i < total; i++ {
		if err := loader.Enqueue("concepts", "http://loinc.org", fmt.Sprintf("code-%d", i), "display"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if loader.Pending() != total {
		t.Fatalf("pending = %d, want %d", loader.Pending(), total)
	}

	if err := loader.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if loader.Pending() != 0 {
		t.Fatalf("pending after flush = %d", loader.Pending())
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM concepts").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != total {
		t.Fatalf("sink rows = %d, want %d", count, total)
	}
}

func TestFlushPreservesFIFOOrder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{}, nil)
	for i := 0; i < 5; i++ {
		if err := loader.Enqueue("concepts", "sys", fmt.Sprintf("%d", i), ""); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := loader.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows, err := db.Query("SELECT code FROM concepts ORDER BY rowid")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	i := 0
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if code != fmt.Sprintf("%d", i) {
			t.Fatalf("row %d code = %q", i, code)
		}
		i++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if i != 5 {
		t.Fatalf("row count = %d", i)
	}
}

func TestBadRowRollsBackWholeBatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{}, nil)
	if err := loader.Enqueue("concepts", "sys", "a", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Wrong arity for the table: the insert fails mid-batch.
	if err := loader.Enqueue("concepts", "sys", "b", "", "extra", "columns"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := loader.Enqueue("concepts", "sys", "c", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	err = loader.Flush(context.Background())
	if err == nil {
		t.Fatal("expected batch failure")
	}
	if !errors.Is(err, services.ErrBatch) {
		t.Fatalf("expected ErrBatch, got %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM concepts").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("sink rows after rollback = %d, want 0", count)
	}
	if loader.Pending() != 3 {
		t.Fatalf("pending after rollback = %d, want 3 (queue intact)", loader.Pending())
	}
}

func TestSpanSharesOneTransaction(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{BatchThreshold: 4}, nil)
	ctx := context.Background()
	if err := loader.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Three logical passes over related data, one outer transaction.
	for i := 0; i < 6; i++ {
		if err := loader.Enqueue("properties", "url", "1.0", fmt.Sprintf("p%d", i), "v"); err != nil {
			t.Fatalf("Enqueue properties: %v", err)
		}
	}
	if err := loader.Flush(ctx); err != nil {
		t.Fatalf("Flush in span: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := loader.Enqueue("concepts", "sys", fmt.Sprintf("c%d", i), ""); err != nil {
			t.Fatalf("Enqueue concepts: %v", err)
		}
	}
	if err := loader.Enqueue("mappings", "src", "a", "dst", "b"); err != nil {
		t.Fatalf("Enqueue mappings: %v", err)
	}

	if err := loader.End(); err != nil {
		t.Fatalf("End: %v", err)
	}

	for table, want := range map[string]int{"properties": 6, "concepts": 3, "mappings": 1} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != want {
			t.Fatalf("%s rows = %d, want %d", table, count, want)
		}
	}

	stats := loader.Snapshot()
	if stats.Commits != 1 {
		t.Fatalf("commits = %d, want 1 (span shares one transaction)", stats.Commits)
	}
	if stats.RowsLoaded != 10 {
		t.Fatalf("rows loaded = %d, want 10", stats.RowsLoaded)
	}
}

func TestSpanFailureRestoresQueue(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{}, nil)
	ctx := context.Background()
	if err := loader.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := loader.Enqueue("concepts", "sys", "ok", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := loader.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := loader.Enqueue("concepts", "bad", "arity", "", "x", "y"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	err = loader.End()
	if err == nil {
		t.Fatal("expected span failure")
	}
	if !errors.Is(err, services.ErrBatch) {
		t.Fatalf("expected ErrBatch, got %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM concepts").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("sink rows after span rollback = %d, want 0", count)
	}
	if loader.Pending() != 2 {
		t.Fatalf("pending after span rollback = %d, want 2", loader.Pending())
	}
}

func TestCloseRollsBackOpenSpan(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{BatchThreshold: 1}, nil)
	ctx := context.Background()
	if err := loader.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	// Threshold 1 forces an in-span execute on enqueue.
	if err := loader.Enqueue("concepts", "sys", "a", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	err = loader.Close()
	if err == nil {
		t.Fatal("expected close to report unpersisted rows")
	}
	if !errors.Is(err, services.ErrFlush) {
		t.Fatalf("expected ErrFlush, got %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM concepts").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("sink rows after close = %d, want 0 (no partial commit)", count)
	}
}

func TestConcurrentSpansQueueWithoutLoss(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{}, nil)
	const workers = 8
	const spansPerWorker = 12
	const rowsPerSpan = 5

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for s := 0; s < spansPerWorker; s++ {
				if err := loader.Begin(context.Background()); err != nil {
					t.Errorf("Begin: %v", err)
					return
				}
				for r := 0; r < rowsPerSpan; r++ {
					if err := loader.Enqueue("concepts", "sys", fmt.Sprintf("w%d-s%d-r%d", w, s, r), ""); err != nil {
						t.Errorf("Enqueue: %v", err)
						_ = loader.Abort()
						return
					}
				}
				if err := loader.End(); err != nil {
					t.Errorf("End: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM concepts").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != workers*spansPerWorker*rowsPerSpan {
		t.Fatalf("sink rows = %d, want %d", count, workers*spansPerWorker*rowsPerSpan)
	}
	if stats := loader.Snapshot(); stats.Pending != 0 || stats.Rollbacks != 0 {
		t.Fatalf("unexpected loader stats %+v", stats)
	}
}

func TestBeginHonorsContextWhileSpanOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{}, nil)
	if err := loader.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := loader.Begin(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Begin with cancelled ctx = %v, want context.Canceled", err)
	}

	// The waiting caller gave up; the open span is unaffected.
	if err := loader.Enqueue("concepts", "sys", "c1", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := loader.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	db, err := OpenSink(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	defer db.Close()

	loader := New(db, Options{BatchThreshold: 100000}, nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				if err := loader.Enqueue("concepts", "sys", fmt.Sprintf("w%d-%d", w, i), ""); err != nil {
					t.Errorf("Enqueue: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if err := loader.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM concepts").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 8*250 {
		t.Fatalf("sink rows = %d, want %d", count, 8*250)
	}
}
