package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"vellum/internal/bulkload"
	"vellum/internal/logging"
	"vellum/internal/termcache"
)

var sinkTables = []string{"expansions", "properties", "concepts", "mappings"}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and cache state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			lockPath := filepath.Join(cfg.Paths.StateDir, "vellumd.lock")
			running, err := daemonRunning(lockPath)
			if err != nil {
				return fmt.Errorf("check daemon lock: %w", err)
			}
			state := "stopped"
			if running {
				state = "running"
			}

			fmt.Fprintln(out, renderTable("Daemon", []string{"Field", "Value"}, [][]string{
				{"State", state},
				{"Lock file", lockPath},
				{"State dir", cfg.Paths.StateDir},
				{"Log dir", cfg.Paths.LogDir},
			}))

			terms := termcache.Open(cfg.TermCache.Path, termcache.Options{}, logging.NewNop())
			stats := terms.Snapshot()
			_ = terms.Close()
			fmt.Fprintln(out, renderTable("Terminology cache", []string{"Field", "Value"}, [][]string{
				{"Snapshot path", cfg.TermCache.Path},
				{"Entries", strconv.Itoa(stats.Entries)},
				{"Flush interval", fmt.Sprintf("%ds", cfg.TermCache.FlushIntervalSeconds)},
				{"Retry budget", strconv.Itoa(cfg.TermCache.FlushRetryBudget)},
			}, 1))

			rows, err := sinkRowCounts(cmd.Context(), cfg.BulkLoad.DBPath)
			if err != nil {
				return fmt.Errorf("inspect sink database: %w", err)
			}
			fmt.Fprintln(out, renderTable("Bulk-load sink", []string{"Table", "Rows"}, rows, 1))
			return nil
		},
	}
}

// daemonRunning reports whether another process holds the daemon lock.
func daemonRunning(lockPath string) (bool, error) {
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return false, err
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// sinkRowCounts opens the sink read-only and counts rows per table.
func sinkRowCounts(ctx context.Context, dbPath string) ([][]string, error) {
	db, err := bulkload.OpenSink(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows := make([][]string, 0, len(sinkTables))
	for _, tbl := range sinkTables {
		var count int64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", tbl, err)
		}
		rows = append(rows, []string{tbl, strconv.FormatInt(count, 10)})
	}
	return rows, nil
}
