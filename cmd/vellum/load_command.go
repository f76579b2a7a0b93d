package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vellum/internal/daemon"
	"vellum/internal/logging"
)

func newLoadCommand(ctx *commandContext) *cobra.Command {
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:   "load <dir>",
		Short: "Ingest resource descriptors and load them into the sink",
		Long: "Runs a one-shot pipeline: registers every *.json resource descriptor " +
			"under the directory, resolves each resource through the terminology " +
			"cache, and commits the results to the bulk-load sink. Fails if the " +
			"daemon is already running.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx := cmd.Context()
			d, err := daemon.New(runCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Start(runCtx); err != nil {
				return err
			}

			result, err := d.LoadDir(runCtx, args[0])
			if err != nil {
				_ = d.Stop(runCtx)
				return err
			}

			deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
			for {
				stats := d.Status().Pipeline
				if int(stats.Processed+stats.Failed) >= result.Loaded && stats.Queued == 0 {
					break
				}
				if time.Now().After(deadline) {
					_ = d.Stop(runCtx)
					return fmt.Errorf("timed out after %ds waiting for %d resources", timeoutSeconds, result.Loaded)
				}
				select {
				case <-runCtx.Done():
					_ = d.Stop(runCtx)
					return runCtx.Err()
				case <-time.After(50 * time.Millisecond):
				}
			}

			if err := d.Stop(runCtx); err != nil {
				return err
			}

			stats := d.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Registered %d resources (%d skipped)\n", result.Loaded, result.Skipped)
			fmt.Fprintf(out, "Processed %d, failed %d, %d rows loaded into the sink\n",
				stats.Pipeline.Processed, stats.Pipeline.Failed, stats.Loader.RowsLoaded)
			return nil
		},
	}

	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 300, "Seconds to wait for processing to finish")
	return cmd
}
