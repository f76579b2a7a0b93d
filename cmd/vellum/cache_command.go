package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"vellum/internal/logging"
	"vellum/internal/termcache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the terminology cache",
	}
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached terminology entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			terms := termcache.Open(cfg.TermCache.Path, termcache.Options{}, logging.NewNop())
			defer terms.Close()

			keys := terms.Keys()
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "Terminology cache is empty")
				return nil
			}

			rows := make([][]string, 0, len(keys))
			for _, key := range keys {
				size := 0
				if value, ok := terms.Get(key); ok {
					size = len(value)
				}
				rows = append(rows, []string{key, strconv.Itoa(size)})
			}
			fmt.Fprintln(out, renderTable("Terminology cache", []string{"Key", "Bytes"}, rows, 1))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached terminology entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to clear the cache without --yes")
			}

			terms := termcache.Open(cfg.TermCache.Path, termcache.Options{}, logging.NewNop())
			removed := 0
			for _, key := range terms.Keys() {
				if err := terms.Remove(key); err != nil {
					return fmt.Errorf("remove %s: %w", key, err)
				}
				removed++
			}
			if err := terms.Close(); err != nil {
				return fmt.Errorf("persist cleared cache: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached entries\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing the cache")
	return cmd
}
