// Command vellumd runs the background processing daemon: it owns the
// resource registry, the write-behind terminology cache, and the bulk
// loader, and exits cleanly on SIGINT/SIGTERM after flushing both caches.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"vellum/internal/config"
	"vellum/internal/daemon"
	"vellum/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	sourceDir := flag.String("load", "", "Optional resource directory to ingest at startup")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	dir := *sourceDir
	if dir == "" {
		dir = cfg.Paths.SourceDir
	}
	if dir != "" {
		if result, err := d.LoadDir(ctx, dir); err != nil {
			logger.Warn("startup ingest failed", logging.Error(err))
		} else {
			logger.Info("startup ingest finished",
				logging.Int("loaded", result.Loaded),
				logging.Int("skipped", result.Skipped))
		}
	}

	<-ctx.Done()
	logger.Info("vellumd shutting down")
	if err := d.Stop(context.Background()); err != nil {
		logger.Error("shutdown flush", logging.Error(err))
	}
}
