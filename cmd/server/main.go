package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contractsync/contractsync/internal/config"
	"github.com/contractsync/contractsync/internal/core/analysis"
	"github.com/contractsync/contractsync/internal/core/observability/log"
	"github.com/contractsync/contractsync/internal/core/storage"
	"github.com/contractsync/contractsync/internal/core/storage/boltdb"
	"github.com/contractsync/contractsync/internal/core/storage/memory"
	"github.com/contractsync/contractsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	logger := log.New(log.ParseLevel(cfg.LogLevel))

	var store storage.Store
	switch cfg.Storage.Backend {
	case "bolt":
		store, err = boltdb.Open(cfg.Storage.Path)
		if err != nil {
			logger.Fatal("failed to open storage", log.Error(err))
		}
	default:
		store = memory.New()
	}

	var pipeline analysis.Pipeline
	if cfg.Analysis.Endpoint != "" {
		pipeline = analysis.NewHTTPPipeline(cfg.Analysis.Endpoint, cfg.Analysis.Timeout)
	} else {
		logger.Warn("no analysis endpoint configured, versions get stub scores")
		pipeline = &analysis.StubPipeline{}
	}

	srv := server.New(cfg, store, pipeline, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("failed to start server", log.Error(err))
	}

	<-stopCh
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Error("error stopping server", log.Error(err))
	}
	if err := srv.Close(); err != nil {
		logger.Error("error closing server", log.Error(err))
	}
}
