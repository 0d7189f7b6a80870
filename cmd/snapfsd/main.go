package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/snapfs/internal/logger"
	"github.com/marmos91/snapfs/pkg/catalog"
	"github.com/marmos91/snapfs/pkg/config"
	"github.com/marmos91/snapfs/pkg/ctldir"
	"github.com/marmos91/snapfs/pkg/metrics"
	"github.com/marmos91/snapfs/pkg/mounter"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure logger
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to set log output: %v", err)
	}

	fmt.Println("snapfs - ZFS snapshot automount daemon")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics are opt-in; components fall back to no-op collectors when
	// the registry is never initialized.
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
	}

	// Create snapshot catalog
	cat, err := config.NewCatalog(cfg.Catalog)
	if err != nil {
		log.Fatalf("Failed to create catalog: %v", err)
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logger.Error("Catalog close error: %v", err)
		}
	}()
	logger.Info("Catalog initialized (type: %s)", cfg.Catalog.Type)

	// Register supervised datasets
	filesystems := make([]*catalog.Filesystem, 0, len(cfg.Datasets))
	for _, ds := range cfg.Datasets {
		fs, err := cat.CreateDataset(ctx, ds.Pool, ds.Name, ds.Mountpoint)
		if err != nil {
			if !catalog.IsAlreadyExists(err) {
				log.Fatalf("Failed to register dataset %s: %v", ds.Name, err)
			}
			// Already in the catalog from a previous run
			fs, err = cat.LookupDataset(ctx, ds.Name)
			if err != nil {
				log.Fatalf("Failed to look up dataset %s: %v", ds.Name, err)
			}
		}
		filesystems = append(filesystems, fs)
		logger.Info("Supervising dataset %s at %s", fs.Dataset, fs.Mountpoint)
	}
	if len(filesystems) == 0 {
		logger.Warn("No datasets configured; nothing to supervise")
	}

	// Create the control directory
	mnt := mounter.NewExecMounter(cfg.Mounter)
	ctl := ctldir.New(ctldir.Config{
		ExpireAfterSeconds:    cfg.Snapdir.ExpireAfterSeconds,
		AdminMutationsEnabled: cfg.Snapdir.AdminMutationsEnabled,
		DenySetuidOnAutomount: cfg.Snapdir.DenySetuidOnAutomount,
		DirectoryName:         cfg.Snapdir.DirectoryName,
	}, cat, mnt)

	logger.Info("Snapshot directory configuration:")
	logger.Info("  Directory name: %s", cfg.Snapdir.DirectoryName)
	if cfg.Snapdir.ExpireAfterSeconds > 0 {
		logger.Info("  Expire after: %ds", cfg.Snapdir.ExpireAfterSeconds)
	} else {
		logger.Info("  Expiry disabled")
	}
	logger.Info("  Admin mutations: %v", cfg.Snapdir.AdminMutationsEnabled)
	logger.Info("  Deny setuid: %v", cfg.Snapdir.DenySetuidOnAutomount)

	// Start metrics server in background
	metricsDone := make(chan error, 1)
	if metricsServer != nil {
		go func() {
			metricsDone <- metricsServer.Start(ctx)
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Daemon is running. Press Ctrl+C to stop.")

	metricsStopped := false
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-metricsDone:
		metricsStopped = true
		if err != nil {
			logger.Error("Metrics server error: %v", err)
		}
	}
	cancel()

	// Force-unmount everything we automounted
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := ctl.Close(shutdownCtx); err != nil {
		logger.Error("Control directory shutdown error: %v", err)
		os.Exit(1)
	}
	if metricsServer != nil && !metricsStopped {
		<-metricsDone
	}
	logger.Info("Daemon stopped gracefully")
}
