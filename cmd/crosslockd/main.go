// Package main provides the crosslockd daemon - the hashed-timelock
// escrow coordination engine.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/node"
	"github.com/crosslock-exchange/crosslock/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir      = flag.String("data-dir", "~/.crosslock", "Data directory")
		configFile   = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr      = flag.String("api", "", "JSON-RPC API address, overrides config")
		testnet      = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		pollInterval = flag.Duration("poll-interval", 0, "Chain poll interval, overrides config")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("crosslockd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Determine data directory (testnet uses subdirectory)
	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	// Load or create config file
	var cfg *node.Config
	var err error

	if *configFile != "" {
		cfg, err = node.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = node.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir
	if *apiAddr != "" {
		cfg.API.ListenAddr = *apiAddr
	}
	if *pollInterval > 0 {
		cfg.Coordination.PollInterval = *pollInterval
	}
	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}

	log.Info("Config loaded", "path", node.ConfigPath(effectiveDataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.New(cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	if err := n.Start(ctx); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	printBanner(logging.GetDefault(), cfg)

	// Start status ticker
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				open, err := n.Store().GetOpenCoordinations()
				if err != nil {
					continue
				}
				logging.GetDefault().Info("Status", "open_swaps", len(open), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logging.GetDefault().Info("Shutting down...")

	cancel()
	n.Stop()

	logging.GetDefault().Info("Goodbye!")
}

func printBanner(log *logging.Logger, cfg *node.Config) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  Crosslock Escrow Engine (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  API: http://%s", cfg.API.ListenAddr)
	log.Infof("  WS:  ws://%s/ws", cfg.API.ListenAddr)
	log.Info("")
	log.Infof("  Network: %s | Poll: %s", networkLabel, cfg.Coordination.PollInterval)
	log.Infof("  Data dir: %s", cfg.Storage.DataDir)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
