// Package main provides zhtd, the mesh node daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zhtd/internal/config"
	"zhtd/internal/node"
	"zhtd/pkg/logging"
)

var version = "0.1.0-dev"

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.zhtd", "Data directory")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	// Registered so config.Load's flag-override pass can pick them up by
	// name; their values flow through cfg, not these locals.
	flag.String("identity", "", "Node identity, overrides config")
	flag.String("connect", "", "Initial peer reply addresses (comma-separated multiaddrs)")
	flag.Int("pool-size", 200, "Bounded inbound handler pool size")
	flag.String("events-addr", "", "Optional host:port to serve the websocket event tap on")
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("zhtd %s", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*dataDir, flag.CommandLine)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	log = logging.New(&logging.Config{Level: cfg.Zht.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "data_dir", cfg.Zht.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("failed to create node", "error", err)
	}

	if err := n.Start(); err != nil {
		log.Fatal("failed to start node", "error", err)
	}

	printBanner(log, n)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	n.Stop()
	log.Info("goodbye")
}

func printBanner(log *logging.Logger, n *node.Node) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  zhtd mesh node")
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Infof("  Identity: %s", n.Identity())
	log.Infof("  Reply/Publish addr: %s", n.SelfAddr())
	log.Info("=================================================")
	log.Info("")
}
