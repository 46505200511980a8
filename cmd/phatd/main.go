package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phat-labs/phatd/internal/daemon"
	"github.com/phat-labs/phatd/pkg/journal"

	_ "modernc.org/sqlite"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("phatd %s (%s)\n", version, commit)
		os.Exit(0)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cp := *configPath
	if cp == "" {
		cp = os.Getenv("PHATD_CONFIG_PATH")
	}

	cfg, err := daemon.LoadConfig(cp)
	if err != nil {
		slog.Error("failed to load config", "path", cp, "error", err)
		os.Exit(1)
	}

	// Open exchange journal
	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		slog.Error("failed to open journal", "path", cfg.JournalPath, "error", err)
		os.Exit(1)
	}
	defer jrnl.Close()

	slog.Info("phatd starting",
		"version", version,
		"name", cfg.Name,
		"trigger", cfg.Trigger,
	)

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Create and start daemon
	d, err := daemon.New(ctx, cfg, jrnl)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		os.Exit(1)
	}

	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}

	slog.Info("phatd stopped")
}
