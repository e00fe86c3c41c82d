package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/migadu/taskdb/config"
	"github.com/migadu/taskdb/db"
	"github.com/migadu/taskdb/logger"
	"github.com/migadu/taskdb/pkg/errors"
	"github.com/migadu/taskdb/pkg/health"
	"github.com/migadu/taskdb/schema"
	"github.com/migadu/taskdb/server/httpapi"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "init":
		os.Exit(runInit(os.Args[2:]))
	case "health":
		os.Exit(runHealth(os.Args[2:], os.Stdout))
	case "version", "--version", "-v":
		fmt.Printf("taskdb version %s (commit: %s, built at: %s)\n", version, commit, date)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`taskdb - tiered database connectivity for the task store

Usage:
  taskdb <command> [options]

Commands:
  serve     Bootstrap the schema, run health checks and serve /healthz, /readyz and /metrics
  init      Apply the schema to every reachable tier and exit
  health    Probe every tier once and print the result as JSON
  version   Show version information
  help      Show this help message

Common options:
  --config string          Path to TOML configuration file (default: config.toml)
  --primary-url string     Primary database URL (overrides config)
  --secondary-url string   Secondary database URL (overrides config)
  --fallback-path string   Fallback SQLite file (overrides config)

Examples:
  taskdb serve --config /etc/taskdb/config.toml
  taskdb init --primary-url postgresql://app@db1:5432/tasks --fallback-path /var/lib/taskdb/fallback.db
  taskdb health --config config.toml
`)
}

// setup loads configuration, initializes logging and builds the tier manager.
// The returned cleanup must be called before exiting.
func setup(ctx context.Context, name string, args []string) (*config.Config, *db.Manager, func(), error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	opts := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", db.ErrInvalidConfig, err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, nil, err
	}

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "TASKDB: Warning initializing logger: %v\n", err)
	}

	manager, err := db.New(ctx, &cfg.Database)
	if err != nil {
		closeLog(logFile)
		return nil, nil, nil, fmt.Errorf("failed to build database tiers: %w", err)
	}

	cleanup := func() {
		manager.Close()
		closeLog(logFile)
	}
	return cfg, manager, cleanup, nil
}

func closeLog(f *os.File) {
	logger.Sync()
	if f == nil {
		return
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "TASKDB: Error closing log file %s: %v\n", f.Name(), err)
	}
}

func runServe(args []string) int {
	errorHandler := errors.NewErrorHandler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	go func() {
		select {
		case sig := <-signalChan:
			logger.Info("Received signal, shutting down", "component", "TASKDB", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	cfg, manager, cleanup, err := setup(ctx, "serve", args)
	if err != nil {
		reportStartupError(errorHandler, err)
		return errorHandler.WaitForExit()
	}
	defer cleanup()

	logger.Info("taskdb starting", "component", "TASKDB", "version", version, "commit", commit, "built", date)

	manager.Initialize(ctx, schema.Migrations())

	interval, _ := cfg.Database.GetHealthCheckInterval()
	manager.CheckHealth(ctx)
	manager.StartHealthChecking(ctx, interval)
	manager.StartPoolMetrics(ctx)

	errChan := make(chan error, 1)
	if cfg.HTTP.Enabled {
		latency, _ := cfg.HTTP.GetReadinessDegradedLatency()
		monitor := health.NewMonitor(manager, latency)
		monitor.AddStatusCallback(func(status health.ComponentStatus) {
			if status == health.StatusUnhealthy {
				logger.Error("Database layer is unhealthy", "component", "TASKDB", "active", manager.ActiveTier())
			}
		})

		go httpapi.Start(ctx, monitor, manager, httpapi.ServerOptions{
			Addr:         cfg.HTTP.Addr,
			APIKey:       cfg.HTTP.APIKey,
			AllowedHosts: cfg.HTTP.AllowedHosts,
		}, errChan)
	}

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
		return errors.ExitOK
	case err := <-errChan:
		errorHandler.FatalError("serve", err)
		cancel()
		return errorHandler.WaitForExit()
	}
}

func runInit(args []string) int {
	errorHandler := errors.NewErrorHandler()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, manager, cleanup, err := setup(ctx, "init", args)
	if err != nil {
		reportStartupError(errorHandler, err)
		return errorHandler.WaitForExit()
	}
	defer cleanup()

	start := time.Now()
	manager.Initialize(ctx, schema.Migrations())
	logger.Info("Schema bootstrap finished", "component", "TASKDB", "duration", time.Since(start))

	if ctx.Err() != nil {
		return errors.ExitFailure
	}
	return errors.ExitOK
}

// runHealth prints one AggregateHealth as JSON. It exits non-zero when no tier answered.
func runHealth(args []string, out io.Writer) int {
	errorHandler := errors.NewErrorHandler()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, manager, cleanup, err := setup(ctx, "health", args)
	if err != nil {
		reportStartupError(errorHandler, err)
		return errorHandler.WaitForExit()
	}
	defer cleanup()

	result := manager.CheckHealth(ctx)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		errorHandler.FatalError("encode health", err)
		return errorHandler.WaitForExit()
	}

	if !result.AnyConnected() {
		return errors.ExitFailure
	}
	return errors.ExitOK
}
