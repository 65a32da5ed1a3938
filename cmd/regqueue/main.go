// Package main implements regqueue, a simulator that drives the registration
// queue manager with concurrent cache puts and client registrations and
// checks exactly-once delivery.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"

	"github.com/c360/regqueue/config"
	"github.com/c360/regqueue/delivery"
	"github.com/c360/regqueue/errors"
	"github.com/c360/regqueue/health"
	"github.com/c360/regqueue/metric"
	"github.com/c360/regqueue/registration"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "regqueue"
	envPrefix = "REGQUEUE"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed",
			"error", err,
			"error_class", errors.Classify(err).String(),
			"exit_code", 1)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("Starting regqueue simulation",
		"version", Version,
		"clients", cfg.Simulation.Clients,
		"events", cfg.Simulation.Events,
		"workers", cfg.Simulation.Workers,
		"sink", cfg.Delivery.Sink)

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	manager, err := registration.NewManager[uuid.UUID, cacheEvent, update](
		registration.WithConfig(cfg.Registration),
		registration.WithLogger(logger),
		registration.WithMetrics(registry, "simulation"),
	)
	if err != nil {
		return err
	}
	monitor.AddProbe("registration", func() health.Status {
		return health.NewHealthy("registration", fmt.Sprintf("%d registrations pending", manager.Pending()))
	})

	if cfg.MetricsAddr != "" {
		server := metric.NewServer(cfg.MetricsAddr, "/metrics", registry)
		server.SetHealthHandler(health.Handler(monitor, appName))
		if err := server.Start(); err != nil {
			return err
		}
		logger.Info("Serving metrics", "address", server.Address())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", "error", err)
			}
		}()
	}

	recorder := delivery.NewRecorder[uuid.UUID, update]()
	sink, closeSink, err := buildSink(ctx, cfg, recorder, monitor, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		closeSink(shutdownCtx)
	}()

	report, err := newSimulator(cfg.Simulation, manager, sink, recorder, logger).run(ctx)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if len(report.Violations) > 0 {
		return fmt.Errorf("exactly-once check failed with %d violations", len(report.Violations))
	}
	logger.Info("Simulation complete",
		"delivered", report.Delivered,
		"replayed", report.Replayed,
		"duration", report.Duration)
	return nil
}

// loadConfig reads the config file if one was given, then applies REGQUEUE_*
// environment overrides and finally the log flags.
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cliCfg.ConfigPath != "" {
		loaded, err := config.Load(cliCfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(envPrefix); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	return cfg, nil
}
