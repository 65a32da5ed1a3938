package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("REGQUEUE_CONFIG", ""),
		"Path to YAML configuration file; defaults are used when empty (env: REGQUEUE_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("REGQUEUE_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides the config file (env: REGQUEUE_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("REGQUEUE_LOG_FORMAT", ""),
		"Log format: json, text; overrides the config file (env: REGQUEUE_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("REGQUEUE_DEBUG", false),
		"Enable debug logging (env: REGQUEUE_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("REGQUEUE_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: REGQUEUE_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - registration queue simulator

Registers clients, streams cache events at them while their interest
registration is incomplete, then drains each registration queue and checks
that every client received each event it is interested in exactly once.

Usage: %s [options]

Options:
`, appName, fs.Name())
	fs.PrintDefaults()
	printExamples(out, fs.Name())
}

func printExamples(out io.Writer, name string) {
	_, _ = fmt.Fprintf(out, `
Examples:
  # Run with defaults and text logs
  %s --log-format=text

  # Publish deliveries to NATS
  export REGQUEUE_SINK=nats
  export REGQUEUE_NATS_URL=nats://localhost:4222
  %s

  # Validate configuration only
  %s --config=regqueue.yaml --validate

Version: %s
Build: %s
`, name, name, name, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
