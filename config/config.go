// Package config loads the YAML configuration of the regqueue simulator.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/regqueue/delivery"
	"github.com/c360/regqueue/errors"
	"github.com/c360/regqueue/registration"
)

// Sink kinds for DeliveryConfig.Sink
const (
	SinkMemory    = "memory"
	SinkNATS      = "nats"
	SinkWebSocket = "websocket"
)

// Config represents the complete application configuration
type Config struct {
	Log          LogConfig           `yaml:"log"`
	Registration registration.Config `yaml:"registration"`
	Delivery     DeliveryConfig      `yaml:"delivery"`
	Simulation   SimulationConfig    `yaml:"simulation"`
	MetricsAddr  string              `yaml:"metrics_addr"` // empty disables the metrics server
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DeliveryConfig selects where delivered messages go.
type DeliveryConfig struct {
	Sink    string              `yaml:"sink"`
	NATSURL string              `yaml:"nats_url"`
	NATS    delivery.NATSConfig `yaml:"nats"`

	// WebSocketAddr is where the websocket sink accepts client connections.
	// Clients identify themselves with ?client=<uuid>.
	WebSocketAddr string `yaml:"websocket_addr"`
}

// SimulationConfig sizes the registration-window simulation.
type SimulationConfig struct {
	Clients int     `yaml:"clients"`
	Events  int     `yaml:"events"`
	Workers int     `yaml:"workers"`
	Rate    float64 `yaml:"rate"`  // events per second, 0 = unlimited
	Burst   int     `yaml:"burst"` // limiter burst when Rate > 0
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:          LogConfig{Level: "info", Format: "text"},
		Registration: registration.DefaultConfig(),
		Delivery: DeliveryConfig{
			Sink:    SinkMemory,
			NATSURL: "nats://localhost:4222",
			NATS:    delivery.DefaultNATSConfig(),

			WebSocketAddr: ":8081",
		},
		Simulation: SimulationConfig{
			Clients: 16,
			Events:  10000,
			Workers: 8,
			Burst:   100,
		},
	}
}

// Load reads path on top of Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "read file")
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "Load", "parse YAML")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from <prefix>_* environment variables.
func (c *Config) ApplyEnv(prefix string) error {
	lookup := func(name string) (string, bool, error) {
		key := prefix + "_" + name
		val, ok := os.LookupEnv(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "config", "ApplyEnv", "validate "+key)
		}
		return val, true, nil
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"LOG_LEVEL", &c.Log.Level},
		{"LOG_FORMAT", &c.Log.Format},
		{"SINK", &c.Delivery.Sink},
		{"NATS_URL", &c.Delivery.NATSURL},
		{"SUBJECT_PREFIX", &c.Delivery.NATS.SubjectPrefix},
		{"WEBSOCKET_ADDR", &c.Delivery.WebSocketAddr},
		{"METRICS_ADDR", &c.MetricsAddr},
	}
	for _, s := range strs {
		val, ok, err := lookup(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"CLIENTS", &c.Simulation.Clients},
		{"EVENTS", &c.Simulation.Events},
		{"WORKERS", &c.Simulation.Workers},
	}
	for _, s := range ints {
		val, ok, err := lookup(s.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "config", "ApplyEnv", "parse "+prefix+"_"+s.name)
		}
		*s.dst = n
	}

	if val, ok, err := lookup("REPLAY_POLICY"); err != nil {
		return err
	} else if ok {
		c.Registration.ReplayPolicy = registration.ReplayPolicy(val)
	}

	return c.Validate()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q unknown", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q unknown", c.Log.Format))
	}

	if err := c.Registration.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.Delivery.Sink {
	case SinkMemory:
	case SinkNATS:
		if c.Delivery.NATSURL == "" {
			problems = append(problems, "delivery.nats_url is required for the nats sink")
		}
		if err := c.Delivery.NATS.Retry.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	case SinkWebSocket:
		if c.Delivery.WebSocketAddr == "" {
			problems = append(problems, "delivery.websocket_addr is required for the websocket sink")
		}
	default:
		problems = append(problems, fmt.Sprintf("delivery.sink %q unknown", c.Delivery.Sink))
	}

	if c.Simulation.Clients < 1 {
		problems = append(problems, "simulation.clients must be positive")
	}
	if c.Simulation.Events < 0 {
		problems = append(problems, "simulation.events cannot be negative")
	}
	if c.Simulation.Workers < 1 {
		problems = append(problems, "simulation.workers must be positive")
	}
	if c.Simulation.Rate < 0 {
		problems = append(problems, "simulation.rate cannot be negative")
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
			"config", "Validate", "check fields")
	}
	return nil
}
