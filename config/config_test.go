package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/regqueue/errors"
	"github.com/c360/regqueue/registration"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, SinkMemory, cfg.Delivery.Sink)
	assert.Equal(t, registration.ReplayContinue, cfg.Registration.ReplayPolicy)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, "regqueue.yaml", `
log:
  level: debug
  format: json
registration:
  replay_policy: abort
  log_replay_failures: false
delivery:
  sink: nats
  nats_url: nats://broker:4222
  nats:
    subject_prefix: cache.updates
    retry:
      max_attempts: 5
      initial_delay: 10ms
      max_delay: 1s
simulation:
  clients: 4
  events: 100
  workers: 2
  rate: 500
metrics_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, registration.ReplayAbort, cfg.Registration.ReplayPolicy)
	assert.False(t, cfg.Registration.LogReplayFailures)
	assert.Equal(t, SinkNATS, cfg.Delivery.Sink)
	assert.Equal(t, "cache.updates", cfg.Delivery.NATS.SubjectPrefix)
	assert.Equal(t, 5, cfg.Delivery.NATS.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Delivery.NATS.Retry.InitialDelay)
	assert.Equal(t, time.Second, cfg.Delivery.NATS.Retry.MaxDelay)
	assert.Equal(t, 4, cfg.Simulation.Clients)
	assert.Equal(t, 500.0, cfg.Simulation.Rate)
	// Unset keys keep their defaults.
	assert.Equal(t, 100, cfg.Simulation.Burst)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown key", "a.yaml", "simulation:\n  clientz: 3\n"},
		{"bad replay policy", "b.yaml", "registration:\n  replay_policy: sometimes\n"},
		{"bad sink", "c.yml", "delivery:\n  sink: kafka\n"},
		{"not yaml extension", "d.json", "{}"},
		{"malformed", "e.yaml", "log: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Simulation.Clients = 0
	cfg.Simulation.Workers = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "simulation.clients")
	assert.Contains(t, err.Error(), "simulation.workers")
	assert.Contains(t, err.Error(), "log.format")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TESTRQ_SINK", "nats")
	t.Setenv("TESTRQ_NATS_URL", "nats://env:4222")
	t.Setenv("TESTRQ_CLIENTS", "7")
	t.Setenv("TESTRQ_REPLAY_POLICY", "abort")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv("TESTRQ"))

	assert.Equal(t, SinkNATS, cfg.Delivery.Sink)
	assert.Equal(t, "nats://env:4222", cfg.Delivery.NATSURL)
	assert.Equal(t, 7, cfg.Simulation.Clients)
	assert.Equal(t, registration.ReplayAbort, cfg.Registration.ReplayPolicy)
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("TESTRQ_WORKERS", "many")
	assert.Error(t, Default().ApplyEnv("TESTRQ"))
}

func TestLoad_ExampleConfig(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("..", "configs", "regqueue.yaml"))
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SinkNATS, cfg.Delivery.Sink)
	assert.Equal(t, 5, cfg.Delivery.NATS.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Delivery.NATS.Retry.InitialDelay)
	assert.Equal(t, 32, cfg.Simulation.Clients)
}

func TestValidate_WebSocketSink(t *testing.T) {
	cfg := Default()
	cfg.Delivery.Sink = SinkWebSocket
	require.NoError(t, cfg.Validate())

	cfg.Delivery.WebSocketAddr = ""
	err := cfg.Validate()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "delivery.websocket_addr")

	t.Setenv("TESTRQ_SINK", "websocket")
	t.Setenv("TESTRQ_WEBSOCKET_ADDR", "127.0.0.1:0")
	cfg = Default()
	require.NoError(t, cfg.ApplyEnv("TESTRQ"))
	assert.Equal(t, SinkWebSocket, cfg.Delivery.Sink)
	assert.Equal(t, "127.0.0.1:0", cfg.Delivery.WebSocketAddr)
}
