package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/regqueue/errors"
	"github.com/c360/regqueue/pkg/retry"
)

// Publisher publishes raw bytes on a subject. *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSConfig configures a NATSSink.
type NATSConfig struct {
	SubjectPrefix string       `yaml:"subject_prefix" json:"subject_prefix"`
	Retry         retry.Config `yaml:"retry" json:"retry"`
}

// DefaultNATSConfig returns the defaults for NATS delivery.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		SubjectPrefix: "regqueue.delivery",
		Retry:         retry.DefaultConfig(),
	}
}

// NATSSink delivers each message as an Envelope published on
// "<prefix>.<clientID>". Transient publish failures are retried.
type NATSSink[K comparable, M any] struct {
	publisher Publisher
	config    NATSConfig
	logger    *slog.Logger
}

// NewNATSSink creates a sink publishing through publisher.
func NewNATSSink[K comparable, M any](publisher Publisher, cfg NATSConfig, logger *slog.Logger) (*NATSSink[K, M], error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSSink", "NewNATSSink", "publisher check")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "NATSSink", "NewNATSSink", "retry config validation")
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = errors.IsTransient
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &NATSSink[K, M]{
		publisher: publisher,
		config:    cfg,
		logger:    logger.With("component", "nats-sink"),
	}, nil
}

// Subject returns the subject messages for clientID are published on.
func (s *NATSSink[K, M]) Subject(clientID K) string {
	return fmt.Sprintf("%s.%v", s.config.SubjectPrefix, clientID)
}

// Deliver publishes msg for clientID.
func (s *NATSSink[K, M]) Deliver(ctx context.Context, clientID K, msg M) error {
	data, err := encode("NATSSink", clientID, msg)
	if err != nil {
		return err
	}

	subject := s.Subject(clientID)
	attempts := 0
	err = retry.Do(ctx, s.config.Retry, func() error {
		attempts++
		return s.publisher.Publish(ctx, subject, data)
	})
	if err != nil {
		s.logger.Debug("Publish failed", "subject", subject, "attempts", attempts, "error", err)
		return errors.Wrap(err, "NATSSink", "Deliver", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}
