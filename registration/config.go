package registration

import (
	"fmt"

	"github.com/c360/regqueue/errors"
)

// ReplayPolicy decides what Drain does after an entry fails to replay.
type ReplayPolicy string

const (
	// ReplayContinue records the failure and replays the remaining entries.
	ReplayContinue ReplayPolicy = "continue"

	// ReplayAbort stops at the first failure; the remaining entries are skipped.
	ReplayAbort ReplayPolicy = "abort"
)

// Config contains manager configuration.
type Config struct {
	// ReplayPolicy applies when routing or delivery fails for a buffered entry.
	ReplayPolicy ReplayPolicy `yaml:"replay_policy" json:"replay_policy"`

	// LogReplayFailures logs each failed entry at warn level as it happens.
	LogReplayFailures bool `yaml:"log_replay_failures" json:"log_replay_failures"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		ReplayPolicy:      ReplayContinue,
		LogReplayFailures: true,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	switch c.ReplayPolicy {
	case "", ReplayContinue, ReplayAbort:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "registration", "Validate",
			fmt.Sprintf("unknown replay_policy %q", c.ReplayPolicy))
	}
}
