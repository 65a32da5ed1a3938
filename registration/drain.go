package registration

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/c360/regqueue/errors"
)

// ReplayStage identifies where replaying an entry failed.
type ReplayStage string

const (
	// StageRoute means the Router could not recompute interest.
	StageRoute ReplayStage = "route"
	// StageDeliver means the Sink rejected the message.
	StageDeliver ReplayStage = "deliver"
)

// ReplayError reports one buffered entry that could not be replayed.
type ReplayError struct {
	Index int // position of the entry in the drained queue
	Stage ReplayStage
	Err   error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay entry %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// DrainResult summarizes one Drain call.
// Entries == Delivered + Discarded + Failed + Skipped.
type DrainResult struct {
	Entries   int           `json:"entries"`
	Delivered int           `json:"delivered"`
	Discarded int           `json:"discarded"` // client no longer interested
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"` // not attempted after an abort
	Duration  time.Duration `json:"duration"`
}

// Drain ends clientID's registration window. It detaches the client's queue,
// then replays the buffered entries in the order they were added: for each
// entry the Router recomputes interest, and the message is delivered through
// the Sink only if clientID is still interested. Entries the client no longer
// wants are discarded.
//
// Drain must be called at most once per registration. Draining a client with no
// pending queue returns an error wrapping errors.ErrNotRegistering.
//
// Routing and delivery failures are not retried. Each one is returned as a
// *ReplayError joined into the error result; whether the remaining entries are
// still replayed depends on the configured ReplayPolicy. The queue is consumed
// either way.
func (m *Manager[K, E, M]) Drain(ctx context.Context, clientID K, notifier Notifier[K, E, M]) (DrainResult, error) {
	if notifier == nil {
		return DrainResult{}, errors.WrapInvalid(errors.ErrNilNotifier, "Manager", "Drain", "notifier check")
	}

	q, err := m.detach(clientID, "Drain")
	if err != nil {
		return DrainResult{}, err
	}

	start := time.Now()
	entries := q.entries.Drain()
	result := DrainResult{Entries: len(entries)}

	var failures []error
	for i, entry := range entries {
		if len(failures) > 0 && m.config.ReplayPolicy == ReplayAbort {
			result.Skipped = len(entries) - i
			break
		}

		delivered, rerr := m.replay(ctx, clientID, notifier, i, entry)
		switch {
		case rerr != nil:
			result.Failed++
			failures = append(failures, rerr)
			if m.config.LogReplayFailures {
				m.logger.Warn("Registration replay failed",
					"client_id", clientID,
					"index", i,
					"stage", rerr.Stage,
					"error_class", errors.Classify(rerr.Err).String(),
					"error", rerr.Err)
			}
		case delivered:
			result.Delivered++
		default:
			result.Discarded++
		}
	}

	result.Duration = time.Since(start)
	m.metrics.recordDrain(result)

	m.logger.Info("Registration queue drained",
		"client_id", clientID,
		"entries", result.Entries,
		"delivered", result.Delivered,
		"discarded", result.Discarded,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration", result.Duration)

	if len(failures) > 0 {
		return result, errors.Wrap(stderrors.Join(failures...), "Manager", "Drain",
			fmt.Sprintf("replay of %d entries", len(failures)))
	}
	return result, nil
}

// replay routes and delivers a single entry.
func (m *Manager[K, E, M]) replay(
	ctx context.Context, clientID K, notifier Notifier[K, E, M], index int, entry Entry[E, M],
) (bool, *ReplayError) {
	interested, err := notifier.InterestedClients(ctx, entry.Event, entry.Message)
	if err != nil {
		return false, &ReplayError{Index: index, Stage: StageRoute, Err: err}
	}
	if !interested.Contains(clientID) {
		return false, nil
	}

	if err := notifier.Deliver(ctx, clientID, entry.Message); err != nil {
		return false, &ReplayError{Index: index, Stage: StageDeliver, Err: err}
	}
	return true, nil
}
