// Package errors provides classified errors for the registration queue and its
// delivery adapters.
//
// # Error Classification
//
// Every error raised by this module is either a sentinel or a ClassifiedError
// wrapping one. Three classes cover the cases the registration queue cares about:
//
//   - Transient: transport hiccups (lost connection, publish timeout). Delivery
//     adapters retry these.
//   - Invalid: caller contract violations, such as creating a second queue for a
//     client that is already registering or draining a client that never
//     registered. Never retried.
//   - Fatal: configuration that cannot be used.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// For example:
//
//	if _, loaded := m.queues.LoadOrStore(id, q); loaded {
//	    return nil, errors.WrapInvalid(errors.ErrAlreadyRegistering, "Manager", "Create", "queue insert")
//	}
//
// Classification survives errors.Is/errors.As chains, so a replay failure that
// wraps a transient publish error is still reported as transient:
//
//	var ce *errors.ClassifiedError
//	if errors.As(err, &ce) {
//	    logger.Warn("replay failed", "component", ce.Component, "class", ce.Class)
//	}
package errors
