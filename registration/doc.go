// Package registration buffers cache events for clients whose interest
// registration is still in progress and replays them, exactly once, when the
// registration completes.
//
// # Lifecycle
//
// Each client identity moves through three states:
//
//	NO_QUEUE --Create--> PENDING --Drain/Abandon--> NO_QUEUE
//
// While a client is PENDING, every event passed to Add is appended to the
// client's queue and the client is removed from the caller's interested set, so
// the caller's immediate delivery path skips it. Drain detaches the queue and
// replays each entry: routing is recomputed through the Router and the message
// is handed to the Sink only if the client is still interested.
//
// # Synchronization
//
// Every pending client owns a reader/writer lock. Add holds the shared side
// while it appends, so producers for the same client and for different clients
// run in parallel. Drain holds the exclusive side only long enough to remove
// the queue from the manager's map; once the lock is released, any later Add
// finds no queue for that client and leaves it in the interested set.
//
// An Add whose append completed before Drain acquired the exclusive lock is
// always part of the replay. An Add that finds the queue already gone leaves the
// client in the interested set for normal delivery. No event is lost between the
// two paths and none is delivered by both.
//
// # Usage
//
//	mgr, err := registration.NewManager[string, *CacheEvent, *UpdateMessage]()
//	if err != nil {
//		return err
//	}
//
//	// Client starts registering.
//	if _, err := mgr.Create(clientID); err != nil {
//		return err
//	}
//
//	// Mutation path, any number of goroutines.
//	interested := router.Interested(event)
//	mgr.Add(event, msg, interested)
//	for id := range interested {
//		deliver(id, msg)
//	}
//
//	// Registration completes.
//	result, err := mgr.Drain(ctx, clientID, notifier)
package registration
