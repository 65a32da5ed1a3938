// Package regqueue buffers cache events for clients whose interest
// registration is still in progress, so that no event committed during the
// registration window is lost or delivered twice.
//
// # Layout
//
//   - registration: the queue manager. Create opens a client's window, Add
//     offers every put to the open windows, and Drain replays the buffered
//     events through the client's router and sink before closing the window.
//   - delivery: sinks that hand routed messages to clients over NATS or
//     WebSocket, plus an in-memory recorder.
//   - natsclient: the NATS connection used by the NATS sink.
//   - config: YAML configuration with REGQUEUE_* environment overrides.
//   - metric, health: Prometheus metrics and the /health endpoint.
//   - errors: classified errors (transient, invalid, fatal) shared by every package.
//   - pkg/buffer, pkg/retry: the lock-free FIFO behind each queue and
//     backoff for sink retries.
//   - cmd/regqueue: a simulator that races producers against registrations
//     and verifies exactly-once delivery.
//
// # Registration window
//
// A put that happens while a client is registering must reach the client
// exactly once. Add holds the client's queue read lock while it appends, and
// Drain takes the write lock to detach the queue. An event either lands in the
// queue before the detach and is replayed, or finds no queue and stays in the
// caller's interested set for normal delivery.
//
// # Running
//
//	go run ./cmd/regqueue --config configs/regqueue.yaml
//	go test ./...
//	go test -tags integration ./natsclient/... ./delivery/...
//
// Integration tests start a NATS server with testcontainers and need Docker.
package regqueue
