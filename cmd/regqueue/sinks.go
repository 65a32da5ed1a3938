package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/c360/regqueue/config"
	"github.com/c360/regqueue/delivery"
	"github.com/c360/regqueue/errors"
	"github.com/c360/regqueue/health"
	"github.com/c360/regqueue/natsclient"
	"github.com/c360/regqueue/registration"
)

// buildSink returns the configured sink and a function releasing it.
// Deliveries always reach recorder so the run can be verified.
func buildSink(
	ctx context.Context,
	cfg *config.Config,
	recorder *delivery.Recorder[uuid.UUID, update],
	monitor *health.Monitor,
	logger *slog.Logger,
) (registration.Sink[uuid.UUID, update], func(context.Context), error) {
	switch cfg.Delivery.Sink {
	case config.SinkNATS:
		return buildNATSSink(ctx, cfg, recorder, monitor, logger)
	case config.SinkWebSocket:
		return buildWebSocketSink(cfg, recorder, monitor, logger)
	default:
		monitor.Update("delivery", health.NewHealthy("delivery", "recording in memory"))
		return recorder, func(context.Context) {}, nil
	}
}

// teeSink delivers through primary and records on success. Errors for which
// ignore returns true are treated as success.
func teeSink(
	primary registration.Sink[uuid.UUID, update],
	recorder *delivery.Recorder[uuid.UUID, update],
	ignore func(error) bool,
) registration.Sink[uuid.UUID, update] {
	return registration.SinkFunc[uuid.UUID, update](func(ctx context.Context, id uuid.UUID, msg update) error {
		if err := primary.Deliver(ctx, id, msg); err != nil && (ignore == nil || !ignore(err)) {
			return err
		}
		return recorder.Deliver(ctx, id, msg)
	})
}

func buildNATSSink(
	ctx context.Context,
	cfg *config.Config,
	recorder *delivery.Recorder[uuid.UUID, update],
	monitor *health.Monitor,
	logger *slog.Logger,
) (registration.Sink[uuid.UUID, update], func(context.Context), error) {
	client, err := natsclient.NewClient(cfg.Delivery.NATSURL,
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithDisconnectCallback(func(err error) {
			if err != nil {
				monitor.Update("delivery", health.FromError("delivery", err))
			}
		}),
		natsclient.WithReconnectCallback(func() {
			monitor.Update("delivery", health.NewHealthy("delivery", "reconnected to NATS"))
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	monitor.AddProbe("nats", func() health.Status {
		switch status := client.Status(); status {
		case natsclient.StatusConnected:
			return health.NewHealthy("nats", status.String())
		case natsclient.StatusDisconnected:
			return health.NewUnhealthy("nats", status.String())
		default:
			return health.NewDegraded("nats", status.String())
		}
	})
	if err := client.Connect(ctx); err != nil {
		monitor.Update("delivery", health.FromError("delivery", err))
		return nil, nil, err
	}
	monitor.Update("delivery", health.NewHealthy("delivery", "publishing to NATS"))

	natsSink, err := delivery.NewNATSSink[uuid.UUID, update](client, cfg.Delivery.NATS, logger)
	if err != nil {
		_ = client.Close(ctx)
		return nil, nil, err
	}

	closeFn := func(ctx context.Context) {
		if err := client.Flush(ctx); err != nil {
			logger.Warn("NATS flush failed", "error", err)
		}
		if err := client.Close(ctx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}
	return teeSink(natsSink, recorder, nil), closeFn, nil
}

// identifyClient reads the client identity from the ?client= query parameter.
func identifyClient(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.URL.Query().Get("client"))
	if err != nil {
		return uuid.Nil, errors.WrapInvalid(err, "websocket", "identify", "parse client parameter")
	}
	return id, nil
}

// buildWebSocketSink serves the websocket sink on cfg.Delivery.WebSocketAddr.
// Updates for clients with no open connection are recorded but not sent.
func buildWebSocketSink(
	cfg *config.Config,
	recorder *delivery.Recorder[uuid.UUID, update],
	monitor *health.Monitor,
	logger *slog.Logger,
) (registration.Sink[uuid.UUID, update], func(context.Context), error) {
	wsSink := delivery.NewWebSocketSink[uuid.UUID, update](identifyClient, logger)

	ln, err := net.Listen("tcp", cfg.Delivery.WebSocketAddr)
	if err != nil {
		monitor.Update("delivery", health.FromError("delivery", err))
		return nil, nil, errors.WrapFatal(err, "websocket", "Listen", "listen on "+cfg.Delivery.WebSocketAddr)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", wsSink.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			monitor.Update("delivery", health.FromError("delivery", err))
			logger.Error("WebSocket server stopped", "error", err)
		}
	}()

	logger.Info("Serving websocket deliveries", "address", "ws://"+ln.Addr().String()+"/ws")
	monitor.Update("delivery", health.NewHealthy("delivery", "serving websocket clients"))

	notConnected := func(err error) bool { return stderrors.Is(err, errors.ErrClientNotConnected) }
	closeFn := func(ctx context.Context) {
		wsSink.Close()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("WebSocket server shutdown failed", "error", err)
		}
	}
	return teeSink(wsSink, recorder, notConnected), closeFn, nil
}
