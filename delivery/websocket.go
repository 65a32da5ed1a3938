package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/regqueue/errors"
)

const defaultWriteTimeout = 10 * time.Second

// IdentifyFunc extracts the client identity from an upgrade request.
type IdentifyFunc[K comparable] func(r *http.Request) (K, error)

type wsClient struct {
	conn        *websocket.Conn
	connectedAt time.Time
	writeMu     sync.Mutex // gorilla/websocket panics on concurrent writes
	closeOnce   sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// WebSocketSink delivers messages as JSON text frames on each client's
// WebSocket connection. One connection per client identity; a newer
// connection replaces the older one.
type WebSocketSink[K comparable, M any] struct {
	identify IdentifyFunc[K]
	upgrader websocket.Upgrader
	logger   *slog.Logger

	clients   map[K]*wsClient
	clientsMu sync.RWMutex
}

// NewWebSocketSink creates a sink whose Handler identifies clients with identify.
func NewWebSocketSink[K comparable, M any](identify IdentifyFunc[K], logger *slog.Logger) *WebSocketSink[K, M] {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketSink[K, M]{
		identify: identify,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger.With("component", "websocket-sink"),
		clients: make(map[K]*wsClient),
	}
}

// Handler upgrades requests to WebSocket connections and registers them
// under the identity returned by the IdentifyFunc.
func (s *WebSocketSink[K, M]) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, err := s.identify(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("Upgrade failed", "client_id", clientID, "error", err)
			return
		}

		client := s.register(clientID, conn)
		go s.readLoop(clientID, client)
	})
}

func (s *WebSocketSink[K, M]) register(clientID K, conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn, connectedAt: time.Now()}

	s.clientsMu.Lock()
	previous := s.clients[clientID]
	s.clients[clientID] = client
	s.clientsMu.Unlock()

	if previous != nil {
		previous.close()
	}
	s.logger.Debug("Client connected", "client_id", clientID)
	return client
}

// readLoop discards inbound frames until the connection fails, then
// unregisters the client.
func (s *WebSocketSink[K, M]) readLoop(clientID K, client *wsClient) {
	defer s.remove(clientID, client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *WebSocketSink[K, M]) remove(clientID K, client *wsClient) {
	s.clientsMu.Lock()
	if s.clients[clientID] == client {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	client.close()
	s.logger.Debug("Client disconnected", "client_id", clientID,
		"connected_for", time.Since(client.connectedAt))
}

// Connected reports whether clientID has a live connection.
func (s *WebSocketSink[K, M]) Connected(clientID K) bool {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	_, ok := s.clients[clientID]
	return ok
}

// Deliver writes msg to clientID's connection. A client with no connection
// yields errors.ErrClientNotConnected. A failed write drops the connection.
func (s *WebSocketSink[K, M]) Deliver(ctx context.Context, clientID K, msg M) error {
	s.clientsMu.RLock()
	client, ok := s.clients[clientID]
	s.clientsMu.RUnlock()
	if !ok {
		return errors.WrapInvalid(errors.ErrClientNotConnected, "WebSocketSink", "Deliver",
			fmt.Sprintf("lookup client %v", clientID))
	}

	data, err := encode("WebSocketSink", clientID, msg)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	client.writeMu.Lock()
	_ = client.conn.SetWriteDeadline(deadline)
	err = client.conn.WriteMessage(websocket.TextMessage, data)
	client.writeMu.Unlock()

	if err != nil {
		s.remove(clientID, client)
		return errors.WrapTransient(err, "WebSocketSink", "Deliver", fmt.Sprintf("write to client %v", clientID))
	}
	return nil
}

// Close disconnects every client.
func (s *WebSocketSink[K, M]) Close() {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[K]*wsClient)
	s.clientsMu.Unlock()

	for _, client := range clients {
		client.close()
	}
}
