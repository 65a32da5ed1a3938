package main

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/regqueue/delivery"
	"github.com/c360/regqueue/errors"
	"github.com/c360/regqueue/registration"
)

func TestTeeSink_WebSocketDeliversToConnectedClients(t *testing.T) {
	wsSink := delivery.NewWebSocketSink[uuid.UUID, update](identifyClient, quietLogger())
	server := httptest.NewServer(wsSink.Handler())
	t.Cleanup(func() {
		wsSink.Close()
		server.Close()
	})

	watched, unwatched := uuid.New(), uuid.New()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?client=" + watched.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return wsSink.Connected(watched) }, 2*time.Second, 10*time.Millisecond)

	recorder := delivery.NewRecorder[uuid.UUID, update]()
	sink := teeSink(wsSink, recorder, func(err error) bool {
		return stderrors.Is(err, errors.ErrClientNotConnected)
	})

	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, watched, update{Seq: 1, Region: "region-1"}))
	require.NoError(t, sink.Deliver(ctx, unwatched, update{Seq: 2, Region: "region-2"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env delivery.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	var got update
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, 1, got.Seq)

	assert.Equal(t, 1, recorder.Count(watched))
	assert.Equal(t, 1, recorder.Count(unwatched))
}

func TestTeeSink_PropagatesFailures(t *testing.T) {
	errDown := stderrors.New("down")
	recorder := delivery.NewRecorder[uuid.UUID, update]()
	failing := registration.SinkFunc[uuid.UUID, update](func(context.Context, uuid.UUID, update) error {
		return errDown
	})

	id := uuid.New()
	assert.ErrorIs(t, teeSink(failing, recorder, nil).Deliver(context.Background(), id, update{}), errDown)
	assert.Zero(t, recorder.Total())
}

func TestIdentifyClient(t *testing.T) {
	id := uuid.New()
	got, err := identifyClient(httptest.NewRequest(http.MethodGet, "/ws?client="+id.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = identifyClient(httptest.NewRequest(http.MethodGet, "/ws?client=nope", nil))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRun_WebSocketSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regqueue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
delivery:
  sink: websocket
  websocket_addr: 127.0.0.1:0
simulation:
  clients: 3
  events: 300
  workers: 2
`), 0600))

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--config", path, "--log-level", "error"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	var report Report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	assert.Empty(t, report.Violations)
	assert.Equal(t, 300, report.Events)
}
