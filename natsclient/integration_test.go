//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	require.True(t, tc.IsReady())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	err := tc.Client.Subscribe(ctx, "regqueue.delivery.client-1", func(_ context.Context, data []byte) {
		received <- data
	})
	require.NoError(t, err)
	require.NoError(t, tc.Client.Flush(ctx))

	require.NoError(t, tc.Client.Publish(ctx, "regqueue.delivery.client-1", []byte(`{"key":1}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"key":1}`, string(data))
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_CloseDisconnects(t *testing.T) {
	tc := NewTestClient(t,
		WithNATSVersion("2.11.7-alpine"),
		WithStartTimeout(time.Minute),
		WithTestTimeout(10*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tc.Client.Close(ctx))
	assert.False(t, tc.Client.IsHealthy())
	assert.Error(t, tc.Client.Publish(ctx, "regqueue.delivery.x", []byte("{}")))
}
