// Package delivery provides Sink implementations that hand replayed and live
// registration messages to clients over NATS, WebSocket, or memory.
package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/regqueue/errors"
)

// Envelope wraps every message sent to a client.
type Envelope struct {
	Type      string          `json:"type"` // always "data"
	ID        string          `json:"id"`
	ClientID  string          `json:"client_id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload"`
}

func encode[K comparable, M any](component string, clientID K, msg M) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrEncodingFailed, err),
			component, "Deliver", "payload marshal")
	}

	data, err := json.Marshal(Envelope{
		Type:      "data",
		ID:        uuid.NewString(),
		ClientID:  fmt.Sprint(clientID),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrEncodingFailed, err),
			component, "Deliver", "envelope marshal")
	}
	return data, nil
}
