package core

import (
	"context"
	"encoding/json"
)

// Sender publishes outbound events. Implemented by the MQTT hub.
type Sender interface {
	Send(ctx context.Context, event EventType, payload []byte) error
}

// SendJSON marshals v and sends it as the event payload.
func SendJSON(ctx context.Context, s Sender, event EventType, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(ctx, event, payload)
}
