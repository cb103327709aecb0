package core

import (
	"context"
)

// HandlerFunc processes one inbound message payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Module is a pluggable agent capability. Setup wires it to the hardware
// abstraction and the outbound sender; Routes declares the inbound events it
// handles.
type Module interface {
	Name() string

	Setup(ctx context.Context, hal HAL, sender Sender) error

	Routes() map[EventType]HandlerFunc
}
