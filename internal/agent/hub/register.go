package hub

import (
	"fmt"

	"github.com/updrift-io/updrift/internal/agent/core"
	mqtttopic "github.com/updrift-io/updrift/pkg/mqtt/topic"
)

// events maps event types to their topic segments. The mapping is the wire
// contract and never changes at runtime.
var events = map[core.EventType]string{
	core.EventRegister:      mqtttopic.SegmentRegister,
	core.EventOnline:        mqtttopic.SegmentOnline,
	core.EventUpdateCommand: mqtttopic.SegmentCommand,
	core.EventCommandStatus: mqtttopic.SegmentCommandAck,
	core.EventProgress:      mqtttopic.SegmentProgress,
}

// Register binds an inbound event to a module handler. Must be called before
// Start; subscriptions happen once at connect.
func (b *Hub) Register(event core.EventType, handler core.HandlerFunc) error {
	segment, ok := events[event]
	if !ok {
		return fmt.Errorf("unmapped event: %s", event)
	}
	fullTopic := b.topics.Build(segment, b.deviceID)
	b.routes[fullTopic] = handler
	return nil
}
