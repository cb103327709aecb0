// Package hub connects agent modules to the MQTT broker: outbound events go
// through the Sender interface, inbound topics are routed to module handlers.
package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/updrift-io/updrift/internal/agent/core"
	"github.com/updrift-io/updrift/pkg/log"
	"github.com/updrift-io/updrift/pkg/mqtt"
	mqtttopic "github.com/updrift-io/updrift/pkg/mqtt/topic"
)

type Hub struct {
	deviceID string

	mc     mqtt.Client
	topics *mqtttopic.Builder

	routes map[string]core.HandlerFunc
}

var _ core.Sender = (*Hub)(nil)

func New(deviceID string, client mqtt.Client, builder *mqtttopic.Builder) *Hub {
	return &Hub{
		deviceID: deviceID,
		mc:       client,
		topics:   builder,
		routes:   make(map[string]core.HandlerFunc),
	}
}

func (b *Hub) Send(ctx context.Context, event core.EventType, payload []byte) error {
	segment, ok := events[event]
	if !ok {
		return fmt.Errorf("unmapped event: %s", event)
	}
	fullTopic := b.topics.Build(segment, b.deviceID)
	return b.mc.Publish(ctx, fullTopic, 1, event == core.EventOnline, payload)
}

// Start connects to the broker and subscribes every registered route.
func (b *Hub) Start(ctx context.Context) error {
	if err := b.mc.Start(ctx); err != nil {
		return err
	}

	if err := b.mc.AwaitConnection(ctx); err != nil {
		return err
	}

	for topic, handler := range b.routes {
		err := b.mc.Subscribe(ctx, topic, 1, func(c context.Context, _ string, p []byte) {
			if handleErr := handler(c, p); handleErr != nil {
				log.Error(handleErr, "Handler execution failed", "topic", topic)
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (b *Hub) Stop() {
	log.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.mc.Disconnect(ctx)
}
