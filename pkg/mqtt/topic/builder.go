package topic

import (
	"fmt"
)

// Segments defining the standard topic layout. These are the protocol
// contract between the update service and the agents; changing them breaks
// deployed devices.
const (
	// SegmentCommand is the downstream update command topic (Cloud -> Device).
	// Structure: {root}/update/cmd/{deviceID}
	SegmentCommand = "update/cmd"

	// SegmentCommandAck is the upstream command status topic (Device -> Cloud).
	// Structure: {root}/update/ack/{deviceID}
	SegmentCommandAck = "update/ack"

	// SegmentProgress is the upstream transfer progress topic (Device -> Cloud).
	// Structure: {root}/update/progress/{deviceID}
	SegmentProgress = "update/progress"

	// SegmentRegister is the upstream registration topic (Device -> Cloud).
	// Structure: {root}/register/{deviceID}
	SegmentRegister = "register"

	// SegmentOnline is the retained online/offline presence topic.
	// Structure: {root}/online/{deviceID}
	SegmentOnline = "online"
)

// Builder constructs MQTT topic strings under a fixed root namespace.
type Builder struct {
	root string
}

// NewBuilder creates a Builder with the specified root namespace
// (e.g. "updrift/v1").
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Build constructs the final topic string: {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, segment, id)
}

// Command returns the topic for update commands addressed to one device.
func (b *Builder) Command(deviceID string) string {
	return b.Build(SegmentCommand, deviceID)
}

// CommandAck returns the topic a device reports command status on.
func (b *Builder) CommandAck(deviceID string) string {
	return b.Build(SegmentCommandAck, deviceID)
}

// Progress returns the topic a device publishes transfer progress on.
func (b *Builder) Progress(deviceID string) string {
	return b.Build(SegmentProgress, deviceID)
}

// Register returns the topic a device registers itself on.
func (b *Builder) Register(deviceID string) string {
	return b.Build(SegmentRegister, deviceID)
}

// Online returns the retained presence topic for one device.
func (b *Builder) Online(deviceID string) string {
	return b.Build(SegmentOnline, deviceID)
}
