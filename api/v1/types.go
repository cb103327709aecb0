// Package v1 defines the JSON messages exchanged between the update service
// and the device agents over MQTT. Field names are the wire contract.
package v1

import (
	"github.com/opencontainers/go-digest"
)

// Command verbs accepted on the update command topic.
const (
	CommandUpdate = "update"
	CommandAbort  = "abort"
	CommandClone  = "clone"
)

// Command status values reported on the ack topic.
const (
	StatusAccepted   = "Accepted"
	StatusRejected   = "Rejected"
	StatusInProgress = "InProgress"
	StatusSucceeded  = "Succeeded"
	StatusFailed     = "Failed"
)

// UpdateCommand instructs an agent to start, abort, or clone an update.
// For CommandUpdate the artifact is fetched from URL when set, otherwise
// from the configured S3 bucket at ObjectKey.
type UpdateCommand struct {
	CommandID string `json:"command_id"`
	Command   string `json:"command"`

	Version   string        `json:"version,omitempty"`
	Size      uint64        `json:"size,omitempty"`
	Digest    digest.Digest `json:"digest,omitempty"`
	URL       string        `json:"url,omitempty"`
	ObjectKey string        `json:"object_key,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// CommandStatus acknowledges a command and reports its terminal outcome.
type CommandStatus struct {
	CommandID string `json:"command_id"`
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// RegisterRequest announces a device and its running firmware to the service.
type RegisterRequest struct {
	DeviceID        string `json:"device_id"`
	FirmwareVersion string `json:"firmware_version"`
	ActiveSlot      string `json:"active_slot"`
	Description     string `json:"description,omitempty"`
	Timestamp       int64  `json:"timestamp"`
}

// OnlineStatus is the retained presence message; the broker publishes it
// with Online=false as the agent's last will.
type OnlineStatus struct {
	DeviceID string `json:"device_id"`
	Online   bool   `json:"online"`
	Reason   string `json:"reason,omitempty"`
}

// ProgressEvent reports transfer progress while an image streams into a slot.
type ProgressEvent struct {
	DeviceID  string `json:"device_id"`
	SessionID string `json:"session_id"`
	Slot      string `json:"slot"`
	Written   uint64 `json:"written"`
	Total     uint64 `json:"total"`
	Percent   int    `json:"percent"`
	Timestamp int64  `json:"timestamp"`
}
