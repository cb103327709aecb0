// Package update is the agent module that executes update commands: it
// resolves the artifact source, drives the session through the fetcher, and
// reports command status upstream.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/updrift-io/updrift/api/v1"
	"github.com/updrift-io/updrift/internal/agent/core"
	"github.com/updrift-io/updrift/internal/fetch"
	"github.com/updrift-io/updrift/internal/ota"
	"github.com/updrift-io/updrift/pkg/log"
)

type Module struct {
	manager *ota.Manager
	fetcher *fetch.Fetcher
	bucket  string

	runCtx context.Context
	hal    core.HAL
	sender core.Sender
}

var _ core.Module = (*Module)(nil)

// New builds the update module. bucket names the object-store bucket used
// for commands that reference an ObjectKey.
func New(manager *ota.Manager, fetcher *fetch.Fetcher, bucket string) *Module {
	return &Module{
		manager: manager,
		fetcher: fetcher,
		bucket:  bucket,
	}
}

func (m *Module) Name() string { return "update" }

func (m *Module) Setup(ctx context.Context, hal core.HAL, sender core.Sender) error {
	m.runCtx = ctx
	m.hal = hal
	m.sender = sender
	return nil
}

func (m *Module) Routes() map[core.EventType]core.HandlerFunc {
	return map[core.EventType]core.HandlerFunc{
		core.EventUpdateCommand: m.handleCommand,
	}
}

func (m *Module) handleCommand(ctx context.Context, payload []byte) error {
	var cmd v1.UpdateCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("update: decode command: %w", err)
	}

	log.Info("Received command", "command", cmd.Command, "id", cmd.CommandID,
		"version", cmd.Version)

	switch cmd.Command {
	case v1.CommandUpdate:
		return m.startUpdate(ctx, cmd)
	case v1.CommandAbort:
		if err := m.manager.Abort(ctx); err != nil {
			m.ack(ctx, cmd.CommandID, "", v1.StatusRejected, err.Error())
			return nil
		}
		m.ack(ctx, cmd.CommandID, "", v1.StatusSucceeded, "session aborted")
		return nil
	case v1.CommandClone:
		m.ack(ctx, cmd.CommandID, "", v1.StatusAccepted, "")
		go m.runClone(cmd)
		return nil
	default:
		m.ack(ctx, cmd.CommandID, "", v1.StatusRejected,
			fmt.Sprintf("unknown command %q", cmd.Command))
		return nil
	}
}

func (m *Module) startUpdate(ctx context.Context, cmd v1.UpdateCommand) error {
	desc := ota.UpdateDescriptor{
		Version: cmd.Version,
		Size:    cmd.Size,
		Digest:  cmd.Digest,
	}
	switch {
	case cmd.URL != "":
		desc.Source = cmd.URL
	case cmd.ObjectKey != "":
		desc.Source = "s3://" + m.bucket + "/" + cmd.ObjectKey
	default:
		m.ack(ctx, cmd.CommandID, "", v1.StatusRejected, "command names no artifact")
		return nil
	}

	sess, err := m.manager.Start(ctx, desc)
	if err != nil {
		m.ack(ctx, cmd.CommandID, "", v1.StatusRejected, err.Error())
		return nil
	}
	m.ack(ctx, cmd.CommandID, sess.ID(), v1.StatusAccepted, "")

	// The transfer outlives the inbound message; it runs on the agent's
	// lifecycle context.
	go m.runTransfer(cmd, sess)
	return nil
}

func (m *Module) runTransfer(cmd v1.UpdateCommand, sess *ota.Session) {
	ctx := m.runCtx

	var err error
	if cmd.URL != "" {
		err = m.fetcher.FromURL(ctx, sess, cmd.URL)
	} else {
		err = m.fetcher.FromObject(ctx, sess, m.bucket, cmd.ObjectKey)
	}

	if err != nil {
		m.ack(ctx, cmd.CommandID, sess.ID(), v1.StatusFailed, err.Error())
		return
	}
	m.ack(ctx, cmd.CommandID, sess.ID(), v1.StatusSucceeded,
		"image verified, pending next boot")
}

func (m *Module) runClone(cmd v1.UpdateCommand) {
	ctx := m.runCtx

	sess, err := m.manager.CloneRunning(ctx)
	if err != nil {
		id := ""
		if sess != nil {
			id = sess.ID()
		}
		m.ack(ctx, cmd.CommandID, id, v1.StatusFailed, err.Error())
		return
	}
	m.ack(ctx, cmd.CommandID, sess.ID(), v1.StatusSucceeded,
		"running slot cloned, pending next boot")
}

func (m *Module) ack(ctx context.Context, commandID, sessionID, status, detail string) {
	msg := v1.CommandStatus{
		CommandID: commandID,
		DeviceID:  m.hal.DeviceID(),
		SessionID: sessionID,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now().Unix(),
	}
	if err := core.SendJSON(ctx, m.sender, core.EventCommandStatus, msg); err != nil {
		log.Error(err, "Failed to send command status", "command", commandID)
	}
}
