package ota

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/updrift-io/updrift/internal/pkg/util/fsm"
	"github.com/updrift-io/updrift/pkg/log"
)

// Status is the externally visible session state.
type Status string

const (
	StatusIdle        Status = "Idle"
	StatusDownloading Status = "Downloading"
	StatusVerifying   Status = "Verifying"
	StatusInstalling  Status = "Installing"
	StatusComplete    Status = "Complete"
	StatusFailed      Status = "Failed"

	// StatusRollingBack is never entered by a live session; it is reported
	// by the boot path when an unconfirmed update from a previous boot is
	// being reverted.
	StatusRollingBack Status = "RollingBack"
)

const (
	eventBegin    = "event_begin"
	eventVerify   = "event_verify"
	eventInstall  = "event_install"
	eventComplete = "event_complete"
	eventFail     = "event_fail"
	eventAbort    = "event_abort"
)

// newSessionFSM builds the session state machine. Failed is reachable from
// every working state; Complete only through Verifying and Installing, so a
// commit without verification is unrepresentable.
func newSessionFSM(s *Session) *fsm.FSM {
	events := fsm.Events{
		{Name: eventBegin, Src: []string{string(StatusIdle)}, Dst: string(StatusDownloading)},
		{Name: eventVerify, Src: []string{string(StatusDownloading)}, Dst: string(StatusVerifying)},
		{Name: eventInstall, Src: []string{string(StatusVerifying)}, Dst: string(StatusInstalling)},
		{Name: eventComplete, Src: []string{string(StatusInstalling)}, Dst: string(StatusComplete)},

		{Name: eventFail, Src: []string{
			string(StatusDownloading), string(StatusVerifying), string(StatusInstalling),
		}, Dst: string(StatusFailed)},

		{Name: eventAbort, Src: []string{
			string(StatusIdle), string(StatusDownloading), string(StatusVerifying), string(StatusInstalling),
		}, Dst: string(StatusFailed)},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			log.Debug("Session transition",
				"session", s.id, "event", e.Event, "from", e.Src, "to", e.Dst)
			return nil
		}),
	}

	return fsm.NewFSM(string(StatusIdle), events, callbacks)
}
