package ota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/updrift-io/updrift/internal/bootsel"
	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/history"
	"github.com/updrift-io/updrift/internal/partition"
	"github.com/updrift-io/updrift/internal/pkg/metrics"
	"github.com/updrift-io/updrift/internal/slotio"
	"github.com/updrift-io/updrift/internal/verify"
	"github.com/updrift-io/updrift/pkg/log"
)

// maxChunkRetries bounds in-place retries of a single chunk after a
// transient flash failure. Integrity failures are never retried.
const maxChunkRetries = 3

// UpdateDescriptor declares an incoming image before its first byte arrives.
type UpdateDescriptor struct {
	Version string        `json:"version"`
	Source  string        `json:"source,omitempty"`
	Size    uint64        `json:"size"`
	Digest  digest.Digest `json:"digest"`
}

// Validate rejects descriptors no session could ever complete.
func (d UpdateDescriptor) Validate() error {
	if d.Size == 0 {
		return ErrEmptyImage
	}
	if err := d.Digest.Validate(); err != nil {
		return fmt.Errorf("ota: invalid expected digest: %w", err)
	}
	return nil
}

// Snapshot is a point-in-time view of a session for status reporting.
type Snapshot struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Version    string    `json:"version"`
	Target     string    `json:"target"`
	Written    uint64    `json:"written"`
	Total      uint64    `json:"total"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Session drives one image transfer into the alternate slot. All methods are
// safe for concurrent use; the state machine rejects calls that arrive out
// of order.
type Session struct {
	id       string
	desc     UpdateDescriptor
	target   partition.Slot
	dev      flash.Device
	selector *bootsel.Selector

	mu         sync.Mutex
	machine    machineAPI
	writer     *slotio.Writer
	err        error
	startedAt  time.Time
	finishedAt time.Time
	onDone     func(s *Session, outcome string, e history.Entry)
}

type machineAPI interface {
	Current() string
	Event(ctx context.Context, event string, args ...interface{}) error
}

func newSession(dev flash.Device, target partition.Slot, desc UpdateDescriptor,
	selector *bootsel.Selector, onProgress slotio.ProgressFunc,
	onDone func(*Session, string, history.Entry)) *Session {

	s := &Session{
		id:        uuid.NewString(),
		desc:      desc,
		target:    target,
		dev:       dev,
		selector:  selector,
		startedAt: time.Now(),
		onDone:    onDone,
	}
	s.machine = newSessionFSM(s)
	s.writer = slotio.NewWriter(dev, target, desc.Size, onProgress)
	return s
}

// ID returns the session identifier used in acks, progress events and the
// journal.
func (s *Session) ID() string { return s.id }

// Target returns the slot this session writes into.
func (s *Session) Target() partition.Slot { return s.target }

// Descriptor returns the declared image metadata.
func (s *Session) Descriptor() UpdateDescriptor { return s.desc }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status(s.machine.Current())
}

// Err returns the error a failed session concluded with.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot returns the session state for status reporting.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		Status:     Status(s.machine.Current()),
		Version:    s.desc.Version,
		Target:     s.target.Label,
		Written:    s.writer.Written(),
		Total:      s.desc.Size,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// begin erases the target slot and opens the transfer.
func (s *Session) begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Erase(); err != nil {
		s.failLocked(ctx, fmt.Errorf("ota: erase target slot: %w", err))
		return err
	}
	return s.machine.Event(ctx, eventBegin)
}

// Feed programs the next run of image bytes into the target slot. Transient
// flash failures are retried in place up to maxChunkRetries times per chunk;
// anything else fails the session.
func (s *Session) Feed(ctx context.Context, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := Status(s.machine.Current()); cur != StatusDownloading {
		if cur == StatusComplete || cur == StatusFailed {
			return ErrSessionConcluded
		}
		return ErrNotDownloading
	}

	if s.writer.Written()+uint64(len(p)) > s.desc.Size {
		err := fmt.Errorf("%w: declared %d bytes", ErrOversizedImage, s.desc.Size)
		s.failLocked(ctx, err)
		return err
	}

	for off := 0; off < len(p); off += slotio.ChunkSize {
		if err := ctx.Err(); err != nil {
			s.failLocked(ctx, err)
			return err
		}

		end := off + slotio.ChunkSize
		if end > len(p) {
			end = len(p)
		}
		chunk := p[off:end]

		if err := s.writeChunk(chunk); err != nil {
			s.failLocked(ctx, err)
			return err
		}
		metrics.BytesWritten.Add(float64(len(chunk)))
	}
	return nil
}

func (s *Session) writeChunk(p []byte) error {
	return s.retryWrite(func() error { return s.writer.WriteChunk(p) })
}

// retryWrite runs one writer operation, re-erasing and retrying the failed
// block on transient flash errors. Integrity and sequencing failures are
// returned immediately.
func (s *Session) retryWrite(op func() error) error {
	var err error
	for attempt := 0; attempt <= maxChunkRetries; attempt++ {
		if attempt > 0 {
			metrics.ChunkRetriesTotal.Inc()
			log.Warn("Retrying chunk after transient write failure",
				"session", s.id, "slot", s.target.Label, "offset", s.writer.Written(),
				"attempt", attempt, "err", err)
			if rerr := s.writer.RewindChunk(); rerr != nil {
				return fmt.Errorf("ota: rewind failed chunk: %w", rerr)
			}
		}

		err = op()
		if err == nil {
			return nil
		}
		if !flash.IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("ota: chunk write failed after %d retries: %w", maxChunkRetries, err)
}

// Finish verifies the written image and, only on success, marks the target
// slot pending in the boot record. Any mismatch fails the session and leaves
// the boot record untouched.
func (s *Session) Finish(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.machine.Event(ctx, eventVerify); err != nil {
		if cur := Status(s.machine.Current()); cur == StatusComplete || cur == StatusFailed {
			return ErrSessionConcluded
		}
		return fmt.Errorf("ota: finish: %w", err)
	}

	// Land the buffered tail before anything reads the slot back.
	if err := s.retryWrite(s.writer.Flush); err != nil {
		err = fmt.Errorf("ota: flush image tail: %w", err)
		s.failLocked(ctx, err)
		return err
	}

	if got := s.writer.Written(); got != s.desc.Size {
		err := fmt.Errorf("%w: received %d bytes, declared %d", verify.ErrSizeMismatch, got, s.desc.Size)
		s.failLocked(ctx, err)
		return err
	}

	timer := prometheus.NewTimer(metrics.VerifyDuration)
	err := verify.Slot(s.dev, s.target, s.desc.Size, s.desc.Digest)
	timer.ObserveDuration()
	if err != nil {
		s.failLocked(ctx, err)
		return err
	}

	if err := s.machine.Event(ctx, eventInstall); err != nil {
		s.failLocked(ctx, err)
		return err
	}
	if err := s.selector.CommitPending(s.target.Label); err != nil {
		s.failLocked(ctx, fmt.Errorf("ota: commit pending slot: %w", err))
		return err
	}
	if err := s.machine.Event(ctx, eventComplete); err != nil {
		s.failLocked(ctx, err)
		return err
	}

	s.writer.Finish()
	log.Info("Update verified and committed pending",
		"session", s.id, "version", s.desc.Version, "slot", s.target.Label)
	s.concludeLocked("complete")
	return nil
}

// Abort cancels the session from any non-terminal state. The target slot is
// left partially written; the next session re-erases it.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := Status(s.machine.Current()); cur == StatusComplete || cur == StatusFailed {
		return ErrSessionConcluded
	}
	if err := s.machine.Event(ctx, eventAbort); err != nil {
		return err
	}
	s.err = context.Canceled
	log.Info("Update session aborted", "session", s.id, "version", s.desc.Version)
	s.concludeLocked("aborted")
	return nil
}

// failLocked moves the session to Failed and concludes it. Callers hold s.mu.
func (s *Session) failLocked(ctx context.Context, err error) {
	if cur := Status(s.machine.Current()); cur == StatusComplete || cur == StatusFailed {
		return
	}
	s.err = err
	if ferr := s.machine.Event(ctx, eventFail); ferr != nil {
		_ = s.machine.Event(ctx, eventAbort)
	}
	log.Error(err, "Update session failed",
		"session", s.id, "version", s.desc.Version, "slot", s.target.Label)
	s.concludeLocked("failed")
}

func (s *Session) concludeLocked(outcome string) {
	s.finishedAt = time.Now()

	e := history.Entry{
		SessionID:  s.id,
		Version:    s.desc.Version,
		Slot:       s.target.Label,
		Status:     outcome,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
	}
	if s.err != nil {
		e.Detail = s.err.Error()
	}

	if s.onDone != nil {
		s.onDone(s, outcome, e)
	}
}
