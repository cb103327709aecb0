// Package ota drives update sessions: one image transfer at a time into the
// alternate slot, verified before the boot record ever names it.
package ota

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/updrift-io/updrift/internal/bootsel"
	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/history"
	"github.com/updrift-io/updrift/internal/partition"
	"github.com/updrift-io/updrift/internal/pkg/metrics"
	"github.com/updrift-io/updrift/internal/slotio"
	"github.com/updrift-io/updrift/pkg/log"
)

// ErrNoActiveSession is returned by Abort when nothing is running.
var ErrNoActiveSession = errors.New("ota: no active session")

// Manager owns session lifecycle. At most one session is active per process;
// a second Start is rejected, never queued.
type Manager struct {
	dev      flash.Device
	catalog  *partition.Catalog
	selector *bootsel.Selector
	journal  *history.Journal

	onProgress slotio.ProgressFunc

	// mu covers only the active/last pointers; session state has its own
	// lock.
	mu     sync.Mutex
	active *Session
	last   *Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithJournal records every concluded session in the journal.
func WithJournal(j *history.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithProgress installs a callback invoked as image bytes land in the slot.
func WithProgress(fn slotio.ProgressFunc) Option {
	return func(m *Manager) { m.onProgress = fn }
}

// NewManager builds a manager over an already discovered catalog and an open
// boot selector.
func NewManager(dev flash.Device, catalog *partition.Catalog, selector *bootsel.Selector, opts ...Option) *Manager {
	m := &Manager{
		dev:      dev,
		catalog:  catalog,
		selector: selector,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start validates the descriptor, resolves the target slot, erases it and
// returns a session in Downloading. Descriptors that declare zero size or an
// image larger than the target slot are rejected before any flash I/O.
func (m *Manager) Start(ctx context.Context, desc UpdateDescriptor) (*Session, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	target, err := m.catalog.AlternateFor(m.catalog.Running())
	if err != nil {
		return nil, err
	}
	if desc.Size > target.Size {
		return nil, fmt.Errorf("%w: %d bytes into slot %s of %d",
			ErrImageTooLarge, desc.Size, target.Label, target.Size)
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyInProgress
	}
	sess := newSession(m.dev, target, desc, m.selector, m.onProgress, m.sessionDone)
	m.active = sess
	m.mu.Unlock()

	if err := sess.begin(ctx); err != nil {
		return nil, err
	}

	log.Info("Update session started", "session", sess.ID(),
		"version", desc.Version, "target", target.Label, "size", desc.Size)
	return sess, nil
}

// Abort cancels the active session, if any.
func (m *Manager) Abort(ctx context.Context) error {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()

	if sess == nil {
		return ErrNoActiveSession
	}
	return sess.Abort(ctx)
}

// Active returns the running session.
func (m *Manager) Active() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// Current returns the active session's snapshot, falling back to the last
// concluded one.
func (m *Manager) Current() (Snapshot, bool) {
	m.mu.Lock()
	sess := m.active
	if sess == nil {
		sess = m.last
	}
	m.mu.Unlock()

	if sess == nil {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// Selector exposes the boot selector for status reporting.
func (m *Manager) Selector() *bootsel.Selector {
	return m.selector
}

// Catalog exposes the discovered partition catalog.
func (m *Manager) Catalog() *partition.Catalog {
	return m.catalog
}

// sessionDone runs inside the concluding session's lock, so it must not call
// back into the session.
func (m *Manager) sessionDone(s *Session, outcome string, e history.Entry) {
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.last = s
	m.mu.Unlock()

	metrics.SessionsTotal.WithLabelValues(outcome).Inc()

	if m.journal != nil {
		if err := m.journal.Record(context.Background(), e); err != nil {
			log.Error(err, "Failed to journal session", "session", e.SessionID)
		}
	}
}
