// Package bootsel owns the persisted record naming which slot the loader
// boots next, plus the pending/confirm protocol that makes an unconfirmed
// update impossible to get stuck on. The record update pattern tolerates
// power loss at any point; after a crash the active slot always names an
// image that was verified valid.
package bootsel

import (
	"errors"
	"sync"

	"github.com/updrift-io/updrift/pkg/log"
)

// MaxRollbackAttempts bounds consecutive rollbacks of the same device.
const MaxRollbackAttempts = 3

var (
	// ErrAlreadyPending is returned when a different pending commit exists.
	ErrAlreadyPending = errors.New("bootsel: another update is already pending")

	// ErrNoPendingUpdate is returned when confirm is called with nothing
	// pending.
	ErrNoPendingUpdate = errors.New("bootsel: no pending update")
)

// Selector is the boot selector API over the persisted record. All
// operations are atomic with respect to power loss.
type Selector struct {
	mu    sync.Mutex
	store *Store
	rec   BootRecord
}

// Open loads the boot record, creating a default one naming factorySlot on
// first boot.
func Open(dir, factorySlot string) (*Selector, error) {
	s := &Selector{store: NewStore(dir)}

	rec, err := s.store.Load()
	switch {
	case err == nil:
		s.rec = *rec
	case errors.Is(err, ErrNoRecord):
		log.Info("No boot record found, initializing", "active", factorySlot)
		s.rec = BootRecord{Active: factorySlot}
		if err := s.store.Save(&s.rec); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return s, nil
}

// Active returns the slot the loader boots on a normal boot.
func (s *Selector) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Active
}

// Pending returns the slot awaiting confirmation, if any.
func (s *Selector) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Pending, s.rec.PendingVerify
}

// Record returns a copy of the persisted record for diagnostics.
func (s *Selector) Record() BootRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// CommitPending records slot as pending and raises the pending-verify flag.
// Committing the same slot twice is a no-op; committing while a different
// slot is pending fails with ErrAlreadyPending.
func (s *Selector) CommitPending(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.PendingVerify {
		if s.rec.Pending == slot {
			return nil
		}
		return ErrAlreadyPending
	}

	rec := s.rec
	rec.Pending = slot
	rec.PendingVerify = true
	rec.BootAttempts = 0
	return s.save(rec)
}

// ConfirmValid promotes the pending slot to active, clears pending-verify
// and resets the rollback counter. Only callable while pending-verify is
// raised.
func (s *Selector) ConfirmValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rec.PendingVerify {
		return ErrNoPendingUpdate
	}

	rec := s.rec
	rec.Active = rec.Pending
	rec.Pending = ""
	rec.PendingVerify = false
	rec.BootAttempts = 0
	rec.RollbackCount = 0
	return s.save(rec)
}

// ShouldRollback decides, at boot, whether the pending update must be
// reverted: the loader silently kept another slot, the rollback counter hit
// its bound, or the pending image already survived a full boot cycle
// without confirmation. A first boot of the pending image records the
// attempt so a second unconfirmed boot rolls back.
func (s *Selector) ShouldRollback(bootedSlot string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rec.PendingVerify {
		return false, nil
	}
	if bootedSlot != s.rec.Pending {
		return true, nil
	}
	if s.rec.RollbackCount >= MaxRollbackAttempts {
		return true, nil
	}
	if s.rec.BootAttempts >= 1 {
		return true, nil
	}

	rec := s.rec
	rec.BootAttempts++
	if err := s.save(rec); err != nil {
		return false, err
	}
	return false, nil
}

// RollBack clears the pending state, leaving the active slot at the last
// known-good image, and increments the rollback counter. Idempotent: with
// nothing pending it is a no-op, so the boot path may call it defensively
// on every boot.
func (s *Selector) RollBack() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rec.PendingVerify {
		return nil
	}

	rec := s.rec
	rec.Pending = ""
	rec.PendingVerify = false
	rec.BootAttempts = 0
	if rec.RollbackCount < MaxRollbackAttempts {
		rec.RollbackCount++
	}
	return s.save(rec)
}

// save persists rec and only then adopts it in memory, so a failed write
// leaves the previous record authoritative.
func (s *Selector) save(rec BootRecord) error {
	if err := s.store.Save(&rec); err != nil {
		return err
	}
	s.rec = rec
	return nil
}
