package bootsel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openSelector(t *testing.T, dir string) *Selector {
	t.Helper()
	s, err := Open(dir, "ota_0")
	if err != nil {
		t.Fatalf("open selector: %v", err)
	}
	return s
}

func TestOpenInitializesFactoryRecord(t *testing.T) {
	dir := t.TempDir()
	s := openSelector(t, dir)

	if got := s.Active(); got != "ota_0" {
		t.Fatalf("Active = %q, want factory slot", got)
	}
	if _, pending := s.Pending(); pending {
		t.Fatalf("fresh record has pending update")
	}

	// The record survives a reopen.
	s2 := openSelector(t, dir)
	if got := s2.Active(); got != "ota_0" {
		t.Fatalf("Active after reopen = %q", got)
	}
}

func TestCommitConfirmCycle(t *testing.T) {
	s := openSelector(t, t.TempDir())

	if err := s.CommitPending("ota_1"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	pending, ok := s.Pending()
	if !ok || pending != "ota_1" {
		t.Fatalf("Pending = %q, %v", pending, ok)
	}
	// Active is untouched until confirmation.
	if got := s.Active(); got != "ota_0" {
		t.Fatalf("Active after commit = %q", got)
	}

	// Same slot again is a no-op, a different slot is rejected.
	if err := s.CommitPending("ota_1"); err != nil {
		t.Fatalf("recommit same slot: %v", err)
	}
	if err := s.CommitPending("ota_2"); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("commit different slot = %v, want ErrAlreadyPending", err)
	}

	if err := s.ConfirmValid(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := s.Active(); got != "ota_1" {
		t.Fatalf("Active after confirm = %q, want ota_1", got)
	}
	if _, ok := s.Pending(); ok {
		t.Fatalf("pending survived confirmation")
	}
	if err := s.ConfirmValid(); !errors.Is(err, ErrNoPendingUpdate) {
		t.Fatalf("confirm with nothing pending = %v, want ErrNoPendingUpdate", err)
	}
}

func TestShouldRollbackSecondUnconfirmedBoot(t *testing.T) {
	dir := t.TempDir()
	s := openSelector(t, dir)
	if err := s.CommitPending("ota_1"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// First boot of the pending image: allowed, attempt recorded.
	rb, err := s.ShouldRollback("ota_1")
	if err != nil || rb {
		t.Fatalf("first pending boot: rollback=%v err=%v", rb, err)
	}

	// Simulate a crash and reboot without confirmation.
	s2 := openSelector(t, dir)
	rb, err = s2.ShouldRollback("ota_1")
	if err != nil {
		t.Fatalf("second boot: %v", err)
	}
	if !rb {
		t.Fatalf("second unconfirmed boot must roll back")
	}

	if err := s2.RollBack(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := s2.Active(); got != "ota_0" {
		t.Fatalf("Active after rollback = %q, want last known good", got)
	}
	if _, ok := s2.Pending(); ok {
		t.Fatalf("pending survived rollback")
	}
	if s2.Record().RollbackCount != 1 {
		t.Fatalf("RollbackCount = %d, want 1", s2.Record().RollbackCount)
	}
}

func TestShouldRollbackWrongBootedSlot(t *testing.T) {
	s := openSelector(t, t.TempDir())
	if err := s.CommitPending("ota_1"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// The loader kept the old slot: the pending image never ran, revert.
	rb, err := s.ShouldRollback("ota_0")
	if err != nil {
		t.Fatalf("should rollback: %v", err)
	}
	if !rb {
		t.Fatalf("booting a non-pending slot with pending set must roll back")
	}
}

func TestRollBackIdempotent(t *testing.T) {
	s := openSelector(t, t.TempDir())

	// Nothing pending: no-op, counter untouched.
	if err := s.RollBack(); err != nil {
		t.Fatalf("rollback with nothing pending: %v", err)
	}
	if s.Record().RollbackCount != 0 {
		t.Fatalf("no-op rollback bumped the counter")
	}

	if err := s.CommitPending("ota_1"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.RollBack(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if err := s.RollBack(); err != nil {
		t.Fatalf("second rollback: %v", err)
	}
	if got := s.Record().RollbackCount; got != 1 {
		t.Fatalf("RollbackCount = %d, want 1", got)
	}
}

func TestRollbackCounterBound(t *testing.T) {
	s := openSelector(t, t.TempDir())

	for i := 0; i < MaxRollbackAttempts; i++ {
		if err := s.CommitPending("ota_1"); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		if err := s.RollBack(); err != nil {
			t.Fatalf("rollback %d: %v", i, err)
		}
	}
	if got := s.Record().RollbackCount; got != MaxRollbackAttempts {
		t.Fatalf("RollbackCount = %d, want %d", got, MaxRollbackAttempts)
	}

	// At the bound, a pending image is refused before it ever boots.
	if err := s.CommitPending("ota_1"); err != nil {
		t.Fatalf("commit at bound: %v", err)
	}
	rb, err := s.ShouldRollback("ota_1")
	if err != nil {
		t.Fatalf("should rollback: %v", err)
	}
	if !rb {
		t.Fatalf("counter at bound must force rollback")
	}

	// The counter stays capped.
	if err := s.RollBack(); err != nil {
		t.Fatalf("rollback at bound: %v", err)
	}
	if got := s.Record().RollbackCount; got != MaxRollbackAttempts {
		t.Fatalf("RollbackCount after capped rollback = %d", got)
	}
}

func TestConfirmResetsRollbackCounter(t *testing.T) {
	s := openSelector(t, t.TempDir())

	if err := s.CommitPending("ota_1"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.RollBack(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if err := s.CommitPending("ota_1"); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if err := s.ConfirmValid(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := s.Record().RollbackCount; got != 0 {
		t.Fatalf("RollbackCount after confirm = %d, want 0", got)
	}
}

func TestStoreSurvivesTornWrite(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Save(&BootRecord{Active: "ota_0"}); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if err := store.Save(&BootRecord{Active: "ota_0", Pending: "ota_1", PendingVerify: true}); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	// Corrupt the latest copy at every byte offset; the previous copy must
	// win every time.
	latest, _ := store.authoritative()
	path := store.paths[latest]
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read latest copy: %v", err)
	}

	for cut := 0; cut < len(data); cut++ {
		if err := os.WriteFile(path, data[:cut], 0o600); err != nil {
			t.Fatalf("truncate at %d: %v", cut, err)
		}

		rec, err := store.Load()
		if err != nil {
			t.Fatalf("load with copy cut at %d: %v", cut, err)
		}
		if rec.Active != "ota_0" {
			t.Fatalf("cut at %d: Active = %q", cut, rec.Active)
		}
		if rec.PendingVerify {
			t.Fatalf("cut at %d: torn copy won", cut)
		}
	}

	// Restore the full copy: the newer record wins again.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("restore: %v", err)
	}
	rec, err := store.Load()
	if err != nil {
		t.Fatalf("load restored: %v", err)
	}
	if !rec.PendingVerify || rec.Pending != "ota_1" {
		t.Fatalf("restored record = %+v", rec)
	}
}

func TestStoreBitFlipDetected(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Save(&BootRecord{Active: "ota_0"}); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if err := store.Save(&BootRecord{Active: "ota_1"}); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	latest, _ := store.authoritative()
	path := store.paths[latest]
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)/2] ^= 0x01
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.Active != "ota_0" {
		t.Fatalf("corrupted copy won: %+v", rec)
	}
}

func TestOpenFailsOnUnwritableDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing", "nested")
	if _, err := Open(dir, "ota_0"); err == nil {
		t.Fatalf("open in missing directory succeeded")
	}
}
