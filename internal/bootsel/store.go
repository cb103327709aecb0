package bootsel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoRecord is returned when neither record copy exists or validates.
var ErrNoRecord = errors.New("bootsel: no boot record")

// Store persists the boot record as two alternating copies. A write only
// ever touches the copy that is NOT authoritative, so power loss at any
// byte offset leaves a fully readable record: either the old one or the
// new one, never a torn mix.
type Store struct {
	paths [2]string
}

// NewStore places the record copies under dir.
func NewStore(dir string) *Store {
	return &Store{paths: [2]string{
		filepath.Join(dir, "boot_record.0"),
		filepath.Join(dir, "boot_record.1"),
	}}
}

// Load returns the highest-sequence valid copy, or ErrNoRecord.
func (s *Store) Load() (*BootRecord, error) {
	var best *BootRecord
	for _, p := range s.paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		rec, err := decodeRecord(data)
		if err != nil {
			continue
		}
		if best == nil || rec.Seq > best.Seq {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNoRecord
	}
	return best, nil
}

// Save bumps the sequence number and writes the record over the stale copy,
// leaving the current authoritative copy untouched.
func (s *Store) Save(rec *BootRecord) error {
	cur, maxSeq := s.authoritative()
	rec.Seq = maxSeq + 1

	data, err := rec.encode()
	if err != nil {
		return err
	}

	target := s.paths[0]
	if cur == 0 {
		target = s.paths[1]
	}
	return writeDurable(target, data)
}

// authoritative returns the index of the copy holding the highest valid
// sequence (-1 if none) and that sequence.
func (s *Store) authoritative() (int, uint64) {
	idx, maxSeq := -1, uint64(0)
	for i, p := range s.paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		rec, err := decodeRecord(data)
		if err != nil {
			continue
		}
		if idx == -1 || rec.Seq > maxSeq {
			idx, maxSeq = i, rec.Seq
		}
	}
	return idx, maxSeq
}

// writeDurable writes data in place and fsyncs the file and its directory.
// No rename: the dual-copy scheme already tolerates a torn write here.
func writeDurable(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("bootsel: open record copy: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("bootsel: write record copy: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("bootsel: sync record copy: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
