package bootsel

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
)

// recordMagic identifies a boot record frame on disk.
var recordMagic = [4]byte{'U', 'B', 'R', '1'}

// maxPayload bounds the JSON payload so a corrupt length field cannot make
// the loader allocate garbage.
const maxPayload = 4096

// ErrCorruptRecord is returned when a record copy fails framing or checksum
// validation. The other copy is then authoritative.
var ErrCorruptRecord = errors.New("bootsel: corrupt boot record")

// BootRecord is the persisted boot-selection state. It is the only state
// shared across reboots; everything else the manager holds is rebuilt at
// startup.
type BootRecord struct {
	// Seq orders the two on-disk copies; the highest valid one wins.
	Seq uint64 `json:"seq"`

	// Active is the slot the loader boots on a normal boot. Always a slot
	// that was verified valid.
	Active string `json:"active"`

	// Pending is the slot awaiting health confirmation. Non-empty only
	// while PendingVerify is set.
	Pending string `json:"pending,omitempty"`

	// PendingVerify marks an update that was installed but not yet
	// confirmed by a healthy boot.
	PendingVerify bool `json:"pendingVerify"`

	// BootAttempts counts boots of the pending image without confirmation.
	// Pending state must not survive a full boot cycle unresolved.
	BootAttempts uint8 `json:"bootAttempts"`

	// RollbackCount bounds consecutive rollbacks, 0..MaxRollbackAttempts.
	// Reset when a pending slot is confirmed valid.
	RollbackCount uint8 `json:"rollbackCount"`
}

// encode frames the record as magic | length | JSON | CRC32(JSON).
// The checksum makes a torn write detectable so the loader falls back to
// the other copy.
func (r *BootRecord) encode() ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("bootsel: encode record: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(recordMagic[:])
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(payload))); err != nil {
		return nil, err
	}
	buf.Write(payload)
	if err := binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*BootRecord, error) {
	if len(data) < len(recordMagic)+8 {
		return nil, fmt.Errorf("%w: truncated frame", ErrCorruptRecord)
	}
	if !bytes.Equal(data[:4], recordMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptRecord)
	}

	length := binary.LittleEndian.Uint32(data[4:8])
	if length > maxPayload || int(length) > len(data)-12 {
		return nil, fmt.Errorf("%w: bad length %d", ErrCorruptRecord, length)
	}

	payload := data[8 : 8+length]
	want := binary.LittleEndian.Uint32(data[8+length : 12+length])
	if crc32.ChecksumIEEE(payload) != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}

	var rec BootRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.Active == "" {
		return nil, fmt.Errorf("%w: no active slot", ErrCorruptRecord)
	}
	if rec.Pending != "" && !rec.PendingVerify {
		return nil, fmt.Errorf("%w: pending slot without pending-verify", ErrCorruptRecord)
	}
	return &rec, nil
}
