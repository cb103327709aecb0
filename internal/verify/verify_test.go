package verify

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/partition"
	"github.com/updrift-io/updrift/internal/slotio"
)

func TestImage(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 10000)
	want := digest.FromBytes(payload)

	if err := Image(bytes.NewReader(payload), uint64(len(payload)), want); err != nil {
		t.Fatalf("verify valid image: %v", err)
	}

	err := Image(bytes.NewReader(payload), uint64(len(payload))+1, want)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("size mismatch = %v, want ErrSizeMismatch", err)
	}

	corrupt := append([]byte(nil), payload...)
	corrupt[5000] ^= 0xFF
	err = Image(bytes.NewReader(corrupt), uint64(len(corrupt)), want)
	if !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("digest mismatch = %v, want ErrDigestMismatch", err)
	}
}

func TestImageRejectsInvalidDigest(t *testing.T) {
	if err := Image(bytes.NewReader(nil), 0, digest.Digest("not-a-digest")); err == nil {
		t.Fatalf("invalid expected digest accepted")
	}
}

func TestSlot(t *testing.T) {
	dev := flash.NewMemDevice(4 * flash.BlockSize)
	slot := partition.Slot{Label: "ota_1", Base: 0, Size: 2 * flash.BlockSize}

	payload := bytes.Repeat([]byte{0x37}, flash.BlockSize+512)
	w := slotio.NewWriter(dev, slot, uint64(len(payload)), nil)
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	for off := 0; off < len(payload); off += slotio.ChunkSize {
		end := off + slotio.ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := w.WriteChunk(payload[off:end]); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	want := digest.FromBytes(payload)
	if err := Slot(dev, slot, uint64(len(payload)), want); err != nil {
		t.Fatalf("verify slot: %v", err)
	}

	// The expected size cannot exceed the slot.
	err := Slot(dev, slot, slot.Size+1, want)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("oversized expectation = %v, want ErrSizeMismatch", err)
	}
}

func TestSlotDigestMatchesImage(t *testing.T) {
	dev := flash.NewMemDevice(2 * flash.BlockSize)
	slot := partition.Slot{Label: "ota_0", Base: 0, Size: 2 * flash.BlockSize}

	payload := bytes.Repeat([]byte{0x11, 0x22}, flash.BlockSize/2)
	if err := dev.Write(0, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := SlotDigest(dev, slot, uint64(len(payload)))
	if err != nil {
		t.Fatalf("slot digest: %v", err)
	}
	if want := digest.FromBytes(payload); got != want {
		t.Fatalf("SlotDigest = %s, want %s", got, want)
	}
}
