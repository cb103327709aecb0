package flash

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestMemDeviceEraseWriteRead(t *testing.T) {
	dev := NewMemDevice(4 * BlockSize)

	data := bytes.Repeat([]byte{0xAB}, BlockSize)
	if err := dev.Write(0, data); err != nil {
		t.Fatalf("write to fresh device: %v", err)
	}

	got := make([]byte, BlockSize)
	if err := dev.Read(0, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back mismatch")
	}

	// Untouched region still reads erased.
	if err := dev.Read(BlockSize, got); err != nil {
		t.Fatalf("read erased region: %v", err)
	}
	for i, b := range got {
		if b != ErasedByte {
			t.Fatalf("byte %d = 0x%x, want erased 0x%x", i, b, ErasedByte)
		}
	}
}

func TestMemDeviceWriteOncePerErase(t *testing.T) {
	dev := NewMemDevice(2 * BlockSize)

	data := bytes.Repeat([]byte{0x01}, BlockSize)
	if err := dev.Write(0, data); err != nil {
		t.Fatalf("first write: %v", err)
	}

	err := dev.Write(0, data)
	if !errors.Is(err, ErrNotErased) {
		t.Fatalf("second write without erase = %v, want ErrNotErased", err)
	}

	if err := dev.Erase(0, BlockSize); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := dev.Write(0, data); err != nil {
		t.Fatalf("write after erase: %v", err)
	}
}

func TestMemDeviceErrors(t *testing.T) {
	dev := NewMemDevice(2 * BlockSize)

	if err := dev.Erase(1, BlockSize); !errors.Is(err, ErrUnaligned) {
		t.Errorf("unaligned erase = %v, want ErrUnaligned", err)
	}
	if err := dev.Erase(0, 3*BlockSize); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("oversized erase = %v, want ErrOutOfRange", err)
	}
	if err := dev.Write(2*BlockSize-1, []byte{0, 0}); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("out-of-range write = %v, want ErrOutOfRange", err)
	}
	if err := dev.Read(2*BlockSize, make([]byte, 1)); err == nil {
		t.Errorf("out-of-range read succeeded")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"write io failure", &WriteError{Offset: 0, Err: errors.New("bit error")}, true},
		{"erase io failure", &EraseError{Offset: 0, Err: errors.New("timeout")}, true},
		{"read io failure", &ReadError{Offset: 0, Err: errors.New("ecc")}, true},
		{"not erased", &WriteError{Offset: 0, Err: ErrNotErased}, false},
		{"out of range", &WriteError{Offset: 0, Err: ErrOutOfRange}, false},
		{"unaligned", &EraseError{Offset: 1, Err: ErrUnaligned}, false},
		{"plain error", errors.New("whatever"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFileDevicePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	dev, err := OpenFileDevice(path, 4*BlockSize)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	data := bytes.Repeat([]byte{0x5A}, BlockSize)
	if err := dev.Erase(BlockSize, BlockSize); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := dev.Write(BlockSize, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: content survives, erase discipline still applies.
	dev, err = OpenFileDevice(path, 4*BlockSize)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer dev.Close()

	got := make([]byte, BlockSize)
	if err := dev.Read(BlockSize, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("content did not survive reopen")
	}
}
