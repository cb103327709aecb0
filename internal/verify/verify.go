// Package verify checks a written image against its expected size and
// content digest before the boot record may name it. Verification reads the
// slot back in chunks and never mutates it.
package verify

import (
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/partition"
	"github.com/updrift-io/updrift/internal/slotio"
)

// Mismatch reasons, kept distinct for diagnostics. Integrity failures are
// never retried; re-reading a corrupt image will not fix it.
var (
	ErrSizeMismatch   = errors.New("verify: size mismatch")
	ErrDigestMismatch = errors.New("verify: digest mismatch")
)

// Image folds a streaming digest over r and compares the byte count and
// final digest against the expected values.
func Image(r io.Reader, expectedSize uint64, want digest.Digest) error {
	if err := want.Validate(); err != nil {
		return fmt.Errorf("verify: invalid expected digest: %w", err)
	}

	digester := want.Algorithm().Digester()
	n, err := io.Copy(digester.Hash(), r)
	if err != nil {
		return fmt.Errorf("verify: read image: %w", err)
	}

	if uint64(n) != expectedSize {
		return fmt.Errorf("%w: read %d bytes, expected %d", ErrSizeMismatch, n, expectedSize)
	}
	if got := digester.Digest(); got != want {
		return fmt.Errorf("%w: computed %s, expected %s", ErrDigestMismatch, got, want)
	}
	return nil
}

// Slot verifies the first expectedSize bytes of a slot against the expected
// digest, reading the device back in chunks.
func Slot(dev flash.Device, slot partition.Slot, expectedSize uint64, want digest.Digest) error {
	if expectedSize > slot.Size {
		return fmt.Errorf("%w: expected %d bytes exceeds slot size %d", ErrSizeMismatch, expectedSize, slot.Size)
	}

	r, err := slotio.NewReader(dev, slot, expectedSize)
	if err != nil {
		return err
	}
	return Image(r, expectedSize, want)
}

// SlotDigest computes the digest of the first length bytes of a slot. The
// clone test mode uses it to self-describe the running image.
func SlotDigest(dev flash.Device, slot partition.Slot, length uint64) (digest.Digest, error) {
	r, err := slotio.NewReader(dev, slot, length)
	if err != nil {
		return "", err
	}

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(digester.Hash(), r); err != nil {
		return "", fmt.Errorf("verify: digest slot: %w", err)
	}
	return digester.Digest(), nil
}
