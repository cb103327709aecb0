package flash

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when an operation addresses bytes beyond the
// device capacity.
var ErrOutOfRange = errors.New("flash: address out of range")

// ErrUnaligned is returned when an erase is not block-aligned.
var ErrUnaligned = errors.New("flash: erase not block-aligned")

// ErrNotErased is returned when writing a region that was not erased, or was
// already written since its last erase.
var ErrNotErased = errors.New("flash: region not erased")

// EraseError reports a failed erase and the offset it failed at.
type EraseError struct {
	Offset uint64
	Err    error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("flash: erase failed at offset 0x%x: %v", e.Offset, e.Err)
}

func (e *EraseError) Unwrap() error { return e.Err }

// WriteError reports a failed write and the offset it failed at.
type WriteError struct {
	Offset uint64
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("flash: write failed at offset 0x%x: %v", e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports a failed read and the offset it failed at.
type ReadError struct {
	Offset uint64
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("flash: read failed at offset 0x%x: %v", e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a device I/O failure worth retrying.
// Sequencing mistakes (unerased region, out-of-range address) are caller
// bugs and never retried.
func IsTransient(err error) bool {
	if errors.Is(err, ErrNotErased) || errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrUnaligned) {
		return false
	}
	var we *WriteError
	var ee *EraseError
	var re *ReadError
	return errors.As(err, &we) || errors.As(err, &ee) || errors.As(err, &re)
}
