package flash

import (
	"sync"
)

type blockState uint8

const (
	blockUnknown blockState = iota // power-on content, must be erased first
	blockErased
	blockWritten
)

// MemDevice is an in-memory flash device used by tests and the simulator
// deployments. It enforces the same erase-before-write discipline as real
// parts so sequencing bugs show up on the host.
type MemDevice struct {
	mu     sync.Mutex
	buf    []byte
	blocks []blockState
}

var _ Device = (*MemDevice)(nil)

// NewMemDevice creates a device of the given size, which must be a multiple
// of BlockSize.
func NewMemDevice(size uint64) *MemDevice {
	if size%BlockSize != 0 {
		panic("flash: mem device size must be block-aligned")
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = ErasedByte
	}
	blocks := make([]blockState, size/BlockSize)
	for i := range blocks {
		blocks[i] = blockErased
	}
	return &MemDevice{buf: buf, blocks: blocks}
}

func (d *MemDevice) Size() uint64 { return uint64(len(d.buf)) }

func (d *MemDevice) Erase(off, length uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if off%BlockSize != 0 || length%BlockSize != 0 {
		return &EraseError{Offset: off, Err: ErrUnaligned}
	}
	if off+length > uint64(len(d.buf)) {
		return &EraseError{Offset: off, Err: ErrOutOfRange}
	}

	for i := off; i < off+length; i++ {
		d.buf[i] = ErasedByte
	}
	for b := off / BlockSize; b < (off+length)/BlockSize; b++ {
		d.blocks[b] = blockErased
	}
	return nil
}

func (d *MemDevice) Write(off uint64, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	end := off + uint64(len(p))
	if end > uint64(len(d.buf)) {
		return &WriteError{Offset: off, Err: ErrOutOfRange}
	}

	for b := off / BlockSize; b <= (end-1)/BlockSize; b++ {
		if d.blocks[b] != blockErased {
			return &WriteError{Offset: b * BlockSize, Err: ErrNotErased}
		}
	}

	copy(d.buf[off:end], p)
	for b := off / BlockSize; b <= (end-1)/BlockSize; b++ {
		d.blocks[b] = blockWritten
	}
	return nil
}

func (d *MemDevice) Read(off uint64, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if off+uint64(len(p)) > uint64(len(d.buf)) {
		return &ReadError{Offset: off, Err: ErrOutOfRange}
	}
	copy(p, d.buf[off:off+uint64(len(p))])
	return nil
}
