package flash

import (
	"fmt"
	"os"
	"sync"
)

// FileDevice backs a flash device with a regular file, for host deployments
// where the firmware slots live in a disk image instead of a raw part.
// Erase state is tracked in memory; like power-on flash, every block starts
// in an unknown state and must be erased before its first write.
type FileDevice struct {
	mu     sync.Mutex
	f      *os.File
	size   uint64
	blocks []blockState
}

var _ Device = (*FileDevice)(nil)

// OpenFileDevice opens (or creates) the backing file and sizes it to size
// bytes. Size must be block-aligned.
func OpenFileDevice(path string, size uint64) (*FileDevice, error) {
	if size%BlockSize != 0 {
		return nil, fmt.Errorf("flash: file device size must be block-aligned, got %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("flash: open backing file: %w", err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flash: size backing file: %w", err)
	}

	return &FileDevice{
		f:      f,
		size:   size,
		blocks: make([]blockState, size/BlockSize),
	}, nil
}

func (d *FileDevice) Size() uint64 { return d.size }

func (d *FileDevice) Erase(off, length uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if off%BlockSize != 0 || length%BlockSize != 0 {
		return &EraseError{Offset: off, Err: ErrUnaligned}
	}
	if off+length > d.size {
		return &EraseError{Offset: off, Err: ErrOutOfRange}
	}

	blank := make([]byte, BlockSize)
	for i := range blank {
		blank[i] = ErasedByte
	}
	for cur := off; cur < off+length; cur += BlockSize {
		if _, err := d.f.WriteAt(blank, int64(cur)); err != nil {
			return &EraseError{Offset: cur, Err: err}
		}
	}
	if err := d.f.Sync(); err != nil {
		return &EraseError{Offset: off, Err: err}
	}

	for b := off / BlockSize; b < (off+length)/BlockSize; b++ {
		d.blocks[b] = blockErased
	}
	return nil
}

func (d *FileDevice) Write(off uint64, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	end := off + uint64(len(p))
	if end > d.size {
		return &WriteError{Offset: off, Err: ErrOutOfRange}
	}
	for b := off / BlockSize; b <= (end-1)/BlockSize; b++ {
		if d.blocks[b] != blockErased {
			return &WriteError{Offset: b * BlockSize, Err: ErrNotErased}
		}
	}

	if _, err := d.f.WriteAt(p, int64(off)); err != nil {
		return &WriteError{Offset: off, Err: err}
	}

	for b := off / BlockSize; b <= (end-1)/BlockSize; b++ {
		d.blocks[b] = blockWritten
	}
	return nil
}

func (d *FileDevice) Read(off uint64, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if off+uint64(len(p)) > d.size {
		return &ReadError{Offset: off, Err: ErrOutOfRange}
	}
	if _, err := d.f.ReadAt(p, int64(off)); err != nil {
		return &ReadError{Offset: off, Err: err}
	}
	return nil
}

// Close syncs and closes the backing file.
func (d *FileDevice) Close() error {
	if err := d.f.Sync(); err != nil {
		_ = d.f.Close()
		return err
	}
	return d.f.Close()
}
