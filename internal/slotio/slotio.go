// Package slotio provides chunked erase/write/read primitives over a single
// firmware slot. One Writer owns a slot for the duration of a session; a
// second writer to the same slot is a caller bug the OTA manager prevents
// structurally.
package slotio

import (
	"errors"
	"fmt"
	"io"

	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/partition"
)

// ChunkSize is the transfer unit. It equals the device erase granularity so
// a failed chunk can be re-erased and rewritten in place.
const ChunkSize = flash.BlockSize

// ErrSlotUnusable is returned for any operation on a writer whose slot took
// an unrecoverable write failure. The slot stays unusable until re-erased by
// a fresh session.
var ErrSlotUnusable = errors.New("slotio: slot unusable until re-erased")

// ErrSlotFull is returned when a write would run past the slot capacity.
var ErrSlotFull = errors.New("slotio: write exceeds slot capacity")

// Writer streams an image into one slot. Callers may deliver byte runs of
// any length up to ChunkSize; the writer programs the device in whole blocks
// and buffers the unaligned tail until Flush, so every block is written
// exactly once per erase.
type Writer struct {
	dev  flash.Device
	slot partition.Slot

	// buf holds the tail bytes of a partially filled block; always shorter
	// than ChunkSize.
	buf []byte

	written    uint64 // bytes accepted, including the buffered tail
	flushed    uint64 // bytes programmed into the device; block-aligned until Flush
	total      uint64
	lastReport uint64
	unusable   bool

	onProgress ProgressFunc
}

// NewWriter prepares a writer for one transfer of total expected bytes.
// onProgress may be nil.
func NewWriter(dev flash.Device, slot partition.Slot, total uint64, onProgress ProgressFunc) *Writer {
	return &Writer{
		dev:        dev,
		slot:       slot,
		total:      total,
		onProgress: onProgress,
	}
}

// Erase wipes the whole slot and resets the transfer position. It must be
// called before the first WriteChunk and may be called again to restart.
func (w *Writer) Erase() error {
	if err := w.dev.Erase(w.slot.Base, w.slot.Size); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	w.written = 0
	w.flushed = 0
	w.lastReport = 0
	w.unusable = false
	return nil
}

// WriteChunk accepts the next run of image bytes. len(p) must not exceed
// ChunkSize, so at most one block is programmed per call. On a device write
// failure nothing is accepted and the slot is marked unusable; RewindChunk
// re-erases the failed block, after which the same bytes can be retried.
func (w *Writer) WriteChunk(p []byte) error {
	if w.unusable {
		return ErrSlotUnusable
	}
	if len(p) > ChunkSize {
		return fmt.Errorf("slotio: chunk of %d bytes exceeds chunk size %d", len(p), ChunkSize)
	}
	if w.written+uint64(len(p)) > w.slot.Size {
		return ErrSlotFull
	}

	if len(w.buf)+len(p) >= ChunkSize {
		fill := ChunkSize - len(w.buf)
		block := make([]byte, ChunkSize)
		copy(block, w.buf)
		copy(block[len(w.buf):], p[:fill])

		if err := w.dev.Write(w.slot.Base+w.flushed, block); err != nil {
			w.unusable = true
			return err
		}
		w.flushed += ChunkSize
		w.buf = append(w.buf[:0], p[fill:]...)
	} else {
		w.buf = append(w.buf, p...)
	}

	w.written += uint64(len(p))
	w.report(false)
	return nil
}

// Flush programs the buffered tail as a final short block. Must be called
// after the last WriteChunk and before the slot contents are read back.
func (w *Writer) Flush() error {
	if w.unusable {
		return ErrSlotUnusable
	}
	if len(w.buf) == 0 {
		return nil
	}

	if err := w.dev.Write(w.slot.Base+w.flushed, w.buf); err != nil {
		w.unusable = true
		return err
	}
	w.flushed += uint64(len(w.buf))
	w.buf = w.buf[:0]
	return nil
}

// RewindChunk re-erases the block that just failed so the same bytes can be
// retried. It clears the unusable mark. The device position is block-aligned
// until Flush lands the tail, after which nothing may be rewound.
func (w *Writer) RewindChunk() error {
	off := w.slot.Base + w.flushed
	if off%flash.BlockSize != 0 {
		return fmt.Errorf("slotio: rewind at unaligned offset 0x%x", off)
	}
	if err := w.dev.Erase(off, flash.BlockSize); err != nil {
		return err
	}
	w.unusable = false
	return nil
}

// Written returns the cumulative bytes programmed so far.
func (w *Writer) Written() uint64 { return w.written }

// Progress returns the transfer state for reporting.
func (w *Writer) Progress() Progress {
	return Progress{Slot: w.slot.Label, Written: w.written, Total: w.total}
}

// Finish emits the final progress callback.
func (w *Writer) Finish() {
	w.report(true)
}

func (w *Writer) report(final bool) {
	if w.onProgress == nil {
		return
	}
	if !final && w.written-w.lastReport < ReportInterval {
		return
	}
	w.lastReport = w.written
	w.onProgress(w.Progress())
}

// Reader streams length bytes back out of a slot in ChunkSize reads.
type Reader struct {
	dev    flash.Device
	slot   partition.Slot
	off    uint64
	length uint64
}

var _ io.Reader = (*Reader)(nil)

// NewReader reads the first length bytes of the slot.
func NewReader(dev flash.Device, slot partition.Slot, length uint64) (*Reader, error) {
	if length > slot.Size {
		return nil, fmt.Errorf("slotio: read of %d bytes exceeds slot size %d", length, slot.Size)
	}
	return &Reader{dev: dev, slot: slot, length: length}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.off >= r.length {
		return 0, io.EOF
	}

	n := uint64(len(p))
	if n > ChunkSize {
		n = ChunkSize
	}
	if n > r.length-r.off {
		n = r.length - r.off
	}

	if err := r.dev.Read(r.slot.Base+r.off, p[:n]); err != nil {
		return 0, err
	}
	r.off += n
	return int(n), nil
}
