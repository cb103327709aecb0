package slotio

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/partition"
)

func testSlot(size uint64) (flash.Device, partition.Slot) {
	dev := flash.NewMemDevice(size + flash.BlockSize)
	slot := partition.Slot{Label: "ota_1", Type: partition.TypeFirmware, Base: flash.BlockSize, Size: size}
	return dev, slot
}

func TestWriterRoundTrip(t *testing.T) {
	dev, slot := testSlot(4 * ChunkSize)

	image := bytes.Repeat([]byte{0xC3}, 2*ChunkSize+100)
	w := NewWriter(dev, slot, uint64(len(image)), nil)
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}

	for off := 0; off < len(image); off += ChunkSize {
		end := off + ChunkSize
		if end > len(image) {
			end = len(image)
		}
		if err := w.WriteChunk(image[off:end]); err != nil {
			t.Fatalf("write chunk at %d: %v", off, err)
		}
	}
	if got := w.Written(); got != uint64(len(image)) {
		t.Fatalf("Written = %d, want %d", got, len(image))
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r, err := NewReader(dev, slot, uint64(len(image)))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("read back mismatch")
	}
}

func TestWriterRejectsOversizedChunk(t *testing.T) {
	dev, slot := testSlot(2 * ChunkSize)
	w := NewWriter(dev, slot, 2*ChunkSize, nil)
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := w.WriteChunk(make([]byte, ChunkSize+1)); err == nil {
		t.Fatalf("oversized chunk accepted")
	}
}

func TestWriterSlotFull(t *testing.T) {
	dev, slot := testSlot(ChunkSize)
	w := NewWriter(dev, slot, 2*ChunkSize, nil)
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := w.WriteChunk(make([]byte, ChunkSize)); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if err := w.WriteChunk(make([]byte, ChunkSize)); !errors.Is(err, ErrSlotFull) {
		t.Fatalf("write past capacity = %v, want ErrSlotFull", err)
	}
}

func TestWriterUnusableUntilRewind(t *testing.T) {
	dev, slot := testSlot(2 * ChunkSize)
	w := NewWriter(dev, slot, 2*ChunkSize, nil)
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := w.WriteChunk(make([]byte, ChunkSize)); err != nil {
		t.Fatalf("first chunk: %v", err)
	}

	// Writing the same region again violates write-once and marks the
	// writer unusable.
	w.flushed -= ChunkSize
	w.written -= ChunkSize
	if err := w.WriteChunk(make([]byte, ChunkSize)); err == nil {
		t.Fatalf("rewrite without erase accepted")
	}
	if err := w.WriteChunk(make([]byte, ChunkSize)); !errors.Is(err, ErrSlotUnusable) {
		t.Fatalf("write on unusable slot = %v, want ErrSlotUnusable", err)
	}

	// RewindChunk re-erases the failed block and clears the mark.
	if err := w.RewindChunk(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if err := w.WriteChunk(make([]byte, ChunkSize)); err != nil {
		t.Fatalf("retry after rewind: %v", err)
	}
}

// Transports deliver byte runs of whatever length the network hands them;
// the writer must still program every block exactly once.
func TestWriterUnalignedRuns(t *testing.T) {
	dev, slot := testSlot(4 * ChunkSize)

	image := make([]byte, 2*ChunkSize+1904)
	for i := range image {
		image[i] = byte(i % 251)
	}
	w := NewWriter(dev, slot, uint64(len(image)), nil)
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}

	const run = 1000
	for off := 0; off < len(image); off += run {
		end := off + run
		if end > len(image) {
			end = len(image)
		}
		if err := w.WriteChunk(image[off:end]); err != nil {
			t.Fatalf("write run at %d: %v", off, err)
		}
	}
	if got := w.Written(); got != uint64(len(image)) {
		t.Fatalf("Written = %d, want %d", got, len(image))
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	r, err := NewReader(dev, slot, uint64(len(image)))
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("read back mismatch after unaligned runs")
	}
}

func TestWriterFlushIsIdempotent(t *testing.T) {
	dev, slot := testSlot(ChunkSize)
	w := NewWriter(dev, slot, 100, nil)
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := w.WriteChunk(make([]byte, 100)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("second flush: %v", err)
	}
}

// Once Flush lands a short tail the device position is no longer
// block-aligned; a rewind there would erase bytes that already verified.
func TestWriterRewindAfterFlushRejected(t *testing.T) {
	dev, slot := testSlot(ChunkSize)
	w := NewWriter(dev, slot, 100, nil)
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := w.WriteChunk(make([]byte, 100)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := w.RewindChunk(); err == nil {
		t.Fatalf("rewind at unaligned offset accepted")
	}
}

func TestWriterProgressInterval(t *testing.T) {
	const total = 2*ReportInterval + ChunkSize

	dev, slot := testSlot(total)
	var reports []Progress
	w := NewWriter(dev, slot, total, func(p Progress) {
		reports = append(reports, p)
	})
	if err := w.Erase(); err != nil {
		t.Fatalf("erase: %v", err)
	}

	buf := make([]byte, ChunkSize)
	for written := uint64(0); written < total; written += ChunkSize {
		if err := w.WriteChunk(buf); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	w.Finish()

	// One report per ReportInterval plus the final one.
	if len(reports) != 3 {
		t.Fatalf("got %d progress reports, want 3: %+v", len(reports), reports)
	}
	last := reports[len(reports)-1]
	if last.Written != total || last.Percent() != 100 {
		t.Fatalf("final report = %+v", last)
	}
	if reports[0].Slot != "ota_1" {
		t.Fatalf("report slot = %q", reports[0].Slot)
	}
}

func TestReaderRejectsOversizedLength(t *testing.T) {
	dev, slot := testSlot(ChunkSize)
	if _, err := NewReader(dev, slot, ChunkSize+1); err == nil {
		t.Fatalf("reader accepted length beyond slot")
	}
}
