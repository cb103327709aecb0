// Package flash models the firmware storage medium: a block-erasable device
// with write-once-per-erase semantics, the way NOR/NAND parts behave.
package flash

const (
	// BlockSize is the erase granularity and the transfer chunk size.
	// Callers must not assume finer-grained atomicity.
	BlockSize = 4096

	// ErasedByte is the value every byte holds after an erase.
	ErasedByte = 0xFF
)

// Device is a raw flash device addressed by absolute byte offsets.
// Erase operates on whole blocks; a region must be erased before it can be
// written and written at most once per erase.
type Device interface {
	// Size returns the device capacity in bytes.
	Size() uint64

	// Erase resets [off, off+length) to ErasedByte. Both off and length
	// must be multiples of BlockSize.
	Erase(off, length uint64) error

	// Write programs p at off. Every covered block must be erased and not
	// yet written since its last erase.
	Write(off uint64, p []byte) error

	// Read fills p from off.
	Read(off uint64, p []byte) error
}
