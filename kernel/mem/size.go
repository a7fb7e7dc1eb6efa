package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// AlignUp rounds addr up to the next multiple of align which must be a power
// of 2.
func AlignUp(addr uint64, align Size) uint64 {
	return (addr + uint64(align-1)) &^ uint64(align-1)
}

// AlignDown rounds addr down to a multiple of align which must be a power of 2.
func AlignDown(addr uint64, align Size) uint64 {
	return addr &^ uint64(align-1)
}
