// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"lumenos/kernel"
	"lumenos/kernel/mem"
	"math"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

// FrameSize selects the granularity of a physical frame.
type FrameSize uint8

const (
	// Size4K selects a regular 4 KiB frame.
	Size4K FrameSize = iota

	// Size2M selects a 2 MiB frame that is naturally aligned.
	Size2M
)

// Bytes returns the number of bytes spanned by a frame of this size.
func (s FrameSize) Bytes() mem.Size {
	if s == Size2M {
		return mem.HugePageSize
	}
	return mem.PageSize
}

// String implements fmt.Stringer for FrameSize.
func (s FrameSize) String() string {
	if s == Size2M {
		return "2M"
	}
	return "4K"
}

// Allocator is implemented by physical frame allocators.
type Allocator interface {
	// AllocFrame reserves a free frame of the requested size.
	AllocFrame(FrameSize) (Frame, *kernel.Error)

	// FreeFrame returns a frame previously obtained via AllocFrame.
	FreeFrame(Frame, FrameSize)
}

var (
	// activeAllocator is the allocator registered via SetAllocator.
	activeAllocator Allocator

	errNoAllocator = &kernel.Error{Module: "pmm", Message: "no frame allocator registered", Kind: kernel.KindInvariantViolation}
)

// SetAllocator registers the allocator used by AllocFrame and FreeFrame.
func SetAllocator(a Allocator) {
	activeAllocator = a
}

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame(size FrameSize) (Frame, *kernel.Error) {
	if activeAllocator == nil {
		return InvalidFrame, errNoAllocator
	}
	return activeAllocator.AllocFrame(size)
}

// FreeFrame returns frame to the currently active physical frame allocator.
// It is a no-op if no allocator is registered.
func FreeFrame(frame Frame, size FrameSize) {
	if activeAllocator != nil {
		activeAllocator.FreeFrame(frame, size)
	}
}
