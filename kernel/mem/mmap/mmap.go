// Package mmap builds the list of usable physical memory regions from the
// firmware-supplied memory map, excluding the span occupied by the kernel.
package mmap

import (
	"io"
	"lumenos/kernel"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem"
	"math"
)

// MaxRegions is the maximum number of regions a Map can hold.
const MaxRegions = 32

var (
	errNoUsableMemory    = &kernel.Error{Module: "mmap", Message: "no usable memory regions left after sanitizing the memory map", Kind: kernel.KindResourceExhausted}
	errRegionBelowKernel = &kernel.Error{Module: "mmap", Message: "usable memory region starts at or below the kernel image", Kind: kernel.KindInvariantViolation}
	errRegionOverlap     = &kernel.Error{Module: "mmap", Message: "usable memory region overlaps the kernel image", Kind: kernel.KindInvariantViolation}
	errBadReservedSpan   = &kernel.Error{Module: "mmap", Message: "reserved span is empty or inverted", Kind: kernel.KindInvariantViolation}
	errMapFull           = &kernel.Error{Module: "mmap", Message: "memory map has no free slots", Kind: kernel.KindResourceExhausted}
)

// Region describes a contiguous range of usable physical memory.
type Region struct {
	Base   uint64
	Length uint64
}

// End returns the first physical address past the region. Regions that run
// past the top of the address space end at math.MaxUint64.
func (r Region) End() uint64 {
	if end := r.Base + r.Length; end >= r.Base {
		return end
	}
	return math.MaxUint64
}

// Map is a fixed-capacity list of non-overlapping usable memory regions.
// It is a plain value so it can be populated before the Go allocator is
// available.
type Map struct {
	regions [MaxRegions]Region
	count   int
}

// Len returns the number of regions in the map.
func (m *Map) Len() int {
	return m.count
}

// Regions returns the regions in the map. The returned slice aliases the
// map contents.
func (m *Map) Regions() []Region {
	return m.regions[:m.count]
}

// Highest returns the end address of the highest region or 0 if the map is
// empty.
func (m *Map) Highest() uint64 {
	var highest uint64
	for _, r := range m.Regions() {
		if end := r.End(); end > highest {
			highest = end
		}
	}
	return highest
}

// Lowest returns the base address of the lowest region or 0 if the map is
// empty.
func (m *Map) Lowest() uint64 {
	if m.count == 0 {
		return 0
	}

	lowest := m.regions[0].Base
	for _, r := range m.Regions()[1:] {
		if r.Base < lowest {
			lowest = r.Base
		}
	}
	return lowest
}

// TotalSize returns the sum of all region lengths.
func (m *Map) TotalSize() mem.Size {
	var total mem.Size
	for _, r := range m.Regions() {
		total += mem.Size(r.Length)
	}
	return total
}

// Append adds r to the end of the map. Zero-length regions are ignored.
func (m *Map) Append(r Region) *kernel.Error {
	if r.Length == 0 {
		return nil
	}

	if m.count == MaxRegions {
		return errMapFull
	}

	m.regions[m.count] = r
	m.count++
	return nil
}

// Reserve removes the physical span [lo, hi) from the map. A region that
// fully contains the span is split in two, which requires a free slot.
func (m *Map) Reserve(lo, hi uint64) *kernel.Error {
	if hi <= lo {
		return nil
	}

	for i := 0; i < m.count; i++ {
		r := m.regions[i]
		base, end := r.Base, r.End()

		switch {
		case end <= lo || base >= hi:
			continue
		case base >= lo && end <= hi:
			m.remove(i)
			i--
		case base < lo && end > hi:
			if m.count == MaxRegions {
				return errMapFull
			}
			m.insert(i+1, Region{Base: hi, Length: end - hi})
			m.regions[i].Length = lo - base
			i++
		case base < lo:
			m.regions[i].Length = lo - base
		default:
			m.regions[i] = Region{Base: hi, Length: end - hi}
		}
	}

	return nil
}

// Print outputs the map contents to w.
func (m *Map) Print(w io.Writer) {
	for _, r := range m.Regions() {
		kfmt.Fprintf(w, "[mmap] [0x%10x - 0x%10x], size: %10d\n", r.Base, r.End(), r.Length)
	}
	kfmt.Fprintf(w, "[mmap] usable memory: %dKb\n", uint64(m.TotalSize()/mem.Kb))
}

func (m *Map) remove(index int) {
	copy(m.regions[index:m.count], m.regions[index+1:m.count])
	m.count--
}

func (m *Map) insert(index int, r Region) {
	copy(m.regions[index+1:m.count+1], m.regions[index:m.count])
	m.regions[index] = r
	m.count++
}
