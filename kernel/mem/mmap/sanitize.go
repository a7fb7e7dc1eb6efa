package mmap

import (
	"lumenos/kernel"
	"lumenos/kernel/hal/e820"
	"lumenos/kernel/kfmt"
)

// Sanitize collects the usable entries reported by src and clips them
// against the kernel span [reservedLo, reservedHi):
//
//   - entries above the span are kept unchanged;
//   - entries straddling the high edge, including entries that contain the
//     whole span, keep only the part above reservedHi;
//   - entries inside the span or ending at or below reservedHi are dropped.
//
// Memory below the kernel holds the BIOS data area, the EBDA and the early
// page tables so it is never handed out. Every returned region therefore
// starts above reservedLo. An error is returned if no usable memory is left.
func Sanitize(src e820.Source, reservedLo, reservedHi uint64) (Map, *kernel.Error) {
	var (
		m       Map
		dropped int
	)

	if reservedHi <= reservedLo {
		return m, errBadReservedSpan
	}

	src(func(entry *e820.Entry) bool {
		if entry.Type != e820.Usable {
			return true
		}

		if entry.Base+entry.Length < entry.Base {
			kfmt.Printf("[mmap] usable region at 0x%x wraps the address space; clamping\n", entry.Base)
		}

		if m.Append(Region{Base: entry.Base, Length: entry.Length}) != nil {
			dropped++
		}
		return true
	})

	if dropped != 0 {
		kfmt.Printf("[mmap] ignoring %d usable regions past the first %d\n", dropped, MaxRegions)
	}

	return m, m.clip(reservedLo, reservedHi)
}

// SanitizeLargest works like Sanitize but keeps only the largest usable
// entry reported by src. It suits targets with a single RAM region; on
// firmware maps with multiple usable regions the remaining ones are lost.
func SanitizeLargest(src e820.Source, reservedLo, reservedHi uint64) (Map, *kernel.Error) {
	var (
		m       Map
		largest Region
	)

	if reservedHi <= reservedLo {
		return m, errBadReservedSpan
	}

	src(func(entry *e820.Entry) bool {
		if entry.Type == e820.Usable && entry.Length > largest.Length {
			largest = Region{Base: entry.Base, Length: entry.Length}
		}
		return true
	})

	_ = m.Append(largest)
	return m, m.clip(reservedLo, reservedHi)
}

// clip applies the kernel span policy to every region in place and then
// verifies the result.
func (m *Map) clip(lo, hi uint64) *kernel.Error {
	n := 0
	for _, r := range m.Regions() {
		base, end := r.Base, r.End()

		switch {
		case base < hi && end > hi:
			base = hi
		case end <= hi:
			continue
		}

		if end <= base {
			continue
		}

		m.regions[n] = Region{Base: base, Length: end - base}
		n++
	}
	m.count = n

	return m.verify(lo, hi)
}

// verify checks that the map is not empty and that no region starts at or
// below lo or overlaps [lo, hi).
func (m *Map) verify(lo, hi uint64) *kernel.Error {
	if m.count == 0 {
		return errNoUsableMemory
	}

	for _, r := range m.Regions() {
		if r.Base <= lo {
			return errRegionBelowKernel
		}

		if r.Base < hi {
			return errRegionOverlap
		}
	}

	return nil
}
