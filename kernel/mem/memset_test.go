package mem

import (
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(uintptr(0), 0x00, 0)

	for pageCount := uint32(1); pageCount <= 10; pageCount++ {
		buf := make([]byte, PageSize<<pageCount)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		addr := uintptr(unsafe.Pointer(&buf[0]))
		Memset(addr, 0x00, Size(len(buf)))

		for i := 0; i < len(buf); i++ {
			if got := buf[i]; got != 0x00 {
				t.Errorf("[block with %d pages] expected byte: %d to be 0x00; got 0x%x", pageCount, i, got)
			}
		}
	}
}

func TestAlign(t *testing.T) {
	specs := []struct {
		addr    uint64
		align   Size
		expUp   uint64
		expDown uint64
	}{
		{0, PageSize, 0, 0},
		{1, PageSize, 0x1000, 0},
		{0x1000, PageSize, 0x1000, 0x1000},
		{0x1fffff, HugePageSize, 0x200000, 0},
		{0x200001, HugePageSize, 0x400000, 0x200000},
	}

	for specIndex, spec := range specs {
		if got := AlignUp(spec.addr, spec.align); got != spec.expUp {
			t.Errorf("[spec %d] expected AlignUp to return 0x%x; got 0x%x", specIndex, spec.expUp, got)
		}
		if got := AlignDown(spec.addr, spec.align); got != spec.expDown {
			t.Errorf("[spec %d] expected AlignDown to return 0x%x; got 0x%x", specIndex, spec.expDown, got)
		}
	}
}
