package mmio

import (
	"testing"
	"unsafe"
)

func TestReadWrite32(t *testing.T) {
	var regs [4]uint32
	base := uintptr(unsafe.Pointer(&regs[0]))

	Write32(base+8, 0xfee00900)
	if regs[2] != 0xfee00900 {
		t.Fatalf("expected register 2 to contain 0xfee00900; got 0x%x", regs[2])
	}

	regs[3] = 0x00170011
	if got := Read32(base + 12); got != 0x00170011 {
		t.Fatalf("expected Read32 to return 0x00170011; got 0x%x", got)
	}
}
