package vmm

import (
	"lumenos/kernel/mem/mmap"
	"lumenos/kernel/mem/pmm"
	"testing"
)

func mapWithRegions(t *testing.T, regions ...mmap.Region) *mmap.Map {
	var m mmap.Map
	for _, r := range regions {
		if err := m.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	return &m
}

func TestBootstrapIdentityMapShrink(t *testing.T) {
	defer func() { bootstrapped = false }()
	fp, restore := mockPhysMem(t)
	defer restore()
	fp.earlyIdentityMap()

	// 128M of RAM
	m := mapWithRegions(t, mmap.Region{Base: 0x200000, Length: 0x7e00000})
	BootstrapIdentityMap(m)

	pdt := KernelPDT()
	if got, ok := pdt.Translate(0x7ffffff); !ok || got != 0x7ffffff {
		t.Fatalf("expected last byte of RAM to remain identity mapped; got 0x%x (%t)", got, ok)
	}

	for _, addr := range []uintptr{0x8000000, 0x20000000, 0x3fe00000} {
		if _, ok := pdt.Translate(addr); ok {
			t.Errorf("expected 0x%x to be unmapped", addr)
		}
	}

	if exp, got := 448, len(fp.flushed); got != exp {
		t.Errorf("expected %d TLB flushes; got %d", exp, got)
	}

	if m.Regions()[0].Base != 0x200000 {
		t.Error("expected memory map to be left untouched")
	}
}

func TestBootstrapIdentityMapExtend(t *testing.T) {
	defer func() { bootstrapped = false }()
	fp, restore := mockPhysMem(t)
	defer restore()
	fp.earlyIdentityMap()

	m := mapWithRegions(t,
		mmap.Region{Base: 0x200000, Length: 0x3fe00000},
		mmap.Region{Base: 0x100000000, Length: 0x40000000},
	)
	BootstrapIdentityMap(m)

	// one PD for each of GiB 1 to 4
	if exp, got := uint64(0x204000), m.Lowest(); got != exp {
		t.Fatalf("expected carved tables to be reserved; lowest address is 0x%x, want 0x%x", got, exp)
	}

	if fp.allocs != 3 {
		t.Fatal("expected the frame allocator not to be used")
	}

	pdt := KernelPDT()
	for _, addr := range []uintptr{0x1000, 0x40000000, 0xabcdef12, 0x100000000, 0x13fffffff} {
		if got, ok := pdt.Translate(addr); !ok || got != addr {
			t.Errorf("expected 0x%x to be identity mapped; got 0x%x (%t)", addr, got, ok)
		}
	}

	if _, ok := pdt.Translate(0x140000000); ok {
		t.Error("expected address past the end of memory to be unmapped")
	}

	pdpt := tableAt(tableAt(fp.pml4)[0].Frame())
	for i := 1; i <= 4; i++ {
		if exp, got := pmm.FrameFromAddress(0x200000+uintptr(i-1)<<12), pdpt[i].Frame(); got != exp {
			t.Errorf("expected PDPT entry %d to point to carved frame %d; got %d", i, exp, got)
		}
	}
}

func TestBootstrapIdentityMapTwice(t *testing.T) {
	defer func() { bootstrapped = false }()
	fp, restore := mockPhysMem(t)
	defer restore()
	fp.earlyIdentityMap()

	m := mapWithRegions(t, mmap.Region{Base: 0x200000, Length: 0x3fe00000})
	BootstrapIdentityMap(m)

	expectPanic(t, errBootstrapTwice, func() {
		BootstrapIdentityMap(m)
	})
}

func TestBootstrapIdentityMapCarveErrors(t *testing.T) {
	specs := []struct {
		regions []mmap.Region
		expErr  interface{}
	}{
		// a single 4K page after the kernel cannot hold 4 tables
		{
			[]mmap.Region{
				{Base: 0x200000, Length: 0x1000},
				{Base: 0x400000, Length: 0x13fc00000},
			},
			errCarveOutOfSpace,
		},
		// lowest usable address is past the early identity mapping
		{
			[]mmap.Region{
				{Base: 0x3ffff000, Length: 0x1000},
				{Base: 0x100000000, Length: 0x40000000},
			},
			errCarveNotIdentified,
		},
	}

	for specIndex, spec := range specs {
		func() {
			defer func() { bootstrapped = false }()
			fp, restore := mockPhysMem(t)
			defer restore()
			fp.earlyIdentityMap()

			defer func() {
				if err := recover(); err != spec.expErr {
					t.Errorf("[spec %d] expected panic with %v; got %v", specIndex, spec.expErr, err)
				}
			}()

			BootstrapIdentityMap(mapWithRegions(t, spec.regions...))
		}()
	}
}

func TestMissingTables(t *testing.T) {
	fp, restore := mockPhysMem(t)
	defer restore()
	fp.earlyIdentityMap()

	pdt := NewPageDirectoryTable(fp.pml4)
	specs := []struct {
		from, to uint64
		exp      uint64
	}{
		{1 << 30, 1 << 30, 0},
		{0, 1 << 30, 0},
		{1 << 30, 5 << 30, 4},
		{1 << 30, (5 << 30) + 0x200000, 5},
		// crossing into the second PML4 slot needs a PDPT as well
		{1 << 30, 513 << 30, 513},
		{512 << 30, 514 << 30, 3},
	}

	for specIndex, spec := range specs {
		if got := pdt.missingTables(spec.from, spec.to); got != spec.exp {
			t.Errorf("[spec %d] expected %d missing tables; got %d", specIndex, spec.exp, got)
		}
	}
}
