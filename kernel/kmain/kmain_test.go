package kmain

import (
	"bytes"
	"io"
	"lumenos/device/mptable"
	"lumenos/kernel"
	"lumenos/kernel/hal/e820"
	"lumenos/kernel/irq"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem/mmap"
	"strings"
	"testing"
)

type fakeTopology struct {
	entries []mptable.IOAPICEntry
}

func (t *fakeTopology) IOAPICs() []mptable.IOAPICEntry { return t.entries }

func (t *fakeTopology) Print(w io.Writer) {
	kfmt.Fprintf(w, "[mptable] fake topology\n")
}

// mockBringUp replaces every bring-up step with a function that records its
// name in steps.
func mockBringUp(t *testing.T, steps *[]string) func() {
	var (
		origDisableInterrupts    = disableInterruptsFn
		origEnableInterrupts     = enableInterruptsFn
		origAttachConsole        = attachConsoleFn
		origMemoryMapSource      = memoryMapSource
		origBootstrapIdentityMap = bootstrapIdentityMapFn
		origAllocatorInit        = allocatorInitFn
		origPICRemap             = picRemapFn
		origAPICInit             = apicInitFn
		origFindTopology         = findTopologyFn
		origIOAPICInit           = ioapicInitFn
	)

	record := func(step string) { *steps = append(*steps, step) }

	disableInterruptsFn = func() { record("cli") }
	enableInterruptsFn = func() { record("sti") }
	attachConsoleFn = func() { record("console") }
	memoryMapSource = func(visitor e820.Visitor) {
		for _, entry := range []e820.Entry{
			{Base: 0, Length: 0x9fc00, Type: e820.Usable},
			{Base: 0x9fc00, Length: 0x400, Type: e820.Reserved},
			{Base: 0x100000, Length: 0x1ff00000, Type: e820.Usable},
		} {
			if !visitor(&entry) {
				return
			}
		}
	}
	bootstrapIdentityMapFn = func(m *mmap.Map) {
		record("vmm")
		if m != &memMap {
			t.Error("expected the sanitized memory map to be passed to the identity map bootstrap")
		}
	}
	allocatorInitFn = func(m *mmap.Map) {
		record("allocator")
		if exp, got := uint64(0x200000), m.Lowest(); got != exp {
			t.Errorf("expected allocator memory to start at 0x%x; got 0x%x", exp, got)
		}
	}
	picRemapFn = func(base irq.Vector) {
		record("pic")
		if base != 0x30 {
			t.Errorf("expected PIC vectors to be remapped to 0x30; got 0x%x", uint8(base))
		}
	}
	apicInitFn = func() uint8 {
		record("apic")
		return 2
	}
	findTopologyFn = func() (topology, *kernel.Error) {
		record("mptable")
		return &fakeTopology{entries: []mptable.IOAPICEntry{{Address: 0xfec00000}}}, nil
	}
	ioapicInitFn = func(entries []mptable.IOAPICEntry, below uintptr, destAPICID uint8) {
		record("ioapic")
		if len(entries) != 1 || below != 0xfffffffffffff000 || destAPICID != 2 {
			t.Errorf("unexpected I/O APIC init arguments: %v, 0x%x, %d", entries, below, destAPICID)
		}
	}

	return func() {
		disableInterruptsFn = origDisableInterrupts
		enableInterruptsFn = origEnableInterrupts
		attachConsoleFn = origAttachConsole
		memoryMapSource = origMemoryMapSource
		bootstrapIdentityMapFn = origBootstrapIdentityMap
		allocatorInitFn = origAllocatorInit
		picRemapFn = origPICRemap
		apicInitFn = origAPICInit
		findTopologyFn = origFindTopology
		ioapicInitFn = origIOAPICInit
		irq.HandleAll(nil)
		kfmt.SetOutputSink(nil)
	}
}

func TestBringUpOrder(t *testing.T) {
	var steps []string
	defer mockBringUp(t, &steps)()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	bringUp(0x100000, 0x200000)

	exp := []string{"cli", "console", "vmm", "allocator", "pic", "apic", "mptable", "ioapic", "sti"}
	if strings.Join(steps, ",") != strings.Join(exp, ",") {
		t.Fatalf("expected bring-up steps %v; got %v", exp, steps)
	}

	if !topologyFound {
		t.Error("expected topology to be reported as found")
	}

	for _, expOutput := range []string{
		"[kmain] kernel image at [0x100000 - 0x200000)\n",
		"[mptable] fake topology\n",
		"[kmain] interrupts enabled\n",
	} {
		if !strings.Contains(buf.String(), expOutput) {
			t.Errorf("expected output to contain %q; got:\n%s", expOutput, buf.String())
		}
	}
}

func TestBringUpWithoutTopology(t *testing.T) {
	var steps []string
	defer mockBringUp(t, &steps)()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	findTopologyFn = func() (topology, *kernel.Error) {
		steps = append(steps, "mptable")
		return nil, &kernel.Error{Module: "mptable", Message: "could not locate MP floating pointer"}
	}

	bringUp(0x100000, 0x200000)

	// the I/O APIC is skipped but the rest of the bring-up proceeds
	exp := []string{"cli", "console", "vmm", "allocator", "pic", "apic", "mptable", "sti"}
	if strings.Join(steps, ",") != strings.Join(exp, ",") {
		t.Fatalf("expected bring-up steps %v; got %v", exp, steps)
	}

	if topologyFound {
		t.Error("expected topology to be reported as missing")
	}

	if expOutput := "MP topology unavailable (could not locate MP floating pointer)"; !strings.Contains(buf.String(), expOutput) {
		t.Errorf("expected output to contain %q; got:\n%s", expOutput, buf.String())
	}
}

func TestBringUpNoUsableMemory(t *testing.T) {
	var steps []string
	defer mockBringUp(t, &steps)()

	memoryMapSource = func(e820.Visitor) {}

	defer func() {
		err, ok := recover().(*kernel.Error)
		if !ok || err.Module != "mmap" {
			t.Fatalf("expected an mmap error panic; got %v", err)
		}

		for _, step := range steps {
			if step == "sti" {
				t.Fatal("expected interrupts to remain disabled")
			}
		}
	}()

	bringUp(0x100000, 0x200000)
}

func TestGenericHandler(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var (
		buf   bytes.Buffer
		regs  irq.Regs
		frame irq.Frame
	)
	kfmt.SetOutputSink(&buf)

	t.Run("CPU exception", func(t *testing.T) {
		buf.Reset()
		genericHandler(3, 0, &frame, &regs)

		if exp := "[kmain] CPU exception 3 (error code: 0x0)"; !strings.Contains(buf.String(), exp) {
			t.Fatalf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	})

	t.Run("external interrupt", func(t *testing.T) {
		buf.Reset()
		genericHandler(0x40, 0, &frame, &regs)

		if buf.Len() != 0 {
			t.Fatalf("expected no output; got:\n%s", buf.String())
		}
	})

	t.Run("double fault", func(t *testing.T) {
		defer func() {
			if err := recover(); err != errUnhandledFault {
				t.Fatalf("expected panic with %v; got %v", errUnhandledFault, err)
			}
		}()

		genericHandler(irq.DoubleFault, 0, &frame, &regs)
	})
}
