package vmm

import (
	"bytes"
	"lumenos/kernel/irq"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem/pmm"
	"strings"
	"testing"
)

func TestPageFaultHandler(t *testing.T) {
	defer func(origReadCR2 func() uint64) {
		readCR2Fn = origReadCR2
		kfmt.SetOutputSink(nil)
	}(readCR2Fn)

	_, restore := mockPhysMem(t)
	defer restore()

	if err := KernelPDT().Map(0xbadf000, 0x3000, 0, pmm.Size4K); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		errCode   uint64
		expReason string
	}{
		{0, "read from non-present page"},
		{1, "page protection violation (read)"},
		{2, "write to non-present page"},
		{3, "page protection violation (write)"},
		{4, "page-fault in user-mode"},
		{8, "page table has reserved bit set"},
		{16, "instruction fetch"},
		{0xf00, "unknown"},
	}

	var (
		buf   bytes.Buffer
		regs  irq.Regs
		frame irq.Frame
	)
	kfmt.SetOutputSink(&buf)
	readCR2Fn = func() uint64 { return 0xbadf00d }

	for specIndex, spec := range specs {
		buf.Reset()

		func() {
			defer func() {
				if err := recover(); err != errUnrecoverableFault {
					t.Errorf("[spec %d] expected panic with errUnrecoverableFault; got %v", specIndex, err)
				}
			}()

			PageFaultHandler(irq.PageFaultException, spec.errCode, &frame, &regs)
		}()

		out := buf.String()
		if !strings.Contains(out, "Reason: "+spec.expReason) {
			t.Errorf("[spec %d] expected output to contain reason %q; got:\n%s", specIndex, spec.expReason, out)
		}

		if !strings.Contains(out, "(mapped to 0x300d)") {
			t.Errorf("[spec %d] expected output to include the translated address; got:\n%s", specIndex, out)
		}
	}

}

func TestGeneralProtectionFaultHandler(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var (
		buf   bytes.Buffer
		regs  irq.Regs
		frame irq.Frame
	)
	kfmt.SetOutputSink(&buf)

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Errorf("expected panic with errUnrecoverableFault; got %v", err)
		}

		if exp := "General protection fault (error code: 0x10)"; !strings.Contains(buf.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	}()

	GeneralProtectionFaultHandler(irq.GPFException, 0x10, &frame, &regs)
}
