package pmm

import (
	"lumenos/kernel"
	"lumenos/kernel/mem"
	"testing"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<mem.PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
		{0x200000, Frame(512)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestFrameSize(t *testing.T) {
	if exp, got := mem.Size(4096), Size4K.Bytes(); got != exp {
		t.Errorf("expected Size4K to span %d bytes; got %d", exp, got)
	}

	if exp, got := mem.Size(2*mem.Mb), Size2M.Bytes(); got != exp {
		t.Errorf("expected Size2M to span %d bytes; got %d", exp, got)
	}

	if Size4K.String() != "4K" || Size2M.String() != "2M" {
		t.Errorf("unexpected FrameSize names: %s, %s", Size4K, Size2M)
	}
}

type recordingAllocator struct {
	next  Frame
	freed []Frame
}

func (a *recordingAllocator) AllocFrame(size FrameSize) (Frame, *kernel.Error) {
	a.next++
	return a.next, nil
}

func (a *recordingAllocator) FreeFrame(f Frame, _ FrameSize) {
	a.freed = append(a.freed, f)
}

func TestAllocatorRegistration(t *testing.T) {
	defer SetAllocator(nil)

	SetAllocator(nil)
	if _, err := AllocFrame(Size4K); err != errNoAllocator {
		t.Fatalf("expected errNoAllocator; got %v", err)
	}

	// Freeing without an allocator is a no-op
	FreeFrame(Frame(1), Size4K)

	alloc := &recordingAllocator{}
	SetAllocator(alloc)

	frame, err := AllocFrame(Size2M)
	if err != nil {
		t.Fatal(err)
	}

	FreeFrame(frame, Size2M)
	if len(alloc.freed) != 1 || alloc.freed[0] != frame {
		t.Fatalf("expected frame %d to reach the registered allocator; got %v", frame, alloc.freed)
	}
}
