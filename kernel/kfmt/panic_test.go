package kfmt

import (
	"bytes"
	"errors"
	"lumenos/kernel"
	"lumenos/kernel/cpu"
	"testing"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
		disableInterruptsFn = cpu.DisableInterrupts
		outputSink = nil
	}()

	var (
		buf                   bytes.Buffer
		cpuHaltCalled         bool
		interruptsMaskedFirst bool
	)
	SetOutputSink(&buf)
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}
	disableInterruptsFn = func() {
		interruptsMaskedFirst = buf.Len() == 0 && !cpuHaltCalled
	}

	specs := []struct {
		name string
		arg  interface{}
		exp  string
	}{
		{
			"with *kernel.Error",
			&kernel.Error{Module: "test", Message: "panic test"},
			"\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with classified *kernel.Error",
			&kernel.Error{Module: "ioapic", Message: "no I/O APIC found", Kind: kernel.KindHardwareAbsent},
			"\n-----------------------------------\n[ioapic] unrecoverable error (hardware absent): no I/O APIC found\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with error",
			errors.New("go error"),
			"\n-----------------------------------\n[rt] unrecoverable error: go error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"with string",
			"string error",
			"\n-----------------------------------\n[rt] unrecoverable error: string error\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
		{
			"without error",
			nil,
			"\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n",
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			buf.Reset()
			cpuHaltCalled = false
			interruptsMaskedFirst = false

			Panic(spec.arg)

			if got := buf.String(); got != spec.exp {
				t.Fatalf("expected to get:\n%q\ngot:\n%q", spec.exp, got)
			}

			if !cpuHaltCalled {
				t.Fatal("expected cpu.Halt() to be called by Panic")
			}

			if !interruptsMaskedFirst {
				t.Fatal("expected Panic to mask interrupts before producing any output")
			}
		})
	}
}
