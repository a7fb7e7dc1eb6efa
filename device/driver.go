// Package device defines the interface shared by the interrupt controller
// drivers and the helper used to bring them up.
package device

import (
	"io"
	"lumenos/kernel"
	"lumenos/kernel/kfmt"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// prefixBuffer is an io.Writer backed by a fixed array. Writes past its
// capacity are truncated.
type prefixBuffer struct {
	data [64]byte
	len  int
}

func (b *prefixBuffer) Write(p []byte) (int, error) {
	n := copy(b.data[b.len:], p)
	b.len += n
	return n, nil
}

func (b *prefixBuffer) Bytes() []byte {
	return b.data[:b.len]
}

var (
	prefixBuf    prefixBuffer
	prefixWriter kfmt.PrefixWriter

	// getOutputSinkFn is used by tests to capture driver output.
	getOutputSinkFn = kfmt.GetOutputSink
)

// Init initializes drv. Each line of output emitted by the driver is
// prefixed with its name and version. Drivers in this kernel control
// hardware that bring-up cannot proceed without, so an initialization
// error causes a kernel panic.
func Init(drv Driver) {
	prefixBuf.len = 0
	major, minor, patch := drv.DriverVersion()
	kfmt.Fprintf(&prefixBuf, "[%s %d.%d.%d] ", drv.DriverName(), major, minor, patch)

	prefixWriter = kfmt.PrefixWriter{Sink: getOutputSinkFn(), Prefix: prefixBuf.Bytes()}
	if err := drv.DriverInit(&prefixWriter); err != nil {
		kfmt.Fprintf(&prefixWriter, "init failed: %s\n", err.Message)
		panic(err)
	}

	kfmt.Fprintf(&prefixWriter, "initialized\n")
}
