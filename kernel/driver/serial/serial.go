// Package serial provides a polled driver for a 16550-compatible UART that
// serves as the kernel's console output sink.
package serial

import "lumenos/kernel/cpu"

// COM1 is the I/O port base of the first serial port.
const COM1 uint16 = 0x3f8

const (
	regData        = 0
	regIntEnable   = 1
	regFIFOCtrl    = 2
	regLineCtrl    = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	lineCtrlDLAB   = 0x80
	lineCtrl8N1    = 0x03
	lineStatusTHRE = 0x20

	// baseBaud is the UART input clock divided by 16.
	baseBaud = 115200

	// maxTxPolls bounds the busy wait on the transmitter so that a missing
	// UART cannot hang the kernel.
	maxTxPolls = 1 << 16
)

var (
	// portWriteByteFn and portReadByteFn are mocked by tests and are
	// automatically inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

// Port is an io.Writer for a 16550 UART located at an I/O port base.
type Port struct {
	base uint16
}

// New returns a Port for the UART at base. Init must be called before the
// port is written to.
func New(base uint16) *Port {
	return &Port{base: base}
}

// Init programs the UART for 8N1 operation at the requested baud rate with
// interrupts disabled.
func (p *Port) Init(baud uint32) {
	divisor := uint16(baseBaud / baud)

	portWriteByteFn(p.base+regIntEnable, 0)
	portWriteByteFn(p.base+regLineCtrl, lineCtrlDLAB)
	portWriteByteFn(p.base+regData, uint8(divisor))
	portWriteByteFn(p.base+regIntEnable, uint8(divisor>>8))
	portWriteByteFn(p.base+regLineCtrl, lineCtrl8N1)
	portWriteByteFn(p.base+regFIFOCtrl, 0xc7)
	portWriteByteFn(p.base+regModemCtrl, 0x03)
}

// Write implements io.Writer. Line feeds are expanded to CR/LF.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		if b == '\n' {
			p.putByte('\r')
		}
		p.putByte(b)
	}

	return len(data), nil
}

func (p *Port) putByte(b byte) {
	for polls := 0; polls < maxTxPolls; polls++ {
		if portReadByteFn(p.base+regLineStatus)&lineStatusTHRE != 0 {
			break
		}
	}

	portWriteByteFn(p.base+regData, b)
}
