// Package pic programs the legacy 8259 programmable interrupt controller pair.
package pic

import (
	"lumenos/kernel/cpu"
	"lumenos/kernel/irq"
	"lumenos/kernel/kfmt"
)

const (
	// DefaultBase is the vector base used during bring-up. It moves the
	// legacy vectors away from the CPU exception vectors.
	DefaultBase = irq.Vector(0x30)

	// Lines is the number of interrupt lines served by the pair.
	Lines = 16

	masterCmdPort  = 0x20
	masterDataPort = 0x21
	slaveCmdPort   = 0xa0
	slaveDataPort  = 0xa1

	// writes to this unused port provide a short I/O delay
	ioDelayPort = 0x80

	icw1Init       = 0x10
	icw1NeedICW4   = 0x01
	icw3SlaveLine  = 1 << 2
	icw3SlaveID    = 2
	icw4Mode8086   = 0x01
	cmdEndOfInt    = 0x20
	maskAllLines   = 0xff
	unmaskAllLines = 0x00
)

var (
	// portWriteByteFn is used by tests to mock port I/O.
	portWriteByteFn = cpu.PortWriteByte

	base     irq.Vector
	remapped bool
)

// Remap reprograms both controllers so that the master raises vectors
// [vectorBase, vectorBase+8) and the slave [vectorBase+8, vectorBase+16).
// All lines are unmasked.
func Remap(vectorBase irq.Vector) {
	// ICW1: start initialization sequence
	write(masterCmdPort, icw1Init|icw1NeedICW4)
	write(slaveCmdPort, icw1Init|icw1NeedICW4)

	// ICW2: vector offsets
	write(masterDataPort, uint8(vectorBase))
	write(slaveDataPort, uint8(vectorBase)+8)

	// ICW3: cascade wiring
	write(masterDataPort, icw3SlaveLine)
	write(slaveDataPort, icw3SlaveID)

	// ICW4
	write(masterDataPort, icw4Mode8086)
	write(slaveDataPort, icw4Mode8086)

	write(masterDataPort, unmaskAllLines)
	write(slaveDataPort, unmaskAllLines)

	base, remapped = vectorBase, true
	kfmt.Printf("[pic] remapped legacy IRQs to vectors 0x%x-0x%x\n", uint8(vectorBase), uint8(vectorBase)+Lines-1)
}

// Disable masks all lines of both controllers.
func Disable() {
	write(masterDataPort, maskAllLines)
	write(slaveDataPort, maskAllLines)
}

// Base returns the first vector raised by the controllers and whether Remap
// has been called.
func Base() (irq.Vector, bool) {
	return base, remapped
}

// Acknowledge sends an end-of-interrupt command for vec if it was raised by
// the controllers. Vectors raised by the slave are acknowledged at both
// controllers. Other vectors are ignored.
func Acknowledge(vec irq.Vector) {
	if !remapped || vec < base || uint(vec) >= uint(base)+Lines {
		return
	}

	portWriteByteFn(masterCmdPort, cmdEndOfInt)
	if uint(vec) >= uint(base)+8 {
		portWriteByteFn(slaveCmdPort, cmdEndOfInt)
	}
}

// write sends val to port and waits for the controller to process it.
func write(port uint16, val uint8) {
	portWriteByteFn(port, val)
	portWriteByteFn(ioDelayPort, 0)
}
