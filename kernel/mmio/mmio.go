// Package mmio provides access to memory-mapped device registers.
//
// All accesses are performed with a single 32-bit load or store so that
// device register side effects occur exactly once per call.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Read32 returns the 32-bit register located at addr.
//
//go:nosplit
func Read32(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

// Write32 stores val to the 32-bit register located at addr.
//
//go:nosplit
func Write32(addr uintptr, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), val)
}
