package main

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"lumenos/kernel"
)

var errOutsideWindow = &kernel.Error{Module: "bootprobe", Message: "physical range lies outside the mapped window"}

// physWindow is a read-only mapping of the first bytes of physical memory.
type physWindow struct {
	data []byte
}

// openPhysWindow maps size bytes starting at offset 0 of path, typically
// /dev/mem or a dump of low memory.
func openPhysWindow(path string, size int) (*physWindow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &os.PathError{Op: "mmap", Path: path, Err: err}
	}

	return &physWindow{data: data}, nil
}

// Close unmaps the window.
func (w *physWindow) Close() error {
	return unix.Munmap(w.data)
}

// Map translates a physical range into an address inside the window.
func (w *physWindow) Map(physAddr, size uintptr) (uintptr, *kernel.Error) {
	end := physAddr + size
	if end < physAddr || end > uintptr(len(w.data)) || len(w.data) == 0 {
		return 0, errOutsideWindow
	}

	return uintptr(unsafe.Pointer(&w.data[0])) + physAddr, nil
}
