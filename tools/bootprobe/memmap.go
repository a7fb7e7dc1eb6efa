package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"lumenos/kernel/hal/e820"
)

// sysfsTypes maps the region names exported by the kernel under
// /sys/firmware/memmap to memory map entry types. Unknown names are treated
// as reserved.
var sysfsTypes = map[string]e820.Type{
	"System RAM":                e820.Usable,
	"Reserved":                  e820.Reserved,
	"ACPI Tables":               e820.ACPIReclaimable,
	"ACPI Non-volatile Storage": e820.ACPINVS,
	"Unusable memory":           e820.BadMemory,
	"Persistent Memory":         e820.NotUsable,
}

// readMemmap loads the firmware memory map exported as one numbered folder
// per entry, each containing start, end and type files. Addresses are
// inclusive hex values.
func readMemmap(dir string) ([]e820.Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var entries []e820.Entry
	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}

		entry, err := readMemmapEntry(filepath.Join(dir, dirEntry.Name()))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: no memory map entries", dir)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Base < entries[j].Base })
	return entries, nil
}

func readMemmapEntry(dir string) (e820.Entry, error) {
	var (
		entry      e820.Entry
		start, end uint64
		err        error
	)

	if start, err = readHex(filepath.Join(dir, "start")); err != nil {
		return entry, err
	}
	if end, err = readHex(filepath.Join(dir, "end")); err != nil {
		return entry, err
	}
	if end < start {
		return entry, fmt.Errorf("%s: end address 0x%x is below start address 0x%x", dir, end, start)
	}

	typeName, err := os.ReadFile(filepath.Join(dir, "type"))
	if err != nil {
		return entry, err
	}

	entry.Base = start
	entry.Length = end - start + 1
	entry.Type = e820.Reserved
	if t, known := sysfsTypes[strings.TrimSpace(string(typeName))]; known {
		entry.Type = t
	}

	return entry, nil
}

func readHex(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// sliceSource returns a memory map source that visits entries in order.
// The visitor receives copies so the slice is never modified.
func sliceSource(entries []e820.Entry) e820.Source {
	return func(visitor e820.Visitor) {
		for i := range entries {
			entry := entries[i]
			if !visitor(&entry) {
				return
			}
		}
	}
}
