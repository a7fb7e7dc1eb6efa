// Command bootprobe runs the memory map sanitizer and the MP table parser
// against the firmware data of the machine it runs on (or against dumps of
// that data) and cross-checks the results with what the host OS reports.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"

	"lumenos/device/mptable"
	"lumenos/kernel"
	"lumenos/kernel/kfmt"
	"lumenos/kernel/mem"
	"lumenos/kernel/mem/mmap"
)

type options struct {
	memmapDir  string
	physFile   string
	physSize   int
	reservedLo uint64
	reservedHi uint64
	largest    bool
}

// Host information sources; tests replace them.
var (
	hostTotalMemoryFn = memory.TotalMemory
	hostCPUFn         = func() cpuid.CPUInfo { return cpuid.CPU }
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[bootprobe] error: %s\n", err.Error())
	os.Exit(1)
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := new(options)

	fs := flag.NewFlagSet("bootprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.memmapDir, "memmap", "/sys/firmware/memmap", "folder with the firmware memory map or empty to skip the memory map probe")
	fs.StringVar(&opts.physFile, "phys", "/dev/mem", "file exposing physical memory or empty to skip the MP table probe")
	fs.IntVar(&opts.physSize, "size", 1<<20, "number of bytes of physical memory to map")
	fs.Uint64Var(&opts.reservedLo, "reserved-lo", 0x100000, "first byte of the kernel image")
	fs.Uint64Var(&opts.reservedHi, "reserved-hi", 0x400000, "first byte past the kernel image")
	fs.BoolVar(&opts.largest, "largest", false, "keep only the largest usable region")
	fs.Usage = func() {
		fmt.Fprint(stderr, "bootprobe: check boot-time memory map and MP table handling against this machine\n\n")
		fmt.Fprint(stderr, "Usage: bootprobe [options]\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch {
	case fs.NArg() != 0:
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	case opts.physSize <= 0:
		return nil, errors.New("size must be positive")
	}

	return opts, nil
}

func run(opts *options, stdout io.Writer) error {
	// Parser diagnostics are interleaved with the report.
	kfmt.SetOutputSink(stdout)
	defer kfmt.SetOutputSink(nil)

	cpu := hostCPUFn()
	fmt.Fprintf(stdout, "[bootprobe] host cpu: %s (%s), %d logical cores\n", cpu.BrandName, cpu.VendorString, cpu.LogicalCores)

	if opts.memmapDir != "" {
		if err := probeMemoryMap(opts, stdout); err != nil {
			return err
		}
	}

	if opts.physFile != "" {
		if err := probeTopology(opts, cpu.LogicalCores, stdout); err != nil {
			return err
		}
	}

	return nil
}

func probeMemoryMap(opts *options, stdout io.Writer) error {
	entries, err := readMemmap(opts.memmapDir)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "[bootprobe] firmware memory map: %d entries\n", len(entries))
	for _, entry := range entries {
		fmt.Fprintf(stdout, "[bootprobe] [0x%010x - 0x%010x] %s\n", entry.Base, entry.End(), entry.Type)
	}

	sanitize := mmap.Sanitize
	if opts.largest {
		sanitize = mmap.SanitizeLargest
	}

	m, kerr := sanitize(sliceSource(entries), opts.reservedLo, opts.reservedHi)
	if kerr != nil {
		return kerr
	}
	m.Print(stdout)

	if total := hostTotalMemoryFn(); total != 0 {
		fmt.Fprintf(stdout, "[bootprobe] host reports %dKb of RAM; sanitized map keeps %dKb\n",
			total/uint64(mem.Kb), uint64(m.TotalSize()/mem.Kb))
	}

	return nil
}

func probeTopology(opts *options, logicalCores int, stdout io.Writer) error {
	window, err := openPhysWindow(opts.physFile, opts.physSize)
	if err != nil {
		return err
	}
	defer window.Close()

	mptable.SetPhysMapper(window.Map)
	defer mptable.SetPhysMapper(nil)

	topo, err := findTopology()
	if err != nil {
		return err
	}
	topo.Print(stdout)

	var enabled int
	for _, p := range topo.Processors() {
		if p.Flags&mptable.ProcessorEnabled != 0 {
			enabled++
		}
	}

	if logicalCores != 0 && enabled != logicalCores {
		fmt.Fprintf(stdout, "[bootprobe] warning: MP table lists %d enabled processors but the host reports %d logical cores\n", enabled, logicalCores)
	}

	return nil
}

// findTopology converts the panics raised by mptable.Find on malformed
// tables into errors.
func findTopology() (topo *mptable.Topology, err error) {
	defer func() {
		if r := recover(); r != nil {
			if kerr, ok := r.(*kernel.Error); ok {
				err = fmt.Errorf("malformed MP configuration table: %w", kerr)
				return
			}
			panic(r)
		}
	}()

	topo, kerr := mptable.Find()
	if kerr != nil {
		return nil, kerr
	}
	return topo, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		exit(err)
	}

	if err = run(opts, os.Stdout); err != nil {
		exit(err)
	}
}
