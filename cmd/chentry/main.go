// Command chentry patches the entry point recorded in a kernel ELF
// image's header. The Stivale-style loader this kernel boots under reads
// e_entry straight out of the file and jumps to it with paging off, so
// the address a linker bakes in at build time (tied to wherever the
// build's link script happened to place .text) has to be rewritten to
// the kernel's actual physical load address before the image ships.
//
// Adapted from biscuit/src/kernel/chentry.go, itself a Go port of the
// original C chentry build tool; behavior is the same (read, validate,
// rewrite e_entry in place) but the checks are specific to this kernel's
// boot contract rather than biscuit's.
package main

import (
	"debug/elf"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
)

// maxLoadAddress is one past the highest physical entry address a Stivale-style
// loader can jump to directly: paging is off and the loader's own stack
// lives below 4GiB, so a 64-bit entry point would corrupt its own
// bootstrap (spec "Bootloader handoff": the kernel is entered before any
// address space exists).
const maxLoadAddress = 1 << 32

func usage() {
	fmt.Fprintf(os.Stderr, "usage: chentry <kernel-elf> <entry-addr>\n\n"+
		"Rewrites <kernel-elf>'s ELF entry point to <entry-addr> (decimal or\n"+
		"0x-prefixed hex), in place.\n")
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 2 {
		usage()
	}

	path := flag.Arg(0)
	addr, err := parseAddr(flag.Arg(1))
	if err != nil {
		log.Fatal(err)
	}
	if addr >= maxLoadAddress {
		log.Fatalf("entry %#x is a 64-bit address; this kernel's loader jumps to e_entry with paging off and cannot reach above 4GiB", addr)
	}

	if err := rewriteEntry(path, addr); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s: entry point set to %#x\n", path, addr)
}

// rewriteEntry opens path, validates it is a kernel image this loader can
// boot, and overwrites its ELF header's e_entry field with addr.
func rewriteEntry(path string, addr uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := checkKernelImage(&ef.FileHeader); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	// e_entry sits at byte offset 24 of an ELF64 header.
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], addr)
	_, err = f.WriteAt(buf[:], 24)
	return err
}

// checkKernelImage verifies eh describes a little-endian x86-64
// executable — the only shape of image this bring-up substrate can ever
// boot (spec §0: "x86-64 monolithic kernel").
func checkKernelImage(eh *elf.FileHeader) error {
	if eh.Ident[0] != 0x7f || string(eh.Ident[1:4]) != "ELF" {
		return fmt.Errorf("not an ELF file")
	}
	if eh.Ident[elf.EI_DATA] != elf.ELFDATA2LSB {
		return fmt.Errorf("not little-endian")
	}
	if eh.Type != elf.ET_EXEC {
		return fmt.Errorf("not a static executable (got %s)", eh.Type)
	}
	if eh.Machine != elf.EM_X86_64 {
		return fmt.Errorf("not x86-64 (got %s)", eh.Machine)
	}
	return nil
}

// parseAddr accepts decimal or 0x-prefixed hex, matching the base-0
// parsing the original C tool's strtoul(..., 0) used.
func parseAddr(s string) (uint64, error) {
	a, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return a, nil
}
