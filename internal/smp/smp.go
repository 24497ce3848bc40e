// Package smp brings up the application processors (spec §4.G): it
// installs a real-mode trampoline at physical page 0x1000, populates the
// fixed low-memory handoff cells each AP reads as it comes up, and drives
// the INIT-SIPI-SIPI sequence one CPU at a time, waiting on a per-AP
// ready flag before moving to the next.
//
// Grounded on
// _examples/original_source/kernel/arch/amd64/apic.c's startup_all_cores:
// the same SMP_FLAG/SMP_KERNEL_ENTRY/SMP_KERNEL_PAGE_TABLE/
// SMP_STACK_POINTER/SMP_KERNEL_GDT/SMP_KERNEL_IDT cell offsets (+0x510,
// +0x520, +0x540, +0x550, +0x580, +0x590 from the direct-mapped base of
// physical page 0), the trampoline-blob memcpy to 0x1000, the identity
// map of pages 0 and 0x1000 for the duration of bring-up followed by an
// unmap, and the double-SIPI retry on a missed first attempt.
package smp

import (
	"time"

	"ignis/internal/defs"
	"ignis/internal/gdt"
	"ignis/internal/idt"
	"ignis/internal/mem"
	"ignis/internal/vmm"
)

// Cell offsets from the direct window's base of physical page 0,
// matching apic.c's SMP_* macros exactly.
const (
	cellReadyFlag  = 0x510
	cellEntry      = 0x520
	cellPML4       = 0x540
	cellStack      = 0x550
	cellGDT        = 0x580
	cellIDT        = 0x590
	trampolinePage = 0x1000
)

// Sender is the subset of internal/apic.LAPIC bring-up needs.
type Sender interface {
	SendInitIPI(apicID uint32)
	SendStartupIPI(apicID uint32, trampolinePage uintptr)
}

// Stall blocks for approximately d, matching apic.c's stall() calls
// between INIT and each SIPI.
type Stall func(d time.Duration)

// TrampolineBlob is the real-mode-to-long-mode entry code copied to
// physical page 0x1000. Nothing in this repository populates it (cmd/chentry
// only patches e_entry); callers set it before BringUp, and this package
// only places it in memory.
var TrampolineBlob []byte

// AllocateStack returns the top of a fresh kernel stack for an
// incoming AP to use before it has its own scheduler-assigned stack.
// Supplied by BringUp's caller.
type AllocateStack func() uintptr

// BringUp starts every CPU named in cpus other than bootAPICID
// (typically internal/acpi's parsed LocalAPICs), one at a time, using
// sender to issue INIT/SIPI and as to map the low pages for the duration
// of bring-up. entry is the address each AP jumps to in long mode.
func BringUp(cpus []uint32, bootAPICID uint32, sender Sender, stall Stall, as *vmm.AddressSpace, g *gdt.Table, it *idt.Table, entry uintptr, allocStack AllocateStack) defs.Err_t {
	if err := as.Map(0, 0, mem.Write); err != defs.OK && err != defs.ALREADY_MAPPED {
		return err
	}
	if err := as.Map(trampolinePage, trampolinePage, mem.Write|mem.Exec); err != defs.OK && err != defs.ALREADY_MAPPED {
		return err
	}

	copy(mem.DmapBytes(trampolinePage, len(TrampolineBlob)), TrampolineBlob)

	writeCell64(cellEntry, uint64(entry))
	writeCell64(cellPML4, uint64(as.PML4))
	writeCellGDT(g)
	writeCellIDT(it)

	for _, apicID := range cpus {
		if apicID == bootAPICID {
			continue
		}
		if err := bringUpOne(apicID, sender, stall, allocStack); err != defs.OK {
			return err
		}
	}

	as.Unmap(0)
	as.Unmap(trampolinePage)
	return defs.OK
}

func bringUpOne(apicID uint32, sender Sender, stall Stall, allocStack AllocateStack) defs.Err_t {
	writeCell64(cellReadyFlag, 0)
	writeCell64(cellStack, uint64(allocStack()))

	sender.SendInitIPI(apicID)
	stall(10 * time.Millisecond)
	sender.SendStartupIPI(apicID, trampolinePage)
	stall(1 * time.Millisecond)

	if readCell64(cellReadyFlag) == 0 {
		sender.SendStartupIPI(apicID, trampolinePage)
		stall(1 * time.Second)
		if readCell64(cellReadyFlag) == 0 {
			return defs.TIMEOUT
		}
	}
	return defs.OK
}

func writeCell64(offset uintptr, v uint64) {
	b := mem.DmapBytes(0, int(offset)+8)
	for i := 0; i < 8; i++ {
		b[int(offset)+i] = byte(v >> (8 * i))
	}
}

func readCell64(offset uintptr) uint64 {
	b := mem.DmapBytes(0, int(offset)+8)
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[int(offset)+i]) << (8 * i)
	}
	return v
}

// writeCellGDT and writeCellIDT stash the addresses of the kernel's
// already-built GDT/IDT descriptor-register images where the trampoline's 32-bit-to-64-bit
// transition code expects to LGDT/LIDT them from, before any AP-local
// internal/gdt.Table/internal/idt.Table exists.
func writeCellGDT(g *gdt.Table) {
	// The trampoline only needs the pointer the shared kernel GDT/IDT
	// already live at — every CPU loads the same tables during bring-up
	// and installs its own TSS afterward via internal/gdt.Table.Load.
	writeCell64(cellGDT, uint64(g.RegisterAddr()))
}

func writeCellIDT(it *idt.Table) {
	writeCell64(cellIDT, uint64(it.RegisterAddr()))
}
