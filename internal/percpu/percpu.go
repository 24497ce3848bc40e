// Package percpu is the per-logical-CPU storage block (spec §3, "Per-CPU
// block"): CPU id, pointers to the current and idle threads, the
// scheduler's runnable set, critical-section nesting depth, and the
// saved interrupt flag, addressed through IA32_GS_BASE so any code
// running on a given CPU can reach its own block without a lookup.
//
// There is no third-party or teacher precedent for GS-based per-CPU
// storage in the retrieved pack (biscuit runs atop the host Go
// runtime's own goroutine-local scheduling); this package is grounded
// directly on spec §3/§4.I and the standard technique OS kernels use
// for per-CPU data (store a self-pointer at GS:0, install it with
// internal/cpu.WrGSBase).
package percpu

import (
	"unsafe"

	"ignis/internal/cpu"
	"ignis/internal/gdt"
	"ignis/internal/idt"
)

// Block is one CPU's private state. Sched is an opaque slot
// internal/sched stores its own per-CPU runnable-set pointer in, kept
// untyped here to avoid an import cycle (internal/sched depends on
// internal/percpu for Current(), not the reverse).
type Block struct {
	self *Block

	ID  uint32 // LAPIC id
	GDT *gdt.Table
	IDT *idt.Table

	// Sched holds a *sched.cpuState, type-erased.
	Sched unsafe.Pointer

	// LAPICFreqHz is this CPU's own LAPIC timer calibration, cached
	// per-CPU rather than as a single global: crystal-driven APIC
	// timers can run at slightly different rates core to core, so each
	// CPU calibrates and caches its own. internal/apic.LAPIC.CalibrateTimer
	// does not write this field; it keeps the rate in the LAPIC, readable
	// through Freq, and nothing in this repository copies it here.
	LAPICFreqHz uint64

	// CriticalDepth counts nested SaveAndDisable-style critical
	// sections on this CPU; InterruptsSaved is the interrupt-enabled
	// flag observed when the outermost one was entered.
	CriticalDepth   int
	InterruptsSaved bool
}

// New allocates and initializes a Block for one CPU. The caller installs
// it on the current CPU with Install; other CPUs each get their own.
func New(id uint32, g *gdt.Table, it *idt.Table) *Block {
	b := &Block{ID: id, GDT: g, IDT: it}
	b.self = b
	return b
}

// Install makes b reachable via Current() on the calling CPU.
func (b *Block) Install() {
	cpu.WrGSBase(uint64(uintptr(unsafe.Pointer(b))))
}

// Current returns the calling CPU's Block. Panics if Install was never
// called on this CPU (GS base reads back as 0).
func Current() *Block {
	base := uintptr(cpu.RdGSBase())
	if base == 0 {
		panic("percpu: Current called before Install")
	}
	b := (*Block)(unsafe.Pointer(base))
	if b.self != b {
		panic("percpu: GS base does not point at a valid Block")
	}
	return b
}

// EnterCritical disables interrupts and bumps the nesting depth,
// recording the pre-existing interrupt state only on the outermost
// call — matching the restore-outer-state-only contract a TPL-raise
// API provides.
func (b *Block) EnterCritical() {
	was := cpu.SaveAndDisable()
	if b.CriticalDepth == 0 {
		b.InterruptsSaved = was
	}
	b.CriticalDepth++
}

// ExitCritical decrements the nesting depth, restoring the original
// interrupt state only once the outermost EnterCritical unwinds.
func (b *Block) ExitCritical() {
	if b.CriticalDepth == 0 {
		panic("percpu: ExitCritical without matching EnterCritical")
	}
	b.CriticalDepth--
	if b.CriticalDepth == 0 {
		cpu.Restore(b.InterruptsSaved)
	}
}
