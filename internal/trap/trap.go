// Package trap is the common trap dispatcher every idt gate's assembly
// stub calls into after saving a uniform internal/cpu.Context frame
// (spec §4.F). It distinguishes CPU exceptions (vectors 0-31) from
// external interrupts (vector 32 and up, internal/defs.VecSchedulerTick
// through the device vectors starting at VecDeviceBase), runs the
// registered handler, and EOIs external vectors through an injected
// acknowledger — this package never imports internal/apic directly, the
// same decoupling internal/vmm uses for TLB shootdown.
package trap

import (
	"fmt"

	"ignis/internal/cpu"
	"ignis/internal/defs"
)

// Acknowledger sends end-of-interrupt for a hardware vector. Supplied by
// internal/apic once bring-up completes; nil before that, in which case
// Dispatch simply skips the EOI (only the boot CPU's timer/NMI can fire
// that early, and neither needs one).
type Acknowledger interface {
	EOI()
}

var eoi Acknowledger

// WireEOI installs the LAPIC EOI sender. Called once during bring-up.
func WireEOI(a Acknowledger) { eoi = a }

// Handler processes one trap. It receives the saved register frame and
// may mutate it (e.g. the scheduler's tick handler replaces the whole
// saved register frame to switch threads; it does not load CR3).
type Handler func(ctx *cpu.Context)

var handlers [256]Handler

// Register installs fn as the handler for vector. Only one handler per
// vector is supported — a second Register on the same vector replaces
// the first, matching internal/idt's one-gate-per-vector table.
func Register(vector uint8, fn Handler) {
	handlers[vector] = fn
}

const (
	firstException = 0
	lastException  = 31
)

// exceptionNames gives the standard x86-64 mnemonic for each CPU
// exception vector, used in the panic message when no handler is
// registered.
var exceptionNames = [32]string{
	0: "divide-error", 1: "debug", 2: "nmi", 3: "breakpoint",
	4: "overflow", 5: "bound-range", 6: "invalid-opcode", 7: "device-not-available",
	8: "double-fault", 10: "invalid-tss", 11: "segment-not-present",
	12: "stack-fault", 13: "general-protection", 14: "page-fault",
	16: "x87-fp", 17: "alignment-check", 18: "machine-check", 19: "simd-fp",
}

// Dispatch is called by every idt gate's assembly stub with the saved
// frame. It is the single entry point spec §4.F describes.
func Dispatch(ctx *cpu.Context) {
	v := uint8(ctx.IntNo)
	h := handlers[v]
	if h == nil {
		if v <= lastException {
			panicUnhandledException(ctx)
		}
		// An unregistered external vector still needs an EOI, or the
		// LAPIC never delivers another interrupt at or below it.
		if eoi != nil && v != defs.VecSpurious {
			eoi.EOI()
		}
		return
	}

	h(ctx)

	if v > lastException && v != defs.VecSpurious && eoi != nil {
		eoi.EOI()
	}
}

func panicUnhandledException(ctx *cpu.Context) {
	name := "unknown"
	if int(ctx.IntNo) < len(exceptionNames) && exceptionNames[ctx.IntNo] != "" {
		name = exceptionNames[ctx.IntNo]
	}
	msg := fmt.Sprintf("trap: unhandled exception %d (%s) errcode=%#x rip=%#x cs=%#x rflags=%#x rsp=%#x",
		ctx.IntNo, name, ctx.ErrorCode, ctx.RIP, ctx.CS, ctx.RFLAGS, ctx.RSP)
	if ctx.IntNo == 14 {
		msg += fmt.Sprintf(" cr2=%#x", cpu.Rcr2())
	}
	msg += " instr=" + disassembleAt(uintptr(ctx.RIP))
	panic(msg)
}
