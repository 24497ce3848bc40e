// Package kernel is the boot-CPU bring-up sequence (spec §4.G/§4.H):
// the one place that actually wires internal/apic's LAPIC into
// internal/trap's dispatcher, internal/sched's ticker/notifier, and
// internal/vmm's TLB shootdown, then drives internal/smp.BringUp to
// start the remaining CPUs.
//
// Grounded on _examples/original_source/kernel/arch/amd64/apic.c's
// init_apic followed by startup_all_cores: that file calls
// init_lapic/calibrate once on the boot CPU, installs the timer and
// IPI vector handlers, and only then starts the APs. percpu.Install
// and sched.Init are deliberately left to the caller (they run once
// per CPU, including every AP, from the real-mode-to-long-mode entry
// trampoline internal/smp installs — this package runs once, on the
// boot CPU, before any AP exists).
package kernel

import (
	"time"

	"ignis/internal/apic"
	"ignis/internal/cpu"
	"ignis/internal/defs"
	"ignis/internal/gdt"
	"ignis/internal/idt"
	"ignis/internal/sched"
	"ignis/internal/smp"
	"ignis/internal/trap"
	"ignis/internal/vmm"
)

// WireInterrupts connects a calibrated LAPIC to every package that
// needs one, on the boot CPU (spec §4.H): EOI routing for the trap
// dispatcher, the scheduler's tick acknowledger/rearm and its
// cross-CPU reschedule notifier, and the TLB-shootdown IPI handler.
// l must already have EnableSpurious/CalibrateTimer run (internal/apic
// stays decoupled from bring-up ordering; this package owns the
// order). quantum is the scheduling quantum passed to sched.WireTicker.
func WireInterrupts(l *apic.LAPIC, quantum time.Duration) {
	trap.WireEOI(l)
	sched.WireTicker(l, quantum)
	sched.WireNotifier(func(apicID uint32) { l.SendIPI(apicID, defs.VecRescheduleIPI) })

	trap.Register(defs.VecSchedulerTick, sched.Tick)
	trap.Register(defs.VecTLBShootdownIPI, func(ctx *cpu.Context) { vmm.AckShootdown(l.ID()) })
	trap.Register(defs.VecRescheduleIPI, func(ctx *cpu.Context) {})

	l.ArmTimer(quantum)
}

// topology adapts a fixed LAPIC-id list to internal/vmm.Topology: every
// CPU named in cpus other than the caller's own id is considered
// online for the life of the boot process (spec doesn't model CPUs
// leaving the shootdown set once started).
type topology struct {
	self *apic.LAPIC
	cpus []uint32
}

func (t *topology) CurrentAPICID() uint32 { return t.self.ID() }

func (t *topology) OtherOnlineCPUs(selfAPICID uint32) []uint32 {
	others := make([]uint32, 0, len(t.cpus))
	for _, id := range t.cpus {
		if id != selfAPICID {
			others = append(others, id)
		}
	}
	return others
}

// StartAPs wires internal/vmm's shootdown sender/topology to l and the
// full cpus set, then drives internal/smp.BringUp to start every CPU
// in cpus besides bootAPICID (spec §4.G). Call after WireInterrupts,
// once ACPI's MADT parse has produced the LAPIC id list.
func StartAPs(cpus []uint32, bootAPICID uint32, l *apic.LAPIC, stall smp.Stall, as *vmm.AddressSpace, g *gdt.Table, it *idt.Table, entry uintptr, allocStack smp.AllocateStack) defs.Err_t {
	vmm.WireShootdown(l, &topology{self: l, cpus: cpus})
	return smp.BringUp(cpus, bootAPICID, l, stall, as, g, it, entry, allocStack)
}
