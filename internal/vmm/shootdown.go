package vmm

import (
	"sync"
	"sync/atomic"

	"ignis/internal/cpu"
	"ignis/internal/defs"
)

// IPISender abstracts the LAPIC's "send an IPI to one CPU" operation
// (internal/apic.SendIPI) so this package doesn't import apic directly —
// apic's critical section around ICR writes is internal/apic's concern,
// not vmm's.
type IPISender interface {
	SendIPI(apicID uint32, vector uint8)
}

// Topology reports which CPUs besides the caller are online, by LAPIC
// id — supplied by internal/kernel.StartAPs before bring-up starts.
type Topology interface {
	OtherOnlineCPUs(selfAPICID uint32) []uint32
	CurrentAPICID() uint32
}

var (
	shootdownMu   sync.Mutex
	sender        IPISender
	topo          Topology
	pendingBitmap map[uint32]*uint32 // apicID -> 0/1 ack slot
	shootdownVA   uintptr
)

// WireShootdown installs the IPI sender and topology source. Called once
// by internal/kernel.StartAPs, before it runs internal/smp.BringUp;
// before that, Unmap only performs
// the local invlpg, which is correct on a single-CPU boot.
func WireShootdown(s IPISender, t Topology) {
	shootdownMu.Lock()
	defer shootdownMu.Unlock()
	sender = s
	topo = t
}

// AckShootdown is called from the TLB-shootdown IPI handler (vector
// defs.VecTLBShootdownIPI) on the receiving CPU: it performs the local
// invlpg and clears this CPU's bit in the shared acknowledgment bitmap.
func AckShootdown(apicID uint32) {
	shootdownMu.Lock()
	va := shootdownVA
	slot := pendingBitmap[apicID]
	shootdownMu.Unlock()

	if slot == nil {
		return
	}
	cpu.Invlpg(va)
	atomic.StoreUint32(slot, 0)
}

// Shootdown notifies every other online CPU that the mapping at va in as
// changed, and spins until each has acknowledged (spec §4.C). It is a
// no-op before WireShootdown is called (single-CPU boot phase) and when
// no other CPU is online. as is not consulted: every other online CPU is
// notified whichever address space changed. Callers pass every Unmap
// through it, matching spec's "after unmap or protection downgrade" rule.
func Shootdown(as *AddressSpace, va uintptr) defs.Err_t {
	shootdownMu.Lock()
	if sender == nil || topo == nil {
		shootdownMu.Unlock()
		return defs.OK
	}
	self := topo.CurrentAPICID()
	targets := topo.OtherOnlineCPUs(self)
	if len(targets) == 0 {
		shootdownMu.Unlock()
		return defs.OK
	}

	shootdownVA = va
	pendingBitmap = make(map[uint32]*uint32, len(targets))
	for _, id := range targets {
		slot := new(uint32)
		*slot = 1
		pendingBitmap[id] = slot
	}
	s, t := sender, targets
	shootdownMu.Unlock()

	for _, id := range t {
		s.SendIPI(id, defs.VecTLBShootdownIPI)
	}
	for _, id := range t {
		slot := pendingBitmap[id]
		for atomic.LoadUint32(slot) != 0 {
			cpu.Pause()
		}
	}
	return defs.OK
}
