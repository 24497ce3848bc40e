// Package apic drives the per-CPU Local APIC and the system's IOAPICs
// (spec §4.I): MSR-discovered LAPIC base, spurious-vector programming,
// one-shot timer calibration, EOI, and IPI sends guarded by a critical
// section; IOAPIC redirection entries honoring MADT Interrupt Source
// Overrides.
//
// Grounded closely on
// _examples/original_source/kernel/arch/amd64/apic.c: lapic_read/write
// as volatile MMIO loads/stores at a direct-mapped base, init_lapic's
// spurious-vector/timer-divider programming and one-shot-count
// calibration, send_ipi's ICR-high-then-low write with a spin-wait on
// the delivery-status bit inside a critical section, and
// ioapic_redirect's two-word (low/high) redirection-table write.
package apic

import (
	"time"
	"unsafe"

	"ignis/internal/cpu"
	"ignis/internal/defs"
	"ignis/internal/mem"
)

// MMIO register offsets, matching apic.c's XAPIC_*_OFFSET names.
const (
	regID               = 0x020
	regEOI              = 0x0B0
	regSpuriousVector   = 0x0F0
	regICRLow           = 0x300
	regICRHigh          = 0x310
	regLVTTimer         = 0x320
	regTimerInitCount   = 0x380
	regTimerCurrCount   = 0x390
	regTimerDivide      = 0x3E0
)

const msrAPICBase = 0x1B

// deliveryMode values for the ICR, matching LAPIC_DELIVERY_MODE_*.
const (
	deliveryFixed   = 0
	deliveryINIT    = 5
	deliveryStartup = 6
)

const icrLevelAssert = 1 << 14

// PlatformStall blocks the calling CPU for approximately d — the
// external platform-timer collaborator spec §4.I and Open Question (c)
// require for LAPIC timer calibration, since the LAPIC's own one-shot
// counter is exactly what's being calibrated. Production wires a PIT or
// HPET-backed stall; tests inject a fake.
type PlatformStall func(d time.Duration)

// LAPIC is one CPU's view of the Local APIC, mapped through
// internal/mem's direct window.
type LAPIC struct {
	base  uintptr
	freq  uint64 // timer tick rate in Hz, set by CalibrateTimer
	stall PlatformStall
}

// New discovers the LAPIC's physical base from IA32_APIC_BASE, maps it
// through the direct window, and enables the APIC globally (apic.c's
// init_apic MSR sequence).
func New(stall PlatformStall) *LAPIC {
	base := cpu.Rdmsr(msrAPICBase)
	phys := mem.Pa(base & 0x000F_FFFF_FFFF_F000)
	cpu.Wrmsr(msrAPICBase, base|(1<<11)) // EN bit

	return &LAPIC{
		base:  mem.DmapOf(phys),
		stall: stall,
	}
}

// NewAt builds a LAPIC over an already-mapped MMIO base, skipping the
// IA32_APIC_BASE MSR read/write New does. For callers that already hold
// the direct-mapped base (a non-boot CPU re-deriving the same LAPIC
// region) and for tests, which cannot touch Rdmsr/Wrmsr/CLI-STI from a
// hosted process the way internal/percpu's DESIGN.md entry explains.
func NewAt(base uintptr, stall PlatformStall) *LAPIC {
	return &LAPIC{base: base, stall: stall}
}

func (l *LAPIC) read(reg uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(l.base + reg))
}

func (l *LAPIC) write(reg uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(l.base + reg)) = v
}

// ID returns this LAPIC's APIC ID.
func (l *LAPIC) ID() uint32 {
	return l.read(regID) >> 24
}

// EnableSpurious programs the spurious-interrupt vector and sets the
// software-enable bit (init_lapic's SVR write).
func (l *LAPIC) EnableSpurious() {
	svr := l.read(regSpuriousVector)
	svr = (svr &^ 0xFF) | uint32(defs.VecSpurious)
	svr |= 1 << 8 // software enable
	l.write(regSpuriousVector, svr)
}

// EOI sends end-of-interrupt, satisfying internal/trap.Acknowledger.
func (l *LAPIC) EOI() {
	l.write(regEOI, 0)
}

// CalibrateTimer measures the LAPIC timer's tick rate over one
// PlatformStall window of d, using the divide-by-128 one-shot count-down
// technique from init_lapic. Must run once per CPU before
// ArmTimer. Callers that maintain a percpu.Block cache the
// result there via Freq (each CPU's crystal can run at a slightly
// different rate; TomatOS keeps this CPU_LOCAL rather than as one
// global) — apic itself stays decoupled from internal/percpu so its
// register-bit-packing logic is testable with a fake MMIO buffer alone.
func (l *LAPIC) CalibrateTimer(d time.Duration) {
	l.write(regTimerDivide, 0xA) // divide by 128, the largest divisor
	l.write(regTimerInitCount, 0xFFFF_FFFF)
	l.stall(d)
	remaining := l.read(regTimerCurrCount)
	l.freq = uint64(0xFFFF_FFFF-remaining) * uint64(time.Second) / uint64(d)
}

// Freq returns the last calibrated tick rate, in Hz.
func (l *LAPIC) Freq() uint64 {
	return l.freq
}

// ArmTimer schedules the next scheduler tick at vector
// defs.VecSchedulerTick, firing after approximately d (apic.c's
// set_next_scheduler_tick). Requires a prior CalibrateTimer.
func (l *LAPIC) ArmTimer(d time.Duration) {
	ticks := l.freq * uint64(d) / uint64(time.Second)
	if ticks == 0 {
		ticks = 1
	}
	l.write(regTimerDivide, 0xA) // same divisor CalibrateTimer measured with
	l.write(regLVTTimer, uint32(defs.VecSchedulerTick))
	l.write(regTimerInitCount, uint32(ticks))
}

// SendIPI sends a fixed-delivery-mode IPI carrying vector to apicID,
// spinning inside a critical section until the delivery-status bit
// clears (apic.c's send_ipi). Satisfies internal/vmm.IPISender.
func (l *LAPIC) SendIPI(apicID uint32, vector uint8) {
	was := cpu.SaveAndDisable()
	l.write(regICRHigh, apicID<<24)
	l.write(regICRLow, icrLevelAssert|deliveryFixed<<8|uint32(vector))
	for l.read(regICRLow)&(1<<12) != 0 {
		cpu.Pause()
	}
	cpu.Restore(was)
}

// SendInitIPI and SendStartupIPI implement the INIT-SIPI-SIPI bring-up
// sequence (spec §4.G); internal/smp sequences the stalls between them.
func (l *LAPIC) SendInitIPI(apicID uint32) {
	was := cpu.SaveAndDisable()
	l.write(regICRHigh, apicID<<24)
	l.write(regICRLow, icrLevelAssert|deliveryINIT<<8)
	for l.read(regICRLow)&(1<<12) != 0 {
		cpu.Pause()
	}
	cpu.Restore(was)
}

func (l *LAPIC) SendStartupIPI(apicID uint32, trampolinePage uintptr) {
	was := cpu.SaveAndDisable()
	l.write(regICRHigh, apicID<<24)
	l.write(regICRLow, icrLevelAssert|deliveryStartup<<8|uint32(trampolinePage>>12))
	for l.read(regICRLow)&(1<<12) != 0 {
		cpu.Pause()
	}
	cpu.Restore(was)
}
