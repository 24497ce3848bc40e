package apic

import (
	"unsafe"

	"ignis/internal/mem"
)

const (
	ioRegSelect = 0x00
	ioRegData   = 0x10
	ioRegVer    = 0x01
	ioRedirBase = 0x10
)

// IOAPIC is one I/O APIC, addressed through the direct window and
// covering the GSI range [GSIStart, GSIEnd] (apic.c's ioapic_t).
type IOAPIC struct {
	base     uintptr
	GSIStart uint32
	GSIEnd   uint32
}

// NewIOAPIC maps the IOAPIC at physical phys and reads its maximum
// redirection-entry count to compute GSIEnd (apic.c's init_apic MADT
// loop).
func NewIOAPIC(phys mem.Pa, gsiStart uint32) *IOAPIC {
	io := &IOAPIC{base: mem.DmapOf(phys), GSIStart: gsiStart}
	ver := io.read(ioRegVer)
	maxEntry := (ver >> 16) & 0xFF
	io.GSIEnd = gsiStart + maxEntry
	return io
}

func (io *IOAPIC) read(index uint32) uint32 {
	*(*uint32)(unsafe.Pointer(io.base + ioRegSelect)) = index
	return *(*uint32)(unsafe.Pointer(io.base + ioRegData))
}

func (io *IOAPIC) write(index uint32, v uint32) {
	*(*uint32)(unsafe.Pointer(io.base + ioRegSelect)) = index
	*(*uint32)(unsafe.Pointer(io.base + ioRegData)) = v
}

// Covers reports whether this IOAPIC owns the given global system
// interrupt.
func (io *IOAPIC) Covers(gsi uint32) bool {
	return gsi >= io.GSIStart && gsi <= io.GSIEnd
}

// Polarity and TriggerMode select a redirection entry's electrical
// convention — ActiveHigh/EdgeTriggered are the ISA defaults; a MADT
// Interrupt Source Override can request the opposite (Open Question
// (b): honored).
type Polarity bool
type TriggerMode bool

const (
	ActiveHigh Polarity = false
	ActiveLow  Polarity = true

	EdgeTriggered  TriggerMode = false
	LevelTriggered TriggerMode = true
)

// Redirect programs the redirection-table entry for gsi to deliver
// vector to destinationAPICID, honoring the given polarity/trigger mode
// (apic.c's ioapic_redirect, extended to take ISO overrides explicitly
// rather than hardcoding ISA defaults).
func (io *IOAPIC) Redirect(gsi uint32, vector uint8, pol Polarity, trig TriggerMode, destinationAPICID uint8) {
	idx := gsi - io.GSIStart
	var low uint32 = uint32(vector) // delivery mode fixed (0), physical destination
	if pol == ActiveLow {
		low |= 1 << 13
	}
	if trig == LevelTriggered {
		low |= 1 << 15
	}
	high := uint32(destinationAPICID) << 24

	io.write(ioRedirBase+idx*2+1, high)
	io.write(ioRedirBase+idx*2, low)
}

// Mask sets or clears a redirection entry's mask bit without disturbing
// its other fields.
func (io *IOAPIC) Mask(gsi uint32, masked bool) {
	idx := gsi - io.GSIStart
	low := io.read(ioRedirBase + idx*2)
	if masked {
		low |= 1 << 16
	} else {
		low &^= 1 << 16
	}
	io.write(ioRedirBase+idx*2, low)
}
