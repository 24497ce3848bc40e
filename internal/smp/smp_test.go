package smp

import (
	"testing"
	"time"

	"ignis/internal/hostsim"
)

func TestCellRoundTrip(t *testing.T) {
	arena, err := hostsim.NewArena(1<<20, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()

	writeCell64(cellReadyFlag, 0)
	if readCell64(cellReadyFlag) != 0 {
		t.Fatalf("cellReadyFlag = %d, want 0", readCell64(cellReadyFlag))
	}

	writeCell64(cellEntry, 0xDEAD_BEEF_0000_1234)
	if got := readCell64(cellEntry); got != 0xDEAD_BEEF_0000_1234 {
		t.Fatalf("cellEntry = %#x, want 0xDEADBEEF00001234", got)
	}

	writeCell64(cellReadyFlag, 1)
	if readCell64(cellReadyFlag) != 1 {
		t.Fatalf("cellReadyFlag after set = %d, want 1", readCell64(cellReadyFlag))
	}
}

type fakeSender struct {
	init, startup int
}

func (f *fakeSender) SendInitIPI(apicID uint32)                        { f.init++ }
func (f *fakeSender) SendStartupIPI(apicID uint32, trampoline uintptr) { f.startup++ }

func TestBringUpOneSucceedsOnFirstSIPI(t *testing.T) {
	arena, err := hostsim.NewArena(1<<20, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()

	s := &fakeSender{}
	stalls := 0

	// Simulate the AP setting its ready flag immediately after the
	// first SIPI, the common case when the CPU is already warm.
	fakeStall := func(_ time.Duration) {
		stalls++
		if stalls == 2 {
			writeCell64(cellReadyFlag, 1)
		}
	}

	if err := bringUpOne(1, s, fakeStall, func() uintptr { return 0x9000 }); err != 0 {
		t.Fatalf("bringUpOne: %v", err)
	}
	if s.init != 1 || s.startup != 1 {
		t.Fatalf("init=%d startup=%d, want 1,1", s.init, s.startup)
	}
}
