package mem_test

import (
	"testing"

	"ignis/internal/hostsim"
	"ignis/internal/mem"
)

func TestDmapRoundTripsThroughArena(t *testing.T) {
	const physBase = 0x300000
	arena, err := hostsim.NewArena(1<<20, physBase)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()

	pa := mem.Pa(physBase + mem.PGSize*3)
	b := mem.DmapBytes(pa, 16)
	for i := range b {
		b[i] = byte(i)
	}

	again := mem.DmapBytes(pa, 16)
	for i := range again {
		if again[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, again[i], byte(i))
		}
	}
}

func TestDmapPageWriteVisibleThroughSecondView(t *testing.T) {
	const physBase = 0x400000
	arena, err := hostsim.NewArena(1<<20, physBase)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()

	pa := mem.Pa(physBase)
	table := mem.DmapPage(pa)
	table[5] = mem.Pa(0x1234) | mem.PteP
	table2 := mem.DmapPage(pa)
	if table2[5] != mem.Pa(0x1234)|mem.PteP {
		t.Fatalf("table2[5] = %#x, want %#x", table2[5], mem.Pa(0x1234)|mem.PteP)
	}
}

func TestDmapOfMatchesArenaArithmetic(t *testing.T) {
	const physBase = 0x500000
	arena, err := hostsim.NewArena(1<<20, physBase)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer arena.Close()

	pa := mem.Pa(physBase + 0x10)
	va := mem.DmapOf(pa)
	if va == 0 {
		t.Fatalf("DmapOf returned nil virtual address")
	}
	if va-mem.DirectBase() != uintptr(pa) {
		t.Fatalf("DmapOf(%#x) - DirectBase() = %#x, want %#x", pa, va-mem.DirectBase(), uintptr(pa))
	}
}
