package idt

import "testing"

func TestSetGatePacksHandlerAddress(t *testing.T) {
	var tab Table
	const handler = uintptr(0x1122_3344_5566_7788)
	tab.SetGate(0x20, handler, 0x08, GateInterrupt, 0)

	g := tab.gates[0x20]
	got := uint64(g.offsetLow) | uint64(g.offsetMid)<<16 | uint64(g.offsetHigh)<<32
	if got != uint64(handler) {
		t.Fatalf("packed handler = %#x, want %#x", got, handler)
	}
	if g.selector != 0x08 {
		t.Fatalf("selector = %#x, want 0x08", g.selector)
	}
	if g.typeAttr&0x80 == 0 {
		t.Fatalf("present bit not set")
	}
	if !tab.Present(0x20) {
		t.Fatalf("Present(0x20) = false after SetGate")
	}
}

func TestUnsetVectorNotPresent(t *testing.T) {
	var tab Table
	if tab.Present(0x21) {
		t.Fatalf("Present(0x21) = true on an empty table")
	}
}

func TestSetUserGateSetsDPL3(t *testing.T) {
	var tab Table
	tab.SetUserGate(0x80, 0x1000, 0x08, GateTrap, 0)
	dpl := (tab.gates[0x80].typeAttr >> 5) & 0x3
	if dpl != 3 {
		t.Fatalf("DPL = %d, want 3", dpl)
	}
}

func TestISTFieldMasked(t *testing.T) {
	var tab Table
	tab.SetGate(0x22, 0x1000, 0x08, GateInterrupt, 0xFF)
	if tab.gates[0x22].ist != 0x7 {
		t.Fatalf("ist = %#x, want masked to 0x7", tab.gates[0x22].ist)
	}
}
