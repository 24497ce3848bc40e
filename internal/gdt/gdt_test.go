package gdt

import "testing"

func TestSelectorLayoutMatchesOriginal(t *testing.T) {
	// _examples/original_source/kernel/memory/gdt.h: 8/16/24/32.
	if SelKernelCode != 8 || SelKernelData != 16 || SelUserData != 24 || SelUserCode != 32 {
		t.Fatalf("selector layout drifted from gdt.h: code=%d data=%d udata=%d ucode=%d",
			SelKernelCode, SelKernelData, SelUserData, SelUserCode)
	}
}

func TestNewPopulatesFixedDescriptors(t *testing.T) {
	tab := New()
	if tab.entries[0] != 0 {
		t.Fatalf("null descriptor not zero: %#x", tab.entries[0])
	}
	for _, idx := range []int{SelKernelCode / 8, SelKernelData / 8, SelUserData / 8, SelUserCode / 8} {
		if tab.entries[idx]&accessPresent == 0 {
			t.Fatalf("entry %d missing present bit", idx)
		}
	}
}

func TestInstallTSSSetsDescriptorBase(t *testing.T) {
	tab := New()
	tab.installTSS()
	low := tab.entries[SelTSS/8]
	high := tab.entries[SelTSS/8+1]
	if low&accessPresent == 0 {
		t.Fatalf("TSS descriptor missing present bit")
	}
	if high == 0 && low == 0 {
		t.Fatalf("TSS descriptor base never written")
	}
}

func TestSetRSP0AndIST(t *testing.T) {
	tab := New()
	tab.SetRSP0(0xdead0000)
	if tab.tss.Rsp[0] != 0xdead0000 {
		t.Fatalf("Rsp[0] = %#x, want 0xdead0000", tab.tss.Rsp[0])
	}
	tab.SetIST(1, 0xbeef0000)
	if tab.tss.Ist[0] != 0xbeef0000 {
		t.Fatalf("Ist[0] = %#x, want 0xbeef0000", tab.tss.Ist[0])
	}
}
