package console

import (
	"strings"
	"testing"
	"unsafe"
)

func TestRingWriteReadRoundTrip(t *testing.T) {
	r := NewRing(make([]byte, 8))
	n, _ := r.Write([]byte("hello"))
	if n != 5 {
		t.Fatalf("Write returned %d, want 5", n)
	}
	out := make([]byte, 5)
	n, _ = r.Read(out)
	if n != 5 || string(out) != "hello" {
		t.Fatalf("Read = %q (%d), want hello", out[:n], n)
	}
	if !r.Empty() {
		t.Fatalf("expected Empty after draining")
	}
}

func TestRingWraparound(t *testing.T) {
	r := NewRing(make([]byte, 4))
	r.Write([]byte("ab"))
	buf := make([]byte, 1)
	r.Read(buf) // consume 'a', tail=1
	r.Write([]byte("cd"))
	out := make([]byte, 3)
	n, _ := r.Read(out)
	if string(out[:n]) != "bcd" {
		t.Fatalf("Read = %q, want bcd", out[:n])
	}
}

func TestRingWriteTruncatesAtCapacity(t *testing.T) {
	r := NewRing(make([]byte, 4))
	n, _ := r.Write([]byte("abcdef"))
	if n != 4 {
		t.Fatalf("Write returned %d, want 4 (truncated at capacity)", n)
	}
	if !r.Full() {
		t.Fatalf("expected Full")
	}
	if r.Left() != 0 {
		t.Fatalf("Left() = %d, want 0", r.Left())
	}
}

func TestRingUsedAndLeft(t *testing.T) {
	r := NewRing(make([]byte, 10))
	r.Write([]byte("abc"))
	if r.Used() != 3 {
		t.Fatalf("Used() = %d, want 3", r.Used())
	}
	if r.Left() != 7 {
		t.Fatalf("Left() = %d, want 7", r.Left())
	}
}

// buildFrameChain lays out n synthetic stack frames end to end in a Go
// slice, linking each one's rbp to the previous and stamping a
// distinctive, recoverable rip value, the same frame{rbp,rip} shape
// debug.c's debug_trace_stack walks.
func buildFrameChain(rips []uintptr) uintptr {
	type rawFrame struct {
		rbp uintptr
		rip uintptr
	}
	frames := make([]rawFrame, len(rips))
	base := uintptr(unsafe.Pointer(&frames[0]))
	frameSize := unsafe.Sizeof(rawFrame{})
	for i := range frames {
		frames[i].rip = rips[i]
		if i+1 < len(frames) {
			frames[i].rbp = base + uintptr(i+1)*frameSize
		} else {
			frames[i].rbp = 0
		}
	}
	return base
}

func TestWalkStackVisitsEveryFrameInOrder(t *testing.T) {
	want := []uintptr{0x1000, 0x2000, 0x3000}
	fp := buildFrameChain(want)

	var got []uintptr
	WalkStack(fp, 16, func(depth int, rip uintptr) {
		got = append(got, rip)
	})
	if len(got) != len(want) {
		t.Fatalf("visited %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestWalkStackStopsAtNilFramePointer(t *testing.T) {
	n := 0
	WalkStack(0, 16, func(depth int, rip uintptr) { n++ })
	if n != 0 {
		t.Fatalf("expected zero frames for a nil frame pointer, got %d", n)
	}
}

func TestWalkStackRespectsMaxFrames(t *testing.T) {
	want := []uintptr{0x1000, 0x2000, 0x3000, 0x4000}
	fp := buildFrameChain(want)

	n := 0
	WalkStack(fp, 2, func(depth int, rip uintptr) { n++ })
	if n != 2 {
		t.Fatalf("visited %d frames, want the 2-frame cap to apply", n)
	}
}

type fakeHalter struct{ called bool }

func (h *fakeHalter) HaltOthers() { h.called = true }

func TestDumpWritesCauseRegistersAndStackThenHalts(t *testing.T) {
	var sb strings.Builder
	h := &fakeHalter{}
	fp := buildFrameChain([]uintptr{0xAAAA})

	Dump(&sb, Panic{
		Cause:        "divide by zero",
		CPUID:        2,
		FramePointer: fp,
		Registers:    map[string]uint64{"rax": 1, "rbx": 2},
	}, h)

	out := sb.String()
	if !strings.Contains(out, "panic on cpu 2: divide by zero") {
		t.Fatalf("missing cause line: %q", out)
	}
	if !strings.Contains(out, "rax") || !strings.Contains(out, "rbx") {
		t.Fatalf("missing register dump: %q", out)
	}
	if !strings.Contains(out, "aaaa") {
		t.Fatalf("missing stack frame: %q", out)
	}
	if !h.called {
		t.Fatalf("expected Dump to call HaltOthers")
	}
}

func TestDumpToleratesNilHalter(t *testing.T) {
	var sb strings.Builder
	Dump(&sb, Panic{Cause: "x", Registers: map[string]uint64{}}, nil)
	if sb.Len() == 0 {
		t.Fatalf("expected output even with a nil Halter")
	}
}
