package sched

import (
	"testing"
	"time"

	"ignis/internal/cpu"
	"ignis/internal/vmm"
)

// newBareThread builds a Thread without going through Process.NewThread,
// for tests exercising pure queue/switch logic — no real stack or
// address space is needed to test scheduling decisions.
func newBareThread(id int) *Thread {
	return &Thread{ID: 0, Status: StatusReady, refcount: 1}
}

func newTestCPU() (*cpuState, *Thread) {
	idle := newBareThread(0)
	idle.Status = StatusRunning
	return &cpuState{idle: idle, current: idle}, idle
}

func TestSwitchToPicksQueuedThreadOverIdle(t *testing.T) {
	cs, idle := newTestCPU()
	a := newBareThread(1)
	cs.enqueue(a)

	ctx := &cpu.Context{}
	cs.switchTo(ctx)

	if cs.current != a {
		t.Fatalf("current = %v, want thread a", cs.current)
	}
	if idle.Status != StatusReady {
		t.Fatalf("idle.Status = %v, want Ready after being preempted", idle.Status)
	}
}

func TestSwitchToFallsBackToIdleWhenQueueEmpty(t *testing.T) {
	cs, idle := newTestCPU()
	ctx := &cpu.Context{}
	cs.switchTo(ctx)
	if cs.current != idle {
		t.Fatalf("current = %v, want idle", cs.current)
	}
}

func TestSwitchToSkipsNonRunnableQueuedThreads(t *testing.T) {
	cs, idle := newTestCPU()
	blocked := newBareThread(1)
	blocked.Status = StatusBlocked
	cs.queue = append(cs.queue, blocked)
	ready := newBareThread(2)
	cs.enqueue(ready)

	ctx := &cpu.Context{}
	cs.switchTo(ctx)
	if cs.current != ready {
		t.Fatalf("current = %v, want the ready thread, skipping the blocked one", cs.current)
	}
	_ = idle
}

func TestContextFidelityAcrossSwitch(t *testing.T) {
	cs, _ := newTestCPU()
	a := newBareThread(1)
	cs.enqueue(a)

	ctx := &cpu.Context{RAX: 0x1111, RBX: 0x2222, RIP: 0x3000}
	cs.switchTo(ctx) // idle -> a: idle's context saved, a's (zero) context loaded
	if ctx.RAX != 0 {
		t.Fatalf("expected a's zero-valued context after switch, got RAX=%#x", ctx.RAX)
	}

	// a writes a distinctive pattern and yields back to idle: the queue is
	// empty, so switchTo picks idle, saves a's context and requeues a.
	ctx.RAX, ctx.RBX, ctx.RIP = 0xAAAA, 0xBBBB, 0x4000
	cs.switchTo(ctx)

	// idle runs once (context irrelevant), then schedule a again.
	cs.enqueue(a)
	idleCtx := *ctx
	cs.switchTo(ctx)
	_ = idleCtx
	if cs.current != a {
		t.Fatalf("current = %v, want a", cs.current)
	}
	if ctx.RAX != 0xAAAA || ctx.RBX != 0xBBBB || ctx.RIP != 0x4000 {
		t.Fatalf("context not preserved across switches: RAX=%#x RBX=%#x RIP=%#x", ctx.RAX, ctx.RBX, ctx.RIP)
	}
}

func TestRoundRobinFairnessWithThreeThreads(t *testing.T) {
	cs, _ := newTestCPU()
	threads := []*Thread{newBareThread(1), newBareThread(2), newBareThread(3)}
	for _, th := range threads {
		cs.enqueue(th)
	}
	cs.current = nil // no thread "running" yet, matching a fresh scheduler pick

	const ticks = 300
	counts := map[*Thread]int{}
	ctx := &cpu.Context{}
	for i := 0; i < ticks; i++ {
		cs.switchTo(ctx)
		counts[cs.current]++
		// a real thread always re-arrives at the back of the queue via
		// its own next timer tick (Status stays Running until then);
		// nothing else to do here since switchTo already requeues it.
	}
	for _, th := range threads {
		n := counts[th]
		want := ticks / len(threads)
		if n < want-1 || n > want+1 {
			t.Fatalf("thread ran %d times, want %d +/- 1", n, want)
		}
	}
}

// fakeTicker stands in for internal/apic.LAPIC.
type fakeTicker struct {
	eoiCount int
	armedFor []time.Duration
}

func (f *fakeTicker) EOI()                     { f.eoiCount++ }
func (f *fakeTicker) ArmTimer(d time.Duration) { f.armedFor = append(f.armedFor, d) }

func TestTickSendsEOIAndRearmsTimerWhenWired(t *testing.T) {
	f := &fakeTicker{}
	WireTicker(f, 5*time.Millisecond)
	defer WireTicker(nil, defaultQuantum)

	cs, _ := newTestCPU()
	a := newBareThread(1)
	cs.enqueue(a)

	cs.tick(&cpu.Context{})

	if f.eoiCount != 1 {
		t.Fatalf("EOI count = %d, want 1", f.eoiCount)
	}
	if len(f.armedFor) != 1 || f.armedFor[0] != 5*time.Millisecond {
		t.Fatalf("armedFor = %v, want one entry of 5ms", f.armedFor)
	}
}

func TestTickIsNoOpOnTickerWhenUnwired(t *testing.T) {
	WireTicker(nil, defaultQuantum)

	cs, _ := newTestCPU()
	a := newBareThread(1)
	cs.enqueue(a)

	// Must not panic with no ticker installed.
	cs.tick(&cpu.Context{})
}

func TestNewProcessWrapsAddressSpace(t *testing.T) {
	// NewProcess itself does nothing but store the pointer; confirm it
	// doesn't panic or require a live address space.
	p := NewProcess((*vmm.AddressSpace)(nil))
	if p.AS != nil {
		t.Fatalf("AS = %v, want nil passthrough", p.AS)
	}
}
