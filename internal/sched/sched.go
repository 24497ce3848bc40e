package sched

import (
	"sync"
	"time"
	"unsafe"

	"ignis/internal/cpu"
	"ignis/internal/defs"
	"ignis/internal/percpu"
)

const idleStackSize = 4096

// defaultQuantum is the scheduling quantum Tick rearms the LAPIC timer
// for when WireTicker hasn't specified one (spec §4.H: "reprogram the
// LAPIC timer one-shot for the next quantum").
const defaultQuantum = 10 * time.Millisecond

// Ticker is the subset of internal/apic.LAPIC the timer-tick handler
// needs once it has picked the next thread: acknowledge the current
// interrupt and rearm the one-shot timer for the next quantum (spec
// §4.H: "Perform switch_to, send EOI, reprogram the LAPIC timer
// one-shot for the next quantum ... and return from interrupt"). sched
// stays decoupled from internal/apic the same way internal/trap and
// internal/vmm are, via an injected interface.
type Ticker interface {
	EOI()
	ArmTimer(d time.Duration)
}

var (
	ticker  Ticker
	quantum = defaultQuantum
)

// WireTicker installs the LAPIC Tick acknowledges and rearms, and the
// quantum length to rearm for. Called once during bring-up, after
// internal/apic.LAPIC.CalibrateTimer has run on the calling CPU.
func WireTicker(t Ticker, q time.Duration) {
	ticker = t
	quantum = q
}

// cpuState is one CPU's scheduler-private data: its ready queue, the
// thread currently running, and its idle thread. Stored in the CPU's
// percpu.Block via an untyped pointer to avoid percpu depending on
// sched.
type cpuState struct {
	mu      percpu.Spinlock
	queue   []*Thread
	current *Thread
	idle    *Thread
}

var (
	registryMu sync.Mutex
	registry   = map[uint32]*cpuState{}
)

// Init creates this CPU's idle thread in proc and registers its
// scheduler state, both in the global registry (for remote enqueue) and
// in the calling CPU's percpu.Block (for Tick/Yield's fast path). Must
// run once per CPU, before that CPU enables interrupts.
func Init(id uint32, proc *Process, idleEntry uintptr) {
	idle := proc.NewKernelThread(idleEntry, idleStackSize)
	idle.Status = StatusReady

	cs := &cpuState{idle: idle, current: idle}
	idle.Status = StatusRunning

	registryMu.Lock()
	registry[id] = cs
	registryMu.Unlock()

	percpu.Current().Sched = unsafe.Pointer(cs)
}

func localState() *cpuState {
	return (*cpuState)(percpu.Current().Sched)
}

// Enqueue places t on this CPU's ready queue. Safe to call for a thread
// not previously on any queue (spec: "new thread" or one just woken).
func (cs *cpuState) enqueue(t *Thread) {
	cs.mu.Lock()
	t.Status = StatusReady
	cs.queue = append(cs.queue, t)
	cs.mu.Unlock()
}

// Enqueue adds t to the calling CPU's own ready queue.
func Enqueue(t *Thread) {
	localState().enqueue(t)
}

// Notifier sends a rescheduling IPI to a CPU believed idle — supplied by
// internal/apic once bring-up completes (spec §4.H: "optionally sending
// a rescheduling IPI if the target is idle").
type Notifier func(apicID uint32)

var notify Notifier

// WireNotifier installs the cross-CPU reschedule notifier.
func WireNotifier(n Notifier) { notify = n }

// EnqueueRemote places t on the ready queue owned by CPU id, acquiring
// that CPU's queue lock (spec §4.H: "any CPU may enqueue onto any other
// CPU's run queue by acquiring that queue's lock"), and notifies it if
// it was running its idle thread.
func EnqueueRemote(id uint32, t *Thread) defs.Err_t {
	registryMu.Lock()
	cs, ok := registry[id]
	registryMu.Unlock()
	if !ok {
		return defs.NOT_FOUND
	}

	cs.mu.Lock()
	wasIdle := cs.current == cs.idle
	cs.mu.Unlock()

	cs.enqueue(t)
	if wasIdle && notify != nil {
		notify(id)
	}
	return defs.OK
}

// pickNext pops the next runnable thread from the front of the queue,
// skipping any left in a non-runnable status (defensive: Enqueue always
// marks Ready, but a thread can be marked Blocked or Dead by another CPU
// between being queued and being picked), falling back to idle.
func (cs *cpuState) pickNext() *Thread {
	for len(cs.queue) > 0 {
		t := cs.queue[0]
		cs.queue = cs.queue[1:]
		if t.Status == StatusReady || t.Status == StatusRunning {
			return t
		}
	}
	return cs.idle
}

// switchTo is the shared selection-and-switch body Tick and Yield both
// run (spec §4.H): save the outgoing thread's context/FPU state if there
// is one, requeue it if it's still ready, load the incoming thread's
// context/FPU state. It leaves the TSS RSP0 and CR3 unchanged. Grounded
// directly on
// _examples/original_source/src/process/scheduler.c's
// do_context_switch.
func (cs *cpuState) switchTo(ctx *cpu.Context) {
	cs.mu.Lock()
	prev := cs.current
	next := cs.pickNext()
	if prev != nil && prev != next {
		if prev.Status == StatusRunning {
			prev.Status = StatusReady
		}
		if prev.Status == StatusReady && prev != cs.idle {
			cs.queue = append(cs.queue, prev)
		}
	}
	cs.mu.Unlock()

	if prev == next {
		return
	}
	if prev != nil {
		prev.ctx = *ctx
		cpu.FXSave(&prev.fpu)
	}
	*ctx = next.ctx
	cpu.FXRestore(&next.fpu)
	next.Status = StatusRunning
	cs.current = next
}

// tick runs switchTo and then acknowledges/rearms the timer, split out
// of Tick so tests can drive it against a bare cpuState without going
// through localState()'s percpu.Current() (see percpu's DESIGN.md entry
// on why that can't run as a hosted test).
func (cs *cpuState) tick(ctx *cpu.Context) {
	cs.switchTo(ctx)
	if ticker != nil {
		ticker.EOI()
		ticker.ArmTimer(quantum)
	}
}

// Tick is the handler registered for defs.VecSchedulerTick (spec §4.H):
// invoked by the LAPIC timer (internal/trap.Dispatch calls it with the
// interrupted context) or by Yield via cpu.RaiseSchedulerTick.
func Tick(ctx *cpu.Context) {
	localState().tick(ctx)
}

// Yield voluntarily gives up the calling thread's remaining quantum,
// running the identical selection-and-switch path a timer tick would
// (spec §4.H) via a self-directed software interrupt at the same
// vector.
func Yield() {
	cpu.RaiseSchedulerTick()
}

// Current returns the calling CPU's currently running thread.
func Current() *Thread {
	return localState().current
}

// Block marks the calling thread BLOCKED and yields; it does not become
// runnable again until some other thread calls Wake on it (spec §4.H:
// "Sleep/block: status transitions to BLOCKED... until the blocker...
// re-enqueues it as READY").
func Block() {
	localState().current.Status = StatusBlocked
	Yield()
}

// Wake re-enqueues a blocked thread as ready, on the CPU it last ran on.
// Callers (a timer wheel, semaphore, or I/O completion — external
// collaborators per spec §4.H) determine which CPU that was by their
// own bookkeeping; homeCPU is that CPU's LAPIC id.
func Wake(homeCPU uint32, t *Thread) defs.Err_t {
	if t.Status != StatusBlocked {
		return defs.INVALID_ARGUMENT
	}
	return EnqueueRemote(homeCPU, t)
}
