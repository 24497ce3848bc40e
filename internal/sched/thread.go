// Package sched is the preemptive scheduler (spec §4.H): per-CPU
// round-robin ready queues, the timer-tick context switch, voluntary
// yield, sleep/block, and the idle thread every CPU falls back to.
//
// Grounded on _examples/original_source/src/process/scheduler.c's
// do_context_switch (save the interrupted regs/FPU state into the
// outgoing thread only if one was running, load the incoming thread's
// regs/FPU state, flip status) and its round-robin scheduler_timer scan;
// internal/percpu.Spinlock (itself grounded on
// _examples/original_source/src/sync/spinlock.c) guards each CPU's
// queue.
package sched

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"ignis/internal/cpu"
	"ignis/internal/defs"
	"ignis/internal/gdt"
	"ignis/internal/vmm"
)

// Status mirrors spec §3's Thread lifecycle:
// new -> ready -> (running <-> ready)* -> [blocked -> ready]* -> dead.
type Status int

const (
	StatusNew Status = iota
	StatusReady
	StatusRunning
	StatusBlocked
	StatusDead
)

// Thread owns a kernel stack, a saved CPU context, an FPU save area, a
// status, and a reference to its owning Process.
type Thread struct {
	ID       defs.Tid_t
	Status   Status
	Process  *Process
	refcount int32

	ctx cpu.Context
	fpu cpu.FPState

	stack []byte // kept alive for as long as the thread exists
}

var nextTid int64

// Context exposes the thread's saved register frame, for callers that
// prime or inspect it directly.
func (t *Thread) Context() *cpu.Context { return &t.ctx }

// FPState exposes the thread's saved FPU/SSE state for the same reason.
func (t *Thread) FPState() *cpu.FPState { return &t.fpu }

func (t *Thread) retain()  { atomic.AddInt32(&t.refcount, 1) }
func (t *Thread) release() int32 { return atomic.AddInt32(&t.refcount, -1) }

// Process owns an address space and the set of threads running in it
// (spec §3, "Process"). The kernel process's address space is the
// kernel's own.
type Process struct {
	AS *vmm.AddressSpace

	mu      sync.Mutex
	threads []*Thread
}

// NewProcess wraps an existing address space as a schedulable process.
func NewProcess(as *vmm.AddressSpace) *Process {
	return &Process{AS: as}
}

// NewThread creates a thread in p with entry as its first instruction
// and stackSize bytes of kernel stack, in status StatusNew (the caller
// must Enqueue it to make it runnable).
func (p *Process) NewThread(entry uintptr, stackSize int, codeSel, dataSel uint16) *Thread {
	stack := make([]byte, stackSize)
	top := uintptr(len(stack)) &^ 0xF // 16-byte align, matching the SysV ABI's call-entry requirement

	t := &Thread{
		ID:       defs.Tid_t(atomic.AddInt64(&nextTid, 1)),
		Status:   StatusNew,
		Process:  p,
		refcount: 1,
		stack:    stack,
	}
	t.ctx.RIP = uint64(entry)
	t.ctx.RSP = uint64(uintptr(stackBase(stack)) + top)
	t.ctx.RFLAGS = 0x202 // reserved bit 1 always set, IF set
	t.ctx.CS = uint64(codeSel)
	t.ctx.SS = uint64(dataSel)
	t.ctx.DS = uint64(dataSel)

	p.mu.Lock()
	p.threads = append(p.threads, t)
	p.mu.Unlock()
	return t
}

// stackBase returns the address of stack's backing array; split out so
// tests can stub it if ever needed, and to keep the unsafe conversion in
// one place.
func stackBase(stack []byte) uintptr {
	if len(stack) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&stack[0]))
}

// NewKernelThread is the common case: a thread in the kernel process
// running at ring 0 (internal/gdt's kernel selectors).
func (p *Process) NewKernelThread(entry uintptr, stackSize int) *Thread {
	return p.NewThread(entry, stackSize, gdt.SelKernelCode, gdt.SelKernelData)
}
