// Package console is the kernel's only output path before (and after) a
// framebuffer console exists: a byte-oriented ring buffer feeding a
// serial/debug-port writer, plus the panic-path stack walk and dump
// (spec: "a panic screen (serial + framebuffer) with cause, CPU id,
// context, and a stack trace; the system halts").
//
// The ring buffer is circbuf.Circbuf_t's head/tail wraparound logic
// (_examples/.../biscuit/src/circbuf/circbuf.go) stripped of its
// page-allocator backing (Cb_ensure/mem.Page_i/fdops.Userio_i): a panic
// writer can't lazily fault in a page mid-panic, so Ring here is backed
// by a plain fixed byte slice supplied at construction. The serial write
// primitive and the RBP-chain stack walk are grounded on
// _examples/original_source/kernel/debug/debug.c's debug_write_char
// (single-byte out to port 0xE9, the Bochs/QEMU debug-console hack) and
// debug_trace_stack.
package console

import (
	"fmt"
	"strings"
	"unsafe"

	"ignis/internal/cpu"
)

// Ring is a single-writer, single-reader circular byte buffer. Not safe
// for concurrent use, matching circbuf.Circbuf_t's own contract.
type Ring struct {
	buf        []byte
	head, tail int
}

// NewRing wraps an existing byte slice as ring storage.
func NewRing(buf []byte) *Ring {
	return &Ring{buf: buf}
}

func (r *Ring) cap() int { return len(r.buf) }

// Full reports whether the ring can accept no more bytes.
func (r *Ring) Full() bool { return r.head-r.tail == r.cap() }

// Empty reports whether the ring holds no bytes.
func (r *Ring) Empty() bool { return r.head == r.tail }

// Used returns the number of unread bytes currently buffered.
func (r *Ring) Used() int { return r.head - r.tail }

// Left returns the remaining write capacity.
func (r *Ring) Left() int { return r.cap() - r.Used() }

// Write appends p to the ring, truncating at capacity — matching
// Circbuf_t.Copyin's "stop at Full, return bytes actually written"
// contract rather than blocking or erroring, since a panic writer has no
// one to propagate a short write to.
func (r *Ring) Write(p []byte) (int, error) {
	n := 0
	for n < len(p) && !r.Full() {
		r.buf[r.head%r.cap()] = p[n]
		r.head++
		n++
	}
	return n, nil
}

// Read drains up to len(p) unread bytes into p, advancing tail.
func (r *Ring) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) && !r.Empty() {
		p[n] = r.buf[r.tail%r.cap()]
		r.tail++
		n++
	}
	return n, nil
}

// DebugPort is the Bochs/QEMU debug-console I/O port debug_write_char
// writes a byte at a time.
const DebugPort uint16 = 0xE9

// SerialWriter writes each byte it's given straight out DebugPort,
// matching debug_write_char's one-instruction-per-byte behavior — no
// buffering, so output survives even mid-panic with interrupts disabled.
type SerialWriter struct{}

// Write implements io.Writer by emitting every byte of p to DebugPort.
func (SerialWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		cpu.Outb(DebugPort, b)
	}
	return len(p), nil
}

// frame mirrors debug.c's frame_t: the standard x86-64 push-rbp
// prologue's linked list of saved frame pointers.
type frame struct {
	rbp uintptr
	rip uintptr
}

// WalkStack follows the RBP chain starting at framePointer, calling fn
// with each return address in innermost-to-outermost order, stopping at
// a nil frame pointer or a zero return address (debug_trace_stack's
// termination condition) or after maxFrames, whichever comes first — the
// cap exists because a corrupted frame chain has no other terminator.
func WalkStack(framePointer uintptr, maxFrames int, fn func(depth int, rip uintptr)) {
	current := derefFrame(framePointer)
	for i := 0; i < maxFrames; i++ {
		if current == nil || current.rip == 0 {
			return
		}
		fn(i, current.rip)
		current = derefFrame(current.rbp)
	}
}

// derefFrame views framePointer as a *frame, or nil at address zero (the
// chain's terminator — debug.c checks `!current` the same way).
func derefFrame(framePointer uintptr) *frame {
	if framePointer == 0 {
		return nil
	}
	return (*frame)(unsafe.Pointer(framePointer))
}

// Panic is everything known about a fatal kernel invariant violation at
// the moment it's detected (spec: "panic (dump context + stack trace +
// halt all CPUs via IPI)").
type Panic struct {
	Cause        string
	CPUID        uint32
	FramePointer uintptr
	Registers    map[string]uint64
}

// Halter stops every other logical CPU, injected the same way
// internal/trap.Acknowledger and internal/vmm.IPISender are — the panic
// path needs to halt the system, not import internal/apic directly.
type Halter interface {
	HaltOthers()
}

// Dump formats p exactly once, writes it to w (the caller passes a
// multi-writer of SerialWriter plus whatever framebuffer text renderer
// exists, per spec's "serial + framebuffer"), then halts every other CPU
// via h before returning — the caller is expected to HLT in a loop
// immediately after Dump returns, since Dump itself never returns
// control to faulting code.
func Dump(w writer, p Panic, h Halter) {
	fmt.Fprintf(w, "panic on cpu %d: %s\n", p.CPUID, p.Cause)
	for _, k := range sortedKeys(p.Registers) {
		fmt.Fprintf(w, "  %-6s = %#016x\n", k, p.Registers[k])
	}
	fmt.Fprintf(w, "stack trace:\n")
	WalkStack(p.FramePointer, 64, func(depth int, rip uintptr) {
		fmt.Fprintf(w, "  #%d %#016x\n", depth, rip)
	})
	if h != nil {
		h.HaltOthers()
	}
}

// writer is the subset of io.Writer Dump needs, kept unexported so this
// package doesn't need to import io just for the one method.
type writer interface {
	Write(p []byte) (int, error)
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Small, fixed-ish set (register names) — insertion sort keeps this
	// allocation-free versus pulling in sort for ~16 entries.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && strings.Compare(keys[j-1], keys[j]) > 0; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
