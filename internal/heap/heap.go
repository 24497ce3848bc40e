// Package heap is the kernel heap (spec §4.D): a single lock-guarded
// allocator over a demand-grown virtual range, handing out and
// reclaiming variable-sized blocks for the rest of the kernel.
//
// Grounded on _examples/original_source/kernel/mem/mm.c's kalloc/
// krealloc/kfree (one lock around every call, memset on alloc) and its
// tlsf_resize demand-growth callback. This package keeps that contract
// — one mutex, zeroed allocations, growth-on-demand from a fixed
// [base, end) virtual range — but replaces TLSF's two-level bitmap
// search with a simpler segregated free-list over power-of-two size
// classes: the full TLSF structure is disproportionate to this
// exercise's scope, and a segregated fit gives the same O(1) amortized
// alloc/free behavior for the class granularity the kernel actually
// uses. See DESIGN.md.
package heap

import (
	"sync"
	"unsafe"

	"ignis/internal/defs"
	"ignis/internal/mem"
	"ignis/internal/util"
)

// minClassShift/maxClassShift bound the size classes: 16 bytes to 32
// KiB. Anything larger is satisfied directly from whole pages (a "big"
// allocation, tagged with classBig).
const (
	minClassShift = 4
	maxClassShift = 15
	numClasses    = maxClassShift - minClassShift + 1
	classBig      = numClasses
)

// header precedes every returned block, big or small alike.
type header struct {
	size  uint64 // caller's requested size
	class int    // index into classes, or classBig
	next  *header
}

// blockAlign is spec §4.D's allocate(size, align=16): every pointer
// Alloc/Realloc hands back must be 16-byte aligned. headerSize is
// padded up to a multiple of it so that data (= block address +
// headerSize) stays 16-aligned whenever the block address is, and brk
// only ever advances by class sizes or page-rounded big-allocation
// sizes, both already multiples of 16.
const blockAlign = 16

var headerSize = util.Roundup(uintptr(unsafe.Sizeof(header{})), blockAlign)

// Grower maps additional backing pages into [from, to) on demand, e.g.
// internal/vmm.AddressSpace.Allocate for every page in range. It must be
// idempotent-safe to call with a range already partially mapped only at
// page granularity — Heap only calls it for pages not yet grown, with
// page-aligned bounds whenever base and end are page-aligned.
type Grower func(from, to uintptr) defs.Err_t

// Heap is a demand-grown kernel allocator over [base, end).
type Heap struct {
	mu    sync.Mutex
	base  uintptr
	end   uintptr
	brk   uintptr // next unallocated byte; pages up to Roundup(brk, PGSize) are backed
	grow  Grower
	class [numClasses]*header
}

// New returns a heap over the reserved virtual range [base, end), using
// grow to map pages in on demand. No pages are mapped until the first
// Alloc.
func New(base, end uintptr, grow Grower) *Heap {
	base = util.Roundup(base, blockAlign)
	return &Heap{base: base, end: end, brk: base, grow: grow}
}

func classFor(size uint64) int {
	need := size + uint64(headerSize)
	for c := 0; c < numClasses; c++ {
		if need <= uint64(1)<<(minClassShift+c) {
			return c
		}
	}
	return classBig
}

func classSize(c int) uint64 {
	return uint64(1) << (minClassShift + c)
}

// ensureBacked grows the heap's mapped range to cover up through want,
// page-aligned, calling grow for any newly-needed pages.
func (h *Heap) ensureBacked(want uintptr) defs.Err_t {
	if want > h.end {
		return defs.OUT_OF_MEMORY
	}
	backed := util.Roundup(h.brk, uintptr(mem.PGSize))
	if h.brk == h.base {
		backed = util.Rounddown(h.base, uintptr(mem.PGSize))
	}
	if want <= backed {
		return defs.OK
	}
	newBacked := util.Roundup(want, uintptr(mem.PGSize))
	if newBacked > h.end {
		newBacked = h.end
	}
	return h.grow(backed, newBacked)
}

// Alloc returns the virtual address of a zeroed block of at least size
// bytes, or OUT_OF_MEMORY if the heap's reserved range is exhausted.
func (h *Heap) Alloc(size int) (uintptr, defs.Err_t) {
	if size <= 0 {
		return 0, defs.INVALID_ARGUMENT
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	c := classFor(uint64(size))
	if c == classBig {
		return h.allocBig(size)
	}

	if hdr := h.class[c]; hdr != nil {
		h.class[c] = hdr.next
		hdr.next = nil
		hdr.size = uint64(size)
		data := uintptr(unsafe.Pointer(hdr)) + headerSize
		zero(data, size)
		return data, defs.OK
	}

	blockSize := uintptr(classSize(c))
	addr := h.brk
	if err := h.ensureBacked(addr + blockSize); err != defs.OK {
		return 0, err
	}
	hdr := (*header)(unsafe.Pointer(addr))
	hdr.size = uint64(size)
	hdr.class = c
	hdr.next = nil
	h.brk = addr + blockSize
	data := addr + headerSize
	zero(data, size)
	return data, defs.OK
}

// allocBig services a request too large for any size class directly
// from fresh pages; callers hold h.mu.
func (h *Heap) allocBig(size int) (uintptr, defs.Err_t) {
	total := uintptr(size) + headerSize
	pages := util.Roundup(total, uintptr(mem.PGSize))
	addr := h.brk
	if err := h.ensureBacked(addr + pages); err != defs.OK {
		return 0, err
	}
	hdr := (*header)(unsafe.Pointer(addr))
	hdr.size = uint64(size)
	hdr.class = classBig
	hdr.next = nil
	h.brk = addr + pages
	data := addr + headerSize
	zero(data, size)
	return data, defs.OK
}

func zero(addr uintptr, size int) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	for i := range b {
		b[i] = 0
	}
}

func headerOf(ptr uintptr) *header {
	return (*header)(unsafe.Pointer(ptr - headerSize))
}

// Free returns a block previously returned by Alloc or Realloc to the
// heap. Freeing a big allocation does nothing: its pages are never
// reused by the heap and never returned to internal/vmm, matching
// spec §4.D's "big allocations are not compacted" note.
func (h *Heap) Free(ptr uintptr) {
	hdr := headerOf(ptr)
	if hdr.class == classBig {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	hdr.next = h.class[hdr.class]
	hdr.size = 0
	h.class[hdr.class] = hdr
}

// Realloc resizes the block at ptr to newSize, copying the overlap and
// freeing the old block if it moved. ptr == 0 behaves like Alloc.
func (h *Heap) Realloc(ptr uintptr, newSize int) (uintptr, defs.Err_t) {
	if ptr == 0 {
		return h.Alloc(newSize)
	}
	hdr := headerOf(ptr)
	if hdr.class != classBig && uint64(newSize)+uint64(headerSize) <= classSize(hdr.class) {
		hdr.size = uint64(newSize)
		return ptr, defs.OK
	}

	newPtr, err := h.Alloc(newSize)
	if err != defs.OK {
		return 0, err
	}
	oldSize := int(hdr.size)
	if newSize < oldSize {
		oldSize = newSize
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), oldSize)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(newPtr)), oldSize)
	copy(dst, src)
	h.Free(ptr)
	return newPtr, defs.OK
}

// Size reports the caller-requested size of the block at ptr, for
// tests verifying the alloc/free/realloc invariants (spec §8).
func Size(ptr uintptr) int {
	return int(headerOf(ptr).size)
}
