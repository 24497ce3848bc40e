// Package pmm is the physical frame allocator (spec §4.B). It hands out
// and reclaims 4 KiB frames from the regions the bootloader's memory map
// reports as usable, fed in two passes: frames below 4 GiB first (enough
// to satisfy the SMP trampoline's requirement that physical address
// 0x1000 be reachable, and to bootstrap before the direct window is up),
// then the remainder once internal/mem's direct window is installed.
//
// Grounded on biscuit/src/mem/mem.go's Physmem_t: a per-region slice of
// frame metadata threaded into one intrusive free list, avoiding a
// separate allocation per frame.
package pmm

import (
	"sync"

	"ignis/internal/defs"
	"ignis/internal/mem"
)

type pageInfo struct {
	frame mem.Pa
	next  *pageInfo
	owned bool
}

type region struct {
	start mem.Pa
	pages []pageInfo
}

// Pool is a physical frame allocator over one or more submitted regions.
// Each CPU allocates through the same Pool; the mutex serializes the
// free-list head just like biscuit's Physmem_t embeds sync.Mutex.
type Pool struct {
	mu      sync.Mutex
	regions []*region
	byFrame map[mem.Pa]*pageInfo
	free    *pageInfo
	nFree   int
	nTotal  int
}

// New returns an empty pool. Call SubmitRegion at least once before
// Allocate.
func New() *Pool {
	return &Pool{byFrame: make(map[mem.Pa]*pageInfo)}
}

// SubmitRegion feeds a usable memory-map entry to the pool. base and
// length must be page-aligned. Frames already known to the pool (overlap
// between submissions) are rejected with INVALID_ARGUMENT — the memory
// map must not describe the same RAM twice.
func (p *Pool) SubmitRegion(base mem.Pa, length uintptr) defs.Err_t {
	if uintptr(base)%mem.PGSize != 0 || length%mem.PGSize != 0 {
		return defs.INVALID_ARGUMENT
	}
	nframes := int(length / mem.PGSize)
	if nframes == 0 {
		return defs.OK
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r := &region{start: base, pages: make([]pageInfo, nframes)}
	for i := range r.pages {
		f := base + mem.Pa(i*mem.PGSize)
		if _, dup := p.byFrame[f]; dup {
			return defs.INVALID_ARGUMENT
		}
		r.pages[i] = pageInfo{frame: f}
	}
	for i := range r.pages {
		pi := &r.pages[i]
		p.byFrame[pi.frame] = pi
		pi.next = p.free
		p.free = pi
	}
	p.regions = append(p.regions, r)
	p.nFree += nframes
	p.nTotal += nframes
	return defs.OK
}

// Allocate hands out n_frames frames. Only n_frames == 1 is guaranteed
// contiguous-free; larger requests are satisfied by repeated single-frame
// pops, matching spec §4.B ("contiguous-allocation support is optional").
// Returns the first allocated frame.
func (p *Pool) Allocate(nframes int) (mem.Pa, defs.Err_t) {
	if nframes <= 0 {
		return 0, defs.INVALID_ARGUMENT
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nFree < nframes {
		return 0, defs.OUT_OF_MEMORY
	}
	first := mem.Pa(0)
	for i := 0; i < nframes; i++ {
		pi := p.free
		if pi == nil {
			panic("pmm: free list shorter than nFree accounted")
		}
		p.free = pi.next
		pi.next = nil
		pi.owned = true
		p.nFree--
		if i == 0 {
			first = pi.frame
		}
	}
	return first, defs.OK
}

// ReserveFrame removes a specific frame from the free list, used once at
// boot to carve out the SMP trampoline's fixed physical address 0x1000
// (spec §4.G). Returns NOT_FOUND if the frame was never submitted,
// ALREADY_MAPPED if it is already allocated.
func (p *Pool) ReserveFrame(frame mem.Pa) defs.Err_t {
	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.byFrame[frame]
	if !ok {
		return defs.NOT_FOUND
	}
	if pi.owned {
		return defs.ALREADY_MAPPED
	}
	p.removeFromFreelist(pi)
	pi.owned = true
	p.nFree--
	return defs.OK
}

func (p *Pool) removeFromFreelist(target *pageInfo) {
	if p.free == target {
		p.free = target.next
		target.next = nil
		return
	}
	for cur := p.free; cur != nil; cur = cur.next {
		if cur.next == target {
			cur.next = target.next
			target.next = nil
			return
		}
	}
	panic("pmm: frame marked free but absent from free list")
}

// Free returns nframes frames starting at frame to the pool. Freeing a
// frame the pool never submitted, or one that is not currently owned, is
// a fatal invariant violation (spec §3: "Double-free is a fatal
// invariant violation"; "Freeing is idempotent only within the
// allocator's authority").
func (p *Pool) Free(frame mem.Pa, nframes int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < nframes; i++ {
		f := frame + mem.Pa(i*mem.PGSize)
		pi, ok := p.byFrame[f]
		if !ok {
			panic("pmm: free of a frame outside this pool's authority")
		}
		if !pi.owned {
			panic("pmm: double free")
		}
		pi.owned = false
		pi.next = p.free
		p.free = pi
		p.nFree++
	}
}

// FreeCount returns the number of frames currently available for
// allocation — used by the "Map+Free leaves PMM consistent" property
// (spec §8, scenario 1).
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nFree
}

// TotalCount returns the number of frames ever submitted.
func (p *Pool) TotalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nTotal
}
