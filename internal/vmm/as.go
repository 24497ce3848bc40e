// Package vmm is the virtual memory manager (spec §4.C): per-address-space
// 4-level page tables, the map/unmap/allocate/free/translate/switch API,
// the kernel-PML4 propagation protocol, and TLB shootdown.
//
// Grounded on biscuit/src/vm/as.go's Vm_t (the Lock_pmap/Unlock_pmap
// pattern this package's mutex mirrors) and on
// _examples/original_source/kernel/memory/vmm.c for the walk/attribute
// algorithm (get_or_create_page, set_attributes: permissive union on
// intermediate levels). Design note §9 drops vmm.c's "map to a free page"
// recursive trick in favor of the direct window exclusively.
package vmm

import (
	"sync"

	"ignis/internal/cpu"
	"ignis/internal/defs"
	"ignis/internal/mem"
	"ignis/internal/pmm"
)

// kernelSlotMin is the first PML4 index belonging to the shared kernel
// upper half (canonical negative addresses, index 256..511).
const kernelSlotMin = 256

// AddressSpace is identified by the physical address of its PML4 (spec
// §3, "Address space"). The lower half (indices below kernelSlotMin) is
// private; the upper half is shared by reference with every other
// address space via the propagation protocol below.
type AddressSpace struct {
	mu   sync.Mutex
	PML4 mem.Pa
	pool *pmm.Pool

	// ownsFrame records, per mapped VA, whether this mapping owns the
	// backing frame (so Free knows whether to return it to the pool).
	ownsFrame map[uintptr]bool
}

var (
	registryMu sync.Mutex
	registry   []*AddressSpace
	kernelAS   *AddressSpace
)

// NewKernel creates the kernel address space. Must be called exactly
// once, before any NewUser call, and only once the direct window is
// usable: it zeroes the new PML4 through mem.DmapPage.
func NewKernel(pool *pmm.Pool) (*AddressSpace, defs.Err_t) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if kernelAS != nil {
		panic("vmm: kernel address space already created")
	}
	frame, err := pool.Allocate(1)
	if err != defs.OK {
		return nil, err
	}
	table := mem.DmapPage(frame)
	*table = mem.PageTable{}

	as := &AddressSpace{PML4: frame, pool: pool, ownsFrame: make(map[uintptr]bool)}
	kernelAS = as
	registry = append(registry, as)
	return as, defs.OK
}

// NewUser creates a fresh address space whose upper half is a reference
// copy of the current kernel PML4 entries (spec §3, "Address space"
// invariant). Requires a direct-window-accessible PMM.
func NewUser(pool *pmm.Pool) (*AddressSpace, defs.Err_t) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if kernelAS == nil {
		panic("vmm: NewUser before NewKernel")
	}
	frame, err := pool.Allocate(1)
	if err != defs.OK {
		return nil, err
	}
	table := mem.DmapPage(frame)
	*table = mem.PageTable{}
	kt := mem.DmapPage(kernelAS.PML4)
	for i := kernelSlotMin; i < mem.PML4Entries; i++ {
		table[i] = kt[i]
	}

	as := &AddressSpace{PML4: frame, pool: pool, ownsFrame: make(map[uintptr]bool)}
	registry = append(registry, as)
	return as, defs.OK
}

// KernelAS returns the kernel address space created by NewKernel, or nil
// before it has been called.
func KernelAS() *AddressSpace {
	registryMu.Lock()
	defer registryMu.Unlock()
	return kernelAS
}

// PML4EntryFor reads the raw PML4 entry covering va in as, for callers
// propagating a kernel-slot change via PropagateKernelSlot.
func PML4EntryFor(as *AddressSpace, va uintptr) mem.Pa {
	as.mu.Lock()
	defer as.mu.Unlock()
	t := mem.DmapPage(as.PML4)
	return t[mem.Index(va, 3)]
}

// PropagateKernelSlot installs entry into PML4 slot (which must be in the
// shared upper half) across every live address space, including the
// kernel's own. This is the only way a kernel index may change after an
// address space has been created (spec §3 invariant).
func PropagateKernelSlot(slot int, entry mem.Pa) {
	if slot < kernelSlotMin || slot >= mem.PML4Entries {
		panic("vmm: PropagateKernelSlot on a non-kernel slot")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, as := range registry {
		t := mem.DmapPage(as.PML4)
		t[slot] = entry
	}
}

// pteFlags translates a caller-facing MapFlag set into leaf PTE bits.
func pteFlags(flags mem.MapFlag) mem.Pa {
	pte := mem.PteP
	if flags&mem.Write != 0 {
		pte |= mem.PteW
	}
	if flags&mem.User != 0 {
		pte |= mem.PteU
	}
	if flags&mem.Exec == 0 {
		pte |= mem.PteNX
	}
	if flags&mem.NoCache != 0 {
		pte |= mem.PtePCD
	}
	if flags&mem.WriteThrough != 0 {
		pte |= mem.PtePWT
	}
	return pte
}

// intermediateFlags returns the permissive union (WRITE, USER) that
// intermediate table entries must carry so a restrictive leaf can still
// enforce its own permissions (spec §4.C algorithm). NX is never set on
// an intermediate: hardware only consults it on the leaf.
func intermediateFlags(existing mem.Pa, flags mem.MapFlag) mem.Pa {
	e := existing | mem.PteP
	if flags&mem.Write != 0 {
		e |= mem.PteW
	}
	if flags&mem.User != 0 {
		e |= mem.PteU
	}
	return e &^ mem.PteNX
}

// ensureTable walks into table[idx], allocating and zeroing a fresh page
// table if absent, widening the permissive union if present. Never
// returns for a huge-page leaf encountered mid-walk — spec scope is 4
// KiB leaves only.
func (as *AddressSpace) ensureTable(table *mem.PageTable, idx uint, flags mem.MapFlag) (*mem.PageTable, defs.Err_t) {
	e := table[idx]
	if e&mem.PteP == 0 {
		frame, err := as.pool.Allocate(1)
		if err != defs.OK {
			return nil, defs.OUT_OF_MEMORY
		}
		child := mem.DmapPage(frame)
		*child = mem.PageTable{}
		table[idx] = mem.Pa(frame) | intermediateFlags(0, flags)
		return child, defs.OK
	}
	if e&mem.PtePS != 0 {
		panic("vmm: huge page encountered while walking for a 4KiB leaf")
	}
	table[idx] = intermediateFlags(e, flags)
	return mem.DmapPage(e.Frame()), defs.OK
}

// walkToLeaf returns the PT-level (leaf) table and final index for va, creating
// intermediate tables as needed.
func (as *AddressSpace) walkToLeaf(va uintptr, flags mem.MapFlag) (*mem.PageTable, uint, defs.Err_t) {
	l4 := mem.DmapPage(as.PML4)
	l3, err := as.ensureTable(l4, mem.Index(va, 3), flags)
	if err != defs.OK {
		return nil, 0, err
	}
	l2, err := as.ensureTable(l3, mem.Index(va, 2), flags)
	if err != defs.OK {
		return nil, 0, err
	}
	l1, err := as.ensureTable(l2, mem.Index(va, 1), flags)
	if err != defs.OK {
		return nil, 0, err
	}
	return l1, mem.Index(va, 0), defs.OK
}

// Map installs a 4 KiB mapping from va to pa with the given permissions.
// Returns ALREADY_MAPPED if va already has a present leaf.
func (as *AddressSpace) Map(va uintptr, pa mem.Pa, flags mem.MapFlag) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()

	pt, idx, err := as.walkToLeaf(va, flags)
	if err != defs.OK {
		return err
	}
	if pt[idx]&mem.PteP != 0 {
		return defs.ALREADY_MAPPED
	}
	pt[idx] = pa.Frame() | pteFlags(flags)
	cpu.Invlpg(va)
	return defs.OK
}

// Unmap tears down the mapping at va, never freeing the underlying
// frame. Returns the previous physical address, or NOT_MAPPED.
func (as *AddressSpace) Unmap(va uintptr) (mem.Pa, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	pt, idx, ok := as.lookupLeaf(va)
	if !ok || pt[idx]&mem.PteP == 0 {
		return 0, defs.NOT_MAPPED
	}
	prev := pt[idx].Frame()
	pt[idx] = 0
	delete(as.ownsFrame, va)
	cpu.Invlpg(va)
	Shootdown(as, va)
	return prev, defs.OK
}

// lookupLeaf walks an existing mapping without creating intermediate
// tables, returning ok=false if any level is absent.
func (as *AddressSpace) lookupLeaf(va uintptr) (*mem.PageTable, uint, bool) {
	t := mem.DmapPage(as.PML4)
	for lvl := uint(3); lvl >= 1; lvl-- {
		e := t[mem.Index(va, lvl)]
		if e&mem.PteP == 0 {
			return nil, 0, false
		}
		if e&mem.PtePS != 0 {
			return nil, 0, false
		}
		t = mem.DmapPage(e.Frame())
	}
	return t, mem.Index(va, 0), true
}

// Allocate maps va to a freshly allocated frame, recording that this
// mapping owns the frame so Free returns it to the pool.
func (as *AddressSpace) Allocate(va uintptr, flags mem.MapFlag) defs.Err_t {
	frame, err := as.pool.Allocate(1)
	if err != defs.OK {
		return err
	}
	if err := as.Map(va, frame, flags); err != defs.OK {
		as.pool.Free(frame, 1)
		return err
	}
	as.mu.Lock()
	as.ownsFrame[va] = true
	as.mu.Unlock()
	return defs.OK
}

// Free unmaps va and, iff this mapping owned its frame (installed via
// Allocate rather than Map), returns the frame to the pool.
func (as *AddressSpace) Free(va uintptr) defs.Err_t {
	as.mu.Lock()
	owns := as.ownsFrame[va]
	as.mu.Unlock()

	prev, err := as.Unmap(va)
	if err != defs.OK {
		return err
	}
	if owns {
		as.pool.Free(prev, 1)
	}
	return defs.OK
}

// Translate returns the physical address va maps to, or NOT_MAPPED.
func (as *AddressSpace) Translate(va uintptr) (mem.Pa, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	pt, idx, ok := as.lookupLeaf(va)
	if !ok || pt[idx]&mem.PteP == 0 {
		return 0, defs.NOT_MAPPED
	}
	return pt[idx].Frame() | (mem.Pa(va) & mem.PGOffset), defs.OK
}

// Flags returns the permission bits recorded on the leaf entry for va,
// for tests that verify the paging round-trip invariant (spec §8).
func (as *AddressSpace) Flags(va uintptr) (mem.MapFlag, defs.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	pt, idx, ok := as.lookupLeaf(va)
	if !ok || pt[idx]&mem.PteP == 0 {
		return 0, defs.NOT_MAPPED
	}
	e := pt[idx]
	var f mem.MapFlag
	if e&mem.PteW != 0 {
		f |= mem.Write
	}
	if e&mem.PteU != 0 {
		f |= mem.User
	}
	if e&mem.PteNX == 0 {
		f |= mem.Exec
	}
	if e&mem.PtePCD != 0 {
		f |= mem.NoCache
	}
	if e&mem.PtePWT != 0 {
		f |= mem.WriteThrough
	}
	return f, defs.OK
}

// Switch loads CR3 with this address space's PML4, making it current on
// this CPU.
func (as *AddressSpace) Switch() {
	cpu.Wcr3(uint64(as.PML4))
}
