package mem

import "unsafe"

// Kernel virtual-address layout. Expressed as PML4 slot indices the same
// way biscuit's mem/dmap.go names VREC/VDIRECT/VEND/VUSER — a slot
// number shifted left by 39 gives the base of that region. Design note
// §9 drops biscuit's recursive-mapping trick (VREC) entirely: after
// bootstrap the direct window below is the only way the VMM dereferences
// a physical frame.
const (
	// VDirect is the PML4 slot backing the direct-mapping window.
	VDirect = 0x44
	// VHeap is the first PML4 slot of the kernel heap range.
	VHeap = 0x48
	// VEnd marks the end of kernel virtual space (exclusive).
	VEnd = 0x50
	// VUser is the first user-space PML4 slot.
	VUser = 0x59
)

// DefaultDirectBase is the production virtual base of the window that
// linearly maps all of physical memory read-write, no-execute (spec §3,
// "Direct mapping window"). It is installed once at VMM bring-up and
// never unmapped.
//
// directBase is a variable rather than baking DefaultDirectBase directly
// into DmapPage/DmapBytes so internal/hostsim can retarget the window at
// an mmap'd host arena for the property tests in internal/pmm and
// internal/vmm — DefaultDirectBase's canonical-kernel-space address is
// not mappable from an ordinary host test process.
const DefaultDirectBase uintptr = uintptr(VDirect) << 39

var directBase uintptr = DefaultDirectBase

// SetDirectBase retargets the direct window at base and marks it
// installed. Production boot code never calls this (the zero-value
// DefaultDirectBase is already correct); it exists for internal/hostsim.
func SetDirectBase(base uintptr) {
	directBase = base
	installed = true
}

// DirectBase returns the current virtual base of the direct-mapping
// window.
func DirectBase() uintptr { return directBase }

// DirectLen is the length in bytes of the direct-mapping window: enough
// to cover the entire 40-bit physical frame-number space the PTE format
// supports minus the frame-number's unused top bits in practice, sized
// generously at 512 GiB per slot as biscuit's DMAPLEN does.
const DirectLen uintptr = 1 << 39

// HeapStart and HeapEnd bound the kernel heap's reserved virtual range
// (spec §3, "Kernel heap region"); internal/heap demand-attaches frames
// inside it.
const (
	HeapStart uintptr = uintptr(VHeap) << 39
	HeapEnd   uintptr = HeapStart + (1 << 34) // 16 GiB reserved
)

// installed is set once Dmap is safe to use; every physical dereference
// before that point must go through a bootstrap identity mapping instead
// (spec scenario 2).
var installed bool

// MarkInstalled records that the direct window has been mapped. Nothing
// in this repository calls it; SetDirectBase sets the same flag.
func MarkInstalled() { installed = true }

// Installed reports whether the direct window is live.
func Installed() bool { return installed }

// DmapPage returns a pointer to the page-table page backing the
// physical frame pa, viewed through the direct window.
func DmapPage(pa Pa) *PageTable {
	if !installed {
		panic("mem: direct window not installed")
	}
	return (*PageTable)(unsafe.Pointer(directBase + uintptr(pa.Frame())))
}

// DmapBytes returns a byte slice of length l mapping physical address pa
// through the direct window.
func DmapBytes(pa Pa, l int) []byte {
	if !installed {
		panic("mem: direct window not installed")
	}
	p := unsafe.Pointer(directBase + uintptr(pa))
	return unsafe.Slice((*byte)(p), l)
}

// DmapOf returns the direct-window virtual address backing pa.
func DmapOf(pa Pa) uintptr {
	if !installed {
		panic("mem: direct window not installed")
	}
	return directBase + uintptr(pa)
}
