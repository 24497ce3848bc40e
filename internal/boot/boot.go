// Package boot parses the bootloader handoff structure and provides the
// bump allocator used before internal/pmm is seeded (spec's supplemented
// features, from original_source/kernel/arch/amd64/entry.c and
// kernel/mem/mm.c's early_alloc/early_page_alloc). The handoff wire
// format is a Stivale-style tag chain: a leading pointer to the first
// tag, then typed tags (memory map, framebuffer, RSDP, command line),
// each starting with a 64-bit identifier and a pointer to the next tag,
// so unknown tags are skipped by following that pointer.
package boot

import (
	"unsafe"

	"ignis/internal/mem"
	"ignis/internal/util"
)

// MemoryMapEntryType mirrors entry.c's g_memory_map_names index: the
// bootloader's own classification of a physical range.
type MemoryMapEntryType uint32

const (
	MemUsable          MemoryMapEntryType = 1
	MemReserved        MemoryMapEntryType = 2
	MemACPIReclaimable MemoryMapEntryType = 3
	MemACPINVS         MemoryMapEntryType = 4
	MemBad             MemoryMapEntryType = 5
	MemKernelModules   MemoryMapEntryType = 10
)

var typeNames = map[MemoryMapEntryType]string{
	MemUsable:          "Usable RAM",
	MemReserved:        "Reserved",
	MemACPIReclaimable: "ACPI reclaimable",
	MemACPINVS:         "ACPI NVS",
	MemBad:             "Bad memory",
	MemKernelModules:   "Kernel/Modules",
}

// String names the entry type the way entry.c's TRACE loop does, for log
// lines; unrecognized types print "unknown".
func (t MemoryMapEntryType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// MemoryMapEntry is one physical range the bootloader reports. Base and
// Length are in bytes; EarlyAlloc mutates Base/Length in place as it
// bumps-allocates out of usable entries, exactly as mm.c's early_alloc
// shrinks entry->base/entry->length.
type MemoryMapEntry struct {
	Base   uint64
	Length uint64
	Type   MemoryMapEntryType
}

// Framebuffer describes the bootloader-provided linear framebuffer, when
// present (header.c requests one with framebuffer_bpp = 32).
type Framebuffer struct {
	Address uint64
	Pitch   uint16
	Width   uint16
	Height  uint16
	Bpp     uint16
}

// Handoff is everything the kernel needs out of the bootloader's tag
// chain before it can build its own data structures.
type Handoff struct {
	MemoryMap   []MemoryMapEntry
	RSDP        uintptr
	Cmdline     string
	Framebuffer *Framebuffer
}

// Tag identifiers, Stivale2-style 64-bit magic numbers (one per known tag
// type this kernel consumes).
const (
	tagMemmap      uint64 = 0x2187f79e8612de07
	tagRSDP        uint64 = 0x9e1786930a375e78
	tagCmdline     uint64 = 0xe5e76a1b4597a781
	tagFramebuffer uint64 = 0x506461d2950408fa
)

type tagHeader struct {
	Identifier uint64
	Next       uint64
}

// Parse walks the tag chain starting at the physical address the
// bootloader left in a fixed register/memory cell (the handoff's own
// location, before the direct window exists, so tagsBase must already be
// a dereferenceable virtual address — the caller translates through the
// bootstrap identity map or the direct window as appropriate).
func Parse(tagsBase uintptr) *Handoff {
	h := &Handoff{}
	for next := peekFirstTag(tagsBase); next != 0; {
		hdr := (*tagHeader)(unsafe.Pointer(next))
		switch hdr.Identifier {
		case tagMemmap:
			h.MemoryMap = parseMemmap(next)
		case tagRSDP:
			h.RSDP = uintptr(*(*uint64)(unsafe.Pointer(next + 16)))
		case tagCmdline:
			h.Cmdline = parseCString(next + 16)
		case tagFramebuffer:
			h.Framebuffer = parseFramebuffer(next)
		}
		next = uintptr(hdr.Next)
	}
	return h
}

func peekFirstTag(tagsBase uintptr) uintptr {
	return uintptr(*(*uint64)(unsafe.Pointer(tagsBase)))
}

func parseMemmap(tag uintptr) []MemoryMapEntry {
	count := *(*uint64)(unsafe.Pointer(tag + 16))
	entries := make([]MemoryMapEntry, count)
	raw := unsafe.Slice((*byte)(unsafe.Pointer(tag+24)), count*24)
	for i := range entries {
		off := i * 24
		entries[i] = MemoryMapEntry{
			Base:   util.Readn(raw, 8, off),
			Length: util.Readn(raw, 8, off+8),
			Type:   MemoryMapEntryType(util.Readn(raw, 4, off+16)),
		}
	}
	return entries
}

func parseFramebuffer(tag uintptr) *Framebuffer {
	return &Framebuffer{
		Address: *(*uint64)(unsafe.Pointer(tag + 16)),
		Pitch:   *(*uint16)(unsafe.Pointer(tag + 24)),
		Width:   *(*uint16)(unsafe.Pointer(tag + 26)),
		Height:  *(*uint16)(unsafe.Pointer(tag + 28)),
		Bpp:     *(*uint16)(unsafe.Pointer(tag + 30)),
	}
}

func parseCString(addr uintptr) string {
	p := (*byte)(unsafe.Pointer(addr))
	n := 0
	for *(*byte)(unsafe.Pointer(addr + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}

// EarlyAlloc bump-allocates pageCount pages straight out of the first
// usable memory-map entry with enough room, shrinking that entry in
// place. Used only for the handful of frames needed before
// internal/pmm.Pool exists — the kernel PML4 and the bootstrap GDT/IDT
// pages (ported from kernel/mem/mm.c's early_alloc).
func EarlyAlloc(mm []MemoryMapEntry, pageCount int) (mem.Pa, bool) {
	size := uint64(pageCount) * mem.PGSize
	for i := range mm {
		e := &mm[i]
		if e.Type == MemUsable && e.Length >= size {
			base := e.Base
			e.Base += size
			e.Length -= size
			return mem.Pa(base), true
		}
	}
	return 0, false
}

// EarlyPageAlloc is EarlyAlloc for a single page, the common case (SMP
// trampoline staging, a page table level).
func EarlyPageAlloc(mm []MemoryMapEntry) (mem.Pa, bool) {
	return EarlyAlloc(mm, 1)
}

var sizeUnits = [...]string{"B", "kB", "MB", "GB"}

// humanSize renders a byte count the way entry.c's g_size_names loop
// does: repeatedly divide by 1024 until it drops below 1024 or runs out
// of unit names.
func humanSize(n uint64) string {
	div := 0
	for n >= 1024 && div < len(sizeUnits)-1 {
		div++
		n /= 1024
	}
	return uitoa(n) + " " + sizeUnits[div]
}

// HumanSize is the exported form humanSize's callers (boot-time logging
// of usable-memory totals, spec's supplemented feature) actually use.
func HumanSize(n uint64) string { return humanSize(n) }

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// UsableBytes totals the Length of every MemUsable entry still
// unconsumed — entry.c computes this twice (below 4GiB before the VMM is
// up, the remainder after), logged via HumanSize both times.
func UsableBytes(mm []MemoryMapEntry) uint64 {
	var total uint64
	for _, e := range mm {
		if e.Type == MemUsable {
			total += e.Length
		}
	}
	return total
}
