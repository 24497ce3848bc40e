// Package hostsim backs the property tests in internal/pmm, internal/vmm,
// internal/heap, and internal/sched with a simulated physical memory
// arena on the host Go runtime, so the allocator and page-table code can
// be exercised without real hardware. internal/mem's direct-mapping
// window is retargeted (mem.SetDirectBase) at an anonymous mmap arena via
// golang.org/x/sys/unix — the production virtual address
// (mem.DefaultDirectBase) lives in kernel address space and isn't
// mappable from an ordinary host process.
//
// This is the one place in the repository that depends on a hosted OS;
// every package it backs (internal/mem, internal/pmm, internal/vmm,
// internal/heap) keeps its freestanding, dependency-free signature.
package hostsim

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"ignis/internal/mem"
)

// Arena is an mmap-backed stand-in for physical RAM, addressed starting
// at PhysBase so tests can submit it to internal/pmm like a real
// bootloader memory-map entry.
type Arena struct {
	data     []byte
	physBase uintptr
}

// NewArena reserves size bytes of anonymous memory and retargets
// internal/mem's direct window at it, treating physBase as the first
// physical address the arena backs.
func NewArena(size int, physBase uintptr) (*Arena, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("hostsim: mmap arena: %w", err)
	}
	a := &Arena{data: data, physBase: physBase}
	base := uintptr(unsafe.Pointer(&data[0])) - physBase
	mem.SetDirectBase(base)
	return a, nil
}

// Close unmaps the arena. internal/mem's direct window is left pointing
// at freed memory afterward — callers must not touch it past Close.
func (a *Arena) Close() error {
	return unix.Munmap(a.data)
}

// PhysBase is the first physical address this arena backs.
func (a *Arena) PhysBase() mem.Pa { return mem.Pa(a.physBase) }

// PhysEnd is one past the last physical address this arena backs.
func (a *Arena) PhysEnd() mem.Pa { return mem.Pa(a.physBase) + mem.Pa(len(a.data)) }

// Len is the arena's size in bytes.
func (a *Arena) Len() int { return len(a.data) }
