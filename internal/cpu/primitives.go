// Package cpu wraps the x86-64 instructions the rest of the kernel needs
// with a pinned semantic contract: MSR access, control registers, port
// I/O, descriptor table loads, timestamp counter, CPUID, and the
// pause/halt/fence instructions. Each wrapper is a single instruction or
// a short, fixed sequence — no wrapper allocates or can fault in a way
// the caller doesn't expect.
//
// The low-level bodies live in primitives_amd64.s; this file only pins
// the Go-visible signatures and the contract comments a caller relies on.
package cpu

// Rdmsr reads the model-specific register numbered by msr.
func Rdmsr(msr uint32) uint64

// Wrmsr writes val to the model-specific register numbered by msr.
func Wrmsr(msr uint32, val uint64)

// Rcr0 reads CR0.
func Rcr0() uint64

// Wcr0 writes CR0.
func Wcr0(v uint64)

// Rcr2 reads CR2 (the faulting address latched by the last page fault).
func Rcr2() uint64

// Rcr3 reads CR3 (the physical address of the current PML4).
func Rcr3() uint64

// Wcr3 writes CR3, switching the active address space. The caller is
// responsible for ensuring the new PML4 shares the kernel upper half.
func Wcr3(pml4 uint64)

// Rcr4 reads CR4.
func Rcr4() uint64

// Wcr4 writes CR4.
func Wcr4(v uint64)

// Inb reads a byte from the given I/O port.
func Inb(port uint16) uint8

// Outb writes a byte to the given I/O port.
func Outb(port uint16, val uint8)

// Inw reads a word from the given I/O port.
func Inw(port uint16) uint16

// Outw writes a word to the given I/O port.
func Outw(port uint16, val uint16)

// Inl reads a dword from the given I/O port.
func Inl(port uint16) uint32

// Outl writes a dword to the given I/O port.
func Outl(port uint16, val uint32)

// Lidt loads the interrupt descriptor table register from a 10-byte
// pseudo-descriptor (2-byte limit, 8-byte base) at addr.
func Lidt(addr uintptr)

// Sidt stores the current IDTR into a 10-byte pseudo-descriptor at addr.
func Sidt(addr uintptr)

// Lgdt loads the global descriptor table register.
func Lgdt(addr uintptr)

// Ltr loads the task register with the given GDT selector, activating
// the TSS it names.
func Ltr(selector uint16)

// Rdtsc returns the current value of the timestamp counter.
func Rdtsc() uint64

// CPUID executes CPUID with the given leaf/subleaf and returns
// eax, ebx, ecx, edx.
func CPUID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// Pause executes the PAUSE instruction, hinting the core that this is a
// spin-wait loop.
func Pause()

// Halt executes HLT, suspending the core until the next interrupt.
func Halt()

// LoadFence executes LFENCE, ordering loads issued before it ahead of
// loads issued after it.
func LoadFence()

// StoreFence executes SFENCE, ordering stores issued before it ahead of
// stores issued after it.
func StoreFence()

// MemoryFence executes MFENCE, a full ordering barrier for loads and
// stores.
func MemoryFence()

// Invlpg invalidates the TLB entry for the given virtual address on this
// CPU only; remote CPUs require the shootdown IPI protocol (internal/vmm).
func Invlpg(va uintptr)

// Rflags returns the current value of RFLAGS.
func Rflags() uint64

// WrGSBase writes IA32_GS_BASE, the per-CPU block pointer (internal/percpu).
func WrGSBase(base uint64)

// RdGSBase reads IA32_GS_BASE.
func RdGSBase() uint64

// RaiseSchedulerTick executes `INT $0x20`, re-entering the trap
// dispatcher at the scheduler's timer vector (defs.VecSchedulerTick)
// without waiting for a real LAPIC tick. internal/sched.Yield uses this
// to run the identical selection-and-switch path a hardware tick would,
// matching spec §4.H's "performs the same selection and switch inline"
// contract for voluntary yields.
func RaiseSchedulerTick()
