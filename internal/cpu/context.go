package cpu

// Context is the register snapshot an interrupt stub pushes on entry and
// the trap dispatcher hands to exception/IRQ handlers and the scheduler.
// Field order matches the push order the stub uses (general purpose
// registers, then the hardware-pushed interrupt frame) so the assembly
// entry code and this struct agree on layout without reflection.
type Context struct {
	DS uint64

	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64

	// IntNo and ErrorCode are synthesized by the stub: IntNo is the
	// vector, ErrorCode is the hardware error code or 0 if the vector
	// doesn't push one.
	IntNo     uint64
	ErrorCode uint64

	// Below this line is the frame the CPU itself pushes on interrupt.
	RIP    uint64
	CS     uint64
	RFLAGS uint64
	RSP    uint64
	SS     uint64
}

// FPSaveAreaSize is the size in bytes of the FXSAVE/XSAVE legacy area
// (512 bytes, 16-byte aligned) used to preserve FPU/SSE state across a
// context switch.
const FPSaveAreaSize = 512

// FPState is an opaque, 16-byte-aligned save area for FXSAVE/FXRSTOR.
type FPState struct {
	_ [FPSaveAreaSize]byte
}

// FXSave saves the calling CPU's FPU/SSE state into s.
func FXSave(s *FPState)

// FXRestore restores the calling CPU's FPU/SSE state from s.
func FXRestore(s *FPState)
