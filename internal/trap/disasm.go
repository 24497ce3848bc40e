package trap

import (
	"fmt"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

// maxInstrBytes is the longest an x86-64 instruction can legally encode
// to; decoding needs at most this many bytes starting at RIP.
const maxInstrBytes = 15

// disassembleAt decodes the instruction at the faulting RIP for the
// panic message raised for an unhandled exception, so a triple-fault-prone
// page/GP fault shows what code actually tripped it instead of just the
// raw address. rip must point at mapped, executable memory — callers
// only reach this from a live fault frame, never speculatively.
func disassembleAt(rip uintptr) string {
	if rip == 0 {
		return "<nil rip>"
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(rip)), maxInstrBytes)
	inst, err := x86asm.Decode(raw, 64)
	if err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	return inst.String()
}
