package cpu

// rflagsIF is the interrupt-flag bit of RFLAGS.
const rflagsIF = 1 << 9

// DisableInterrupts clears IF on this CPU. The assembly body lives next
// to Lidt/Sidt since CLI/STI are themselves single instructions with no
// operands worth modeling as a Go parameter.
func DisableInterrupts()

// EnableInterrupts sets IF on this CPU.
func EnableInterrupts()

// InterruptsEnabled reports whether IF is currently set.
func InterruptsEnabled() bool {
	return Rflags()&rflagsIF != 0
}

// SaveAndDisable disables interrupts and returns whether they were
// enabled beforehand. Callers must restore the prior state on every exit
// path, including error returns — this is the caller's contract, not
// something the kernel enforces for them.
func SaveAndDisable() bool {
	was := InterruptsEnabled()
	DisableInterrupts()
	return was
}

// Restore reinstates the interrupt state returned by SaveAndDisable.
func Restore(was bool) {
	if was {
		EnableInterrupts()
	}
}
