package percpu

import (
	"sync/atomic"

	"ignis/internal/cpu"
)

// Spinlock raises to "interrupt priority" (disables interrupts on the
// calling CPU) for its duration, matching
// _examples/original_source/src/sync/spinlock.c's
// spinlock_acquire_high_tpl: while contended, it restores the caller's
// original interrupt state between spin attempts rather than holding
// interrupts disabled throughout the whole spin, so a CPU spinning for
// a lock still takes its own timer tick and other IRQs.
type Spinlock struct {
	flag uint32
	was  bool
}

// Lock acquires the lock, disabling interrupts on the calling CPU for
// as long as it is held.
func (l *Spinlock) Lock() {
	for {
		was := cpu.SaveAndDisable()
		if atomic.CompareAndSwapUint32(&l.flag, 0, 1) {
			l.was = was
			return
		}
		cpu.Restore(was)
		for atomic.LoadUint32(&l.flag) != 0 {
			cpu.Pause()
		}
	}
}

// Unlock releases the lock and restores the interrupt state observed
// when Lock succeeded.
func (l *Spinlock) Unlock() {
	was := l.was
	atomic.StoreUint32(&l.flag, 0)
	cpu.Restore(was)
}

// TryLock attempts to acquire the lock without spinning, reporting
// success. On failure the caller's interrupt state is left unchanged.
func (l *Spinlock) TryLock() bool {
	was := cpu.SaveAndDisable()
	if atomic.CompareAndSwapUint32(&l.flag, 0, 1) {
		l.was = was
		return true
	}
	cpu.Restore(was)
	return false
}
