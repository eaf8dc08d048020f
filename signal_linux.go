//go:build linux

package reactor

import "golang.org/x/sys/unix"

// blockAllSignals masks every signal for the current thread, restoring the
// previous mask when the returned func is called. No code path in this
// package calls it; Core.Wait uses only unblockAllSignals (spec §5 "Signal
// discipline"). The library installs no handlers of its own.
func blockAllSignals() (restore func()) {
	var full, old unix.Sigset_t
	fillSigset(&full)
	_ = unix.PthreadSigmask(unix.SIG_SETMASK, &full, &old)
	return func() {
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)
	}
}

// unblockAllSignals clears every signal's block bit for the current thread
// until the returned restore func is called. Core.Wait wraps every
// backend's wait in it, since none of the backends here carry their own
// signal mask into the wait syscall.
func unblockAllSignals() (restore func()) {
	var empty, old unix.Sigset_t
	_ = unix.PthreadSigmask(unix.SIG_SETMASK, &empty, &old)
	return func() {
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)
	}
}

func fillSigset(set *unix.Sigset_t) {
	for i := range set.Val {
		set.Val[i] = ^uint64(0)
	}
}
