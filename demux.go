package reactor

import "time"

// Handle identifies one registration inside a Demultiplexer. It is opaque to
// callers beyond equality comparison and is threaded back into Modify /
// Unregister.
type Handle struct {
	fd int
}

// FD returns the native descriptor a Handle refers to.
func (h Handle) FD() int { return h.fd }

// Demultiplexer maps a set of registered (fd, requested-events) pairs onto
// at most one blocking wait per call, delivering ready events one at a time
// through PopEvent (spec §4.C). All three backends (epoll, poll, select)
// implement this identically from the caller's point of view: spec
// testable-property 1 ("demultiplexer consistency") holds across all of
// them.
type Demultiplexer interface {
	// Register adds fd with the given initial event mask. Registering an
	// already-registered fd is a programmer error (ErrAlreadyRegistered);
	// a negative fd is ErrNegativeFD.
	Register(fd int, events EventSet) (Handle, error)

	// Modify updates the event mask for an already-registered handle.
	Modify(h Handle, events EventSet) error

	// Unregister removes h. After this call returns, the next Wait will
	// never report fd, even if the OS already queued an event for it.
	Unregister(h Handle) error

	// PopEvent pops one ready (fd, events) pair accumulated by the last
	// Wait. ok is false once the batch is drained.
	PopEvent() (fd int, events EventSet, ok bool)

	// Wait blocks up to `timeout`, populating the queue PopEvent drains.
	// EINTR returns cleanly with zero events delivered. The backend caps
	// timeout at MaxTimeout.
	Wait(timeout time.Duration) error

	// Empty reports whether no fds are currently registered.
	Empty() bool

	// MaxTimeout is the backend's published upper bound on the duration
	// passed to Wait, so Core never silently truncates a requested sleep.
	MaxTimeout() time.Duration

	// Close releases backend resources (e.g. the epoll fd).
	Close() error
}

// canonicalize masks backend-specific extra readiness bits down to the
// three canonical EventSet members, per spec §9's discussion of the
// select-backend's platform-extension bits: always mask before exposing.
func canonicalize(readable, writable, pri bool) EventSet {
	var e EventSet
	if readable {
		e |= Readable
	}
	if writable {
		e |= Writable
	}
	if pri {
		e |= PriData
	}
	return e
}
