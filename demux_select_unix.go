//go:build unix

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// selectFDSetSize matches FD_SETSIZE on every unix target x/sys/unix
// supports; select(2) can't watch fds beyond it.
const selectFDSetSize = 1024

// selectMaxTimeout is an arbitrary but generous cap: select's timeval can
// represent far longer sleeps, but nothing sane asks for more than a day.
const selectMaxTimeout = 24 * time.Hour

// selectDemux is the bitmap backend (spec §4.C.3): three request bitmaps
// (read/write/except), a running highest registered fd, and a pair of
// bitmap snapshots — Wait copies request into result and issues one
// select(2) call, PopEvent scans 0..=maxFD of the result snapshot.
type selectDemux struct {
	requestR, requestW, requestE unix.FdSet
	resultR, resultW, resultE    unix.FdSet
	requested                    map[int]EventSet
	maxFD                        int
	cursor                       int
}

// NewSelectDemultiplexer creates a select(2)-backed Demultiplexer. Portable,
// but limited to descriptors below selectFDSetSize.
func NewSelectDemultiplexer() (Demultiplexer, error) {
	return &selectDemux{requested: make(map[int]EventSet)}, nil
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1 << (uint(fd) % 64))
}

func fdClear(set *unix.FdSet, fd int) {
	set.Bits[fd/64] &^= int64(1 << (uint(fd) % 64))
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&int64(1<<(uint(fd)%64)) != 0
}

// applyMask mirrors original_source/include/ioxx/detail/select.hpp's
// socket::request(): each bitmap only gets fd added when the corresponding
// event was actually requested, the except bitmap included — select(2)
// doesn't report HUP/ERR the way poll/epoll do, so except-fd watching here
// is opt-in via PriData rather than always-on.
func (d *selectDemux) applyMask(fd int, events EventSet) {
	if events.Has(Readable) {
		fdSet(&d.requestR, fd)
	} else {
		fdClear(&d.requestR, fd)
	}
	if events.Has(Writable) {
		fdSet(&d.requestW, fd)
	} else {
		fdClear(&d.requestW, fd)
	}
	if events.Has(PriData) {
		fdSet(&d.requestE, fd)
	} else {
		fdClear(&d.requestE, fd)
	}
}

func (d *selectDemux) recomputeMaxFD() {
	max := -1
	for fd := range d.requested {
		if fd > max {
			max = fd
		}
	}
	d.maxFD = max
}

func (d *selectDemux) Register(fd int, events EventSet) (Handle, error) {
	if fd < 0 {
		return Handle{}, ErrNegativeFD
	}
	if fd >= selectFDSetSize {
		return Handle{}, newSystemError("select", unix.EINVAL)
	}
	if _, ok := d.requested[fd]; ok {
		return Handle{}, ErrAlreadyRegistered
	}
	d.requested[fd] = events
	d.applyMask(fd, events)
	if fd > d.maxFD {
		d.maxFD = fd
	}
	return Handle{fd: fd}, nil
}

func (d *selectDemux) Modify(h Handle, events EventSet) error {
	if _, ok := d.requested[h.fd]; !ok {
		return ErrNotRegistered
	}
	d.requested[h.fd] = events
	d.applyMask(h.fd, events)
	return nil
}

func (d *selectDemux) Unregister(h Handle) error {
	if _, ok := d.requested[h.fd]; !ok {
		return ErrNotRegistered
	}
	delete(d.requested, h.fd)
	fdClear(&d.requestR, h.fd)
	fdClear(&d.requestW, h.fd)
	fdClear(&d.requestE, h.fd)
	if h.fd == d.maxFD {
		// high-water mark dropped: recompute (spec §4.C.3).
		d.recomputeMaxFD()
	}
	return nil
}

// PopEvent reports the canonicalized result bitmaps as-is (spec §4.C's
// "backends share identical external semantics"; testable property 1): no
// additional filtering against the requested mask beyond confirming the fd
// is still registered, the same rule demux_epoll_linux.go and
// demux_poll_unix.go apply.
func (d *selectDemux) PopEvent() (fd int, events EventSet, ok bool) {
	for d.cursor <= d.maxFD {
		candidate := d.cursor
		d.cursor++
		_, isRegistered := d.requested[candidate]
		if !isRegistered {
			continue
		}
		got := canonicalize(fdIsSet(&d.resultR, candidate), fdIsSet(&d.resultW, candidate), fdIsSet(&d.resultE, candidate))
		if !got.Empty() {
			return candidate, got, true
		}
	}
	return 0, NoEvents, false
}

func (d *selectDemux) Wait(timeout time.Duration) error {
	if timeout > selectMaxTimeout {
		timeout = selectMaxTimeout
	}
	d.resultR, d.resultW, d.resultE = d.requestR, d.requestW, d.requestE
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if d.maxFD < 0 {
		d.cursor = 0
		return nil
	}
	_, err := unix.Select(d.maxFD+1, &d.resultR, &d.resultW, &d.resultE, &tv)
	if err == unix.EINTR {
		d.resultR, d.resultW, d.resultE = unix.FdSet{}, unix.FdSet{}, unix.FdSet{}
		d.cursor = 0
		return nil
	}
	if err != nil {
		return newSystemError("select", err)
	}
	d.cursor = 0
	return nil
}

func (d *selectDemux) Empty() bool { return len(d.requested) == 0 }

func (d *selectDemux) MaxTimeout() time.Duration { return selectMaxTimeout }

func (d *selectDemux) Close() error { return nil }
