//go:build unix

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollMaxTimeout bounds the milliseconds argument to poll(2), which takes a
// plain 32-bit int: 24 days is 2,073,600,000 ms, below 2^31-1.
const pollMaxTimeout = 24 * 24 * time.Hour

// pollDemux is the pollfd-array backend (spec §4.C.2): a contiguous slice of
// PollFd structs plus a side map from fd to array index. Unregistration
// swaps the last entry into the freed slot and fixes up the displaced
// owner's index, so Unregister is O(1) instead of leaving holes.
type pollDemux struct {
	fds     []unix.PollFd
	indexOf map[int]int
	cursor  int
}

// NewPollDemultiplexer creates a poll(2)-backed Demultiplexer, portable
// across every unix target.
func NewPollDemultiplexer() (Demultiplexer, error) {
	return &pollDemux{indexOf: make(map[int]int)}, nil
}

func eventSetToPoll(e EventSet) int16 {
	var m int16
	if e.Has(Readable) {
		m |= unix.POLLIN
	}
	if e.Has(Writable) {
		m |= unix.POLLOUT
	}
	if e.Has(PriData) {
		m |= unix.POLLPRI
	}
	return m
}

func pollToEventSet(revents int16) EventSet {
	return canonicalize(revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
		revents&unix.POLLOUT != 0,
		revents&unix.POLLPRI != 0)
}

func (d *pollDemux) Register(fd int, events EventSet) (Handle, error) {
	if fd < 0 {
		return Handle{}, ErrNegativeFD
	}
	if _, ok := d.indexOf[fd]; ok {
		return Handle{}, ErrAlreadyRegistered
	}
	d.indexOf[fd] = len(d.fds)
	d.fds = append(d.fds, unix.PollFd{Fd: int32(fd), Events: eventSetToPoll(events)})
	return Handle{fd: fd}, nil
}

func (d *pollDemux) Modify(h Handle, events EventSet) error {
	idx, ok := d.indexOf[h.fd]
	if !ok {
		return ErrNotRegistered
	}
	d.fds[idx].Events = eventSetToPoll(events)
	return nil
}

func (d *pollDemux) Unregister(h Handle) error {
	idx, ok := d.indexOf[h.fd]
	if !ok {
		return ErrNotRegistered
	}
	last := len(d.fds) - 1
	d.fds[idx] = d.fds[last]
	d.fds = d.fds[:last]
	delete(d.indexOf, h.fd)
	if idx != last {
		d.indexOf[int(d.fds[idx].Fd)] = idx
	}
	return nil
}

// PopEvent reports the canonicalized revents as-is: no filtering against the
// requested mask, matching demux_epoll_linux.go and demux_select_unix.go
// (spec §4.C's "backends share identical external semantics").
func (d *pollDemux) PopEvent() (fd int, events EventSet, ok bool) {
	for d.cursor < len(d.fds) {
		pf := &d.fds[d.cursor]
		d.cursor++
		if pf.Revents != 0 {
			got := pollToEventSet(pf.Revents)
			pf.Revents = 0
			if !got.Empty() {
				return int(pf.Fd), got, true
			}
		}
	}
	return 0, NoEvents, false
}

func (d *pollDemux) Wait(timeout time.Duration) error {
	if timeout > pollMaxTimeout {
		timeout = pollMaxTimeout
	}
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	_, err := unix.Poll(d.fds, ms)
	if err == unix.EINTR {
		return nil
	}
	if err != nil {
		return newSystemError("poll", err)
	}
	d.cursor = 0
	return nil
}

func (d *pollDemux) Empty() bool { return len(d.fds) == 0 }

func (d *pollDemux) MaxTimeout() time.Duration { return pollMaxTimeout }

func (d *pollDemux) Close() error { return nil }
