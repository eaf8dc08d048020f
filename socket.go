package reactor

import (
	"syscall"
)

// Socket owns a native descriptor (spec §3 "Owned Socket"). Exactly one
// owner at any time; closeOnDestruction starts true and is cleared when
// ownership is released to an external collaborator (e.g. a handler that
// adopts a freshly-accepted descriptor). Non-copyable by convention: callers
// pass *Socket, never Socket by value, and must not retain the pointer past
// Release/Close.
type Socket struct {
	fd                int
	closeOnDestructor bool
	closed            bool
}

// newOwnedSocket wraps fd with close-on-destruction enabled.
func newOwnedSocket(fd int) *Socket {
	return &Socket{fd: fd, closeOnDestructor: true}
}

// NewSocket wraps an existing native descriptor. owning controls whether
// Close (and a GC finalizer, if the caller sets one up) will close fd.
// Negative descriptors are a programmer error.
func NewSocket(fd int, owning bool) (*Socket, error) {
	if fd < 0 {
		return nil, ErrNegativeFD
	}
	return &Socket{fd: fd, closeOnDestructor: owning}, nil
}

// FD returns the native descriptor. It is a programmer error to use this
// after Release or Close.
func (s *Socket) FD() int {
	if s.closed {
		panic(ErrSocketReleased)
	}
	return s.fd
}

// Release disables close-on-destruction and returns the native descriptor,
// transferring ownership to the caller. Used when handing a freshly accepted
// descriptor to a user callback (spec §4.G).
func (s *Socket) Release() int {
	s.closeOnDestructor = false
	fd := s.fd
	s.closed = true
	return fd
}

// Close closes the descriptor if this Socket owns it. Safe to call more than
// once.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.closeOnDestructor {
		return nil
	}
	return syscall.Close(s.fd)
}

// SetNonblocking sets or clears O_NONBLOCK.
func (s *Socket) SetNonblocking(nonblocking bool) error {
	flags, err := syscall.FcntlInt(uintptr(s.fd), syscall.F_GETFL, 0)
	if err != nil {
		return newSystemError("fcntl(F_GETFL)", err)
	}
	if nonblocking {
		flags |= syscall.O_NONBLOCK
	} else {
		flags &^= syscall.O_NONBLOCK
	}
	if _, err := syscall.FcntlInt(uintptr(s.fd), syscall.F_SETFL, flags); err != nil {
		return newSystemError("fcntl(F_SETFL)", err)
	}
	return nil
}

// SetLinger configures SO_LINGER. seconds == 0 disables linger (the default
// TIME_WAIT behavior); seconds > 0 enables linger with that timeout, so
// Close waits up to that long for unsent data to be delivered.
func (s *Socket) SetLinger(seconds int) error {
	l := syscall.Linger{Onoff: 0, Linger: 0}
	if seconds > 0 {
		l = syscall.Linger{Onoff: 1, Linger: int32(seconds)}
	}
	if err := syscall.SetsockoptLinger(s.fd, syscall.SOL_SOCKET, syscall.SO_LINGER, &l); err != nil {
		return newSystemError("setsockopt(SO_LINGER)", err)
	}
	return nil
}

// ReuseBindAddress toggles SO_REUSEADDR, normally set before Bind.
func (s *Socket) ReuseBindAddress(reuse bool) error {
	v := 0
	if reuse {
		v = 1
	}
	if err := syscall.SetsockoptInt(s.fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, v); err != nil {
		return newSystemError("setsockopt(SO_REUSEADDR)", err)
	}
	return nil
}

// Bind binds the socket to addr.
func (s *Socket) Bind(addr Address) error {
	sa, err := addr.sockaddr()
	if err != nil {
		return err
	}
	if err := syscall.Bind(s.fd, sa); err != nil {
		return newSystemError("bind", err)
	}
	return nil
}

// Listen marks the socket as passive with the given backlog.
func (s *Socket) Listen(backlog int) error {
	if err := syscall.Listen(s.fd, backlog); err != nil {
		return newSystemError("listen", err)
	}
	return nil
}

// Accept performs a single non-blocking accept attempt. ok is false (with no
// error) when nothing was pending (EWOULDBLOCK/EAGAIN per spec §4.B); the
// returned descriptor is raw — not yet owned by anything — ready to be
// wrapped with NewSocket.
func (s *Socket) Accept() (native int, peer Address, ok bool, err error) {
	nfd, sa, aerr := syscall.Accept4(s.fd, syscall.SOCK_NONBLOCK|syscall.SOCK_CLOEXEC)
	if aerr == syscall.EAGAIN || aerr == syscall.EWOULDBLOCK {
		return 0, Address{}, false, nil
	}
	if aerr == syscall.EINTR {
		// A single retry is enough here: accept never blocks past one
		// pending connection, and the caller's readiness loop will call
		// Accept again on the next iteration regardless.
		nfd, sa, aerr = syscall.Accept4(s.fd, syscall.SOCK_NONBLOCK|syscall.SOCK_CLOEXEC)
	}
	if aerr != nil {
		return 0, Address{}, false, newSystemError("accept4", aerr)
	}
	return nfd, addressFromSockaddr(sa), true, nil
}

// Read reads into buf, returning the number of bytes read. n == 0, err ==
// nil means would-block (no progress); n == 0 with eof == true means EOF;
// otherwise n > 0 bytes were read (spec §4.B "Read").
func (s *Socket) Read(buf []byte) (n int, eof bool, err error) {
	nr, rerr := retryEINTR("read", func() (int, error) { return syscall.Read(s.fd, buf) })
	if se, isSys := rerr.(*SystemError); isSys {
		if se.Errno == syscall.EAGAIN || se.Errno == syscall.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, rerr
	}
	if nr == 0 {
		return 0, true, nil
	}
	return nr, false, nil
}

// Write writes buf, returning the number of bytes written. n == 0, err ==
// nil means would-block.
func (s *Socket) Write(buf []byte) (n int, err error) {
	nw, werr := retryEINTR("write", func() (int, error) { return syscall.Write(s.fd, buf) })
	if se, isSys := werr.(*SystemError); isSys {
		if se.Errno == syscall.EAGAIN || se.Errno == syscall.EWOULDBLOCK {
			return 0, nil
		}
		return 0, werr
	}
	return nw, nil
}

// Readv is the scatter form of Read across multiple buffers.
func (s *Socket) Readv(bufs [][]byte) (n int, eof bool, err error) {
	nr, rerr := retryEINTR("readv", func() (int, error) { return syscall.Readv(s.fd, bufs) })
	if se, isSys := rerr.(*SystemError); isSys {
		if se.Errno == syscall.EAGAIN || se.Errno == syscall.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, rerr
	}
	if nr == 0 && totalLen(bufs) > 0 {
		return 0, true, nil
	}
	return nr, false, nil
}

// Writev is the gather form of Write across multiple buffers.
func (s *Socket) Writev(bufs [][]byte) (n int, err error) {
	nw, werr := retryEINTR("writev", func() (int, error) { return syscall.Writev(s.fd, bufs) })
	if se, isSys := werr.(*SystemError); isSys {
		if se.Errno == syscall.EAGAIN || se.Errno == syscall.EWOULDBLOCK {
			return 0, nil
		}
		return 0, werr
	}
	return nw, nil
}

// RecvFrom reads a single datagram, reporting the sender's Address.
func (s *Socket) RecvFrom(buf []byte) (n int, from Address, err error) {
	nr, sa, rerr := syscall.Recvfrom(s.fd, buf, 0)
	if rerr == syscall.EAGAIN || rerr == syscall.EWOULDBLOCK {
		return 0, Address{}, nil
	}
	if rerr != nil {
		return 0, Address{}, newSystemError("recvfrom", rerr)
	}
	return nr, addressFromSockaddr(sa), nil
}

// SendTo writes a single datagram to addr.
func (s *Socket) SendTo(buf []byte, addr Address) error {
	sa, err := addr.sockaddr()
	if err != nil {
		return err
	}
	if err := syscall.Sendto(s.fd, buf, 0, sa); err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return nil
		}
		return newSystemError("sendto", err)
	}
	return nil
}

// LocalAddress queries the socket's bound local address.
func (s *Socket) LocalAddress() (Address, error) {
	sa, err := syscall.Getsockname(s.fd)
	if err != nil {
		return Address{}, newSystemError("getsockname", err)
	}
	return addressFromSockaddr(sa), nil
}

// PeerAddress queries the socket's connected peer address.
func (s *Socket) PeerAddress() (Address, error) {
	sa, err := syscall.Getpeername(s.fd)
	if err != nil {
		return Address{}, newSystemError("getpeername", err)
	}
	return addressFromSockaddr(sa), nil
}

func totalLen(bufs [][]byte) int {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n
}
