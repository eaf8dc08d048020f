package reactor

import "syscall"

// AcceptorHandler receives a newly-accepted native descriptor and the
// peer's Address. If it returns a non-nil error, Acceptor closes the
// descriptor before the error propagates to the caller that drove the loop
// turn (spec §4.G, testable-property "acceptor contract"). If it returns
// nil, ownership of fd has passed to the callback: Acceptor disables
// close-on-destruction so the callback's adopted descriptor survives.
type AcceptorHandler func(fd int, peer Address) error

// Acceptor owns a listening Socket registered for readability; on fire it
// drains all pending connections with repeated non-blocking accepts (spec
// §4.G).
type Acceptor struct {
	listener *Socket
	dispatch *Dispatch
	handler  AcceptorHandler
	logger   SLogger
}

// NewAcceptor binds, listens, and registers listener on dispatch, invoking
// handler for every accepted connection. backlog is passed straight to
// Listen.
func NewAcceptor(dispatch *Dispatch, endpoint Endpoint, backlog int, handler AcceptorHandler, logger SLogger) (*Acceptor, error) {
	if logger == nil {
		logger = DefaultSLogger()
	}
	sock, err := endpoint.ListenTCP(backlog)
	if err != nil {
		return nil, err
	}
	a := &Acceptor{listener: sock, dispatch: dispatch, handler: handler, logger: logger}
	if err := dispatch.Socket(sock, a.onReadable, Readable); err != nil {
		sock.Close()
		return nil, err
	}
	return a, nil
}

// Addr returns the listening socket's bound address.
func (a *Acceptor) Addr() (Address, error) { return a.listener.LocalAddress() }

// Close stops accepting and closes the listening socket.
func (a *Acceptor) Close() error {
	return a.dispatch.Unregister(a.listener.FD())
}

// onReadable drains all pending connections. A failure accepting from the
// listener itself aborts the drain and is propagated immediately; a failure
// from the per-connection callback closes that connection's descriptor,
// remembers the first such error, and keeps draining the rest of the batch —
// neither is ever swallowed (spec §7 "Handler failure").
func (a *Acceptor) onReadable(EventSet) (Disposition, error) {
	var firstErr error
	for {
		nfd, peer, ok, err := a.listener.Accept()
		if err != nil {
			a.logger.Info("acceptor.accept_error", "err", err)
			return KeepOpen, err
		}
		if !ok {
			return KeepOpen, firstErr
		}
		accepted, err := NewSocket(nfd, true)
		if err != nil {
			_ = syscall.Close(nfd)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := accepted.SetLinger(0); err != nil {
			accepted.Close()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := a.handler(accepted.FD(), peer); err != nil {
			a.logger.Info("acceptor.callback_error", "peer", peer.String(), "err", err)
			accepted.Close()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		// Callback accepted ownership: stop us from closing it.
		accepted.Release()
	}
}
