package reactor

// SocketHandler is invoked with the event set a registered descriptor
// received. Returning CloseMe tells Dispatch to unregister and close the
// descriptor after the call returns (spec §3 "Handler"). A non-nil error
// tells Dispatch to close the descriptor regardless of the returned
// Disposition and propagate the error out of Dispatch.run (spec §7 "Handler
// failure": never swallow a handler error).
type SocketHandler func(events EventSet) (Disposition, error)

// Disposition is a handler's verdict about its own registration.
type Disposition int

const (
	// KeepOpen leaves the registration untouched.
	KeepOpen Disposition = iota
	// CloseMe tells Dispatch to unregister and close the descriptor.
	CloseMe
)

// dispatchEntry pairs a handler with the socket it was registered for, so
// Dispatch can close on CloseMe / suicide.
type dispatchEntry struct {
	handle  Handle
	socket  *Socket
	handler SocketHandler
}

// Dispatch layers a per-descriptor handler table on top of a Demultiplexer
// (spec §4.D). Every fd present in the table is registered in the
// Demultiplexer and vice versa, atomically, in every externally observable
// state (spec testable-property 3).
type Dispatch struct {
	demux   Demultiplexer
	table   map[int]*dispatchEntry
	logger  SLogger
}

// NewDispatch wraps demux with a handler table.
func NewDispatch(demux Demultiplexer, logger SLogger) *Dispatch {
	if logger == nil {
		logger = DefaultSLogger()
	}
	return &Dispatch{demux: demux, table: make(map[int]*dispatchEntry), logger: logger}
}

// Socket atomically registers fd in the Demultiplexer and installs handler
// in the table. The table is checked first, so an fd that is already present
// is rejected before the Demultiplexer is touched, and a failed
// Demultiplexer registration leaves the table unchanged.
func (d *Dispatch) Socket(socket *Socket, handler SocketHandler, initial EventSet) error {
	fd := socket.FD()
	if _, exists := d.table[fd]; exists {
		return ErrAlreadyRegistered
	}
	h, err := d.demux.Register(fd, initial)
	if err != nil {
		return err
	}
	d.table[fd] = &dispatchEntry{handle: h, socket: socket, handler: handler}
	d.logger.Debug("dispatch.register", "fd", fd, "events", initial.String())
	return nil
}

// Modify replaces the handler for an already-registered fd, leaving its
// requested event mask unchanged; see ModifyEvents to change both.
func (d *Dispatch) Modify(fd int, handler SocketHandler) error {
	entry, ok := d.table[fd]
	if !ok {
		return ErrNotRegistered
	}
	entry.handler = handler
	return nil
}

// ModifyEvents replaces both the handler and the requested event mask.
func (d *Dispatch) ModifyEvents(fd int, handler SocketHandler, events EventSet) error {
	entry, ok := d.table[fd]
	if !ok {
		return ErrNotRegistered
	}
	if err := d.demux.Modify(entry.handle, events); err != nil {
		return err
	}
	entry.handler = handler
	return nil
}

// Unregister removes fd from both the table and the Demultiplexer, closing
// the owned socket.
func (d *Dispatch) Unregister(fd int) error {
	entry, ok := d.table[fd]
	if !ok {
		return ErrNotRegistered
	}
	delete(d.table, fd)
	err := d.demux.Unregister(entry.handle)
	if cerr := entry.socket.Close(); err == nil {
		err = cerr
	}
	d.logger.Debug("dispatch.unregister", "fd", fd)
	return err
}

// Empty reports whether no descriptors are registered.
func (d *Dispatch) Empty() bool { return len(d.table) == 0 }

// run drains the Demultiplexer's ready events into user handlers. Because a
// handler may register, unregister, or modify any socket — including
// itself, or a socket registered later in the same batch — the loop
// re-looks-up the table entry before every invocation instead of caching it,
// so it tolerates the handler it just called having destroyed itself or a
// sibling (spec §4.D re-entrancy rule, testable-property "handler suicide").
//
// If a handler returns an error, its descriptor is closed unconditionally
// (the Disposition it returned is ignored) and the loop keeps draining the
// rest of this batch; the first error seen is returned once the batch is
// exhausted, per spec §7's "never swallow a handler error" policy.
func (d *Dispatch) run() error {
	var firstErr error
	for {
		fd, events, ok := d.demux.PopEvent()
		if !ok {
			return firstErr
		}
		entry, stillPresent := d.table[fd]
		if !stillPresent {
			// A prior handler in this same batch dropped this
			// registration; spec §4.D says skip silently.
			continue
		}
		disposition, err := entry.handler(events)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if _, stillThere := d.table[fd]; stillThere {
				_ = d.Unregister(fd)
			}
			continue
		}
		if disposition == CloseMe {
			// entry may already be gone if the handler unregistered
			// itself explicitly; Unregister tolerates that via the ok
			// check above on the next PopEvent, but we must avoid
			// double-closing here.
			if _, stillThere := d.table[fd]; stillThere {
				_ = d.Unregister(fd)
			}
		}
	}
}
