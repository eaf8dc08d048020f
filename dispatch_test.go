package reactor

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDispatch(t *testing.T) (*Dispatch, Demultiplexer) {
	t.Helper()
	demux, err := NewPollDemultiplexer()
	require.NoError(t, err)
	t.Cleanup(func() { demux.Close() })
	return NewDispatch(demux, nil), demux
}

func TestDispatchInvokesHandlerOnReadable(t *testing.T) {
	d, demux := newTestDispatch(t)
	r, w := makePipe(t)

	sock, err := NewSocket(r, true)
	require.NoError(t, err)

	var got EventSet
	require.NoError(t, d.Socket(sock, func(e EventSet) (Disposition, error) {
		got = e
		return KeepOpen, nil
	}, Readable))

	syscall.Write(w, []byte("x"))
	require.NoError(t, demux.Wait(time.Second))
	require.NoError(t, d.run())
	require.True(t, got.Has(Readable))
}

func TestDispatchCloseMeUnregisters(t *testing.T) {
	d, demux := newTestDispatch(t)
	r, w := makePipe(t)
	sock, err := NewSocket(r, true)
	require.NoError(t, err)

	calls := 0
	require.NoError(t, d.Socket(sock, func(e EventSet) (Disposition, error) {
		calls++
		return CloseMe, nil
	}, Readable))

	syscall.Write(w, []byte("x"))
	require.NoError(t, demux.Wait(time.Second))
	require.NoError(t, d.run())
	require.Equal(t, 1, calls)
	require.True(t, d.Empty())
}

func TestDispatchHandlerSuicideToleratesOtherFDs(t *testing.T) {
	d, demux := newTestDispatch(t)
	r1, w1 := makePipe(t)
	r2, w2 := makePipe(t)

	sock1, err := NewSocket(r1, true)
	require.NoError(t, err)
	sock2, err := NewSocket(r2, true)
	require.NoError(t, err)

	otherFired := false
	require.NoError(t, d.Socket(sock1, func(e EventSet) (Disposition, error) {
		// drop a sibling registration from within this handler
		_ = d.Unregister(r2)
		return CloseMe, nil
	}, Readable))
	require.NoError(t, d.Socket(sock2, func(e EventSet) (Disposition, error) {
		otherFired = true
		return KeepOpen, nil
	}, Readable))

	syscall.Write(w1, []byte("x"))
	syscall.Write(w2, []byte("x"))
	require.NoError(t, demux.Wait(time.Second))
	var runErr error
	require.NotPanics(t, func() { runErr = d.run() })
	require.NoError(t, runErr)
	require.True(t, d.Empty())
	_ = otherFired // whichever fd popped first decides if the sibling got a turn; no panic is the contract
}

func TestDispatchDoubleRegisterFails(t *testing.T) {
	d, _ := newTestDispatch(t)
	r, _ := makePipe(t)
	sock, err := NewSocket(r, true)
	require.NoError(t, err)
	require.NoError(t, d.Socket(sock, func(EventSet) (Disposition, error) { return KeepOpen, nil }, Readable))

	sock2, err := NewSocket(r, false)
	require.NoError(t, err)
	err = d.Socket(sock2, func(EventSet) (Disposition, error) { return KeepOpen, nil }, Readable)
	require.Error(t, err)
}

// TestDispatchHandlerErrorClosesAndPropagates covers spec §7's "Handler
// failure" policy: a handler error closes its descriptor regardless of the
// Disposition it returned, and run surfaces the error rather than swallowing
// it.
func TestDispatchHandlerErrorClosesAndPropagates(t *testing.T) {
	d, demux := newTestDispatch(t)
	r, w := makePipe(t)
	sock, err := NewSocket(r, true)
	require.NoError(t, err)

	boom := errors.New("handler boom")
	require.NoError(t, d.Socket(sock, func(EventSet) (Disposition, error) {
		return KeepOpen, boom
	}, Readable))

	syscall.Write(w, []byte("x"))
	require.NoError(t, demux.Wait(time.Second))
	err = d.run()
	require.ErrorIs(t, err, boom)
	require.True(t, d.Empty())
}
