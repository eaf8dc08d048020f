package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSocketBindListenAcceptWouldBlock(t *testing.T) {
	addr, err := ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	ep := NewEndpoint(addr, SockStream)
	sock, err := ep.NewSocket()
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.ReuseBindAddress(true))
	require.NoError(t, sock.Bind(addr))
	require.NoError(t, sock.Listen(16))

	_, _, ok, err := sock.Accept()
	require.NoError(t, err)
	require.False(t, ok, "nothing pending, accept must report would-block, not error")
}

func TestSocketLocalAddressAfterBind(t *testing.T) {
	addr, err := ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	ep := NewEndpoint(addr, SockStream)
	sock, err := ep.NewSocket()
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.Bind(addr))
	require.NoError(t, sock.Listen(1))

	local, err := sock.LocalAddress()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", local.IP().String())
	require.NotEqual(t, 0, local.Port())
}

// TestSocketAcceptReadWrite drives the server side through our non-blocking
// Socket wrapper and the client side through a plain net.Conn, in the style
// of the teacher's own echoServer test (real loopback sockets, no mocking).
func TestSocketAcceptReadWrite(t *testing.T) {
	addr, err := ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	ep := NewEndpoint(addr, SockStream)

	listener, err := ep.NewSocket()
	require.NoError(t, err)
	defer listener.Close()
	require.NoError(t, listener.ReuseBindAddress(true))
	require.NoError(t, listener.Bind(addr))
	require.NoError(t, listener.Listen(16))

	local, err := listener.LocalAddress()
	require.NoError(t, err)

	clientDone := make(chan error, 1)
	go func() {
		conn, err := net.DialTimeout("tcp", local.String(), time.Second)
		if err != nil {
			clientDone <- err
			return
		}
		defer conn.Close()
		if _, err := conn.Write([]byte("hello")); err != nil {
			clientDone <- err
			return
		}
		clientDone <- nil
	}()

	var nfd int
	require.Eventually(t, func() bool {
		fd, _, ok, aerr := listener.Accept()
		if aerr != nil || !ok {
			return false
		}
		nfd = fd
		return true
	}, time.Second, time.Millisecond)

	server, err := NewSocket(nfd, true)
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, <-clientDone)

	buf := make([]byte, 16)
	var n int
	var eof bool
	require.Eventually(t, func() bool {
		nr, e, rerr := server.Read(buf)
		require.NoError(t, rerr)
		if nr == 0 && !e {
			return false // would-block, not yet arrived
		}
		n, eof = nr, e
		return true
	}, time.Second, time.Millisecond)

	require.False(t, eof)
	require.Equal(t, "hello", string(buf[:n]))
}
