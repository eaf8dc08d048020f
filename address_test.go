package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddressNumeric(t *testing.T) {
	a, err := ParseAddress("127.0.0.1:8080")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", a.IP().String())
	require.Equal(t, 8080, a.Port())
	require.False(t, a.IsIPv6())
	require.Equal(t, "127.0.0.1:8080", a.String())
}

func TestParseAddressRejectsHostname(t *testing.T) {
	_, err := ParseAddress("localhost:80")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestParseAddressIPv6(t *testing.T) {
	a, err := ParseAddress("[::1]:53")
	require.NoError(t, err)
	require.True(t, a.IsIPv6())
	require.Equal(t, 53, a.Port())
}

func TestParseAddressBadPort(t *testing.T) {
	_, err := ParseAddress("127.0.0.1:notaport")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEndpointNewSocket(t *testing.T) {
	addr, err := ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	ep := NewEndpoint(addr, SockStream)
	sock, err := ep.NewSocket()
	require.NoError(t, err)
	defer sock.Close()
	require.GreaterOrEqual(t, sock.FD(), 0)
}

func TestEndpointListenTCP(t *testing.T) {
	addr, err := ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	ep := NewEndpoint(addr, SockStream)
	sock, err := ep.ListenTCP(16)
	require.NoError(t, err)
	defer sock.Close()

	local, err := sock.LocalAddress()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", local.IP().String())
	require.NotEqual(t, 0, local.Port())

	_, _, ok, err := sock.Accept()
	require.NoError(t, err)
	require.False(t, ok)
}
