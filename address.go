package reactor

import (
	"fmt"
	"net"
	"strconv"
	"syscall"
)

// Address is a numeric IP plus port (and an IPv6 zone when read back from
// the kernel) with numeric-only parse and format (spec §3 "Address"); it is
// converted to a sockaddr only when a syscall needs one. No hostname
// resolution happens at this layer,
// that's the DNS driver's job (§4.F).
type Address struct {
	ip   net.IP
	port int
	zone string
}

// ParseAddress parses "host:port" where host is a numeric IPv4 or IPv6
// literal. It never performs hostname resolution; an unparsable or
// non-numeric host returns ErrInvalidAddress.
func ParseAddress(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, portStr)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Address{}, fmt.Errorf("%w: %q is not a numeric address", ErrInvalidAddress, host)
	}
	return Address{ip: ip, port: port}, nil
}

// AddressFromIP builds an Address from an already-parsed IP and port,
// skipping the string round-trip. Nothing in this package calls it; the
// socket-level lookups build their Address from the raw sockaddr instead.
func AddressFromIP(ip net.IP, port int) Address {
	return Address{ip: ip, port: port}
}

// IP returns the numeric address.
func (a Address) IP() net.IP { return a.ip }

// Port returns the numeric port.
func (a Address) Port() int { return a.port }

// IsIPv6 reports whether the address is an IPv6 literal.
func (a Address) IsIPv6() bool { return a.ip != nil && a.ip.To4() == nil }

// Network implements net.Addr. Reactor addresses don't know their socket
// type in isolation; Endpoint carries that.
func (a Address) Network() string { return "ip" }

// String renders numeric host:port, satisfying net.Addr.
func (a Address) String() string {
	if a.ip == nil {
		return ""
	}
	return net.JoinHostPort(a.ip.String(), strconv.Itoa(a.port))
}

// sockaddr converts the Address into the raw form needed by bind/connect.
func (a Address) sockaddr() (syscall.Sockaddr, error) {
	if v4 := a.ip.To4(); v4 != nil {
		var sa syscall.SockaddrInet4
		copy(sa.Addr[:], v4)
		sa.Port = a.port
		return &sa, nil
	}
	v6 := a.ip.To16()
	if v6 == nil {
		return nil, ErrInvalidAddress
	}
	var sa syscall.SockaddrInet6
	copy(sa.Addr[:], v6)
	sa.Port = a.port
	return &sa, nil
}

func addressFromSockaddr(sa syscall.Sockaddr) Address {
	switch v := sa.(type) {
	case *syscall.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, v.Addr[:])
		return Address{ip: ip, port: v.Port}
	case *syscall.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return Address{ip: ip, port: v.Port, zone: strconv.Itoa(int(v.ZoneId))}
	default:
		return Address{}
	}
}

// SockType identifies the socket type/protocol pair an Endpoint will use to
// create sockets, as spec §3 describes.
type SockType int

const (
	SockStream SockType = syscall.SOCK_STREAM
	SockDgram  SockType = syscall.SOCK_DGRAM
)

// Endpoint extends Address with a socket type and protocol, so it can mint a
// new unbound socket of the right family/type/protocol (spec §3).
type Endpoint struct {
	Address
	Type     SockType
	Protocol int
}

// NewEndpoint builds an Endpoint for TCP (SockStream) or UDP (SockDgram)
// traffic at addr.
func NewEndpoint(addr Address, typ SockType) Endpoint {
	return Endpoint{Address: addr, Type: typ}
}

// NewSocket creates a new unbound, non-blocking Socket matching the
// endpoint's family/type/protocol.
func (e Endpoint) NewSocket() (*Socket, error) {
	family := syscall.AF_INET
	if e.IsIPv6() {
		family = syscall.AF_INET6
	}
	fd, err := syscall.Socket(family, int(e.Type)|syscall.SOCK_NONBLOCK|syscall.SOCK_CLOEXEC, e.Protocol)
	if err != nil {
		return nil, newSystemError("socket", err)
	}
	return newOwnedSocket(fd), nil
}

// ListenTCP composes NewSocket+ReuseBindAddress+Bind+Listen for a
// SockStream endpoint, the bind-then-listen sequence Acceptor and socket-
// level tests both need (spec §4.B).
func (e Endpoint) ListenTCP(backlog int) (*Socket, error) {
	sock, err := e.NewSocket()
	if err != nil {
		return nil, err
	}
	if err := sock.ReuseBindAddress(true); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Bind(e.Address); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Listen(backlog); err != nil {
		sock.Close()
		return nil, err
	}
	return sock, nil
}
