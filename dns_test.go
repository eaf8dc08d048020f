package reactor

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// fakeDNSServer answers A queries for one configured name with one address,
// and NXDOMAIN for everything else, driven by a plain net.PacketConn (not
// the reactor itself) so the driver under test is exercised as a real
// client of a real, if tiny, UDP server.
type fakeDNSServer struct {
	conn    net.PacketConn
	addr    string
	answers map[string]string // name (fqdn) -> IPv4
	done    chan struct{}
	wg      sync.WaitGroup
}

func newFakeDNSServer(t *testing.T, answers map[string]string) *fakeDNSServer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeDNSServer{conn: conn, addr: conn.LocalAddr().String(), answers: answers, done: make(chan struct{})}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(func() {
		close(s.done)
		conn.Close()
		s.wg.Wait()
	})
	return s
}

func (s *fakeDNSServer) serve() {
	defer s.wg.Done()
	buf := make([]byte, 512)
	for {
		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, peer, err := s.conn.ReadFrom(buf)
		select {
		case <-s.done:
			return
		default:
		}
		if err != nil {
			continue
		}
		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			continue
		}
		resp := new(dns.Msg)
		resp.SetReply(req)
		if len(req.Question) == 1 {
			q := req.Question[0]
			if ip, ok := s.answers[q.Name]; ok && q.Qtype == dns.TypeA {
				rr, _ := dns.NewRR(q.Name + " 60 IN A " + ip)
				resp.Answer = append(resp.Answer, rr)
			} else {
				resp.Rcode = dns.RcodeNameError
			}
		}
		wire, err := resp.Pack()
		if err != nil {
			continue
		}
		s.conn.WriteTo(wire, peer)
	}
}

func TestDNSDriverQueryASuccess(t *testing.T) {
	srv := newFakeDNSServer(t, map[string]string{"localhost.": "127.0.0.1"})
	nsAddr, err := ParseAddress(srv.addr)
	require.NoError(t, err)

	core, err := NewCore(WithNameservers(nsAddr))
	require.NoError(t, err)
	defer core.Close()

	var got AnswerA
	done := make(chan struct{})
	require.NoError(t, core.DNS().QueryA("localhost", func(a AnswerA) {
		got = a
		close(done)
	}))

	driveUntil(t, core, done, 2*time.Second)
	require.True(t, got.Success)
	require.Equal(t, []string{"127.0.0.1"}, got.Addresses)
}

func TestDNSDriverNXDOMAIN(t *testing.T) {
	srv := newFakeDNSServer(t, map[string]string{})
	nsAddr, err := ParseAddress(srv.addr)
	require.NoError(t, err)

	core, err := NewCore(WithNameservers(nsAddr))
	require.NoError(t, err)
	defer core.Close()

	var got AnswerA
	done := make(chan struct{})
	require.NoError(t, core.DNS().QueryA("nosuchname.invalid", func(a AnswerA) {
		got = a
		close(done)
	}))

	driveUntil(t, core, done, 2*time.Second)
	require.True(t, got.Success)
	require.Empty(t, got.Addresses)
}

func TestDNSDriverReconciliationClearsOnEmpty(t *testing.T) {
	srv := newFakeDNSServer(t, map[string]string{"a.example.": "10.0.0.1"})
	nsAddr, err := ParseAddress(srv.addr)
	require.NoError(t, err)

	core, err := NewCore(WithNameservers(nsAddr))
	require.NoError(t, err)
	defer core.Close()

	done := make(chan struct{})
	require.NoError(t, core.DNS().QueryA("a.example", func(AnswerA) { close(done) }))
	driveUntil(t, core, done, 2*time.Second)

	core.DNS().run()
	require.True(t, core.DNS().Empty())
	require.Empty(t, core.DNS().registered)
}

// driveUntil pumps Core.Run/Wait until done is closed or the deadline
// elapses.
func driveUntil(t *testing.T, core *Core, done chan struct{}, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-done:
			return
		default:
		}
		seconds, err := core.Run()
		require.NoError(t, err)
		if seconds == 0 {
			seconds = 1
		}
		if seconds > 1 {
			seconds = 1
		}
		core.Wait(seconds)
	}
	select {
	case <-done:
	default:
		t.Fatal("callback never delivered")
	}
}
