package reactor

import (
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// The resolver in this file is the from-scratch async DNS client the DNS
// driver (dns.go) drives. No Go package exposes the exact callback-free
// submit/before-poll/process/check shape spec §4.F describes — that shape
// is c-ares's, and c-ares itself isn't a Go library — so this is hand
// written the way original_source/include/ioxx/resolver/adns.hpp describes
// it, using miekg/dns only for what it's genuinely good at: building query
// messages and parsing responses off the wire. See DESIGN.md.

// pollRequest is one entry of the resolver's "before poll" fd/event request,
// mirroring the pollfd-shaped array spec §4.F's external resolver contract
// fills.
type pollRequest struct {
	FD     int
	Events EventSet
}

// resolverStatus is Check's outcome.
type resolverStatus int

const (
	statusNone resolverStatus = iota
	statusOK
	statusAgain
	statusNoQueries
)

// rawAnswer is the resolver's answer to a completed query, before the DNS
// driver maps it into a typed payload (spec §4.F.4).
type rawAnswer struct {
	rcode   int
	records []dns.RR
	err     error
}

const (
	resolverMaxAttempts  = 4
	resolverAttemptTTL   = 2 * time.Second
	resolverMaxInflightQ = 4096
)

type queryState struct {
	id      uuid.UUID
	qtype   uint16
	name    string
	txnID   uint16
	nsIndex int
	attempt int
	deadline time.Time
}

// asyncResolver is the internal async UDP stub resolver the DNS driver
// wraps. It owns one UDP socket per configured nameserver, opened lazily on
// the first submitted query and closed once the query set drains back to
// empty (spec §4.F.2 "if the query map is empty, also clear all resolver fd
// registrations").
type asyncResolver struct {
	clock       *Clock
	nameservers []Address
	sockets     []*Socket
	pending     map[uuid.UUID]*queryState
	byTxn       map[uint16]uuid.UUID
	completed   []completedQuery
	nextTxnID   uint16
	rng         uint32
}

type completedQuery struct {
	id     uuid.UUID
	answer rawAnswer
}

// newAsyncResolver builds a resolver that will query the given nameservers,
// round-robining across them on retry.
func newAsyncResolver(clock *Clock, nameservers []Address) *asyncResolver {
	if len(nameservers) == 0 {
		nameservers = []Address{mustParseLoopbackDNS()}
	}
	return &asyncResolver{
		clock:       clock,
		nameservers: nameservers,
		pending:     make(map[uuid.UUID]*queryState),
		byTxn:       make(map[uint16]uuid.UUID),
	}
}

func mustParseLoopbackDNS() Address {
	a, err := ParseAddress("127.0.0.1:53")
	if err != nil {
		panic(err)
	}
	return a
}

func (r *asyncResolver) ensureSockets() error {
	if len(r.sockets) == len(r.nameservers) {
		return nil
	}
	for len(r.sockets) < len(r.nameservers) {
		ep := NewEndpoint(r.nameservers[len(r.sockets)], SockDgram)
		sock, err := ep.NewSocket()
		if err != nil {
			return err
		}
		r.sockets = append(r.sockets, sock)
	}
	return nil
}

func (r *asyncResolver) closeSockets() {
	for _, s := range r.sockets {
		s.Close()
	}
	r.sockets = nil
}

func (r *asyncResolver) allocTxnID() uint16 {
	for {
		r.rng = r.rng*1103515245 + 12345
		id := uint16(r.rng >> 8)
		if _, used := r.byTxn[id]; !used {
			return id
		}
	}
}

// submit registers a new query for name/qtype and sends the first attempt.
func (r *asyncResolver) submit(name string, qtype uint16) (uuid.UUID, error) {
	if len(r.pending) >= resolverMaxInflightQ {
		return uuid.Nil, ErrClosed
	}
	if err := r.ensureSockets(); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	txn := r.allocTxnID()
	qs := &queryState{id: id, qtype: qtype, name: name, txnID: txn}
	r.pending[id] = qs
	r.byTxn[txn] = id
	r.sendAttempt(qs)
	return id, nil
}

func (r *asyncResolver) sendAttempt(qs *queryState) {
	msg := new(dns.Msg)
	msg.Id = qs.txnID
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{Name: dns.Fqdn(qs.name), Qtype: qs.qtype, Qclass: dns.ClassINET}}
	wire, err := msg.Pack()
	now := r.clock.Time()
	qs.deadline = now.Add(resolverAttemptTTL << qs.attempt) // doubles per retry
	if err != nil {
		r.fail(qs, err)
		return
	}
	ns := r.nameservers[qs.nsIndex%len(r.nameservers)]
	sock := r.sockets[qs.nsIndex%len(r.sockets)]
	if err := sock.SendTo(wire, ns); err != nil {
		r.fail(qs, err)
		return
	}
}

// beforePoll fills buf with the fd/event pairs the resolver currently wants
// watched. If buf is too small, needed > len(buf) and buf is left
// untouched; the driver must grow its scratch buffer and call again (spec
// §4.F.2 "resizing the scratch pollfd buffer until the resolver reports it
// is large enough").
func (r *asyncResolver) beforePoll(buf []pollRequest) (needed int, timeoutMS int) {
	needed = len(r.sockets)
	if needed > len(buf) {
		return needed, r.nextTimeoutMS()
	}
	for i, s := range r.sockets {
		buf[i] = pollRequest{FD: s.FD(), Events: Readable}
	}
	return needed, r.nextTimeoutMS()
}

func (r *asyncResolver) nextTimeoutMS() int {
	if len(r.pending) == 0 {
		return -1
	}
	now := r.clock.Time()
	earliest := time.Duration(-1)
	for _, qs := range r.pending {
		d := qs.deadline.Sub(now)
		if d < 0 {
			d = 0
		}
		if earliest < 0 || d < earliest {
			earliest = d
		}
	}
	if earliest < 0 {
		return 0
	}
	return int(earliest / time.Millisecond)
}

// processReadable drains all pending datagrams on the socket bound to fd.
func (r *asyncResolver) processReadable(fd int) {
	var sock *Socket
	for _, s := range r.sockets {
		if s.FD() == fd {
			sock = s
			break
		}
	}
	if sock == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		n, _, err := sock.RecvFrom(buf)
		if err != nil || n == 0 {
			return
		}
		r.handleDatagram(buf[:n])
	}
}

func (r *asyncResolver) handleDatagram(wire []byte) {
	msg := new(dns.Msg)
	if err := msg.Unpack(wire); err != nil {
		return
	}
	qid, ok := r.byTxn[msg.Id]
	if !ok {
		return // stray/duplicate/spoofed reply, ignore
	}
	qs := r.pending[qid]
	if qs == nil {
		return
	}
	r.complete(qs, rawAnswer{rcode: msg.Rcode, records: msg.Answer})
}

// processTimeouts advances retry/failure state for every query whose
// attempt deadline has passed (spec §4.F's resolver "process timeouts").
// Supplemented with the bounded-retry/backoff schedule described in
// SPEC_FULL.md, grounded on original_source's adns.hpp retry loop.
func (r *asyncResolver) processTimeouts() {
	now := r.clock.Time()
	for _, qs := range r.pending {
		if now.Before(qs.deadline) {
			continue
		}
		qs.attempt++
		if qs.attempt >= resolverMaxAttempts {
			r.fail(qs, errDNSTimeout)
			continue
		}
		delete(r.byTxn, qs.txnID)
		qs.txnID = r.allocTxnID()
		qs.nsIndex++
		r.byTxn[qs.txnID] = qs.id
		r.sendAttempt(qs)
	}
}

func (r *asyncResolver) fail(qs *queryState, err error) {
	r.complete(qs, rawAnswer{rcode: dns.RcodeServerFailure, err: err})
}

func (r *asyncResolver) complete(qs *queryState, answer rawAnswer) {
	delete(r.pending, qs.id)
	delete(r.byTxn, qs.txnID)
	r.completed = append(r.completed, completedQuery{id: qs.id, answer: answer})
	if len(r.pending) == 0 {
		r.closeSockets()
	}
}

// check pops one completed query. statusNoQueries means nothing is in
// flight at all; statusAgain means queries remain in flight but none has
// completed yet.
func (r *asyncResolver) check() (uuid.UUID, rawAnswer, resolverStatus) {
	if len(r.completed) > 0 {
		c := r.completed[0]
		r.completed = r.completed[1:]
		return c.id, c.answer, statusOK
	}
	if len(r.pending) == 0 {
		return uuid.Nil, rawAnswer{}, statusNoQueries
	}
	return uuid.Nil, rawAnswer{}, statusAgain
}

// close finalizes the resolver: every in-flight query is dropped silently
// (spec §4.F.5), and all fds are released.
func (r *asyncResolver) close() {
	r.closeSockets()
	r.pending = make(map[uuid.UUID]*queryState)
	r.byTxn = make(map[uint16]uuid.UUID)
	r.completed = nil
}

func sortPollRequests(reqs []pollRequest) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].FD < reqs[j].FD })
}

var errDNSTimeout = &SystemError{Errno: syscall.ETIMEDOUT, Context: "dns resolver exhausted retries"}
