package reactor

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// AnswerA is delivered to an A-record query callback. Success is true for
// both "found some addresses" and "NXDOMAIN/NODATA" (an empty Addresses
// list); it is false only for genuine resolver failure, per spec §4.F.4.
type AnswerA struct {
	Addresses []string
	Success   bool
}

// MXRecord is one entry of an AnswerMX, an exchange hostname plus whatever A
// addresses were glued to it.
type MXRecord struct {
	Host      string
	Addresses []string
}

// AnswerMX is delivered to an MX-record query callback, preference-grouped
// ascending (spec §4.F.4).
type AnswerMX struct {
	Exchanges []MXRecord
	Success   bool
}

// AnswerPTR is delivered to a PTR-record query callback.
type AnswerPTR struct {
	Hostname string
	Success  bool
}

// typed completion closures: the generic "answer -> typed user callback"
// adapters spec §4.F.1 describes.
type completionFunc func(rawAnswer)

// DNSDriver wraps an internal async resolver and integrates it into the
// reactor: every loop tick it reconciles the resolver's fd/timeout wants
// against Dispatch and a single Scheduler Timeout, and fans out completed
// queries to their typed callbacks (spec §4.F).
type DNSDriver struct {
	resolver   *asyncResolver
	dispatch   *Dispatch
	sched      *Scheduler
	timeout    *Timeout
	queries    map[uuid.UUID]completionFunc
	registered map[int]Handle // fds currently registered in Dispatch on the resolver's behalf
	scratch    []pollRequest
	logger     SLogger
}

// NewDNSDriver constructs a driver over dispatch/sched, querying the given
// nameservers (numeric addresses only — this layer never resolves
// hostnames for its own nameserver list).
func NewDNSDriver(clock *Clock, dispatch *Dispatch, sched *Scheduler, nameservers []Address, logger SLogger) *DNSDriver {
	if logger == nil {
		logger = DefaultSLogger()
	}
	d := &DNSDriver{
		resolver:   newAsyncResolver(clock, nameservers),
		dispatch:   dispatch,
		sched:      sched,
		queries:    make(map[uuid.UUID]completionFunc),
		registered: make(map[int]Handle),
		scratch:    make([]pollRequest, 4),
		logger:     logger,
	}
	d.timeout = NewTimeout(sched)
	return d
}

// QueryA submits an A-record lookup. cb is invoked exactly once.
func (d *DNSDriver) QueryA(owner string, cb func(AnswerA)) error {
	return d.submit(owner, dns.TypeA, func(ra rawAnswer) {
		cb(mapAAnswer(ra))
	})
}

// QueryANoCNAME is QueryA but addresses are taken only from direct A
// records, ignoring any CNAME chain glue the server included (spec surface
// query_a_no_cname).
func (d *DNSDriver) QueryANoCNAME(owner string, cb func(AnswerA)) error {
	name := dns.Fqdn(owner)
	return d.submit(owner, dns.TypeA, func(ra rawAnswer) {
		direct := filterRecordType(ra, dns.TypeA)
		var kept []dns.RR
		for _, rr := range direct.records {
			if strings.EqualFold(rr.Header().Name, name) {
				kept = append(kept, rr)
			}
		}
		direct.records = kept
		cb(mapAAnswer(direct))
	})
}

// QueryMX submits an MX-record lookup.
func (d *DNSDriver) QueryMX(owner string, cb func(AnswerMX)) error {
	return d.submit(owner, dns.TypeMX, func(ra rawAnswer) {
		cb(mapMXAnswer(ra))
	})
}

// QueryPTR submits a PTR-record lookup for owner, which must already be a
// reverse DNS name (e.g. from net.ReverseAddr); see QueryPTRAddr for the
// common case of looking up an IP directly.
func (d *DNSDriver) QueryPTR(owner string, cb func(AnswerPTR)) error {
	return d.submit(owner, dns.TypePTR, func(ra rawAnswer) {
		cb(mapPTRAnswer(ra))
	})
}

// QueryPTRAddr is QueryPTR for a net.IP, building the in-addr.arpa/ip6.arpa
// owner name for the caller.
func (d *DNSDriver) QueryPTRAddr(ip net.IP, cb func(AnswerPTR)) error {
	owner, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return d.QueryPTR(owner, cb)
}

func (d *DNSDriver) submit(owner string, qtype uint16, adapter completionFunc) error {
	id, err := d.resolver.submit(owner, qtype)
	if err != nil {
		return err
	}
	d.queries[id] = adapter
	return nil
}

// run reconciles the resolver's fd/timeout wants with the reactor (spec
// §4.F.2) and delivers any answers it produces along the way. Core calls
// this once per loop turn.
func (d *DNSDriver) run() {
	d.timeout.Cancel()

	// A query can complete synchronously inside submit (e.g. sendAttempt
	// failing immediately) before any fd or timeout ever gets armed to
	// trigger a drain, so always drain once up front.
	d.drainCompleted()

	if len(d.queries) == 0 {
		d.clearRegistrations()
		return
	}

	for {
		needed, timeoutMS := d.resolver.beforePoll(d.scratch)
		if needed > len(d.scratch) {
			d.scratch = make([]pollRequest, needed)
			continue
		}
		requests := d.scratch[:needed]
		sortPollRequests(requests)

		if timeoutMS == 0 {
			d.resolver.processTimeouts()
			d.drainCompleted()
			if len(d.queries) == 0 {
				d.clearRegistrations()
				return
			}
			continue
		}

		d.reconcileFDs(requests)
		if timeoutMS > 0 {
			deadline := int64(timeoutMS+999) / 1000 // ceil to seconds, spec §4.F.2
			d.timeout.In(deadline, func() {
				d.resolver.processTimeouts()
				d.drainCompleted()
			})
		}
		return
	}
}

// reconcileFDs merge-walks the resolver's sorted fd request list against the
// currently-registered fd set (also sorted), making Dispatch's registration
// set exactly equal to what the resolver last asked for (spec
// testable-property 7).
func (d *DNSDriver) reconcileFDs(requests []pollRequest) {
	currentFDs := make([]int, 0, len(d.registered))
	for fd := range d.registered {
		currentFDs = append(currentFDs, fd)
	}
	sort.Ints(currentFDs)

	wantFDs := make([]int, len(requests))
	wantEvents := make(map[int]EventSet, len(requests))
	for i, r := range requests {
		wantFDs[i] = r.FD
		wantEvents[r.FD] = r.Events
	}

	i, j := 0, 0
	for i < len(wantFDs) || j < len(currentFDs) {
		switch {
		case i < len(wantFDs) && (j >= len(currentFDs) || wantFDs[i] < currentFDs[j]):
			d.registerResolverFD(wantFDs[i], wantEvents[wantFDs[i]])
			i++
		case j < len(currentFDs) && (i >= len(wantFDs) || currentFDs[j] < wantFDs[i]):
			d.unregisterResolverFD(currentFDs[j])
			j++
		default:
			d.dispatch.ModifyEvents(wantFDs[i], d.makeResolverHandler(wantFDs[i]), wantEvents[wantFDs[i]])
			i++
			j++
		}
	}
}

func (d *DNSDriver) registerResolverFD(fd int, events EventSet) {
	// close-on-destruction is disabled: the resolver owns this fd, not us
	// (spec §3 "DNS driver state", §9 "borrowed-fd newtype").
	sock, err := NewSocket(fd, false)
	if err != nil {
		return
	}
	if err := d.dispatch.Socket(sock, d.makeResolverHandler(fd), events); err != nil {
		return
	}
	d.registered[fd] = Handle{fd: fd}
	d.logger.Debug("dns.register", "fd", fd)
}

func (d *DNSDriver) unregisterResolverFD(fd int) {
	d.dispatch.Unregister(fd)
	delete(d.registered, fd)
	d.logger.Debug("dns.unregister", "fd", fd)
}

func (d *DNSDriver) makeResolverHandler(fd int) SocketHandler {
	return func(events EventSet) (Disposition, error) {
		if events.Has(Readable) {
			d.resolver.processReadable(fd)
		}
		d.drainCompleted()
		return KeepOpen, nil
	}
}

func (d *DNSDriver) clearRegistrations() {
	for fd := range d.registered {
		d.unregisterResolverFD(fd)
	}
}

// drainCompleted delivers every answer the resolver has finished producing
// to its typed closure, then forgets it (spec testable-property 8: at most
// once, exactly once unless the driver is destroyed first).
func (d *DNSDriver) drainCompleted() {
	for {
		id, answer, status := d.resolver.check()
		if status != statusOK {
			return
		}
		cb, ok := d.queries[id]
		if !ok {
			continue
		}
		delete(d.queries, id)
		cb(answer)
	}
}

// Close finalizes the driver: drops all fd registrations, cancels the
// timeout, finalizes the resolver (which silently drops in-flight queries —
// their callbacks are never invoked, a documented consequence of dropping
// the driver, spec §4.F.5).
func (d *DNSDriver) Close() error {
	d.clearRegistrations()
	d.timeout.Cancel()
	d.resolver.close()
	d.queries = make(map[uuid.UUID]completionFunc)
	return nil
}

// Empty reports whether no queries are in flight.
func (d *DNSDriver) Empty() bool { return len(d.queries) == 0 }

func mapAAnswer(ra rawAnswer) AnswerA {
	if ra.err != nil {
		return AnswerA{Success: false}
	}
	switch ra.rcode {
	case dns.RcodeSuccess:
		var addrs []string
		for _, rr := range ra.records {
			if a, ok := rr.(*dns.A); ok {
				addrs = append(addrs, a.A.String())
			}
		}
		// NODATA is just RcodeSuccess with zero matching records, which
		// falls out of the loop above as addrs == nil — still Success.
		return AnswerA{Addresses: addrs, Success: true}
	case dns.RcodeNameError: // NXDOMAIN
		return AnswerA{Addresses: nil, Success: true}
	default:
		return AnswerA{Success: false}
	}
}

func mapMXAnswer(ra rawAnswer) AnswerMX {
	if ra.err != nil {
		return AnswerMX{Success: false}
	}
	if ra.rcode == dns.RcodeNameError {
		return AnswerMX{Exchanges: nil, Success: true}
	}
	if ra.rcode != dns.RcodeSuccess {
		return AnswerMX{Success: false}
	}
	type pref struct {
		pref uint16
		host string
	}
	var entries []pref
	for _, rr := range ra.records {
		if mx, ok := rr.(*dns.MX); ok {
			entries = append(entries, pref{mx.Preference, mx.Mx})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pref < entries[j].pref })
	byHost := make(map[string][]string)
	for _, rr := range ra.records {
		if a, ok := rr.(*dns.A); ok {
			byHost[a.Hdr.Name] = append(byHost[a.Hdr.Name], a.A.String())
		}
	}
	out := make([]MXRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, MXRecord{Host: e.host, Addresses: byHost[e.host]})
	}
	return AnswerMX{Exchanges: out, Success: true}
}

func mapPTRAnswer(ra rawAnswer) AnswerPTR {
	if ra.err != nil {
		return AnswerPTR{Success: false}
	}
	switch ra.rcode {
	case dns.RcodeSuccess:
		for _, rr := range ra.records {
			if ptr, ok := rr.(*dns.PTR); ok {
				return AnswerPTR{Hostname: ptr.Ptr, Success: true}
			}
		}
		return AnswerPTR{Hostname: "", Success: true}
	case dns.RcodeNameError:
		return AnswerPTR{Hostname: "", Success: true}
	default:
		return AnswerPTR{Success: false}
	}
}

func filterRecordType(ra rawAnswer, t uint16) rawAnswer {
	out := ra
	out.records = nil
	for _, rr := range ra.records {
		if rr.Header().Rrtype == t {
			out.records = append(out.records, rr)
		}
	}
	return out
}
