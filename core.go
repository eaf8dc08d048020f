package reactor

import "time"

// CoreOption configures a Core at construction (spec §6 configuration —
// functional options stand in for the CLI/env/file surface the library
// layer explicitly doesn't have, per SPEC_FULL.md's Configuration section).
type CoreOption func(*coreConfig)

type coreConfig struct {
	logger      SLogger
	demux       Demultiplexer
	nameservers []Address
}

// WithLogger injects an SLogger; the default is DefaultSLogger (discards
// everything).
func WithLogger(logger SLogger) CoreOption {
	return func(c *coreConfig) { c.logger = logger }
}

// WithDemultiplexer forces a specific Demultiplexer backend instead of the
// build-time default (NewDemultiplexer) — mainly useful for tests that want
// to exercise every backend against the same scenarios.
func WithDemultiplexer(demux Demultiplexer) CoreOption {
	return func(c *coreConfig) { c.demux = demux }
}

// WithNameservers sets the numeric nameserver addresses the DNS driver
// queries. Defaults to 127.0.0.1:53.
func WithNameservers(addrs ...Address) CoreOption {
	return func(c *coreConfig) { c.nameservers = addrs }
}

// Core composes Clock + Scheduler + Dispatch + DNS behind one façade (spec
// §4.G). Exactly one goroutine may drive a Core; independent Core instances
// in different goroutines are safe (spec §5).
type Core struct {
	clock    *Clock
	demux    Demultiplexer
	dispatch *Dispatch
	sched    *Scheduler
	dns      *DNSDriver
	logger   SLogger
}

// NewCore builds a Core, opening the build-time default Demultiplexer
// backend unless WithDemultiplexer overrides it.
func NewCore(opts ...CoreOption) (*Core, error) {
	cfg := coreConfig{logger: DefaultSLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	demux := cfg.demux
	if demux == nil {
		var err error
		demux, err = NewDemultiplexer()
		if err != nil {
			return nil, err
		}
	}
	clock := NewClock()
	dispatch := NewDispatch(demux, cfg.logger)
	sched := NewScheduler(clock)
	dns := NewDNSDriver(clock, dispatch, sched, cfg.nameservers, cfg.logger)
	return &Core{
		clock:    clock,
		demux:    demux,
		dispatch: dispatch,
		sched:    sched,
		dns:      dns,
		logger:   cfg.logger,
	}, nil
}

// Clock exposes the shared Clock, e.g. for components built on top of Core
// that want the same "now" snapshot the loop uses.
func (c *Core) Clock() *Clock { return c.clock }

// Dispatch exposes the shared Dispatch table, so Acceptor/Socket wrappers
// built on top of Core register through the same instance the loop drains.
func (c *Core) Dispatch() *Dispatch { return c.dispatch }

// Scheduler exposes the shared Scheduler for direct Timeout/At/In use.
func (c *Core) Scheduler() *Scheduler { return c.sched }

// DNS exposes the shared DNSDriver for query submission.
func (c *Core) DNS() *DNSDriver { return c.dns }

// Logger returns the SLogger this Core was constructed with.
func (c *Core) Logger() SLogger { return c.logger }

// Run executes one loop turn: Dispatch drains demultiplexer events into
// user handlers, the Scheduler fires due timers, the DNS driver reconciles
// its fds/timeout against the reactor, and the Scheduler runs a second time
// because DNS.run may have just armed or cancelled its own Timeout (spec
// §4.G, §9's note on the double schedule::run call — intentional, not a
// relic). Returns the number of seconds the caller should pass to Wait, or
// 0 when nothing is pending and the caller should stop.
//
// A non-nil error means a socket handler or accepted-connection callback
// raised (spec §7 "Handler failure"); the offending descriptor has already
// been closed, and Run returns immediately without running the Scheduler or
// DNS driver for this turn.
func (c *Core) Run() (int64, error) {
	if err := c.dispatch.run(); err != nil {
		return 0, err
	}
	c.sched.run()
	c.dns.run()
	delay := c.sched.run()
	max := int64(c.demux.MaxTimeout() / time.Second)
	if max > 0 && delay > max {
		delay = max
	}
	return delay, nil
}

// Wait blocks up to seconds inside the Demultiplexer — the single
// suspension point in the whole library (spec §5) — then advances the
// Clock exactly once.
func (c *Core) Wait(seconds int64) error {
	restore := unblockAllSignals()
	defer restore()
	if err := c.demux.Wait(time.Duration(seconds) * time.Second); err != nil {
		return err
	}
	c.clock.update()
	return nil
}

// Empty reports whether the Demultiplexer, Scheduler, and DNS driver are
// all empty — the condition spec §6's driving loop checks.
func (c *Core) Empty() bool {
	return c.demux.Empty() && c.sched.Empty() && c.dns.Empty()
}

// Close releases the Demultiplexer and DNS driver resources. Sockets
// registered through Dispatch are owned by whoever created them and are not
// closed here (spec §5 "shared resource policy"), except for resolver fds,
// which DNS.Close already drops.
func (c *Core) Close() error {
	_ = c.dns.Close()
	return c.demux.Close()
}
