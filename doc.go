// Package reactor is a single-threaded, cooperative event loop that
// multiplexes socket readiness, timer firing, and asynchronous DNS lookups
// onto one blocking wait step.
//
// A Core composes a Demultiplexer (epoll/poll/select), a Dispatch table, a
// Scheduler, and a DNS driver. Applications register Sockets, Acceptors,
// Timeouts, and DNS queries against a Core and drive it with:
//
//	for !core.Empty() {
//		seconds, err := core.Run()
//		if err != nil {
//			// a socket handler or accepted-connection callback raised
//		}
//		if seconds == 0 {
//			break
//		}
//		if err := core.Wait(seconds); err != nil {
//			// handle error
//		}
//	}
//
// The library never spawns a goroutine to run callbacks and never blocks
// except inside Core.Wait. Multiple independent Cores are safe to drive
// from separate goroutines; a single Core must only ever be driven from one.
package reactor
