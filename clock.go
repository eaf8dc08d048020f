package reactor

import (
	"sync"
	"time"
)

// Clock caches the current wall-clock time at microsecond precision (spec
// §4.A). Core.wait calls update exactly once per loop turn, immediately
// after the demultiplexer returns; every other component reads the cached
// snapshot so a single turn never disagrees with itself about "now".
type Clock struct {
	mu   sync.RWMutex
	sec  int64
	usec int32
}

// NewClock returns a Clock already primed with the current time.
func NewClock() *Clock {
	c := &Clock{}
	c.update()
	return c
}

// update refreshes the cached snapshot from the OS. Only Core calls this.
func (c *Clock) update() {
	now := time.Now()
	c.mu.Lock()
	c.sec = now.Unix()
	c.usec = int32(now.Nanosecond() / 1000)
	c.mu.Unlock()
}

// Now returns the cached (seconds, microseconds) snapshot.
func (c *Clock) Now() (sec int64, usec int32) {
	c.mu.RLock()
	sec, usec = c.sec, c.usec
	c.mu.RUnlock()
	return
}

// Time returns the cached snapshot as a time.Time.
func (c *Clock) Time() time.Time {
	sec, usec := c.Now()
	return time.Unix(sec, int64(usec)*1000)
}
