//go:build linux

package reactor

// NewDemultiplexer returns the build-time default Demultiplexer backend.
// On Linux that's epoll; other unix targets default to poll (see
// demux_default_other.go). Callers that need a specific backend regardless
// of GOOS can call NewEpollDemultiplexer / NewPollDemultiplexer /
// NewSelectDemultiplexer directly.
func NewDemultiplexer() (Demultiplexer, error) {
	return NewEpollDemultiplexer()
}
