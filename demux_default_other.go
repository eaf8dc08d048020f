//go:build !linux && unix

package reactor

// NewDemultiplexer returns the build-time default Demultiplexer backend.
// Non-Linux unix targets default to the portable poll(2) backend.
func NewDemultiplexer() (Demultiplexer, error) {
	return NewPollDemultiplexer()
}
