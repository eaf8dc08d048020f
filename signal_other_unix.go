//go:build unix && !linux

package reactor

// Signal-masking RAII helpers are specified only as a contract (spec §9,
// §1 "out of scope"); non-Linux targets get the contract with a no-op body
// rather than a per-OS Sigset_t layout, since the demux backends here
// (poll, select) don't carry a mask into the wait syscall on every unix
// flavor the way pselect/ppoll would.
func blockAllSignals() (restore func())   { return func() {} }
func unblockAllSignals() (restore func()) { return func() {} }
