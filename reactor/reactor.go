// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface.

package reactor

// EventType is a bit set of readiness conditions.
type EventType uint32

const (
	EventRead EventType = 1 << iota
	EventWrite
	EventError
)

// Event is one readiness notification.
type Event struct {
	Fd     int
	Events EventType
}

// Reactor multiplexes readiness of file descriptors. Register and Unregister
// may be called from any goroutine; Poll from one goroutine at a time.
type Reactor interface {
	// Register adds fd with the given interest set (level triggered).
	Register(fd int, events EventType) error

	// Unregister removes fd. The descriptor itself is left open.
	Unregister(fd int) error

	// Poll waits up to timeoutMs (negative blocks) and fills events. An
	// interrupted wait reports zero events.
	Poll(events []Event, timeoutMs int) (int, error)

	Close() error
}
