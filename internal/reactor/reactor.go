// Package reactor wraps the operating system readiness facility used to watch
// transfer sockets. It holds no coordination logic: callers register interest
// and collect readiness events.
package reactor

import "strings"

// Direction is a set of readiness directions a descriptor is watched for.
type Direction uint8

const (
	Readable Direction = 1 << iota
	Writable

	ReadWrite = Readable | Writable
)

func (d Direction) String() string {
	var parts []string
	if d&Readable != 0 {
		parts = append(parts, "in")
	}
	if d&Writable != 0 {
		parts = append(parts, "out")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event reports one ready descriptor.
type Event struct {
	FD       int
	Readable bool
	Writable bool
}

// Reactor is the readiness notification primitive.
type Reactor interface {
	// Register starts watching fd for dirs.
	Register(fd int, dirs Direction) error
	// Modify replaces the watched directions of an already registered fd.
	Modify(fd int, dirs Direction) error
	// Unregister stops watching fd. Unknown descriptors are not an error.
	Unregister(fd int) error
	// Wait blocks for up to timeoutMillis (negative blocks indefinitely) and
	// returns at most maxEvents ready descriptors. A pure timeout returns an
	// empty slice.
	Wait(maxEvents, timeoutMillis int) ([]Event, error)
	Close() error
}
