// Package engine defines the transfer engine capability the coordinator drives,
// and Multi, a non-blocking HTTP/1.1 implementation of it built directly on
// sockets.
//
// The engine never blocks and never watches descriptors itself. It tells its
// owner which descriptors it needs watched through a SocketFunc, asks for a
// single wake-up through a TimerFunc, and is advanced with Advance whenever one
// of those fires. Finished transfers are collected with Completions.
package engine

import (
	"errors"
	"fmt"
)

// SocketTimeout is passed to Advance instead of a descriptor when the timer
// fired rather than a socket.
const SocketTimeout = -1

// Interest is what the engine wants a descriptor watched for.
type Interest int

const (
	PollIn Interest = iota + 1
	PollOut
	PollInOut
	PollRemove
)

func (i Interest) String() string {
	switch i {
	case PollIn:
		return "in"
	case PollOut:
		return "out"
	case PollInOut:
		return "inout"
	case PollRemove:
		return "remove"
	default:
		return fmt.Sprintf("interest(%d)", int(i))
	}
}

// SocketFunc is called whenever the engine changes its interest in a
// descriptor. socketp is whatever the previous call for the same descriptor
// returned (nil on first contact); the returned value is handed back on the
// next call. owner is nil for descriptors not bound to a transfer.
type SocketFunc func(fd int, what Interest, owner *Transfer, socketp any) (any, error)

// TimerFunc asks for Advance(SocketTimeout, ...) to be called after
// timeoutMillis. A negative value cancels any pending request.
type TimerFunc func(timeoutMillis int)

// Completion is one finished transfer and its outcome snapshot.
type Completion struct {
	Transfer *Transfer
	Outcome  Outcome
}

// Engine is the transfer engine capability.
type Engine interface {
	// Add hands a transfer to the engine. The engine keeps a reference until
	// Remove is called.
	Add(t *Transfer) error
	// Remove detaches a transfer, finished or not, and releases everything the
	// engine holds for it.
	Remove(t *Transfer) error
	// Abort finishes an active transfer with ErrAborted.
	Abort(t *Transfer) error
	// Advance drives the engine for a ready descriptor, or for the timer when
	// fd is SocketTimeout. It returns the number of unfinished transfers.
	Advance(fd int, readable, writable bool) (int, error)
	// Completions returns the transfers finished since the previous call.
	Completions() []Completion
	SetSocketFunc(fn SocketFunc)
	SetTimerFunc(fn TimerFunc)
	Close() error
}

var (
	ErrTimedOut          = errors.New("engine: transfer timed out")
	ErrAborted           = errors.New("engine: transfer aborted")
	ErrUnsupportedScheme = errors.New("engine: unsupported url scheme")
	ErrConnectionClosed  = errors.New("engine: connection closed before response completed")
	ErrMalformedResponse = errors.New("engine: malformed response")
	ErrHTTPStatus        = errors.New("engine: http error status")
	ErrUnknownTransfer   = errors.New("engine: transfer not added")
	ErrAlreadyAdded      = errors.New("engine: transfer already added")
)
