package coordinator

import "fmt"

// Kind classifies a fatal error.
type Kind string

const (
	KindRegistry Kind = "registry" // reactor registration bookkeeping broke
	KindEngine   Kind = "engine"   // an engine call itself failed
	KindReactor  Kind = "reactor"  // waiting on the reactor failed
	KindSink     Kind = "sink"     // an output sink could not be opened
)

// FatalError stops a run. Per-transfer failures never produce one; they are
// reported in outcomes.
type FatalError struct {
	Kind Kind
	Op   string
	FD   int // -1 when no descriptor is involved
	Err  error
}

func (e *FatalError) Error() string {
	if e.FD >= 0 {
		return fmt.Sprintf("%s error: %s (fd %d): %v", e.Kind, e.Op, e.FD, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
