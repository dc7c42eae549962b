package engine

import (
	"io"
	"time"

	"github.com/google/uuid"
)

// State is the coordinator-visible lifecycle of a transfer.
type State int

const (
	Queued State = iota
	Active
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options are per-transfer settings.
type Options struct {
	Timeout        time.Duration // whole transfer, 0 for none
	ConnectTimeout time.Duration // connection establishment, 0 for none
	Verbose        bool          // log transitions at info level
	UserAgent      string
	Headers        map[string]string
	FailOnError    bool // treat HTTP status >= 400 as a transfer failure
}

// Transfer is one logical request/response exchange. It is owned by whoever
// created it and only loaned to the engine between Add and Remove.
type Transfer struct {
	ID      string
	Seq     int
	URL     string
	Sink    io.Writer
	Options Options
	State   State

	job *job
}

func NewTransfer(seq int, url string, sink io.Writer, opts Options) *Transfer {
	return &Transfer{
		ID:      uuid.NewString(),
		Seq:     seq,
		URL:     url,
		Sink:    sink,
		Options: opts,
		State:   Queued,
	}
}

// Reuse points a finished transfer at new work. The transfer must have been
// removed from its engine.
func (t *Transfer) Reuse(seq int, url string, sink io.Writer) {
	t.ID = uuid.NewString()
	t.Seq = seq
	t.URL = url
	t.Sink = sink
	t.State = Queued
}

// Outcome is a copy of a transfer's result taken when it finished. It stays
// valid after the transfer is removed or reused.
type Outcome struct {
	ID           string
	Seq          int
	URL          string
	EffectiveURL string
	StatusCode   int
	Bytes        int64
	Reused       bool
	Started      time.Time
	Finished     time.Time
	Err          error
}

func (o Outcome) Failed() bool { return o.Err != nil }

func (o Outcome) Duration() time.Duration { return o.Finished.Sub(o.Started) }
