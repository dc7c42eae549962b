// Package coordinator owns the pool of active transfers. It pumps the engine
// on socket readiness and timer expiry, drains finished transfers, and
// recycles their slots onto the repeat URL until the target total is issued.
//
// A Coordinator is single threaded: Pump, DrainCompletions and Run must be
// called from one goroutine, which also owns the engine, the registry and the
// timer.
package coordinator

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/volley/internal/engine"
	"github.com/tanq16/volley/internal/reactor"
	"github.com/tanq16/volley/internal/registry"
	"github.com/tanq16/volley/internal/timer"
	"github.com/tanq16/volley/internal/utils"
)

const (
	DefaultMaxEvents    = 10
	DefaultPollInterval = 500 * time.Millisecond
)

// SinkFactory opens the body sink for the seq-th issued transfer.
type SinkFactory func(seq int) (io.WriteCloser, error)

type Config struct {
	// Total is the number of transfers to issue over the run. When it is
	// below the count passed to Start, the Start count is used.
	Total        int
	Options      engine.Options
	Sinks        SinkFactory
	MaxEvents    int
	PollInterval time.Duration
	Now          func() time.Time
}

// Stats summarises a run so far.
type Stats struct {
	Issued    int
	Active    int
	Succeeded int
	Failed    int
	Bytes     int64
}

type Coordinator struct {
	cfg      Config
	engine   engine.Engine
	reactor  reactor.Reactor
	registry *registry.Registry
	timer    *timer.Timer
	log      zerolog.Logger

	repeatURL string
	active    map[*engine.Transfer]io.WriteCloser
	issued    int
	target    int
	stopping  bool
	outcomes  []engine.Outcome
	stats     Stats
	fatal     *FatalError
}

func New(eng engine.Engine, r reactor.Reactor, cfg Config) *Coordinator {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sinks == nil {
		cfg.Sinks = DiscardSinks
	}
	c := &Coordinator{
		cfg:      cfg,
		engine:   eng,
		reactor:  r,
		registry: registry.New(r),
		timer:    timer.New(cfg.Now),
		log:      utils.GetLogger("coordinator"),
		active:   make(map[*engine.Transfer]io.WriteCloser),
	}
	eng.SetSocketFunc(c.onSocketInterest)
	eng.SetTimerFunc(c.timer.Arm)
	return c
}

// onSocketInterest is the engine's socket callback. Registry failures are
// remembered so the pump that triggered them reports a registry error even if
// the engine wraps it.
func (c *Coordinator) onSocketInterest(fd int, what engine.Interest, owner *engine.Transfer, socketp any) (any, error) {
	prior, _ := socketp.(*registry.Entry)
	id := ""
	if owner != nil {
		id = owner.ID
	}
	entry, err := c.registry.OnSocketInterest(fd, what, id, prior)
	if err != nil {
		c.fatal = &FatalError{Kind: KindRegistry, Op: "socket interest " + what.String(), FD: fd, Err: err}
		return nil, c.fatal
	}
	if entry == nil {
		return nil, nil
	}
	return entry, nil
}

// Start issues count transfers for url at once.
func (c *Coordinator) Start(url string, count int) error {
	c.repeatURL = url
	if count <= 0 {
		c.target = c.issued
		return nil
	}
	c.target = max(count, c.cfg.Total)
	for i := 0; i < count; i++ {
		seq := c.issued + 1
		sink, err := c.cfg.Sinks(seq)
		if err != nil {
			return &FatalError{Kind: KindSink, Op: fmt.Sprintf("open sink %d", seq), FD: -1, Err: err}
		}
		t := engine.NewTransfer(seq, url, sink, c.cfg.Options)
		if err := c.add(t, sink); err != nil {
			return err
		}
	}
	c.log.Info().Str("op", "coordinator/start").Str("url", url).Int("concurrency", count).Int("total", c.target).Msg("transfers issued")
	return nil
}

func (c *Coordinator) add(t *engine.Transfer, sink io.WriteCloser) error {
	if err := c.engine.Add(t); err != nil {
		sink.Close()
		return c.fatalFrom("add transfer "+t.ID, -1, err)
	}
	t.State = engine.Active
	c.active[t] = sink
	c.issued++
	return nil
}

// Pump advances the engine for one event.
func (c *Coordinator) Pump(ev Event) error {
	fd, readable, writable := engine.SocketTimeout, false, false
	switch e := ev.(type) {
	case SocketReady:
		if e.FD < 0 {
			return fmt.Errorf("coordinator: socket event with invalid fd %d", e.FD)
		}
		fd, readable, writable = e.FD, e.Readable, e.Writable
	case TimerFired:
	default:
		return fmt.Errorf("coordinator: unknown event %T", ev)
	}
	c.fatal = nil
	if _, err := c.engine.Advance(fd, readable, writable); err != nil {
		return c.fatalFrom("advance", fd, err)
	}
	return nil
}

// DrainCompletions records every finished transfer, releases it from the
// engine and, while the target allows, reissues the slot on the repeat URL.
func (c *Coordinator) DrainCompletions() error {
	for _, done := range c.engine.Completions() {
		t, out := done.Transfer, done.Outcome
		sink := c.active[t]
		if err := c.engine.Remove(t); err != nil {
			return c.fatalFrom("remove transfer "+out.ID, -1, err)
		}
		delete(c.active, t)
		if sink != nil {
			if err := sink.Close(); err != nil && out.Err == nil {
				out.Err = fmt.Errorf("close sink: %w", err)
			}
		}
		c.record(t, out)

		if c.stopping || c.issued >= c.target {
			continue
		}
		seq := c.issued + 1
		next, err := c.cfg.Sinks(seq)
		if err != nil {
			return &FatalError{Kind: KindSink, Op: fmt.Sprintf("open sink %d", seq), FD: -1, Err: err}
		}
		t.Reuse(seq, c.repeatURL, next)
		if err := c.add(t, next); err != nil {
			return err
		}
		c.log.Debug().Str("op", "coordinator/recycle").Int("seq", seq).Str("transfer", t.ID).Msg("slot reissued")
	}
	return nil
}

func (c *Coordinator) record(t *engine.Transfer, out engine.Outcome) {
	c.outcomes = append(c.outcomes, out)
	c.stats.Bytes += out.Bytes
	if out.Failed() {
		t.State = engine.Failed
		c.stats.Failed++
		c.log.Warn().Str("op", "coordinator/done").Int("seq", out.Seq).Str("url", out.EffectiveURL).Err(out.Err).Msg("transfer failed")
		return
	}
	t.State = engine.Completed
	c.stats.Succeeded++
	c.log.Info().Str("op", "coordinator/done").Int("seq", out.Seq).Str("url", out.EffectiveURL).
		Int("status", out.StatusCode).Int64("bytes", out.Bytes).Dur("took", out.Duration()).Msg("transfer done")
}

// fatalFrom classifies an error returned by an engine call. A registry failure
// raised inside the call keeps its own classification.
func (c *Coordinator) fatalFrom(op string, fd int, err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe
	}
	if c.fatal != nil {
		return c.fatal
	}
	return &FatalError{Kind: KindEngine, Op: op, FD: fd, Err: err}
}

// Done reports the termination condition: nothing active, no timer pending
// and the target total issued.
func (c *Coordinator) Done() bool {
	return len(c.active) == 0 && !c.timer.Pending() && c.issued >= c.target
}

func (c *Coordinator) Stats() Stats {
	s := c.stats
	s.Issued = c.issued
	s.Active = len(c.active)
	return s
}

// Outcomes returns every recorded outcome in completion order.
func (c *Coordinator) Outcomes() []engine.Outcome {
	return append([]engine.Outcome(nil), c.outcomes...)
}

// Watched is the number of descriptors currently registered with the reactor.
func (c *Coordinator) Watched() int { return c.registry.Len() }
