package coordinator

import (
	"context"
	"time"
)

// Run drives the event loop until Done. Cancelling ctx aborts every active
// transfer; they still finish through DrainCompletions so the engine releases
// them, and Run returns nil once the pool is empty.
func (c *Coordinator) Run(ctx context.Context) error {
	poll := int(c.cfg.PollInterval / time.Millisecond)
	for !c.Done() {
		if err := c.checkCancel(ctx); err != nil {
			return err
		}
		if c.Done() {
			break
		}
		wait := poll
		if ms, ok := c.timer.Remaining(); ok && ms < wait {
			wait = ms
		}
		events, err := c.reactor.Wait(c.cfg.MaxEvents, wait)
		if err != nil {
			return &FatalError{Kind: KindReactor, Op: "wait", FD: -1, Err: err}
		}
		for _, ev := range events {
			if err := c.checkCancel(ctx); err != nil {
				return err
			}
			if err := c.dispatch(SocketReady{FD: ev.FD, Readable: ev.Readable, Writable: ev.Writable}); err != nil {
				return err
			}
		}
		if c.timer.Fire() {
			if err := c.dispatch(TimerFired{}); err != nil {
				return err
			}
		}
	}
	c.log.Info().Str("op", "coordinator/run").Int("issued", c.issued).Int("failed", c.stats.Failed).Msg("all transfers finished")
	return nil
}

func (c *Coordinator) dispatch(ev Event) error {
	if err := c.Pump(ev); err != nil {
		return err
	}
	return c.DrainCompletions()
}

func (c *Coordinator) checkCancel(ctx context.Context) error {
	if c.stopping || ctx.Err() == nil {
		return nil
	}
	return c.Abort()
}

// Abort stops issuing new work and finishes every active transfer with an
// aborted outcome.
func (c *Coordinator) Abort() error {
	if c.stopping {
		return nil
	}
	c.stopping = true
	c.target = c.issued
	c.log.Warn().Str("op", "coordinator/abort").Int("active", len(c.active)).Msg("cancelling active transfers")
	for t := range c.active {
		if err := c.engine.Abort(t); err != nil {
			return c.fatalFrom("abort transfer "+t.ID, -1, err)
		}
	}
	return c.DrainCompletions()
}
