package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tanq16/volley/internal/engine"
	"github.com/tanq16/volley/internal/reactor"
)

type fakeStep int

const (
	stepQueued fakeStep = iota
	stepConnecting
	stepSending
	stepReading
	stepDone
)

type fakeXfer struct {
	t       *engine.Transfer
	fd      int
	step    fakeStep
	socketp any
}

// fakeEngine walks every transfer through connect, send and receive, asking
// for write-only, then read-write, then read-only interest, one step per
// readiness event.
type fakeEngine struct {
	socketFn engine.SocketFunc
	timerFn  engine.TimerFunc

	nextFD    int
	xfers     map[*engine.Transfer]*fakeXfer
	byFD      map[int]*fakeXfer
	done      []engine.Completion
	adds      int
	maxActive int
	live      map[int]bool
	handles   map[*engine.Transfer]int

	failSeq    map[int]bool
	addErr     error
	advanceErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		nextFD:  100,
		xfers:   make(map[*engine.Transfer]*fakeXfer),
		byFD:    make(map[int]*fakeXfer),
		live:    make(map[int]bool),
		handles: make(map[*engine.Transfer]int),
		failSeq: make(map[int]bool),
	}
}

func (f *fakeEngine) SetSocketFunc(fn engine.SocketFunc) { f.socketFn = fn }
func (f *fakeEngine) SetTimerFunc(fn engine.TimerFunc)   { f.timerFn = fn }
func (f *fakeEngine) Close() error                       { return nil }

func (f *fakeEngine) Add(t *engine.Transfer) error {
	if f.addErr != nil {
		return f.addErr
	}
	if _, ok := f.xfers[t]; ok {
		return engine.ErrAlreadyAdded
	}
	f.nextFD++
	x := &fakeXfer{t: t, fd: f.nextFD}
	f.xfers[t] = x
	f.byFD[x.fd] = x
	f.adds++
	f.handles[t]++
	f.maxActive = max(f.maxActive, len(f.xfers))
	f.timerFn(0)
	return nil
}

func (f *fakeEngine) interest(x *fakeXfer, what engine.Interest) error {
	p, err := f.socketFn(x.fd, what, x.t, x.socketp)
	if err != nil {
		return fmt.Errorf("fake socket %d: %w", x.fd, err)
	}
	x.socketp = p
	if what == engine.PollRemove {
		delete(f.live, x.fd)
	} else {
		f.live[x.fd] = true
	}
	return nil
}

func (f *fakeEngine) finish(x *fakeXfer, cause error) error {
	x.step = stepDone
	if x.socketp != nil {
		if err := f.interest(x, engine.PollRemove); err != nil {
			return err
		}
	}
	if cause == nil && f.failSeq[x.t.Seq] {
		cause = errors.New("simulated transfer failure")
	}
	f.done = append(f.done, engine.Completion{Transfer: x.t, Outcome: engine.Outcome{
		ID:           x.t.ID,
		Seq:          x.t.Seq,
		URL:          x.t.URL,
		EffectiveURL: x.t.URL,
		StatusCode:   200,
		Bytes:        10,
		Started:      time.Unix(0, 0),
		Finished:     time.Unix(1, 0),
		Err:          cause,
	}})
	return nil
}

func (f *fakeEngine) Remove(t *engine.Transfer) error {
	x, ok := f.xfers[t]
	if !ok {
		return engine.ErrUnknownTransfer
	}
	if x.step != stepDone && x.socketp != nil {
		if err := f.interest(x, engine.PollRemove); err != nil {
			return err
		}
	}
	delete(f.xfers, t)
	delete(f.byFD, x.fd)
	return nil
}

func (f *fakeEngine) Abort(t *engine.Transfer) error {
	x, ok := f.xfers[t]
	if !ok {
		return engine.ErrUnknownTransfer
	}
	if x.step == stepDone {
		return nil
	}
	if err := f.finish(x, engine.ErrAborted); err != nil {
		return err
	}
	f.updateTimer()
	return nil
}

func (f *fakeEngine) sorted() []*fakeXfer {
	out := make([]*fakeXfer, 0, len(f.xfers))
	for _, x := range f.xfers {
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fd < out[j].fd })
	return out
}

func (f *fakeEngine) Advance(fd int, readable, writable bool) (int, error) {
	if f.advanceErr != nil {
		return 0, f.advanceErr
	}
	if fd == engine.SocketTimeout {
		for _, x := range f.sorted() {
			if x.step == stepQueued {
				x.step = stepConnecting
				if err := f.interest(x, engine.PollOut); err != nil {
					return 0, err
				}
			}
		}
	} else if x, ok := f.byFD[fd]; ok {
		var err error
		switch {
		case x.step == stepConnecting && writable:
			x.step = stepSending
			err = f.interest(x, engine.PollInOut)
		case x.step == stepSending && writable:
			x.step = stepReading
			err = f.interest(x, engine.PollIn)
		case x.step == stepReading && readable:
			err = f.finish(x, nil)
		}
		if err != nil {
			return 0, err
		}
	}
	f.updateTimer()
	return f.running(), nil
}

func (f *fakeEngine) updateTimer() {
	for _, x := range f.xfers {
		if x.step == stepQueued {
			f.timerFn(0)
			return
		}
	}
	f.timerFn(-1)
}

func (f *fakeEngine) running() int {
	n := 0
	for _, x := range f.xfers {
		if x.step != stepDone {
			n++
		}
	}
	return n
}

func (f *fakeEngine) Completions() []engine.Completion {
	out := f.done
	f.done = nil
	return out
}

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

// fakeReactor keeps epoll-like registration bookkeeping and reports every
// registered descriptor as ready for exactly its registered directions.
type fakeReactor struct {
	clock   *manualClock
	masks   map[int]reactor.Direction
	calls   map[int][]string
	waits   int
	onWait  func()
	failAdd error
}

func newFakeReactor(clock *manualClock) *fakeReactor {
	return &fakeReactor{clock: clock, masks: make(map[int]reactor.Direction), calls: make(map[int][]string)}
}

func (r *fakeReactor) Register(fd int, dirs reactor.Direction) error {
	if r.failAdd != nil {
		return r.failAdd
	}
	if _, ok := r.masks[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}
	r.masks[fd] = dirs
	r.calls[fd] = append(r.calls[fd], "add "+dirs.String())
	return nil
}

func (r *fakeReactor) Modify(fd int, dirs reactor.Direction) error {
	if _, ok := r.masks[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	r.masks[fd] = dirs
	r.calls[fd] = append(r.calls[fd], "mod "+dirs.String())
	return nil
}

func (r *fakeReactor) Unregister(fd int) error {
	delete(r.masks, fd)
	r.calls[fd] = append(r.calls[fd], "del")
	return nil
}

func (r *fakeReactor) Wait(maxEvents, timeoutMillis int) ([]reactor.Event, error) {
	r.waits++
	if r.onWait != nil {
		r.onWait()
	}
	fds := make([]int, 0, len(r.masks))
	for fd := range r.masks {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	var events []reactor.Event
	for _, fd := range fds {
		if len(events) == maxEvents {
			break
		}
		m := r.masks[fd]
		events = append(events, reactor.Event{FD: fd, Readable: m&reactor.Readable != 0, Writable: m&reactor.Writable != 0})
	}
	if len(events) == 0 && timeoutMillis > 0 {
		r.clock.t = r.clock.t.Add(time.Duration(timeoutMillis) * time.Millisecond)
	}
	return events, nil
}

func (r *fakeReactor) Close() error { return nil }
