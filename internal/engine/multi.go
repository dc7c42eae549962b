package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tanq16/volley/internal/utils"
	"golang.org/x/time/rate"
)

const (
	readBufferSize  = 64 * 1024
	resolverTimeout = 10 * time.Second
)

// Config tunes a Multi engine.
type Config struct {
	// MaxConnections caps open sockets, idle keep-alive ones included.
	// Zero means unlimited.
	MaxConnections int
	// KeepAlive parks finished connections for reuse by later transfers to
	// the same host and port.
	KeepAlive bool
	// ConnectRate limits new connections per second, spaced evenly with no
	// burst. Zero means unlimited.
	ConnectRate float64
	// Resolve looks up a host name. Defaults to the system resolver.
	Resolve func(ctx context.Context, host string) ([]net.IP, error)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Multi drives many HTTP/1.1 transfers over non-blocking sockets. It is not
// safe for concurrent use; everything happens on the caller's goroutine.
type Multi struct {
	cfg     Config
	log     zerolog.Logger
	limiter *rate.Limiter

	socketFn SocketFunc
	timerFn  TimerFunc

	jobs      []*job
	queue     []*job
	conns     map[int]*conn
	idle      map[string][]*conn
	openConns int
	done      []Completion
	buf       []byte
}

var _ Engine = (*Multi)(nil)

func NewMulti(cfg Config) *Multi {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Resolve == nil {
		cfg.Resolve = resolveSystem
	}
	m := &Multi{
		cfg:   cfg,
		log:   utils.GetLogger("engine"),
		conns: make(map[int]*conn),
		idle:  make(map[string][]*conn),
		buf:   make([]byte, readBufferSize),
	}
	if cfg.ConnectRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.ConnectRate), 1)
	}
	return m
}

func resolveSystem(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func (m *Multi) SetSocketFunc(fn SocketFunc) { m.socketFn = fn }

func (m *Multi) SetTimerFunc(fn TimerFunc) { m.timerFn = fn }

// job is the engine-private state of an added transfer.
type job struct {
	t        *Transfer
	req      *http.Request
	addr     string
	host     string
	port     int
	conn     *conn
	resp     *responseReader
	err      error
	started  time.Time
	deadline time.Time
	retried  bool
	reused   bool
	finished bool
}

func (m *Multi) Add(t *Transfer) error {
	if t.job != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyAdded, t.ID)
	}
	now := m.cfg.Now()
	j := &job{t: t, started: now}
	if t.Options.Timeout > 0 {
		j.deadline = now.Add(t.Options.Timeout)
	}
	j.err = j.prepare()
	t.job = j
	m.jobs = append(m.jobs, j)
	m.queue = append(m.queue, j)
	m.trace(j).Str("op", "engine/add").Str("url", t.URL).Msg("transfer queued")
	m.updateTimer()
	return nil
}

// prepare validates the URL and builds the request. A failure here is a
// transfer error reported on the next pump, not an engine error.
func (j *job) prepare() error {
	u, err := url.Parse(j.t.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("parse url: missing host in %q", j.t.URL)
	}
	port := 80
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("parse url: bad port %q", p)
		}
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	j.req = req
	j.host = u.Hostname()
	j.port = port
	j.addr = net.JoinHostPort(j.host, strconv.Itoa(port))
	return nil
}

func (m *Multi) Remove(t *Transfer) error {
	j := t.job
	if j == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, t.ID)
	}
	if !j.finished {
		m.dequeue(j)
		if j.conn != nil {
			if err := m.closeConn(j.conn); err != nil {
				return err
			}
			j.conn = nil
		}
		j.finished = true
	}
	for i, cur := range m.jobs {
		if cur == j {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			break
		}
	}
	pending := m.done[:0]
	for _, c := range m.done {
		if c.Transfer != t {
			pending = append(pending, c)
		}
	}
	m.done = pending
	t.job = nil
	m.updateTimer()
	return nil
}

func (m *Multi) Abort(t *Transfer) error {
	j := t.job
	if j == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, t.ID)
	}
	if j.finished {
		return nil
	}
	if err := m.finish(j, ErrAborted); err != nil {
		return err
	}
	m.updateTimer()
	return nil
}

func (m *Multi) Advance(fd int, readable, writable bool) (int, error) {
	var err error
	if fd == SocketTimeout {
		err = m.onTimeout(m.cfg.Now())
	} else if c, ok := m.conns[fd]; ok {
		err = m.onReady(c, readable, writable)
	} else {
		m.log.Debug().Str("op", "engine/advance").Int("fd", fd).Msg("event for unknown descriptor")
	}
	m.updateTimer()
	return m.running(), err
}

func (m *Multi) Completions() []Completion {
	out := m.done
	m.done = nil
	return out
}

// Close releases every socket the engine still holds.
func (m *Multi) Close() error {
	var firstErr error
	for _, c := range m.conns {
		if err := m.closeConn(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for addr, list := range m.idle {
		for _, c := range list {
			if err := m.closeConn(c); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(m.idle, addr)
	}
	return firstErr
}

func (m *Multi) running() int {
	n := 0
	for _, j := range m.jobs {
		if !j.finished {
			n++
		}
	}
	return n
}

func (m *Multi) trace(j *job) *zerolog.Event {
	var ev *zerolog.Event
	if j.t.Options.Verbose {
		ev = m.log.Info()
	} else {
		ev = m.log.Debug()
	}
	return ev.Str("transfer", j.t.ID).Int("seq", j.t.Seq)
}

func (m *Multi) onTimeout(now time.Time) error {
	for _, j := range append([]*job(nil), m.jobs...) {
		if j.finished {
			continue
		}
		if !j.deadline.IsZero() && !now.Before(j.deadline) {
			if err := m.finish(j, ErrTimedOut); err != nil {
				return err
			}
			continue
		}
		if c := j.conn; c != nil && c.state == connConnecting && !c.deadline.IsZero() && !now.Before(c.deadline) {
			if err := m.finish(j, fmt.Errorf("%w: connecting to %s", ErrTimedOut, j.addr)); err != nil {
				return err
			}
		}
	}
	return m.startQueued(now)
}

// startQueued moves queued transfers onto connections while the connection
// cap and rate limit allow.
func (m *Multi) startQueued(now time.Time) error {
	for len(m.queue) > 0 {
		j := m.queue[0]
		if j.err != nil {
			m.queue = m.queue[1:]
			if err := m.finish(j, j.err); err != nil {
				return err
			}
			continue
		}
		c := m.takeIdle(j.addr)
		if c == nil {
			ok, err := m.canOpen()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if m.limiter != nil && !m.limiter.AllowN(now, 1) {
				return nil
			}
			c, err = m.dial(j, now)
			if err != nil {
				m.queue = m.queue[1:]
				if err := m.finish(j, err); err != nil {
					return err
				}
				continue
			}
		}
		m.queue = m.queue[1:]
		if err := m.attach(j, c); err != nil {
			return err
		}
	}
	return nil
}

// canOpen reports whether a new socket may be opened, evicting an idle
// keep-alive connection to make room if needed.
func (m *Multi) canOpen() (bool, error) {
	if m.cfg.MaxConnections <= 0 || m.openConns < m.cfg.MaxConnections {
		return true, nil
	}
	for addr, list := range m.idle {
		if len(list) == 0 {
			continue
		}
		c := list[0]
		m.idle[addr] = list[1:]
		if err := m.closeConn(c); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (m *Multi) takeIdle(addr string) *conn {
	list := m.idle[addr]
	if len(list) == 0 {
		return nil
	}
	c := list[len(list)-1]
	m.idle[addr] = list[:len(list)-1]
	return c
}

// resolveBudget bounds a name lookup by the transfer's own timeouts.
func (j *job) resolveBudget(now time.Time) time.Duration {
	budget := resolverTimeout
	if d := j.t.Options.ConnectTimeout; d > 0 {
		budget = min(budget, d)
	}
	if !j.deadline.IsZero() {
		budget = min(budget, j.deadline.Sub(now))
	}
	return budget
}

func (m *Multi) dial(j *job, now time.Time) (*conn, error) {
	budget := j.resolveBudget(now)
	if budget <= 0 {
		return nil, fmt.Errorf("%w: resolving %s", ErrTimedOut, j.host)
	}
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	ips, err := m.cfg.Resolve(ctx, j.host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: resolving %s: %v", ErrTimedOut, j.host, err)
		}
		return nil, fmt.Errorf("resolve %s: %w", j.host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", j.host)
	}
	ip := ips[0]
	for _, cand := range ips {
		if cand.To4() != nil {
			ip = cand
			break
		}
	}
	fd, err := connectNonBlocking(ip, j.port)
	if err != nil {
		return nil, err
	}
	m.openConns++
	c := &conn{fd: fd, addr: j.addr, state: connConnecting}
	if d := j.t.Options.ConnectTimeout; d > 0 {
		c.deadline = m.cfg.Now().Add(d)
	}
	m.log.Debug().Str("op", "engine/dial").Int("fd", fd).Str("addr", j.addr).Msg("connecting")
	return c, nil
}

func (m *Multi) attach(j *job, c *conn) error {
	c.job = j
	c.gotBytes = false
	c.out = buildRequest(j.req, j.t.Options, m.cfg.KeepAlive)
	j.conn = c
	j.resp = newResponseReader(j.req, j.t.Sink)
	j.reused = c.state == connIdle
	m.conns[c.fd] = c
	want := PollOut
	if c.state == connIdle {
		c.state = connSending
		want = PollInOut
	}
	m.trace(j).Str("op", "engine/attach").Int("fd", c.fd).Bool("reused", j.reused).Msg("transfer bound to connection")
	return m.setInterest(c, want)
}

func (m *Multi) setInterest(c *conn, what Interest) error {
	if what != PollRemove && c.interest == what {
		return nil
	}
	if what == PollRemove && c.interest == 0 {
		return nil
	}
	var owner *Transfer
	if c.job != nil {
		owner = c.job.t
	}
	if m.socketFn != nil {
		p, err := m.socketFn(c.fd, what, owner, c.socketp)
		if err != nil {
			return fmt.Errorf("socket interest %s on fd %d: %w", what, c.fd, err)
		}
		c.socketp = p
	}
	if what == PollRemove {
		c.interest = 0
		c.socketp = nil
	} else {
		c.interest = what
	}
	return nil
}

func (m *Multi) closeConn(c *conn) error {
	err := m.setInterest(c, PollRemove)
	delete(m.conns, c.fd)
	if c.state != connClosed {
		closeSocket(c.fd)
		c.state = connClosed
		m.openConns--
	}
	c.job = nil
	return err
}

func (m *Multi) park(c *conn) error {
	err := m.setInterest(c, PollRemove)
	delete(m.conns, c.fd)
	c.job = nil
	c.state = connIdle
	m.idle[c.addr] = append(m.idle[c.addr], c)
	return err
}

func (m *Multi) dequeue(j *job) {
	for i, q := range m.queue {
		if q == j {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// retry puts a transfer whose reused connection died before answering back
// at the head of the queue, to be sent again on a fresh connection.
func (m *Multi) retry(j *job, cause error) error {
	m.trace(j).Str("op", "engine/retry").Err(cause).Msg("reused connection dropped, retrying")
	c := j.conn
	j.conn = nil
	j.retried = true
	if err := m.closeConn(c); err != nil {
		return err
	}
	m.queue = append([]*job{j}, m.queue...)
	return nil
}

// finish completes a transfer, releases or parks its connection and records
// an outcome snapshot.
func (m *Multi) finish(j *job, cause error) error {
	if j.finished {
		return nil
	}
	j.finished = true
	m.dequeue(j)
	finished := m.cfg.Now()
	if cause == nil && !j.deadline.IsZero() && !finished.Before(j.deadline) {
		cause = fmt.Errorf("%w: finished %s past deadline", ErrTimedOut, finished.Sub(j.deadline).Round(time.Millisecond))
	}
	var connErr error
	if c := j.conn; c != nil {
		j.conn = nil
		if cause == nil && m.cfg.KeepAlive && j.resp.reusable() {
			connErr = m.park(c)
		} else {
			connErr = m.closeConn(c)
		}
	}
	out := Outcome{
		ID:           j.t.ID,
		Seq:          j.t.Seq,
		URL:          j.t.URL,
		EffectiveURL: j.t.URL,
		Reused:       j.reused,
		Started:      j.started,
		Finished:     finished,
		Err:          cause,
	}
	if j.req != nil {
		out.EffectiveURL = j.req.URL.String()
	}
	if j.resp != nil {
		out.StatusCode = j.resp.statusCode
		out.Bytes = j.resp.written
		if cause == nil && j.t.Options.FailOnError && out.StatusCode >= 400 {
			out.Err = fmt.Errorf("%w: %d", ErrHTTPStatus, out.StatusCode)
		}
	}
	ev := m.trace(j).Str("op", "engine/finish").Int("status", out.StatusCode).Int64("bytes", out.Bytes)
	if out.Err != nil {
		ev = ev.Err(out.Err)
	}
	ev.Msg("transfer finished")
	m.done = append(m.done, Completion{Transfer: j.t, Outcome: out})
	return connErr
}

// updateTimer asks for the next wake-up: immediately when queued work can
// start, otherwise at the nearest deadline or rate limiter slot.
func (m *Multi) updateTimer() {
	if m.timerFn == nil {
		return
	}
	now := m.cfg.Now()
	next := time.Duration(-1)
	consider := func(d time.Duration) {
		if d < 0 {
			d = 0
		}
		if next < 0 || d < next {
			next = d
		}
	}
	if len(m.queue) > 0 {
		head := m.queue[0]
		switch {
		case head.err != nil, len(m.idle[head.addr]) > 0:
			consider(0)
		case m.roomForConn():
			consider(m.limiterDelay(now))
		}
	}
	for _, j := range m.jobs {
		if j.finished {
			continue
		}
		if !j.deadline.IsZero() {
			consider(j.deadline.Sub(now))
		}
		if c := j.conn; c != nil && c.state == connConnecting && !c.deadline.IsZero() {
			consider(c.deadline.Sub(now))
		}
	}
	if next < 0 {
		m.timerFn(-1)
		return
	}
	m.timerFn(int((next + time.Millisecond - 1) / time.Millisecond))
}

func (m *Multi) roomForConn() bool {
	if m.cfg.MaxConnections <= 0 || m.openConns < m.cfg.MaxConnections {
		return true
	}
	for _, list := range m.idle {
		if len(list) > 0 {
			return true
		}
	}
	return false
}

func (m *Multi) limiterDelay(now time.Time) time.Duration {
	if m.limiter == nil {
		return 0
	}
	tokens := m.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(m.limiter.Limit()) * float64(time.Second))
}
