package engine

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

type connState int

const (
	connConnecting connState = iota
	connSending
	connReading
	connIdle
	connClosed
)

// conn is one socket, either bound to a job or idle in the keep-alive pool.
type conn struct {
	fd       int
	addr     string
	state    connState
	interest Interest
	socketp  any
	deadline time.Time
	job      *job
	out      []byte
	gotBytes bool
}

const defaultUserAgent = "volley/1.0"

func buildRequest(req *http.Request, opts Options, keepAlive bool) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, req.URL.RequestURI())
	fmt.Fprintf(&b, "Host: %s\r\n", req.URL.Host)
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	fmt.Fprintf(&b, "User-Agent: %s\r\n", ua)
	b.WriteString("Accept: */*\r\n")
	if !keepAlive {
		b.WriteString("Connection: close\r\n")
	}
	keys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, opts.Headers[k])
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (m *Multi) onReady(c *conn, readable, writable bool) error {
	j := c.job
	if j == nil {
		return nil
	}
	if c.state == connConnecting {
		if !readable && !writable {
			return nil
		}
		if err := connectResult(c.fd); err != nil {
			return m.finish(j, fmt.Errorf("connect %s: %w", j.addr, err))
		}
		m.trace(j).Str("op", "engine/connect").Int("fd", c.fd).Msg("connected")
		c.state = connSending
		if err := m.setInterest(c, PollInOut); err != nil {
			return err
		}
		writable = true
	}
	if c.state == connSending && writable {
		if err := m.flush(c); err != nil {
			return err
		}
		if c.job != j {
			return nil
		}
	}
	if readable && (c.state == connSending || c.state == connReading) {
		return m.drain(c)
	}
	return nil
}

// flush writes as much of the pending request as the socket accepts.
func (m *Multi) flush(c *conn) error {
	j := c.job
	for len(c.out) > 0 {
		n, err := writeSocket(c.fd, c.out)
		if err != nil {
			if wouldBlock(err) {
				return nil
			}
			if j.reused && !j.retried && peerReset(err) {
				return m.retry(j, err)
			}
			return m.finish(j, fmt.Errorf("send request: %w", err))
		}
		c.out = c.out[n:]
	}
	c.state = connReading
	m.trace(j).Str("op", "engine/send").Int("fd", c.fd).Msg("request sent")
	return m.setInterest(c, PollIn)
}

// drain reads until the socket would block or the response completes.
func (m *Multi) drain(c *conn) error {
	j := c.job
	for {
		n, err := readSocket(c.fd, m.buf)
		if err != nil {
			if wouldBlock(err) {
				return nil
			}
			if j.reused && !j.retried && !c.gotBytes && peerReset(err) {
				return m.retry(j, err)
			}
			return m.finish(j, fmt.Errorf("read response: %w", err))
		}
		if n == 0 {
			if j.reused && !j.retried && !c.gotBytes {
				return m.retry(j, ErrConnectionClosed)
			}
			done, err := j.resp.eof()
			if err != nil {
				return m.finish(j, err)
			}
			if done {
				return m.finish(j, nil)
			}
			return nil
		}
		c.gotBytes = true
		done, err := j.resp.feed(m.buf[:n])
		if err != nil {
			return m.finish(j, err)
		}
		if done {
			return m.finish(j, nil)
		}
	}
}
