package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	maxHeaderBytes    = 64 * 1024
	maxChunkLineBytes = 4 * 1024
)

var headerEnd = []byte("\r\n\r\n")

type bodyPhase int

const (
	phaseHead bodyPhase = iota
	phaseLength
	phaseUntilClose
	phaseChunkSize
	phaseChunkData
	phaseChunkEnd
	phaseTrailer
	phaseDone
)

// responseReader incrementally parses one HTTP/1.1 response as bytes arrive
// from a non-blocking socket, copying the body into sink.
type responseReader struct {
	sink io.Writer
	req  *http.Request

	head      []byte
	line      []byte
	phase     bodyPhase
	remaining int64

	statusCode int
	keepAlive  bool
	trailing   bool
	written    int64
}

func newResponseReader(req *http.Request, sink io.Writer) *responseReader {
	if sink == nil {
		sink = io.Discard
	}
	return &responseReader{req: req, sink: sink}
}

func (r *responseReader) done() bool { return r.phase == phaseDone }

// reusable reports whether the connection can carry another request.
func (r *responseReader) reusable() bool {
	return r.done() && r.keepAlive && !r.trailing
}

// feed consumes p and reports whether the response is complete.
func (r *responseReader) feed(p []byte) (bool, error) {
	for len(p) > 0 && r.phase != phaseDone {
		var err error
		switch r.phase {
		case phaseHead:
			p, err = r.feedHead(p)
		case phaseLength, phaseChunkData:
			p, err = r.feedCounted(p)
		case phaseUntilClose:
			err = r.write(p)
			p = nil
		case phaseChunkSize:
			p, err = r.feedChunkSize(p)
		case phaseChunkEnd:
			p, err = r.feedChunkEnd(p)
		case phaseTrailer:
			p, err = r.feedTrailer(p)
		}
		if err != nil {
			return false, err
		}
	}
	if r.phase == phaseDone && len(p) > 0 {
		r.trailing = true
	}
	return r.phase == phaseDone, nil
}

// eof is called when the peer closed the connection.
func (r *responseReader) eof() (bool, error) {
	switch r.phase {
	case phaseDone:
		return true, nil
	case phaseUntilClose:
		r.phase = phaseDone
		r.keepAlive = false
		return true, nil
	case phaseHead:
		if len(r.head) == 0 {
			return false, ErrConnectionClosed
		}
		return false, fmt.Errorf("%w: truncated headers", ErrConnectionClosed)
	default:
		return false, fmt.Errorf("%w: truncated body after %d bytes", ErrConnectionClosed, r.written)
	}
}

func (r *responseReader) feedHead(p []byte) ([]byte, error) {
	r.head = append(r.head, p...)
	idx := bytes.Index(r.head, headerEnd)
	if idx < 0 {
		if len(r.head) > maxHeaderBytes {
			return nil, fmt.Errorf("%w: headers exceed %d bytes", ErrMalformedResponse, maxHeaderBytes)
		}
		return nil, nil
	}
	rest := r.head[idx+len(headerEnd):]
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(r.head[:idx+len(headerEnd)])), r.req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	r.head = nil
	code := resp.StatusCode
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		// informational, the real response follows
		return rest, nil
	}
	r.statusCode = code
	r.keepAlive = !resp.Close
	switch {
	case r.req.Method == http.MethodHead, code == http.StatusNoContent, code == http.StatusNotModified:
		r.phase = phaseDone
	case len(resp.TransferEncoding) > 0 && strings.EqualFold(resp.TransferEncoding[len(resp.TransferEncoding)-1], "chunked"):
		r.phase = phaseChunkSize
	case resp.ContentLength >= 0:
		r.remaining = resp.ContentLength
		r.phase = phaseLength
		if r.remaining == 0 {
			r.phase = phaseDone
		}
	default:
		r.keepAlive = false
		r.phase = phaseUntilClose
	}
	return rest, nil
}

func (r *responseReader) feedCounted(p []byte) ([]byte, error) {
	n := int64(len(p))
	if n > r.remaining {
		n = r.remaining
	}
	if err := r.write(p[:n]); err != nil {
		return nil, err
	}
	r.remaining -= n
	if r.remaining == 0 {
		if r.phase == phaseChunkData {
			r.phase = phaseChunkEnd
		} else {
			r.phase = phaseDone
		}
	}
	return p[n:], nil
}

// readLine accumulates bytes up to and including '\n'. It returns the line
// without its terminator once complete.
func (r *responseReader) readLine(p []byte) (line []byte, rest []byte, ok bool, err error) {
	i := bytes.IndexByte(p, '\n')
	if i < 0 {
		r.line = append(r.line, p...)
		if len(r.line) > maxChunkLineBytes {
			return nil, nil, false, fmt.Errorf("%w: chunk line too long", ErrMalformedResponse)
		}
		return nil, nil, false, nil
	}
	r.line = append(r.line, p[:i+1]...)
	line = bytes.TrimRight(r.line, "\r\n")
	r.line = nil
	return line, p[i+1:], true, nil
}

func (r *responseReader) feedChunkSize(p []byte) ([]byte, error) {
	line, rest, ok, err := r.readLine(p)
	if err != nil || !ok {
		return rest, err
	}
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(line)), 16, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: bad chunk size %q", ErrMalformedResponse, line)
	}
	if size == 0 {
		r.phase = phaseTrailer
	} else {
		r.remaining = size
		r.phase = phaseChunkData
	}
	return rest, nil
}

func (r *responseReader) feedChunkEnd(p []byte) ([]byte, error) {
	line, rest, ok, err := r.readLine(p)
	if err != nil || !ok {
		return rest, err
	}
	if len(line) != 0 {
		return nil, fmt.Errorf("%w: missing CRLF after chunk", ErrMalformedResponse)
	}
	r.phase = phaseChunkSize
	return rest, nil
}

func (r *responseReader) feedTrailer(p []byte) ([]byte, error) {
	line, rest, ok, err := r.readLine(p)
	if err != nil || !ok {
		return rest, err
	}
	if len(line) == 0 {
		r.phase = phaseDone
	}
	return rest, nil
}

func (r *responseReader) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := r.sink.Write(p)
	r.written += int64(n)
	if err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}
