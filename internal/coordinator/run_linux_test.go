//go:build linux

package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/volley/internal/engine"
	"github.com/tanq16/volley/internal/reactor"
)

func TestRunAgainstLocalServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		fmt.Fprintf(w, "hit %d\n", n)
	}))
	defer srv.Close()

	ep, err := reactor.New()
	require.NoError(t, err)
	defer ep.Close()
	multi := engine.NewMulti(engine.Config{MaxConnections: 2, KeepAlive: true})
	defer multi.Close()

	var body bytes.Buffer
	c := New(multi, ep, Config{
		Total:        6,
		Options:      engine.Options{Timeout: 5 * time.Second},
		Sinks:        WriterSinks(&body),
		PollInterval: 50 * time.Millisecond,
	})
	require.NoError(t, c.Start(srv.URL+"/", 2))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	s := c.Stats()
	assert.Equal(t, 6, s.Issued)
	assert.Equal(t, 6, s.Succeeded)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, int32(6), hits.Load())
	assert.Equal(t, 6, bytes.Count(body.Bytes(), []byte("hit ")))
	for _, out := range c.Outcomes() {
		assert.Equal(t, http.StatusOK, out.StatusCode)
	}
}

func TestRunRefusedConnectionsAreNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/"
	srv.Close()

	ep, err := reactor.New()
	require.NoError(t, err)
	defer ep.Close()
	multi := engine.NewMulti(engine.Config{})
	defer multi.Close()

	c := New(multi, ep, Config{Total: 3, Options: engine.Options{Timeout: 5 * time.Second}})
	require.NoError(t, c.Start(url, 1))
	require.NoError(t, c.Run(context.Background()))

	s := c.Stats()
	assert.Equal(t, 3, s.Issued)
	assert.Equal(t, 3, s.Failed)
	assert.Equal(t, 0, c.Watched())
}
