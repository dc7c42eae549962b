//go:build linux

package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/volley/internal/utils"
)

func TestExecuteAgainstLocalServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("X-Run") + ";"))
	}))
	defer srv.Close()

	cfg := utils.DefaultRunConfig()
	cfg.Headers["X-Run"] = "volley"
	cfg.PollInterval = 50 * time.Millisecond

	var stdout bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := execute(ctx, volleyJob{URL: srv.URL + "/", Concurrency: 2, Multiplier: 3, Config: cfg}, &stdout)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Issued)
	assert.Equal(t, 6, summary.Succeeded)
	assert.Equal(t, int64(len("volley;")*6), summary.Bytes)
	assert.Equal(t, 6, strings.Count(stdout.String(), "volley;"))
	assert.Len(t, summary.Outcomes, 6)
}
