package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/volley/internal/utils"
)

func parsedRoot(t *testing.T, args ...string) (*rootFlags, *cobra.Command) {
	t.Helper()
	f := newRootFlags()
	cmd := newRootCmd(f)
	require.NoError(t, cmd.ParseFlags(args))
	return f, cmd
}

func TestParseJob(t *testing.T) {
	job, err := parseJob([]string{"4", "3", "http://a.test/"})
	require.NoError(t, err)
	assert.Equal(t, 4, job.Concurrency)
	assert.Equal(t, 3, job.Multiplier)
	assert.Equal(t, 12, job.total())
	assert.Equal(t, "http://a.test/", job.URL)

	_, err = parseJob([]string{"x", "3", "http://a.test/"})
	assert.ErrorContains(t, err, "concurrency must be an integer")
	_, err = parseJob([]string{"2", "-1", "http://a.test/"})
	assert.ErrorContains(t, err, "multiplier must not be negative")
	_, err = parseJob([]string{"100000", "100000", "http://a.test/"})
	assert.Error(t, err)
}

func TestRunVolleyNeedsThreeArgs(t *testing.T) {
	f, cmd := parsedRoot(t)
	assert.NoError(t, runVolley(cmd, f, nil))
	assert.NoError(t, runVolley(cmd, f, []string{"1", "2"}))
}

func TestRunVolleyZeroCountsDoNothing(t *testing.T) {
	f, cmd := parsedRoot(t)
	assert.NoError(t, runVolley(cmd, f, []string{"0", "5", "http://a.test/"}))
	assert.NoError(t, runVolley(cmd, f, []string{"5", "0", "http://a.test/"}))
}

func TestRunVolleyRejectsBadCounts(t *testing.T) {
	f, cmd := parsedRoot(t)
	assert.Error(t, runVolley(cmd, f, []string{"two", "5", "http://a.test/"}))
}

func TestResolveConfigDefaults(t *testing.T) {
	f, cmd := parsedRoot(t)
	cfg, err := resolveConfig(cmd, f)
	require.NoError(t, err)
	assert.Equal(t, utils.DefaultRunConfig(), cfg)
}

func TestResolveConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volley.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: 2s\nuser_agent: from-file\nmax_events: 4\nheaders:\n  X-File: yes\n"), 0644))

	f, cmd := parsedRoot(t, "--config", path, "--timeout", "7s", "-H", "X-Flag: 1")
	cfg, err := resolveConfig(cmd, f)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Timeout)
	assert.Equal(t, "from-file", cfg.UserAgent)
	assert.Equal(t, 4, cfg.MaxEvents)
	assert.Equal(t, utils.DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, map[string]string{"X-File": "yes", "X-Flag": "1"}, cfg.Headers)
}

func TestResolveConfigRejectsConflicts(t *testing.T) {
	f, cmd := parsedRoot(t, "--discard", "--output-dir", t.TempDir())
	_, err := resolveConfig(cmd, f)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestResolveConfigKeepAliveOff(t *testing.T) {
	f, cmd := parsedRoot(t, "--keep-alive=false")
	cfg, err := resolveConfig(cmd, f)
	require.NoError(t, err)
	assert.False(t, cfg.KeepAlive)
}

func TestSinksFor(t *testing.T) {
	var buf bytes.Buffer
	sinks, err := sinksFor(utils.RunConfig{}, &buf)
	require.NoError(t, err)
	w, err := sinks(1)
	require.NoError(t, err)
	_, err = w.Write([]byte("body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "body", buf.String())

	dir := filepath.Join(t.TempDir(), "bodies")
	sinks, err = sinksFor(utils.RunConfig{OutputDir: dir}, &buf)
	require.NoError(t, err)
	w, err = sinks(3)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.FileExists(t, filepath.Join(dir, "3.download"))

	sinks, err = sinksFor(utils.RunConfig{Discard: true}, &buf)
	require.NoError(t, err)
	w, err = sinks(1)
	require.NoError(t, err)
	_, err = w.Write([]byte("dropped"))
	require.NoError(t, err)
	assert.Equal(t, "body", buf.String())
}

func TestExecuteReportsFatalSinkError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg := utils.DefaultRunConfig()
	cfg.OutputDir = filepath.Join(blocker, "sub")

	_, err := execute(context.Background(), volleyJob{URL: "http://a.test/", Concurrency: 1, Multiplier: 1, Config: cfg}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "error creating output directory")
}
