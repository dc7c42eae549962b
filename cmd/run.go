package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/volley/internal/coordinator"
	"github.com/tanq16/volley/internal/engine"
	"github.com/tanq16/volley/internal/output"
	"github.com/tanq16/volley/internal/reactor"
	"github.com/tanq16/volley/internal/utils"
)

// volleyJob is one resolved invocation.
type volleyJob struct {
	URL         string
	Concurrency int
	Multiplier  int
	Config      utils.RunConfig
}

func (j volleyJob) total() int { return j.Concurrency * j.Multiplier }

func runVolley(cmd *cobra.Command, f *rootFlags, args []string) error {
	log := utils.GetLogger("cli")
	if len(args) < 3 {
		log.Debug().Int("args", len(args)).Msg("nothing to do without CONCURRENCY MULTIPLIER URL")
		return nil
	}
	job, err := parseJob(args)
	if err != nil {
		return err
	}
	if job.Concurrency == 0 || job.Multiplier == 0 {
		log.Info().Int("concurrency", job.Concurrency).Int("multiplier", job.Multiplier).Msg("zero transfers requested")
		return nil
	}
	if job.Config, err = resolveConfig(cmd, f); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdout := bufio.NewWriter(os.Stdout)
	summary, err := execute(ctx, job, stdout)
	if ferr := stdout.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("error writing stdout: %w", ferr)
	}
	if summary.Issued > 0 {
		output.ShowSummary(summary)
	}
	if ctx.Err() != nil {
		output.PrintWarning("Run interrupted, active transfers were aborted")
	}
	var fe *coordinator.FatalError
	if errors.As(err, &fe) {
		log.Error().Str("kind", string(fe.Kind)).Str("op", fe.Op).Int("fd", fe.FD).Err(fe.Err).Msg("run stopped")
	}
	return err
}

func parseJob(args []string) (volleyJob, error) {
	concurrency, err := utils.ParseCount("concurrency", args[0])
	if err != nil {
		return volleyJob{}, err
	}
	multiplier, err := utils.ParseCount("multiplier", args[1])
	if err != nil {
		return volleyJob{}, err
	}
	if concurrency > 0 && multiplier > math.MaxInt32/concurrency {
		return volleyJob{}, fmt.Errorf("concurrency x multiplier is too large")
	}
	return volleyJob{URL: args[2], Concurrency: concurrency, Multiplier: multiplier}, nil
}

func sinksFor(cfg utils.RunConfig, stdout io.Writer) (coordinator.SinkFactory, error) {
	switch {
	case cfg.Discard:
		return coordinator.DiscardSinks, nil
	case cfg.OutputDir != "":
		return coordinator.DirSinks(cfg.OutputDir)
	default:
		return coordinator.WriterSinks(stdout), nil
	}
}

// execute builds the reactor, engine and coordinator for job and runs them to
// completion. The summary is filled in even when a fatal error stops the run.
func execute(ctx context.Context, job volleyJob, stdout io.Writer) (output.Summary, error) {
	cfg := job.Config
	summary := output.Summary{URL: job.URL}
	sinks, err := sinksFor(cfg, stdout)
	if err != nil {
		return summary, err
	}
	r, err := reactor.New()
	if err != nil {
		return summary, fmt.Errorf("error creating reactor: %w", err)
	}
	defer r.Close()

	maxConns := cfg.MaxConnections
	if maxConns == 0 {
		maxConns = job.Concurrency
	}
	multi := engine.NewMulti(engine.Config{
		MaxConnections: maxConns,
		KeepAlive:      cfg.KeepAlive,
		ConnectRate:    cfg.ConnectRate,
	})
	defer multi.Close()

	c := coordinator.New(multi, r, coordinator.Config{
		Total: job.total(),
		Options: engine.Options{
			Timeout:        cfg.Timeout,
			ConnectTimeout: cfg.ConnectTimeout,
			Verbose:        cfg.Verbose,
			UserAgent:      cfg.UserAgent,
			Headers:        cfg.Headers,
			FailOnError:    cfg.FailOnError,
		},
		Sinks:        sinks,
		MaxEvents:    cfg.MaxEvents,
		PollInterval: cfg.PollInterval,
	})

	start := time.Now()
	err = c.Start(job.URL, job.Concurrency)
	if err == nil {
		err = c.Run(ctx)
	}
	stats := c.Stats()
	summary.Issued = stats.Issued
	summary.Succeeded = stats.Succeeded
	summary.Failed = stats.Failed
	summary.Bytes = stats.Bytes
	summary.Elapsed = time.Since(start)
	summary.Outcomes = c.Outcomes()
	return summary, err
}
