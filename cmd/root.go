package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/volley/internal/output"
	"github.com/tanq16/volley/internal/utils"
)

var VolleyVersion = "dev"

type rootFlags struct {
	configFile string
	debug      bool
	headers    []string
	run        utils.RunConfig
}

func newRootFlags() *rootFlags {
	return &rootFlags{run: utils.DefaultRunConfig()}
}

func newRootCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volley CONCURRENCY MULTIPLIER URL",
		Short: "Volley keeps CONCURRENCY HTTP transfers in flight until CONCURRENCY x MULTIPLIER are done",
		Long: `Volley issues CONCURRENCY GET requests for URL at once over a single event
loop and reissues every finished slot on the same URL until
CONCURRENCY x MULTIPLIER transfers have completed.`,
		Version:       VolleyVersion,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(f.debug)
			if err := runVolley(cmd, f, args); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "YAML file with run settings (explicit flags take precedence)")
	cmd.Flags().DurationVarP(&f.run.Timeout, "timeout", "t", utils.DefaultTimeout, "Per-transfer timeout (eg. 5s, 1m)")
	cmd.Flags().DurationVar(&f.run.ConnectTimeout, "connect-timeout", utils.DefaultConnectTimeout, "Connect phase timeout")
	cmd.Flags().IntVarP(&f.run.MaxConnections, "max-connections", "m", 0, "Open connection cap (default CONCURRENCY)")
	cmd.Flags().BoolVarP(&f.run.KeepAlive, "keep-alive", "k", true, "Reuse connections between transfers")
	cmd.Flags().Float64Var(&f.run.ConnectRate, "connect-rate", 0, "New connections per second, evenly spaced (0 for unlimited)")
	cmd.Flags().StringVarP(&f.run.UserAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	cmd.Flags().BoolVarP(&f.run.Verbose, "verbose", "v", false, "Log every transfer state change")
	cmd.Flags().BoolVar(&f.run.FailOnError, "fail-on-error", false, "Treat HTTP status 400 and above as a failed transfer")
	cmd.Flags().StringVarP(&f.run.OutputDir, "output-dir", "o", "", "Write each body to DIR/<n>.download instead of stdout")
	cmd.Flags().BoolVarP(&f.run.Discard, "discard", "d", false, "Drop response bodies")
	cmd.Flags().DurationVar(&f.run.PollInterval, "poll-interval", utils.DefaultPollInterval, "Longest wait on the reactor")
	cmd.Flags().IntVar(&f.run.MaxEvents, "max-events", utils.DefaultMaxEvents, "Readiness events taken per wait")

	// flags without shorthand
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	return cmd
}

// resolveConfig layers defaults, the --config file and explicitly set flags,
// in that order.
func resolveConfig(cmd *cobra.Command, f *rootFlags) (utils.RunConfig, error) {
	cfg := utils.DefaultRunConfig()
	if f.configFile != "" {
		if err := utils.LoadRunConfig(f.configFile, &cfg); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("timeout", func() { cfg.Timeout = f.run.Timeout })
	set("connect-timeout", func() { cfg.ConnectTimeout = f.run.ConnectTimeout })
	set("max-connections", func() { cfg.MaxConnections = f.run.MaxConnections })
	set("keep-alive", func() { cfg.KeepAlive = f.run.KeepAlive })
	set("connect-rate", func() { cfg.ConnectRate = f.run.ConnectRate })
	set("user-agent", func() { cfg.UserAgent = f.run.UserAgent })
	set("verbose", func() { cfg.Verbose = f.run.Verbose })
	set("fail-on-error", func() { cfg.FailOnError = f.run.FailOnError })
	set("output-dir", func() { cfg.OutputDir = f.run.OutputDir })
	set("discard", func() { cfg.Discard = f.run.Discard })
	set("poll-interval", func() { cfg.PollInterval = f.run.PollInterval })
	set("max-events", func() { cfg.MaxEvents = f.run.MaxEvents })
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}
	for k, v := range utils.ParseHeaderArgs(f.headers) {
		cfg.Headers[k] = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func Execute() {
	if err := newRootCmd(newRootFlags()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
