package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig holds everything tunable about a run. It can be loaded from a
// YAML file and is then overridden by explicitly set flags.
type RunConfig struct {
	Timeout        time.Duration     `yaml:"timeout"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	MaxConnections int               `yaml:"max_connections"`
	KeepAlive      bool              `yaml:"keep_alive"`
	ConnectRate    float64           `yaml:"connect_rate"`
	UserAgent      string            `yaml:"user_agent"`
	Headers        map[string]string `yaml:"headers"`
	Verbose        bool              `yaml:"verbose"`
	FailOnError    bool              `yaml:"fail_on_error"`
	OutputDir      string            `yaml:"output_dir"`
	Discard        bool              `yaml:"discard"`
	PollInterval   time.Duration     `yaml:"poll_interval"`
	MaxEvents      int               `yaml:"max_events"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		KeepAlive:      true,
		UserAgent:      ToolUserAgent,
		Headers:        map[string]string{},
		PollInterval:   DefaultPollInterval,
		MaxEvents:      DefaultMaxEvents,
	}
}

// LoadRunConfig overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values; unknown keys are an error.
func LoadRunConfig(path string, cfg *RunConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return cfg.Validate()
}

func (c RunConfig) Validate() error {
	switch {
	case c.Timeout < 0:
		return fmt.Errorf("timeout must not be negative")
	case c.ConnectTimeout < 0:
		return fmt.Errorf("connect timeout must not be negative")
	case c.MaxConnections < 0:
		return fmt.Errorf("max connections must not be negative")
	case c.ConnectRate < 0:
		return fmt.Errorf("connect rate must not be negative")
	case c.MaxEvents < 0:
		return fmt.Errorf("max events must not be negative")
	case c.PollInterval < 0:
		return fmt.Errorf("poll interval must not be negative")
	case c.OutputDir != "" && c.Discard:
		return fmt.Errorf("output directory and discard are mutually exclusive")
	}
	return nil
}
