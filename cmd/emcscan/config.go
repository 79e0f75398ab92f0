package main

import (
	"errors"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.jpl.nasa.gov/bdube/emcscan/scpi"
	"github.jpl.nasa.gov/bdube/emcscan/util"
)

const (
	// RigolVID is the Rigol vendor ID
	RigolVID = 0x1ab1

	// DSA800PID is the product ID of the DSA800 series spectrum analyzers
	DSA800PID = 0x0960

	// EnvPrefix marks environment variables that override the config file
	EnvPrefix = "EMCSCAN_"
)

// Config holds the instrument and scan settings.  Times are in seconds.
type Config struct {
	// VID and PID select the USB device
	VID uint16 `koanf:"vid" yaml:"vid"`
	PID uint16 `koanf:"pid" yaml:"pid"`

	// Terminator is the read termination character, empty to disable
	Terminator string `koanf:"terminator" yaml:"terminator"`

	// Timeout is the normal response timeout
	Timeout float64 `koanf:"timeout" yaml:"timeout"`

	// IdentifyTimeout bounds *IDN? while connecting
	IdentifyTimeout float64 `koanf:"identifytimeout" yaml:"identifytimeout"`

	// RetryInterval is the pause between connection attempts
	RetryInterval float64 `koanf:"retryinterval" yaml:"retryinterval"`

	// MaxOpenAttempts bounds connection attempts, 0 retries forever
	MaxOpenAttempts int `koanf:"maxopenattempts" yaml:"maxopenattempts"`

	// OpenDeadline bounds the time spent connecting, 0 waits forever
	OpenDeadline float64 `koanf:"opendeadline" yaml:"opendeadline"`

	// PollInterval paces the sweep completion poll
	PollInterval float64 `koanf:"pollinterval" yaml:"pollinterval"`

	// Calibrate runs :CAL:ALL before the scan so it cannot interrupt it
	Calibrate bool `koanf:"calibrate" yaml:"calibrate"`

	// Traces are the trace numbers written to the CSV
	Traces []int `koanf:"traces" yaml:"traces"`

	// LogLevel is debug, info, warn or error
	LogLevel string `koanf:"loglevel" yaml:"loglevel"`

	// LogFormat is console or json
	LogFormat string `koanf:"logformat" yaml:"logformat"`
}

// DefaultConfig is used for any value not in the config file or environment
func DefaultConfig() Config {
	return Config{
		VID:             RigolVID,
		PID:             DSA800PID,
		Terminator:      "\n",
		Timeout:         scpi.DefaultTimeout.Seconds(),
		IdentifyTimeout: scpi.DefaultIdentifyTimeout.Seconds(),
		RetryInterval:   scpi.DefaultRetryInterval.Seconds(),
		PollInterval:    1,
		Calibrate:       true,
		Traces:          []int{1, 2},
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// loadConfig layers the defaults, the yaml file at path and the environment.
// A missing file is not an error.
func loadConfig(k *koanf.Koanf, path string) error {
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			errtxt := err.Error()
			if !strings.Contains(errtxt, "no such") { // file missing, who cares
				return err
			}
		}
	}
	return k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
}

func (c Config) validate() error {
	if len(c.Traces) == 0 {
		return errors.New("config: no traces to export")
	}
	if c.Timeout <= 0 {
		return errors.New("config: timeout must be positive")
	}
	if len(c.Terminator) > 1 {
		return errors.New("config: terminator must be a single byte")
	}
	return nil
}

// terminator returns the read terminator, nil if disabled
func (c Config) terminator() *byte {
	if c.Terminator == "" {
		return nil
	}
	b := c.Terminator[0]
	return &b
}

// sessionOptions maps the config onto scpi.Options
func (c Config) sessionOptions() scpi.Options {
	return scpi.Options{
		Timeout:         util.SecsToDuration(c.Timeout),
		IdentifyTimeout: util.SecsToDuration(c.IdentifyTimeout),
		RetryInterval:   util.SecsToDuration(c.RetryInterval),
		MaxAttempts:     c.MaxOpenAttempts,
		Deadline:        util.SecsToDuration(c.OpenDeadline),
	}
}

func (c Config) pollInterval() time.Duration {
	return util.SecsToDuration(c.PollInterval)
}
