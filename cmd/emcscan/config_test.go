package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/emcscan/scpi"
)

func load(t *testing.T, path string) Config {
	t.Helper()
	kk := koanf.New(".")
	require.NoError(t, loadConfig(kk, path))
	c := Config{}
	require.NoError(t, kk.Unmarshal("", &c))
	return c
}

func TestDefaultsWhenFileMissing(t *testing.T) {
	c := load(t, filepath.Join(t.TempDir(), "absent.yml"))
	assert.Equal(t, uint16(RigolVID), c.VID)
	assert.Equal(t, uint16(DSA800PID), c.PID)
	assert.Equal(t, []int{1, 2}, c.Traces)
	assert.True(t, c.Calibrate)
	require.NoError(t, c.validate())

	opts := c.sessionOptions()
	assert.Equal(t, scpi.DefaultTimeout, opts.Timeout)
	assert.Equal(t, scpi.DefaultIdentifyTimeout, opts.IdentifyTimeout)
	assert.Zero(t, opts.MaxAttempts)
	assert.Equal(t, time.Second, c.pollInterval())
	require.NotNil(t, c.terminator())
	assert.Equal(t, byte('\n'), *c.terminator())
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emcscan.yml")
	yml := "timeout: 2.5\nmaxopenattempts: 20\ntraces: [1]\ncalibrate: false\nterminator: \"\"\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	c := load(t, path)
	assert.Equal(t, 2500*time.Millisecond, c.sessionOptions().Timeout)
	assert.Equal(t, 20, c.sessionOptions().MaxAttempts)
	assert.Equal(t, []int{1}, c.Traces)
	assert.False(t, c.Calibrate)
	assert.Nil(t, c.terminator())
	// untouched keys keep their defaults
	assert.Equal(t, uint16(DSA800PID), c.PID)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("EMCSCAN_POLLINTERVAL", "0.5")
	c := load(t, "")
	assert.Equal(t, 500*time.Millisecond, c.pollInterval())
}

func TestValidate(t *testing.T) {
	c := DefaultConfig()
	c.Traces = nil
	assert.Error(t, c.validate())
	c = DefaultConfig()
	c.Terminator = "\r\n"
	assert.Error(t, c.validate())
	c = DefaultConfig()
	c.Timeout = 0
	assert.Error(t, c.validate())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	c := DefaultConfig()
	c.LogFormat = "json"
	log, err := newLogger(&buf, c)
	require.NoError(t, err)
	log.Info("connected", "model", "DSA815")
	assert.Contains(t, buf.String(), `"ts":`)
	assert.Contains(t, buf.String(), `"model":"DSA815"`)

	buf.Reset()
	log.Debug("hidden")
	assert.Empty(t, buf.String())

	c.LogLevel = "loud"
	_, err = newLogger(&buf, c)
	assert.Error(t, err)
	c = DefaultConfig()
	c.LogFormat = "xml"
	_, err = newLogger(&buf, c)
	assert.Error(t, err)
}
