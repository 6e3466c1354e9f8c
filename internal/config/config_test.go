package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		LogLevel:              "info",
		Command:               "enarx",
		MaxJobs:               4,
		SizeLimitDefaultMiB:   10,
		SizeLimitStarredMiB:   50,
		TimeoutDefault:        5 * time.Minute,
		TimeoutStarred:        15 * time.Minute,
		SharedPortProtections: true,
		PortMin:               2000,
		PortMax:               30000,
		ReadTimeout:           500 * time.Millisecond,
		ConfigMaxBytes:        256 * 1024,
		TempDirectory:         t.TempDir(),
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validate(validConfig(t)))

	cfg := validConfig(t)
	cfg.LogLevel = "noisy"
	assert.Error(t, validate(cfg))

	cfg = validConfig(t)
	cfg.Command = ""
	assert.Error(t, validate(cfg))

	cfg = validConfig(t)
	cfg.MaxJobs = 0
	assert.Error(t, validate(cfg))

	cfg = validConfig(t)
	cfg.PortMin = 30000
	cfg.PortMax = 2000
	assert.Error(t, validate(cfg))

	cfg = validConfig(t)
	cfg.TempDirectory = "/does/not/exist"
	assert.Error(t, validate(cfg))
}

func TestLimitsDecide(t *testing.T) {
	limits := validConfig(t).Limits()

	ttl, size := limits.Decide(false)
	assert.Equal(t, 5*time.Minute, ttl)
	assert.Equal(t, int64(10*1024*1024), size)

	ttl, size = limits.Decide(true)
	assert.Equal(t, 15*time.Minute, ttl)
	assert.Equal(t, int64(50*1024*1024), size)
}

func TestGetLogLevel(t *testing.T) {
	cfg := validConfig(t)
	assert.Equal(t, logrus.InfoLevel, cfg.GetLogLevel())

	cfg.LogLevel = "garbage"
	assert.Equal(t, logrus.InfoLevel, cfg.GetLogLevel())

	cfg.LogLevel = "debug"
	assert.Equal(t, logrus.DebugLevel, cfg.GetLogLevel())
}

func TestGetBindAddress(t *testing.T) {
	cfg := validConfig(t)
	cfg.BindAddress = ""
	assert.Equal(t, "0.0.0.0:3000", cfg.GetBindAddress())

	cfg.BindAddress = "127.0.0.1:8080"
	assert.Equal(t, "127.0.0.1:8080", cfg.GetBindAddress())
}
