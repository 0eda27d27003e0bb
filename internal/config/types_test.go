package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	tests := map[string]func(c *Config){
		"listen port":      func(c *Config) { c.Server.Listen.Port = -1 },
		"gateway host":     func(c *Config) { c.Gateway.Host = " " },
		"gateway port":     func(c *Config) { c.Gateway.Port = 70000 },
		"gateway scheme":   func(c *Config) { c.Gateway.Scheme = "ftp" },
		"gateway timeout":  func(c *Config) { c.Gateway.TimeoutSeconds = 0 },
		"gateway retries":  func(c *Config) { c.Gateway.MaxRetries = -1 },
		"gateway backoff":  func(c *Config) { c.Gateway.Backoff.InitialMillis = -5 },
		"cache ttl":        func(c *Config) { c.Cache.TTLSeconds = 0 },
		"admission sample": func(c *Config) { c.Admission.Enabled = true; c.Admission.SampleIntervalMillis = 0 },
		"admission lag":    func(c *Config) { c.Admission.Enabled = true; c.Admission.LagThresholdMillis = 0 },
		"plugin kind":      func(c *Config) { c.Plugin.Kind = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			broken := DefaultConfig()
			mutate(&broken)
			require.Error(t, broken.Validate())
		})
	}

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())
}

func TestConfigDurations(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 10*time.Second, cfg.Gateway.Timeout())
	require.Equal(t, 2*time.Minute, cfg.Cache.TTL())
	require.Equal(t, 500*time.Millisecond, cfg.Admission.SampleInterval())
	require.Equal(t, 70*time.Millisecond, cfg.Admission.LagThreshold())

	cfg.Gateway.Scheme = ""
	cfg.Gateway.Host = "gw"
	cfg.Gateway.Port = 81
	require.Equal(t, "http://gw:81", cfg.Gateway.BaseURL())
	cfg.Gateway.Scheme = "https"
	require.Equal(t, "https://gw:81", cfg.Gateway.BaseURL())
}
