package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds every process-level option the plugin runtime reads at start-up.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Admission AdmissionConfig `koanf:"admission"`
	Cache     CacheConfig     `koanf:"cache"`
	Plugin    PluginConfig    `koanf:"plugin"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Templates TemplatesConfig `koanf:"templates"`

	// Credentials is only populated from the legacy PLUGIN_* environment
	// variables. It is never read from files so secrets stay out of config
	// documents.
	Credentials CredentialsConfig `koanf:"-"`

	// Sources lists the config files that contributed to this snapshot.
	Sources []string `koanf:"-"`
}

// ServerConfig collects the listener and logging knobs.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// GatewayConfig locates the upstream configuration service.
type GatewayConfig struct {
	Scheme         string        `koanf:"scheme"`
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	TimeoutSeconds int           `koanf:"timeoutSeconds"`
	MaxRetries     int           `koanf:"maxRetries"`
	Backoff        BackoffConfig `koanf:"backoff"`
}

// BackoffConfig shapes the delay between gateway retry attempts.
type BackoffConfig struct {
	InitialMillis int `koanf:"initialMillis"`
	MaxMillis     int `koanf:"maxMillis"`
}

// AdmissionConfig toggles load shedding.
type AdmissionConfig struct {
	Enabled              bool `koanf:"enabled"`
	SampleIntervalMillis int  `koanf:"sampleIntervalMillis"`
	LagThresholdMillis   int  `koanf:"lagThresholdMillis"`
}

// CacheConfig controls instance context expiry.
type CacheConfig struct {
	TTLSeconds int `koanf:"ttlSeconds"`
}

// PluginConfig describes which plugin kind this process serves.
type PluginConfig struct {
	Kind    string `koanf:"kind"`
	Version string `koanf:"version"`
	Build   string `koanf:"build"`
}

// TelemetryConfig enables OTLP trace export when an endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `koanf:"otlpEndpoint"`
	ServiceName  string `koanf:"serviceName"`
}

// TemplatesConfig points file-backed templates at a sandbox root. Empty
// disables template_path properties.
type TemplatesConfig struct {
	Root string `koanf:"root"`
}

// CredentialsConfig carries gateway credentials supplied before /v1/init.
type CredentialsConfig struct {
	WorkerID  string
	AuthToken string
}

// BaseURL renders the gateway root without a trailing slash.
func (g GatewayConfig) BaseURL() string {
	scheme := strings.TrimSpace(g.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// Timeout returns the per-attempt HTTP timeout.
func (g GatewayConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// TTL returns the base instance context lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SampleInterval returns how often the admission sampler ticks.
func (a AdmissionConfig) SampleInterval() time.Duration {
	return time.Duration(a.SampleIntervalMillis) * time.Millisecond
}

// LagThreshold returns the scheduling lag above which the process sheds load.
func (a AdmissionConfig) LagThreshold() time.Duration {
	return time.Duration(a.LagThresholdMillis) * time.Millisecond
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if strings.TrimSpace(c.Gateway.Host) == "" {
		return errors.New("config: gateway.host required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config: gateway.port invalid: %d", c.Gateway.Port)
	}
	switch strings.ToLower(strings.TrimSpace(c.Gateway.Scheme)) {
	case "", "http", "https":
	default:
		return fmt.Errorf("config: gateway.scheme unsupported: %s", c.Gateway.Scheme)
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: gateway.timeoutSeconds invalid: %d", c.Gateway.TimeoutSeconds)
	}
	if c.Gateway.MaxRetries < 0 {
		return fmt.Errorf("config: gateway.maxRetries invalid: %d", c.Gateway.MaxRetries)
	}
	if c.Gateway.Backoff.InitialMillis < 0 || c.Gateway.Backoff.MaxMillis < 0 {
		return errors.New("config: gateway.backoff intervals must not be negative")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("config: cache.ttlSeconds invalid: %d", c.Cache.TTLSeconds)
	}
	if c.Admission.Enabled {
		if c.Admission.SampleIntervalMillis <= 0 {
			return fmt.Errorf("config: admission.sampleIntervalMillis invalid: %d", c.Admission.SampleIntervalMillis)
		}
		if c.Admission.LagThresholdMillis <= 0 {
			return fmt.Errorf("config: admission.lagThresholdMillis invalid: %d", c.Admission.LagThresholdMillis)
		}
	}
	if strings.TrimSpace(c.Plugin.Kind) == "" {
		return errors.New("config: plugin.kind required")
	}
	return nil
}

// DefaultConfig returns the baseline values used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
		},
		Gateway: GatewayConfig{
			Scheme:         "http",
			Host:           "plugin-gateway.platform",
			Port:           8080,
			TimeoutSeconds: 10,
			MaxRetries:     3,
			Backoff: BackoffConfig{
				InitialMillis: 100,
				MaxMillis:     2000,
			},
		},
		Admission: AdmissionConfig{
			Enabled:              false,
			SampleIntervalMillis: 500,
			LagThresholdMillis:   70,
		},
		Cache: CacheConfig{
			TTLSeconds: 120,
		},
		Plugin: PluginConfig{
			Kind:    "audience_feed",
			Version: "dev",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pluginrt",
		},
	}
}
