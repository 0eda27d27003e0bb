package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	kenv "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// legacyEnv mirrors the unprefixed variables the orchestration platform injects
// into every plugin container.
type legacyEnv struct {
	GatewayHost string `env:"GATEWAY_HOST"`
	GatewayPort int    `env:"GATEWAY_PORT"`
	PluginPort  int    `env:"PLUGIN_PORT"`
	WorkerID    string `env:"PLUGIN_WORKER_ID"`
	AuthToken   string `env:"PLUGIN_AUTHENTICATION_TOKEN"`
}

// canonicalKeys restores camelCase segments that the env transform lowercases.
var canonicalKeys = map[string]string{
	"server.logging.correlationheader": "server.logging.correlationHeader",
	"gateway.timeoutseconds":           "gateway.timeoutSeconds",
	"gateway.maxretries":               "gateway.maxRetries",
	"gateway.backoff.initialmillis":    "gateway.backoff.initialMillis",
	"gateway.backoff.maxmillis":        "gateway.backoff.maxMillis",
	"admission.sampleintervalmillis":   "admission.sampleIntervalMillis",
	"admission.lagthresholdmillis":     "admission.lagThresholdMillis",
	"cache.ttlseconds":                 "cache.ttlSeconds",
	"telemetry.otlpendpoint":           "telemetry.otlpEndpoint",
	"telemetry.servicename":            "telemetry.serviceName",
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files lists the config documents the loader reads.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if strings.TrimSpace(path) != "" {
			out = append(out, path)
		}
	}
	return out
}

// Load assembles the effective snapshot: defaults, then files, then the legacy
// platform variables, then prefixed environment overrides.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	sources := make([]string, 0, len(l.files))
	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
		sources = append(sources, path)
	}

	var legacy legacyEnv
	if err := env.Parse(&legacy); err != nil {
		return Config{}, fmt.Errorf("config: parse platform env: %w", err)
	}
	if overrides := legacy.overrides(); len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return Config{}, fmt.Errorf("config: load platform env: %w", err)
		}
	}

	if l.envPrefix != "" {
		prefix := l.envPrefix + "_"
		transform := func(s string) string {
			// Double underscores signal a nested path (GATEWAY__HOST -> gateway.host).
			key := strings.TrimPrefix(s, prefix)
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonicalKeys[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(kenv.Provider(prefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Credentials = CredentialsConfig{
		WorkerID:  strings.TrimSpace(legacy.WorkerID),
		AuthToken: strings.TrimSpace(legacy.AuthToken),
	}
	cfg.Sources = sources
	return cfg, nil
}

func (e legacyEnv) overrides() map[string]any {
	out := map[string]any{}
	if host := strings.TrimSpace(e.GatewayHost); host != "" {
		out["gateway.host"] = host
	}
	if e.GatewayPort > 0 {
		out["gateway.port"] = e.GatewayPort
	}
	if e.PluginPort > 0 {
		out["server.listen.port"] = e.PluginPort
	}
	return out
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
		},
		"gateway": map[string]any{
			"scheme":         cfg.Gateway.Scheme,
			"host":           cfg.Gateway.Host,
			"port":           cfg.Gateway.Port,
			"timeoutSeconds": cfg.Gateway.TimeoutSeconds,
			"maxRetries":     cfg.Gateway.MaxRetries,
			"backoff": map[string]any{
				"initialMillis": cfg.Gateway.Backoff.InitialMillis,
				"maxMillis":     cfg.Gateway.Backoff.MaxMillis,
			},
		},
		"admission": map[string]any{
			"enabled":              cfg.Admission.Enabled,
			"sampleIntervalMillis": cfg.Admission.SampleIntervalMillis,
			"lagThresholdMillis":   cfg.Admission.LagThresholdMillis,
		},
		"cache": map[string]any{
			"ttlSeconds": cfg.Cache.TTLSeconds,
		},
		"plugin": map[string]any{
			"kind":    cfg.Plugin.Kind,
			"version": cfg.Plugin.Version,
			"build":   cfg.Plugin.Build,
		},
		"telemetry": map[string]any{
			"otlpEndpoint": cfg.Telemetry.OTLPEndpoint,
			"serviceName":  cfg.Telemetry.ServiceName,
		},
		"templates": map[string]any{
			"root": cfg.Templates.Root,
		},
	}
}
