package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadExampleConfigs(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	projectRoot := filepath.Join(wd, "..", "..")

	examples := []struct {
		name     string
		path     string
		validate func(t *testing.T, cfg Config)
	}{
		{
			name: "audience-feed",
			path: "examples/configs/audience-feed.yaml",
			validate: func(t *testing.T, cfg Config) {
				require.Equal(t, "audience_feed", cfg.Plugin.Kind)
				require.True(t, cfg.Admission.Enabled)
				require.Equal(t, 3, cfg.Gateway.MaxRetries)
			},
		},
		{
			name: "ad-renderer",
			path: "examples/configs/ad-renderer.toml",
			validate: func(t *testing.T, cfg Config) {
				require.Equal(t, "ad_renderer", cfg.Plugin.Kind)
				require.Equal(t, "text", cfg.Server.Logging.Format)
				require.Equal(t, 300, cfg.Cache.TTLSeconds)
				require.Equal(t, "http://otel-collector:4318", cfg.Telemetry.OTLPEndpoint)
				require.Equal(t, "/srv/ad-templates", cfg.Templates.Root)
			},
		},
		{
			name: "computed-field",
			path: "examples/configs/computed-field.json",
			validate: func(t *testing.T, cfg Config) {
				require.Equal(t, "computed_field", cfg.Plugin.Kind)
				require.Equal(t, 5, cfg.Gateway.MaxRetries)
				require.Equal(t, 50, cfg.Gateway.Backoff.InitialMillis)
				require.Equal(t, "plugin-gateway.platform", cfg.Gateway.Host)
			},
		},
	}

	for _, tc := range examples {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewLoader("PLUGINRT", filepath.Join(projectRoot, tc.path)).Load(context.Background())
			require.NoError(t, err)
			tc.validate(t, cfg)
		})
	}
}
