package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/pluginrt/internal/config"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/plugins/plugintest"
	"github.com/l0p7/pluginrt/internal/plugins/recommender"
)

func TestKindsRegistry(t *testing.T) {
	require.Len(t, knownKinds(), 9)
	gw := plugintest.NewGateway(t)
	deps, _ := plugintest.Deps(t, gw)
	for _, kind := range knownKinds() {
		t.Run(kind, func(t *testing.T) {
			p, err := newPlugin(kind, deps)
			require.NoError(t, err)
			require.Equal(t, kind, p.Kind())
		})
	}

	_, err := newPlugin("dsp_connector", plugins.Deps{})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown plugin kind "dsp_connector"`)
	require.Contains(t, err.Error(), "recommender")
}

func TestJanitorInterval(t *testing.T) {
	tests := map[string]struct {
		ttlSeconds int
		want       time.Duration
	}{
		"half the ttl":   {ttlSeconds: 120, want: time.Minute},
		"floored at 1s":  {ttlSeconds: 1, want: time.Second},
		"exactly 2s ttl": {ttlSeconds: 2, want: time.Second},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, janitorInterval(config.CacheConfig{TTLSeconds: tc.ttlSeconds}))
		})
	}
}

func gatewayConfig(t *testing.T, gw *plugintest.Gateway) config.GatewayConfig {
	t.Helper()
	parsed, err := url.Parse(gw.Server.URL)
	require.NoError(t, err)
	host, portText, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	cfg := config.DefaultConfig().Gateway
	cfg.Host = host
	cfg.Port = port
	cfg.Backoff = config.BackoffConfig{}
	return cfg
}

func TestAppServesSharedAndPluginRoutes(t *testing.T) {
	gw := plugintest.NewGateway(t)
	gw.Handle(http.MethodGet, "/v1/recommenders/rec-1/properties", plugintest.OK([]map[string]any{
		plugintest.StringProperty(recommender.PropertyCatalogID, "cat-1"),
		plugintest.StringProperty(recommender.PropertyItemIDs, "i-1"),
	}))

	cfg := config.DefaultConfig()
	cfg.Plugin.Kind = recommender.Name
	cfg.Gateway = gatewayConfig(t, gw)

	a, err := newApp(cfg, plugintest.Logger(), new(slog.LevelVar), prometheus.NewRegistry())
	require.NoError(t, err)
	require.Equal(t, recommender.Name, a.plugin.Kind())

	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)
	e := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   srv.Client(),
	})

	e.GET("/v1/status").Expect().Status(http.StatusServiceUnavailable)
	e.POST("/v1/recommendations").
		WithJSON(map[string]any{"recommender_id": "rec-1"}).
		Expect().
		Status(http.StatusInternalServerError).
		JSON().Object().HasValue("code", 1002)

	e.POST("/v1/init").
		WithJSON(map[string]any{"worker_id": "worker-9", "authentication_token": "token-9"}).
		Expect().
		Status(http.StatusOK)
	e.GET("/v1/status").Expect().Status(http.StatusOK)
	e.GET("/v1/metadata").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("plugin_kind", recommender.Name)

	e.POST("/v1/recommendations").
		WithJSON(map[string]any{"recommender_id": "rec-1"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("proposals").Array().Length().IsEqual(1)
	require.Equal(t, []string{"worker-9"}, gw.BasicAuthUsers())

	e.GET("/metrics").Expect().Status(http.StatusOK).
		Body().Contains("pluginrt_gateway_calls_total")
	e.GET("/v1/unknown").Expect().Status(http.StatusNotFound)
}

func TestAppSeedsCredentialsFromPlatformVariables(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Credentials = config.CredentialsConfig{WorkerID: "w", AuthToken: "t"}

	a, err := newApp(cfg, plugintest.Logger(), new(slog.LevelVar), prometheus.NewRegistry())
	require.NoError(t, err)
	require.True(t, a.creds.Ready())
}

func TestAppRejectsUnknownKind(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Plugin.Kind = "nope"
	_, err := newApp(cfg, plugintest.Logger(), new(slog.LevelVar), prometheus.NewRegistry())
	require.Error(t, err)
}

func TestAppValidatesTemplatesRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ad.tmpl")
	require.NoError(t, os.WriteFile(file, []byte("<p></p>"), 0o600))

	tests := map[string]struct {
		root    string
		wantErr string
	}{
		"unset":         {root: ""},
		"directory":     {root: dir},
		"missing":       {root: filepath.Join(dir, "absent"), wantErr: "templates.root"},
		"not directory": {root: file, wantErr: "not a directory"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Plugin.Kind = recommender.Name
			cfg.Templates.Root = tc.root
			_, err := newApp(cfg, plugintest.Logger(), new(slog.LevelVar), prometheus.NewRegistry())
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRunLoaderError(t *testing.T) {
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{loadErr: errors.New("boom")}
	})

	err := run(context.Background(), "PLUGINRT", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load configuration")
}

func TestRunServerConstructorError(t *testing.T) {
	loader := &fakeLoader{cfg: config.DefaultConfig()}
	overrideConfigLoader(t, func(_, _ string) configLoader { return loader })
	overrideHTTPServer(t, func(config.Config, *slog.Logger, http.Handler) (runnableServer, error) {
		return nil, errors.New("construct failed")
	})

	err := run(context.Background(), "PLUGINRT", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "construct failed")
	require.True(t, loader.watchSeen)
	require.True(t, loader.stopped, "watcher should stop when run returns")
}

func TestRunServerRunError(t *testing.T) {
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: config.DefaultConfig()}
	})
	overrideHTTPServer(t, func(config.Config, *slog.Logger, http.Handler) (runnableServer, error) {
		return &stubServer{err: errors.New("run failed")}, nil
	})

	err := run(context.Background(), "PLUGINRT", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "run failed")
}

func TestRunCleanShutdown(t *testing.T) {
	overrideConfigLoader(t, func(_, _ string) configLoader {
		return &fakeLoader{cfg: config.DefaultConfig(), watchErr: errors.New("no files")}
	})
	overrideHTTPServer(t, func(config.Config, *slog.Logger, http.Handler) (runnableServer, error) {
		return &stubServer{err: context.Canceled}, nil
	})

	require.NoError(t, run(context.Background(), "PLUGINRT", ""))
}

func overrideConfigLoader(t *testing.T, fn func(string, string) configLoader) {
	original := newConfigLoader
	newConfigLoader = fn
	t.Cleanup(func() { newConfigLoader = original })
}

func overrideHTTPServer(t *testing.T, fn func(config.Config, *slog.Logger, http.Handler) (runnableServer, error)) {
	original := newHTTPServer
	newHTTPServer = fn
	t.Cleanup(func() { newHTTPServer = original })
}

type fakeLoader struct {
	cfg       config.Config
	loadErr   error
	watchErr  error
	watchSeen bool
	stopped   bool
}

func (f *fakeLoader) Load(context.Context) (config.Config, error) {
	if f.loadErr != nil {
		return config.Config{}, f.loadErr
	}
	return f.cfg, nil
}

func (f *fakeLoader) Watch(context.Context, func(config.Config), func(error)) (configWatcher, error) {
	f.watchSeen = true
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return stopFunc(func() { f.stopped = true }), nil
}

type stopFunc func()

func (s stopFunc) Stop() { s() }

type stubServer struct {
	err error
}

func (s *stubServer) Run(context.Context) error {
	return s.err
}
