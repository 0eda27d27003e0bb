package runtime

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/pluginrt/internal/config"
	"github.com/l0p7/pluginrt/internal/credentials"
)

func newSharedServer(t *testing.T, opts SharedOptions) (*httpexpect.Expect, *Shared) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	shared := NewShared(opts)
	router := chi.NewRouter()
	shared.Register(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	expect := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  server.URL,
		Reporter: httpexpect.NewRequireReporter(t),
		Client:   server.Client(),
	})
	return expect, shared
}

func TestInitMakesProcessReady(t *testing.T) {
	store := credentials.NewStore()
	expect, _ := newSharedServer(t, SharedOptions{Credentials: store})

	expect.GET(PathStatus).Expect().
		Status(http.StatusServiceUnavailable).
		JSON().Object().HasValue("status", "not_initialized")

	expect.POST(PathInit).
		WithJSON(map[string]string{"authentication_token": "token-1", "worker_id": "worker-1"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("ready", true)

	require.True(t, store.Ready())
	require.Equal(t, credentials.Credentials{WorkerID: "worker-1", AuthToken: "token-1"}, store.Snapshot())

	expect.GET(PathStatus).Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("status", "ready")
}

func TestInitAlwaysAnswersOK(t *testing.T) {
	tests := map[string]struct {
		body string
	}{
		"empty body":        {body: ""},
		"malformed body":    {body: "{"},
		"missing token":     {body: `{"worker_id":"w"}`},
		"blank credentials": {body: `{"worker_id":" ","authentication_token":""}`},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			store := credentials.NewStore()
			expect, _ := newSharedServer(t, SharedOptions{Credentials: store})
			expect.POST(PathInit).
				WithHeader("Content-Type", "application/json").
				WithText(tc.body).
				Expect().
				Status(http.StatusOK).
				JSON().Object().HasValue("ready", false)
			require.False(t, store.Ready())
		})
	}
}

func TestInitOverwritesCredentials(t *testing.T) {
	store := credentials.NewStore()
	expect, _ := newSharedServer(t, SharedOptions{Credentials: store})

	for _, worker := range []string{"worker-1", "worker-2"} {
		expect.POST(PathInit).
			WithJSON(map[string]string{"authentication_token": "token", "worker_id": worker}).
			Expect().
			Status(http.StatusOK)
	}
	require.Equal(t, "worker-2", store.Snapshot().WorkerID)
}

func TestLogLevelRoutes(t *testing.T) {
	level := new(slog.LevelVar)
	expect, _ := newSharedServer(t, SharedOptions{Level: level})

	expect.GET(PathLogLevel).Expect().
		Status(http.StatusOK).
		JSON().Object().HasValue("level", "info")

	tests := map[string]struct {
		level      string
		wantStatus int
		want       slog.Level
	}{
		"debug":         {level: "debug", wantStatus: http.StatusOK, want: slog.LevelDebug},
		"upper case":    {level: "ERROR", wantStatus: http.StatusOK, want: slog.LevelError},
		"warning alias": {level: "warning", wantStatus: http.StatusOK, want: slog.LevelWarn},
		"unknown level": {level: "verbose", wantStatus: http.StatusBadRequest, want: slog.LevelWarn},
		"blank level":   {level: "", wantStatus: http.StatusBadRequest, want: slog.LevelWarn},
		"back to info":  {level: "info", wantStatus: http.StatusOK, want: slog.LevelInfo},
	}

	// Ordered so rejected updates can be checked against the previous level.
	for _, name := range []string{"debug", "upper case", "warning alias", "unknown level", "blank level", "back to info"} {
		tc := tests[name]
		t.Run(name, func(t *testing.T) {
			expect.PUT(PathLogLevel).
				WithJSON(map[string]string{"level": tc.level}).
				Expect().
				Status(tc.wantStatus)
			require.Equal(t, tc.want, level.Level())
		})
	}

	expect.PUT(PathLogLevel).
		WithHeader("Content-Type", "application/json").
		WithText("not json").
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().ContainsKey("error")
}

func TestMetadataReportsBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/l0p7/pluginrt"},
		Deps: []*debug.Module{
			{Path: "github.com/go-chi/chi/v5", Version: "v5.2.3"},
			{Path: "github.com/cenkalti/backoff/v5", Version: "v5.0.0", Replace: &debug.Module{Version: "v5.0.3"}},
			nil,
		},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
	}
	expect, shared := newSharedServer(t, SharedOptions{
		Plugin:    config.PluginConfig{Kind: "ad_renderer", Version: "1.4.0"},
		BuildInfo: func() (*debug.BuildInfo, bool) { return info, true },
	})

	obj := expect.GET(PathMetadata).Expect().Status(http.StatusOK).JSON().Object()
	obj.HasValue("runtime", "go")
	obj.HasValue("plugin_kind", "ad_renderer")
	obj.HasValue("plugin_version", "1.4.0")
	obj.HasValue("build", "abc123")
	obj.HasValue("module", "github.com/l0p7/pluginrt")
	obj.Value("runtime_version").String().NotEmpty()
	obj.Value("dependencies").Object().HasValue("github.com/cenkalti/backoff/v5", "v5.0.3")

	require.Equal(t, []string{"github.com/cenkalti/backoff/v5", "github.com/go-chi/chi/v5"}, shared.Metadata().DependencyNames())
}

func TestMetadataWithoutBuildInfo(t *testing.T) {
	shared := NewShared(SharedOptions{
		Plugin:    config.PluginConfig{Kind: "recommender", Build: "ci-7"},
		BuildInfo: func() (*debug.BuildInfo, bool) { return nil, false },
	})
	meta := shared.Metadata()
	require.Equal(t, "ci-7", meta.Build)
	require.Empty(t, meta.Dependencies)
	require.NotNil(t, shared.Credentials())
}
