package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	goruntime "runtime"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/l0p7/pluginrt/internal/config"
	"github.com/l0p7/pluginrt/internal/credentials"
	"github.com/l0p7/pluginrt/internal/logging"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

// Fixed route paths every plugin process serves.
const (
	PathInit     = "/v1/init"
	PathStatus   = "/v1/status"
	PathLogLevel = "/v1/log_level"
	PathMetadata = "/v1/metadata"
)

// SharedOptions wires the fixed routes.
type SharedOptions struct {
	Credentials *credentials.Store
	Level       *slog.LevelVar
	Plugin      config.PluginConfig
	Logger      *slog.Logger
	// BuildInfo defaults to debug.ReadBuildInfo.
	BuildInfo func() (*debug.BuildInfo, bool)
}

// Shared serves the initialization, readiness, log level, and metadata routes.
type Shared struct {
	creds     *credentials.Store
	level     *slog.LevelVar
	plugin    config.PluginConfig
	logger    *slog.Logger
	buildInfo func() (*debug.BuildInfo, bool)
}

// NewShared builds the fixed route handlers. A nil store or level var is
// replaced by a fresh one.
func NewShared(opts SharedOptions) *Shared {
	creds := opts.Credentials
	if creds == nil {
		creds = credentials.NewStore()
	}
	level := opts.Level
	if level == nil {
		level = new(slog.LevelVar)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buildInfo := opts.BuildInfo
	if buildInfo == nil {
		buildInfo = debug.ReadBuildInfo
	}
	return &Shared{
		creds:     creds,
		level:     level,
		plugin:    opts.Plugin,
		logger:    logger.With(slog.String("agent", "shared_routes")),
		buildInfo: buildInfo,
	}
}

// Register mounts the fixed routes on r.
func (s *Shared) Register(r chi.Router) {
	r.Post(PathInit, s.ServeInit)
	r.Get(PathStatus, s.ServeStatus)
	r.Get(PathLogLevel, s.ServeLogLevel)
	r.Put(PathLogLevel, s.ServeSetLogLevel)
	r.Get(PathMetadata, s.ServeMetadata)
}

// Credentials exposes the store the init route writes.
func (s *Shared) Credentials() *credentials.Store {
	return s.creds
}

type initRequest struct {
	AuthenticationToken string `json:"authentication_token"`
	WorkerID            string `json:"worker_id"`
}

// ServeInit stores the platform credentials. It always answers 200 so the
// platform never retries initialization; an unusable body leaves the process
// not ready, which /v1/status reports.
func (s *Shared) ServeInit(w http.ResponseWriter, r *http.Request) {
	var body initRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.logger.Warn("init body unreadable", slog.Any("error", err))
		}
	}
	s.creds.Initialize(body.WorkerID, body.AuthenticationToken)
	ready := s.creds.Ready()
	if ready {
		s.logger.Info("credentials initialized", slog.String("worker_id", strings.TrimSpace(body.WorkerID)))
	} else {
		s.logger.Warn("init received incomplete credentials")
	}
	pipeline.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": ready})
}

// ServeStatus reports readiness: 200 once credentials are set, else 503.
func (s *Shared) ServeStatus(w http.ResponseWriter, _ *http.Request) {
	if s.creds.Ready() {
		pipeline.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	pipeline.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "not_initialized",
		"error":  "credentials missing, call /v1/init first",
	})
}

type logLevelBody struct {
	Level string `json:"level"`
}

// ServeLogLevel returns the current log level.
func (s *Shared) ServeLogLevel(w http.ResponseWriter, _ *http.Request) {
	pipeline.WriteJSON(w, http.StatusOK, logLevelBody{Level: logging.LevelName(s.level.Level())})
}

// ServeSetLogLevel changes the log level live; unknown levels are 400.
func (s *Shared) ServeSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var body logLevelBody
	if r.Body == nil {
		pipeline.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "level required"})
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		pipeline.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	if strings.TrimSpace(body.Level) == "" {
		pipeline.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "level required"})
		return
	}
	level, err := logging.ParseLevel(body.Level)
	if err != nil {
		pipeline.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	previous := s.level.Level()
	s.level.Set(level)
	s.logger.Info("log level changed",
		slog.String("from", logging.LevelName(previous)),
		slog.String("to", logging.LevelName(level)),
	)
	pipeline.WriteJSON(w, http.StatusOK, logLevelBody{Level: logging.LevelName(level)})
}

// Metadata describes the running process.
type Metadata struct {
	Runtime        string            `json:"runtime"`
	RuntimeVersion string            `json:"runtime_version"`
	PluginKind     string            `json:"plugin_kind"`
	PluginVersion  string            `json:"plugin_version"`
	Build          string            `json:"build,omitempty"`
	Module         string            `json:"module,omitempty"`
	Dependencies   map[string]string `json:"dependencies"`
}

// Metadata assembles the /v1/metadata document.
func (s *Shared) Metadata() Metadata {
	meta := Metadata{
		Runtime:        "go",
		RuntimeVersion: goruntime.Version(),
		PluginKind:     s.plugin.Kind,
		PluginVersion:  s.plugin.Version,
		Build:          s.plugin.Build,
		Dependencies:   map[string]string{},
	}
	info, ok := s.buildInfo()
	if !ok || info == nil {
		return meta
	}
	meta.Module = info.Main.Path
	if meta.Build == "" {
		meta.Build = vcsRevision(info.Settings)
	}
	for _, dep := range info.Deps {
		if dep == nil {
			continue
		}
		version := dep.Version
		if dep.Replace != nil && dep.Replace.Version != "" {
			version = dep.Replace.Version
		}
		meta.Dependencies[dep.Path] = version
	}
	return meta
}

// ServeMetadata writes Metadata as JSON.
func (s *Shared) ServeMetadata(w http.ResponseWriter, _ *http.Request) {
	pipeline.WriteJSON(w, http.StatusOK, s.Metadata())
}

// DependencyNames lists the dependency module paths in sorted order.
func (m Metadata) DependencyNames() []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func vcsRevision(settings []debug.BuildSetting) string {
	for _, setting := range settings {
		if setting.Key == "vcs.revision" {
			return setting.Value
		}
	}
	return ""
}
