// Package plugins holds what every plugin kind shares: the dependencies a kind
// is built from, the per-kind dispatcher wiring, and the gateway lookups most
// instance contexts start with.
package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0p7/pluginrt/internal/config"
	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/metrics"
	"github.com/l0p7/pluginrt/internal/properties"
	"github.com/l0p7/pluginrt/internal/runtime/cache"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
	"github.com/l0p7/pluginrt/internal/templates"
)

// Call contexts sent by the platform. PREVIEW and STAGE traffic always works
// against a freshly built instance context.
const (
	CallContextLive    = "LIVE"
	CallContextStage   = "STAGE"
	CallContextPreview = "PREVIEW"
)

// Deps are the collaborators every kind is constructed from.
type Deps struct {
	Gateway   *gateway.Client
	Readiness pipeline.Readiness
	Cache     config.CacheConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Tracer    trace.Tracer
	// Templates compiles instance templates for rendering kinds. Nil falls
	// back to a renderer without file access.
	Templates *templates.Renderer
}

// Renderer returns deps.Templates or a sandbox-less default.
func (d Deps) Renderer() *templates.Renderer {
	if d.Templates != nil {
		return d.Templates
	}
	return templates.NewRenderer(nil)
}

// Plugin is one kind's HTTP surface plus its instance cache upkeep.
type Plugin interface {
	Kind() string
	Register(chi.Router)
	RunJanitor(ctx context.Context, interval time.Duration)
}

// Base supplies the Plugin methods every kind shares. Kinds embed it and add
// Register.
type Base[Ctx any] struct {
	Dispatcher *pipeline.Dispatcher[Ctx]
}

// Kind names the plugin kind.
func (b Base[Ctx]) Kind() string {
	return b.Dispatcher.Kind()
}

// RunJanitor prunes expired instance contexts until ctx ends.
func (b Base[Ctx]) RunJanitor(ctx context.Context, interval time.Duration) {
	b.Dispatcher.Contexts().RunJanitor(ctx, interval)
}

// Post mounts route on r through d.
func Post[Req, Ctx any](r chi.Router, d *pipeline.Dispatcher[Ctx], route pipeline.Route[Req, Ctx]) {
	r.Post(route.Path, pipeline.Handler(d, route))
}

// NewDispatcher builds the kind's instance cache and dispatcher from deps.
func NewDispatcher[Ctx any](kind pipeline.Kind[Ctx], deps Deps) *pipeline.Dispatcher[Ctx] {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheOpts := cache.Options{Name: kind.Name(), TTL: deps.Cache.TTL(), Logger: logger}
	dispatchOpts := pipeline.Options{Readiness: deps.Readiness, Logger: logger, Tracer: deps.Tracer}
	if deps.Metrics != nil {
		cacheOpts.Observer = deps.Metrics
		dispatchOpts.Observer = deps.Metrics
	}
	contexts := cache.NewInstanceCache[Ctx](cacheOpts)
	return pipeline.NewDispatcher(kind, contexts, dispatchOpts)
}

// ForceReload reports whether callContext requires a fresh instance context.
func ForceReload(callContext string) bool {
	switch strings.ToUpper(strings.TrimSpace(callContext)) {
	case CallContextPreview, CallContextStage:
		return true
	default:
		return false
	}
}

// FetchProperties loads the property list at path as a Set.
func FetchProperties(ctx context.Context, gw *gateway.Client, path string) (properties.Set, error) {
	set, err := gateway.Get[properties.Set](ctx, gw, path, nil)
	if err != nil {
		return properties.Set{}, fmt.Errorf("fetch properties %s: %w", path, err)
	}
	return set, nil
}

// FetchEntity loads one resource document at path.
func FetchEntity[T any](ctx context.Context, gw *gateway.Client, path string) (T, error) {
	entity, err := gateway.Get[T](ctx, gw, path, nil)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fetch %s: %w", path, err)
	}
	return entity, nil
}

// ResourcePath joins escaped segments under the gateway's /v1 root.
func ResourcePath(segments ...string) string {
	escaped := make([]string, 0, len(segments)+1)
	escaped = append(escaped, "v1")
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return "/" + strings.Join(escaped, "/")
}
