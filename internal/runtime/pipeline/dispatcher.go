// Package pipeline runs business requests through the shared stages every
// plugin kind uses: readiness, body validation, instance context lookup, the
// business handler, and status mapping.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/l0p7/pluginrt/internal/runtime/cache"
	"github.com/l0p7/pluginrt/internal/telemetry"
)

const maxBodyBytes = 16 << 20

var errMissingResourceID = errors.New("resource id missing from request")

// Kind is the capability one plugin kind contributes to the pipeline.
type Kind[Ctx any] interface {
	Name() string
	BuildContext(ctx context.Context, resourceID string) (Ctx, error)
}

// Readiness reports whether business routes may run. *credentials.Store
// satisfies it.
type Readiness interface {
	Ready() bool
}

// Observer receives one observation per business request.
type Observer interface {
	ObserveRequest(kind, route string, statusCode int, duration time.Duration)
}

// Route binds one business path to its request type and handler.
type Route[Req, Ctx any] struct {
	Path string
	// ResourceID extracts the cache key from the decoded request.
	ResourceID func(Req) string
	// ForceReload requests a fresh instance context, typically for PREVIEW
	// and STAGE traffic.
	ForceReload func(Req) bool
	Handle      func(ctx context.Context, req Req, ictx Ctx) (Outcome, error)
}

// Options wires the dispatcher's collaborators. Nil values are tolerated.
type Options struct {
	Readiness Readiness
	Logger    *slog.Logger
	Observer  Observer
	Tracer    trace.Tracer
}

// Dispatcher serves every route of one kind against a shared instance cache.
type Dispatcher[Ctx any] struct {
	kind      Kind[Ctx]
	cache     *cache.InstanceCache[Ctx]
	readiness Readiness
	logger    *slog.Logger
	observer  Observer
	tracer    trace.Tracer
}

// NewDispatcher returns a dispatcher for kind backed by contexts.
func NewDispatcher[Ctx any](kind Kind[Ctx], contexts *cache.InstanceCache[Ctx], opts Options) *Dispatcher[Ctx] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	return &Dispatcher[Ctx]{
		kind:      kind,
		cache:     contexts,
		readiness: opts.Readiness,
		logger:    logger.With(slog.String("agent", "dispatcher"), slog.String("kind", kind.Name())),
		observer:  opts.Observer,
		tracer:    tracer,
	}
}

// Kind returns the kind name.
func (d *Dispatcher[Ctx]) Kind() string {
	return d.kind.Name()
}

// Contexts exposes the instance cache shared by the kind's routes.
func (d *Dispatcher[Ctx]) Contexts() *cache.InstanceCache[Ctx] {
	return d.cache
}

// Handler returns the http.HandlerFunc serving route through d. It is a
// function rather than a method because Go methods cannot add type
// parameters.
func Handler[Req, Ctx any](d *Dispatcher[Ctx], route Route[Req, Ctx]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serve(d, route, w, r)
	}
}

func serve[Req, Ctx any](d *Dispatcher[Ctx], route Route[Req, Ctx], w http.ResponseWriter, r *http.Request) {
	correlationID := CorrelationID(r.Context())
	state := NewState(r, d.kind.Name(), route.Path, correlationID)
	ctx, span := d.tracer.Start(r.Context(), "pipeline."+strings.TrimPrefix(route.Path, "/"),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("pluginrt.kind", d.kind.Name()),
			attribute.String("http.route", route.Path),
		))
	defer span.End()

	reqLogger := d.logger.With(slog.String("route", route.Path))
	if correlationID != "" {
		reqLogger = reqLogger.With(slog.String("correlation_id", correlationID))
	}

	outcome, failure := run(ctx, d, route, r, state)
	if failure != nil {
		WriteFailure(w, failure)
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Message)
		if failure.Status >= http.StatusInternalServerError {
			reqLogger.Error("request failed",
				slog.String("code", failure.Code()),
				slog.Any("error", failure.Structured()),
			)
		}
	} else {
		outcome.write(w)
		state.Response.Status = outcome.statusOrDefault()
		if outcome.InvalidateContext && state.Context.ResourceID != "" {
			d.cache.Invalidate(state.Context.ResourceID)
			state.Context.Invalidated = true
		}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", state.Response.Status))

	duration := time.Since(state.StartedAt)
	if reqLogger.Enabled(ctx, slog.LevelDebug) {
		reqLogger.LogAttrs(ctx, slog.LevelDebug, "request snapshot", state.LogAttrs()...)
	}
	reqLogger.Info("request completed",
		slog.Int("http_status", state.Response.Status),
		slog.String("outcome", state.Outcome()),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
	)
	if d.observer != nil {
		d.observer.ObserveRequest(d.kind.Name(), route.Path, state.Response.Status, duration)
	}
}

func run[Req, Ctx any](ctx context.Context, d *Dispatcher[Ctx], route Route[Req, Ctx], r *http.Request, state *State) (Outcome, *Failure) {
	stageStart := time.Now()
	if d.readiness != nil && !d.readiness.Ready() {
		failure := NotInitialized()
		state.Fail(StageReadiness, failure, time.Since(stageStart))
		return Outcome{}, failure
	}
	state.Record(StageReadiness, "pass", "", time.Since(stageStart))

	stageStart = time.Now()
	req, failure := decodeBody[Req](r, state)
	if failure != nil {
		state.Fail(StageBody, failure, time.Since(stageStart))
		return Outcome{}, failure
	}
	var resourceID string
	if route.ResourceID != nil {
		resourceID = strings.TrimSpace(route.ResourceID(req))
	}
	if resourceID == "" {
		failure := MalformedBody(errMissingResourceID)
		state.Fail(StageBody, failure, time.Since(stageStart))
		return Outcome{}, failure
	}
	state.Record(StageBody, "pass", "", time.Since(stageStart))

	stageStart = time.Now()
	forceReload := route.ForceReload != nil && route.ForceReload(req)
	state.Context.ResourceID = resourceID
	state.Context.ForceReload = forceReload
	build := func(buildCtx context.Context) (Ctx, error) {
		return d.kind.BuildContext(buildCtx, resourceID)
	}
	ictx, err := d.cache.GetOrBuild(ctx, resourceID, build, forceReload)
	if err != nil {
		state.Context.Error = err.Error()
		failure := ContextBuild(d.kind.Name(), resourceID, err)
		state.Fail(StageContext, failure, time.Since(stageStart))
		return Outcome{}, failure
	}
	state.Context.Loaded = true
	state.Record(StageContext, "pass", "", time.Since(stageStart))

	stageStart = time.Now()
	outcome, err := invoke(ctx, route, req, ictx)
	if err != nil {
		failure, ok := AsFailure(err)
		if !ok {
			failure = HandlerFailure(err, debug.Stack())
		}
		state.Fail(StageHandler, failure, time.Since(stageStart))
		return Outcome{}, failure
	}
	state.Record(StageHandler, "pass", "", time.Since(stageStart))
	return outcome, nil
}

// invoke runs the handler and turns a panic into a handler failure carrying
// the stack of the panicking goroutine.
func invoke[Req, Ctx any](ctx context.Context, route Route[Req, Ctx], req Req, ictx Ctx) (outcome Outcome, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			var cause error
			switch v := recovered.(type) {
			case error:
				cause = v
			default:
				cause = fmt.Errorf("%v", v)
			}
			outcome = Outcome{}
			err = HandlerFailure(cause, debug.Stack())
		}
	}()
	if route.Handle == nil {
		return Outcome{}, HandlerFailure(errors.New("route has no handler"), nil)
	}
	return route.Handle(ctx, req, ictx)
}

// decodeBody rejects absent bodies and bodies that decode to null or an empty
// object before decoding into Req.
func decodeBody[Req any](r *http.Request, state *State) (Req, *Failure) {
	var req Req
	if r.Body == nil {
		return req, EmptyBody()
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return req, MalformedBody(err)
	}
	state.Request.BodyBytes = len(raw)
	if len(bytes.TrimSpace(raw)) == 0 {
		return req, EmptyBody()
	}

	var probe any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&probe); err != nil {
		return req, MalformedBody(err)
	}
	if isEmptyDocument(probe) {
		return req, EmptyBody()
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, MalformedBody(err)
	}
	return req, nil
}

func isEmptyDocument(v any) bool {
	switch doc := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(doc) == 0
	case []any:
		return len(doc) == 0
	default:
		return false
	}
}
