package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

// MetricsPath serves the Prometheus exposition.
const MetricsPath = "/metrics"

// Registrar mounts one group of routes, such as the fixed routes or one
// plugin kind's business routes.
type Registrar interface {
	Register(chi.Router)
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(chi.Router)

// Register calls f(r).
func (f RegistrarFunc) Register(r chi.Router) { f(r) }

// Gate is the admission surface the router needs. *admission.Gate satisfies it.
type Gate interface {
	Middleware(http.Handler) http.Handler
}

// RouterOptions wires the HTTP surface.
type RouterOptions struct {
	Logger *slog.Logger
	// CorrelationHeader is read from requests and echoed on responses.
	CorrelationHeader string
	Gate              Gate
	Metrics           http.Handler
	Registrars        []Registrar
}

// NewRouter assembles the chi router: correlation ids, panic recovery,
// admission control, then every registrar's routes.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("agent", "router"))
	header := strings.TrimSpace(opts.CorrelationHeader)

	r := chi.NewRouter()
	r.Use(correlationMiddleware(header))
	r.Use(recoverMiddleware(logger))
	if opts.Gate != nil {
		r.Use(opts.Gate.Middleware)
	}

	if opts.Metrics != nil {
		r.Method(http.MethodGet, MetricsPath, opts.Metrics)
	}
	for _, registrar := range opts.Registrars {
		if registrar != nil {
			registrar.Register(r)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		pipeline.WriteJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("route %s not found", req.URL.Path)})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		pipeline.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)})
	})
	return r
}

// correlationMiddleware reuses the inbound correlation id or mints a uuid, and
// stores it on the request context for the pipeline's logs.
func correlationMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if header != "" {
				id = strings.TrimSpace(r.Header.Get(header))
			}
			if id == "" {
				id = uuid.NewString()
			}
			if header != "" {
				w.Header().Set(header, id)
			}
			next.ServeHTTP(w, r.WithContext(pipeline.WithCorrelationID(r.Context(), id)))
		})
	}
}

// recoverMiddleware covers panics outside the business pipeline, which
// recovers its own handlers.
func recoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logger.Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", pipeline.CorrelationID(r.Context())),
					slog.Any("panic", rec),
				)
				pipeline.WriteFailure(w, pipeline.HandlerFailure(fmt.Errorf("panic: %v", rec), stack))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
