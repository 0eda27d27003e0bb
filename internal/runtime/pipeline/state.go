package pipeline

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Stage names recorded on State while a business request moves through the
// dispatcher.
const (
	StageReadiness = "readiness"
	StageBody      = "body"
	StageContext   = "context"
	StageHandler   = "handler"
)

// Result captures the outcome one stage emitted.
type Result struct {
	Name    string        `json:"name"`
	Status  string        `json:"status"`
	Details string        `json:"details,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// RequestState preserves the inbound request snapshot.
type RequestState struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	BodyBytes int    `json:"bodyBytes"`
}

// ContextState records how the instance context was obtained.
type ContextState struct {
	ResourceID  string `json:"resourceId,omitempty"`
	ForceReload bool   `json:"forceReload"`
	Loaded      bool   `json:"loaded"`
	Invalidated bool   `json:"invalidated"`
	Error       string `json:"error,omitempty"`
}

// ResponseState is what the dispatcher wrote back.
type ResponseState struct {
	Status int    `json:"status"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// State is the per-request record shared by the dispatcher stages. It feeds
// the completion log line and the debug snapshot.
type State struct {
	Kind          string        `json:"kind"`
	Route         string        `json:"route"`
	CorrelationID string        `json:"correlationId,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	Request       RequestState  `json:"request"`
	Context       ContextState  `json:"context"`
	Response      ResponseState `json:"response"`
	Stages        []Result      `json:"stages,omitempty"`
}

// NewState snapshots r for the given kind and route.
func NewState(r *http.Request, kind, route, correlationID string) *State {
	state := &State{
		Kind:          kind,
		Route:         route,
		CorrelationID: strings.TrimSpace(correlationID),
		StartedAt:     time.Now(),
	}
	if r != nil {
		state.Request.Method = r.Method
		if r.URL != nil {
			state.Request.Path = r.URL.Path
		}
	}
	return state
}

// Record appends a stage result.
func (s *State) Record(name, status, details string, elapsed time.Duration) {
	if s == nil {
		return
	}
	s.Stages = append(s.Stages, Result{Name: name, Status: status, Details: details, Elapsed: elapsed})
}

// Fail stores f as the response and records the failing stage.
func (s *State) Fail(stage string, f *Failure, elapsed time.Duration) {
	if s == nil || f == nil {
		return
	}
	s.Response = ResponseState{Status: f.Status, Code: f.Code(), Error: f.Message}
	s.Record(stage, "fail", f.Message, elapsed)
}

// LastStage returns the most recent stage result.
func (s *State) LastStage() (Result, bool) {
	if s == nil || len(s.Stages) == 0 {
		return Result{}, false
	}
	return s.Stages[len(s.Stages)-1], true
}

// Outcome summarizes the request for logs and metrics.
func (s *State) Outcome() string {
	if s == nil {
		return ""
	}
	if s.Response.Code != "" {
		return s.Response.Code
	}
	if s.Response.Status >= http.StatusBadRequest {
		return "failure"
	}
	return "success"
}

// LogAttrs renders the debug snapshot attributes.
func (s *State) LogAttrs() []slog.Attr {
	if s == nil {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("method", s.Request.Method),
		slog.String("path", s.Request.Path),
		slog.Int("body_bytes", s.Request.BodyBytes),
		slog.Bool("context_force_reload", s.Context.ForceReload),
		slog.Bool("context_loaded", s.Context.Loaded),
		slog.Int("response_status", s.Response.Status),
	}
	if s.Context.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", s.Context.ResourceID))
	}
	if s.Context.Invalidated {
		attrs = append(attrs, slog.Bool("context_invalidated", true))
	}
	if s.Context.Error != "" {
		attrs = append(attrs, slog.String("context_error", s.Context.Error))
	}
	if s.Response.Code != "" {
		attrs = append(attrs, slog.String("response_code", s.Response.Code))
	}
	if len(s.Stages) > 0 {
		stages := make([]map[string]any, 0, len(s.Stages))
		for _, stage := range s.Stages {
			entry := map[string]any{"name": stage.Name, "status": stage.Status}
			if stage.Details != "" {
				entry["details"] = stage.Details
			}
			stages = append(stages, entry)
		}
		attrs = append(attrs, slog.Any("stages", stages))
	}
	return attrs
}
