// Package activityanalyzer serves the activity analyzer kind, which rewrites
// user activities before they are stored.
package activityanalyzer

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/properties"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

// Name is the plugin.kind value selecting this kind.
const Name = "activity_analyzer"

const PathActivityAnalysis = "/v1/activity_analysis"

// Status is the outcome of one analysis.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

var Statuses = pipeline.NewStatusTable(Name, map[Status]int{
	StatusOK:    http.StatusOK,
	StatusError: http.StatusInternalServerError,
}, http.StatusInternalServerError)

// ActivityAnalyzer is the analyzer resource.
type ActivityAnalyzer struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	VisitAnalyzer  bool   `json:"visit_analyzer"`
}

// Instance is the cached context of one analyzer.
type Instance struct {
	Analyzer   ActivityAnalyzer
	Properties properties.Set
}

// Request carries one activity. Activity is kept as a generic document since
// analyzers may rewrite any part of it.
type Request struct {
	ActivityAnalyzerID string         `json:"activity_analyzer_id"`
	DatamartID         string         `json:"datamart_id"`
	ChannelID          string         `json:"channel_id"`
	Activity           map[string]any `json:"activity"`
}

// Result carries the rewritten activity.
type Result struct {
	Status   Status
	Message  string
	Activity map[string]any
}

type responseBody struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Handler analyzes one activity.
type Handler interface {
	Analyze(ctx context.Context, req Request, inst *Instance) (Result, error)
}

type kind struct {
	gw *gateway.Client
}

func (kind) Name() string { return Name }

func (k kind) BuildContext(ctx context.Context, id string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("activityanalyzer: gateway client not configured")
	}
	analyzer, err := plugins.FetchEntity[ActivityAnalyzer](ctx, k.gw, plugins.ResourcePath("activity_analyzers", id))
	if err != nil {
		return nil, err
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("activity_analyzers", id, "properties"))
	if err != nil {
		return nil, err
	}
	return &Instance{Analyzer: analyzer, Properties: props}, nil
}

// Plugin mounts the analysis route.
type Plugin struct {
	plugins.Base[*Instance]
	handler Handler
}

// New wires handler behind the shared pipeline.
func New(deps plugins.Deps, handler Handler) *Plugin {
	return &Plugin{
		Base:    plugins.Base[*Instance]{Dispatcher: plugins.NewDispatcher[*Instance](kind{gw: deps.Gateway}, deps)},
		handler: handler,
	}
}

// Register mounts POST /v1/activity_analysis.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[Request, *Instance]{
		Path:       PathActivityAnalysis,
		ResourceID: func(req Request) string { return req.ActivityAnalyzerID },
		Handle:     p.analyze,
	})
}

func (p *Plugin) analyze(ctx context.Context, req Request, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.Analyze(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.JSON(Statuses.Code(res.Status), responseBody{Status: res.Status, Message: res.Message, Data: res.Activity}), nil
}
