// Package customaction serves the scenario custom action kind, run when an
// automation scenario reaches a custom action node.
package customaction

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
const Name = "custom_action"

const PathCustomActions = "/v1/scenario_custom_actions"

// Status is the outcome of one action run. ko is a business refusal, error an
// execution failure; both are reported as 500.
type Status string

const (
	StatusOK    Status = "ok"
	StatusKO    Status = "ko"
	StatusError Status = "error"
)

var Statuses = pipeline.NewStatusTable(Name, map[Status]int{
	StatusOK:    http.StatusOK,
	StatusKO:    http.StatusInternalServerError,
	StatusError: http.StatusInternalServerError,
}, http.StatusInternalServerError)

// CustomAction is the action resource.
type CustomAction struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`
	Name           string `json:"name"`
	GroupID        string `json:"group_id"`
	ArtifactID     string `json:"artifact_id"`
}

// Instance is the cached context of one custom action.
type Instance struct {
	Action     CustomAction
	Properties properties.Set
}

// Request runs the action for one user.
type Request struct {
	UserPointID    string `json:"user_point_id"`
	CustomActionID string `json:"custom_action_id"`
	DatamartID     string `json:"datamart_id"`
	ScenarioID     string `json:"scenario_id"`
	NodeID         string `json:"node_id"`
}

// Result is the handler's answer.
type Result struct {
	Status  Status
	Message string
}

type responseBody struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Handler runs one custom action.
type Handler interface {
	Run(ctx context.Context, req Request, inst *Instance) (Result, error)
}

type kind struct {
	gw *gateway.Client
}

func (kind) Name() string { return Name }

func (k kind) BuildContext(ctx context.Context, id string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("customaction: gateway client not configured")
	}
	action, err := plugins.FetchEntity[CustomAction](ctx, k.gw, plugins.ResourcePath("scenario_custom_actions", id))
	if err != nil {
		return nil, err
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("scenario_custom_actions", id, "properties"))
	if err != nil {
		return nil, err
	}
	return &Instance{Action: action, Properties: props}, nil
}

// Plugin mounts the custom action route.
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

// Register mounts POST /v1/scenario_custom_actions.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[Request, *Instance]{
		Path:       PathCustomActions,
		ResourceID: func(req Request) string { return req.CustomActionID },
		Handle:     p.run,
	})
}

func (p *Plugin) run(ctx context.Context, req Request, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.Run(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.JSON(Statuses.Code(res.Status), responseBody{Status: res.Status, Message: res.Message}), nil
}
