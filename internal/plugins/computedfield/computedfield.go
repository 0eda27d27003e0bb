// Package computedfield serves the computed field kind. A computed field folds
// user activity into a per-user state and derives a result value from it.
package computedfield

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/l0p7/pluginrt/internal/expr"
	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/properties"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
	"github.com/l0p7/pluginrt/internal/templates"
)

// Name is the plugin.kind value selecting this kind.
const Name = "computed_field"

const (
	PathUpdateSingle = "/v1/computed_field/update/single"
	PathUpdateBatch  = "/v1/computed_field/update/batch"
	PathBuildResult  = "/v1/computed_field/build_result"
)

// Status is the outcome of an update or result call.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

var Statuses = pipeline.NewStatusTable(Name, map[Status]int{
	StatusOK:    http.StatusOK,
	StatusError: http.StatusInternalServerError,
}, http.StatusInternalServerError)

// ComputedField is the field resource.
type ComputedField struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OrganisationID string `json:"organisation_id"`
	DatamartID     string `json:"datamart_id"`
}

// Instance is the cached context of one computed field.
type Instance struct {
	Field      ComputedField
	Properties properties.Set

	evaluator *expr.HybridEvaluator
}

// Evaluate runs a property expression against vars. Template expressions
// render to a string; CEL expressions yield plain JSON values.
func (i *Instance) Evaluate(expression string, vars map[string]any) (any, error) {
	if i.evaluator == nil {
		return nil, errors.New("computedfield: instance has no evaluator")
	}
	if expr.IsTemplate(expression) {
		return i.evaluator.Evaluate(expression, vars)
	}
	program, err := i.evaluator.Environment().CompileValue(expression)
	if err != nil {
		return nil, err
	}
	return program.EvalJSON(vars)
}

// UpdateSingleRequest folds one record into the state.
type UpdateSingleRequest struct {
	ComputedFieldID string         `json:"computed_field_id"`
	DatamartID      string         `json:"datamart_id"`
	UserPointID     string         `json:"user_point_id"`
	State           map[string]any `json:"state"`
	Data            map[string]any `json:"data"`
}

// UpdateBatchRequest folds records into the state in order.
type UpdateBatchRequest struct {
	ComputedFieldID string           `json:"computed_field_id"`
	DatamartID      string           `json:"datamart_id"`
	UserPointID     string           `json:"user_point_id"`
	State           map[string]any   `json:"state"`
	Data            []map[string]any `json:"data"`
}

// BuildResultRequest derives the field value from a state.
type BuildResultRequest struct {
	ComputedFieldID string         `json:"computed_field_id"`
	DatamartID      string         `json:"datamart_id"`
	UserPointID     string         `json:"user_point_id"`
	State           map[string]any `json:"state"`
}

// StateResult answers both update routes.
type StateResult struct {
	Status  Status
	Message string
	State   map[string]any
}

// ValueResult answers build_result.
type ValueResult struct {
	Status  Status
	Message string
	Result  any
}

type stateBody struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	State   map[string]any `json:"state"`
}

type resultBody struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result"`
}

// Handler computes field states and results.
type Handler interface {
	UpdateSingle(ctx context.Context, req UpdateSingleRequest, inst *Instance) (StateResult, error)
	UpdateBatch(ctx context.Context, req UpdateBatchRequest, inst *Instance) (StateResult, error)
	BuildResult(ctx context.Context, req BuildResultRequest, inst *Instance) (ValueResult, error)
}

type kind struct {
	gw        *gateway.Client
	renderer  *templates.Renderer
	evaluator func() (*expr.HybridEvaluator, error)
}

func (kind) Name() string { return Name }

// BuildContext loads the field and checks that its expressions compile, so a
// broken formula fails the build instead of every request.
func (k kind) BuildContext(ctx context.Context, id string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("computedfield: gateway client not configured")
	}
	field, err := plugins.FetchEntity[ComputedField](ctx, k.gw, plugins.ResourcePath("computed_fields", id))
	if err != nil {
		return nil, err
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("computed_fields", id, "properties"))
	if err != nil {
		return nil, err
	}
	evaluator, err := k.evaluator()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{PropertyUpdateExpression, PropertyResultExpression} {
		source, ok := props.String(name)
		if !ok || source == "" {
			continue
		}
		if expr.IsTemplate(source) {
			_, err = k.renderer.CompileInline(name, source)
		} else {
			_, err = evaluator.Environment().CompileValue(source)
		}
		if err != nil {
			return nil, fmt.Errorf("computedfield: field %s %s: %w", id, name, err)
		}
	}
	return &Instance{Field: field, Properties: props, evaluator: evaluator}, nil
}

// Plugin mounts the update and result routes.
type Plugin struct {
	plugins.Base[*Instance]
	handler Handler
}

// New wires handler behind the shared pipeline.
func New(deps plugins.Deps, handler Handler) *Plugin {
	renderer := deps.Renderer()
	evaluator := sync.OnceValues(func() (*expr.HybridEvaluator, error) {
		return expr.NewHybridEvaluator(renderer)
	})
	k := kind{gw: deps.Gateway, renderer: renderer, evaluator: evaluator}
	return &Plugin{
		Base:    plugins.Base[*Instance]{Dispatcher: plugins.NewDispatcher[*Instance](k, deps)},
		handler: handler,
	}
}

// Register mounts the three computed field routes.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[UpdateSingleRequest, *Instance]{
		Path:       PathUpdateSingle,
		ResourceID: func(req UpdateSingleRequest) string { return req.ComputedFieldID },
		Handle: func(ctx context.Context, req UpdateSingleRequest, inst *Instance) (pipeline.Outcome, error) {
			return respondState(p.handler.UpdateSingle(ctx, req, inst))
		},
	})
	plugins.Post(r, p.Dispatcher, pipeline.Route[UpdateBatchRequest, *Instance]{
		Path:       PathUpdateBatch,
		ResourceID: func(req UpdateBatchRequest) string { return req.ComputedFieldID },
		Handle: func(ctx context.Context, req UpdateBatchRequest, inst *Instance) (pipeline.Outcome, error) {
			return respondState(p.handler.UpdateBatch(ctx, req, inst))
		},
	})
	plugins.Post(r, p.Dispatcher, pipeline.Route[BuildResultRequest, *Instance]{
		Path:       PathBuildResult,
		ResourceID: func(req BuildResultRequest) string { return req.ComputedFieldID },
		Handle:     p.buildResult,
	})
}

func (p *Plugin) buildResult(ctx context.Context, req BuildResultRequest, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.BuildResult(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.JSON(Statuses.Code(res.Status), resultBody{Status: res.Status, Message: res.Message, Result: res.Result}), nil
}

func respondState(res StateResult, err error) (pipeline.Outcome, error) {
	if err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.JSON(Statuses.Code(res.Status), stateBody{Status: res.Status, Message: res.Message, State: res.State}), nil
}
