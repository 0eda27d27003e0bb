// Package emailrouter serves the e-mail router kind, which decides whether
// and how a rendered e-mail is delivered.
package emailrouter

import (
	"context"
	"encoding/json"
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
)

// Name is the plugin.kind value selecting this kind.
const Name = "email_router"

const (
	PathEmailRouting     = "/v1/email_routing"
	PathEmailRouterCheck = "/v1/email_router_check"

	// PropertySendCondition is a CEL boolean over input and properties.
	PropertySendCondition = "send_condition"
)

// Status is the outcome of a routing or check call.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

var Statuses = pipeline.NewStatusTable(Name, map[Status]int{
	StatusOK:    http.StatusOK,
	StatusError: http.StatusInternalServerError,
}, http.StatusInternalServerError)

// Instance is the cached context of one router.
type Instance struct {
	RouterID   string
	Properties properties.Set
	// Condition gates delivery when the router declares send_condition.
	Condition *expr.Program
}

// Meta addresses the message.
type Meta struct {
	FromEmail   string `json:"from_email"`
	FromName    string `json:"from_name"`
	ToEmail     string `json:"to_email"`
	ToName      string `json:"to_name"`
	ReplyTo     string `json:"reply_to"`
	SubjectLine string `json:"subject_line"`
}

// Content is the rendered message body.
type Content struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

// RoutingRequest asks the router to deliver one e-mail.
type RoutingRequest struct {
	EmailRouterID   string            `json:"email_router_id"`
	CallID          string            `json:"call_id"`
	Context         string            `json:"context"`
	CreativeID      string            `json:"creative_id"`
	CampaignID      string            `json:"campaign_id"`
	BlastID         string            `json:"blast_id"`
	DatamartID      string            `json:"datamart_id"`
	UserIdentifiers []json.RawMessage `json:"user_identifiers"`
	Meta            Meta              `json:"meta"`
	Content         Content           `json:"content"`
	Data            map[string]any    `json:"data"`
}

// CheckRequest asks whether the router can deliver for a blast.
type CheckRequest struct {
	EmailRouterID string `json:"email_router_id"`
	BlastID       string `json:"blast_id"`
}

// Result answers either route. Delivered reports whether the e-mail was sent
// for routing calls and whether the router is usable for check calls.
type Result struct {
	Status    Status
	Message   string
	Delivered bool
}

type responseBody struct {
	Result  bool   `json:"result"`
	Message string `json:"message,omitempty"`
}

// Handler routes e-mails for a resolved router.
type Handler interface {
	Route(ctx context.Context, req RoutingRequest, inst *Instance) (Result, error)
	Check(ctx context.Context, req CheckRequest, inst *Instance) (Result, error)
}

type kind struct {
	gw  *gateway.Client
	env func() (*expr.Environment, error)
}

func (kind) Name() string { return Name }

// BuildContext loads the router properties and compiles its send condition.
func (k kind) BuildContext(ctx context.Context, id string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("emailrouter: gateway client not configured")
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("email_routers", id, "properties"))
	if err != nil {
		return nil, err
	}
	inst := &Instance{RouterID: id, Properties: props}
	if source, ok := props.String(PropertySendCondition); ok && source != "" {
		env, err := k.env()
		if err != nil {
			return nil, err
		}
		program, err := env.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("emailrouter: router %s: %w", id, err)
		}
		inst.Condition = &program
	}
	return inst, nil
}

// Plugin mounts the routing and check routes.
type Plugin struct {
	plugins.Base[*Instance]
	handler Handler
}

// New wires handler behind the shared pipeline.
func New(deps plugins.Deps, handler Handler) *Plugin {
	k := kind{gw: deps.Gateway, env: sync.OnceValues(expr.NewEnvironment)}
	return &Plugin{
		Base:    plugins.Base[*Instance]{Dispatcher: plugins.NewDispatcher[*Instance](k, deps)},
		handler: handler,
	}
}

// Register mounts POST /v1/email_routing and POST /v1/email_router_check.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[RoutingRequest, *Instance]{
		Path:       PathEmailRouting,
		ResourceID: func(req RoutingRequest) string { return req.EmailRouterID },
		Handle: func(ctx context.Context, req RoutingRequest, inst *Instance) (pipeline.Outcome, error) {
			return respond(p.handler.Route(ctx, req, inst))
		},
	})
	plugins.Post(r, p.Dispatcher, pipeline.Route[CheckRequest, *Instance]{
		Path:       PathEmailRouterCheck,
		ResourceID: func(req CheckRequest) string { return req.EmailRouterID },
		Handle: func(ctx context.Context, req CheckRequest, inst *Instance) (pipeline.Outcome, error) {
			return respond(p.handler.Check(ctx, req, inst))
		},
	})
}

func respond(res Result, err error) (pipeline.Outcome, error) {
	if err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.JSON(Statuses.Code(res.Status), responseBody{Result: res.Delivered, Message: res.Message}), nil
}
