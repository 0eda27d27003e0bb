// Package recommender serves the recommender kind, which proposes catalog
// items for a user.
package recommender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/properties"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

// Name is the plugin.kind value selecting this kind.
const Name = "recommender"

const PathRecommendations = "/v1/recommendations"

// ProposalTypeItem marks a proposal pointing at a catalog item.
const ProposalTypeItem = "ITEM_PROPOSAL"

// Status is the outcome of one recommendation call.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

var Statuses = pipeline.NewStatusTable(Name, map[Status]int{
	StatusOK:    http.StatusOK,
	StatusError: http.StatusInternalServerError,
}, http.StatusInternalServerError)

// Instance is the cached context of one recommender.
type Instance struct {
	RecommenderID string
	Properties    properties.Set
}

// Request asks for proposals for one user.
type Request struct {
	RecommenderID   string            `json:"recommender_id"`
	DatamartID      string            `json:"datamart_id"`
	UserIdentifiers []json.RawMessage `json:"user_identifiers"`
	InputData       map[string]any    `json:"input_data"`
}

// Proposal is one recommended item.
type Proposal struct {
	Type      string `json:"$type"`
	ItemID    string `json:"$item_id"`
	CatalogID string `json:"$catalog_id"`
}

// Result is the handler's answer.
type Result struct {
	Status    Status
	Message   string
	Proposals []Proposal
}

type responseBody struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    *proposalsBody `json:"data,omitempty"`
}

type proposalsBody struct {
	TS        int64      `json:"ts"`
	Proposals []Proposal `json:"proposals"`
}

// Handler produces recommendations.
type Handler interface {
	Recommend(ctx context.Context, req Request, inst *Instance) (Result, error)
}

type kind struct {
	gw *gateway.Client
}

func (kind) Name() string { return Name }

func (k kind) BuildContext(ctx context.Context, id string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("recommender: gateway client not configured")
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("recommenders", id, "properties"))
	if err != nil {
		return nil, err
	}
	return &Instance{RecommenderID: id, Properties: props}, nil
}

// Plugin mounts the recommendation route.
type Plugin struct {
	plugins.Base[*Instance]
	handler Handler
	now     func() int64
}

// New wires handler behind the shared pipeline.
func New(deps plugins.Deps, handler Handler) *Plugin {
	return &Plugin{
		Base:    plugins.Base[*Instance]{Dispatcher: plugins.NewDispatcher[*Instance](kind{gw: deps.Gateway}, deps)},
		handler: handler,
		now:     unixMillis,
	}
}

// Register mounts POST /v1/recommendations.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[Request, *Instance]{
		Path:       PathRecommendations,
		ResourceID: func(req Request) string { return req.RecommenderID },
		Handle:     p.recommend,
	})
}

func (p *Plugin) recommend(ctx context.Context, req Request, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.Recommend(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	body := responseBody{Status: res.Status, Message: res.Message}
	if res.Status == StatusOK {
		proposals := res.Proposals
		if proposals == nil {
			proposals = []Proposal{}
		}
		body.Data = &proposalsBody{TS: p.now(), Proposals: proposals}
	}
	return pipeline.JSON(Statuses.Code(res.Status), body), nil
}

func unixMillis() int64 { return time.Now().UnixMilli() }
