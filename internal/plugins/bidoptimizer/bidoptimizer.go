// Package bidoptimizer serves the bid optimizer kind: one bid decision per
// auction, priced from the optimizer's properties.
package bidoptimizer

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
const Name = "bid_optimizer"

const PathBidDecisions = "/v1/bid_decisions"

// Status is the outcome of a bid decision.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

var Statuses = pipeline.NewStatusTable(Name, map[Status]int{
	StatusOK:    http.StatusOK,
	StatusError: http.StatusInternalServerError,
}, http.StatusInternalServerError)

// BidOptimizer is the optimizer resource.
type BidOptimizer struct {
	ID               string `json:"id"`
	OrganisationID   string `json:"organisation_id"`
	Name             string `json:"name"`
	EngineArtifactID string `json:"engine_artifact_id"`
	EngineVersionID  string `json:"engine_version_id"`
}

// Instance is the cached context of one bid optimizer.
type Instance struct {
	Optimizer  BidOptimizer
	Properties properties.Set
}

// CampaignInfo locates the optimizer and caps the bid.
type CampaignInfo struct {
	BidOptimizerID string  `json:"bid_optimizer_id"`
	CampaignID     string  `json:"campaign_id"`
	AdGroupID      string  `json:"ad_group_id"`
	MaxBidPrice    float64 `json:"max_bid_price"`
	Currency       string  `json:"currency"`
}

// Placement is one slot offered in the auction.
type Placement struct {
	PlacementID string  `json:"placement_id"`
	FloorPrice  float64 `json:"floor_price"`
}

// BidInfo describes the auction.
type BidInfo struct {
	MediaType        string      `json:"media_type"`
	AdExID           string      `json:"ad_ex_id"`
	DisplayNetworkID string      `json:"display_network_id"`
	MediumID         string      `json:"medium_id"`
	Placements       []Placement `json:"placements"`
}

// Request is one bid decision request.
type Request struct {
	CampaignInfo CampaignInfo `json:"campaign_info"`
	BidInfo      BidInfo      `json:"bid_info"`
	UserInfo     any          `json:"user_info,omitempty"`
}

// Bid is a priced answer for one placement.
type Bid struct {
	PlacementID string  `json:"placement_id"`
	BidPrice    float64 `json:"bid_price"`
	Currency    string  `json:"currency"`
}

// Result is the handler's decision. An empty Bids list means no bid.
type Result struct {
	Status  Status
	Message string
	Bids    []Bid
}

type responseBody struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Bids    []Bid  `json:"bids"`
}

// Handler prices one auction.
type Handler interface {
	Decide(ctx context.Context, req Request, inst *Instance) (Result, error)
}

type kind struct {
	gw *gateway.Client
}

func (kind) Name() string { return Name }

func (k kind) BuildContext(ctx context.Context, id string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("bidoptimizer: gateway client not configured")
	}
	optimizer, err := plugins.FetchEntity[BidOptimizer](ctx, k.gw, plugins.ResourcePath("bid_optimizers", id))
	if err != nil {
		return nil, err
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("bid_optimizers", id, "properties"))
	if err != nil {
		return nil, err
	}
	return &Instance{Optimizer: optimizer, Properties: props}, nil
}

// Plugin mounts the bid decision route.
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

// Register mounts POST /v1/bid_decisions.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[Request, *Instance]{
		Path:       PathBidDecisions,
		ResourceID: func(req Request) string { return req.CampaignInfo.BidOptimizerID },
		Handle:     p.decide,
	})
}

func (p *Plugin) decide(ctx context.Context, req Request, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.Decide(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	bids := res.Bids
	if bids == nil {
		bids = []Bid{}
	}
	return pipeline.JSON(Statuses.Code(res.Status), responseBody{Status: res.Status, Message: res.Message, Bids: bids}), nil
}
