// Package audiencefeed serves the audience feed kind: creating and connecting
// external segments, and pushing user segment membership one user or one
// batch at a time.
package audiencefeed

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/l0p7/pluginrt/internal/gateway"
	"github.com/l0p7/pluginrt/internal/plugins"
	"github.com/l0p7/pluginrt/internal/runtime/pipeline"
)

// Name is the plugin.kind value selecting this kind.
const Name = "audience_feed"

const (
	PathSegmentCreation   = "/v1/external_segment_creation"
	PathSegmentConnection = "/v1/external_segment_connection"
	PathUserSegmentUpdate = "/v1/user_segment_update"
	PathBatchUpdate       = "/v1/batch_update"

	// HeaderNextMessageDelay asks the platform to wait before the next update.
	HeaderNextMessageDelay = "x-mics-next-msg-delay"
)

// Handler is the business logic of one audience feed.
type Handler interface {
	CreateSegment(ctx context.Context, req SegmentCreationRequest, inst *Instance) (SegmentCreationResult, error)
	ConnectSegment(ctx context.Context, req SegmentConnectionRequest, inst *Instance) (SegmentConnectionResult, error)
	UpdateUserSegment(ctx context.Context, req UserSegmentUpdateRequest, inst *Instance) (UserSegmentUpdateResult, error)
	UpdateBatch(ctx context.Context, req BatchUpdateRequest, inst *Instance) (BatchUpdateResult, error)
}

type kind struct {
	gw *gateway.Client
}

func (kind) Name() string { return Name }

// BuildContext loads the feed and its properties.
func (k kind) BuildContext(ctx context.Context, feedID string) (*Instance, error) {
	if k.gw == nil {
		return nil, errors.New("audiencefeed: gateway client not configured")
	}
	feed, err := plugins.FetchEntity[Feed](ctx, k.gw, plugins.ResourcePath("audience_segment_external_feeds", feedID))
	if err != nil {
		return nil, err
	}
	props, err := plugins.FetchProperties(ctx, k.gw, plugins.ResourcePath("audience_segment_external_feeds", feedID, "properties"))
	if err != nil {
		return nil, err
	}
	return &Instance{Feed: feed, Properties: props}, nil
}

// Plugin mounts the audience feed routes.
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

// Register mounts the four feed routes.
func (p *Plugin) Register(r chi.Router) {
	plugins.Post(r, p.Dispatcher, pipeline.Route[SegmentCreationRequest, *Instance]{
		Path:       PathSegmentCreation,
		ResourceID: func(req SegmentCreationRequest) string { return req.FeedID },
		Handle:     p.createSegment,
	})
	plugins.Post(r, p.Dispatcher, pipeline.Route[SegmentConnectionRequest, *Instance]{
		Path:       PathSegmentConnection,
		ResourceID: func(req SegmentConnectionRequest) string { return req.FeedID },
		Handle:     p.connectSegment,
	})
	plugins.Post(r, p.Dispatcher, pipeline.Route[UserSegmentUpdateRequest, *Instance]{
		Path:       PathUserSegmentUpdate,
		ResourceID: func(req UserSegmentUpdateRequest) string { return req.FeedID },
		Handle:     p.updateUserSegment,
	})
	plugins.Post(r, p.Dispatcher, pipeline.Route[BatchUpdateRequest, *Instance]{
		Path:       PathBatchUpdate,
		ResourceID: func(req BatchUpdateRequest) string { return req.Context.FeedID },
		Handle:     p.updateBatch,
	})
}

func (p *Plugin) createSegment(ctx context.Context, req SegmentCreationRequest, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.CreateSegment(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	visibility := res.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}
	return pipeline.JSON(CreationStatuses.Code(res.Status), creationBody{
		Status:     res.Status,
		Message:    res.Message,
		Visibility: visibility,
	}), nil
}

func (p *Plugin) connectSegment(ctx context.Context, req SegmentConnectionRequest, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.ConnectSegment(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.JSON(ConnectionStatuses.Code(res.Status), connectionBody{Status: res.Status, Message: res.Message}), nil
}

func (p *Plugin) updateUserSegment(ctx context.Context, req UserSegmentUpdateRequest, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.UpdateUserSegment(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	outcome := pipeline.JSON(UpdateStatuses.Code(res.Status), updateBody{
		Status:           res.Status,
		Message:          res.Message,
		Data:             res.Data,
		NextMsgDelayInMs: res.NextMessageDelayMillis,
	})
	if res.Status == UpdateOK && res.NextMessageDelayMillis > 0 {
		outcome = outcome.WithHeader(HeaderNextMessageDelay, strconv.Itoa(res.NextMessageDelayMillis))
	}
	return outcome, nil
}

func (p *Plugin) updateBatch(ctx context.Context, req BatchUpdateRequest, inst *Instance) (pipeline.Outcome, error) {
	res, err := p.handler.UpdateBatch(ctx, req, inst)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.JSON(BatchStatuses.Code(res.Status), batchBody{
		Status:             res.Status,
		Message:            res.Message,
		SentItemsInSuccess: res.Succeeded,
		SentItemsInError:   res.Failed,
	}), nil
}
