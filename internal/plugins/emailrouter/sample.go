package emailrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/l0p7/pluginrt/internal/expr"
)

// PropertyProvider names the delivery provider; a router without one cannot
// deliver.
const PropertyProvider = "provider"

// Sample evaluates the send condition and accepts the message for delivery
// when it holds. It performs no delivery itself.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) Route(_ context.Context, req RoutingRequest, inst *Instance) (Result, error) {
	if _, ok := inst.Properties.String(PropertyProvider); !ok {
		return Result{Status: StatusError, Message: "provider property missing"}, nil
	}
	if req.Meta.ToEmail == "" && len(req.UserIdentifiers) == 0 {
		return Result{Status: StatusOK, Message: "no recipient"}, nil
	}
	if inst.Condition == nil {
		return Result{Status: StatusOK, Delivered: true}, nil
	}
	input, err := toMap(req)
	if err != nil {
		return Result{}, err
	}
	send, err := inst.Condition.EvalBool(map[string]any{
		expr.VarInput:      input,
		expr.VarProperties: inst.Properties.Values(),
	})
	if err != nil {
		return Result{Status: StatusError, Message: err.Error()}, nil
	}
	return Result{Status: StatusOK, Delivered: send}, nil
}

func (Sample) Check(_ context.Context, _ CheckRequest, inst *Instance) (Result, error) {
	provider, ok := inst.Properties.String(PropertyProvider)
	if !ok || provider == "" {
		return Result{Status: StatusOK, Message: "provider property missing"}, nil
	}
	return Result{Status: StatusOK, Delivered: true}, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("emailrouter: encode input: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("emailrouter: decode input: %w", err)
	}
	return out, nil
}
