package computedfield

import (
	"context"
	"fmt"
	"time"

	"github.com/l0p7/pluginrt/internal/expr"
)

const (
	// PropertyUpdateExpression computes the next state from state and input.
	PropertyUpdateExpression = "update_expression"
	// PropertyResultExpression derives the result from state. Unset returns
	// the state itself.
	PropertyResultExpression = "result_expression"
)

// Sample evaluates the field's update and result expressions.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) UpdateSingle(_ context.Context, req UpdateSingleRequest, inst *Instance) (StateResult, error) {
	state, err := fold(inst, req.State, []map[string]any{req.Data})
	if err != nil {
		return StateResult{Status: StatusError, Message: err.Error(), State: req.State}, nil
	}
	return StateResult{Status: StatusOK, State: state}, nil
}

func (Sample) UpdateBatch(_ context.Context, req UpdateBatchRequest, inst *Instance) (StateResult, error) {
	state, err := fold(inst, req.State, req.Data)
	if err != nil {
		return StateResult{Status: StatusError, Message: err.Error(), State: req.State}, nil
	}
	return StateResult{Status: StatusOK, State: state}, nil
}

func (Sample) BuildResult(_ context.Context, req BuildResultRequest, inst *Instance) (ValueResult, error) {
	source, ok := inst.Properties.String(PropertyResultExpression)
	if !ok || source == "" {
		return ValueResult{Status: StatusOK, Result: req.State}, nil
	}
	result, err := inst.Evaluate(source, vars(inst, req.State, nil))
	if err != nil {
		return ValueResult{Status: StatusError, Message: err.Error()}, nil
	}
	return ValueResult{Status: StatusOK, Result: result}, nil
}

func fold(inst *Instance, state map[string]any, records []map[string]any) (map[string]any, error) {
	source, ok := inst.Properties.String(PropertyUpdateExpression)
	if !ok || source == "" {
		return nil, fmt.Errorf("%s is not set", PropertyUpdateExpression)
	}
	if expr.IsTemplate(source) {
		return nil, fmt.Errorf("%s must be a CEL expression", PropertyUpdateExpression)
	}
	for _, record := range records {
		next, err := inst.Evaluate(source, vars(inst, state, record))
		if err != nil {
			return nil, err
		}
		typed, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s yielded %T, want a map", PropertyUpdateExpression, next)
		}
		state = typed
	}
	if state == nil {
		state = map[string]any{}
	}
	return state, nil
}

func vars(inst *Instance, state, input map[string]any) map[string]any {
	if state == nil {
		state = map[string]any{}
	}
	if input == nil {
		input = map[string]any{}
	}
	return map[string]any{
		expr.VarState:      state,
		expr.VarInput:      input,
		expr.VarProperties: inst.Properties.Values(),
		expr.VarNow:        time.Now().UnixMilli(),
	}
}
