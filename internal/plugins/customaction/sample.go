package customaction

import (
	"context"
	"fmt"
)

// PropertyEnabled switches the action off when false.
const PropertyEnabled = "enabled"

// Sample accepts every user point unless the action is disabled.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) Run(_ context.Context, req Request, inst *Instance) (Result, error) {
	if req.UserPointID == "" {
		return Result{Status: StatusError, Message: "user_point_id is required"}, nil
	}
	if enabled, ok := inst.Properties.Bool(PropertyEnabled); ok && !enabled {
		return Result{Status: StatusKO, Message: fmt.Sprintf("custom action %s is disabled", inst.Action.ID)}, nil
	}
	return Result{Status: StatusOK}, nil
}
