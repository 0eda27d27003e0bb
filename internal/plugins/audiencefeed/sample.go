package audiencefeed

import (
	"context"
	"fmt"
	"strings"
)

// Property names read by Sample.
const (
	PropertyVisibility  = "visibility"
	PropertyMinDelayMs  = "min_delay_ms"
	PropertyReadyStatus = "ready_status"
)

// Sample is a property-driven feed used by the stock binary and tests. It
// accepts every segment, refuses users without identifiers and paces updates
// with the min_delay_ms property.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) CreateSegment(_ context.Context, req SegmentCreationRequest, inst *Instance) (SegmentCreationResult, error) {
	if strings.TrimSpace(req.SegmentID) == "" {
		return SegmentCreationResult{Status: CreationError, Message: "segment_id is required"}, nil
	}
	visibility, _ := inst.Properties.String(PropertyVisibility)
	return SegmentCreationResult{Status: CreationOK, Visibility: Visibility(strings.ToUpper(visibility))}, nil
}

func (Sample) ConnectSegment(_ context.Context, req SegmentConnectionRequest, inst *Instance) (SegmentConnectionResult, error) {
	if strings.TrimSpace(req.SegmentID) == "" {
		return SegmentConnectionResult{Status: ConnectionError, Message: "segment_id is required"}, nil
	}
	if ready, ok := inst.Properties.Bool(PropertyReadyStatus); ok && !ready {
		return SegmentConnectionResult{Status: ConnectionNotReady, Message: fmt.Sprintf("feed %s is not ready", inst.Feed.ID)}, nil
	}
	return SegmentConnectionResult{Status: ConnectionOK}, nil
}

func (Sample) UpdateUserSegment(_ context.Context, req UserSegmentUpdateRequest, inst *Instance) (UserSegmentUpdateResult, error) {
	if len(req.UserIdentifiers) == 0 {
		return UserSegmentUpdateResult{Status: UpdateNoEligibleIdentifier, Message: "no user identifier"}, nil
	}
	switch strings.ToUpper(req.Operation) {
	case "", "UPSERT", "DELETE":
	default:
		return UserSegmentUpdateResult{Status: UpdateError, Message: "unknown operation " + req.Operation}, nil
	}
	delay, _ := inst.Properties.Int(PropertyMinDelayMs)
	return UserSegmentUpdateResult{Status: UpdateOK, NextMessageDelayMillis: int(delay)}, nil
}

func (Sample) UpdateBatch(_ context.Context, req BatchUpdateRequest, _ *Instance) (BatchUpdateResult, error) {
	if len(req.BatchContent) == 0 {
		return BatchUpdateResult{Status: BatchError, Message: "empty batch"}, nil
	}
	return BatchUpdateResult{Status: BatchOK, Succeeded: len(req.BatchContent)}, nil
}
