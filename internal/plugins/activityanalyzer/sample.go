package activityanalyzer

import (
	"context"
	"strings"
)

// PropertyExcludedEvents is a comma separated list of event names to drop.
const PropertyExcludedEvents = "excluded_events"

const (
	fieldEvents     = "$events"
	fieldEventName  = "$event_name"
	fieldAnalyzedBy = "$analyzed_by"
)

// Sample drops excluded events and stamps the activity with the analyzer id.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) Analyze(_ context.Context, req Request, inst *Instance) (Result, error) {
	if req.Activity == nil {
		return Result{Status: StatusError, Message: "activity missing"}, nil
	}
	excluded := map[string]struct{}{}
	if raw, ok := inst.Properties.String(PropertyExcludedEvents); ok {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				excluded[name] = struct{}{}
			}
		}
	}

	activity := make(map[string]any, len(req.Activity)+1)
	for k, v := range req.Activity {
		activity[k] = v
	}
	if events, ok := activity[fieldEvents].([]any); ok {
		kept := make([]any, 0, len(events))
		for _, event := range events {
			if doc, ok := event.(map[string]any); ok {
				if name, _ := doc[fieldEventName].(string); name != "" {
					if _, drop := excluded[name]; drop {
						continue
					}
				}
			}
			kept = append(kept, event)
		}
		activity[fieldEvents] = kept
	}
	activity[fieldAnalyzedBy] = inst.Analyzer.ID
	return Result{Status: StatusOK, Activity: activity}, nil
}
