package recommender

import (
	"context"
	"strings"
)

const (
	PropertyCatalogID  = "catalog_id"
	PropertyItemIDs    = "item_ids"
	PropertyMaxResults = "max_results"
)

// Sample proposes the comma separated item_ids of the configured catalog, up
// to max_results.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) Recommend(_ context.Context, _ Request, inst *Instance) (Result, error) {
	catalogID, ok := inst.Properties.String(PropertyCatalogID)
	if !ok || catalogID == "" {
		return Result{Status: StatusError, Message: "catalog_id is not set"}, nil
	}
	raw, _ := inst.Properties.String(PropertyItemIDs)
	limit, limited := inst.Properties.Int(PropertyMaxResults)

	proposals := []Proposal{}
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if limited && int64(len(proposals)) >= limit {
			break
		}
		proposals = append(proposals, Proposal{Type: ProposalTypeItem, ItemID: id, CatalogID: catalogID})
	}
	return Result{Status: StatusOK, Proposals: proposals}, nil
}
