package bidoptimizer

import (
	"context"
	"math"
)

// Property names read by Sample.
const (
	PropertyBidPrice   = "bid_price"
	PropertyMultiplier = "multiplier"
)

// Sample bids a fixed price, scaled by the multiplier property and capped by
// the campaign's maximum, on every placement whose floor it clears.
type Sample struct{}

var _ Handler = Sample{}

func (Sample) Decide(_ context.Context, req Request, inst *Instance) (Result, error) {
	price, ok := inst.Properties.Double(PropertyBidPrice)
	if !ok {
		return Result{Status: StatusError, Message: "bid_price property missing"}, nil
	}
	if multiplier, ok := inst.Properties.Double(PropertyMultiplier); ok {
		price *= multiplier
	}
	if ceiling := req.CampaignInfo.MaxBidPrice; ceiling > 0 {
		price = math.Min(price, ceiling)
	}
	price = math.Round(price*1e4) / 1e4

	bids := make([]Bid, 0, len(req.BidInfo.Placements))
	for _, placement := range req.BidInfo.Placements {
		if price < placement.FloorPrice {
			continue
		}
		bids = append(bids, Bid{PlacementID: placement.PlacementID, BidPrice: price, Currency: req.CampaignInfo.Currency})
	}
	return Result{Status: StatusOK, Bids: bids}, nil
}
