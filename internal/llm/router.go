package llm

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidTierTable = errors.New("invalid model tier table")

// Router maps a complexity score and urgency to an ordered tier chain.
// It is immutable after NewRouter and safe for concurrent use.
type Router struct {
	tiers []ModelTier // ascending CapabilityRank
}

// NewRouter validates the tier table. An empty table, duplicate ids or
// ranks, a missing provider, or a max score outside [0,1] is rejected.
func NewRouter(tiers []ModelTier) (*Router, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers configured", ErrInvalidTierTable)
	}
	ids := make(map[string]struct{}, len(tiers))
	ranks := make(map[int]string, len(tiers))
	sorted := make([]ModelTier, 0, len(tiers))
	for _, t := range tiers {
		if t.TierID == "" {
			return nil, fmt.Errorf("%w: tier without id", ErrInvalidTierTable)
		}
		if _, dup := ids[t.TierID]; dup {
			return nil, fmt.Errorf("%w: duplicate tier id %q", ErrInvalidTierTable, t.TierID)
		}
		if other, dup := ranks[t.CapabilityRank]; dup {
			return nil, fmt.Errorf("%w: tiers %q and %q share rank %d", ErrInvalidTierTable, other, t.TierID, t.CapabilityRank)
		}
		if t.MaxComplexityScore < 0 || t.MaxComplexityScore > 1 {
			return nil, fmt.Errorf("%w: tier %q max score %v outside [0,1]", ErrInvalidTierTable, t.TierID, t.MaxComplexityScore)
		}
		if t.ProviderRef == "" {
			return nil, fmt.Errorf("%w: tier %q has no provider", ErrInvalidTierTable, t.TierID)
		}
		ids[t.TierID] = struct{}{}
		ranks[t.CapabilityRank] = t.TierID
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CapabilityRank < sorted[j].CapabilityRank })
	return &Router{tiers: sorted}, nil
}

// Tiers returns the table in ascending rank order.
func (r *Router) Tiers() []ModelTier {
	return append([]ModelTier(nil), r.tiers...)
}

// SelectTier returns the chosen tier followed by every higher-ranked tier.
// The chosen tier is the lowest-ranked one whose max score covers score, or
// the highest tier when none does. Urgent requests start one rank higher.
func (r *Router) SelectTier(score float64, urgent bool) []ModelTier {
	idx := len(r.tiers) - 1
	for i, t := range r.tiers {
		if t.MaxComplexityScore >= score {
			idx = i
			break
		}
	}
	if urgent && idx < len(r.tiers)-1 {
		idx++
	}
	return append([]ModelTier(nil), r.tiers[idx:]...)
}
