package routing

import (
	"fmt"
	"math"
	"sort"

	"bridgeroute/internal/cost"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

const scoreEpsilon = 1e-12

// DefaultMaxAlternatives is used when the searcher has no limit configured
const DefaultMaxAlternatives = 10

// CandidateAssets lists the assets tradeable at both venues minus those
// suspended for withdrawal at the source, sorted
func CandidateAssets(src, dst types.Venue, suspended map[types.Asset]bool) []types.Asset {
	var out []types.Asset
	for _, a := range types.CommonAssets(src, dst) {
		if suspended[a] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// NoRoute explains why there is no plan
type NoRoute struct {
	Code   errors.ErrorCode `json:"code"`
	Reason string           `json:"reason"`
}

// Outcome is a ranked search result; exactly one of Optimal and NoRoute is set
type Outcome struct {
	Optimal      *Plan    `json:"optimal"`
	Alternatives []Plan   `json:"alternatives"`
	NoRoute      *NoRoute `json:"no_route,omitempty"`
	// Dropped lists candidates that could not be priced
	Dropped []string `json:"dropped,omitempty"`
}

// Searcher prices candidates and ranks them
type Searcher struct {
	Model           cost.Model
	MaxAlternatives int
}

// Search builds a plan per candidate and ranks them by strategy
func (s Searcher) Search(candidates []Candidate, amount float64, strategy Strategy) Outcome {
	var (
		plans   []Plan
		dropped []string
	)
	for _, c := range candidates {
		p, err := BuildPlan(s.Model, c, amount)
		if err != nil {
			dropped = append(dropped, fmt.Sprintf("candidate %s dropped: %v", c.Asset, err))
			continue
		}
		plans = append(plans, p)
	}

	if len(plans) == 0 {
		reason := "no bridge asset is tradeable at both venues with withdrawals open"
		if len(candidates) > 0 {
			reason = fmt.Sprintf("none of %d candidate bridge assets could be priced", len(candidates))
		}
		return Outcome{
			NoRoute: &NoRoute{Code: errors.ErrCodeNoRouteAvailable, Reason: reason},
			Dropped: dropped,
		}
	}

	Rank(plans, strategy)

	limit := s.MaxAlternatives
	if limit <= 0 {
		limit = DefaultMaxAlternatives
	}
	optimal := plans[0]
	alts := plans[1:]
	if len(alts) > limit {
		alts = alts[:limit]
	}
	return Outcome{
		Optimal:      &optimal,
		Alternatives: append([]Plan{}, alts...),
		Dropped:      dropped,
	}
}

// Rank scores plans for strategy and sorts them best first. Ties prefer
// known liquidity, then less time, then the bridge symbol.
func Rank(plans []Plan, strategy Strategy) {
	var maxCost, maxTime float64
	for _, p := range plans {
		maxCost = math.Max(maxCost, p.TotalCostPct)
		maxTime = math.Max(maxTime, p.TotalTimeMinutes)
	}

	for i := range plans {
		plans[i].Score = score(plans[i], strategy, maxCost, maxTime)
	}

	sort.SliceStable(plans, func(i, j int) bool {
		a, b := plans[i], plans[j]
		if math.Abs(a.Score-b.Score) > scoreEpsilon {
			return a.Score < b.Score
		}
		if a.LiquidityKnown != b.LiquidityKnown {
			return a.LiquidityKnown
		}
		if a.TotalTimeMinutes != b.TotalTimeMinutes {
			return a.TotalTimeMinutes < b.TotalTimeMinutes
		}
		return a.BridgeAsset < b.BridgeAsset
	})
}

func score(p Plan, strategy Strategy, maxCost, maxTime float64) float64 {
	switch strategy {
	case StrategyFastest:
		return p.TotalTimeMinutes
	case StrategyBalanced:
		var c, t float64
		if maxCost > 0 {
			c = p.TotalCostPct / maxCost
		}
		if maxTime > 0 {
			t = p.TotalTimeMinutes / maxTime
		}
		return BalancedCostWeight*c + BalancedTimeWeight*t
	default:
		return p.TotalCostPct
	}
}
