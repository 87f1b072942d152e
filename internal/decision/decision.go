// Package decision maps a cost/risk profile to a three-tier signal with a
// confidence and a reproducible reason string.
package decision

import (
	"fmt"
	"math"
)

// Tier is the coarse signal
type Tier string

const (
	TierFavorable   Tier = "FAVORABLE"
	TierNeutral     Tier = "NEUTRAL"
	TierUnfavorable Tier = "UNFAVORABLE"
)

// Fixed thresholds on the adjusted cost, in percent
const (
	FavorableBelowPct   = 1.0
	UnfavorableAtPct    = 2.5
	ConfidenceScalePct  = 0.5
	SlippageRiskFactor  = 0.5
	TimePenaltyPerMin   = 0.005
	MaxTimePenaltyPct   = 1.0
	VolatilityRiskShare = 0.5
)

// Inputs describe one route or spread. VolatilityPct is the hourly
// volatility of the bridged asset, nil when unknown.
type Inputs struct {
	TotalCostPct    float64
	SlippagePct     float64
	TransferMinutes float64
	VolatilityPct   *float64
}

// Signal is the scorer's answer
type Signal struct {
	Tier            Tier    `json:"tier"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
	AdjustedCostPct float64 `json:"adjusted_cost_pct"`
	RiskPenaltyPct  float64 `json:"risk_penalty_pct"`
}

// SlippagePenalty charges part of the slippage again as estimation risk
func SlippagePenalty(slippagePct float64) float64 {
	return math.Max(0, slippagePct) * SlippageRiskFactor
}

// TimePenalty charges price exposure while funds are in transit
func TimePenalty(minutes float64) float64 {
	return math.Min(MaxTimePenaltyPct, math.Max(0, minutes)*TimePenaltyPerMin)
}

// VolatilityPenalty scales hourly volatility to the transfer window
func VolatilityPenalty(volatilityPct *float64, minutes float64) float64 {
	if volatilityPct == nil || *volatilityPct <= 0 || minutes <= 0 {
		return 0
	}
	return *volatilityPct * math.Sqrt(minutes/60) * VolatilityRiskShare
}

// Score is deterministic: equal inputs give byte-identical signals
func Score(in Inputs) Signal {
	risk := SlippagePenalty(in.SlippagePct) + TimePenalty(in.TransferMinutes) + VolatilityPenalty(in.VolatilityPct, in.TransferMinutes)
	adjusted := in.TotalCostPct + risk

	tier := TierUnfavorable
	switch {
	case adjusted < FavorableBelowPct:
		tier = TierFavorable
	case adjusted < UnfavorableAtPct:
		tier = TierNeutral
	}

	distance := math.Min(math.Abs(adjusted-FavorableBelowPct), math.Abs(adjusted-UnfavorableAtPct))
	confidence := math.Min(1, distance/ConfidenceScalePct)

	vol := "n/a"
	if in.VolatilityPct != nil {
		vol = fmt.Sprintf("%.4f%%", *in.VolatilityPct)
	}
	reason := fmt.Sprintf("%s: projected cost %.4f%% with risk penalty %.4f%% (slippage %.4f%%, transfer %.0f min, volatility %s)",
		tier, in.TotalCostPct, risk, in.SlippagePct, in.TransferMinutes, vol)

	return Signal{
		Tier:            tier,
		Confidence:      confidence,
		Reason:          reason,
		AdjustedCostPct: adjusted,
		RiskPenaltyPct:  risk,
	}
}

// SpreadCostPct is the cost of capturing a spread: what fees and the
// withdrawal take, minus what the price gap gives back
func SpreadCostPct(grossSpreadPct, feesPct, withdrawalPct float64) float64 {
	return feesPct + withdrawalPct - grossSpreadPct
}
