// Package routing builds two-leg bridge plans and ranks them by strategy.
package routing

import (
	"fmt"
	"strings"

	"bridgeroute/internal/cost"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

// Strategy is the ranking objective
type Strategy string

const (
	StrategyCheapest Strategy = "cheapest"
	StrategyFastest  Strategy = "fastest"
	StrategyBalanced Strategy = "balanced"
)

// Balanced weights for normalized cost and time
const (
	BalancedCostWeight = 0.7
	BalancedTimeWeight = 0.3
)

// ParseStrategy accepts the three strategy names, case-insensitively
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyCheapest:
		return StrategyCheapest, nil
	case StrategyFastest:
		return StrategyFastest, nil
	case StrategyBalanced:
		return StrategyBalanced, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown strategy %q", s), nil)
}

// LegKind names a step of a plan
type LegKind string

const (
	LegBuy      LegKind = "buy"
	LegTransfer LegKind = "transfer"
	LegSell     LegKind = "sell"
)

// Leg is one step with its cost breakdown. Percentages are relative to the
// value entering the leg.
type Leg struct {
	Kind           LegKind `json:"kind"`
	Venue          string  `json:"venue"`
	From           string  `json:"from"`
	To             string  `json:"to"`
	Price          float64 `json:"price,omitempty"`
	FeePct         float64 `json:"fee_pct"`
	SlippagePct    float64 `json:"slippage_pct"`
	WithdrawalFee  float64 `json:"withdrawal_fee,omitempty"`
	WithdrawalPct  float64 `json:"withdrawal_fee_pct"`
	TimeMinutes    float64 `json:"time_minutes"`
	LiquidityKnown bool    `json:"liquidity_known"`
	BookExhausted  bool    `json:"book_exhausted,omitempty"`
	AmountIn       float64 `json:"amount_in"`
	AmountOut      float64 `json:"amount_out"`
}

// CostPct is the leg's normalized cost
func (l Leg) CostPct() float64 {
	return l.FeePct + l.SlippagePct + l.WithdrawalPct
}

// Plan is a bridge route: buy at the source, transfer, sell at the destination
type Plan struct {
	BridgeAsset      types.Asset `json:"bridge_coin"`
	Legs             []Leg       `json:"legs"`
	TotalCostPct     float64     `json:"total_cost_pct"`
	TotalTimeMinutes float64     `json:"total_time_minutes"`
	EstimatedOutput  float64     `json:"estimated_output_amount"`
	// EffectiveCostPct compares the output with converting the input at the
	// FX rate, so it includes the price gap between venues. Informational.
	EffectiveCostPct *float64 `json:"effective_cost_pct,omitempty"`
	LiquidityKnown   bool     `json:"liquidity_known"`
	Score            float64  `json:"score"`
}

// Candidate holds every fact needed to price one bridge asset
type Candidate struct {
	Asset          types.Asset
	Source         types.Venue
	Dest           types.Venue
	SourceCurrency string
	DestCurrency   string

	BuyPrice      float64
	SellPrice     float64
	BuyFeePct     float64
	SellFeePct    float64
	WithdrawalFee float64
	BuyBook       types.Liquidity
	SellBook      types.Liquidity
	// FxRate is DestCurrency units per SourceCurrency unit; 0 when unknown
	FxRate float64
}

// BuildPlan prices a candidate for amount of the source currency
func BuildPlan(m cost.Model, c Candidate, amount float64) (Plan, error) {
	if c.BuyPrice <= 0 || c.SellPrice <= 0 {
		return Plan{}, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s: prices must be positive", c.Asset), nil)
	}

	// buy: the fee comes off the notional, slippage raises the average price
	afterFee := amount * (1 - c.BuyFeePct/100)
	buySlip, buyEst := m.SlippagePct(c.BuyBook, types.SideBuy, afterFee/c.BuyPrice)
	buyAvg := c.BuyPrice * (1 + buySlip/100)
	bought := afterFee / buyAvg
	buy := Leg{
		Kind: LegBuy, Venue: c.Source.ID, From: c.SourceCurrency, To: string(c.Asset),
		Price: c.BuyPrice, FeePct: c.BuyFeePct, SlippagePct: buySlip,
		LiquidityKnown: buyEst.Known, BookExhausted: buyEst.BookExhausted,
		AmountIn: amount, AmountOut: bought,
	}

	// transfer: the fixed withdrawal fee comes off the quantity moved
	arrived := bought - c.WithdrawalFee
	if arrived <= 0 {
		return Plan{}, errors.New(errors.ErrCodeNoRouteAvailable,
			fmt.Sprintf("%s: withdrawal fee %v exceeds bridged quantity %v", c.Asset, c.WithdrawalFee, bought), nil)
	}
	transfer := Leg{
		Kind: LegTransfer, Venue: c.Source.ID, From: c.Source.ID, To: c.Dest.ID,
		WithdrawalFee: c.WithdrawalFee, WithdrawalPct: cost.WithdrawalPct(c.WithdrawalFee, bought),
		TimeMinutes: m.TransferTimeMinutes(c.Asset), LiquidityKnown: true,
		AmountIn: bought, AmountOut: arrived,
	}

	// sell: slippage lowers the average price, the fee comes off the proceeds
	sellSlip, sellEst := m.SlippagePct(c.SellBook, types.SideSell, arrived)
	sellAvg := c.SellPrice * (1 - sellSlip/100)
	proceeds := arrived * sellAvg * (1 - c.SellFeePct/100)
	if proceeds < 0 {
		proceeds = 0
	}
	sell := Leg{
		Kind: LegSell, Venue: c.Dest.ID, From: string(c.Asset), To: c.DestCurrency,
		Price: c.SellPrice, FeePct: c.SellFeePct, SlippagePct: sellSlip,
		LiquidityKnown: sellEst.Known, BookExhausted: sellEst.BookExhausted,
		AmountIn: arrived, AmountOut: proceeds,
	}

	p := Plan{
		BridgeAsset:     c.Asset,
		Legs:            []Leg{buy, transfer, sell},
		EstimatedOutput: proceeds,
		LiquidityKnown:  buyEst.Known && sellEst.Known,
	}
	for _, l := range p.Legs {
		p.TotalCostPct += l.CostPct()
		p.TotalTimeMinutes += l.TimeMinutes
	}
	if c.FxRate > 0 && amount > 0 {
		fair := amount * c.FxRate
		eff := (fair - proceeds) / fair * 100
		p.EffectiveCostPct = &eff
	}
	return p, nil
}
