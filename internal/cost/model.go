// Package cost computes per-leg trading cost: fees, fixed withdrawal fees,
// orderbook slippage and transfer time.
package cost

import (
	"context"
	"fmt"
	"math"
	"strings"

	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

// DefaultTransferMinutes are typical confirmation times per asset
var DefaultTransferMinutes = map[types.Asset]float64{
	"BTC":  60,
	"ETH":  15,
	"XRP":  1,
	"XLM":  1,
	"SOL":  1,
	"TRX":  3,
	"USDT": 10,
	"USDC": 10,
	"LTC":  30,
	"DOGE": 20,
	"ADA":  10,
}

// TransferTable maps assets to transfer minutes with a default for the rest
type TransferTable struct {
	minutes    map[types.Asset]float64
	defaultMin float64
}

// NewTransferTable overlays overrides on DefaultTransferMinutes
func NewTransferTable(overrides map[string]float64, defaultMinutes float64) TransferTable {
	m := make(map[types.Asset]float64, len(DefaultTransferMinutes)+len(overrides))
	for a, v := range DefaultTransferMinutes {
		m[a] = v
	}
	for a, v := range overrides {
		m[types.Asset(strings.ToUpper(a))] = v
	}
	if defaultMinutes <= 0 {
		defaultMinutes = 30
	}
	return TransferTable{minutes: m, defaultMin: defaultMinutes}
}

// Minutes returns the transfer time of asset and whether it was listed
func (t TransferTable) Minutes(asset types.Asset) (float64, bool) {
	if v, ok := t.minutes[asset]; ok {
		return v, true
	}
	return t.defaultMin, false
}

// FeeTable is where fees come from
type FeeTable interface {
	TradingFee(ctx context.Context, venue types.Venue) (types.Fact[float64], error)
	WithdrawalFee(ctx context.Context, venue types.Venue, asset types.Asset) (types.Fact[float64], error)
}

// Model bundles the cost inputs that do not change per request
type Model struct {
	Fees     FeeTable
	Transfer TransferTable
	// UnknownLiquidityPenaltyPct is charged as slippage when no book exists
	UnknownLiquidityPenaltyPct float64
}

func checkFee(label string, f types.Fact[float64]) error {
	if f.Value < 0 || math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
		return errors.New(errors.ErrCodeImplausibleValue, fmt.Sprintf("%s is %v", label, f.Value), nil)
	}
	return nil
}

// TradingCostPct is the venue's trading fee in percent
func (m Model) TradingCostPct(ctx context.Context, venue types.Venue) (types.Fact[float64], error) {
	f, err := m.Fees.TradingFee(ctx, venue)
	if err != nil {
		return f, err
	}
	return f, checkFee("trading fee "+venue.ID, f)
}

// WithdrawalCostAbsolute is the fixed withdrawal fee in asset units
func (m Model) WithdrawalCostAbsolute(ctx context.Context, venue types.Venue, asset types.Asset) (types.Fact[float64], error) {
	f, err := m.Fees.WithdrawalFee(ctx, venue, asset)
	if err != nil {
		return f, err
	}
	return f, checkFee(fmt.Sprintf("withdrawal fee %s %s", venue.ID, asset), f)
}

// SlippagePct applies the unknown liquidity policy on top of Slippage
func (m Model) SlippagePct(liq types.Liquidity, side types.Side, qty float64) (float64, SlippageEstimate) {
	est := Slippage(liq, side, qty)
	if !est.Known {
		return m.UnknownLiquidityPenaltyPct, est
	}
	return est.Pct, est
}

// TransferTimeMinutes looks the asset up in the transfer table
func (m Model) TransferTimeMinutes(asset types.Asset) float64 {
	v, _ := m.Transfer.Minutes(asset)
	return v
}

// WithdrawalPct expresses a fixed fee as a percent of the quantity moved
func WithdrawalPct(fee, qty float64) float64 {
	if qty <= 0 {
		return math.Inf(1)
	}
	return fee / qty * 100
}
