package cost

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

func book() types.Liquidity {
	return types.KnownLiquidity(types.OrderbookSnapshot{
		Asks: []types.Level{{Price: 101, Quantity: 5}, {Price: 100, Quantity: 10}, {Price: 103, Quantity: 10}},
		Bids: []types.Level{{Price: 99, Quantity: 10}, {Price: 97, Quantity: 10}},
	})
}

func TestSlippageWalksLevels(t *testing.T) {
	tests := []struct {
		name      string
		side      types.Side
		qty       float64
		wantPct   float64
		exhausted bool
	}{
		{"inside best level", types.SideBuy, 10, 0, false},
		{"two levels", types.SideBuy, 15, (float64(10*100+5*101)/15 - 100) / 100 * 100, false},
		{"sell side", types.SideSell, 20, (99 - 98.0) / 99 * 100, false},
		{"exhausted floors at 2%", types.SideBuy, 30, ExhaustedFloorPct, true},
		{"zero quantity", types.SideBuy, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := Slippage(book(), tt.side, tt.qty)
			assert.True(t, est.Known)
			assert.InDelta(t, tt.wantPct, est.Pct, 1e-9)
			assert.Equal(t, tt.exhausted, est.BookExhausted)
		})
	}
}

func TestSlippageExhaustedUsesFullBookWhenWorse(t *testing.T) {
	thin := types.KnownLiquidity(types.OrderbookSnapshot{
		Asks: []types.Level{{Price: 100, Quantity: 1}, {Price: 150, Quantity: 1}},
	})
	est := Slippage(thin, types.SideBuy, 5)
	assert.True(t, est.BookExhausted)
	assert.InDelta(t, 25.0, est.Pct, 1e-9)
	assert.Equal(t, 2.0, est.Filled)
}

func TestSlippageUnknownAndEmpty(t *testing.T) {
	unknown := Slippage(types.UnknownLiquidity, types.SideBuy, 1)
	assert.False(t, unknown.Known)

	empty := Slippage(types.KnownLiquidity(types.OrderbookSnapshot{}), types.SideBuy, 1)
	assert.True(t, empty.Known)
	assert.True(t, empty.BookExhausted, "an empty book cannot fill anything")
	assert.Equal(t, ExhaustedFloorPct, empty.Pct)
}

func TestSlippageIsMonotoneInQuantity(t *testing.T) {
	for _, side := range []types.Side{types.SideBuy, types.SideSell} {
		prev := -1.0
		for qty := 0.0; qty <= 40; qty += 0.25 {
			pct := Slippage(book(), side, qty).Pct
			require.GreaterOrEqual(t, pct, prev, "side %s qty %v", side, qty)
			prev = pct
		}
	}
}

func TestModelUnknownLiquidityPenalty(t *testing.T) {
	m := Model{UnknownLiquidityPenaltyPct: 2}
	pct, est := m.SlippagePct(types.UnknownLiquidity, types.SideSell, 10)
	assert.Equal(t, 2.0, pct)
	assert.False(t, est.Known)

	pct, _ = m.SlippagePct(book(), types.SideBuy, 10)
	assert.Equal(t, 0.0, pct)
}

func TestTransferTable(t *testing.T) {
	table := NewTransferTable(map[string]float64{"xrp": 2, "Q": 5}, 45)

	v, known := table.Minutes("XRP")
	assert.True(t, known)
	assert.Equal(t, 2.0, v)

	v, _ = table.Minutes("Q")
	assert.Equal(t, 5.0, v)

	v, known = table.Minutes("UNKNOWN")
	assert.False(t, known)
	assert.Equal(t, 45.0, v)

	assert.Equal(t, 60.0, Model{Transfer: table}.TransferTimeMinutes("BTC"))
}

func TestWithdrawalPct(t *testing.T) {
	assert.InDelta(t, 0.01, WithdrawalPct(1, 10_000), 1e-12)
	assert.True(t, math.IsInf(WithdrawalPct(1, 0), 1))
}

type stubFees struct {
	trading float64
	err     error
}

func (s stubFees) TradingFee(ctx context.Context, venue types.Venue) (types.Fact[float64], error) {
	return types.Fact[float64]{Value: s.trading}, s.err
}

func (s stubFees) WithdrawalFee(ctx context.Context, venue types.Venue, asset types.Asset) (types.Fact[float64], error) {
	return types.Fact[float64]{Value: 1}, s.err
}

func TestModelRejectsNegativeFees(t *testing.T) {
	m := Model{Fees: stubFees{trading: -0.1}}
	_, err := m.TradingCostPct(context.Background(), types.Venue{ID: "a"})
	assert.True(t, errors.Is(err, errors.ErrCodeImplausibleValue))

	wd, err := m.WithdrawalCostAbsolute(context.Background(), types.Venue{ID: "a"}, "Q")
	require.NoError(t, err)
	assert.Equal(t, 1.0, wd.Value)

	m = Model{Fees: stubFees{err: fmt.Errorf("down")}}
	_, err = m.TradingCostPct(context.Background(), types.Venue{ID: "a"})
	assert.Error(t, err)
}
