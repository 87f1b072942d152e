package routing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeroute/internal/cost"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

var (
	venueA = types.Venue{ID: "A", Currencies: []string{"KRW"}, Assets: []types.Asset{"Q", "R", "S", "T"}, TradingFeePct: 0.25}
	venueB = types.Venue{ID: "B", Currencies: []string{"KRW"}, Assets: []types.Asset{"Q", "R", "S", "U"}, TradingFeePct: 0.25}
)

func deepBook(price float64) types.Liquidity {
	return types.KnownLiquidity(types.OrderbookSnapshot{
		Asks: []types.Level{{Price: price, Quantity: 1e9}},
		Bids: []types.Level{{Price: price, Quantity: 1e9}},
	})
}

func model() cost.Model {
	return cost.Model{
		Transfer:                   cost.NewTransferTable(map[string]float64{"Q": 5, "R": 2, "S": 30}, 30),
		UnknownLiquidityPenaltyPct: 2,
	}
}

func candidate(asset types.Asset, buy, sell, wd float64) Candidate {
	return Candidate{
		Asset: asset, Source: venueA, Dest: venueB, SourceCurrency: "KRW", DestCurrency: "KRW",
		BuyPrice: buy, SellPrice: sell, BuyFeePct: 0.25, SellFeePct: 0.25, WithdrawalFee: wd,
		BuyBook: deepBook(buy), SellBook: deepBook(sell), FxRate: 1,
	}
}

func TestConcreteScenario(t *testing.T) {
	c := candidate("Q", 100, 99.9, 1)
	out := Searcher{Model: model()}.Search([]Candidate{c}, 1_000_000, StrategyCheapest)

	require.NotNil(t, out.Optimal)
	p := out.Optimal
	assert.Equal(t, types.Asset("Q"), p.BridgeAsset)

	// 1,000,000 less 0.25% buys 9975 Q at 100 with no slippage on a deep book
	bought := 1_000_000 * (1 - 0.0025) / 100
	wdPct := 1 / bought * 100
	assert.InDelta(t, 9975.0, bought, 1e-9)
	assert.InDelta(t, 0.25+0.25+wdPct+0, p.TotalCostPct, 1e-9)
	assert.InDelta(t, 0.510025, p.TotalCostPct, 1e-6)

	out9974 := (bought - 1) * 99.9 * (1 - 0.0025)
	assert.InDelta(t, out9974, p.EstimatedOutput, 1e-6)
	require.NotNil(t, p.EffectiveCostPct)
	assert.Greater(t, *p.EffectiveCostPct, p.TotalCostPct, "the 0.1% price gap shows up in effective cost only")
	assert.Equal(t, 5.0, p.TotalTimeMinutes)
}

func randomCandidates(r *rand.Rand, n int) []Candidate {
	var out []Candidate
	for i := 0; i < n; i++ {
		price := 10 + r.Float64()*1000
		c := candidate(types.Asset(fmt.Sprintf("C%02d", i)), price, price*(0.98+r.Float64()*0.04), r.Float64()*2)
		c.BuyFeePct = r.Float64() * 0.5
		c.SellFeePct = r.Float64() * 0.5
		if r.Intn(3) == 0 {
			c.SellBook = types.UnknownLiquidity
		}
		if r.Intn(4) == 0 {
			c.BuyBook = types.KnownLiquidity(types.OrderbookSnapshot{
				Asks: []types.Level{{Price: price, Quantity: 100}, {Price: price * 1.01, Quantity: 1e6}},
			})
		}
		out = append(out, c)
	}
	return out
}

func TestRankingProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		cands := randomCandidates(r, 12)
		amount := 100_000 + r.Float64()*5_000_000

		cheapest := Searcher{Model: model(), MaxAlternatives: 20}.Search(cands, amount, StrategyCheapest)
		require.NotNil(t, cheapest.Optimal)
		for _, alt := range cheapest.Alternatives {
			assert.LessOrEqual(t, cheapest.Optimal.TotalCostPct, alt.TotalCostPct)
		}

		fastest := Searcher{Model: model(), MaxAlternatives: 20}.Search(cands, amount, StrategyFastest)
		require.NotNil(t, fastest.Optimal)
		for _, alt := range fastest.Alternatives {
			assert.LessOrEqual(t, fastest.Optimal.TotalTimeMinutes, alt.TotalTimeMinutes)
		}

		for _, p := range append([]Plan{*cheapest.Optimal}, cheapest.Alternatives...) {
			var sum float64
			for _, l := range p.Legs {
				sum += l.FeePct + l.SlippagePct + l.WithdrawalPct
			}
			assert.InDelta(t, sum, p.TotalCostPct, 1e-9)
		}
	}
}

func TestAlternativesAreCappedAndSorted(t *testing.T) {
	cands := randomCandidates(rand.New(rand.NewSource(3)), 15)
	out := Searcher{Model: model(), MaxAlternatives: 4}.Search(cands, 1_000_000, StrategyBalanced)

	require.NotNil(t, out.Optimal)
	assert.Len(t, out.Alternatives, 4)
	prev := out.Optimal.Score
	for _, alt := range out.Alternatives {
		assert.GreaterOrEqual(t, alt.Score, prev)
		prev = alt.Score
	}
}

func TestBalancedScore(t *testing.T) {
	plans := []Plan{
		{BridgeAsset: "A", TotalCostPct: 1, TotalTimeMinutes: 60},
		{BridgeAsset: "B", TotalCostPct: 2, TotalTimeMinutes: 1},
	}
	Rank(plans, StrategyBalanced)

	// A: 0.7*0.5 + 0.3*1 = 0.65, B: 0.7*1 + 0.3*(1/60) = 0.705
	assert.Equal(t, types.Asset("A"), plans[0].BridgeAsset)
	assert.InDelta(t, 0.65, plans[0].Score, 1e-12)
	assert.InDelta(t, 0.705, plans[1].Score, 1e-12)
}

func TestTieBreaks(t *testing.T) {
	plans := []Plan{
		{BridgeAsset: "Z", TotalCostPct: 1, TotalTimeMinutes: 10, LiquidityKnown: true},
		{BridgeAsset: "Y", TotalCostPct: 1, TotalTimeMinutes: 5, LiquidityKnown: false},
		{BridgeAsset: "X", TotalCostPct: 1, TotalTimeMinutes: 5, LiquidityKnown: true},
		{BridgeAsset: "W", TotalCostPct: 1, TotalTimeMinutes: 5, LiquidityKnown: true},
	}
	Rank(plans, StrategyCheapest)

	var order []types.Asset
	for _, p := range plans {
		order = append(order, p.BridgeAsset)
	}
	assert.Equal(t, []types.Asset{"W", "X", "Z", "Y"}, order)
}

func TestCandidateAssetsExcludesSuspended(t *testing.T) {
	got := CandidateAssets(venueA, venueB, map[types.Asset]bool{"R": true})
	assert.Equal(t, []types.Asset{"Q", "S"}, got)
}

func TestNoRoute(t *testing.T) {
	out := Searcher{Model: model()}.Search(nil, 1000, StrategyCheapest)
	assert.Nil(t, out.Optimal)
	require.NotNil(t, out.NoRoute)
	assert.Equal(t, errors.ErrCodeNoRouteAvailable, out.NoRoute.Code)

	// a withdrawal fee larger than what gets bridged leaves nothing to sell
	out = Searcher{Model: model()}.Search([]Candidate{candidate("Q", 100, 100, 50)}, 1000, StrategyCheapest)
	assert.Nil(t, out.Optimal)
	require.NotNil(t, out.NoRoute)
	assert.Contains(t, out.NoRoute.Reason, "none of 1 candidate")
	require.Len(t, out.Dropped, 1)
	assert.Contains(t, out.Dropped[0], "exceeds bridged quantity")
}

func TestUnknownLiquidityIsPenalised(t *testing.T) {
	known := candidate("K", 100, 100, 0)
	unknown := candidate("U", 100, 100, 0)
	unknown.SellBook = types.UnknownLiquidity

	out := Searcher{Model: model()}.Search([]Candidate{unknown, known}, 10_000, StrategyCheapest)
	require.NotNil(t, out.Optimal)
	assert.Equal(t, types.Asset("K"), out.Optimal.BridgeAsset)
	assert.False(t, out.Alternatives[0].LiquidityKnown)
	assert.InDelta(t, 2.0, out.Alternatives[0].Legs[2].SlippagePct, 1e-12)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Fastest ")
	require.NoError(t, err)
	assert.Equal(t, StrategyFastest, s)

	_, err = ParseStrategy("greedy")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}
