package cost

import (
	"math"

	"bridgeroute/internal/types"
)

// ExhaustedFloorPct is the least slippage reported when a trade eats the
// whole visible book
const ExhaustedFloorPct = 2.0

// SlippageEstimate is the outcome of walking one side of a book
type SlippageEstimate struct {
	Pct       float64 `json:"pct"`
	BestPrice float64 `json:"best_price"`
	AvgPrice  float64 `json:"avg_price"`
	Filled    float64 `json:"filled"`
	// Known is false for UnknownLiquidity; Pct is then meaningless and the
	// caller applies its own policy.
	Known         bool `json:"known"`
	BookExhausted bool `json:"book_exhausted"`
}

// Slippage walks the side a taker hits (asks for a buy, bids for a sell)
// from the best level outward until qty is filled, and reports
// |vwap-best|/best in percent. Running out of book yields
// max(ExhaustedFloorPct, full-book slippage) with BookExhausted set, so the
// estimate never decreases as qty grows.
func Slippage(liq types.Liquidity, side types.Side, qty float64) SlippageEstimate {
	if !liq.Known {
		return SlippageEstimate{}
	}

	levels := liq.Book.Sorted().Levels(side)
	est := SlippageEstimate{Known: true}

	var cumQty, cumValue float64
	for _, level := range levels {
		if level.Price <= 0 || level.Quantity <= 0 || math.IsNaN(level.Price) || math.IsNaN(level.Quantity) {
			continue
		}
		if est.BestPrice == 0 {
			est.BestPrice = level.Price
		}
		if qty <= 0 {
			break
		}

		if cumQty+level.Quantity >= qty {
			needed := qty - cumQty
			cumValue += needed * level.Price
			cumQty += needed
			est.Filled = cumQty
			est.AvgPrice = cumValue / cumQty
			est.Pct = math.Abs(est.AvgPrice-est.BestPrice) / est.BestPrice * 100
			return est
		}
		cumValue += level.Quantity * level.Price
		cumQty += level.Quantity
	}

	if qty <= 0 {
		est.AvgPrice = est.BestPrice
		return est
	}

	est.BookExhausted = true
	est.Filled = cumQty
	est.Pct = ExhaustedFloorPct
	if cumQty > 0 {
		est.AvgPrice = cumValue / cumQty
		if full := math.Abs(est.AvgPrice-est.BestPrice) / est.BestPrice * 100; full > est.Pct {
			est.Pct = full
		}
	}
	return est
}
