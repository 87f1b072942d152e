package engine

import (
	"math"
	"time"

	"bridgeroute/internal/types"
)

// MinVolatilityPoints is the fewest stored prices that give an estimate
const MinVolatilityPoints = 5

// HourlyVolatilityPct estimates the hourly volatility, in percent, of prices
// ordered oldest first. It is the sample standard deviation of log returns
// scaled from the mean sampling interval to one hour.
func HourlyVolatilityPct(history []types.PriceQuote, minPoints int) (float64, bool) {
	if minPoints < 3 {
		minPoints = 3
	}

	var (
		returns []float64
		prev    *types.PriceQuote
	)
	for i := range history {
		q := &history[i]
		if q.Price <= 0 || math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
			continue
		}
		if prev != nil && q.Timestamp.After(prev.Timestamp) {
			returns = append(returns, math.Log(q.Price/prev.Price))
		}
		if prev == nil || q.Timestamp.After(prev.Timestamp) {
			prev = q
		}
	}
	if len(returns)+1 < minPoints {
		return 0, false
	}

	first, last := firstValid(history), prev
	span := last.Timestamp.Sub(first.Timestamp)
	if span <= 0 {
		return 0, false
	}
	interval := span / time.Duration(len(returns))

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	perHour := math.Sqrt(float64(time.Hour) / float64(interval))
	return math.Sqrt(variance) * perHour * 100, true
}

func firstValid(history []types.PriceQuote) *types.PriceQuote {
	for i := range history {
		p := history[i].Price
		if p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0) {
			return &history[i]
		}
	}
	return nil
}
