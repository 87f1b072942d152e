package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bridgeroute/internal/cost"
	"bridgeroute/internal/decision"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

// SpreadResult labels the price gap of one asset between two venues. Prices
// are in the buy venue's primary currency.
type SpreadResult struct {
	Asset          types.Asset     `json:"asset"`
	BuyVenue       string          `json:"buy_venue"`
	SellVenue      string          `json:"sell_venue"`
	BuyPrice       float64         `json:"buy_price"`
	SellPrice      float64         `json:"sell_price"`
	FxRate         float64         `json:"fx_rate"`
	GrossSpreadPct float64         `json:"gross_spread_pct"`
	FeesPct        float64         `json:"fees_pct"`
	WithdrawalPct  float64         `json:"withdrawal_fee_pct"`
	SlippagePct    float64         `json:"slippage_pct"`
	NetSpreadPct   float64         `json:"net_spread_pct"`
	CostPct        float64         `json:"cost_pct"`
	Decision       decision.Signal `json:"decision"`
	Meta           Meta            `json:"meta"`
}

type spreadSide struct {
	venue types.Venue
	quote string
	price errors.Result[types.Fact[types.PriceQuote]]
	fee   errors.Result[types.Fact[float64]]
	book  errors.Result[types.Fact[types.Liquidity]]
	wdFee errors.Result[types.Fact[float64]]
}

func (s *spreadSide) firstFailure() (string, error) {
	switch {
	case !s.price.IsOk():
		return "price", s.price.Error()
	case !s.fee.IsOk():
		return "trading fee", s.fee.Error()
	case !s.book.IsOk():
		return "orderbook", s.book.Error()
	}
	return "", nil
}

// ScoreSpread compares the asset's price at venueA and venueB in venueA's
// primary currency. The cheaper venue is the buy side. The decision uses the
// cost of capturing the gap: both trading fees plus the buy side withdrawal
// fee, sized at the configured notional, minus the gross spread.
func (e *Engine) ScoreSpread(ctx context.Context, venueA, venueB string, asset types.Asset) (*SpreadResult, error) {
	asset = asset.Normalize()
	if venueA == venueB {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "spread needs two venues, got %q twice", venueA)
	}
	if asset == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "asset is required", nil)
	}
	a, ok := e.deps.Catalog.Venue(venueA)
	if !ok {
		return nil, unknownVenue(venueA)
	}
	b, ok := e.deps.Catalog.Venue(venueB)
	if !ok {
		return nil, unknownVenue(venueB)
	}
	for _, v := range []types.Venue{a, b} {
		if !v.Trades(asset) {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "venue %s does not list %s", v.ID, asset)
		}
		if v.PrimaryCurrency() == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "venue %s has no quote currency", v.ID)
		}
	}

	requestID := uuid.NewString()
	log := e.log.WithContext(ctx).WithFields(map[string]interface{}{
		"request_id": requestID,
		"asset":      string(asset),
		"venues":     a.ID + "," + b.ID,
	})
	start := time.Now()
	defer func() {
		e.perf.LogPerformance("score_spread", time.Since(start), map[string]interface{}{"request_id": requestID})
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	asm := newAssembler()
	sides := []*spreadSide{
		{venue: a, quote: a.PrimaryCurrency()},
		{venue: b, quote: b.PrimaryCurrency()},
	}
	for _, s := range sides {
		if s.venue.Status == types.VenueOffline {
			asm.warn(fmt.Sprintf("venue %s was offline at the last health probe", s.venue.ID))
		}
	}

	var fx errors.Result[types.Fact[types.FxRate]]
	g := e.group()
	for _, s := range sides {
		gather(g, ctx, &s.price, func(ctx context.Context) (types.Fact[types.PriceQuote], error) {
			return e.deps.Prices.SpotPrice(ctx, s.venue, asset, s.quote)
		})
		gather(g, ctx, &s.fee, func(ctx context.Context) (types.Fact[float64], error) {
			return e.deps.Model.TradingCostPct(ctx, s.venue)
		})
		gather(g, ctx, &s.book, func(ctx context.Context) (types.Fact[types.Liquidity], error) {
			return e.deps.Orderbooks.Orderbook(ctx, s.venue, asset, s.quote)
		})
		gather(g, ctx, &s.wdFee, func(ctx context.Context) (types.Fact[float64], error) {
			return e.deps.Model.WithdrawalCostAbsolute(ctx, s.venue, asset)
		})
	}
	gather(g, ctx, &fx, func(ctx context.Context) (types.Fact[types.FxRate], error) {
		return e.deps.FX.Rate(ctx, types.Pair{Base: sides[1].quote, Quote: sides[0].quote})
	})
	_ = g.Wait()
	if err := timedOut(ctx, "spread fact gathering"); err != nil {
		return nil, err
	}

	for _, s := range sides {
		if what, err := s.firstFailure(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeUpstreamUnavailable, fmt.Sprintf("%s %s unavailable", what, s.venue.ID))
		}
		asm.add(s.price.Value().Provenance)
		asm.addFee(s.fee.Value().Provenance)
		asm.add(s.book.Value().Provenance)
	}
	rate, err := fx.Unwrap()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUpstreamUnavailable, "fx rate unavailable")
	}
	asm.add(rate.Provenance)

	// everything in venue A's currency
	priceA := sides[0].price.Value().Value.Price
	priceB := sides[1].price.Value().Value.Price * rate.Value.Rate
	buy, sell := sides[0], sides[1]
	buyPrice, sellPrice := priceA, priceB
	if priceB < priceA {
		buy, sell = sides[1], sides[0]
		buyPrice, sellPrice = priceB, priceA
	}

	wd, err := buy.wdFee.Unwrap()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUpstreamUnavailable, "withdrawal fee "+buy.venue.ID+" unavailable")
	}
	asm.addFee(wd.Provenance)

	qty := e.opts.SpreadNotional / buyPrice
	gross := (sellPrice - buyPrice) / buyPrice * 100
	fees := buy.fee.Value().Value + sell.fee.Value().Value
	wdPct := cost.WithdrawalPct(wd.Value, qty)
	buySlip, _ := e.deps.Model.SlippagePct(buy.book.Value().Value, types.SideBuy, qty)
	sellSlip, _ := e.deps.Model.SlippagePct(sell.book.Value().Value, types.SideSell, qty)
	minutes := e.deps.Model.TransferTimeMinutes(asset)

	costPct := decision.SpreadCostPct(gross, fees, wdPct)
	signal := decision.Score(decision.Inputs{
		TotalCostPct:    costPct,
		SlippagePct:     buySlip + sellSlip,
		TransferMinutes: minutes,
		VolatilityPct:   e.volatility(ctx, asm, a, asset, a.PrimaryCurrency()),
	})
	e.deps.Metrics.RecordDecision(string(signal.Tier))

	res := &SpreadResult{
		Asset:          asset,
		BuyVenue:       buy.venue.ID,
		SellVenue:      sell.venue.ID,
		BuyPrice:       buyPrice,
		SellPrice:      sellPrice,
		FxRate:         rate.Value.Rate,
		GrossSpreadPct: gross,
		FeesPct:        fees,
		WithdrawalPct:  wdPct,
		SlippagePct:    buySlip + sellSlip,
		NetSpreadPct:   -costPct,
		CostPct:        costPct,
		Decision:       signal,
		Meta:           asm.meta(requestID, e.opts.Now()),
	}
	log.Info("Spread scored",
		"buy", res.BuyVenue, "sell", res.SellVenue,
		"gross_pct", gross, "net_pct", res.NetSpreadPct,
		"tier", string(signal.Tier), "freshness", string(res.Meta.DataFreshness))
	return res, nil
}
