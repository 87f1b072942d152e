package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"bridgeroute/internal/decision"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/routing"
	"bridgeroute/internal/types"
)

// RouteRequest asks how to move Amount of SourceCurrency at SourceVenue into
// DestCurrency at DestVenue
type RouteRequest struct {
	SourceVenue    string  `json:"source_venue"`
	SourceCurrency string  `json:"source_currency"`
	DestVenue      string  `json:"dest_venue"`
	DestCurrency   string  `json:"dest_currency"`
	Amount         float64 `json:"amount"`
	Strategy       string  `json:"strategy"`
}

// RouteResult carries either an optimal plan or a NoRoute reason
type RouteResult struct {
	Strategy     routing.Strategy `json:"strategy"`
	Optimal      *routing.Plan    `json:"optimal"`
	Alternatives []routing.Plan   `json:"alternatives"`
	Decision     *decision.Signal `json:"decision,omitempty"`
	NoRoute      *routing.NoRoute `json:"no_route,omitempty"`
	Meta         Meta             `json:"meta"`
}

type routeInput struct {
	src, dst       types.Venue
	srcCur, dstCur string
	amount         float64
	strategy       routing.Strategy
}

func (e *Engine) validate(req RouteRequest) (routeInput, error) {
	in := routeInput{
		srcCur: strings.ToUpper(strings.TrimSpace(req.SourceCurrency)),
		dstCur: strings.ToUpper(strings.TrimSpace(req.DestCurrency)),
		amount: req.Amount,
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = string(routing.StrategyCheapest)
	}
	s, err := routing.ParseStrategy(strategy)
	if err != nil {
		return in, err
	}
	in.strategy = s

	if req.SourceVenue == req.DestVenue {
		return in, errors.Newf(errors.ErrCodeInvalidInput, "source and destination venue are both %q", req.SourceVenue)
	}
	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) || req.Amount <= 0 {
		return in, errors.Newf(errors.ErrCodeInvalidInput, "amount must be a positive number, got %v", req.Amount)
	}

	var ok bool
	if in.src, ok = e.deps.Catalog.Venue(req.SourceVenue); !ok {
		return in, unknownVenue(req.SourceVenue)
	}
	if in.dst, ok = e.deps.Catalog.Venue(req.DestVenue); !ok {
		return in, unknownVenue(req.DestVenue)
	}
	if !in.src.SupportsCurrency(in.srcCur) {
		return in, errors.Newf(errors.ErrCodeInvalidInput, "venue %s does not support currency %q", in.src.ID, in.srcCur)
	}
	if !in.dst.SupportsCurrency(in.dstCur) {
		return in, errors.Newf(errors.ErrCodeInvalidInput, "venue %s does not support currency %q", in.dst.ID, in.dstCur)
	}
	return in, nil
}

func unknownVenue(id string) *errors.AppError {
	return errors.New(errors.ErrCodeInvalidInput, "unknown venue", nil).
		WithDetails(fmt.Sprintf("%q is not in the venue catalog", id)).
		WithContext("venue", id)
}

// candidateFacts are the per asset fetches of one request
type candidateFacts struct {
	asset     types.Asset
	buyPrice  errors.Result[types.Fact[types.PriceQuote]]
	sellPrice errors.Result[types.Fact[types.PriceQuote]]
	buyBook   errors.Result[types.Fact[types.Liquidity]]
	sellBook  errors.Result[types.Fact[types.Liquidity]]
	wdFee     errors.Result[types.Fact[float64]]
}

// firstFailure names the first fetch that failed, if any
func (c *candidateFacts) firstFailure() (string, *errors.AppError) {
	switch {
	case !c.buyPrice.IsOk():
		return "buy price", c.buyPrice.Error()
	case !c.sellPrice.IsOk():
		return "sell price", c.sellPrice.Error()
	case !c.wdFee.IsOk():
		return "withdrawal fee", c.wdFee.Error()
	case !c.buyBook.IsOk():
		return "buy orderbook", c.buyBook.Error()
	case !c.sellBook.IsOk():
		return "sell orderbook", c.sellBook.Error()
	}
	return "", nil
}

// FindOptimalRoute prices every bridge asset listed at both venues and ranks
// the plans. A request that is well formed but has no viable bridge returns
// a result with NoRoute set and a nil error.
func (e *Engine) FindOptimalRoute(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	in, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	log := e.log.WithContext(ctx).WithFields(map[string]interface{}{
		"request_id": requestID,
		"source":     in.src.ID + "/" + in.srcCur,
		"dest":       in.dst.ID + "/" + in.dstCur,
		"strategy":   string(in.strategy),
	})
	start := time.Now()
	defer func() {
		d := time.Since(start)
		e.deps.Metrics.ObserveRoute(string(in.strategy), d)
		e.perf.LogPerformance("find_optimal_route", d, map[string]interface{}{"request_id": requestID})
	}()

	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	asm := newAssembler()
	for _, v := range []types.Venue{in.src, in.dst} {
		if v.Status == types.VenueOffline {
			asm.warn(fmt.Sprintf("venue %s was offline at the last health probe", v.ID))
		}
	}

	// phase 1: facts shared by every candidate plus the suspension filter
	assets := types.CommonAssets(in.src, in.dst)
	statuses := make([]errors.Result[types.Fact[bool]], len(assets))
	var fx errors.Result[types.Fact[types.FxRate]]
	var buyFee, sellFee errors.Result[types.Fact[float64]]

	g := e.group()
	for i, asset := range assets {
		gather(g, ctx, &statuses[i], func(ctx context.Context) (types.Fact[bool], error) {
			return e.deps.Withdrawals.Suspended(ctx, in.src, asset)
		})
	}
	gather(g, ctx, &fx, func(ctx context.Context) (types.Fact[types.FxRate], error) {
		return e.deps.FX.Rate(ctx, types.Pair{Base: in.srcCur, Quote: in.dstCur})
	})
	gather(g, ctx, &buyFee, func(ctx context.Context) (types.Fact[float64], error) {
		return e.deps.Model.TradingCostPct(ctx, in.src)
	})
	gather(g, ctx, &sellFee, func(ctx context.Context) (types.Fact[float64], error) {
		return e.deps.Model.TradingCostPct(ctx, in.dst)
	})
	_ = g.Wait()
	if err := timedOut(ctx, "route fact gathering"); err != nil {
		return nil, err
	}

	for _, r := range []errors.Result[types.Fact[float64]]{buyFee, sellFee} {
		f, err := r.Unwrap()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeUpstreamUnavailable, "trading fee unavailable")
		}
		asm.addFee(f.Provenance)
	}

	var fxRate float64
	if f, err := fx.Unwrap(); err != nil {
		asm.warn(fmt.Sprintf("fx %s/%s unavailable, effective cost omitted: %v", in.srcCur, in.dstCur, err))
	} else {
		asm.add(f.Provenance)
		fxRate = f.Value.Rate
	}

	suspended := make(map[types.Asset]bool)
	for i, asset := range assets {
		f, err := statuses[i].Unwrap()
		if err != nil {
			suspended[asset] = true
			asm.warn(fmt.Sprintf("candidate %s dropped: withdrawal status: %v", asset, err))
			continue
		}
		asm.add(f.Provenance)
		if f.Value {
			suspended[asset] = true
			log.Debug("Candidate excluded", "asset", string(asset),
				"error", errors.Newf(errors.ErrCodeWithdrawalSuspended, "withdrawals of %s suspended at %s", asset, in.src.ID))
		}
	}

	// phase 2: per candidate prices, books and the withdrawal fee
	candidates := routing.CandidateAssets(in.src, in.dst, suspended)
	facts := make([]candidateFacts, len(candidates))
	g = e.group()
	for i, asset := range candidates {
		cf := &facts[i]
		cf.asset = asset
		gather(g, ctx, &cf.buyPrice, func(ctx context.Context) (types.Fact[types.PriceQuote], error) {
			return e.deps.Prices.SpotPrice(ctx, in.src, asset, in.srcCur)
		})
		gather(g, ctx, &cf.sellPrice, func(ctx context.Context) (types.Fact[types.PriceQuote], error) {
			return e.deps.Prices.SpotPrice(ctx, in.dst, asset, in.dstCur)
		})
		gather(g, ctx, &cf.buyBook, func(ctx context.Context) (types.Fact[types.Liquidity], error) {
			return e.deps.Orderbooks.Orderbook(ctx, in.src, asset, in.srcCur)
		})
		gather(g, ctx, &cf.sellBook, func(ctx context.Context) (types.Fact[types.Liquidity], error) {
			return e.deps.Orderbooks.Orderbook(ctx, in.dst, asset, in.dstCur)
		})
		gather(g, ctx, &cf.wdFee, func(ctx context.Context) (types.Fact[float64], error) {
			return e.deps.Model.WithdrawalCostAbsolute(ctx, in.src, asset)
		})
	}
	_ = g.Wait()
	if err := timedOut(ctx, "route fact gathering"); err != nil {
		return nil, err
	}

	var priced []routing.Candidate
	for i := range facts {
		cf := &facts[i]
		if what, ferr := cf.firstFailure(); ferr != nil {
			asm.warn(fmt.Sprintf("candidate %s dropped: %s: %v", cf.asset, what, ferr))
			log.Debug("Candidate dropped", "asset", string(cf.asset), "fact", what, "code", string(ferr.Code))
			continue
		}
		buyPrice, sellPrice := cf.buyPrice.Value(), cf.sellPrice.Value()
		buyBook, sellBook := cf.buyBook.Value(), cf.sellBook.Value()
		wdFee := cf.wdFee.Value()
		asm.add(buyPrice.Provenance)
		asm.add(sellPrice.Provenance)
		asm.add(buyBook.Provenance)
		asm.add(sellBook.Provenance)
		asm.addFee(wdFee.Provenance)

		priced = append(priced, routing.Candidate{
			Asset:          cf.asset,
			Source:         in.src,
			Dest:           in.dst,
			SourceCurrency: in.srcCur,
			DestCurrency:   in.dstCur,
			BuyPrice:       buyPrice.Value.Price,
			SellPrice:      sellPrice.Value.Price,
			BuyFeePct:      buyFee.Value().Value,
			SellFeePct:     sellFee.Value().Value,
			WithdrawalFee:  wdFee.Value,
			BuyBook:        buyBook.Value,
			SellBook:       sellBook.Value,
			FxRate:         fxRate,
		})
	}

	outcome := e.searcher.Search(priced, in.amount, in.strategy)
	for _, d := range outcome.Dropped {
		asm.warn(d)
	}

	result := &RouteResult{
		Strategy:     in.strategy,
		Optimal:      outcome.Optimal,
		Alternatives: outcome.Alternatives,
		NoRoute:      outcome.NoRoute,
	}
	if result.Alternatives == nil {
		result.Alternatives = []routing.Plan{}
	}

	if outcome.Optimal != nil {
		vol := e.volatility(ctx, asm, in.src, outcome.Optimal.BridgeAsset, in.srcCur)
		signal := decision.Score(decision.Inputs{
			TotalCostPct:    outcome.Optimal.TotalCostPct,
			SlippagePct:     slippageOf(*outcome.Optimal),
			TransferMinutes: outcome.Optimal.TotalTimeMinutes,
			VolatilityPct:   vol,
		})
		result.Decision = &signal
		e.deps.Metrics.RecordDecision(string(signal.Tier))
	}

	result.Meta = asm.meta(requestID, e.opts.Now())
	if result.NoRoute != nil {
		log.Info("No route available", "reason", result.NoRoute.Reason, "freshness", string(result.Meta.DataFreshness))
	} else {
		log.Info("Route computed",
			"bridge", string(result.Optimal.BridgeAsset),
			"total_cost_pct", result.Optimal.TotalCostPct,
			"alternatives", len(result.Alternatives),
			"tier", string(result.Decision.Tier),
			"freshness", string(result.Meta.DataFreshness),
			"warnings", len(result.Meta.Warnings))
	}
	return result, nil
}

// slippageOf sums the trade legs' slippage
func slippageOf(p routing.Plan) float64 {
	var total float64
	for _, l := range p.Legs {
		total += l.SlippagePct
	}
	return total
}

// volatility reads price history for the bridge asset; nil when there is
// not enough of it
func (e *Engine) volatility(ctx context.Context, asm *assembler, venue types.Venue, asset types.Asset, quote string) *float64 {
	if e.deps.History == nil {
		return nil
	}
	history, err := e.deps.History.PriceHistory(ctx, venue.ID, asset, quote, e.opts.Now().Add(-e.opts.VolatilityWindow))
	if err != nil {
		asm.warn(fmt.Sprintf("volatility %s %s: price history unavailable: %v", venue.ID, types.Symbol(asset, quote), err))
		return nil
	}
	vol, ok := HourlyVolatilityPct(history, e.opts.MinVolatilityPoints)
	if !ok {
		e.log.Debug("Not enough price history for volatility", "venue", venue.ID, "asset", string(asset), "points", len(history))
		return nil
	}
	return &vol
}
