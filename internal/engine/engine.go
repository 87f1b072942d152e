// Package engine answers route and spread questions. It gathers market facts
// concurrently through the fallback-chained sources, prices every candidate
// bridge asset with the cost model, ranks them and labels the winner.
package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"bridgeroute/internal/config"
	"bridgeroute/internal/cost"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
	"bridgeroute/internal/routing"
	"bridgeroute/internal/types"
)

// PriceSource answers spot prices
type PriceSource interface {
	SpotPrice(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.Fact[types.PriceQuote], error)
}

// FxSource answers conversion rates
type FxSource interface {
	Rate(ctx context.Context, pair types.Pair) (types.Fact[types.FxRate], error)
}

// OrderbookSource answers books or the unknown liquidity marker
type OrderbookSource interface {
	Orderbook(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.Fact[types.Liquidity], error)
}

// WithdrawalSource reports withdrawal suspensions
type WithdrawalSource interface {
	Suspended(ctx context.Context, venue types.Venue, asset types.Asset) (types.Fact[bool], error)
}

// History returns stored prices, oldest first
type History interface {
	PriceHistory(ctx context.Context, venue string, asset types.Asset, quote string, since time.Time) ([]types.PriceQuote, error)
}

// Catalog resolves venue ids
type Catalog interface {
	Venue(id string) (types.Venue, bool)
}

// Metrics receives per request events
type Metrics interface {
	ObserveRoute(strategy string, d time.Duration)
	RecordDecision(tier string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRoute(string, time.Duration) {}
func (noopMetrics) RecordDecision(string)              {}

// Deps are the collaborators of an Engine. History and Metrics are optional.
type Deps struct {
	Catalog     Catalog
	Prices      PriceSource
	FX          FxSource
	Orderbooks  OrderbookSource
	Withdrawals WithdrawalSource
	Model       cost.Model
	History     History
	Metrics     Metrics
}

// Options tune the engine
type Options struct {
	MaxAlternatives      int
	MaxConcurrentFetches int
	RequestTimeout       time.Duration
	// SpreadNotional sizes the withdrawal fee of a spread, in the first
	// venue's primary currency
	SpreadNotional float64
	// VolatilityWindow is how far back price history is read
	VolatilityWindow time.Duration
	// MinVolatilityPoints is the fewest stored prices that give an estimate
	MinVolatilityPoints int
	// SlowAfter is the duration above which a computation logs at warn
	SlowAfter time.Duration
	Now       func() time.Time
}

// OptionsFromConfig maps the routing section
func OptionsFromConfig(cfg config.RoutingConfig) Options {
	return Options{
		MaxAlternatives:      cfg.MaxAlternatives,
		MaxConcurrentFetches: cfg.MaxConcurrentFetches,
		RequestTimeout:       cfg.RequestTimeout,
		SpreadNotional:       cfg.SpreadNotional,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAlternatives <= 0 {
		o.MaxAlternatives = routing.DefaultMaxAlternatives
	}
	if o.MaxConcurrentFetches <= 0 {
		o.MaxConcurrentFetches = 8
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.SpreadNotional <= 0 {
		o.SpreadNotional = 1_000_000
	}
	if o.VolatilityWindow <= 0 {
		o.VolatilityWindow = 24 * time.Hour
	}
	if o.MinVolatilityPoints <= 0 {
		o.MinVolatilityPoints = MinVolatilityPoints
	}
	if o.SlowAfter <= 0 {
		o.SlowAfter = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine is safe for concurrent use; it holds no per request state
type Engine struct {
	deps     Deps
	opts     Options
	searcher routing.Searcher
	log      logger.Logger
	perf     *logger.PerformanceLogger
}

// New creates an engine
func New(deps Deps, opts Options, log logger.Logger) *Engine {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	log = log.WithField("component", "engine")
	return &Engine{
		deps:     deps,
		opts:     opts,
		searcher: routing.Searcher{Model: deps.Model, MaxAlternatives: opts.MaxAlternatives},
		log:      log,
		perf:     logger.NewPerformanceLogger(log, opts.SlowAfter),
	}
}

// Meta describes the data behind an answer
type Meta struct {
	RequestID     string          `json:"request_id"`
	DataFreshness types.Freshness `json:"data_freshness"`
	SourcesUsed   []string        `json:"sources_used"`
	Warnings      []string        `json:"warnings"`
	// FallbackFees is true when any fee came from a hardcoded default
	FallbackFees bool      `json:"fallback_fees"`
	UsedFallback bool      `json:"used_fallback"`
	ComputedAt   time.Time `json:"computed_at"`
}

// assembler collects provenance over one computation
type assembler struct {
	set          *types.ProvenanceSet
	fallbackFees bool
}

func newAssembler() *assembler {
	return &assembler{set: types.NewProvenanceSet()}
}

func (a *assembler) add(p types.Provenance) {
	a.set.Add(p)
}

func (a *assembler) addFee(p types.Provenance) {
	a.set.Add(p)
	if p.IsFallback {
		a.fallbackFees = true
	}
}

func (a *assembler) warn(w string) {
	a.set.Warn(w)
}

func (a *assembler) meta(requestID string, at time.Time) Meta {
	warnings := a.set.Warnings()
	if warnings == nil {
		warnings = []string{}
	}
	return Meta{
		RequestID:     requestID,
		DataFreshness: a.set.Freshness(),
		SourcesUsed:   a.set.Sources(),
		Warnings:      warnings,
		FallbackFees:  a.fallbackFees,
		UsedFallback:  a.set.UsedFallback(),
		ComputedAt:    at,
	}
}

// gather runs fetch on g and stores the tagged outcome in slot. Every slot is
// written by exactly one goroutine and read only after g.Wait.
func gather[T any](g *errgroup.Group, ctx context.Context, slot *errors.Result[types.Fact[T]], fetch func(context.Context) (types.Fact[T], error)) {
	g.Go(func() error {
		f, err := fetch(ctx)
		if err != nil {
			*slot = errors.Err[types.Fact[T]](err)
			return nil
		}
		*slot = errors.Ok(f)
		return nil
	})
}

func (e *Engine) group() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(e.opts.MaxConcurrentFetches)
	return g
}

// timedOut turns an expired request context into a TIMEOUT error
func timedOut(ctx context.Context, what string) error {
	if ctx.Err() == nil {
		return nil
	}
	return errors.New(errors.ErrCodeTimeout, what+" did not finish in time", ctx.Err())
}
