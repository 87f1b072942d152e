package market

import (
	"context"
	"fmt"
	"math"

	"bridgeroute/internal/cache"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
	"bridgeroute/internal/types"
)

// Bounds is the plausible historical range of a rate
type Bounds struct {
	Min float64
	Max float64
}

// FxSource answers FX rates. Rates outside the configured bounds count as a
// provider failure. After the snapshot tier it falls back to a static table
// whose values are always tagged as fallbacks.
type FxSource struct {
	chain    *chain[FxProvider, types.FxRate]
	cache    *cache.Coalescer[string, sourced[types.FxRate]]
	ttl      TTL
	bounds   map[types.Pair]Bounds
	fallback map[types.Pair]types.FallbackValue[float64]
	opts     Options
	log      logger.Logger
}

// NewFxSource creates an FX source
func NewFxSource(links []Link[FxProvider], bounds map[types.Pair]Bounds, fallback map[types.Pair]types.FallbackValue[float64],
	ttl TTL, monitor *cache.Monitor, cacheOpts cache.Options, opts Options, log logger.Logger) *FxSource {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	cacheOpts.Logger = log
	s := &FxSource{
		cache:    cache.New[string, sourced[types.FxRate]](monitor, cacheOpts),
		ttl:      ttl,
		bounds:   bounds,
		fallback: fallback,
		opts:     opts,
		log:      log,
	}
	s.chain = newChain[FxProvider, types.FxRate]("fx", links, s.checkRate, opts, log)
	return s
}

// checkRate applies the pair's bounds, or the inverse pair's bounds to 1/rate
func (s *FxSource) checkRate(r types.FxRate) error {
	if r.Rate <= 0 || math.IsNaN(r.Rate) || math.IsInf(r.Rate, 0) {
		return fmt.Errorf("%s rate %v is not a positive number", r.Pair, r.Rate)
	}
	if b, ok := s.bounds[r.Pair]; ok {
		if r.Rate < b.Min || r.Rate > b.Max {
			return fmt.Errorf("%s rate %v outside [%v, %v]", r.Pair, r.Rate, b.Min, b.Max)
		}
		return nil
	}
	if b, ok := s.bounds[r.Pair.Inverse()]; ok {
		inv := 1 / r.Rate
		if inv < b.Min || inv > b.Max {
			return fmt.Errorf("%s inverse rate %v outside [%v, %v]", r.Pair, inv, b.Min, b.Max)
		}
	}
	return nil
}

// Rate returns how many Quote units one Base buys
func (s *FxSource) Rate(ctx context.Context, pair types.Pair) (types.Fact[types.FxRate], error) {
	if pair.Identity() {
		return types.Fact[types.FxRate]{
			Value:      types.FxRate{Pair: pair, Rate: 1, Timestamp: s.opts.Now(), Source: "identity"},
			Provenance: types.Provenance{Source: "identity", Freshness: types.FreshnessLive},
		}, nil
	}

	label := "fx " + pair.String()
	l, err := s.cache.Get(ctx, "fx:"+pair.String(), func(ctx context.Context) (sourced[types.FxRate], error) {
		return s.chain.fetch(ctx, label, func(ctx context.Context, p FxProvider) (types.FxRate, error) {
			r, err := p.Rate(ctx, pair)
			r.Pair = pair
			return r, err
		})
	}, s.ttl.Success, s.ttl.Failure)
	if err == nil {
		return resolve(label, l), nil
	}
	if ctx.Err() != nil || !errors.Is(err, errors.ErrCodeUpstreamUnavailable) {
		return types.Fact[types.FxRate]{}, err
	}

	if fact, ok := s.fromSnapshot(ctx, label, pair, err); ok {
		return fact, nil
	}
	if fact, ok := s.fromTable(label, pair, err); ok {
		return fact, nil
	}
	return types.Fact[types.FxRate]{}, err
}

func (s *FxSource) fromSnapshot(ctx context.Context, label string, pair types.Pair, cause error) (types.Fact[types.FxRate], bool) {
	if s.opts.Snapshots == nil {
		return types.Fact[types.FxRate]{}, false
	}
	snap, found, err := s.opts.Snapshots.LatestFx(ctx, pair)
	if err != nil {
		s.log.Warn("Snapshot read failed", "key", label, "error", err)
		return types.Fact[types.FxRate]{}, false
	}
	if !found {
		return types.Fact[types.FxRate]{}, false
	}
	if err := s.checkRate(snap); err != nil {
		s.log.Warn("Discarding implausible snapshot", "key", label, "error", err)
		return types.Fact[types.FxRate]{}, false
	}
	s.opts.Metrics.RecordFallbackHop("fx")
	return historical(label, snap, snap.Source, snap.Timestamp, s.opts.Now(), cause), true
}

func (s *FxSource) fromTable(label string, pair types.Pair, cause error) (types.Fact[types.FxRate], bool) {
	fv, ok := s.fallback[pair]
	if !ok {
		inv, found := s.fallback[pair.Inverse()]
		if !found || inv.Value <= 0 {
			return types.Fact[types.FxRate]{}, false
		}
		fv = types.FallbackValue[float64]{Value: 1 / inv.Value, Reason: inv.Reason + " (inverted)"}
	}

	s.opts.Metrics.RecordFallbackHop("fx")
	s.log.Warn("Using static fallback rate", "key", label, "rate", fv.Value, "reason", fv.Reason)
	f := fv.Fact(fmt.Sprintf("%s: static fallback rate %v used (%s): %v", label, fv.Value, fv.Reason, cause))
	return types.Fact[types.FxRate]{
		Value:      types.FxRate{Pair: pair, Rate: f.Value, Timestamp: s.opts.Now(), Source: f.Source},
		Provenance: f.Provenance,
	}, true
}

// Monitor exposes the cache counters
func (s *FxSource) Monitor() *cache.Monitor {
	return s.cache.Monitor()
}
