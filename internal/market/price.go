package market

import (
	"context"
	"fmt"
	"math"
	"strings"

	"bridgeroute/internal/cache"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
	"bridgeroute/internal/types"
)

// PriceSource answers spot prices through its provider chain, the cache's
// stale path and finally the snapshot store
type PriceSource struct {
	chain *chain[PriceProvider, types.PriceQuote]
	cache *cache.Coalescer[string, sourced[types.PriceQuote]]
	ttl   TTL
	opts  Options
	log   logger.Logger
}

// NewPriceSource creates a price source over links in fallback order
func NewPriceSource(links []Link[PriceProvider], ttl TTL, monitor *cache.Monitor, cacheOpts cache.Options, opts Options, log logger.Logger) *PriceSource {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	cacheOpts.Logger = log
	return &PriceSource{
		chain: newChain[PriceProvider, types.PriceQuote]("price", links, checkPrice, opts, log),
		cache: cache.New[string, sourced[types.PriceQuote]](monitor, cacheOpts),
		ttl:   ttl,
		opts:  opts,
		log:   log,
	}
}

func checkPrice(q types.PriceQuote) error {
	if q.Price <= 0 || math.IsNaN(q.Price) || math.IsInf(q.Price, 0) {
		return fmt.Errorf("price %v is not a positive number", q.Price)
	}
	return nil
}

// SpotPrice returns the price of asset in quote at venue
func (s *PriceSource) SpotPrice(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.Fact[types.PriceQuote], error) {
	quote = strings.ToUpper(quote)
	label := fmt.Sprintf("price %s %s", venue.ID, types.Symbol(asset, quote))
	key := "price:" + venue.ID + ":" + types.Symbol(asset, quote)

	l, err := s.cache.Get(ctx, key, func(ctx context.Context) (sourced[types.PriceQuote], error) {
		return s.chain.fetch(ctx, label, func(ctx context.Context, p PriceProvider) (types.PriceQuote, error) {
			return p.SpotPrice(ctx, venue, asset, quote)
		})
	}, s.ttl.Success, s.ttl.Failure)
	if err == nil {
		return resolve(label, l), nil
	}
	if ctx.Err() != nil || !errors.Is(err, errors.ErrCodeUpstreamUnavailable) || s.opts.Snapshots == nil {
		return types.Fact[types.PriceQuote]{}, err
	}

	snap, found, serr := s.opts.Snapshots.LatestPrice(ctx, venue.ID, asset, quote)
	if serr != nil {
		s.log.Warn("Snapshot read failed", "key", label, "error", serr)
		return types.Fact[types.PriceQuote]{}, err
	}
	if !found || checkPrice(snap) != nil {
		return types.Fact[types.PriceQuote]{}, err
	}
	s.opts.Metrics.RecordFallbackHop("price")
	s.log.Warn("Serving historical price snapshot", "key", label, "captured_at", snap.Timestamp)
	return historical(label, snap, snap.Source, snap.Timestamp, s.opts.Now(), err), nil
}

// Monitor exposes the cache counters
func (s *PriceSource) Monitor() *cache.Monitor {
	return s.cache.Monitor()
}
