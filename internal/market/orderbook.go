package market

import (
	"context"
	"fmt"
	"strings"

	"bridgeroute/internal/cache"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
	"bridgeroute/internal/types"
)

// OrderbookSource answers orderbooks. When nothing can be found it returns
// types.UnknownLiquidity instead of an error, so callers decide the policy.
type OrderbookSource struct {
	chain *chain[OrderbookProvider, types.OrderbookSnapshot]
	cache *cache.Coalescer[string, sourced[types.OrderbookSnapshot]]
	ttl   TTL
	opts  Options
	log   logger.Logger
}

// NewOrderbookSource creates an orderbook source
func NewOrderbookSource(links []Link[OrderbookProvider], ttl TTL, monitor *cache.Monitor, cacheOpts cache.Options, opts Options, log logger.Logger) *OrderbookSource {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	cacheOpts.Logger = log
	return &OrderbookSource{
		chain: newChain[OrderbookProvider, types.OrderbookSnapshot]("orderbook", links, nil, opts, log),
		cache: cache.New[string, sourced[types.OrderbookSnapshot]](monitor, cacheOpts),
		ttl:   ttl,
		opts:  opts,
		log:   log,
	}
}

// Orderbook returns the venue's book for asset/quote or UnknownLiquidity.
// Only a caller cancellation is returned as an error.
func (s *OrderbookSource) Orderbook(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.Fact[types.Liquidity], error) {
	quote = strings.ToUpper(quote)
	label := fmt.Sprintf("orderbook %s %s", venue.ID, types.Symbol(asset, quote))

	l, err := s.cache.Get(ctx, "book:"+venue.ID+":"+types.Symbol(asset, quote), func(ctx context.Context) (sourced[types.OrderbookSnapshot], error) {
		return s.chain.fetch(ctx, label, func(ctx context.Context, p OrderbookProvider) (types.OrderbookSnapshot, error) {
			book, err := p.Orderbook(ctx, venue, asset, quote)
			return book.Sorted(), err
		})
	}, s.ttl.Success, s.ttl.Failure)
	if err == nil {
		f := resolve(label, l)
		return types.Fact[types.Liquidity]{Value: types.KnownLiquidity(f.Value), Provenance: f.Provenance}, nil
	}
	if ctx.Err() != nil || errors.Is(err, errors.ErrCodeTimeout) {
		return types.Fact[types.Liquidity]{}, err
	}

	if s.opts.Snapshots != nil {
		snap, found, serr := s.opts.Snapshots.LatestOrderbook(ctx, venue.ID, asset, quote)
		switch {
		case serr != nil:
			s.log.Warn("Snapshot read failed", "key", label, "error", serr)
		case found:
			s.opts.Metrics.RecordFallbackHop("orderbook")
			f := historical(label, snap.Sorted(), snap.Source, snap.Timestamp, s.opts.Now(), err)
			return types.Fact[types.Liquidity]{Value: types.KnownLiquidity(f.Value), Provenance: f.Provenance}, nil
		}
	}

	s.log.Debug("No orderbook, liquidity unknown", "key", label, "error", err)
	return types.Fact[types.Liquidity]{
		Value: types.UnknownLiquidity,
		Provenance: types.Provenance{
			Source:    "unknown-liquidity",
			Freshness: types.FreshnessFallback,
			Warnings:  []string{fmt.Sprintf("%s: liquidity unknown, slippage penalty applied", label)},
		},
	}, nil
}

// Monitor exposes the cache counters
func (s *OrderbookSource) Monitor() *cache.Monitor {
	return s.cache.Monitor()
}
