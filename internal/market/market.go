// Package market holds the fallback-chained fact sources the routing engine
// reads: prices, FX rates, orderbooks, fees and withdrawal status. Every
// source answers through a cache.Coalescer and returns a types.Fact whose
// provenance says exactly how fresh the value is.
package market

import (
	"context"
	"fmt"
	"time"

	"bridgeroute/internal/cache"
	"bridgeroute/internal/types"
)

// PriceProvider is one upstream for spot prices
type PriceProvider interface {
	Name() string
	SpotPrice(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.PriceQuote, error)
}

// FxProvider is one upstream for FX rates
type FxProvider interface {
	Name() string
	Rate(ctx context.Context, pair types.Pair) (types.FxRate, error)
}

// OrderbookProvider is one upstream for orderbooks
type OrderbookProvider interface {
	Name() string
	Orderbook(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.OrderbookSnapshot, error)
}

// FeeReader reads the persisted fee table; found is false when no row exists
type FeeReader interface {
	TradingFee(ctx context.Context, venue string) (pct float64, found bool, err error)
	WithdrawalFee(ctx context.Context, venue string, asset types.Asset) (fee float64, found bool, err error)
}

// WithdrawalReader reads persisted withdrawal suspensions
type WithdrawalReader interface {
	WithdrawalStatus(ctx context.Context, venue string, asset types.Asset) (types.WithdrawalStatus, bool, error)
}

// SnapshotReader is the last-resort store of historical facts
type SnapshotReader interface {
	LatestPrice(ctx context.Context, venue string, asset types.Asset, quote string) (types.PriceQuote, bool, error)
	LatestFx(ctx context.Context, pair types.Pair) (types.FxRate, bool, error)
	LatestOrderbook(ctx context.Context, venue string, asset types.Asset, quote string) (types.OrderbookSnapshot, bool, error)
}

// Limiter paces outbound calls per provider name
type Limiter interface {
	Wait(ctx context.Context, name string) error
}

// Metrics receives source level events
type Metrics interface {
	RecordSourceFetch(kind, provider, outcome string)
	RecordFallbackHop(kind string)
}

// Fetch outcomes reported to Metrics
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeImplausible = "implausible"
)

type noopMetrics struct{}

func (noopMetrics) RecordSourceFetch(string, string, string) {}
func (noopMetrics) RecordFallbackHop(string)                 {}

type noLimit struct{}

func (noLimit) Wait(context.Context, string) error { return nil }

// sourced is what the coalescer stores: the value, the provider that
// produced it and the hops taken to get there
type sourced[V any] struct {
	Value    V
	Source   string
	Warnings []string
}

// resolve turns a coalescer answer into a fact
func resolve[V any](label string, l cache.Lookup[sourced[V]]) types.Fact[V] {
	p := types.Provenance{
		Source:    l.Value.Source,
		Freshness: types.FreshnessLive,
		Warnings:  append([]string(nil), l.Value.Warnings...),
	}
	switch {
	case l.Stale:
		p.Freshness = types.FreshnessStale
		p.Age = l.Age
		msg := fmt.Sprintf("%s: serving stale value aged %s after refresh failed", label, l.Age.Truncate(time.Millisecond))
		if l.Err != nil {
			msg += ": " + l.Err.Error()
		}
		p.Warnings = append(p.Warnings, msg)
	case l.FromCache:
		p.Freshness = types.FreshnessCached
		p.Age = l.Age
	}
	return types.Fact[V]{Value: l.Value.Value, Provenance: p}
}

// historical tags a snapshot read as a last-resort fallback, with its age
// surfaced. It is not a hardcoded value, so IsFallback stays false.
func historical[V any](label string, value V, source string, ts time.Time, now time.Time, cause error) types.Fact[V] {
	age := now.Sub(ts)
	if age < 0 {
		age = 0
	}
	return types.Fact[V]{
		Value: value,
		Provenance: types.Provenance{
			Source:    "snapshot:" + source,
			Freshness: types.FreshnessFallback,
			Age:       age,
			Warnings: []string{
				fmt.Sprintf("%s: no live or cached value: %v", label, cause),
				fmt.Sprintf("%s: using historical snapshot aged %s", label, age.Truncate(time.Second)),
			},
		},
	}
}

// Options are shared by every source
type Options struct {
	Limiter   Limiter
	Metrics   Metrics
	Snapshots SnapshotReader
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Limiter == nil {
		o.Limiter = noLimit{}
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// TTL is the success/failure cache lifetime pair of one fact kind
type TTL struct {
	Success time.Duration
	Failure time.Duration
}
