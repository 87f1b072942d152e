package market

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeroute/internal/cache"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

var (
	upbit   = types.Venue{ID: "upbit", Exchange: "upbit", Currencies: []string{"KRW"}, Assets: []types.Asset{"BTC", "XRP"}, TradingFeePct: 0.05}
	binance = types.Venue{ID: "binance", Exchange: "binance", Currencies: []string{"USDT"}, Assets: []types.Asset{"BTC", "XRP"}}
	usdKrw  = types.Pair{Base: "USD", Quote: "KRW"}
	testTTL = TTL{Success: 10 * time.Second, Failure: 2 * time.Second}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePrice struct {
	name  string
	mu    sync.Mutex
	price float64
	err   error
	delay time.Duration
	calls int
}

func (f *fakePrice) Name() string { return f.name }

func (f *fakePrice) SpotPrice(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.PriceQuote, error) {
	f.mu.Lock()
	f.calls++
	price, err, delay := f.price, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.PriceQuote{}, ctx.Err()
		}
	}
	if err != nil {
		return types.PriceQuote{}, err
	}
	return types.PriceQuote{Venue: venue.ID, Asset: asset, Quote: quote, Price: price, Source: f.name}, nil
}

func (f *fakePrice) set(price float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price, f.err = price, err
}

type fakeFx struct {
	name string
	rate float64
	err  error
}

func (f *fakeFx) Name() string { return f.name }

func (f *fakeFx) Rate(ctx context.Context, pair types.Pair) (types.FxRate, error) {
	if f.err != nil {
		return types.FxRate{}, f.err
	}
	rate := f.rate
	if pair.Base != "USD" {
		rate = 1 / rate
	}
	return types.FxRate{Pair: pair, Rate: rate, Source: f.name}, nil
}

type fakeBook struct {
	book types.OrderbookSnapshot
	err  error
}

func (f *fakeBook) Name() string { return "books" }

func (f *fakeBook) Orderbook(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.OrderbookSnapshot, error) {
	return f.book, f.err
}

type fakeSnapshots struct {
	prices map[string]types.PriceQuote
	fx     map[types.Pair]types.FxRate
	books  map[string]types.OrderbookSnapshot
}

func (f *fakeSnapshots) LatestPrice(ctx context.Context, venue string, asset types.Asset, quote string) (types.PriceQuote, bool, error) {
	q, ok := f.prices[venue+":"+types.Symbol(asset, quote)]
	return q, ok, nil
}

func (f *fakeSnapshots) LatestFx(ctx context.Context, pair types.Pair) (types.FxRate, bool, error) {
	r, ok := f.fx[pair]
	return r, ok, nil
}

func (f *fakeSnapshots) LatestOrderbook(ctx context.Context, venue string, asset types.Asset, quote string) (types.OrderbookSnapshot, bool, error) {
	b, ok := f.books[venue+":"+types.Symbol(asset, quote)]
	return b, ok, nil
}

type recordingMetrics struct {
	mu      sync.Mutex
	fetches []string
	hops    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{hops: make(map[string]int)}
}

func (m *recordingMetrics) RecordSourceFetch(kind, provider, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, kind+"/"+provider+"/"+outcome)
}

func (m *recordingMetrics) RecordFallbackHop(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hops[kind]++
}

type recordingLimiter struct {
	mu    sync.Mutex
	names []string
}

func (l *recordingLimiter) Wait(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
	return nil
}

func priceLinks(providers ...*fakePrice) []Link[PriceProvider] {
	links := make([]Link[PriceProvider], 0, len(providers))
	for _, p := range providers {
		links = append(links, Link[PriceProvider]{Provider: p, Name: p.name, Timeout: 50 * time.Millisecond})
	}
	return links
}

func TestPriceSourceFallsThroughProviders(t *testing.T) {
	primary := &fakePrice{name: "primary", err: fmt.Errorf("503 from upstream")}
	secondary := &fakePrice{name: "secondary", price: 95_000_000}
	metrics := newRecordingMetrics()
	limiter := &recordingLimiter{}

	src := NewPriceSource(priceLinks(primary, secondary), testTTL, nil, cache.Options{},
		Options{Metrics: metrics, Limiter: limiter}, nil)

	fact, err := src.SpotPrice(context.Background(), upbit, "BTC", "krw")
	require.NoError(t, err)
	assert.Equal(t, 95_000_000.0, fact.Value.Price)
	assert.Equal(t, "secondary", fact.Source)
	assert.Equal(t, types.FreshnessLive, fact.Freshness)
	require.Len(t, fact.Warnings, 1)
	assert.Contains(t, fact.Warnings[0], "price upbit BTC/KRW: provider primary failed")

	assert.Equal(t, []string{"price/primary/error", "price/secondary/ok"}, metrics.fetches)
	assert.Equal(t, 1, metrics.hops["price"])
	assert.Equal(t, []string{"primary", "secondary"}, limiter.names)

	again, err := src.SpotPrice(context.Background(), upbit, "BTC", "KRW")
	require.NoError(t, err)
	assert.Equal(t, types.FreshnessCached, again.Freshness)
	assert.Equal(t, 1, secondary.calls)
}

func TestPriceSourceTimeoutCountsAsFailure(t *testing.T) {
	slow := &fakePrice{name: "slow", price: 1, delay: time.Second}
	fast := &fakePrice{name: "fast", price: 2}
	metrics := newRecordingMetrics()
	src := NewPriceSource(priceLinks(slow, fast), testTTL, nil, cache.Options{}, Options{Metrics: metrics}, nil)

	fact, err := src.SpotPrice(context.Background(), upbit, "XRP", "KRW")
	require.NoError(t, err)
	assert.Equal(t, 2.0, fact.Value.Price)
	assert.Contains(t, metrics.fetches, "price/slow/timeout")
}

func TestPriceSourceRejectsNonPositivePrice(t *testing.T) {
	bad := &fakePrice{name: "bad", price: 0}
	src := NewPriceSource(priceLinks(bad), testTTL, nil, cache.Options{}, Options{}, nil)

	_, err := src.SpotPrice(context.Background(), upbit, "XRP", "KRW")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUpstreamUnavailable))
	assert.Contains(t, err.Error(), "IMPLAUSIBLE_VALUE")
}

func TestPriceSourceServesStaleThenSnapshot(t *testing.T) {
	clk := newClock()
	p := &fakePrice{name: "only", price: 100}
	snaps := &fakeSnapshots{prices: map[string]types.PriceQuote{
		"binance:XRP/USDT": {Venue: "binance", Asset: "XRP", Quote: "USDT", Price: 0.5, Timestamp: clk.Now().Add(-time.Hour), Source: "only"},
	}}
	src := NewPriceSource(priceLinks(p), testTTL, nil, cache.Options{Now: clk.Now}, Options{Snapshots: snaps, Now: clk.Now}, nil)
	ctx := context.Background()

	_, err := src.SpotPrice(ctx, upbit, "XRP", "KRW")
	require.NoError(t, err)

	p.set(0, fmt.Errorf("connection reset"))
	clk.Advance(15 * time.Second)

	stale, err := src.SpotPrice(ctx, upbit, "XRP", "KRW")
	require.NoError(t, err)
	assert.Equal(t, types.FreshnessStale, stale.Freshness)
	assert.Equal(t, 100.0, stale.Value.Price)
	assert.Equal(t, 15*time.Second, stale.Age)
	assert.Contains(t, stale.Warnings[len(stale.Warnings)-1], "serving stale value")

	clk.Advance(time.Second)
	again, err := src.SpotPrice(ctx, upbit, "XRP", "KRW")
	require.NoError(t, err)
	assert.Equal(t, types.FreshnessStale, again.Freshness)
	last := again.Warnings[len(again.Warnings)-1]
	assert.Contains(t, last, "connection reset", "a stale entry served from cache keeps its refresh failure")
	assert.NotContains(t, last, "<nil>")

	hist, err := src.SpotPrice(ctx, binance, "XRP", "USDT")
	require.NoError(t, err)
	assert.Equal(t, types.FreshnessFallback, hist.Freshness, "a snapshot is ranked below a stale cache hit")
	assert.False(t, hist.IsFallback)
	assert.Equal(t, "snapshot:only", hist.Source)
	assert.Equal(t, time.Hour+15*time.Second, hist.Age)
	assert.Len(t, hist.Warnings, 2)

	_, err = src.SpotPrice(ctx, binance, "BTC", "USDT")
	assert.True(t, errors.Is(err, errors.ErrCodeUpstreamUnavailable))
}

func TestFxSourceBoundsAndFallbackTable(t *testing.T) {
	broken := &fakeFx{name: "broken", rate: 13.5}
	good := &fakeFx{name: "good", rate: 1350}
	bounds := map[types.Pair]Bounds{usdKrw: {Min: 900, Max: 2000}}
	metrics := newRecordingMetrics()

	src := NewFxSource([]Link[FxProvider]{{Provider: broken, Name: "broken"}, {Provider: good, Name: "good"}},
		bounds, nil, testTTL, nil, cache.Options{}, Options{Metrics: metrics}, nil)

	fact, err := src.Rate(context.Background(), usdKrw)
	require.NoError(t, err)
	assert.Equal(t, 1350.0, fact.Value.Rate)
	assert.Contains(t, fact.Warnings[0], "outside [900, 2000]")
	assert.Contains(t, metrics.fetches, "fx/broken/implausible")

	inverse, err := src.Rate(context.Background(), usdKrw.Inverse())
	require.NoError(t, err, "inverse bounds accept 1/1350")
	assert.InDelta(t, 1350.0, 1/inverse.Value.Rate, 1e-9)
}

func TestFxSourceStaticFallbackIsTagged(t *testing.T) {
	down := &fakeFx{name: "down", err: fmt.Errorf("dns failure")}
	table := map[types.Pair]types.FallbackValue[float64]{usdKrw: {Value: 1350, Reason: "static table"}}
	src := NewFxSource([]Link[FxProvider]{{Provider: down, Name: "down"}}, nil, table, testTTL, nil, cache.Options{}, Options{}, nil)

	fact, err := src.Rate(context.Background(), usdKrw)
	require.NoError(t, err)
	assert.True(t, fact.IsFallback)
	assert.Equal(t, types.FreshnessFallback, fact.Freshness)
	assert.Equal(t, "fallback:static table", fact.Source)
	assert.Contains(t, fact.Warnings[0], "static fallback rate 1350")

	inv, err := src.Rate(context.Background(), types.Pair{Base: "KRW", Quote: "USD"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/1350, inv.Value.Rate, 1e-12)
	assert.True(t, inv.IsFallback)

	_, err = src.Rate(context.Background(), types.Pair{Base: "EUR", Quote: "JPY"})
	assert.True(t, errors.Is(err, errors.ErrCodeUpstreamUnavailable))
}

func TestFxSourceSnapshotBeforeTable(t *testing.T) {
	clk := newClock()
	down := &fakeFx{name: "down", err: fmt.Errorf("timeout")}
	snaps := &fakeSnapshots{fx: map[types.Pair]types.FxRate{
		usdKrw: {Pair: usdKrw, Rate: 1340, Timestamp: clk.Now().Add(-10 * time.Minute), Source: "yahoo"},
	}}
	table := map[types.Pair]types.FallbackValue[float64]{usdKrw: {Value: 1300, Reason: "static table"}}
	src := NewFxSource([]Link[FxProvider]{{Provider: down, Name: "down"}}, nil, table, testTTL, nil, cache.Options{Now: clk.Now},
		Options{Snapshots: snaps, Now: clk.Now}, nil)

	fact, err := src.Rate(context.Background(), usdKrw)
	require.NoError(t, err)
	assert.Equal(t, 1340.0, fact.Value.Rate)
	assert.Equal(t, "snapshot:yahoo", fact.Source)
	assert.False(t, fact.IsFallback)
	assert.Equal(t, 10*time.Minute, fact.Age)
}

func TestFxSourceIdentity(t *testing.T) {
	src := NewFxSource(nil, nil, nil, testTTL, nil, cache.Options{}, Options{}, nil)
	fact, err := src.Rate(context.Background(), types.Pair{Base: "KRW", Quote: "KRW"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, fact.Value.Rate)
	assert.Equal(t, types.FreshnessLive, fact.Freshness)
}

func TestOrderbookSourceUnknownLiquidity(t *testing.T) {
	down := &fakeBook{err: fmt.Errorf("no book")}
	src := NewOrderbookSource([]Link[OrderbookProvider]{{Provider: down, Name: "books"}}, testTTL, nil, cache.Options{}, Options{}, nil)

	fact, err := src.Orderbook(context.Background(), upbit, "XRP", "KRW")
	require.NoError(t, err)
	assert.False(t, fact.Value.Known)
	assert.Equal(t, types.FreshnessFallback, fact.Freshness)
	assert.Contains(t, fact.Warnings[0], "liquidity unknown")
}

func TestOrderbookSourceKnownAndEmptyBooks(t *testing.T) {
	books := &fakeBook{book: types.OrderbookSnapshot{
		Asks: []types.Level{{Price: 802, Quantity: 1}, {Price: 801, Quantity: 1}},
	}}
	src := NewOrderbookSource([]Link[OrderbookProvider]{{Provider: books, Name: "books"}}, testTTL, nil, cache.Options{}, Options{}, nil)

	fact, err := src.Orderbook(context.Background(), upbit, "XRP", "KRW")
	require.NoError(t, err)
	assert.True(t, fact.Value.Known)
	assert.Equal(t, 801.0, fact.Value.Book.Asks[0].Price)

	empty := NewOrderbookSource([]Link[OrderbookProvider]{{Provider: &fakeBook{}, Name: "books"}}, testTTL, nil, cache.Options{}, Options{}, nil)
	fact, err = empty.Orderbook(context.Background(), upbit, "XRP", "KRW")
	require.NoError(t, err)
	assert.True(t, fact.Value.Known, "an empty book is known liquidity")
	assert.Empty(t, fact.Value.Book.Asks)
}

func TestOrderbookSourceSnapshot(t *testing.T) {
	clk := newClock()
	snaps := &fakeSnapshots{books: map[string]types.OrderbookSnapshot{
		"upbit:XRP/KRW": {Bids: []types.Level{{Price: 799, Quantity: 3}}, Timestamp: clk.Now().Add(-time.Minute), Source: "redis"},
	}}
	src := NewOrderbookSource(nil, testTTL, nil, cache.Options{}, Options{Snapshots: snaps, Now: clk.Now}, nil)

	fact, err := src.Orderbook(context.Background(), upbit, "XRP", "KRW")
	require.NoError(t, err)
	assert.True(t, fact.Value.Known)
	assert.Equal(t, types.FreshnessFallback, fact.Freshness)
	assert.Equal(t, "snapshot:redis", fact.Source)
}

type fakeFees struct {
	trading    map[string]float64
	withdrawal map[string]float64
	status     map[string]bool
	err        error
}

func (f *fakeFees) TradingFee(ctx context.Context, venue string) (float64, bool, error) {
	v, ok := f.trading[venue]
	return v, ok, f.err
}

func (f *fakeFees) WithdrawalFee(ctx context.Context, venue string, asset types.Asset) (float64, bool, error) {
	v, ok := f.withdrawal[venue+":"+string(asset)]
	return v, ok, f.err
}

func (f *fakeFees) WithdrawalStatus(ctx context.Context, venue string, asset types.Asset) (types.WithdrawalStatus, bool, error) {
	s, ok := f.status[venue+":"+string(asset)]
	return types.WithdrawalStatus{Venue: venue, Asset: asset, Suspended: s}, ok, f.err
}

func TestFeeSourceTiers(t *testing.T) {
	table := &fakeFees{
		trading:    map[string]float64{"binance": 0.1},
		withdrawal: map[string]float64{"upbit:XRP": 1},
	}
	defaults := map[types.Asset]types.FallbackValue[float64]{"BTC": {Value: 0.0005, Reason: "default withdrawal fee"}}
	src := NewFeeSource(table, types.FallbackValue[float64]{Value: 0.25, Reason: "default trading fee"}, defaults, testTTL, nil, cache.Options{}, nil)
	ctx := context.Background()

	fromTable, err := src.TradingFee(ctx, binance)
	require.NoError(t, err)
	assert.Equal(t, 0.1, fromTable.Value)
	assert.Equal(t, "fee_table", fromTable.Source)
	assert.False(t, fromTable.IsFallback)

	fromCatalog, err := src.TradingFee(ctx, upbit)
	require.NoError(t, err)
	assert.Equal(t, 0.05, fromCatalog.Value)
	assert.Equal(t, "catalog", fromCatalog.Source)
	assert.True(t, fromCatalog.IsFallback)
	assert.Equal(t, types.FreshnessFallback, fromCatalog.Freshness)
	assert.Contains(t, fromCatalog.Warnings[0], "catalog fee 0.05% used")

	fromDefault, err := src.TradingFee(ctx, types.Venue{ID: "bithumb"})
	require.NoError(t, err)
	assert.Equal(t, 0.25, fromDefault.Value)
	assert.True(t, fromDefault.IsFallback)
	assert.Equal(t, types.FreshnessFallback, fromDefault.Freshness)

	wd, err := src.WithdrawalFee(ctx, upbit, "XRP")
	require.NoError(t, err)
	assert.Equal(t, 1.0, wd.Value)

	wdDefault, err := src.WithdrawalFee(ctx, upbit, "BTC")
	require.NoError(t, err)
	assert.True(t, wdDefault.IsFallback)
	assert.Equal(t, 0.0005, wdDefault.Value)

	_, err = src.WithdrawalFee(ctx, upbit, "DOGE")
	assert.True(t, errors.Is(err, errors.ErrCodeUpstreamUnavailable))
}

func TestFeeSourceTableFailureFallsBack(t *testing.T) {
	table := &fakeFees{err: fmt.Errorf("database is locked")}
	src := NewFeeSource(table, types.FallbackValue[float64]{Value: 0.25, Reason: "default trading fee"}, nil, testTTL, nil, cache.Options{}, nil)

	fee, err := src.TradingFee(context.Background(), upbit)
	require.NoError(t, err)
	assert.Equal(t, 0.05, fee.Value)
	assert.Equal(t, types.FreshnessFallback, fee.Freshness, "a catalog fee substituted for an unreadable table is never live")
	assert.True(t, fee.IsFallback)
	require.Len(t, fee.Warnings, 2)
	assert.Contains(t, fee.Warnings[0], "fee table unavailable")
	assert.Contains(t, fee.Warnings[1], "catalog fee")
}

func TestWithdrawalStatusSource(t *testing.T) {
	table := &fakeFees{status: map[string]bool{"upbit:XRP": true, "upbit:BTC": false}}
	src := NewWithdrawalStatusSource(table, testTTL, nil, cache.Options{}, nil)
	ctx := context.Background()

	xrp, err := src.Suspended(ctx, upbit, "XRP")
	require.NoError(t, err)
	assert.True(t, xrp.Value)

	btc, err := src.Suspended(ctx, upbit, "BTC")
	require.NoError(t, err)
	assert.False(t, btc.Value)

	unknown, err := src.Suspended(ctx, upbit, "ETH")
	require.NoError(t, err)
	assert.False(t, unknown.Value, "no row means open")

	failing := NewWithdrawalStatusSource(&fakeFees{err: fmt.Errorf("down")}, testTTL, nil, cache.Options{}, nil)
	assumed, err := failing.Suspended(ctx, upbit, "XRP")
	require.NoError(t, err)
	assert.False(t, assumed.Value)
	assert.Equal(t, types.FreshnessFallback, assumed.Freshness)
}
