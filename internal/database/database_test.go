package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeroute/internal/config"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: DriverSQLite, Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := NewMigrator(db, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)

	m, err := NewMigrator(db, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up(), "a second Up must be a no-op")

	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestPriceSnapshots(t *testing.T) {
	db := newTestDB(t)
	store := NewSnapshotStore(db)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, price := range []float64{100, 101, 99.5} {
		require.NoError(t, store.SavePrice(ctx, types.PriceQuote{
			Venue: "upbit", Asset: "BTC", Quote: "KRW", Price: price,
			Source: "banexg", Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	latest, found, err := store.LatestPrice(ctx, "upbit", "BTC", "KRW")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 99.5, latest.Price)
	assert.Equal(t, base.Add(2*time.Minute), latest.Timestamp)
	assert.Equal(t, types.Asset("BTC"), latest.Asset)

	history, err := store.PriceHistory(ctx, "upbit", "BTC", "KRW", base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 101.0, history[0].Price)

	_, found, err = store.LatestPrice(ctx, "upbit", "ETH", "KRW")
	require.NoError(t, err)
	assert.False(t, found)

	pruned, err := store.Prune(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}

func TestFxAndOrderbookSnapshots(t *testing.T) {
	db := newTestDB(t)
	store := NewSnapshotStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	pair := types.Pair{Base: "USD", Quote: "KRW"}

	require.NoError(t, store.SaveFx(ctx, types.FxRate{Pair: pair, Rate: 1342.5, Source: "yahoo", Timestamp: now}))
	rate, found, err := store.LatestFx(ctx, pair)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1342.5, rate.Rate)
	assert.Equal(t, now, rate.Timestamp)

	book := types.OrderbookSnapshot{
		Venue: "binance", Asset: "XRP", Quote: "USDT", Source: "redis", Timestamp: now,
		Bids: []types.Level{{Price: 0.5, Quantity: 1000}},
		Asks: []types.Level{{Price: 0.51, Quantity: 800}, {Price: 0.52, Quantity: 5000}},
	}
	require.NoError(t, store.SaveOrderbook(ctx, book))
	got, found, err := store.LatestOrderbook(ctx, "binance", "XRP", "USDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, book.Asks, got.Asks)
	assert.Equal(t, book.Bids, got.Bids)
}

func TestFeeStore(t *testing.T) {
	db := newTestDB(t)
	fees := NewFeeStore(db)
	ctx := context.Background()

	_, found, err := fees.TradingFee(ctx, "upbit")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, fees.SeedTradingFee(ctx, "upbit", 0.05))
	require.NoError(t, fees.SeedTradingFee(ctx, "upbit", 0.5), "seeding never overwrites")
	pct, found, err := fees.TradingFee(ctx, "upbit")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0.05, pct)

	require.NoError(t, fees.UpsertTradingFee(ctx, "upbit", 0.04))
	pct, _, _ = fees.TradingFee(ctx, "upbit")
	assert.Equal(t, 0.04, pct)

	require.NoError(t, fees.UpsertWithdrawalFee(ctx, "upbit", "XRP", 1))
	fee, found, err := fees.WithdrawalFee(ctx, "upbit", "XRP")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1.0, fee)

	require.NoError(t, fees.SetWithdrawalStatus(ctx, "upbit", "XRP", true))
	st, found, err := fees.WithdrawalStatus(ctx, "upbit", "XRP")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, st.Suspended)

	require.NoError(t, fees.SetWithdrawalStatus(ctx, "upbit", "XRP", false))
	st, _, _ = fees.WithdrawalStatus(ctx, "upbit", "XRP")
	assert.False(t, st.Suspended)
}
