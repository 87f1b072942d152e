package exchange

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeroute/internal/types"
)

// mapHashClient stores hashes in memory
type mapHashClient struct {
	hashes map[string]map[string]string
	err    error
}

func newMapHashClient() *mapHashClient {
	return &mapHashClient{hashes: make(map[string]map[string]string)}
}

func (m *mapHashClient) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	if m.err != nil {
		return redis.NewMapStringStringResult(nil, m.err)
	}
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (m *mapHashClient) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	fields := values[0].(map[string]interface{})
	for k, v := range fields {
		h[k] = fmt.Sprint(v)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func (m *mapHashClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", m.err)
}

func TestRedisFeedPublishAndReadPrice(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rdb := newMapHashClient()
	feed := NewRedisFeed("", rdb, 30*time.Second)
	feed.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, feed.PublishPrice(ctx, types.PriceQuote{
		Venue: "upbit", Asset: "BTC", Quote: "KRW", Price: 95_000_000, Timestamp: now.Add(-5 * time.Second), Source: "ws",
	}))
	assert.Contains(t, rdb.hashes, "px:upbit:BTC/KRW")

	q, err := feed.SpotPrice(ctx, upbitVenue, "BTC", "KRW")
	require.NoError(t, err)
	assert.Equal(t, 95_000_000.0, q.Price)
	assert.Equal(t, "redis/ws", q.Source)
	assert.Equal(t, now.Add(-5*time.Second).UnixMilli(), q.Timestamp.UnixMilli())
}

func TestRedisFeedRejectsOldAndMissingEntries(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rdb := newMapHashClient()
	feed := NewRedisFeed("redis", rdb, 30*time.Second)
	feed.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := feed.SpotPrice(ctx, upbitVenue, "BTC", "KRW")
	assert.ErrorIs(t, err, redis.Nil)

	rdb.hashes["px:upbit:BTC/KRW"] = map[string]string{
		"price": "95000000",
		"ts_ms": strconv.FormatInt(now.Add(-2*time.Minute).UnixMilli(), 10),
	}
	_, err = feed.SpotPrice(ctx, upbitVenue, "BTC", "KRW")
	assert.ErrorContains(t, err, "old")

	rdb.hashes["px:upbit:BTC/KRW"]["ts_ms"] = strconv.FormatInt(now.UnixMilli(), 10)
	rdb.hashes["px:upbit:BTC/KRW"]["price"] = "abc"
	_, err = feed.SpotPrice(ctx, upbitVenue, "BTC", "KRW")
	assert.ErrorContains(t, err, "bad price")

	rdb.err = fmt.Errorf("connection refused")
	_, err = feed.SpotPrice(ctx, upbitVenue, "BTC", "KRW")
	assert.ErrorContains(t, err, "connection refused")
	assert.Error(t, feed.Ping(ctx))
}

func TestRedisFeedOrderbookRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rdb := newMapHashClient()
	feed := NewRedisFeed("redis", rdb, time.Minute)
	feed.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, feed.PublishOrderbook(ctx, types.OrderbookSnapshot{
		Venue: "upbit", Asset: "XRP", Quote: "KRW", Timestamp: now,
		Asks: []types.Level{{Price: 802, Quantity: 10}, {Price: 801, Quantity: 5}},
		Bids: []types.Level{{Price: 799, Quantity: 10}, {Price: 800, Quantity: 3}},
	}))

	book, err := feed.Orderbook(ctx, upbitVenue, "XRP", "KRW")
	require.NoError(t, err)
	require.Len(t, book.Asks, 2)
	assert.Equal(t, 801.0, book.Asks[0].Price, "asks come back best first")
	assert.Equal(t, 800.0, book.Bids[0].Price, "bids come back best first")
}
