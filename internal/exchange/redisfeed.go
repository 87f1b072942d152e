package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bridgeroute/internal/config"
	"bridgeroute/internal/types"
)

// hashClient is the subset of *redis.Client the feed needs
type hashClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisFeed reads prices and orderbooks that an external collector
// publishes as Redis hashes:
//
//	px:<venue>:<ASSET>/<QUOTE>    price, ts_ms, source
//	book:<venue>:<ASSET>/<QUOTE>  bids, asks (JSON levels), ts_ms, source
//
// Entries older than maxAge are rejected so a dead collector is treated as
// a failed provider rather than as live data.
type RedisFeed struct {
	name   string
	rdb    hashClient
	maxAge time.Duration
	now    func() time.Time
}

// NewRedisClient builds the shared go-redis client
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewRedisFeed creates a feed over rdb
func NewRedisFeed(name string, rdb hashClient, maxAge time.Duration) *RedisFeed {
	if name == "" {
		name = "redis"
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &RedisFeed{name: name, rdb: rdb, maxAge: maxAge, now: time.Now}
}

// Name returns the provider name
func (f *RedisFeed) Name() string {
	return f.name
}

func priceKey(venue string, asset types.Asset, quote string) string {
	return "px:" + venue + ":" + types.Symbol(asset, quote)
}

func bookKey(venue string, asset types.Asset, quote string) string {
	return "book:" + venue + ":" + types.Symbol(asset, quote)
}

func (f *RedisFeed) read(ctx context.Context, key string) (map[string]string, time.Time, error) {
	m, err := f.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%s: read %s: %w", f.name, key, err)
	}
	if len(m) == 0 {
		return nil, time.Time{}, fmt.Errorf("%s: %s: %w", f.name, key, redis.Nil)
	}

	tsMs, err := strconv.ParseInt(m["ts_ms"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%s: %s: bad ts_ms %q", f.name, key, m["ts_ms"])
	}
	ts := time.UnixMilli(tsMs)
	if age := f.now().Sub(ts); age > f.maxAge {
		return nil, time.Time{}, fmt.Errorf("%s: %s is %s old", f.name, key, age.Truncate(time.Second))
	}
	return m, ts, nil
}

// SpotPrice reads px:<venue>:<symbol>
func (f *RedisFeed) SpotPrice(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.PriceQuote, error) {
	key := priceKey(venue.ID, asset, quote)
	m, ts, err := f.read(ctx, key)
	if err != nil {
		return types.PriceQuote{}, err
	}

	price, err := strconv.ParseFloat(m["price"], 64)
	if err != nil || price <= 0 {
		return types.PriceQuote{}, fmt.Errorf("%s: %s: bad price %q", f.name, key, m["price"])
	}

	source := f.name
	if upstream := m["source"]; upstream != "" {
		source = f.name + "/" + upstream
	}
	return types.PriceQuote{
		Venue:     venue.ID,
		Asset:     asset,
		Quote:     strings.ToUpper(quote),
		Price:     price,
		Timestamp: ts,
		Source:    source,
	}, nil
}

// Orderbook reads book:<venue>:<symbol>
func (f *RedisFeed) Orderbook(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.OrderbookSnapshot, error) {
	key := bookKey(venue.ID, asset, quote)
	m, ts, err := f.read(ctx, key)
	if err != nil {
		return types.OrderbookSnapshot{}, err
	}

	book := types.OrderbookSnapshot{
		Venue:     venue.ID,
		Asset:     asset,
		Quote:     strings.ToUpper(quote),
		Timestamp: ts,
		Source:    f.name,
	}
	if err := json.Unmarshal([]byte(m["bids"]), &book.Bids); err != nil {
		return types.OrderbookSnapshot{}, fmt.Errorf("%s: %s: bad bids: %w", f.name, key, err)
	}
	if err := json.Unmarshal([]byte(m["asks"]), &book.Asks); err != nil {
		return types.OrderbookSnapshot{}, fmt.Errorf("%s: %s: bad asks: %w", f.name, key, err)
	}
	return book.Sorted(), nil
}

// PublishPrice writes a quote in the layout SpotPrice reads
func (f *RedisFeed) PublishPrice(ctx context.Context, q types.PriceQuote) error {
	return f.rdb.HSet(ctx, priceKey(q.Venue, q.Asset, q.Quote), map[string]interface{}{
		"price":  strconv.FormatFloat(q.Price, 'f', -1, 64),
		"ts_ms":  q.Timestamp.UnixMilli(),
		"source": q.Source,
	}).Err()
}

// Ping checks connectivity
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.rdb.Ping(ctx).Err()
}

// PublishOrderbook writes a book in the layout Orderbook reads
func (f *RedisFeed) PublishOrderbook(ctx context.Context, book types.OrderbookSnapshot) error {
	bids, err := json.Marshal(book.Bids)
	if err != nil {
		return err
	}
	asks, err := json.Marshal(book.Asks)
	if err != nil {
		return err
	}
	return f.rdb.HSet(ctx, bookKey(book.Venue, book.Asset, book.Quote), map[string]interface{}{
		"bids":   string(bids),
		"asks":   string(asks),
		"ts_ms":  book.Timestamp.UnixMilli(),
		"source": book.Source,
	}).Err()
}
