package database

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

// SnapshotStore persists observed market facts. Rows are read back as the
// last-resort tier of the source fallback chains and as price history for
// the volatility estimate.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a snapshot store
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// SavePrice stores one price observation
func (s *SnapshotStore) SavePrice(ctx context.Context, q types.PriceQuote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (venue, asset, quote, price, source, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (venue, asset, quote, captured_at) DO UPDATE SET price = excluded.price, source = excluded.source`,
		q.Venue, string(q.Asset), q.Quote, q.Price, q.Source, toMillis(q.Timestamp))
	if err != nil {
		return errors.New(errors.ErrCodeDBQuery, "failed to save price snapshot", err)
	}
	return nil
}

// LatestPrice returns the newest stored price; found is false when none exists
func (s *SnapshotStore) LatestPrice(ctx context.Context, venue string, asset types.Asset, quote string) (types.PriceQuote, bool, error) {
	var q types.PriceQuote
	var assetCol string
	var capturedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT venue, asset, quote, price, source, captured_at
		FROM price_snapshots
		WHERE venue = $1 AND asset = $2 AND quote = $3
		ORDER BY captured_at DESC
		LIMIT 1`,
		venue, string(asset), quote).Scan(&q.Venue, &assetCol, &q.Quote, &q.Price, &q.Source, &capturedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.PriceQuote{}, false, nil
	}
	if err != nil {
		return types.PriceQuote{}, false, errors.New(errors.ErrCodeDBQuery, "failed to read price snapshot", err)
	}
	q.Asset = types.Asset(assetCol)
	q.Timestamp = fromMillis(capturedAt)
	return q, true, nil
}

// PriceHistory returns prices captured at or after since, oldest first
func (s *SnapshotStore) PriceHistory(ctx context.Context, venue string, asset types.Asset, quote string, since time.Time) ([]types.PriceQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT price, source, captured_at
		FROM price_snapshots
		WHERE venue = $1 AND asset = $2 AND quote = $3 AND captured_at >= $4
		ORDER BY captured_at ASC`,
		venue, string(asset), quote, toMillis(since))
	if err != nil {
		return nil, errors.New(errors.ErrCodeDBQuery, "failed to query price history", err)
	}
	defer rows.Close()

	var history []types.PriceQuote
	for rows.Next() {
		q := types.PriceQuote{Venue: venue, Asset: asset, Quote: quote}
		var capturedAt int64
		if err := rows.Scan(&q.Price, &q.Source, &capturedAt); err != nil {
			return nil, errors.New(errors.ErrCodeDBQuery, "failed to scan price history", err)
		}
		q.Timestamp = fromMillis(capturedAt)
		history = append(history, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.ErrCodeDBQuery, "failed to iterate price history", err)
	}
	return history, nil
}

// SaveFx stores one FX observation
func (s *SnapshotStore) SaveFx(ctx context.Context, r types.FxRate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fx_snapshots (pair, rate, source, captured_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pair, captured_at) DO UPDATE SET rate = excluded.rate, source = excluded.source`,
		r.Pair.String(), r.Rate, r.Source, toMillis(r.Timestamp))
	if err != nil {
		return errors.New(errors.ErrCodeDBQuery, "failed to save fx snapshot", err)
	}
	return nil
}

// LatestFx returns the newest stored rate for pair
func (s *SnapshotStore) LatestFx(ctx context.Context, pair types.Pair) (types.FxRate, bool, error) {
	r := types.FxRate{Pair: pair}
	var capturedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT rate, source, captured_at
		FROM fx_snapshots
		WHERE pair = $1
		ORDER BY captured_at DESC
		LIMIT 1`, pair.String()).Scan(&r.Rate, &r.Source, &capturedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.FxRate{}, false, nil
	}
	if err != nil {
		return types.FxRate{}, false, errors.New(errors.ErrCodeDBQuery, "failed to read fx snapshot", err)
	}
	r.Timestamp = fromMillis(capturedAt)
	return r, true, nil
}

// SaveOrderbook stores one book; levels are kept as JSON
func (s *SnapshotStore) SaveOrderbook(ctx context.Context, book types.OrderbookSnapshot) error {
	bids, err := json.Marshal(book.Bids)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to encode bids", err)
	}
	asks, err := json.Marshal(book.Asks)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "failed to encode asks", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orderbook_snapshots (venue, asset, quote, bids, asks, source, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (venue, asset, quote, captured_at) DO UPDATE SET bids = excluded.bids, asks = excluded.asks, source = excluded.source`,
		book.Venue, string(book.Asset), book.Quote, string(bids), string(asks), book.Source, toMillis(book.Timestamp))
	if err != nil {
		return errors.New(errors.ErrCodeDBQuery, "failed to save orderbook snapshot", err)
	}
	return nil
}

// LatestOrderbook returns the newest stored book
func (s *SnapshotStore) LatestOrderbook(ctx context.Context, venue string, asset types.Asset, quote string) (types.OrderbookSnapshot, bool, error) {
	book := types.OrderbookSnapshot{Venue: venue, Asset: asset, Quote: quote}
	var bids, asks string
	var capturedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT bids, asks, source, captured_at
		FROM orderbook_snapshots
		WHERE venue = $1 AND asset = $2 AND quote = $3
		ORDER BY captured_at DESC
		LIMIT 1`,
		venue, string(asset), quote).Scan(&bids, &asks, &book.Source, &capturedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.OrderbookSnapshot{}, false, nil
	}
	if err != nil {
		return types.OrderbookSnapshot{}, false, errors.New(errors.ErrCodeDBQuery, "failed to read orderbook snapshot", err)
	}
	if err := json.Unmarshal([]byte(bids), &book.Bids); err != nil {
		return types.OrderbookSnapshot{}, false, errors.New(errors.ErrCodeDBQuery, "corrupt bids in orderbook snapshot", err)
	}
	if err := json.Unmarshal([]byte(asks), &book.Asks); err != nil {
		return types.OrderbookSnapshot{}, false, errors.New(errors.ErrCodeDBQuery, "corrupt asks in orderbook snapshot", err)
	}
	book.Timestamp = fromMillis(capturedAt)
	return book, true, nil
}

// Prune deletes snapshots captured before cutoff and returns the row count
func (s *SnapshotStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"price_snapshots", "fx_snapshots", "orderbook_snapshots"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE captured_at < $1", toMillis(cutoff))
		if err != nil {
			return total, errors.New(errors.ErrCodeDBQuery, "failed to prune "+table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
