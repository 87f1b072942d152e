package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"bridgeroute/internal/errors"
	"bridgeroute/internal/types"
)

// FeeStore reads the fee table and withdrawal status rows. Rows are owned
// by an external admin process; the routing core only reads them.
type FeeStore struct {
	db *DB
}

// NewFeeStore creates a fee store
func NewFeeStore(db *DB) *FeeStore {
	return &FeeStore{db: db}
}

// TradingFee returns the fee percentage for venue
func (s *FeeStore) TradingFee(ctx context.Context, venue string) (float64, bool, error) {
	var pct float64
	err := s.db.QueryRowContext(ctx, `SELECT fee_pct FROM trading_fees WHERE venue = $1`, venue).Scan(&pct)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.New(errors.ErrCodeDBQuery, "failed to read trading fee", err)
	}
	return pct, true, nil
}

// WithdrawalFee returns the fixed withdrawal fee, in asset units
func (s *FeeStore) WithdrawalFee(ctx context.Context, venue string, asset types.Asset) (float64, bool, error) {
	var fee float64
	err := s.db.QueryRowContext(ctx,
		`SELECT fee FROM withdrawal_fees WHERE venue = $1 AND asset = $2`, venue, string(asset)).Scan(&fee)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.New(errors.ErrCodeDBQuery, "failed to read withdrawal fee", err)
	}
	return fee, true, nil
}

// WithdrawalStatus returns the suspension row for venue and asset
func (s *FeeStore) WithdrawalStatus(ctx context.Context, venue string, asset types.Asset) (types.WithdrawalStatus, bool, error) {
	st := types.WithdrawalStatus{Venue: venue, Asset: asset}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT suspended, updated_at FROM withdrawal_status WHERE venue = $1 AND asset = $2`,
		venue, string(asset)).Scan(&st.Suspended, &updatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.WithdrawalStatus{}, false, nil
	}
	if err != nil {
		return types.WithdrawalStatus{}, false, errors.New(errors.ErrCodeDBQuery, "failed to read withdrawal status", err)
	}
	st.UpdatedAt = fromMillis(updatedAt)
	return st, true, nil
}

// UpsertTradingFee writes a trading fee row
func (s *FeeStore) UpsertTradingFee(ctx context.Context, venue string, pct float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trading_fees (venue, fee_pct, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (venue) DO UPDATE SET fee_pct = excluded.fee_pct, updated_at = excluded.updated_at`,
		venue, pct, toMillis(time.Now()))
	if err != nil {
		return errors.New(errors.ErrCodeDBQuery, "failed to upsert trading fee", err)
	}
	return nil
}

// SeedTradingFee inserts a row only when the venue has none, so catalog
// values never overwrite fees maintained by the admin process
func (s *FeeStore) SeedTradingFee(ctx context.Context, venue string, pct float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trading_fees (venue, fee_pct, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (venue) DO NOTHING`,
		venue, pct, toMillis(time.Now()))
	if err != nil {
		return errors.New(errors.ErrCodeDBQuery, "failed to seed trading fee", err)
	}
	return nil
}

// UpsertWithdrawalFee writes a withdrawal fee row
func (s *FeeStore) UpsertWithdrawalFee(ctx context.Context, venue string, asset types.Asset, fee float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_fees (venue, asset, fee, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (venue, asset) DO UPDATE SET fee = excluded.fee, updated_at = excluded.updated_at`,
		venue, string(asset), fee, toMillis(time.Now()))
	if err != nil {
		return errors.New(errors.ErrCodeDBQuery, "failed to upsert withdrawal fee", err)
	}
	return nil
}

// SetWithdrawalStatus writes a suspension row
func (s *FeeStore) SetWithdrawalStatus(ctx context.Context, venue string, asset types.Asset, suspended bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_status (venue, asset, suspended, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (venue, asset) DO UPDATE SET suspended = excluded.suspended, updated_at = excluded.updated_at`,
		venue, string(asset), suspended, toMillis(time.Now()))
	if err != nil {
		return errors.New(errors.ErrCodeDBQuery, "failed to set withdrawal status", err)
	}
	return nil
}
