package market

import (
	"context"
	"fmt"

	"bridgeroute/internal/cache"
	"bridgeroute/internal/errors"
	"bridgeroute/internal/logger"
	"bridgeroute/internal/types"
)

const (
	feeTableSource   = "fee_table"
	catalogSource    = "catalog"
	withdrawalSource = "withdrawal_status"
)

// row is a table read that may legitimately find nothing
type row[V any] struct {
	Value V
	Found bool
}

func readRow[V any](ctx context.Context, label, source string, read func(context.Context) (V, bool, error)) (sourced[row[V]], error) {
	v, found, err := read(ctx)
	if err != nil {
		return sourced[row[V]]{}, errors.New(errors.ErrCodeUpstreamUnavailable, label+": table read failed", err)
	}
	return sourced[row[V]]{Value: row[V]{Value: v, Found: found}, Source: source}, nil
}

// FeeSource reads trading and withdrawal fees from the fee table. Missing
// rows fall back to the venue catalog and then to typed defaults that are
// always tagged IsFallback.
type FeeSource struct {
	reader            FeeReader
	cache             *cache.Coalescer[string, sourced[row[float64]]]
	ttl               TTL
	defaultTrading    types.FallbackValue[float64]
	defaultWithdrawal map[types.Asset]types.FallbackValue[float64]
	log               logger.Logger
}

// NewFeeSource creates a fee source; reader may be nil
func NewFeeSource(reader FeeReader, defaultTrading types.FallbackValue[float64], defaultWithdrawal map[types.Asset]types.FallbackValue[float64],
	ttl TTL, monitor *cache.Monitor, cacheOpts cache.Options, log logger.Logger) *FeeSource {
	if log == nil {
		log = logger.NewNop()
	}
	cacheOpts.Logger = log
	return &FeeSource{
		reader:            reader,
		cache:             cache.New[string, sourced[row[float64]]](monitor, cacheOpts),
		ttl:               ttl,
		defaultTrading:    defaultTrading,
		defaultWithdrawal: defaultWithdrawal,
		log:               log.WithField("source", "fees"),
	}
}

// lookup reads one fee row; a nil fact means no row and no error worth
// stopping for, with warn carrying any table failure
func (s *FeeSource) lookup(ctx context.Context, key, label string, read func(context.Context) (float64, bool, error)) (*types.Fact[float64], string, error) {
	if s.reader == nil {
		return nil, "", nil
	}
	l, err := s.cache.Get(ctx, key, func(ctx context.Context) (sourced[row[float64]], error) {
		return readRow(ctx, label, feeTableSource, read)
	}, s.ttl.Success, s.ttl.Failure)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", err
		}
		s.log.Warn("Fee table unavailable", "key", label, "error", err)
		return nil, fmt.Sprintf("%s: fee table unavailable: %v", label, err), nil
	}
	if !l.Value.Value.Found {
		return nil, "", nil
	}
	f := resolve(label, l)
	return &types.Fact[float64]{Value: f.Value.Value, Provenance: f.Provenance}, "", nil
}

// TradingFee returns the taker fee % of venue
func (s *FeeSource) TradingFee(ctx context.Context, venue types.Venue) (types.Fact[float64], error) {
	label := "trading fee " + venue.ID
	fact, warn, err := s.lookup(ctx, "trading:"+venue.ID, label, func(ctx context.Context) (float64, bool, error) {
		return s.reader.TradingFee(ctx, venue.ID)
	})
	if err != nil {
		return types.Fact[float64]{}, err
	}
	if fact != nil {
		return *fact, nil
	}

	var warnings []string
	if warn != "" {
		warnings = append(warnings, warn)
	}
	// the catalog fee stands in for a missing row, so it is tagged like a default
	if venue.TradingFeePct > 0 {
		warnings = append(warnings, fmt.Sprintf("%s: no fee row, catalog fee %v%% used", label, venue.TradingFeePct))
		return types.Fact[float64]{
			Value: venue.TradingFeePct,
			Provenance: types.Provenance{
				Source:     catalogSource,
				Freshness:  types.FreshnessFallback,
				IsFallback: true,
				Warnings:   warnings,
			},
		}, nil
	}

	f := s.defaultTrading.Fact(fmt.Sprintf("%s: no fee row, default %v%% used", label, s.defaultTrading.Value))
	f.Warnings = append(warnings, f.Warnings...)
	return f, nil
}

// WithdrawalFee returns the fixed withdrawal fee of asset at venue, in asset
// units. It fails when neither the table nor the defaults know the asset.
func (s *FeeSource) WithdrawalFee(ctx context.Context, venue types.Venue, asset types.Asset) (types.Fact[float64], error) {
	label := fmt.Sprintf("withdrawal fee %s %s", venue.ID, asset)
	fact, warn, err := s.lookup(ctx, "withdrawal:"+venue.ID+":"+string(asset), label, func(ctx context.Context) (float64, bool, error) {
		return s.reader.WithdrawalFee(ctx, venue.ID, asset)
	})
	if err != nil {
		return types.Fact[float64]{}, err
	}
	if fact != nil {
		return *fact, nil
	}

	fv, ok := s.defaultWithdrawal[asset]
	if !ok {
		msg := label + ": no fee row and no default"
		if warn != "" {
			msg = warn
		}
		return types.Fact[float64]{}, errors.New(errors.ErrCodeUpstreamUnavailable, msg, nil)
	}
	f := fv.Fact(fmt.Sprintf("%s: no fee row, default %v %s used", label, fv.Value, asset))
	if warn != "" {
		f.Warnings = append([]string{warn}, f.Warnings...)
	}
	return f, nil
}

// WithdrawalStatusSource reports withdrawal suspensions. A missing row means
// withdrawals are open.
type WithdrawalStatusSource struct {
	reader WithdrawalReader
	cache  *cache.Coalescer[string, sourced[row[types.WithdrawalStatus]]]
	ttl    TTL
	log    logger.Logger
}

// NewWithdrawalStatusSource creates a status source; reader may be nil
func NewWithdrawalStatusSource(reader WithdrawalReader, ttl TTL, monitor *cache.Monitor, cacheOpts cache.Options, log logger.Logger) *WithdrawalStatusSource {
	if log == nil {
		log = logger.NewNop()
	}
	cacheOpts.Logger = log
	return &WithdrawalStatusSource{
		reader: reader,
		cache:  cache.New[string, sourced[row[types.WithdrawalStatus]]](monitor, cacheOpts),
		ttl:    ttl,
		log:    log.WithField("source", "withdrawal_status"),
	}
}

// Suspended reports whether outbound transfers of asset at venue are blocked.
// When the table is unreadable and nothing is cached, withdrawals are assumed
// open and the fact is tagged fallback.
func (s *WithdrawalStatusSource) Suspended(ctx context.Context, venue types.Venue, asset types.Asset) (types.Fact[bool], error) {
	if s.reader == nil {
		return types.Fact[bool]{Provenance: types.Provenance{Source: withdrawalSource, Freshness: types.FreshnessLive}}, nil
	}

	label := fmt.Sprintf("withdrawal status %s %s", venue.ID, asset)
	l, err := s.cache.Get(ctx, "status:"+venue.ID+":"+string(asset), func(ctx context.Context) (sourced[row[types.WithdrawalStatus]], error) {
		return readRow(ctx, label, withdrawalSource, func(ctx context.Context) (types.WithdrawalStatus, bool, error) {
			return s.reader.WithdrawalStatus(ctx, venue.ID, asset)
		})
	}, s.ttl.Success, s.ttl.Failure)
	if err != nil {
		if ctx.Err() != nil {
			return types.Fact[bool]{}, err
		}
		s.log.Warn("Withdrawal status unavailable, assuming open", "key", label, "error", err)
		return types.Fact[bool]{
			Provenance: types.Provenance{
				Source:    withdrawalSource + ":assumed-open",
				Freshness: types.FreshnessFallback,
				Warnings:  []string{fmt.Sprintf("%s: unavailable, assumed open: %v", label, err)},
			},
		}, nil
	}

	f := resolve(label, l)
	suspended := f.Value.Found && f.Value.Value.Suspended
	return types.Fact[bool]{Value: suspended, Provenance: f.Provenance}, nil
}
