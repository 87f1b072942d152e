package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bridgeroute/internal/catalog"
	"bridgeroute/internal/engine"
	"bridgeroute/internal/logger"
	"bridgeroute/internal/types"
)

// VenueHealthTask probes every catalog venue and records its status
type VenueHealthTask struct {
	Catalog  *catalog.Catalog
	Prober   catalog.Prober
	Timeout  time.Duration
	Observer catalog.StatusObserver
	Log      logger.Logger
}

// Handle fails only when no venue answered
func (t *VenueHealthTask) Handle(ctx context.Context) error {
	results := t.Catalog.ProbeAll(ctx, t.Prober, t.Timeout, t.Observer, t.Log)
	offline := 0
	for _, s := range results {
		if s == types.VenueOffline {
			offline++
		}
	}
	if len(results) > 0 && offline == len(results) {
		return fmt.Errorf("all %d venues are offline", offline)
	}
	return nil
}

// SnapshotWriter persists market facts
type SnapshotWriter interface {
	SavePrice(ctx context.Context, q types.PriceQuote) error
	SaveFx(ctx context.Context, r types.FxRate) error
	SaveOrderbook(ctx context.Context, book types.OrderbookSnapshot) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// SnapshotRecorder counts stored snapshots
type SnapshotRecorder interface {
	RecordSnapshots(kind string, n int)
}

// SnapshotTask reads the current facts of every catalog venue through the
// sources and stores the live ones. Cached, stale and fallback facts are not
// stored again. Rows older than Retention are pruned afterwards.
type SnapshotTask struct {
	Catalog    *catalog.Catalog
	Prices     engine.PriceSource
	FX         engine.FxSource
	Orderbooks engine.OrderbookSource
	Store      SnapshotWriter
	Pairs      []types.Pair
	Retention  time.Duration
	// Concurrency caps parallel source reads
	Concurrency int
	Recorder    SnapshotRecorder
	Log         logger.Logger
	Now         func() time.Time
}

type captureCounts struct {
	mu     sync.Mutex
	counts map[string]int
	failed int
}

func (c *captureCounts) add(kind string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
		return
	}
	c.counts[kind]++
}

// Handle captures one round of snapshots
func (t *SnapshotTask) Handle(ctx context.Context) error {
	log := t.Log
	if log == nil {
		log = logger.NewNop()
	}
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	limit := t.Concurrency
	if limit <= 0 {
		limit = 4
	}

	counts := &captureCounts{counts: make(map[string]int)}
	g := &errgroup.Group{}
	g.SetLimit(limit)

	for _, v := range t.Catalog.Venues() {
		if v.Status == types.VenueOffline {
			log.Debug("Skipping offline venue", "venue", v.ID)
			continue
		}
		quote := v.PrimaryCurrency()
		if quote == "" {
			continue
		}
		for _, asset := range v.Assets {
			if t.Prices != nil {
				g.Go(func() error {
					f, err := t.Prices.SpotPrice(ctx, v, asset, quote)
					if err != nil || f.Freshness != types.FreshnessLive {
						return nil
					}
					q := f.Value
					if q.Timestamp.IsZero() {
						q.Timestamp = now()
					}
					q.Venue, q.Asset, q.Quote = v.ID, asset, quote
					counts.add("price", t.Store.SavePrice(ctx, q))
					return nil
				})
			}
			if t.Orderbooks != nil {
				g.Go(func() error {
					f, err := t.Orderbooks.Orderbook(ctx, v, asset, quote)
					if err != nil || !f.Value.Known || f.Freshness != types.FreshnessLive {
						return nil
					}
					book := f.Value.Book
					if book.Timestamp.IsZero() {
						book.Timestamp = now()
					}
					book.Venue, book.Asset, book.Quote = v.ID, asset, quote
					counts.add("orderbook", t.Store.SaveOrderbook(ctx, book))
					return nil
				})
			}
		}
	}
	if t.FX != nil {
		for _, pair := range t.Pairs {
			g.Go(func() error {
				f, err := t.FX.Rate(ctx, pair)
				if err != nil || f.Freshness != types.FreshnessLive || pair.Identity() {
					return nil
				}
				r := f.Value
				if r.Timestamp.IsZero() {
					r.Timestamp = now()
				}
				counts.add("fx", t.Store.SaveFx(ctx, r))
				return nil
			})
		}
	}
	_ = g.Wait()

	for kind, n := range counts.counts {
		if t.Recorder != nil {
			t.Recorder.RecordSnapshots(kind, n)
		}
	}

	var pruned int64
	if t.Retention > 0 {
		n, err := t.Store.Prune(ctx, now().Add(-t.Retention))
		if err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		pruned = n
	}

	log.Info("Snapshots captured",
		"prices", counts.counts["price"],
		"orderbooks", counts.counts["orderbook"],
		"fx", counts.counts["fx"],
		"failed_writes", counts.failed,
		"pruned", pruned)

	if counts.failed > 0 && len(counts.counts) == 0 {
		return fmt.Errorf("all %d snapshot writes failed", counts.failed)
	}
	return ctx.Err()
}
