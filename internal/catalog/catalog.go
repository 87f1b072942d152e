// Package catalog holds the venue catalog and its health status
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bridgeroute/internal/config"
	"bridgeroute/internal/logger"
	"bridgeroute/internal/types"
)

// Prober checks that a venue answers
type Prober interface {
	Probe(ctx context.Context, venue types.Venue) error
}

// StatusObserver is told about every probe result
type StatusObserver interface {
	SetVenueStatus(venue string, online bool)
}

// Catalog is read on every request and replaced on config reload
type Catalog struct {
	venues atomic.Pointer[map[string]types.Venue]

	mu       sync.RWMutex
	statuses map[string]types.VenueStatus
}

// New creates a catalog; every venue starts with unknown status
func New(venues []types.Venue) *Catalog {
	c := &Catalog{statuses: make(map[string]types.VenueStatus)}
	c.Replace(venues)
	return c
}

// FromConfig converts configured venues
func FromConfig(cfgs []config.VenueConfig) []types.Venue {
	out := make([]types.Venue, 0, len(cfgs))
	for _, vc := range cfgs {
		v := types.Venue{
			ID:            vc.ID,
			Name:          vc.Name,
			Region:        vc.Region,
			Exchange:      vc.Exchange,
			TradingFeePct: vc.TradingFeePct,
			Status:        types.VenueUnknown,
		}
		for _, cur := range vc.Currencies {
			v.Currencies = append(v.Currencies, strings.ToUpper(cur))
		}
		for _, a := range vc.Assets {
			v.Assets = append(v.Assets, types.Asset(a).Normalize())
		}
		out = append(out, v)
	}
	return out
}

// Replace swaps the venue set, keeping known statuses
func (c *Catalog) Replace(venues []types.Venue) {
	m := make(map[string]types.Venue, len(venues))
	for _, v := range venues {
		m[v.ID] = v
	}
	c.venues.Store(&m)
}

// Venue returns a venue with its latest status
func (c *Catalog) Venue(id string) (types.Venue, bool) {
	m := c.venues.Load()
	v, ok := (*m)[id]
	if !ok {
		return types.Venue{}, false
	}
	v.Status = c.Status(id)
	return v, true
}

// Venues returns every venue sorted by id
func (c *Catalog) Venues() []types.Venue {
	m := c.venues.Load()
	out := make([]types.Venue, 0, len(*m))
	for id, v := range *m {
		v.Status = c.Status(id)
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status returns the last probed status
func (c *Catalog) Status(id string) types.VenueStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.statuses[id]; ok {
		return s
	}
	return types.VenueUnknown
}

// SetStatus records a probe result
func (c *Catalog) SetStatus(id string, status types.VenueStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = status
}

// ProbeAll probes every venue concurrently and records the results
func (c *Catalog) ProbeAll(ctx context.Context, prober Prober, timeout time.Duration, observer StatusObserver, log logger.Logger) map[string]types.VenueStatus {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	venues := c.Venues()
	results := make(map[string]types.VenueStatus, len(venues))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, v := range venues {
		wg.Add(1)
		go func(v types.Venue) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			status := types.VenueOnline
			if err := prober.Probe(pctx, v); err != nil {
				status = types.VenueOffline
				log.Warn("Venue probe failed", "venue", v.ID, "error", err)
			}
			c.SetStatus(v.ID, status)
			if observer != nil {
				observer.SetVenueStatus(v.ID, status == types.VenueOnline)
			}

			mu.Lock()
			results[v.ID] = status
			mu.Unlock()
		}(v)
	}
	wg.Wait()
	return results
}

// NopProber reports every venue online
type NopProber struct{}

// Probe always succeeds
func (NopProber) Probe(context.Context, types.Venue) error { return nil }
