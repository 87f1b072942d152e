package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeroute/internal/config"
	"bridgeroute/internal/types"
)

type failingProber struct{ down map[string]bool }

func (p failingProber) Probe(ctx context.Context, v types.Venue) error {
	if p.down[v.ID] {
		return fmt.Errorf("%s unreachable", v.ID)
	}
	return nil
}

type observer struct {
	mu     sync.Mutex
	online map[string]bool
}

func (o *observer) SetVenueStatus(venue string, online bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online[venue] = online
}

func TestFromConfigNormalizes(t *testing.T) {
	venues := FromConfig([]config.VenueConfig{
		{ID: "upbit", Name: "Upbit", Exchange: "upbit", Currencies: []string{"krw"}, Assets: []string{" xrp", "btc"}, TradingFeePct: 0.05},
	})
	require.Len(t, venues, 1)
	assert.Equal(t, []string{"KRW"}, venues[0].Currencies)
	assert.Equal(t, []types.Asset{"XRP", "BTC"}, venues[0].Assets)
	assert.Equal(t, types.VenueUnknown, venues[0].Status)
}

func TestProbeAllUpdatesStatus(t *testing.T) {
	c := New([]types.Venue{{ID: "b"}, {ID: "a"}})
	obs := &observer{online: make(map[string]bool)}

	results := c.ProbeAll(context.Background(), failingProber{down: map[string]bool{"b": true}}, time.Second, obs, nil)
	assert.Equal(t, types.VenueOnline, results["a"])
	assert.Equal(t, types.VenueOffline, results["b"])
	assert.Equal(t, map[string]bool{"a": true, "b": false}, obs.online)

	v, ok := c.Venue("b")
	require.True(t, ok)
	assert.Equal(t, types.VenueOffline, v.Status)

	ids := []string{}
	for _, v := range c.Venues() {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestReplaceKeepsStatuses(t *testing.T) {
	c := New([]types.Venue{{ID: "a"}})
	c.SetStatus("a", types.VenueOnline)
	c.Replace([]types.Venue{{ID: "a", Name: "renamed"}, {ID: "c"}})

	a, _ := c.Venue("a")
	assert.Equal(t, "renamed", a.Name)
	assert.Equal(t, types.VenueOnline, a.Status)

	_, ok := c.Venue("missing")
	assert.False(t, ok)
	assert.NoError(t, NopProber{}.Probe(context.Background(), a))
}
