package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorstFreshness(t *testing.T) {
	assert.Equal(t, FreshnessLive, Worst())
	assert.Equal(t, FreshnessCached, Worst(FreshnessLive, FreshnessCached))
	assert.Equal(t, FreshnessStale, Worst(FreshnessStale, FreshnessCached, FreshnessLive))
	assert.Equal(t, FreshnessFallback, Worst(FreshnessLive, FreshnessFallback, FreshnessStale))
	assert.Equal(t, FreshnessFallback, Worst(Freshness("bogus")), "unknown freshness is never better than fallback")
}

func TestFallbackValueIsAlwaysTagged(t *testing.T) {
	fb := FallbackValue[float64]{Value: 1350, Reason: "static USD/KRW"}
	assert.True(t, fb.IsFallback())

	fact := fb.Fact("fx USD/KRW: using static fallback")
	assert.Equal(t, 1350.0, fact.Value)
	assert.True(t, fact.IsFallback)
	assert.Equal(t, FreshnessFallback, fact.Freshness)
	assert.Len(t, fact.Warnings, 1)
}

func TestProvenanceSet(t *testing.T) {
	set := NewProvenanceSet()
	set.Add(Provenance{Source: "redis", Freshness: FreshnessLive})
	set.Add(Provenance{Source: "banexg", Freshness: FreshnessCached})
	set.Add(Provenance{Source: "snapshot", Freshness: FreshnessStale, Warnings: []string{"hop"}})
	set.Add(Provenance{Source: "redis", Freshness: FreshnessLive, Warnings: []string{"hop"}})

	assert.Equal(t, FreshnessStale, set.Freshness())
	assert.Equal(t, []string{"banexg", "redis", "snapshot"}, set.Sources())
	assert.Equal(t, []string{"hop"}, set.Warnings())
	assert.False(t, set.UsedFallback())
}

func TestPairParsing(t *testing.T) {
	p, err := ParsePair(" usd/krw ")
	require.NoError(t, err)
	assert.Equal(t, Pair{Base: "USD", Quote: "KRW"}, p)
	assert.Equal(t, "KRW/USD", p.Inverse().String())
	assert.False(t, p.Identity())

	_, err = ParsePair("USDKRW")
	assert.Error(t, err)
}

func TestOrderbookSortedAndLevels(t *testing.T) {
	book := OrderbookSnapshot{
		Bids: []Level{{Price: 99, Quantity: 1}, {Price: 100, Quantity: 1}},
		Asks: []Level{{Price: 102, Quantity: 1}, {Price: 101, Quantity: 1}},
	}
	sorted := book.Sorted()
	assert.Equal(t, 100.0, sorted.Levels(SideSell)[0].Price)
	assert.Equal(t, 101.0, sorted.Levels(SideBuy)[0].Price)
	assert.Equal(t, 99.0, book.Bids[0].Price, "Sorted must not mutate the receiver")

	assert.False(t, UnknownLiquidity.Known)
	assert.True(t, KnownLiquidity(OrderbookSnapshot{}).Known, "an empty book is still known")
}

func TestCommonAssets(t *testing.T) {
	a := Venue{ID: "a", Assets: []Asset{"XRP", "BTC", "ETH"}}
	b := Venue{ID: "b", Assets: []Asset{"ETH", "XRP", "SOL"}}
	assert.Equal(t, []Asset{"ETH", "XRP"}, CommonAssets(a, b))
	assert.True(t, Venue{Currencies: []string{"KRW"}}.SupportsCurrency("krw"))
	assert.Equal(t, "BTC/KRW", Symbol("BTC", "krw"))
}
