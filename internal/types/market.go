package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Asset is an opaque tradeable symbol such as BTC or XRP
type Asset string

// Normalize upper-cases and trims the symbol
func (a Asset) Normalize() Asset {
	return Asset(strings.ToUpper(strings.TrimSpace(string(a))))
}

// VenueStatus is refreshed by the health probe
type VenueStatus string

const (
	VenueOnline  VenueStatus = "online"
	VenueOffline VenueStatus = "offline"
	VenueUnknown VenueStatus = "unknown"
)

// Venue represents a trading venue catalog entry
type Venue struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Region        string      `json:"region"`
	Exchange      string      `json:"exchange"`
	Currencies    []string    `json:"currencies"`
	Assets        []Asset     `json:"assets"`
	TradingFeePct float64     `json:"trading_fee_pct"`
	Status        VenueStatus `json:"status"`
}

// SupportsCurrency reports whether the venue quotes in currency
func (v Venue) SupportsCurrency(currency string) bool {
	for _, c := range v.Currencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// Trades reports whether the asset is listed at the venue
func (v Venue) Trades(asset Asset) bool {
	for _, a := range v.Assets {
		if a == asset {
			return true
		}
	}
	return false
}

// PrimaryCurrency is the first configured quote currency
func (v Venue) PrimaryCurrency() string {
	if len(v.Currencies) == 0 {
		return ""
	}
	return v.Currencies[0]
}

// CommonAssets returns the assets listed at both venues, sorted
func CommonAssets(a, b Venue) []Asset {
	var common []Asset
	for _, asset := range a.Assets {
		if b.Trades(asset) {
			common = append(common, asset)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })
	return common
}

// Side is the direction of a trade leg
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Symbol formats the banexg style market symbol, e.g. BTC/KRW
func Symbol(asset Asset, quote string) string {
	return fmt.Sprintf("%s/%s", asset, strings.ToUpper(quote))
}

// PriceQuote is a spot price observed at one venue
type PriceQuote struct {
	Venue     string    `json:"venue"`
	Asset     Asset     `json:"asset"`
	Quote     string    `json:"quote"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Level represents a price level in the order book
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderbookSnapshot represents a market order book at one venue
type OrderbookSnapshot struct {
	Venue     string    `json:"venue"`
	Asset     Asset     `json:"asset"`
	Quote     string    `json:"quote"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Sorted returns a copy with bids descending and asks ascending
func (ob OrderbookSnapshot) Sorted() OrderbookSnapshot {
	out := ob
	out.Bids = append([]Level(nil), ob.Bids...)
	out.Asks = append([]Level(nil), ob.Asks...)
	sort.SliceStable(out.Bids, func(i, j int) bool { return out.Bids[i].Price > out.Bids[j].Price })
	sort.SliceStable(out.Asks, func(i, j int) bool { return out.Asks[i].Price < out.Asks[j].Price })
	return out
}

// Levels returns the side a taker walks: asks for a buy, bids for a sell
func (ob OrderbookSnapshot) Levels(side Side) []Level {
	if side == SideBuy {
		return ob.Asks
	}
	return ob.Bids
}

// Liquidity is either a fetched book or the UnknownLiquidity marker.
// A known book with no levels is an empty book, not unknown liquidity.
type Liquidity struct {
	Book  OrderbookSnapshot `json:"book"`
	Known bool              `json:"known"`
}

// UnknownLiquidity marks that no orderbook could be obtained
var UnknownLiquidity = Liquidity{}

// KnownLiquidity wraps a fetched book
func KnownLiquidity(book OrderbookSnapshot) Liquidity {
	return Liquidity{Book: book, Known: true}
}

// Pair is a currency pair; Rate converts one Base into Rate units of Quote
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParsePair parses "USD/KRW"
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(s)), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid currency pair %q", s)
	}
	return Pair{Base: parts[0], Quote: parts[1]}, nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Inverse swaps base and quote
func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// Identity reports whether no conversion is needed
func (p Pair) Identity() bool {
	return p.Base == p.Quote
}

// FxRate is a bounds-checked conversion rate
type FxRate struct {
	Pair      Pair      `json:"pair"`
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// WithdrawalStatus reports whether outbound transfers of an asset are blocked
type WithdrawalStatus struct {
	Venue     string    `json:"venue"`
	Asset     Asset     `json:"asset"`
	Suspended bool      `json:"suspended"`
	UpdatedAt time.Time `json:"updated_at"`
}
