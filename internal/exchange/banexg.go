package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banbox/banexg"
	"github.com/banbox/banexg/bex"

	"bridgeroute/internal/types"
)

// marketClient is the slice of banexg.BanExchange this package uses
type marketClient interface {
	LastPrice(symbol string) (float64, error)
	Symbols() (map[string]bool, error)
	Close() error
}

// banexgClient adapts banexg.BanExchange to marketClient
type banexgClient struct {
	exchange banexg.BanExchange
}

func newBanexgClient(exchangeID string) (marketClient, error) {
	options := map[string]interface{}{
		banexg.OptMarketType: banexg.MarketSpot,
	}
	exg, err := bex.New(exchangeID, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create banexg exchange %s: %w", exchangeID, err)
	}
	return &banexgClient{exchange: exg}, nil
}

func (c *banexgClient) LastPrice(symbol string) (float64, error) {
	ticker, err := c.exchange.FetchTicker(symbol, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch ticker: %w", err)
	}
	return ticker.Last, nil
}

func (c *banexgClient) Symbols() (map[string]bool, error) {
	markets, err := c.exchange.LoadMarkets(false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load markets: %w", err)
	}
	symbols := make(map[string]bool, len(markets))
	for _, market := range markets {
		symbols[strings.ToUpper(market.Base)+"/"+strings.ToUpper(market.Quote)] = true
	}
	return symbols, nil
}

func (c *banexgClient) Close() error {
	if err := c.exchange.Close(); err != nil {
		return err
	}
	return nil
}

// BanexgProvider reads spot prices through banexg REST clients, one client
// per exchange id, created lazily
type BanexgProvider struct {
	name    string
	mu      sync.Mutex
	clients map[string]marketClient
	factory func(exchangeID string) (marketClient, error)
	now     func() time.Time
}

// NewBanexgProvider creates a provider backed by banexg
func NewBanexgProvider(name string) *BanexgProvider {
	return newBanexgProvider(name, newBanexgClient)
}

func newBanexgProvider(name string, factory func(string) (marketClient, error)) *BanexgProvider {
	if name == "" {
		name = "banexg"
	}
	return &BanexgProvider{
		name:    name,
		clients: make(map[string]marketClient),
		factory: factory,
		now:     time.Now,
	}
}

// Name returns the provider name
func (p *BanexgProvider) Name() string {
	return p.name
}

func (p *BanexgProvider) client(exchangeID string) (marketClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[exchangeID]; ok {
		return c, nil
	}
	c, err := p.factory(exchangeID)
	if err != nil {
		return nil, err
	}
	p.clients[exchangeID] = c
	return c, nil
}

// SpotPrice returns the last traded price of asset in quote at venue.
// banexg calls are not context aware, so the call runs in a goroutine and
// ctx bounds how long the caller waits for it.
func (p *BanexgProvider) SpotPrice(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.PriceQuote, error) {
	c, err := p.client(venue.Exchange)
	if err != nil {
		return types.PriceQuote{}, err
	}

	symbol := types.Symbol(asset, quote)
	price, err := callWithContext(ctx, func() (float64, error) {
		return c.LastPrice(symbol)
	})
	if err != nil {
		return types.PriceQuote{}, fmt.Errorf("%s %s on %s: %w", p.name, symbol, venue.ID, err)
	}
	if price <= 0 {
		return types.PriceQuote{}, fmt.Errorf("%s %s on %s: non-positive last price %v", p.name, symbol, venue.ID, price)
	}

	return types.PriceQuote{
		Venue:     venue.ID,
		Asset:     asset,
		Quote:     strings.ToUpper(quote),
		Price:     price,
		Timestamp: p.now(),
		Source:    p.name,
	}, nil
}

// Probe loads the venue's market list and checks that every catalog asset
// is listed against at least one of the venue's currencies
func (p *BanexgProvider) Probe(ctx context.Context, venue types.Venue) error {
	c, err := p.client(venue.Exchange)
	if err != nil {
		return err
	}

	symbols, err := callWithContext(ctx, c.Symbols)
	if err != nil {
		return fmt.Errorf("%s probe %s: %w", p.name, venue.ID, err)
	}

	var missing []string
	for _, asset := range venue.Assets {
		listed := false
		for _, quote := range venue.Currencies {
			if symbols[types.Symbol(asset, quote)] {
				listed = true
				break
			}
		}
		if !listed {
			missing = append(missing, string(asset))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s probe %s: assets not listed: %s", p.name, venue.ID, strings.Join(missing, ","))
	}
	return nil
}

// Close releases every exchange client
func (p *BanexgProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", id, err)
		}
		delete(p.clients, id)
	}
	return firstErr
}

func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
