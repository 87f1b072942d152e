package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"bridgeroute/internal/logger"
	"bridgeroute/internal/types"
)

const (
	wsBaseDelay = time.Second
	wsMaxDelay  = 60 * time.Second
)

// tickerMessage is an Upbit style ticker frame; code is QUOTE-ASSET
type tickerMessage struct {
	Type       string      `json:"type"`
	Code       string      `json:"code"`
	TradePrice json.Number `json:"trade_price"`
	Timestamp  int64       `json:"timestamp"`
}

// WSTicker keeps the latest trade price of every asset of one venue from a
// streaming ticker feed and serves them as spot prices
type WSTicker struct {
	name        string
	url         string
	venue       types.Venue
	maxAge      time.Duration
	readTimeout time.Duration
	log         logger.Logger

	mu       sync.RWMutex
	prices   map[string]types.PriceQuote
	onUpdate func(types.PriceQuote)
	now      func() time.Time
}

// NewWSTicker creates a ticker for venue. Quotes older than maxAge are not served.
func NewWSTicker(name, url string, venue types.Venue, maxAge time.Duration, log logger.Logger) *WSTicker {
	if name == "" {
		name = "websocket"
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &WSTicker{
		name:        name,
		url:         url,
		venue:       venue,
		maxAge:      maxAge,
		readTimeout: 60 * time.Second,
		log:         log.WithFields(map[string]interface{}{"provider": name, "venue": venue.ID}),
		prices:      make(map[string]types.PriceQuote),
		now:         time.Now,
	}
}

// Name returns the provider name
func (t *WSTicker) Name() string {
	return t.name
}

// OnUpdate registers a hook called for every accepted tick
func (t *WSTicker) OnUpdate(fn func(types.PriceQuote)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// SpotPrice serves the latest streamed price
func (t *WSTicker) SpotPrice(ctx context.Context, venue types.Venue, asset types.Asset, quote string) (types.PriceQuote, error) {
	if venue.ID != t.venue.ID {
		return types.PriceQuote{}, fmt.Errorf("%s streams %s, not %s", t.name, t.venue.ID, venue.ID)
	}
	symbol := types.Symbol(asset, quote)

	t.mu.RLock()
	q, ok := t.prices[symbol]
	t.mu.RUnlock()
	if !ok {
		return types.PriceQuote{}, fmt.Errorf("%s: no tick for %s", t.name, symbol)
	}
	if age := t.now().Sub(q.Timestamp); age > t.maxAge {
		return types.PriceQuote{}, fmt.Errorf("%s: last %s tick is %s old", t.name, symbol, age.Truncate(time.Second))
	}
	return q, nil
}

// codes lists QUOTE-ASSET for every venue currency and asset
func (t *WSTicker) codes() []string {
	var codes []string
	for _, quote := range t.venue.Currencies {
		for _, asset := range t.venue.Assets {
			codes = append(codes, strings.ToUpper(quote)+"-"+string(asset))
		}
	}
	return codes
}

// Run connects and reconnects with exponential backoff until ctx is done
func (t *WSTicker) Run(ctx context.Context) error {
	retry := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connected, err := t.session(ctx)
		if connected {
			retry = 0
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoffDelay(retry)
		retry++
		t.log.Warn("Ticker stream disconnected", "error", err, "retry", retry, "delay", delay.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one connection; it reports whether the subscription succeeded
func (t *WSTicker) session(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", userAgent)

	conn, _, err := dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	sub := []map[string]interface{}{
		{"ticket": fmt.Sprintf("bridgeroute-%d", time.Now().UnixNano())},
		{"type": "ticker", "codes": t.codes()},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	t.log.Info("Ticker stream connected", "codes", len(t.codes()))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		t.handleMessage(msg)
	}
}

func (t *WSTicker) handleMessage(msg []byte) {
	var m tickerMessage
	if err := json.Unmarshal(msg, &m); err != nil || m.Type != "ticker" {
		return
	}

	quote, asset, ok := strings.Cut(m.Code, "-")
	if !ok {
		return
	}
	price, err := decimal.NewFromString(m.TradePrice.String())
	if err != nil || !price.IsPositive() {
		t.log.Debug("Dropping tick with bad price", "code", m.Code, "price", m.TradePrice.String())
		return
	}

	ts := t.now()
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp)
	}
	q := types.PriceQuote{
		Venue:     t.venue.ID,
		Asset:     types.Asset(asset).Normalize(),
		Quote:     strings.ToUpper(quote),
		Price:     price.InexactFloat64(),
		Timestamp: ts,
		Source:    t.name,
	}

	t.mu.Lock()
	t.prices[types.Symbol(q.Asset, q.Quote)] = q
	hook := t.onUpdate
	t.mu.Unlock()

	if hook != nil {
		hook(q)
	}
}

// backoffDelay is wsBaseDelay * 2^retry, capped at wsMaxDelay
func backoffDelay(retry int) time.Duration {
	if retry < 0 {
		return wsBaseDelay
	}
	if retry > 30 {
		return wsMaxDelay
	}
	d := wsBaseDelay * time.Duration(1<<retry)
	if d > wsMaxDelay {
		return wsMaxDelay
	}
	return d
}
