package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bridgeroute/internal/types"
)

const (
	defaultYahooURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	userAgent       = "Mozilla/5.0 (compatible; bridgeroute/1.0)"
)

// yahooChartResponse is the subset of the chart API answer we read
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string      `json:"currency"`
				Symbol             string      `json:"symbol"`
				RegularMarketPrice json.Number `json:"regularMarketPrice"`
				RegularMarketTime  int64       `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// YahooFx reads FX rates from a Yahoo Finance chart style endpoint
type YahooFx struct {
	name       string
	baseURL    string
	httpClient *http.Client
	retry      *RetryConfig
	now        func() time.Time
}

// NewYahooFx creates an FX provider. An empty baseURL uses the public endpoint.
func NewYahooFx(name, baseURL string, timeout time.Duration, retries int) *YahooFx {
	if name == "" {
		name = "yahoo"
	}
	if baseURL == "" {
		baseURL = defaultYahooURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := DefaultRetryConfig()
	if retries >= 0 {
		retry.MaxRetries = retries
	}
	return &YahooFx{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		now:        time.Now,
	}
}

// Name returns the provider name
func (y *YahooFx) Name() string {
	return y.name
}

// yahooSymbol maps USD/KRW to USDKRW=X
func yahooSymbol(pair types.Pair) string {
	return fmt.Sprintf("%s%s=X", pair.Base, pair.Quote)
}

// Rate returns how many Quote units one Base buys
func (y *YahooFx) Rate(ctx context.Context, pair types.Pair) (types.FxRate, error) {
	return RetryWithResult(ctx, func(ctx context.Context) (types.FxRate, error) {
		return y.fetch(ctx, pair)
	}, y.retry)
}

func (y *YahooFx) fetch(ctx context.Context, pair types.Pair) (types.FxRate, error) {
	url := y.baseURL + "/" + yahooSymbol(pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.FxRate{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return types.FxRate{}, fmt.Errorf("%s %s: %w", y.name, pair, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.FxRate{}, fmt.Errorf("%s %s: read body: %w", y.name, pair, err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.FxRate{}, &StatusError{Provider: y.name, Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var data yahooChartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return types.FxRate{}, fmt.Errorf("%s %s: decode: %w", y.name, pair, err)
	}
	if data.Chart.Error != nil {
		return types.FxRate{}, fmt.Errorf("%s %s: api error %s: %s", y.name, pair, data.Chart.Error.Code, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 {
		return types.FxRate{}, fmt.Errorf("%s %s: empty result", y.name, pair)
	}

	meta := data.Chart.Result[0].Meta
	rate, err := decimal.NewFromString(meta.RegularMarketPrice.String())
	if err != nil {
		return types.FxRate{}, fmt.Errorf("%s %s: bad price %q: %w", y.name, pair, meta.RegularMarketPrice, err)
	}
	if !rate.IsPositive() {
		return types.FxRate{}, fmt.Errorf("%s %s: non-positive rate %s", y.name, pair, rate)
	}

	ts := y.now()
	if meta.RegularMarketTime > 0 {
		ts = time.Unix(meta.RegularMarketTime, 0)
	}
	return types.FxRate{
		Pair:      pair,
		Rate:      rate.InexactFloat64(),
		Timestamp: ts,
		Source:    y.name,
	}, nil
}
