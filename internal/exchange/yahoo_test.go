package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeroute/internal/types"
)

func TestYahooFxRate(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{"chart":{"result":[{"meta":{"currency":"KRW","symbol":"USDKRW=X","regularMarketPrice":1352.87,"regularMarketTime":1714560000}}],"error":null}}`))
	}))
	defer server.Close()

	y := NewYahooFx("", server.URL, time.Second, 0)
	rate, err := y.Rate(context.Background(), types.Pair{Base: "USD", Quote: "KRW"})
	require.NoError(t, err)

	assert.Equal(t, "/USDKRW=X", path)
	assert.InDelta(t, 1352.87, rate.Rate, 1e-9)
	assert.Equal(t, "yahoo", rate.Source)
	assert.Equal(t, int64(1714560000), rate.Timestamp.Unix())
}

func TestYahooFxRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":1.08}}]}}`))
	}))
	defer server.Close()

	y := NewYahooFx("yahoo", server.URL, time.Second, 2)
	y.retry.InitialWait = time.Millisecond
	rate, err := y.Rate(context.Background(), types.Pair{Base: "EUR", Quote: "USD"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.InDelta(t, 1.08, rate.Rate, 1e-9)
}

func TestYahooFxErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"not found", http.StatusNotFound, `nope`, "returned 404"},
		{"api error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, "No data found"},
		{"empty", http.StatusOK, `{"chart":{"result":[]}}`, "empty result"},
		{"zero price", http.StatusOK, `{"chart":{"result":[{"meta":{"regularMarketPrice":0}}]}}`, "non-positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewYahooFx("yahoo", server.URL, time.Second, 0).Rate(context.Background(), types.Pair{Base: "USD", Quote: "KRW"})
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
