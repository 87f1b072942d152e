package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridgeroute/internal/cache"
	"bridgeroute/internal/catalog"
	"bridgeroute/internal/engine"
	"bridgeroute/internal/market"
)

// compile time checks that Metrics feeds every sink
var (
	_ cache.Recorder         = (*Metrics)(nil)
	_ market.Metrics         = (*Metrics)(nil)
	_ engine.Metrics         = (*Metrics)(nil)
	_ catalog.StatusObserver = (*Metrics)(nil)
)

func TestMetricsRecordEvents(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordSourceFetch("price", "binance", market.OutcomeOK)
	m.RecordSourceFetch("price", "binance", market.OutcomeOK)
	m.RecordSourceFetch("price", "binance", market.OutcomeTimeout)
	m.RecordFallbackHop("fx")
	m.RecordCacheLookup("price", cache.ResultJoined)
	m.RecordDecision("FAVORABLE")
	m.SetVenueStatus("upbit", true)
	m.SetVenueStatus("bithumb", false)
	m.RecordSnapshots("price", 3)
	m.ObserveRoute("cheapest", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sourceFetches.WithLabelValues("price", "binance", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sourceFetches.WithLabelValues("price", "binance", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackHops.WithLabelValues("fx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("price", "joined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisionTiers.WithLabelValues("FAVORABLE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.venueOnline.WithLabelValues("upbit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.venueOnline.WithLabelValues("bithumb")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.snapshotsStored.WithLabelValues("price")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.routeDuration))
}

func TestMetricsAreIsolatedPerRegistry(t *testing.T) {
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.RecordFallbackHop("price")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.fallbackHops.WithLabelValues("price")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(nil)

	r := gin.New()
	r.Use(m.MetricsMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/healthz", "200")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "bridgeroute_http_requests_total"))
}
