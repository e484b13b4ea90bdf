package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_IndependentRegistries(t *testing.T) {
	first := New()
	second := New()

	first.ObserveConversion("success", "ETH")

	assert.Equal(t, 1.0, testutil.ToFloat64(first.ConversionsTotal.WithLabelValues("success", "ETH")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.ConversionsTotal.WithLabelValues("success", "ETH")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveUpstream("ticker", "success", time.Millisecond)
		m.ObserveCacheLookup("get_ticker", "hit")
		m.SetBreakerState("buda", 2)
		m.ObserveBreakerTransition("buda", "closed", "open")
		m.ObserveConversion("success", "BTC")
		m.ObserveCandidate("BTC", "success")
		m.SetDependencyHealthy("cache", true)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveUpstream("ticker", "success", 20*time.Millisecond)
	m.SetDependencyHealthy("buda_api", true)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	body, err := io.ReadAll(recorder.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `buda_requests_total{endpoint="ticker",outcome="success"} 1`)
	assert.Contains(t, string(body), `dependency_healthy{dependency="buda_api"} 1`)
}
