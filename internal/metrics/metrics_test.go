package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("nobitex", time.Second, nil)
		m.SetPriceDiff("BTC", 1.2)
		m.AddDetected(2)
		m.AddPersisted(1)
		m.IncDuplicate()
		m.IncStorageError()
		m.IncDeliveryFailure("telegram")
		m.ObserveCycle("completed", time.Second)
		m.SetSubscribers(3)
	})
}

func TestFetchCounters(t *testing.T) {
	m := New()
	m.ObserveFetch("nobitex", 10*time.Millisecond, nil)
	m.ObserveFetch("nobitex", 10*time.Millisecond, errors.New("boom"))
	m.ObserveFetch("wallex", 10*time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("nobitex", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("nobitex", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("wallex", "success")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.AddPersisted(2)
	m.SetPriceDiff("BTC", 0.75)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "spreadbot_opportunities_persisted_total 2")
	assert.Contains(t, string(body), `spreadbot_price_diff_percent{pair="BTC"} 0.75`)
}
