package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetNetworkLive("ETH", true)
	m.SetNetworkLive("BSC", false)
	m.RecordScan("ETH", nil, 10, 2, 0.5)
	m.RecordScan("ETH", errors.New("timeout"), 0, 0, 8)
	m.RecordSubmission("ETH", "Submitted", "relay")
	m.RecordRelayFallback("ETH")
	m.RecordCycle(3)
	m.RecordAlertDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NetworkLive.WithLabelValues("ETH")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NetworkLive.WithLabelValues("BSC")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("ETH", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("ETH", "error")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.TxsScanned.WithLabelValues("ETH")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TxsDropped.WithLabelValues("ETH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("ETH", "Submitted", "relay")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsDropped))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordScan("ETH", nil, 1, 0, 1)
	m.RecordCycle(1)
	m.RecordAlertDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordCycle(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "mempool_searcher_scheduler_cycles_total 1")
}
