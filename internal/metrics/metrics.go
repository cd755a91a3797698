// Package metrics provides Prometheus metrics for the searcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mempool_searcher"

// Metrics holds the searcher's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	// Connectivity
	NetworkLive *prometheus.GaugeVec

	// Scan
	ScansTotal       *prometheus.CounterVec
	TxsScanned       *prometheus.CounterVec
	TxsDropped       *prometheus.CounterVec
	ScanDuration     *prometheus.HistogramVec
	CandidateVerdict *prometheus.CounterVec

	// Execution
	Submissions     *prometheus.CounterVec
	RelayFallbacks  *prometheus.CounterVec
	NonceContention *prometheus.CounterVec

	// Loop
	Cycles        prometheus.Counter
	CycleDuration prometheus.Histogram
	AlertsDropped prometheus.Counter
}

// New registers every collector with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		NetworkLive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "network_live",
			Help:      "1 when the network connected at startup, 0 when it is dead",
		}, []string{"network"}),

		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scans_total",
			Help:      "Pending block scans by network and status",
		}, []string{"network", "status"}),
		TxsScanned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "transactions_total",
			Help:      "Pending transactions decoded",
		}, []string{"network"}),
		TxsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "transactions_dropped_total",
			Help:      "Pending transactions skipped during a scan",
		}, []string{"network"}),
		ScanDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "scan_duration_seconds",
			Help:      "Duration of one network scan",
			Buckets:   prometheus.DefBuckets,
		}, []string{"network"}),
		CandidateVerdict: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "verdicts_total",
			Help:      "Evaluated candidates by verdict",
		}, []string{"network", "verdict"}),

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "results_total",
			Help:      "Terminal submission results by status and path",
		}, []string{"network", "status", "path"}),
		RelayFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "relay_fallbacks_total",
			Help:      "Relay failures that fell back to public submission",
		}, []string{"network"}),
		NonceContention: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "nonce_contention_total",
			Help:      "Nonce reservations that lost a race",
		}, []string{"network"}),

		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Completed scheduler cycles",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one scan/evaluate/execute cycle",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		AlertsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "dropped_total",
			Help:      "Alert events dropped because the sink was full",
		}),
	}
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) SetNetworkLive(network string, live bool) {
	if m == nil {
		return
	}
	v := 0.0
	if live {
		v = 1
	}
	m.NetworkLive.WithLabelValues(network).Set(v)
}

func (m *Metrics) RecordScan(network string, err error, scanned, dropped int, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ScansTotal.WithLabelValues(network, status).Inc()
	m.TxsScanned.WithLabelValues(network).Add(float64(scanned))
	m.TxsDropped.WithLabelValues(network).Add(float64(dropped))
	m.ScanDuration.WithLabelValues(network).Observe(seconds)
}

func (m *Metrics) RecordVerdict(network, verdict string) {
	if m == nil {
		return
	}
	m.CandidateVerdict.WithLabelValues(network, verdict).Inc()
}

func (m *Metrics) RecordSubmission(network, status, path string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(network, status, path).Inc()
}

func (m *Metrics) RecordRelayFallback(network string) {
	if m == nil {
		return
	}
	m.RelayFallbacks.WithLabelValues(network).Inc()
}

func (m *Metrics) RecordNonceContention(network string) {
	if m == nil {
		return
	}
	m.NonceContention.WithLabelValues(network).Inc()
}

func (m *Metrics) RecordCycle(seconds float64) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) RecordAlertDropped() {
	if m == nil {
		return
	}
	m.AlertsDropped.Inc()
}
