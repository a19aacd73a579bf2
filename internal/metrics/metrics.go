// Package metrics exposes engine counters for Prometheus scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for processed combinations.
const (
	OutcomeStored      = "stored"
	OutcomeFiltered    = "filtered"
	OutcomeFailed      = "failed"
	OutcomeBlacklisted = "blacklisted"
	OutcomeDNSError    = "dns_error"
)

// Metrics holds the collectors of one process. A nil *Metrics records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	combinations *prometheus.CounterVec
	statuses     *prometheus.CounterVec
	retries421   *prometheus.CounterVec
	runs         *prometheus.CounterVec
	inflight     prometheus.Gauge
	responseTime *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		combinations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hhprobe_combinations_processed_total",
			Help: "Combinations processed, by mode and outcome",
		}, []string{"mode", "outcome"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hhprobe_http_status_total",
			Help: "HTTP statuses observed by probes",
		}, []string{"code"}),
		retries421: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hhprobe_421_retries_total",
			Help: "SNI override retries after a 421, by result",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hhprobe_runs_total",
			Help: "Runs that reached a final status",
		}, []string{"status"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hhprobe_requests_inflight",
			Help: "Probes currently executing",
		}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hhprobe_response_time_seconds",
			Help:    "Probe response time distribution",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
	}

	collectors := []prometheus.Collector{
		m.combinations,
		m.statuses,
		m.retries421,
		m.runs,
		m.inflight,
		m.responseTime,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Processed counts one combination.
func (m *Metrics) Processed(mode, outcome string) {
	if m == nil {
		return
	}
	m.combinations.WithLabelValues(mode, outcome).Inc()
}

// Observe records a probe response.
func (m *Metrics) Observe(mode string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if status > 0 {
		m.statuses.WithLabelValues(strconv.Itoa(status)).Inc()
	}
	m.responseTime.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// Retry421 counts an SNI override retry.
func (m *Metrics) Retry421(succeeded bool) {
	if m == nil {
		return
	}
	result := "failed"
	if succeeded {
		result = "succeeded"
	}
	m.retries421.WithLabelValues(result).Inc()
}

// RunFinished counts a run reaching a final status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// Begin marks a probe as in flight; the returned func ends it.
func (m *Metrics) Begin() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}
