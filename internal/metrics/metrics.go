package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roadsight/billboard-proxy/apimodels"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	latencyMs     *prometheus.HistogramVec

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	// ring of recent upstream latencies in milliseconds
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

func New(window int) *Metrics {
	if window <= 0 {
		window = 1
	}
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billboard_proxy_requests_total",
			Help: "Total number of analysis requests answered by the proxy.",
		}, []string{"action", "status"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billboard_proxy_upstream_latency_ms",
			Help:    "Upstream chat-completion latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		}, []string{"action", "status"}),
		samples: make([]float64, window),
	}
	r.MustRegister(m.requestsTotal, m.latencyMs)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one answered POST to the analysis proxy.
func (m *Metrics) ObserveRequest(action string, status int) {
	m.total.Add(1)
	if status >= 200 && status < 300 {
		m.succeeded.Add(1)
	} else {
		m.failed.Add(1)
	}
	m.requestsTotal.WithLabelValues(action, strconv.Itoa(status)).Inc()
}

// ObserveUpstream records the latency of one upstream call. status is 0 when
// the call failed before a response arrived.
func (m *Metrics) ObserveUpstream(action string, status int, dur time.Duration) {
	ms := float64(dur.Milliseconds())
	m.latencyMs.WithLabelValues(action, strconv.Itoa(status)).Observe(ms)

	m.mu.Lock()
	m.samples[m.next] = ms
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() apimodels.StatsResponse {
	var out apimodels.StatsResponse
	out.Requests.Total = m.total.Load()
	out.Requests.Succeeded = m.succeeded.Load()
	out.Requests.Failed = m.failed.Load()

	m.mu.Lock()
	n := m.next
	if m.full {
		n = len(m.samples)
	}
	data := make(stats.Float64Data, n)
	copy(data, m.samples[:n])
	m.mu.Unlock()

	out.Latency.Samples = n
	if n == 0 {
		return out
	}

	out.Latency.Avg, _ = stats.Mean(data)
	out.Latency.P50, _ = stats.PercentileNearestRank(data, 50)
	out.Latency.P95, _ = stats.PercentileNearestRank(data, 95)
	out.Latency.P99, _ = stats.PercentileNearestRank(data, 99)
	return out
}
