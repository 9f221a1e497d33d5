package relay

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks relay-level counters. Each server owns its own registry;
// nothing registers on the package-global default.
type Metrics struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryDuration prometheus.Histogram
}

// NewMetrics creates the relay metric set on a fresh registry, with the
// standard Go and process collectors included.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgrelay_http_requests_total",
			Help: "HTTP requests served, by status code.",
		}, []string{"code"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tgrelay_deliveries_total",
			Help: "Telegram delivery attempts, by outcome.",
		}, []string{"outcome"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tgrelay_delivery_duration_seconds",
			Help:    "Duration of the outbound sendMessage call.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.requests, m.deliveries, m.deliveryDuration)

	return m
}

// RecordRequest counts one served HTTP request by status code.
func (m *Metrics) RecordRequest(code int) {
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordDelivery counts one delivery attempt and observes its duration.
func (m *Metrics) RecordDelivery(outcome string, elapsed time.Duration) {
	m.deliveries.WithLabelValues(outcome).Inc()
	m.deliveryDuration.Observe(elapsed.Seconds())
}

// Handler returns the Prometheus exposition handler for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
