package exact

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the transport's Prometheus collectors.
type Metrics struct {
	requests           *prometheus.CounterVec
	duration           *prometheus.HistogramVec
	rateLimitRemaining *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exact",
				Name:      "requests_total",
				Help:      "Number of API requests by method and HTTP status code",
			},
			[]string{"method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "exact",
				Name:      "request_duration_seconds",
				Help:      "API request latency including retries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		rateLimitRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "exact",
				Name:      "ratelimit_remaining",
				Help:      "Remaining calls in the rate-limit window as last reported by the API",
			},
			[]string{"window"},
		),
	}

	reg.MustRegister(m.requests, m.duration, m.rateLimitRemaining)

	return m
}

// observe records one completed round trip. code 0 means no response.
func (m *Metrics) observe(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}

	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}

	m.requests.WithLabelValues(method, label).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// setRemaining records a rate-limit header value.
func (m *Metrics) setRemaining(window string, remaining int) {
	if m == nil {
		return
	}

	m.rateLimitRemaining.WithLabelValues(window).Set(float64(remaining))
}
