package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"daemon-rpc/message"
)

const metricsNamespace = "daemon_rpc"

// Metrics is a prometheus.Collector counting and timing dispatched requests.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetrics returns an unregistered collector.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "The number of RPC requests by method and outcome.",
			}, []string{"method", "outcome", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "The time taken to answer an RPC request.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			}, []string{"method"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "requests_in_flight",
				Help:      "The number of RPC requests being handled.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.requests.Describe(ch)
	m.duration.Describe(ch)
	m.inFlight.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.requests.Collect(ch)
	m.duration.Collect(ch)
	m.inFlight.Collect(ch)
}

// Middleware records each request. Unknown method names are folded into one
// label value so callers cannot grow the label set without bound.
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			m.inFlight.Inc()
			start := time.Now()
			resp := next(ctx, req)
			m.inFlight.Dec()

			method, outcome, code := req.Method, "ok", ""
			if resp != nil && resp.Error != nil {
				outcome, code = "error", strconv.Itoa(resp.Error.Code)
				if resp.Error.Code == message.CodeMethodNotFound {
					method = "unknown"
				}
			}
			m.requests.WithLabelValues(method, outcome, code).Inc()
			m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
			return resp
		}
	}
}
