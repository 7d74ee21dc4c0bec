package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	requests        *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	entries         prometheus.Gauge
	busyWorkers     prometheus.Gauge
	persistFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "graphlog_requests_total",
			Help: "Requests handled, by endpoint and response status.",
		}, []string{"endpoint", "status"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "graphlog_publish_rejected_total",
			Help: "Publish requests rejected, by reason.",
		}, []string{"reason"}),
		entries: f.NewGauge(prometheus.GaugeOpts{
			Name: "graphlog_log_entries",
			Help: "Number of entries in the log.",
		}),
		busyWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "graphlog_busy_workers",
			Help: "Workers currently serving a connection.",
		}),
		persistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "graphlog_persist_failures_total",
			Help: "Failed writes of pending entries to the backend.",
		}),
	}
}

func (m *Metrics) observeRequest(kind EndpointKind, status int) {
	m.requests.WithLabelValues(kind.String(), strconv.Itoa(status)).Inc()
}
