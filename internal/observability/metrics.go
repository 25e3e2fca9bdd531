package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	trainsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trainbridge",
			Subsystem: "server",
			Name:      "trains_served_total",
			Help:      "Trains sent to pulling clients.",
		},
		[]string{"endpoint", "version", "serialization"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trainbridge",
			Subsystem: "server",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes sent across all message parts.",
		},
		[]string{"endpoint", "version", "serialization"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trainbridge",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Time from receiving a request to finishing the reply.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "version", "serialization"},
	)
	unexpectedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trainbridge",
			Subsystem: "server",
			Name:      "unexpected_requests_total",
			Help:      "Requests that were not the literal pull request.",
		},
		[]string{"endpoint"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trainbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"endpoint", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trainbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(trainsServed, bytesSent, requestDuration,
			unexpectedRequests, httpRequests, httpDuration)
	})
}

func RecordTrainServed(endpoint, version, serialization string, bytes int, duration time.Duration) {
	RegisterMetrics()
	trainsServed.WithLabelValues(endpoint, version, serialization).Inc()
	bytesSent.WithLabelValues(endpoint, version, serialization).Add(float64(bytes))
	requestDuration.WithLabelValues(endpoint, version, serialization).Observe(duration.Seconds())
}

func RecordUnexpectedRequest(endpoint string) {
	RegisterMetrics()
	unexpectedRequests.WithLabelValues(endpoint).Inc()
}

func RecordHTTPRequest(endpoint, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(endpoint, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(endpoint, method, path, statusLabel).Observe(duration.Seconds())
}
