package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce     sync.Once
	requestsTotal    *prometheus.CounterVec
	latencySeconds   *prometheus.HistogramVec
	errorsTotal      *prometheus.CounterVec
	feedbackOutcomes *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for the HTTP API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engelbrain",
			Name:      "http_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		// Feedback fetches block on the grading service, hence the long tail.
		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engelbrain",
			Name:      "http_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engelbrain",
			Name:      "http_errors_total",
			Help:      "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		feedbackOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engelbrain",
			Name:      "feedback_outcomes_total",
			Help:      "Feedback fetches by outcome (submitted, pending, graded, error).",
		}, []string{"outcome"})

		prometheus.MustRegister(requestsTotal, latencySeconds, errorsTotal, feedbackOutcomes)
	})
}

// APIRequests exposes the request counter.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// APILatency exposes the latency histogram.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// APIErrors exposes the counter for error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// FeedbackOutcomes counts feedback fetches by outcome.
func FeedbackOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return feedbackOutcomes
}
