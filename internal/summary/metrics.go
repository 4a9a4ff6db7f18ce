package summary

import "github.com/prometheus/client_golang/prometheus"

var (
	// requestsTotal counts summaries by where the text came from.
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_requests_total",
			Help: "Call summaries produced, by source (model, fallback, empty).",
		},
		[]string{"source"},
	)

	// modelLatency records wall time of each model call, including calls
	// that were abandoned after the attempt timeout.
	modelLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "summary_model_latency_seconds",
			Help:    "Latency of summarization model calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	abandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_model_abandoned_total",
			Help: "Model attempts abandoned after exceeding the attempt timeout.",
		},
	)

	itemsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "summary_items_dropped_total",
			Help: "Extracted request items rejected by validation.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, modelLatency, abandonedTotal, itemsDropped)
}
