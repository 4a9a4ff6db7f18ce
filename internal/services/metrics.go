package services

import "github.com/prometheus/client_golang/prometheus"

var (
	mirrorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "materializer_mirror_failures_total",
		Help: "Mirror writes that failed and were left for reconciliation.",
	})
	mirrorRepairs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_mirror_repairs_total",
		Help: "Mirror rows re-written by the reconciler.",
	})
	staleCalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconciler_stale_calls_failed_total",
		Help: "In-progress calls failed because their end event never arrived.",
	})
	callsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_calls_ended_total",
		Help: "End-of-call events processed, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(mirrorFailures, mirrorRepairs, staleCalls, callsEnded)
}
