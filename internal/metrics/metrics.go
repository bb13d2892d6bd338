package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "policy_search"

// Flow, retrieval and indexing metrics.
var (
	FlowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Total number of flow invocations",
		},
		[]string{"flow", "status"},
	)

	FlowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Flow execution duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"flow"},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Vector store search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"collection", "status"},
	)

	DocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Total number of documents written to a collection",
		},
		[]string{"collection"},
	)

	CacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_total",
			Help:      "Flow response cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)
)

func init() {
	prometheus.MustRegister(FlowRunsTotal)
	prometheus.MustRegister(FlowDuration)
	prometheus.MustRegister(RetrievalDuration)
	prometheus.MustRegister(DocumentsIndexedTotal)
	prometheus.MustRegister(CacheTotal)
}

// ObserveRetrieval records one vector search.
func ObserveRetrieval(collection string, d time.Duration, err error) {
	RetrievalDuration.WithLabelValues(collection, status(err)).Observe(d.Seconds())
}

// ObserveFlow records one flow run.
func ObserveFlow(flow string, d time.Duration, err error) {
	FlowRunsTotal.WithLabelValues(flow, status(err)).Inc()
	FlowDuration.WithLabelValues(flow).Observe(d.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
