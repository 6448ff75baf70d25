package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval Prometheus metrics.
var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "semcache",
			Name:      "decisions_total",
			Help:      "Total retrieval decisions",
		},
		[]string{"decision"}, // "hit" / "miss"
	)

	DecisionScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "semcache",
			Name:      "decision_score",
			Help:      "Best cosine similarity per query",
			Buckets:   prometheus.LinearBuckets(-0.2, 0.1, 13),
		},
	)
)

var retrievalMetricsRegistered bool

// RegisterRetrievalMetrics registers Prometheus retrieval metrics. Must be called once from main.
func RegisterRetrievalMetrics() {
	if retrievalMetricsRegistered {
		return
	}
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(DecisionScore)
	retrievalMetricsRegistered = true
}
