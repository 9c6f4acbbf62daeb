package metrics

import "github.com/prometheus/client_golang/prometheus"

func newEmbedCacheCounter(service string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "embedding",
			Name:        "cache_total",
			Help:        "Embedding cache lookups by result (hit, miss).",
			ConstLabels: prometheus.Labels{"service": service},
		},
		[]string{"result"},
	)
}
