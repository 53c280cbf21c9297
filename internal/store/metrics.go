package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opvc",
		Subsystem: "store",
		Name:      "cache_hits_total",
		Help:      "Object reads served from the store cache.",
	}, []string{"kind"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opvc",
		Subsystem: "store",
		Name:      "cache_misses_total",
		Help:      "Object reads that fell through to the backend.",
	}, []string{"kind"})

	objectsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opvc",
		Subsystem: "store",
		Name:      "objects_written_total",
		Help:      "Objects written through the store.",
	}, []string{"kind"})
)
