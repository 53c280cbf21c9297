package repo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	concurrentMerges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "opvc",
		Subsystem: "repo",
		Name:      "concurrent_operation_merges_total",
		Help:      "Times several op heads were merged into one operation.",
	})

	gcRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "opvc",
		Subsystem: "repo",
		Name:      "gc_runs_total",
		Help:      "Completed garbage collections.",
	})
)
