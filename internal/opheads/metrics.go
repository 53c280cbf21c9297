package opheads

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var promotions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "opvc",
	Subsystem: "opheads",
	Name:      "promotions_total",
	Help:      "Operations promoted to a head.",
})
