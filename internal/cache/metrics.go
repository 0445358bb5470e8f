package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-local counters served on /metrics. The KV stats hash is the
// durable copy; these survive only as long as the process but cost no
// round trip.
var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Record reads served from the cache.",
	})
	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Record reads that fell through to the backend.",
	})
	promotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "cache",
		Name:      "promotions_total",
		Help:      "Warm entries rewritten at the hot TTL.",
	})
)
