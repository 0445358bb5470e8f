package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "search_duration_seconds",
		Help:      "End-to-end search latency, cache hits included.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "searches_total",
		Help:      "Searches by how the result was produced.",
	}, []string{"result"})
	addsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "adds_total",
		Help:      "Add requests by outcome.",
	}, []string{"status"})
	deletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "deletes_total",
		Help:      "Memories deleted through the engine.",
	})
	enrichOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "enrichment_total",
		Help:      "Enrichment tasks by outcome.",
	}, []string{"outcome"})
	enrichQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "recalld",
		Subsystem: "engine",
		Name:      "enrichment_queue_depth",
		Help:      "Enrichment tasks waiting for a worker.",
	})
)
