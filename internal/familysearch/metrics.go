package familysearch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// searchesTotal counts searches. Labels: outcome (hit, miss, error).
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arvore",
		Subsystem: "family",
		Name:      "searches_total",
		Help:      "Family searches by cache outcome",
	}, []string{"outcome"})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arvore",
		Subsystem: "family",
		Name:      "search_duration_seconds",
		Help:      "Wall time of uncached family searches",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	searchNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "arvore",
		Subsystem: "family",
		Name:      "search_nodes",
		Help:      "Nodes returned per family search",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
	})
)
