package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// opsTotal counts cache operations. Labels: op (get, set, invalidate),
// outcome (hit, miss, ok, error).
var opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arvore",
	Name:      "cache_operations_total",
	Help:      "Search cache operations by outcome",
}, []string{"op", "outcome"})
