package records

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// lookupsTotal counts record lookups. Labels: kind (person, children),
// outcome (found, miss, error).
var lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "arvore",
	Name:      "record_lookups_total",
	Help:      "External record lookups by outcome",
}, []string{"kind", "outcome"})

// Instrumented counts every lookup made through the wrapped Source.
type Instrumented struct {
	next Source
}

var _ Source = Instrumented{}

// WithMetrics wraps src so its lookups are counted.
func WithMetrics(src Source) Instrumented {
	return Instrumented{next: src}
}

func (s Instrumented) LookupByIdentifier(ctx context.Context, id string) (*Person, error) {
	p, err := s.next.LookupByIdentifier(ctx, id)
	lookupsTotal.WithLabelValues("person", outcome(err, p != nil)).Inc()
	return p, err
}

func (s Instrumented) LookupChildren(ctx context.Context, parentName string, role ParentRole) ([]Child, error) {
	kids, err := s.next.LookupChildren(ctx, parentName, role)
	lookupsTotal.WithLabelValues("children", outcome(err, len(kids) > 0)).Inc()
	return kids, err
}

func outcome(err error, found bool) string {
	switch {
	case err != nil:
		return "error"
	case found:
		return "found"
	}
	return "miss"
}
