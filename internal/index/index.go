package index

import (
	"context"

	"github.com/starford/arvore/internal/chart"
	"github.com/starford/arvore/internal/models"
)

// PeopleIndex is the stored family graph as seen by the service layer.
// Consumers should depend on this interface rather than *DB.
type PeopleIndex interface {
	chart.Store
	ListPeople(ctx context.Context, query string, limit, offset int) ([]models.Person, int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Verify *DB satisfies PeopleIndex at compile time.
var _ PeopleIndex = (*DB)(nil)
