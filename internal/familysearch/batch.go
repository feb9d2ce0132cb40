package familysearch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/arvore/internal/apperr"
	"github.com/starford/arvore/internal/models"
)

// SearchMany searches up to MaxIdentifiers identifiers. Batches run one
// after another; searches inside a batch run concurrently. A failed search
// maps to an empty result. Duplicate identifiers share one entry.
func (e *Engine) SearchMany(ctx context.Context, identifiers []string, opts Options) (map[string][]models.PersonNode, error) {
	if len(identifiers) == 0 || len(identifiers) > MaxIdentifiers {
		return nil, fmt.Errorf("familysearch: expected 1 to %d identifiers, got %d: %w",
			MaxIdentifiers, len(identifiers), apperr.ErrInvalidInput)
	}

	results := make(map[string][]models.PersonNode, len(identifiers))
	for start := 0; start < len(identifiers); start += e.batchSize {
		end := min(start+e.batchSize, len(identifiers))
		batch := identifiers[start:end]
		found := make([][]models.PersonNode, len(batch))

		var g errgroup.Group
		for i, id := range batch {
			g.Go(func() error {
				nodes, err := e.Search(ctx, id, opts)
				if err != nil {
					e.logger.Warn("familysearch: batch item failed",
						slog.String("cpf", id),
						slog.String("error", err.Error()))
					nodes = []models.PersonNode{}
				}
				found[i] = nodes
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, id := range batch {
			results[strings.TrimSpace(id)] = found[i]
		}
	}
	return results, nil
}
