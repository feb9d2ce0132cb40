//go:build !sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/arvore/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; name search uses LIKE on peoples.name.
	return nil
}

func ftsUpsert(_ context.Context, _ *sql.Tx, _, _ string) error {
	return nil
}

// searchPeople performs a LIKE-based name search (fallback when FTS5 is not compiled in).
func (db *DB) searchPeople(ctx context.Context, query string, limit, offset int) ([]models.Person, int, error) {
	like := "%" + query + "%"
	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM peoples WHERE name LIKE ?`, like).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: search count: %w", err)
	}
	people, err := db.queryPeople(ctx, `
		SELECT `+personColumns+`
		FROM peoples
		WHERE name LIKE ?
		ORDER BY name, id
		LIMIT ? OFFSET ?
	`, like, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return people, total, nil
}
