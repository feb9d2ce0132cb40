//go:build sqlite_fts5

package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/arvore/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS peoples_fts USING fts5(
			id UNINDEXED,
			name,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(ctx context.Context, tx *sql.Tx, id, name string) error {
	_, _ = tx.ExecContext(ctx, `DELETE FROM peoples_fts WHERE id = ?`, id)
	_, err := tx.ExecContext(ctx, `INSERT INTO peoples_fts (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

// searchPeople performs an FTS5 name search ranked by relevance.
func (db *DB) searchPeople(ctx context.Context, query string, limit, offset int) ([]models.Person, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM peoples_fts WHERE peoples_fts MATCH ?`, query).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: search count: %w", err)
	}
	people, err := db.queryPeople(ctx, `
		SELECT p.id, p.name, p.cpf_hash, p.email, p.birth_date, p.gender, p.marital_status,
		       p.external_data, p.created_at, p.updated_at
		FROM peoples_fts f
		JOIN peoples p ON p.id = f.id
		WHERE peoples_fts MATCH ?
		ORDER BY rank
		LIMIT ? OFFSET ?
	`, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: search: %w", err)
	}
	return people, total, nil
}
