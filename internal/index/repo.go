package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/starford/arvore/internal/models"
)

const personColumns = `id, name, cpf_hash, email, birth_date, gender, marital_status, external_data, created_at, updated_at`

// SaveGraph upserts people and relationships within one transaction.
// People are keyed by identifier hash, relationships by
// (person, related person, type). A person keeps a single father and a
// single mother row.
func (db *DB) SaveGraph(ctx context.Context, people []models.Person, rels []models.Relationship) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	now := time.Now().UTC()

	personStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO peoples (id, name, cpf_hash, email, birth_date, gender, marital_status, external_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cpf_hash) DO UPDATE SET
			name           = excluded.name,
			email          = excluded.email,
			birth_date     = excluded.birth_date,
			gender         = excluded.gender,
			marital_status = excluded.marital_status,
			external_data  = excluded.external_data,
			updated_at     = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("index: prepare person upsert: %w", err)
	}
	defer personStmt.Close()

	for _, p := range people {
		extra, err := json.Marshal(p.ExternalData)
		if err != nil {
			return fmt.Errorf("index: encode external data for %s: %w", p.ID, err)
		}
		if p.ExternalData == nil {
			extra = []byte("{}")
		}
		if _, err := personStmt.ExecContext(ctx, p.ID, p.Name, p.IdentifierHash, p.Email, p.BirthDate,
			string(p.Gender), p.MaritalStatus, string(extra), now, now); err != nil {
			return fmt.Errorf("index: upsert person %s: %w", p.ID, err)
		}
		// FTS upsert (no-op when the FTS5 tag is absent).
		if err := ftsUpsert(ctx, tx, p.ID, p.Name); err != nil {
			return err
		}
	}

	relStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO relationships (person_id, related_person_id, relationship_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(person_id, related_person_id, relationship_type) DO UPDATE SET
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("index: prepare relationship upsert: %w", err)
	}
	defer relStmt.Close()

	for _, r := range rels {
		if !r.Type.Valid() {
			return fmt.Errorf("index: invalid relationship type %q", r.Type)
		}
		if r.Type == models.RelFather || r.Type == models.RelMother {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM relationships
				WHERE person_id = ? AND relationship_type = ? AND related_person_id <> ?
			`, r.PersonID, string(r.Type), r.RelatedPersonID); err != nil {
				return fmt.Errorf("index: replace %s of %s: %w", r.Type, r.PersonID, err)
			}
		}
		if _, err := relStmt.ExecContext(ctx, r.PersonID, r.RelatedPersonID, string(r.Type), now, now); err != nil {
			return fmt.Errorf("index: upsert relationship %s -> %s: %w", r.PersonID, r.RelatedPersonID, err)
		}
	}

	return tx.Commit()
}

// LoadGraph returns stored people and relationships. With a personID it
// returns that person, the people its relationships point at, and the
// relationships among them. An unknown personID yields no rows.
func (db *DB) LoadGraph(ctx context.Context, personID string) ([]models.Person, []models.Relationship, error) {
	if personID == "" {
		people, err := db.queryPeople(ctx, `SELECT `+personColumns+` FROM peoples ORDER BY name, id`)
		if err != nil {
			return nil, nil, err
		}
		rels, err := db.queryRelationships(ctx, `
			SELECT person_id, related_person_id, relationship_type, created_at, updated_at
			FROM relationships ORDER BY id`)
		if err != nil {
			return nil, nil, err
		}
		return people, rels, nil
	}

	own, err := db.queryRelationships(ctx, `
		SELECT person_id, related_person_id, relationship_type, created_at, updated_at
		FROM relationships WHERE person_id = ? ORDER BY id`, personID)
	if err != nil {
		return nil, nil, err
	}

	ids := []any{personID}
	for _, r := range own {
		ids = append(ids, r.RelatedPersonID)
	}
	people, err := db.queryPeople(ctx,
		`SELECT `+personColumns+` FROM peoples WHERE id IN (`+placeholders(len(ids))+`) ORDER BY name, id`, ids...)
	if err != nil {
		return nil, nil, err
	}

	var main bool
	loaded := make(map[string]struct{}, len(people))
	for _, p := range people {
		loaded[p.ID] = struct{}{}
		if p.ID == personID {
			main = true
		}
	}
	if !main {
		return nil, nil, nil
	}
	// Requested person first, then neighbours in name order.
	for i, p := range people {
		if p.ID == personID && i != 0 {
			people[0], people[i] = people[i], people[0]
			break
		}
	}

	neighbourIDs := make([]any, 0, len(people))
	for _, p := range people {
		if p.ID != personID {
			neighbourIDs = append(neighbourIDs, p.ID)
		}
	}
	rels := own
	if len(neighbourIDs) > 0 {
		theirs, err := db.queryRelationships(ctx, `
			SELECT person_id, related_person_id, relationship_type, created_at, updated_at
			FROM relationships WHERE person_id IN (`+placeholders(len(neighbourIDs))+`) ORDER BY id`, neighbourIDs...)
		if err != nil {
			return nil, nil, err
		}
		for _, r := range theirs {
			if _, ok := loaded[r.RelatedPersonID]; ok {
				rels = append(rels, r)
			}
		}
	}
	return people, rels, nil
}

// ListPeople returns stored people ordered by name, optionally filtered by a
// name search, plus the total number of matches.
func (db *DB) ListPeople(ctx context.Context, query string, limit, offset int) ([]models.Person, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if strings.TrimSpace(query) != "" {
		return db.searchPeople(ctx, strings.TrimSpace(query), limit, offset)
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM peoples`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count people: %w", err)
	}
	people, err := db.queryPeople(ctx,
		`SELECT `+personColumns+` FROM peoples ORDER BY name, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return people, total, nil
}

func (db *DB) queryPeople(ctx context.Context, query string, args ...any) ([]models.Person, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query people: %w", err)
	}
	defer rows.Close()

	out := []models.Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPerson(rows *sql.Rows) (models.Person, error) {
	var (
		p      models.Person
		gender string
		extra  string
	)
	if err := rows.Scan(&p.ID, &p.Name, &p.IdentifierHash, &p.Email, &p.BirthDate, &gender,
		&p.MaritalStatus, &extra, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, fmt.Errorf("index: scan person: %w", err)
	}
	p.Gender = models.Gender(gender)
	if extra != "" {
		if err := json.Unmarshal([]byte(extra), &p.ExternalData); err != nil {
			return p, fmt.Errorf("index: decode external data for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (db *DB) queryRelationships(ctx context.Context, query string, args ...any) ([]models.Relationship, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: query relationships: %w", err)
	}
	defer rows.Close()

	var out []models.Relationship
	for rows.Next() {
		var (
			r   models.Relationship
			typ string
		)
		if err := rows.Scan(&r.PersonID, &r.RelatedPersonID, &typ, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("index: scan relationship: %w", err)
		}
		r.Type = models.RelationshipType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
