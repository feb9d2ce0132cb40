// Package graphstore keeps imported family graphs in Neo4j as an
// alternative to the SQLite index.
package graphstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/starford/arvore/internal/index"
	"github.com/starford/arvore/internal/models"
)

// Config holds Neo4j connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store persists people as (:Person) nodes linked by [:RELATED {type}]
// relationships. Relationship targets that were never imported exist as
// stub nodes without a cpf_hash and are hidden from reads.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

var _ index.PeopleIndex = (*Store)(nil)

// Open connects to Neo4j and ensures the id constraint exists.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("graphstore: uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphstore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graphstore: verify connectivity: %w", err)
	}

	s := &Store{driver: driver, database: cfg.Database, logger: logger}
	if err := s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, `CREATE CONSTRAINT person_id IF NOT EXISTS FOR (p:Person) REQUIRE p.id IS UNIQUE`, nil)
		return err
	}); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graphstore: ensure constraint: %w", err)
	}
	logger.Info("graphstore: connected", slog.String("uri", cfg.URI), slog.String("database", cfg.Database))
	return s, nil
}

// SaveGraph merges people and relationships in one write transaction.
func (s *Store) SaveGraph(ctx context.Context, people []models.Person, rels []models.Relationship) error {
	now := time.Now().UTC()

	peopleRows := make([]map[string]any, 0, len(people))
	for _, p := range people {
		extra, err := json.Marshal(p.ExternalData)
		if err != nil {
			return fmt.Errorf("graphstore: encode external data for %s: %w", p.ID, err)
		}
		peopleRows = append(peopleRows, map[string]any{
			"id":             p.ID,
			"name":           p.Name,
			"cpf_hash":       p.IdentifierHash,
			"email":          p.Email,
			"birth_date":     p.BirthDate,
			"gender":         string(p.Gender),
			"marital_status": p.MaritalStatus,
			"external_data":  string(extra),
		})
	}
	relRows := make([]map[string]any, 0, len(rels))
	for _, r := range rels {
		if !r.Type.Valid() {
			return fmt.Errorf("graphstore: invalid relationship type %q", r.Type)
		}
		relRows = append(relRows, map[string]any{
			"source": r.PersonID,
			"target": r.RelatedPersonID,
			"type":   string(r.Type),
		})
	}

	return s.write(ctx, func(tx neo4j.ManagedTransaction) error {
		if _, err := tx.Run(ctx, `
			UNWIND $people AS row
			MERGE (p:Person {id: row.id})
			ON CREATE SET p.created_at = $now
			SET p.name = row.name,
			    p.cpf_hash = row.cpf_hash,
			    p.email = row.email,
			    p.birth_date = row.birth_date,
			    p.gender = row.gender,
			    p.marital_status = row.marital_status,
			    p.external_data = row.external_data,
			    p.updated_at = $now
		`, map[string]any{"people": peopleRows, "now": now}); err != nil {
			return fmt.Errorf("graphstore: merge people: %w", err)
		}
		if len(relRows) == 0 {
			return nil
		}
		if _, err := tx.Run(ctx, `
			UNWIND $rels AS row
			MATCH (a:Person {id: row.source})
			MERGE (b:Person {id: row.target})
			WITH a, b, row
			OPTIONAL MATCH (a)-[old:RELATED {type: row.type}]->(other:Person)
			WHERE row.type IN ['father', 'mother'] AND other.id <> row.target
			DELETE old
			WITH DISTINCT a, b, row
			MERGE (a)-[r:RELATED {type: row.type}]->(b)
			ON CREATE SET r.created_at = $now
			SET r.updated_at = $now
		`, map[string]any{"rels": relRows, "now": now}); err != nil {
			return fmt.Errorf("graphstore: merge relationships: %w", err)
		}
		return nil
	})
}

// LoadGraph mirrors index.DB.LoadGraph: everything for an empty personID,
// otherwise the person, its imported neighbours and the links among them.
func (s *Store) LoadGraph(ctx context.Context, personID string) ([]models.Person, []models.Relationship, error) {
	var (
		people []models.Person
		rels   []models.Relationship
	)
	err := s.read(ctx, func(tx neo4j.ManagedTransaction) error {
		var err error
		if personID == "" {
			people, err = collectPeople(ctx, tx, `
				MATCH (p:Person) WHERE p.cpf_hash IS NOT NULL
				RETURN p ORDER BY p.name, p.id`, nil)
			if err != nil {
				return err
			}
			rels, err = collectRelationships(ctx, tx, `
				MATCH (a:Person)-[r:RELATED]->(b:Person) WHERE a.cpf_hash IS NOT NULL
				RETURN a.id AS source, b.id AS target, r.type AS type, r.created_at AS created_at, r.updated_at AS updated_at`, nil)
			return err
		}

		main, err := collectPeople(ctx, tx, `
			MATCH (p:Person {id: $id}) WHERE p.cpf_hash IS NOT NULL RETURN p`, map[string]any{"id": personID})
		if err != nil || len(main) == 0 {
			return err
		}
		neighbours, err := collectPeople(ctx, tx, `
			MATCH (:Person {id: $id})-[:RELATED]->(p:Person) WHERE p.cpf_hash IS NOT NULL
			RETURN DISTINCT p ORDER BY p.name, p.id`, map[string]any{"id": personID})
		if err != nil {
			return err
		}
		people = append(main, neighbours...)

		ids := make([]string, 0, len(people))
		for _, p := range people {
			ids = append(ids, p.ID)
		}
		rels, err = collectRelationships(ctx, tx, `
			MATCH (a:Person)-[r:RELATED]->(b:Person)
			WHERE a.id = $id OR (a.id IN $ids AND b.id IN $ids)
			RETURN a.id AS source, b.id AS target, r.type AS type, r.created_at AS created_at, r.updated_at AS updated_at`,
			map[string]any{"id": personID, "ids": ids})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return people, rels, nil
}

// ListPeople lists imported people, filtered by a case-insensitive name
// substring when query is set.
func (s *Store) ListPeople(ctx context.Context, query string, limit, offset int) ([]models.Person, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	params := map[string]any{"q": query, "skip": offset, "limit": limit}
	const filter = `MATCH (p:Person) WHERE p.cpf_hash IS NOT NULL AND ($q = '' OR toLower(p.name) CONTAINS toLower($q))`

	var (
		people []models.Person
		total  int
	)
	err := s.read(ctx, func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx, filter+` RETURN count(p) AS total`, params)
		if err != nil {
			return err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return err
		}
		n, _, err := neo4j.GetRecordValue[int64](rec, "total")
		if err != nil {
			return err
		}
		total = int(n)
		people, err = collectPeople(ctx, tx, filter+` RETURN p ORDER BY p.name, p.id SKIP $skip LIMIT $limit`, params)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("graphstore: list people: %w", err)
	}
	return people, total, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the driver.
func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Store) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}

func (s *Store) read(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: s.database})
	defer session.Close(ctx)
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}

func collectPeople(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]models.Person, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("graphstore: query people: %w", err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("graphstore: collect people: %w", err)
	}
	out := make([]models.Person, 0, len(records))
	for _, rec := range records {
		node, _, err := neo4j.GetRecordValue[neo4j.Node](rec, "p")
		if err != nil {
			return nil, fmt.Errorf("graphstore: read person node: %w", err)
		}
		p, err := personFromProps(node.Props)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func personFromProps(props map[string]any) (models.Person, error) {
	p := models.Person{
		ID:             stringProp(props, "id"),
		Name:           stringProp(props, "name"),
		IdentifierHash: stringProp(props, "cpf_hash"),
		Email:          stringProp(props, "email"),
		BirthDate:      stringProp(props, "birth_date"),
		Gender:         models.Gender(stringProp(props, "gender")),
		MaritalStatus:  stringProp(props, "marital_status"),
		CreatedAt:      timeProp(props, "created_at"),
		UpdatedAt:      timeProp(props, "updated_at"),
	}
	if raw := stringProp(props, "external_data"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &p.ExternalData); err != nil {
			return p, fmt.Errorf("graphstore: decode external data for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func collectRelationships(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]models.Relationship, error) {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("graphstore: query relationships: %w", err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("graphstore: collect relationships: %w", err)
	}
	out := make([]models.Relationship, 0, len(records))
	for _, rec := range records {
		m := rec.AsMap()
		out = append(out, models.Relationship{
			PersonID:        stringProp(m, "source"),
			RelatedPersonID: stringProp(m, "target"),
			Type:            models.RelationshipType(stringProp(m, "type")),
			CreatedAt:       timeProp(m, "created_at"),
			UpdatedAt:       timeProp(m, "updated_at"),
		})
	}
	return out, nil
}

func stringProp(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func timeProp(m map[string]any, key string) time.Time {
	t, _ := m[key].(time.Time)
	return t
}
