// Package familyservice is the application layer shared by the REST API,
// the MCP server and the fixture watcher.
package familyservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/arvore/internal/apperr"
	"github.com/starford/arvore/internal/familysearch"
	"github.com/starford/arvore/internal/models"
	"github.com/starford/arvore/internal/records"
	"github.com/starford/arvore/internal/sse"
)

// Searcher runs family searches and owns their cache.
type Searcher interface {
	Search(ctx context.Context, identifier string, opts familysearch.Options) ([]models.PersonNode, error)
	SearchMany(ctx context.Context, identifiers []string, opts familysearch.Options) (map[string][]models.PersonNode, error)
	ClearCache(ctx context.Context, identifier string) (int, error)
	ClearAllCache(ctx context.Context) (int, error)
}

// Graph loads and persists node graphs.
type Graph interface {
	LoadStored(ctx context.Context, personID string) ([]models.PersonNode, error)
	Persist(ctx context.Context, nodes []models.PersonNode) error
}

// PeopleLister lists stored people.
type PeopleLister interface {
	ListPeople(ctx context.Context, query string, limit, offset int) ([]models.Person, int, error)
}

// Publisher receives change notifications.
type Publisher interface {
	PublishChange(kind string, data any)
}

// ImportResult is returned by Import.
type ImportResult struct {
	Imported   int                `json:"imported"`
	MainPerson *models.PersonNode `json:"mainPerson"`
}

// PersonListItem is a stored person in a list response.
type PersonListItem struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	BirthDate string        `json:"birth_date,omitempty"`
	Gender    models.Gender `json:"gender,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Service coordinates searches, the stored graph and change events.
type Service struct {
	search Searcher
	graph  Graph
	people PeopleLister
	events Publisher
	logger *slog.Logger

	defaults familysearch.Options
}

// Option configures a Service.
type Option func(*Service)

// WithSearchDefaults sets the options callers start from when a request
// leaves a search parameter unset.
func WithSearchDefaults(opts familysearch.Options) Option {
	return func(s *Service) {
		s.defaults = opts
	}
}

// NewService creates a Service. events may be nil.
func NewService(search Searcher, graph Graph, people PeopleLister, events Publisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		search:   search,
		graph:    graph,
		people:   people,
		events:   events,
		logger:   logger,
		defaults: familysearch.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defaults returns the search options used for unset request parameters.
func (s *Service) Defaults() familysearch.Options {
	return s.defaults
}

// Search returns the family graph of one identifier.
func (s *Service) Search(ctx context.Context, cpf string, opts familysearch.Options) ([]models.PersonNode, error) {
	return s.search.Search(ctx, cpf, opts)
}

// SearchMany returns the family graphs of several identifiers.
func (s *Service) SearchMany(ctx context.Context, cpfs []string, opts familysearch.Options) (map[string][]models.PersonNode, error) {
	return s.search.SearchMany(ctx, cpfs, opts)
}

// Tree returns the stored graph around personID.
func (s *Service) Tree(ctx context.Context, personID string) ([]models.PersonNode, error) {
	nodes, err := s.graph.LoadStored(ctx, personID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("familyservice: person %s: %w", personID, apperr.ErrNotFound)
	}
	return nodes, nil
}

// Import searches cpf and persists the resulting graph.
func (s *Service) Import(ctx context.Context, cpf string, opts familysearch.Options) (*ImportResult, error) {
	nodes, err := s.search.Search(ctx, cpf, opts)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("familyservice: no family data for %s: %w", cpf, apperr.ErrNotFound)
	}
	if err := s.graph.Persist(ctx, nodes); err != nil {
		return nil, err
	}

	res := &ImportResult{Imported: len(nodes)}
	for i := range nodes {
		if nodes[i].IsMain {
			res.MainPerson = &nodes[i]
			break
		}
	}
	s.logger.Info("familyservice: imported", slog.String("cpf", records.NormalizeIdentifier(cpf)), slog.Int("nodes", len(nodes)))
	s.publish(sse.EventFamilyImported, map[string]any{
		"cpf":      records.NormalizeIdentifier(cpf),
		"imported": res.Imported,
	})
	return res, nil
}

// ClearCache drops cached searches of cpf.
func (s *Service) ClearCache(ctx context.Context, cpf string) (int, error) {
	n, err := s.search.ClearCache(ctx, cpf)
	if err != nil {
		return 0, err
	}
	s.publish(sse.EventCacheCleared, map[string]any{"cpf": records.NormalizeIdentifier(cpf), "removed": n})
	return n, nil
}

// ClearAllCache drops every cached search.
func (s *Service) ClearAllCache(ctx context.Context) (int, error) {
	n, err := s.search.ClearAllCache(ctx)
	if err != nil {
		return 0, err
	}
	s.publish(sse.EventCacheCleared, map[string]any{"removed": n})
	return n, nil
}

// ListPeople returns a page of stored people.
func (s *Service) ListPeople(ctx context.Context, query string, limit, offset int) ([]PersonListItem, int, error) {
	rows, total, err := s.people.ListPeople(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]PersonListItem, len(rows))
	for i, p := range rows {
		items[i] = PersonListItem{
			ID:        p.ID,
			Name:      p.Name,
			BirthDate: p.BirthDate,
			Gender:    p.Gender,
			UpdatedAt: p.UpdatedAt,
		}
	}
	return items, total, nil
}

// RecordChanged reacts to a fixture change: every cached search is dropped
// and a record event is published. kind is created, updated or deleted.
func (s *Service) RecordChanged(ctx context.Context, kind, cpf string) {
	if _, err := s.search.ClearAllCache(ctx); err != nil {
		s.logger.Warn("familyservice: cache invalidation failed", slog.String("cpf", cpf), slog.String("error", err.Error()))
	}
	event := sse.EventRecordUpdated
	switch kind {
	case "created":
		event = sse.EventRecordCreated
	case "deleted":
		event = sse.EventRecordDeleted
	}
	s.publish(event, map[string]any{"cpf": cpf})
}

func (s *Service) publish(kind string, data any) {
	if s.events != nil {
		s.events.PublishChange(kind, data)
	}
}
