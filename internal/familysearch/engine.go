// Package familysearch builds a person's family graph by walking relatives
// and children through the record source up to a bounded depth.
package familysearch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/arvore/internal/apperr"
	"github.com/starford/arvore/internal/cache"
	"github.com/starford/arvore/internal/identity"
	"github.com/starford/arvore/internal/models"
	"github.com/starford/arvore/internal/records"
)

// Converter turns one identifier into nodes using the caller's mapper.
type Converter interface {
	Convert(ctx context.Context, ids *identity.Mapper, identifier string) ([]models.PersonNode, error)
}

// Engine runs family searches.
type Engine struct {
	source    records.Source
	converter Converter
	cache     *cache.Cache
	logger    *slog.Logger
	newMapper func() *identity.Mapper
	batchSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables result caching.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithMapperFactory replaces the per-search identity mapper constructor.
func WithMapperFactory(fn func() *identity.Mapper) Option {
	return func(e *Engine) {
		e.newMapper = fn
	}
}

// WithBatchSize sets how many searches SearchMany runs concurrently.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// New creates an Engine.
func New(source records.Source, converter Converter, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		converter: converter,
		logger:    logger,
		newMapper: func() *identity.Mapper { return identity.NewMapper() },
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns the family graph around identifier. Lookup failures only
// shorten the affected branch; the error return is reserved for invalid
// input and cancellation.
func (e *Engine) Search(ctx context.Context, identifier string, opts Options) ([]models.PersonNode, error) {
	id := records.NormalizeIdentifier(identifier)
	if id == "" {
		return nil, fmt.Errorf("familysearch: identifier %q has no digits: %w", identifier, apperr.ErrInvalidInput)
	}
	opts = opts.normalize()

	var key string
	if e.cache != nil {
		key = e.cache.Key(id, opts.MaxDepth, opts.IncludeSpouses)
		if nodes, ok := e.cache.Get(ctx, key); ok {
			searchesTotal.WithLabelValues("hit").Inc()
			return nodes, nil
		}
	}

	start := time.Now()
	t := &traversal{
		engine:  e,
		opts:    opts,
		ids:     e.newMapper(),
		visited: make(map[string]struct{}),
		seen:    make(map[string]struct{}),
		out:     []models.PersonNode{},
	}
	if err := t.run(ctx, id); err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	searchesTotal.WithLabelValues("miss").Inc()
	searchDuration.Observe(time.Since(start).Seconds())
	searchNodes.Observe(float64(len(t.out)))
	e.logger.Debug("familysearch: search done",
		slog.String("cpf", id),
		slog.Int("nodes", len(t.out)),
		slog.Int("visited", len(t.visited)),
		slog.Int("identifiers", t.ids.Len()),
		slog.Duration("elapsed", time.Since(start)))

	if e.cache != nil {
		e.cache.Set(ctx, key, t.out, opts.CacheTTL)
	}
	return t.out, nil
}

// ClearCache drops every cached search of identifier.
func (e *Engine) ClearCache(ctx context.Context, identifier string) (int, error) {
	id := records.NormalizeIdentifier(identifier)
	if id == "" {
		return 0, fmt.Errorf("familysearch: identifier %q has no digits: %w", identifier, apperr.ErrInvalidInput)
	}
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.Invalidate(ctx, e.cache.IdentifierPrefix(id))
}

// ClearAllCache drops every cached search.
func (e *Engine) ClearAllCache(ctx context.Context) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.Invalidate(ctx, e.cache.Prefix())
}
