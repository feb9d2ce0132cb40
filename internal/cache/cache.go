// Package cache stores finished family searches keyed by identifier and
// search options.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/arvore/internal/models"
)

// DefaultNamespace prefixes every family search key.
const DefaultNamespace = "family:search"

// ErrMiss is returned by a Backend for an absent or expired key.
var ErrMiss = errors.New("cache: miss")

// Backend is a string key/value store with TTL and prefix deletes.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Cache serializes node lists into a Backend. Read and write failures are
// logged and reported as a miss or ignored.
type Cache struct {
	backend   Backend
	namespace string
	logger    *slog.Logger
}

// New creates a Cache. An empty namespace uses DefaultNamespace.
func New(backend Backend, namespace string, logger *slog.Logger) *Cache {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Cache{backend: backend, namespace: strings.TrimSuffix(namespace, ":"), logger: logger}
}

// Key builds the entry key for a normalized identifier and search options:
// <namespace>:<identifier>:<maxDepth>_<1|0>.
func (c *Cache) Key(identifier string, maxDepth int, includeSpouses bool) string {
	spouses := 0
	if includeSpouses {
		spouses = 1
	}
	return fmt.Sprintf("%s:%s:%d_%d", c.namespace, identifier, maxDepth, spouses)
}

// IdentifierPrefix matches every entry of one identifier.
func (c *Cache) IdentifierPrefix(identifier string) string {
	return c.namespace + ":" + identifier + ":"
}

// Prefix matches every family search entry.
func (c *Cache) Prefix() string {
	return c.namespace + ":"
}

// Get returns the cached nodes for key.
func (c *Cache) Get(ctx context.Context, key string) ([]models.PersonNode, bool) {
	data, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		opsTotal.WithLabelValues("get", "miss").Inc()
		return nil, false
	}
	if err != nil {
		opsTotal.WithLabelValues("get", "error").Inc()
		c.logger.Warn("cache: read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	var nodes []models.PersonNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		opsTotal.WithLabelValues("get", "error").Inc()
		c.logger.Warn("cache: decode failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	opsTotal.WithLabelValues("get", "hit").Inc()
	return nodes, true
}

// Set stores nodes under key. A non-positive ttl skips the write.
func (c *Cache) Set(ctx context.Context, key string, nodes []models.PersonNode, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if nodes == nil {
		nodes = []models.PersonNode{}
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		opsTotal.WithLabelValues("set", "error").Inc()
		c.logger.Warn("cache: encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		opsTotal.WithLabelValues("set", "error").Inc()
		c.logger.Warn("cache: write failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	opsTotal.WithLabelValues("set", "ok").Inc()
}

// Invalidate deletes every entry whose key starts with prefix.
func (c *Cache) Invalidate(ctx context.Context, prefix string) (int, error) {
	n, err := c.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		opsTotal.WithLabelValues("invalidate", "error").Inc()
		c.logger.Warn("cache: invalidate failed", slog.String("prefix", prefix), slog.String("error", err.Error()))
		return 0, err
	}
	opsTotal.WithLabelValues("invalidate", "ok").Inc()
	c.logger.Debug("cache: invalidated", slog.String("prefix", prefix), slog.Int("removed", n))
	return n, nil
}
