// Package identity assigns stable node ids to external identifiers.
package identity

import "github.com/google/uuid"

// Mapper memoizes identifier -> node id for one conversion pass. The caller
// owns it and drops it when the pass ends; it is not safe for concurrent use.
type Mapper struct {
	ids   map[string]string
	newID func() string
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithGenerator replaces the UUID generator, mainly for deterministic tests.
func WithGenerator(gen func() string) Option {
	return func(m *Mapper) {
		m.newID = gen
	}
}

// NewMapper returns an empty Mapper.
func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{
		ids:   make(map[string]string),
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the node id for key, assigning one on first sight.
func (m *Mapper) ID(key string) string {
	if id, ok := m.ids[key]; ok {
		return id
	}
	id := m.newID()
	m.ids[key] = id
	return id
}

// Lookup returns the id already assigned to key, if any.
func (m *Mapper) Lookup(key string) (string, bool) {
	id, ok := m.ids[key]
	return id, ok
}

// Len returns the number of identifiers seen.
func (m *Mapper) Len() int {
	return len(m.ids)
}
