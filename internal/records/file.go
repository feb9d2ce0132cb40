package records

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/starford/arvore/internal/storage"
)

// FileSource answers lookups from a directory of record fixtures, one
// <cpf>.json or <cpf>.yaml file per person in the upstream wire format.
// Children lookups are served from name indexes rebuilt on every change.
type FileSource struct {
	store  storage.Provider
	logger *slog.Logger

	mu        sync.RWMutex
	people    map[string]*Person // by normalized identifier
	paths     map[string]string  // file path -> identifier
	checksums map[string]string  // file path -> content checksum
	byMother  map[string][]Child // folded mother name -> children
	byFather  map[string][]Child // folded father name -> children
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a FileSource. Call Sync before serving lookups.
func NewFileSource(store storage.Provider, logger *slog.Logger) *FileSource {
	return &FileSource{
		store:     store,
		logger:    logger,
		people:    make(map[string]*Person),
		paths:     make(map[string]string),
		checksums: make(map[string]string),
		byMother:  make(map[string][]Child),
		byFather:  make(map[string][]Child),
	}
}

// LookupByIdentifier returns the fixture for id, or nil when absent.
func (s *FileSource) LookupByIdentifier(_ context.Context, id string) (*Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.people[NormalizeIdentifier(id)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// LookupChildren returns every fixture whose mother or father name matches.
func (s *FileSource) LookupChildren(_ context.Context, parentName string, role ParentRole) ([]Child, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byMother
	if role == RoleFather {
		idx = s.byFather
	}
	found := idx[FoldName(parentName)]
	out := make([]Child, len(found))
	copy(out, found)
	return out, nil
}

// Len returns the number of loaded records.
func (s *FileSource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.people)
}

// Sync walks the fixture directory and brings the in-memory records up to
// date. It returns the identifiers whose records were added, changed or removed.
func (s *FileSource) Sync() ([]string, error) {
	files, err := s.store.List("")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		disk[f.Path] = struct{}{}
		if s.checksums[f.Path] == f.Checksum {
			continue
		}
		id, err := s.loadLocked(f.Path)
		if err != nil {
			s.logger.Warn("records: load fixture failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		s.checksums[f.Path] = f.Checksum
		if id != "" {
			changed = append(changed, id)
		}
	}

	for p := range s.paths {
		if _, ok := disk[p]; !ok {
			if id := s.removeLocked(p); id != "" {
				changed = append(changed, id)
			}
		}
	}

	s.reindexLocked()
	return changed, nil
}

// Reload re-reads a single fixture file and returns its identifier.
func (s *FileSource) Reload(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.loadLocked(path)
	if err != nil {
		return "", err
	}
	delete(s.checksums, path)
	s.reindexLocked()
	return id, nil
}

// Remove forgets the record loaded from path and returns its identifier.
func (s *FileSource) Remove(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.removeLocked(path)
	s.reindexLocked()
	return id
}

func (s *FileSource) loadLocked(path string) (string, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return "", err
	}
	p, err := DecodePerson(data, formatOf(path))
	if err != nil {
		return "", err
	}
	if p == nil {
		return s.removeLocked(path), nil
	}
	id := NormalizeIdentifier(string(p.CPF))
	if prev, ok := s.paths[path]; ok && prev != id {
		delete(s.people, prev)
	}
	s.people[id] = p
	s.paths[path] = id
	return id, nil
}

func (s *FileSource) removeLocked(path string) string {
	id, ok := s.paths[path]
	if !ok {
		return identifierFromPath(path)
	}
	delete(s.paths, path)
	delete(s.checksums, path)
	delete(s.people, id)
	return id
}

func (s *FileSource) reindexLocked() {
	s.byMother = make(map[string][]Child)
	s.byFather = make(map[string][]Child)
	for _, p := range s.people {
		child := Child{
			Name:      p.Name,
			CPF:       p.CPF,
			BirthDate: p.BirthDate,
			Sex:       p.Sex,
			Mother:    p.MotherName,
		}
		if p.FatherName != "" {
			father := p.FatherName
			child.Father = &father
		}
		if key := FoldName(p.MotherName); key != "" {
			s.byMother[key] = append(s.byMother[key], child)
		}
		if key := FoldName(p.FatherName); key != "" {
			s.byFather[key] = append(s.byFather[key], child)
		}
	}
	for _, idx := range []map[string][]Child{s.byMother, s.byFather} {
		for _, list := range idx {
			slices.SortFunc(list, func(a, b Child) int {
				return strings.Compare(string(a.CPF), string(b.CPF))
			})
		}
	}
}
