// Package chart converts external person records and stored rows into the
// canonical family-chart node graph.
package chart

import (
	"context"
	"log/slog"

	"github.com/starford/arvore/internal/identity"
	"github.com/starford/arvore/internal/models"
	"github.com/starford/arvore/internal/records"
)

// Store persists and reloads person graphs.
type Store interface {
	// SaveGraph upserts people (keyed by identifier hash) and relationships
	// (keyed by person, related person and type) atomically.
	SaveGraph(ctx context.Context, people []models.Person, rels []models.Relationship) error
	// LoadGraph returns stored people and their relationships. An empty
	// personID loads everything.
	LoadGraph(ctx context.Context, personID string) ([]models.Person, []models.Relationship, error)
}

// Adapter is the graph normalizer.
type Adapter struct {
	source records.Source
	store  Store
	logger *slog.Logger
	avatar string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAvatar sets the avatar URL put on every converted node.
func WithAvatar(url string) Option {
	return func(a *Adapter) {
		a.avatar = url
	}
}

// New creates an Adapter. store may be nil when only Convert is used.
func New(source records.Source, store Store, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{source: source, store: store, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// fetchedRelative is a relative entry together with its full record.
type fetchedRelative struct {
	id     string
	kinds  []records.RelationKind
	record *records.Person
}

// Convert fetches identifier, every listed relative and the subject's
// children, and returns them as nodes. Node ids come from ids, which the
// caller owns for the whole pass. A missing subject yields no nodes.
func (a *Adapter) Convert(ctx context.Context, ids *identity.Mapper, identifier string) ([]models.PersonNode, error) {
	person, err := a.source.LookupByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, nil
	}

	subjectCPF := records.NormalizeIdentifier(string(person.CPF))
	relatives := a.fetchRelatives(ctx, person)

	main := a.node(ids.ID(subjectCPF), person.Name, person.BirthDate, person.Sex, subjectCPF)
	main.IsMain = true

	for _, rel := range person.Relatives {
		relCPF := records.NormalizeIdentifier(string(rel.CPF))
		if relCPF == "" {
			continue
		}
		relID := ids.ID(relCPF)
		switch rel.Kind() {
		case records.KindMother:
			main.Relations.Mother = relID
		case records.KindFather:
			main.Relations.Father = relID
		case records.KindSpouse:
			main.Relations.AddSpouse(relID)
		}
	}

	out := []models.PersonNode{main}
	processed := map[string]struct{}{subjectCPF: {}}

	motherKey := records.FoldName(person.MotherName)
	fatherKey := records.FoldName(person.FatherName)

	for _, rel := range relatives {
		if _, done := processed[rel.id]; done {
			continue
		}
		node := a.node(ids.ID(rel.id), rel.record.Name, rel.record.BirthDate, rel.record.Sex, rel.id)
		if isParent(rel.kinds) {
			node.Relations.AddChild(main.ID)
		} else if !hasStructuredLabel(rel.kinds) {
			// Name matching only when the source gave no usable label.
			name := records.FoldName(rel.record.Name)
			if name != "" && (name == motherKey || name == fatherKey) {
				node.Relations.AddChild(main.ID)
			}
		}
		if hasKind(rel.kinds, records.KindSpouse) {
			node.Relations.AddSpouse(main.ID)
		}
		out = append(out, node)
		processed[rel.id] = struct{}{}
	}

	for _, role := range childRoles(person) {
		children, err := a.source.LookupChildren(ctx, person.Name, role)
		if err != nil {
			a.logger.Warn("chart: children lookup failed",
				slog.String("cpf", subjectCPF),
				slog.String("role", string(role)),
				slog.String("error", err.Error()))
			continue
		}
		for _, child := range children {
			childCPF := records.NormalizeIdentifier(string(child.CPF))
			if childCPF == "" {
				continue
			}
			if _, done := processed[childCPF]; done {
				continue
			}
			node := a.node(ids.ID(childCPF), child.Name, child.BirthDate, child.Sex, childCPF)
			if role == records.RoleMother {
				node.Relations.Mother = main.ID
				if child.Father != nil && *child.Father != "" {
					node.Relations.Father = resolveParent(ids, relatives, *child.Father)
				}
			} else {
				node.Relations.Father = main.ID
				if child.Mother != "" {
					node.Relations.Mother = resolveParent(ids, relatives, child.Mother)
				}
			}
			out[0].Relations.AddChild(node.ID)
			out = append(out, node)
			processed[childCPF] = struct{}{}
		}
	}

	return out, nil
}

// fetchRelatives loads the full record of every listed relative, in list
// order, once per identifier. Lookup failures drop that relative.
func (a *Adapter) fetchRelatives(ctx context.Context, person *records.Person) []fetchedRelative {
	var out []fetchedRelative
	index := make(map[string]int)
	for _, rel := range person.Relatives {
		id := records.NormalizeIdentifier(string(rel.CPF))
		if id == "" {
			continue
		}
		if i, ok := index[id]; ok {
			if i >= 0 {
				out[i].kinds = append(out[i].kinds, rel.Kind())
			}
			continue
		}
		record, err := a.source.LookupByIdentifier(ctx, id)
		if err != nil {
			a.logger.Warn("chart: relative lookup failed", slog.String("cpf", id), slog.String("error", err.Error()))
		}
		if err != nil || record == nil {
			index[id] = -1
			continue
		}
		index[id] = len(out)
		out = append(out, fetchedRelative{id: id, kinds: []records.RelationKind{rel.Kind()}, record: record})
	}
	return out
}

func (a *Adapter) node(id, name, birth, sex, cpf string) models.PersonNode {
	first, last := SplitName(name)
	return models.PersonNode{
		ID: id,
		Data: models.PersonData{
			FirstName: first,
			LastName:  last,
			Birthday:  ConvertDate(birth),
			Avatar:    a.avatar,
			Gender:    ConvertGender(sex),
			Label:     name,
			Desc:      "CPF: " + cpf,
		},
		Relations: models.Relations{
			Spouses:  []string{},
			Children: []string{},
		},
	}
}

// childRoles lists the parent-name lookups issued for a subject.
func childRoles(p *records.Person) []records.ParentRole {
	if ConvertGender(p.Sex) == models.GenderMale {
		return []records.ParentRole{records.RoleMother, records.RoleFather}
	}
	return []records.ParentRole{records.RoleMother}
}

// resolveParent finds the id for a parent known only by name: a fetched
// relative with the same folded name wins, otherwise the name itself is
// mapped.
func resolveParent(ids *identity.Mapper, relatives []fetchedRelative, name string) string {
	key := records.FoldName(name)
	for _, rel := range relatives {
		if records.FoldName(rel.record.Name) == key {
			return ids.ID(rel.id)
		}
	}
	return ids.ID("name:" + key)
}

func isParent(kinds []records.RelationKind) bool {
	return hasKind(kinds, records.KindMother) || hasKind(kinds, records.KindFather)
}

func hasStructuredLabel(kinds []records.RelationKind) bool {
	for _, k := range kinds {
		if k != records.KindOther {
			return true
		}
	}
	return false
}

func hasKind(kinds []records.RelationKind, want records.RelationKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
