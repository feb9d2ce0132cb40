package chart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/arvore/internal/checksum"
	"github.com/starford/arvore/internal/models"
)

var errNoStore = errors.New("chart: no store configured")

// LoadStored reassembles persisted rows into nodes. With a personID only that
// person and the people it is directly related to are returned, and the
// requested person is the main node.
func (a *Adapter) LoadStored(ctx context.Context, personID string) ([]models.PersonNode, error) {
	if a.store == nil {
		return nil, errNoStore
	}
	people, rels, err := a.store.LoadGraph(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("chart: load graph: %w", err)
	}

	byPerson := make(map[string][]models.Relationship, len(people))
	for _, r := range rels {
		byPerson[r.PersonID] = append(byPerson[r.PersonID], r)
	}

	out := make([]models.PersonNode, 0, len(people))
	for _, p := range people {
		out = append(out, storedNode(p, byPerson[p.ID], personID))
	}
	return out, nil
}

func storedNode(p models.Person, rels []models.Relationship, mainID string) models.PersonNode {
	first, last := SplitName(p.Name)
	if v := extraString(p.ExternalData, "first_name"); v != "" {
		first = v
	}
	if v := extraString(p.ExternalData, "last_name"); v != "" {
		last = v
	}
	desc := extraString(p.ExternalData, "desc")
	if desc == "" {
		desc = p.Email
	}
	gender := p.Gender
	if gender == "" {
		gender = models.GenderUnknown
	}

	n := models.PersonNode{
		ID: p.ID,
		Data: models.PersonData{
			FirstName: first,
			LastName:  last,
			Birthday:  p.BirthDate,
			Avatar:    extraString(p.ExternalData, "avatar"),
			Gender:    gender,
			Label:     p.Name,
			Desc:      desc,
		},
		Relations: models.Relations{Spouses: []string{}, Children: []string{}},
		IsMain:    mainID != "" && p.ID == mainID,
	}
	for _, r := range rels {
		switch r.Type {
		case models.RelFather:
			n.Relations.Father = r.RelatedPersonID
		case models.RelMother:
			n.Relations.Mother = r.RelatedPersonID
		case models.RelSpouse:
			n.Relations.AddSpouse(r.RelatedPersonID)
		case models.RelChild:
			n.Relations.AddChild(r.RelatedPersonID)
		}
	}
	return n
}

// Persist upserts one person row per node, keyed by the hash of the node id,
// and one relationship row per relation link. Re-importing the same nodes
// updates rows in place.
func (a *Adapter) Persist(ctx context.Context, nodes []models.PersonNode) error {
	if a.store == nil {
		return errNoStore
	}
	people := make([]models.Person, 0, len(nodes))
	var rels []models.Relationship
	for i := range nodes {
		n := &nodes[i]
		people = append(people, personRow(n))
		for _, e := range n.Edges() {
			rels = append(rels, models.Relationship{
				PersonID:        e.Source,
				RelatedPersonID: e.Target,
				Type:            e.Type,
			})
		}
	}
	if err := a.store.SaveGraph(ctx, people, rels); err != nil {
		return fmt.Errorf("chart: save graph: %w", err)
	}
	return nil
}

func personRow(n *models.PersonNode) models.Person {
	name := n.Data.Label
	if name == "" {
		name = strings.TrimSpace(n.Data.FirstName + " " + n.Data.LastName)
	}
	p := models.Person{
		ID:             n.ID,
		Name:           name,
		IdentifierHash: checksum.Identifier(n.ID),
		BirthDate:      n.Data.Birthday,
		Gender:         n.Data.Gender,
		ExternalData: map[string]any{
			"first_name": n.Data.FirstName,
			"last_name":  n.Data.LastName,
		},
	}
	if strings.Contains(n.Data.Desc, "@") {
		p.Email = n.Data.Desc
	}
	if n.Data.Desc != "" {
		p.ExternalData["desc"] = n.Data.Desc
	}
	if n.Data.Avatar != "" {
		p.ExternalData["avatar"] = n.Data.Avatar
	}
	return p
}

func extraString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
