// Package models defines the domain types for arvore.
package models

import "time"

// Gender is the normalized sex of a person.
type Gender string

const (
	GenderFemale  Gender = "F"
	GenderMale    Gender = "M"
	GenderUnknown Gender = "U"
)

// RelationshipType names a directed edge between two people.
type RelationshipType string

const (
	RelFather RelationshipType = "father"
	RelMother RelationshipType = "mother"
	RelSpouse RelationshipType = "spouse"
	RelChild  RelationshipType = "child"
)

// Valid reports whether t is one of the persisted relationship types.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelFather, RelMother, RelSpouse, RelChild:
		return true
	}
	return false
}

// PersonNode is one individual in a family graph. The JSON shape is the one
// consumed by family-chart style renderers.
type PersonNode struct {
	ID        string     `json:"id"`
	Data      PersonData `json:"data"`
	Relations Relations  `json:"rels"`
	IsMain    bool       `json:"main"`
}

// PersonData holds the display fields of a node.
type PersonData struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Birthday  string `json:"birthday,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Gender    Gender `json:"gender"`
	Label     string `json:"label"`
	Desc      string `json:"desc,omitempty"`
}

// Relations links a node to other node ids.
type Relations struct {
	Father   string   `json:"father,omitempty"`
	Mother   string   `json:"mother,omitempty"`
	Spouses  []string `json:"spouses"`
	Children []string `json:"children"`
}

// AddSpouse appends id unless it is already present.
func (r *Relations) AddSpouse(id string) {
	r.Spouses = appendUnique(r.Spouses, id)
}

// AddChild appends id unless it is already present.
func (r *Relations) AddChild(id string) {
	r.Children = appendUnique(r.Children, id)
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

// Edge is the persisted form of one relation link.
type Edge struct {
	Source string
	Target string
	Type   RelationshipType
}

// Edges expands the node's relations into directed edges, one per link.
func (n *PersonNode) Edges() []Edge {
	var out []Edge
	if n.Relations.Father != "" {
		out = append(out, Edge{Source: n.ID, Target: n.Relations.Father, Type: RelFather})
	}
	if n.Relations.Mother != "" {
		out = append(out, Edge{Source: n.ID, Target: n.Relations.Mother, Type: RelMother})
	}
	for _, id := range n.Relations.Spouses {
		out = append(out, Edge{Source: n.ID, Target: id, Type: RelSpouse})
	}
	for _, id := range n.Relations.Children {
		out = append(out, Edge{Source: n.ID, Target: id, Type: RelChild})
	}
	return out
}

// Person is a stored person row. The raw identifier is never kept, only its hash.
type Person struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	IdentifierHash string         `json:"-"`
	Email          string         `json:"email,omitempty"`
	BirthDate      string         `json:"birth_date,omitempty"`
	Gender         Gender         `json:"gender,omitempty"`
	MaritalStatus  string         `json:"marital_status,omitempty"`
	ExternalData   map[string]any `json:"external_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Relationship is a stored relationship row.
type Relationship struct {
	PersonID        string           `json:"person_id"`
	RelatedPersonID string           `json:"related_person_id"`
	Type            RelationshipType `json:"relationship_type"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// RecordFile is a lightweight listing entry for a stored record fixture.
type RecordFile struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
