// Package records talks to the external person record service and to
// file-backed record fixtures that share its wire format.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a record payload.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// ParentRole selects which parent name a children lookup matches.
type ParentRole string

const (
	RoleMother ParentRole = "mae"
	RoleFather ParentRole = "pai"
)

// RelationKind is the structured meaning of a relative's label.
type RelationKind int

const (
	KindOther RelationKind = iota
	KindMother
	KindFather
	KindSpouse
	KindSibling
	KindGrandparent
	KindUncle
	KindChild
)

// MissingDate is the upstream placeholder for an unknown date.
const MissingDate = "SEM INFORMAÇÃO"

// FlexString decodes from a JSON string or number. The upstream service is
// not consistent about quoting identifiers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("records: identifier is neither string nor number: %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// Relative is one entry of a person's PARENTES list.
type Relative struct {
	CPF   FlexString `json:"CPF_VINCULO"`
	Name  string     `json:"NOME_VINCULO"`
	Label string     `json:"VINCULO"`
}

// Kind maps the free-text label onto a RelationKind.
func (r Relative) Kind() RelationKind {
	switch FoldName(r.Label) {
	case "MAE":
		return KindMother
	case "PAI":
		return KindFather
	case "CONJUGE", "ESPOSA", "ESPOSO", "ESPOSA(O)":
		return KindSpouse
	case "IRMA(O)", "IRMAO", "IRMA":
		return KindSibling
	case "AVO", "AVO(A)", "AVOS":
		return KindGrandparent
	case "TIA(O)", "TIO", "TIA":
		return KindUncle
	case "FILHO(A)", "FILHO", "FILHA":
		return KindChild
	}
	return KindOther
}

// Person is a full record returned by an identifier lookup.
type Person struct {
	Name          string     `json:"NOME"`
	CPF           FlexString `json:"CPF"`
	Sex           string     `json:"SEXO"`
	BirthDate     string     `json:"NASCIMENTO"`
	MotherName    string     `json:"NOME_MAE"`
	FatherName    string     `json:"NOME_PAI"`
	MaritalStatus string     `json:"ESTADO_CIVIL,omitempty"`
	Relatives     []Relative `json:"PARENTES,omitempty"`

	// Extra keeps every upstream field not modelled above.
	Extra map[string]any `json:"-"`
}

var knownPersonFields = map[string]struct{}{
	"NOME": {}, "CPF": {}, "SEXO": {}, "NASCIMENTO": {}, "NOME_MAE": {},
	"NOME_PAI": {}, "ESTADO_CIVIL": {}, "PARENTES": {},
}

type personAlias Person

func (p *Person) UnmarshalJSON(b []byte) error {
	var a personAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k := range knownPersonFields {
		delete(raw, k)
	}
	*p = Person(a)
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

func (p Person) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(personAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]any, len(p.Extra)+len(knownPersonFields))
	for k, v := range p.Extra {
		merged[k] = v
	}
	var fields map[string]any
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Valid reports whether the record carries enough data to be used.
func (p *Person) Valid() bool {
	return p != nil && NormalizeIdentifier(string(p.CPF)) != "" && strings.TrimSpace(p.Name) != ""
}

// Child is one entry of a children-by-parent-name lookup.
type Child struct {
	Name      string     `json:"NOME"`
	CPF       FlexString `json:"CPF"`
	BirthDate string     `json:"NASCIMENTO"`
	Sex       string     `json:"SEXO"`
	Mother    string     `json:"MAE"`
	Father    *string    `json:"PAI"`
}

// DecodePerson decodes a person payload. A payload that decodes to an empty
// or incomplete record returns (nil, nil).
func DecodePerson(data []byte, format Format) (*Person, error) {
	data, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" || trimmed[0] != '{' {
		return nil, nil
	}
	var p Person
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("records: decode person: %w", err)
	}
	if !p.Valid() {
		return nil, nil
	}
	return &p, nil
}

// DecodeChildren decodes a children payload. Anything that is not an array
// yields an empty list.
func DecodeChildren(data []byte) ([]Child, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []Child{}, nil
	}
	var out []Child
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return []Child{}, fmt.Errorf("records: decode children: %w", err)
	}
	valid := out[:0]
	for _, c := range out {
		if NormalizeIdentifier(string(c.CPF)) != "" {
			valid = append(valid, c)
		}
	}
	return valid, nil
}

func toJSON(data []byte, format Format) ([]byte, error) {
	if format != FormatYAML {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("records: decode yaml: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("records: yaml to json: %w", err)
	}
	return out, nil
}

// NormalizeIdentifier strips every non-digit character.
func NormalizeIdentifier(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FoldName upper-cases s, strips diacritics and collapses whitespace so that
// "Maria  da Conceição" and "MARIA DA CONCEICAO" compare equal.
func FoldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(strings.Join(strings.Fields(out), " "))
}

// FileName returns the fixture file name for an identifier.
func FileName(id string) string {
	return NormalizeIdentifier(id) + ".json"
}

// identifierFromPath extracts the identifier from a fixture file name.
func identifierFromPath(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return NormalizeIdentifier(base)
}

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}
