package familysearch

import (
	"context"
	"log/slog"

	"github.com/starford/arvore/internal/chart"
	"github.com/starford/arvore/internal/identity"
	"github.com/starford/arvore/internal/models"
	"github.com/starford/arvore/internal/records"
)

// frame is one expanded person on the work stack. next holds the
// identifiers still to visit: relatives first, then children once the
// children lookup has run.
type frame struct {
	identifier string
	depth      int
	record     *records.Person
	next       []string
	pos        int
	childrenOK bool
}

// traversal holds the state of one Search call. It is never shared between
// searches.
type traversal struct {
	root    string
	engine  *Engine
	opts    Options
	ids     *identity.Mapper
	visited map[string]struct{}
	seen    map[string]struct{}
	out     []models.PersonNode
	stack   []*frame
}

// run walks depth first from root. Nodes are appended in discovery order
// and the first node seen for an id wins.
func (t *traversal) run(ctx context.Context, root string) error {
	t.root = root
	t.enter(ctx, root, 0)
	for len(t.stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := t.stack[len(t.stack)-1]

		if f.pos < len(f.next) {
			id := f.next[f.pos]
			f.pos++
			t.enter(ctx, id, f.depth+1)
			continue
		}

		if !f.childrenOK {
			f.childrenOK = true
			kids, err := t.children(ctx, f.record)
			if err != nil {
				t.engine.logger.Warn("familysearch: children lookup failed, branch truncated",
					slog.String("cpf", f.identifier),
					slog.String("error", err.Error()))
				t.pop()
				continue
			}
			f.next = append(f.next, kids...)
			continue
		}

		t.pop()
	}
	return ctx.Err()
}

// enter visits identifier at depth, merges its nodes and, below the depth
// limit, pushes a frame to expand its relatives and children.
func (t *traversal) enter(ctx context.Context, identifier string, depth int) {
	if identifier == "" || depth > t.opts.MaxDepth {
		return
	}
	if _, ok := t.visited[identifier]; ok {
		return
	}
	t.visited[identifier] = struct{}{}

	logger := t.engine.logger.With(slog.String("cpf", identifier), slog.Int("depth", depth))

	record, err := t.engine.source.LookupByIdentifier(ctx, identifier)
	if err != nil {
		logger.Warn("familysearch: record lookup failed", slog.String("error", err.Error()))
		return
	}
	if record == nil {
		return
	}

	nodes, err := t.engine.converter.Convert(ctx, t.ids, identifier)
	if err != nil {
		logger.Warn("familysearch: convert failed", slog.String("error", err.Error()))
		return
	}
	t.merge(nodes)

	if depth == t.opts.MaxDepth {
		return
	}

	f := &frame{identifier: identifier, depth: depth, record: record}
	for _, rel := range record.Relatives {
		if !t.opts.IncludeSpouses && rel.Kind() == records.KindSpouse {
			continue
		}
		if id := records.NormalizeIdentifier(string(rel.CPF)); id != "" {
			f.next = append(f.next, id)
		}
	}
	t.stack = append(t.stack, f)
}

// children looks up the person's children by the parent role matching
// their sex. Unknown sex has no children lookup.
func (t *traversal) children(ctx context.Context, p *records.Person) ([]string, error) {
	var role records.ParentRole
	switch chart.ConvertGender(p.Sex) {
	case models.GenderFemale:
		role = records.RoleMother
	case models.GenderMale:
		role = records.RoleFather
	default:
		return nil, nil
	}
	kids, err := t.engine.source.LookupChildren(ctx, p.Name, role)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(kids))
	for _, k := range kids {
		if id := records.NormalizeIdentifier(string(k.CPF)); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// merge appends unseen nodes. Only the root's node stays main; a relative
// converted on its own visit arrives marked main and is demoted here.
func (t *traversal) merge(nodes []models.PersonNode) {
	rootID, _ := t.ids.Lookup(t.root)
	for _, n := range nodes {
		if _, dup := t.seen[n.ID]; dup {
			continue
		}
		t.seen[n.ID] = struct{}{}
		n.IsMain = n.ID == rootID
		t.out = append(t.out, n)
	}
}

func (t *traversal) pop() {
	t.stack[len(t.stack)-1] = nil
	t.stack = t.stack[:len(t.stack)-1]
}
