package testutil

import (
	"context"
	"sync"

	"github.com/starford/arvore/internal/records"
)

// FakeSource is an in-memory records.Source that counts calls.
type FakeSource struct {
	mu       sync.Mutex
	people   map[string]*records.Person
	children map[string][]records.Child
	errs     map[string]error

	PersonCalls   int
	ChildrenCalls int
}

var _ records.Source = (*FakeSource)(nil)

// NewFakeSource returns an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		people:   make(map[string]*records.Person),
		children: make(map[string][]records.Child),
		errs:     make(map[string]error),
	}
}

// AddPerson registers p under its normalized identifier.
func (f *FakeSource) AddPerson(p *records.Person) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.people[records.NormalizeIdentifier(string(p.CPF))] = p
}

// AddChildren registers the children returned for a parent name and role.
func (f *FakeSource) AddChildren(parentName string, role records.ParentRole, kids ...records.Child) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := childKey(parentName, role)
	f.children[key] = append(f.children[key], kids...)
}

// FailOn makes every identifier lookup for id return err.
func (f *FakeSource) FailOn(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[records.NormalizeIdentifier(id)] = err
}

// FailChildrenOn makes children lookups for parentName return err.
func (f *FakeSource) FailChildrenOn(parentName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs["children:"+records.FoldName(parentName)] = err
}

// Calls returns the total number of lookups served.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PersonCalls + f.ChildrenCalls
}

func (f *FakeSource) LookupByIdentifier(ctx context.Context, id string) (*records.Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PersonCalls++
	id = records.NormalizeIdentifier(id)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	p, ok := f.people[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *FakeSource) LookupChildren(ctx context.Context, parentName string, role records.ParentRole) ([]records.Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChildrenCalls++
	if err := f.errs["children:"+records.FoldName(parentName)]; err != nil {
		return nil, err
	}
	kids := f.children[childKey(parentName, role)]
	out := make([]records.Child, len(kids))
	copy(out, kids)
	return out, nil
}

func childKey(name string, role records.ParentRole) string {
	return string(role) + ":" + records.FoldName(name)
}
