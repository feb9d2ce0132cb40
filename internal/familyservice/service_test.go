package familyservice_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/arvore/internal/apperr"
	"github.com/starford/arvore/internal/cache"
	"github.com/starford/arvore/internal/chart"
	"github.com/starford/arvore/internal/familysearch"
	"github.com/starford/arvore/internal/familyservice"
	"github.com/starford/arvore/internal/records"
	"github.com/starford/arvore/internal/sse"
	"github.com/starford/arvore/internal/testutil"
)

type recordedEvent struct {
	kind string
	data any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) PublishChange(kind string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{kind, data})
}

func (p *fakePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.kind
	}
	return out
}

type fixture struct {
	svc    *familyservice.Service
	src    *testutil.FakeSource
	events *fakePublisher
}

func setup(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	src := testutil.NewFakeSource()
	src.AddPerson(&records.Person{
		Name: "JOAO SILVA", CPF: "38579754828", Sex: "M",
		Relatives: []records.Relative{{CPF: "11122233344", Label: "PAI"}},
	})
	src.AddPerson(&records.Person{Name: "PEDRO SILVA", CPF: "11122233344", Sex: "M"})

	db := testutil.TestDB(t)
	backend, err := cache.OpenBadger(cache.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	adapter := chart.New(src, db, logger)
	engine := familysearch.New(src, adapter, logger, familysearch.WithCache(cache.New(backend, "", logger)))
	events := &fakePublisher{}
	return fixture{
		svc:    familyservice.NewService(engine, adapter, db, events, logger),
		src:    src,
		events: events,
	}
}

func TestImportThenTree(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.svc.Import(ctx, "385.797.548-28", familysearch.Options{MaxDepth: 1, IncludeSpouses: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	require.NotNil(t, res.MainPerson)
	assert.Equal(t, "JOAO SILVA", res.MainPerson.Data.Label)
	assert.Equal(t, []string{sse.EventFamilyImported}, f.events.kinds())

	tree, err := f.svc.Tree(ctx, res.MainPerson.ID)
	require.NoError(t, err)
	require.Len(t, tree, 2)
	assert.True(t, tree[0].IsMain)
	assert.Equal(t, tree[1].ID, tree[0].Relations.Father)

	// Re-import updates rows in place.
	_, err = f.svc.Import(ctx, "38579754828", familysearch.Options{MaxDepth: 1, IncludeSpouses: true})
	require.NoError(t, err)
	people, total, err := f.svc.ListPeople(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, people, 2)

	found, total, err := f.svc.ListPeople(ctx, "PEDRO", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "PEDRO SILVA", found[0].Name)
}

func TestImportNoData(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Import(context.Background(), "99999999999", familysearch.DefaultOptions())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.events.kinds())
}

func TestTreeNotFound(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Tree(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestClearCachePublishes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.Search(ctx, "38579754828", familysearch.DefaultOptions())
	require.NoError(t, err)

	n, err := f.svc.ClearCache(ctx, "38579754828")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.ClearAllCache(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{sse.EventCacheCleared, sse.EventCacheCleared}, f.events.kinds())
}

func TestRecordChangedDropsCache(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.Search(ctx, "38579754828", familysearch.DefaultOptions())
	require.NoError(t, err)
	calls := f.src.Calls()

	f.svc.RecordChanged(ctx, "updated", "11122233344")
	assert.Equal(t, []string{sse.EventRecordUpdated}, f.events.kinds())

	_, err = f.svc.Search(ctx, "38579754828", familysearch.DefaultOptions())
	require.NoError(t, err)
	assert.Greater(t, f.src.Calls(), calls)
}

func TestSearchManyPassesThrough(t *testing.T) {
	f := setup(t)
	res, err := f.svc.SearchMany(context.Background(), []string{"38579754828", "11122233344"}, familysearch.DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, res, 2)
}
