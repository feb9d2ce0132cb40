package familysearch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/arvore/internal/apperr"
	"github.com/starford/arvore/internal/cache"
	"github.com/starford/arvore/internal/chart"
	"github.com/starford/arvore/internal/familysearch"
	"github.com/starford/arvore/internal/identity"
	"github.com/starford/arvore/internal/models"
	"github.com/starford/arvore/internal/records"
	"github.com/starford/arvore/internal/testutil"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newEngine(t *testing.T, src records.Source, withCache bool) *familysearch.Engine {
	t.Helper()
	var opts []familysearch.Option
	if withCache {
		b, err := cache.OpenBadger(cache.BadgerConfig{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		opts = append(opts, familysearch.WithCache(cache.New(b, "", discard())))
	}
	return familysearch.New(src, chart.New(src, nil, discard()), discard(), opts...)
}

func person(cpf, name, sex string, rels ...records.Relative) *records.Person {
	return &records.Person{Name: name, CPF: records.FlexString(cpf), Sex: sex, Relatives: rels}
}

func rel(cpf, label string) records.Relative {
	return records.Relative{CPF: records.FlexString(cpf), Label: label}
}

func opts(depth int, spouses bool) familysearch.Options {
	return familysearch.Options{MaxDepth: depth, IncludeSpouses: spouses, CacheTTL: time.Hour}
}

func labels(nodes []models.PersonNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Data.Label)
	}
	return out
}

func assertUniqueIDs(t *testing.T, nodes []models.PersonNode) {
	t.Helper()
	seen := map[string]bool{}
	for _, n := range nodes {
		assert.False(t, seen[n.ID], "duplicate id %s", n.ID)
		seen[n.ID] = true
	}
}

func TestSearchSubjectWithFather(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddPerson(person("38579754828", "JOAO SILVA", "M", rel("11122233344", "PAI")))
	src.AddPerson(person("11122233344", "PEDRO SILVA", "M"))

	nodes, err := newEngine(t, src, false).Search(context.Background(), "38579754828", opts(1, true))
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	var main, father models.PersonNode
	for _, n := range nodes {
		if n.IsMain {
			main = n
		} else {
			father = n
		}
	}
	assert.Equal(t, "JOAO SILVA", main.Data.Label)
	assert.Equal(t, father.ID, main.Relations.Father)
	assert.Equal(t, "PEDRO SILVA", father.Data.Label)
}

func TestSearchMissingSubject(t *testing.T) {
	src := testutil.NewFakeSource()
	nodes, err := newEngine(t, src, false).Search(context.Background(), "99999999999", familysearch.DefaultOptions())
	require.NoError(t, err)
	assert.NotNil(t, nodes)
	assert.Empty(t, nodes)
}

func TestSearchInvalidIdentifier(t *testing.T) {
	_, err := newEngine(t, testutil.NewFakeSource(), false).Search(context.Background(), "abc", familysearch.DefaultOptions())
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSearchDuplicateRelativeOnce(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddPerson(person("1", "ANA", "F", rel("2", "IRMA"), rel("2", "PRIMA")))
	src.AddPerson(person("2", "BIA", "F"))

	nodes, err := newEngine(t, src, false).Search(context.Background(), "1", opts(3, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"ANA", "BIA"}, labels(nodes))
	assertUniqueIDs(t, nodes)
}

func chain(src *testutil.FakeSource) {
	src.AddPerson(person("1", "A", "M", rel("2", "PAI")))
	src.AddPerson(person("2", "B", "M", rel("3", "PAI")))
	src.AddPerson(person("3", "C", "M", rel("4", "PAI")))
	src.AddPerson(person("4", "D", "M", rel("5", "PAI")))
	src.AddPerson(person("5", "E", "M"))
}

func TestSearchDepthBound(t *testing.T) {
	for depth, want := range map[int][]string{
		1: {"A", "B", "C"},
		2: {"A", "B", "C", "D"},
		5: {"A", "B", "C", "D", "E"},
	} {
		src := testutil.NewFakeSource()
		chain(src)
		nodes, err := newEngine(t, src, false).Search(context.Background(), "1", opts(depth, true))
		require.NoError(t, err)
		assert.Equal(t, want, labels(nodes), "depth %d", depth)
		assertUniqueIDs(t, nodes)
	}
}

func TestSearchOnlyFirstNodeWins(t *testing.T) {
	src := testutil.NewFakeSource()
	chain(src)
	nodes, err := newEngine(t, src, false).Search(context.Background(), "1", opts(5, true))
	require.NoError(t, err)
	mains := 0
	for _, n := range nodes {
		if n.IsMain {
			mains++
			assert.Equal(t, "A", n.Data.Label)
		}
	}
	assert.Equal(t, 1, mains)
	// B keeps the links recorded where it was first seen, as A's father.
	assert.Equal(t, nodes[1].ID, nodes[0].Relations.Father)
	assert.Equal(t, []string{nodes[0].ID}, nodes[1].Relations.Children)
	assert.Empty(t, nodes[1].Relations.Father)
}

func TestSearchSpouseExclusion(t *testing.T) {
	build := func() *testutil.FakeSource {
		src := testutil.NewFakeSource()
		src.AddPerson(person("1", "ANA", "F", rel("2", "CONJUGE")))
		src.AddPerson(person("2", "BRUNO", "M", rel("3", "IRMAO")))
		src.AddPerson(person("3", "CAIO", "M"))
		return src
	}

	nodes, err := newEngine(t, build(), false).Search(context.Background(), "1", opts(3, false))
	require.NoError(t, err)
	assert.Equal(t, []string{"ANA", "BRUNO"}, labels(nodes))

	nodes, err = newEngine(t, build(), false).Search(context.Background(), "1", opts(3, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"ANA", "BRUNO", "CAIO"}, labels(nodes))
}

func TestSearchSpouseReachableThroughOtherPath(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddPerson(person("1", "ANA", "F", rel("2", "CONJUGE"), rel("4", "IRMA")))
	src.AddPerson(person("2", "BRUNO", "M", rel("3", "IRMAO")))
	src.AddPerson(person("3", "CAIO", "M"))
	src.AddPerson(person("4", "DORA", "F", rel("2", "CUNHADO")))

	nodes, err := newEngine(t, src, false).Search(context.Background(), "1", opts(3, false))
	require.NoError(t, err)
	assert.Contains(t, labels(nodes), "CAIO")
}

func TestSearchFollowsChildren(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddPerson(person("1", "ANA LIMA", "F"))
	src.AddPerson(person("5", "CARLA LIMA", "F"))
	src.AddPerson(person("6", "DANI LIMA", "M"))
	src.AddPerson(person("7", "EVA LIMA", "F"))
	src.AddChildren("ANA LIMA", records.RoleMother,
		records.Child{Name: "CARLA LIMA", CPF: "5"},
		records.Child{Name: "DANI LIMA", CPF: "6"},
	)
	src.AddChildren("CARLA LIMA", records.RoleMother, records.Child{Name: "EVA LIMA", CPF: "7"})

	nodes, err := newEngine(t, src, false).Search(context.Background(), "1", opts(2, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"ANA LIMA", "CARLA LIMA", "DANI LIMA", "EVA LIMA"}, labels(nodes))
	assertUniqueIDs(t, nodes)
}

func TestSearchBranchFailureIsContained(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddPerson(person("1", "ANA", "F", rel("2", "PAI"), rel("3", "MAE")))
	src.AddPerson(person("2", "BRUNO", "M"))
	src.AddPerson(person("3", "CLARA", "F"))
	src.FailOn("2", errors.New("upstream timeout"))
	src.FailChildrenOn("ANA", errors.New("upstream timeout"))

	nodes, err := newEngine(t, src, false).Search(context.Background(), "1", opts(3, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"ANA", "CLARA"}, labels(nodes))
}

func TestSearchCancelled(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddPerson(person("1", "ANA", "F"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(t, src, false).Search(ctx, "1", opts(3, true))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchCachedIsIdempotent(t *testing.T) {
	src := testutil.NewFakeSource()
	chain(src)
	e := newEngine(t, src, true)
	ctx := context.Background()

	first, err := e.Search(ctx, "1", opts(3, true))
	require.NoError(t, err)
	calls := src.Calls()
	require.Positive(t, calls)

	second, err := e.Search(ctx, "1", opts(3, true))
	require.NoError(t, err)
	assert.Equal(t, calls, src.Calls())

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	// Different options use a different key.
	_, err = e.Search(ctx, "1", opts(3, false))
	require.NoError(t, err)
	assert.Greater(t, src.Calls(), calls)
}

func TestSearchZeroTTLSkipsCache(t *testing.T) {
	src := testutil.NewFakeSource()
	chain(src)
	e := newEngine(t, src, true)
	o := opts(2, true)
	o.CacheTTL = 0

	_, err := e.Search(context.Background(), "1", o)
	require.NoError(t, err)
	calls := src.Calls()
	_, err = e.Search(context.Background(), "1", o)
	require.NoError(t, err)
	assert.Equal(t, 2*calls, src.Calls())
}

func TestClearCacheForcesFreshLookups(t *testing.T) {
	src := testutil.NewFakeSource()
	chain(src)
	e := newEngine(t, src, true)
	ctx := context.Background()

	_, err := e.Search(ctx, "1", opts(2, true))
	require.NoError(t, err)
	_, err = e.Search(ctx, "2", opts(2, true))
	require.NoError(t, err)
	calls := src.Calls()

	n, err := e.ClearCache(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.Search(ctx, "2", opts(2, true))
	require.NoError(t, err)
	assert.Equal(t, calls, src.Calls())

	_, err = e.Search(ctx, "1", opts(2, true))
	require.NoError(t, err)
	assert.Greater(t, src.Calls(), calls)

	n, err = e.ClearAllCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = e.ClearCache(ctx, "--")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestClearCacheWithoutBackend(t *testing.T) {
	e := newEngine(t, testutil.NewFakeSource(), false)
	n, err := e.ClearAllCache(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearchUsesFreshMapperPerSearch(t *testing.T) {
	src := testutil.NewFakeSource()
	src.AddPerson(person("38579754828", "JOAO SILVA", "M", rel("11122233344", "PAI")))
	src.AddPerson(person("11122233344", "PEDRO SILVA", "M"))

	mappers := 0
	factory := func() *identity.Mapper {
		mappers++
		n := 0
		return identity.NewMapper(identity.WithGenerator(func() string {
			n++
			return fmt.Sprintf("p-%d", n)
		}))
	}
	engine := familysearch.New(src, chart.New(src, nil, discard()), discard(), familysearch.WithMapperFactory(factory))

	first, err := engine.Search(context.Background(), "38579754828", opts(1, true))
	require.NoError(t, err)
	second, err := engine.Search(context.Background(), "38579754828", opts(1, true))
	require.NoError(t, err)

	assert.Equal(t, 2, mappers)
	require.Len(t, first, 2)
	for _, n := range first {
		assert.Contains(t, []string{"p-1", "p-2"}, n.ID)
	}
	assert.ElementsMatch(t, first, second)
}

// flakySource fails the first person lookup of one identifier.
type flakySource struct {
	*testutil.FakeSource
	id     string
	failed bool
}

func (f *flakySource) LookupByIdentifier(ctx context.Context, id string) (*records.Person, error) {
	if id == f.id && !f.failed {
		f.failed = true
		return nil, errors.New("upstream timeout")
	}
	return f.FakeSource.LookupByIdentifier(ctx, id)
}

func TestSearchOnlyRootIsMainWhenRelativeFirstSeenOnItsOwnVisit(t *testing.T) {
	fake := testutil.NewFakeSource()
	fake.AddPerson(person("1", "ANA", "F", rel("2", "PAI")))
	fake.AddPerson(person("2", "BRUNO", "M"))
	src := &flakySource{FakeSource: fake, id: "2"}

	nodes, err := newEngine(t, src, false).Search(context.Background(), "1", opts(1, true))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, []string{"ANA", "BRUNO"}, labels(nodes))

	var mains []string
	for _, n := range nodes {
		if n.IsMain {
			mains = append(mains, n.Data.Label)
		}
	}
	assert.Equal(t, []string{"ANA"}, mains)
	assert.True(t, src.failed)
}
