package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/fetchgraph"
	"github.com/syssam/fetchgraph/internal/fixture"
	"github.com/syssam/fetchgraph/mapping"
)

func entity(t *testing.T, reg *mapping.Registry, name string) *mapping.Entity {
	t.Helper()
	e, err := reg.Entity(name)
	require.NoError(t, err)
	return e
}

func collection(t *testing.T, reg *mapping.Registry, role string) *mapping.Collection {
	t.Helper()
	c, err := reg.Collection(role)
	require.NoError(t, err)
	return c
}

func TestEntityKey(t *testing.T) {
	reg := fixture.BuiltShop()
	dog, animal := entity(t, reg, "Dog"), entity(t, reg, "Animal")
	assert.Equal(t, NewEntityKey(animal, int64(1)), NewEntityKey(dog, int64(1)))
	assert.NotEqual(t, NewEntityKey(dog, int64(1)), NewEntityKey(dog, int64(2)))
	assert.Equal(t, "Animal#1", NewEntityKey(dog, int64(1)).String())
	assert.Equal(t, "Order.items#7", CollectionKey{Role: "Order.items", Key: int64(7)}.String())
	assert.Equal(t, "stub", Stub.String())
}

func TestContext_TwoPhase(t *testing.T) {
	reg := fixture.BuiltShop()
	emp := entity(t, reg, "Employee")
	pc := NewContext()
	key := NewEntityKey(emp, int64(1))
	assert.Equal(t, Unseen, pc.State(key))

	inst := &mapping.Record{Entity: "Employee", ID: int64(1)}
	entry, err := pc.AddStub(key, emp, inst, fetchgraph.LockRead)
	require.NoError(t, err)
	assert.Equal(t, Stub, entry.State)
	got, ok := pc.Instance(key)
	require.True(t, ok)
	assert.Same(t, inst, got, "a self reference resolves to the stub")

	_, err = pc.AddStub(key, emp, inst, fetchgraph.LockRead)
	assert.Error(t, err)

	entry, err = pc.Promote(key, map[string]any{"manager": inst}, nil)
	require.NoError(t, err)
	assert.Equal(t, Hydrated, entry.State)
	assert.Equal(t, Hydrated, pc.State(key))

	_, err = pc.Promote(key, nil, nil)
	var herr *fetchgraph.HydrationError
	require.ErrorAs(t, err, &herr)
	assert.Contains(t, herr.Msg, "already hydrated")
	_, err = pc.Promote(NewEntityKey(emp, int64(2)), nil, nil)
	assert.ErrorAs(t, err, &herr)

	pc.SetLockMode(key, fetchgraph.LockUpgrade)
	entry, _ = pc.Get(key)
	assert.Equal(t, fetchgraph.LockUpgrade, entry.LockMode)

	assert.Equal(t, 1, pc.Len())
	pc.Remove(key)
	assert.Equal(t, 0, pc.Len())
}

func TestContext_NullProperties(t *testing.T) {
	reg := fixture.BuiltShop()
	person := entity(t, reg, "Person")
	pc := NewContext()
	key := NewEntityKey(person, int64(3))
	pc.AddNullProperty(key, "passport")
	assert.False(t, pc.IsPropertyNull(key, "passport"), "unknown keys are ignored")

	_, err := pc.AddStub(key, person, &mapping.Record{}, fetchgraph.LockRead)
	require.NoError(t, err)
	pc.AddNullProperty(key, "passport")
	assert.True(t, pc.IsPropertyNull(key, "passport"))
	assert.False(t, pc.IsPropertyNull(key, "name"))
}

func TestContext_CollectionOwner(t *testing.T) {
	byNumber := &mapping.Collection{
		Role:              "Order.lines",
		Owner:             "Order",
		Table:             "lines",
		KeyColumns:        []string{"order_number"},
		ReferencedColumns: []string{"number"},
		ElementColumn:     "text",
	}
	reg := fixture.Shop()
	require.NoError(t, reg.AddCollection(byNumber))
	require.NoError(t, reg.Build())
	order := entity(t, reg, "Order")
	items := collection(t, reg, "Order.items")
	pc := NewContext()
	_, ok := pc.CollectionOwner(items, int64(7))
	assert.False(t, ok)

	inst := &mapping.Record{Entity: "Order", ID: int64(7)}
	_, err := pc.AddStub(NewEntityKey(order, int64(7)), order, inst, fetchgraph.LockRead)
	require.NoError(t, err)
	owner, ok := pc.CollectionOwner(items, int64(7))
	require.True(t, ok)
	assert.Same(t, inst, owner.Instance)

	_, ok = pc.CollectionOwner(byNumber, "A-1")
	assert.False(t, ok, "stubs have no loaded values")
	_, err = pc.Promote(NewEntityKey(order, int64(7)), map[string]any{"number": "A-1"}, nil)
	require.NoError(t, err)
	owner, ok = pc.CollectionOwner(byNumber, "A-1")
	require.True(t, ok)
	assert.Same(t, inst, owner.Instance)
	_, ok = pc.CollectionOwner(byNumber, "B-2")
	assert.False(t, ok)
}

func TestPersistentCollection(t *testing.T) {
	kinds := []struct {
		name  string
		kind  mapping.CollectionKind
		rows  [][2]any
		want  []any
		fails bool
	}{
		{name: "Bag", kind: mapping.Bag, rows: [][2]any{{nil, "a"}, {nil, "a"}, {nil, "b"}}, want: []any{"a", "a", "b"}},
		{name: "Set", kind: mapping.Set, rows: [][2]any{{nil, "a"}, {nil, "a"}, {nil, "b"}}, want: []any{"a", "b"}},
		{name: "List", kind: mapping.List, rows: [][2]any{{int64(2), "c"}, {int64(0), "a"}}, want: []any{"a", nil, "c"}},
		{name: "Array", kind: mapping.Array, rows: [][2]any{{int64(1), "b"}, {int64(0), "a"}}, want: []any{"a", "b"}},
		{name: "Map", kind: mapping.Map, rows: [][2]any{{"x", 1}, {"y", 2}, {"x", 3}}, want: []any{3, 2}},
		{name: "BadIndex", kind: mapping.List, rows: [][2]any{{"x", 1}}, fails: true},
		{name: "NilMapKey", kind: mapping.Map, rows: [][2]any{{nil, 1}}, fails: true},
	}
	for _, tt := range kinds {
		t.Run(tt.name, func(t *testing.T) {
			c := &mapping.Collection{Role: "X.values", Kind: tt.kind}
			pc := NewPersistentCollection(c, int64(1))
			assert.False(t, pc.IsInitialized())
			require.Error(t, pc.ReadElement(nil, "a"), "rows need BeginRead")

			pc.BeginRead()
			assert.True(t, pc.IsReading())
			var err error
			for _, r := range tt.rows {
				if err = pc.ReadElement(r[0], r[1]); err != nil {
					break
				}
			}
			if tt.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			pc.EndRead()
			assert.True(t, pc.IsInitialized())
			assert.Equal(t, tt.want, pc.Elements())
			assert.Equal(t, len(tt.want), pc.Len())
		})
	}

	c := &mapping.Collection{Role: "X.values", Kind: mapping.Map}
	pc := NewPersistentCollection(c, int64(1))
	pc.BeginRead()
	require.NoError(t, pc.ReadElement("k", "v"))
	pc.EndRead()
	assert.Equal(t, map[any]any{"k": "v"}, pc.Map())
	assert.Equal(t, "X.values#1[1]", pc.String())
}

func TestCollectionLoadContext(t *testing.T) {
	reg := fixture.BuiltShop()
	items, tags := collection(t, reg, "Order.items"), collection(t, reg, "Order.tags")
	pc := NewContext()
	id := uuid.New()
	lc := pc.LoadContext(id)
	assert.Same(t, lc, pc.LoadContext(id))
	assert.Equal(t, id, lc.ID())
	assert.True(t, pc.HasLoadContexts())

	c7 := lc.LoadingCollection(items, int64(7))
	require.NotNil(t, c7)
	got, ok := pc.Collection("Order.items", int64(7))
	require.True(t, ok, "new collections are registered while they are read")
	assert.Same(t, c7, got)
	assert.Same(t, c7, lc.LoadingCollection(items, int64(7)), "rows of one owner share the collection")
	require.NoError(t, c7.ReadElement(nil, "i1"))
	require.NoError(t, c7.ReadElement(nil, "i2"))
	c8 := lc.LoadingCollection(items, int64(8))
	t7 := lc.LoadingCollection(tags, int64(7))
	assert.Equal(t, 3, lc.Loading())

	done := lc.EndLoadingCollections(items)
	require.Len(t, done, 2)
	assert.Same(t, c7, done[0])
	assert.Same(t, c8, done[1])
	assert.Equal(t, 2, c7.Len())
	assert.True(t, c8.IsInitialized())
	assert.Equal(t, 0, c8.Len(), "an owner without rows gets an empty collection")
	got, ok = pc.Collection("Order.items", int64(8))
	require.True(t, ok)
	assert.Same(t, c8, got)
	assert.Equal(t, 1, lc.Loading())

	assert.Nil(t, lc.LoadingCollection(items, int64(7)), "initialized collections are not read again")

	lc.Close()
	lc.Close()
	assert.False(t, pc.HasLoadContexts())
	assert.False(t, t7.IsInitialized(), "unfinished collections are discarded")
	_, ok = pc.Collection("Order.tags", int64(7))
	assert.False(t, ok)
	assert.Nil(t, lc.LoadingCollection(tags, int64(9)))

	placeholder := NewPersistentCollection(tags, int64(9))
	pc.AddCollection(placeholder)
	lc = pc.LoadContext(uuid.New())
	assert.Same(t, placeholder, lc.LoadingCollection(tags, int64(9)))
	require.NoError(t, placeholder.ReadElement(nil, "t"))
	lc.Close()
	got, ok = pc.Collection("Order.tags", int64(9))
	require.True(t, ok, "collections registered before the fetch stay registered")
	assert.Same(t, placeholder, got)
	assert.False(t, placeholder.IsReading())
	assert.Equal(t, 0, placeholder.Len())
}

func TestSession(t *testing.T) {
	reg := fixture.BuiltShop()
	tag := entity(t, reg, "Tag")
	var loaded []any
	s := New(
		WithCacheMode(fetchgraph.CacheGet),
		WithReadOnly(true),
		WithPostLoadListener(func(_ context.Context, e *mapping.Entity, instance any) {
			loaded = append(loaded, e.Name, instance)
		}),
	)
	assert.NotNil(t, s.Influencers())
	assert.Equal(t, fetchgraph.CacheGet, s.CacheMode())
	s.SetCacheMode(fetchgraph.CacheIgnore)
	assert.Equal(t, fetchgraph.CacheIgnore, s.CacheMode())
	assert.True(t, s.IsDefaultReadOnly())

	inst := &mapping.Record{Entity: "Tag", ID: int64(1)}
	_, err := s.Context().AddStub(NewEntityKey(tag, int64(1)), tag, inst, fetchgraph.LockRead)
	require.NoError(t, err)
	got, ok := s.Lookup(tag, int64(1))
	require.True(t, ok)
	assert.Same(t, inst, got)

	s.PostLoad(context.Background(), tag, inst)
	assert.Equal(t, []any{"Tag", inst}, loaded)

	s.Clear()
	_, ok = s.Lookup(tag, int64(1))
	assert.False(t, ok)
}
