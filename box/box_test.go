package box_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/objectbox/box"
	"github.com/stevemurr/objectbox/store"
)

type backendCase struct {
	name string
	open func(t *testing.T) store.Backend
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T) store.Backend { return store.NewMemoryStore() }},
		{"sqlite", func(t *testing.T) store.Backend {
			s, err := store.NewSqliteStore(filepath.Join(t.TempDir(), "box.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{"bolt", func(t *testing.T) store.Backend {
			s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "box.bolt"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{"badger", func(t *testing.T) store.Backend {
			s, err := store.NewBadgerMemoryStore()
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.DebugLevel)
	return log
}

func setup(t *testing.T, b store.Backend) (*box.Box, store.Table) {
	t.Helper()
	return box.New(box.Options{Logger: quietLogger()}), store.Open(b).Table("object")
}

func mustGetFields(t *testing.T, ctx context.Context, b *box.Box, r store.Record) map[string]any {
	t.Helper()
	got, err := b.GetFields(ctx, r)
	require.NoError(t, err)
	return got
}

func rawField(t *testing.T, ctx context.Context, r store.Record, name string) any {
	t.Helper()
	v, err := r.Field(ctx, name)
	require.NoError(t, err)
	return v
}

func linkedID(t *testing.T, ctx context.Context, r store.Record, name string) string {
	t.Helper()
	id, ok := box.DecodeLink(rawField(t, ctx, r, name).(string))
	require.True(t, ok, "field %q is not a reference", name)
	return id
}

func assertGone(t *testing.T, ctx context.Context, tbl store.Table, id string) {
	t.Helper()
	r, err := tbl.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, r, "record %s should have been deleted", id)
}

func count(t *testing.T, ctx context.Context, tbl store.Table) int {
	t.Helper()
	all, err := tbl.Query(ctx, map[string]any{})
	require.NoError(t, err)
	return len(all)
}

// The walkthrough every backend has to get right: successive updates that
// promote, demote and replace nested values, then a delete of a grandchild.
func TestScenario(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			b, tbl := setup(t, bc.open(t))

			obj := map[string]any{"a": "a", "b": map[string]any{"c": []any{1.0, map[string]any{"d": "d"}}}}
			rec, err := b.Insert(ctx, tbl, obj)
			require.NoError(t, err)
			assert.Equal(t, obj, mustGetFields(t, ctx, b, rec))
			assert.Equal(t, 3, count(t, ctx, tbl))

			obj = map[string]any{"a": "a2", "b": map[string]any{"c": "c2"}}
			rec, err = b.Update(ctx, rec, obj)
			require.NoError(t, err)
			assert.Equal(t, obj, mustGetFields(t, ctx, b, rec))
			assert.Equal(t, 2, count(t, ctx, tbl), "child inside the replaced list must be deleted")

			obj = map[string]any{"a": "a2", "b": map[string]any{"c": "c2"}, "d": "d"}
			rec, err = b.Update(ctx, rec, obj)
			require.NoError(t, err)
			assert.Equal(t, obj, mustGetFields(t, ctx, b, rec))

			obj = map[string]any{"a": "a2", "b": map[string]any{"c": "c2"}, "d": map[string]any{"e": "e"}}
			rec, err = b.Update(ctx, rec, obj)
			require.NoError(t, err)
			assert.Equal(t, obj, mustGetFields(t, ctx, b, rec))
			assert.Equal(t, 3, count(t, ctx, tbl))

			obj = map[string]any{"a": "a2", "b": "b", "d": map[string]any{"e": "e"}}
			rec, err = b.Update(ctx, rec, obj)
			require.NoError(t, err)
			assert.Equal(t, obj, mustGetFields(t, ctx, b, rec))
			assert.Equal(t, 2, count(t, ctx, tbl))

			got, err := b.Get(ctx, rec, "b")
			require.NoError(t, err)
			assert.Equal(t, "b", got)

			obj = map[string]any{"a": "a2", "b": map[string]any{"c": map[string]any{"f": "f"}}, "d": map[string]any{"e": "e"}}
			rec, err = b.Set(ctx, rec, "b", obj["b"])
			require.NoError(t, err)
			assert.Equal(t, obj, mustGetFields(t, ctx, b, rec))

			deepest, err := b.QueryDepth(ctx, tbl, map[string]any{}, 2)
			require.NoError(t, err)
			require.Len(t, deepest, 1)
			require.NoError(t, b.DeleteRecord(ctx, deepest[0]))

			obj = map[string]any{"a": "a2", "b": map[string]any{"c": nil}, "d": map[string]any{"e": "e"}}
			assert.Equal(t, obj, mustGetFields(t, ctx, b, rec))

			got, err = b.Get(ctx, rec, "b")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"c": nil}, got)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	values := []map[string]any{
		{},
		{"s": "x", "n": 1.5, "t": true, "f": false, "none": nil},
		{"empty": map[string]any{}, "list": []any{}},
		{"deep": map[string]any{"a": map[string]any{"b": map[string]any{"c": "bottom"}}}},
		{"mixed": []any{"x", map[string]any{"k": "v"}, 2.0, map[string]any{"k": []any{"y", map[string]any{"z": true}}}}},
		{"nested lists": []any{[]any{1.0, 2.0}, "tail"}},
	}
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			b, tbl := setup(t, bc.open(t))
			for _, v := range values {
				rec, err := b.Insert(ctx, tbl, v)
				require.NoError(t, err)
				assert.Equal(t, v, mustGetFields(t, ctx, b, rec))

				b.ClearCache()
				assert.Equal(t, v, mustGetFields(t, ctx, b, rec), "round trip must not depend on the cache")
			}
		})
	}
}

func TestInsertStampsDepth(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{
		"depth": 42,
		"a":     map[string]any{"b": map[string]any{"c": 1.0}},
		"l":     []any{map[string]any{"x": "y"}},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(0), rawField(t, ctx, rec, "depth"), "caller depth is ignored")

	for depth, want := range []int{1, 2, 1} {
		got, err := b.QueryDepth(ctx, tbl, map[string]any{}, depth)
		require.NoError(t, err)
		assert.Len(t, got, want, "records at depth %d", depth)
	}

	fields := mustGetFields(t, ctx, b, rec)
	assert.NotContains(t, fields, "depth")
	assert.NotContains(t, fields["a"].(map[string]any), "depth")

	got, err := b.Get(ctx, rec, "depth")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdatePreservesUntouchedFields(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{
		"keep":   map[string]any{"x": "x"},
		"list":   []any{map[string]any{"y": "y"}},
		"scalar": "s",
		"change": "old",
	})
	require.NoError(t, err)
	before := mustGetFields(t, ctx, b, rec)

	rec, err = b.Update(ctx, rec, map[string]any{"change": "new"})
	require.NoError(t, err)

	after := mustGetFields(t, ctx, b, rec)
	assert.Equal(t, "new", after["change"])
	delete(before, "change")
	delete(after, "change")
	assert.Equal(t, before, after)
	assert.Equal(t, 3, count(t, ctx, tbl))
}

func TestUpdateKeepsDepthOfExistingRecord(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{"a": map[string]any{"b": "b"}})
	require.NoError(t, err)
	childID := linkedID(t, ctx, rec, "a")

	// a new subtree under the depth-1 child lands at depth 2
	rec, err = b.Update(ctx, rec, map[string]any{"a": map[string]any{"n": map[string]any{"m": "m"}}})
	require.NoError(t, err)

	atTwo, err := b.QueryDepth(ctx, tbl, map[string]any{"m": "m"}, 2)
	require.NoError(t, err)
	assert.Len(t, atTwo, 1)

	child, err := tbl.Get(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), rawField(t, ctx, child, "depth"))
	assert.Equal(t, float64(0), rawField(t, ctx, rec, "depth"))
}

func TestReferencePromotionUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{"b": map[string]any{"c": "c", "k": "k"}})
	require.NoError(t, err)
	before := linkedID(t, ctx, rec, "b")

	rec, err = b.Update(ctx, rec, map[string]any{"b": map[string]any{"c": "c2"}})
	require.NoError(t, err)
	assert.Equal(t, before, linkedID(t, ctx, rec, "b"))
	assert.Equal(t, map[string]any{"b": map[string]any{"c": "c2", "k": "k"}}, mustGetFields(t, ctx, b, rec))
	assert.Equal(t, 2, count(t, ctx, tbl))
}

func TestReferenceDemotionCascades(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{
		"b": map[string]any{"c": map[string]any{"d": "d"}, "l": []any{map[string]any{"e": "e"}}},
	})
	require.NoError(t, err)
	require.Equal(t, 4, count(t, ctx, tbl))
	childID := linkedID(t, ctx, rec, "b")

	rec, err = b.Update(ctx, rec, map[string]any{"b": 7.0})
	require.NoError(t, err)
	assertGone(t, ctx, tbl, childID)
	assert.Equal(t, 1, count(t, ctx, tbl), "grandchildren go with the child")
	assert.Equal(t, map[string]any{"b": 7.0}, mustGetFields(t, ctx, b, rec))
}

func TestReferenceReplacedByList(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{"b": map[string]any{"c": "c"}})
	require.NoError(t, err)
	childID := linkedID(t, ctx, rec, "b")

	rec, err = b.Set(ctx, rec, "b", []any{map[string]any{"x": "x"}})
	require.NoError(t, err)
	assertGone(t, ctx, tbl, childID)
	assert.Equal(t, map[string]any{"b": []any{map[string]any{"x": "x"}}}, mustGetFields(t, ctx, b, rec))
	assert.Equal(t, 2, count(t, ctx, tbl))
}

func TestSequenceReplacementCascades(t *testing.T) {
	newValues := map[string]any{
		"scalar": "s",
		"nested": map[string]any{"n": "n"},
		"list":   []any{map[string]any{"z": "z"}, 3.0},
	}
	for name, newValue := range newValues {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, tbl := setup(t, store.NewMemoryStore())

			rec, err := b.Insert(ctx, tbl, map[string]any{
				"l": []any{map[string]any{"x": 1.0}, "plain", map[string]any{"y": map[string]any{"w": "w"}}},
			})
			require.NoError(t, err)
			require.Equal(t, 4, count(t, ctx, tbl))

			old := rawField(t, ctx, rec, "l").(*store.List).Elements()
			rec, err = b.Set(ctx, rec, "l", newValue)
			require.NoError(t, err)

			for _, e := range old {
				if id, ok := box.DecodeLink(e.(string)); ok {
					assertGone(t, ctx, tbl, id)
				}
			}
			assert.Equal(t, map[string]any{"l": newValue}, mustGetFields(t, ctx, b, rec))
		})
	}
}

func TestScalarReplacedByNested(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{"a": "a"})
	require.NoError(t, err)

	rec, err = b.Set(ctx, rec, "a", map[string]any{"x": map[string]any{"y": "y"}})
	require.NoError(t, err)
	assert.True(t, box.IsLink(rawField(t, ctx, rec, "a")))
	assert.Equal(t, map[string]any{"a": map[string]any{"x": map[string]any{"y": "y"}}}, mustGetFields(t, ctx, b, rec))
	assert.Equal(t, 3, count(t, ctx, tbl))
}

func TestDanglingReferenceResolvesToNil(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{
		"child": map[string]any{"c": "c"},
		"list":  []any{"first", map[string]any{"d": "d"}, "last"},
	})
	require.NoError(t, err)
	require.NotNil(t, mustGetFields(t, ctx, b, rec)["child"])

	// bypass the box and delete both children in the store directly
	childID := linkedID(t, ctx, rec, "child")
	listID, _ := box.DecodeLink(rawField(t, ctx, rec, "list").(*store.List).Elements()[1].(string))
	for _, id := range []string{childID, listID} {
		r, err := tbl.Get(ctx, id)
		require.NoError(t, err)
		require.NoError(t, r.Delete(ctx))
	}

	assert.Equal(t, map[string]any{
		"child": nil,
		"list":  []any{"first", nil, "last"},
	}, mustGetFields(t, ctx, b, rec))

	got, err := b.Get(ctx, rec, "child")
	require.NoError(t, err)
	assert.Nil(t, got)

	// updating and deleting across dangling links is fine too
	rec, err = b.Update(ctx, rec, map[string]any{"child": map[string]any{"c": "again"}, "list": "gone"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"child": map[string]any{"c": "again"}, "list": "gone"}, mustGetFields(t, ctx, b, rec))
	require.NoError(t, b.DeleteRecord(ctx, rec))
	assert.Equal(t, 0, count(t, ctx, tbl))
}

func TestDeleteRecordCascades(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			ctx := context.Background()
			b, tbl := setup(t, bc.open(t))

			keep, err := b.Insert(ctx, tbl, map[string]any{"keep": map[string]any{"me": "me"}})
			require.NoError(t, err)
			rec, err := b.Insert(ctx, tbl, map[string]any{
				"a": map[string]any{"b": map[string]any{"c": "c"}},
				"l": []any{map[string]any{"x": []any{map[string]any{"y": "y"}}}, 1.0},
			})
			require.NoError(t, err)
			require.Equal(t, 7, count(t, ctx, tbl))

			require.NoError(t, b.DeleteRecord(ctx, rec))
			assert.Equal(t, 2, count(t, ctx, tbl))
			assertGone(t, ctx, tbl, rec.ID())
			assert.Equal(t, map[string]any{"keep": map[string]any{"me": "me"}}, mustGetFields(t, ctx, b, keep))
		})
	}
}

func TestSequenceOrderPreserved(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	seq := []any{"a", map[string]any{"i": 1.0}, "b", map[string]any{"i": 2.0}, nil, true, map[string]any{"i": 3.0}}
	rec, err := b.Insert(ctx, tbl, map[string]any{"seq": seq})
	require.NoError(t, err)

	got, err := b.Get(ctx, rec, "seq")
	require.NoError(t, err)
	assert.Equal(t, seq, got)
}

func TestTypedCallerValues(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{
		"tags":  []string{"x", "y"},
		"attrs": map[string]string{"k": "v"},
		"n":     3,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"tags":  []any{"x", "y"},
		"attrs": map[string]any{"k": "v"},
		"n":     3.0,
	}, mustGetFields(t, ctx, b, rec))
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	_, err := b.Insert(ctx, tbl, map[string]any{"kind": "a", "sub": map[string]any{"kind": "a"}})
	require.NoError(t, err)
	_, err = b.Insert(ctx, tbl, map[string]any{"kind": "b"})
	require.NoError(t, err)

	all, err := b.Query(ctx, tbl, map[string]any{"kind": "a"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	match := map[string]any{"kind": "a"}
	roots, err := b.QueryDepth(ctx, tbl, match, 0)
	require.NoError(t, err)
	assert.Len(t, roots, 1)
	assert.Equal(t, map[string]any{"kind": "a"}, match, "match must not be modified")

	for _, r := range roots {
		assert.NotContains(t, mustGetFields(t, ctx, b, r), "depth")
	}
}

// flakyBackend counts reads and fails on demand.
type flakyBackend struct {
	store.Backend
	gets      int
	failAfter int // fail every Get past this many, when positive
	getErr    error
	putErr    error
}

func (f *flakyBackend) Get(ctx context.Context, collection, key string) (map[string]any, error) {
	f.gets++
	if f.getErr != nil && f.gets > f.failAfter {
		return nil, f.getErr
	}
	return f.Backend.Get(ctx, collection, key)
}

func (f *flakyBackend) Put(ctx context.Context, collection, key string, doc map[string]any) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Backend.Put(ctx, collection, key, doc)
}

func TestCacheServesRepeatReads(t *testing.T) {
	ctx := context.Background()
	fb := &flakyBackend{Backend: store.NewMemoryStore()}
	b, tbl := setup(t, fb)

	flat, err := b.Insert(ctx, tbl, map[string]any{"x": "x", "y": 1.0})
	require.NoError(t, err)
	b.ClearCache()

	fb.gets = 0
	mustGetFields(t, ctx, b, flat)
	assert.Equal(t, 1, fb.gets)
	mustGetFields(t, ctx, b, flat)
	assert.Equal(t, 1, fb.gets, "second read is served from the cache")

	for i := 0; i < 2; i++ {
		v, err := b.Get(ctx, flat, "x")
		require.NoError(t, err)
		assert.Equal(t, "x", v)
	}
	assert.Equal(t, 2, fb.gets)

	nested, err := b.Insert(ctx, tbl, map[string]any{"a": map[string]any{"b": map[string]any{"c": "c"}}})
	require.NoError(t, err)
	b.ClearCache()

	fb.gets = 0
	first := mustGetFields(t, ctx, b, nested)
	cold := fb.gets
	fb.gets = 0
	assert.Equal(t, first, mustGetFields(t, ctx, b, nested))
	assert.Less(t, fb.gets, cold)
}

func TestCacheInvalidatedByWrites(t *testing.T) {
	ctx := context.Background()
	b, tbl := setup(t, store.NewMemoryStore())

	rec, err := b.Insert(ctx, tbl, map[string]any{"a": "x", "n": map[string]any{"v": 1.0}})
	require.NoError(t, err)

	v, err := b.Get(ctx, rec, "a")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	mustGetFields(t, ctx, b, rec)

	rec, err = b.Set(ctx, rec, "a", "y")
	require.NoError(t, err)
	v, err = b.Get(ctx, rec, "a")
	require.NoError(t, err)
	assert.Equal(t, "y", v)

	rec, err = b.Update(ctx, rec, map[string]any{"n": map[string]any{"v": 2.0}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "y", "n": map[string]any{"v": 2.0}}, mustGetFields(t, ctx, b, rec))

	v, err = b.Get(ctx, rec, "n")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": 2.0}, v)

	child, err := b.QueryDepth(ctx, tbl, map[string]any{}, 1)
	require.NoError(t, err)
	require.Len(t, child, 1)
	require.NoError(t, b.DeleteRecord(ctx, child[0]))
	assert.Equal(t, map[string]any{"a": "y", "n": nil}, mustGetFields(t, ctx, b, rec))
}

func TestStorageErrorPropagates(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk on fire")
	fb := &flakyBackend{Backend: store.NewMemoryStore()}
	b, tbl := setup(t, fb)

	rec, err := b.Insert(ctx, tbl, map[string]any{"a": map[string]any{"b": map[string]any{"c": "c"}}})
	require.NoError(t, err)
	b.ClearCache()

	fb.getErr = boom
	_, err = b.GetFields(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, box.ErrStorage))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, b.Cache().Len(), "failed reads must not be cached")

	_, err = b.Get(ctx, rec, "a")
	assert.True(t, errors.Is(err, box.ErrStorage))

	fb.getErr = nil
	assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": "c"}}}, mustGetFields(t, ctx, b, rec))

	// fail halfway down the tree: only the levels read in full stay cached
	b.ClearCache()
	fb.gets = 0
	fb.failAfter = 2
	fb.getErr = boom
	_, err = b.GetFields(ctx, rec)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, b.Cache().Len())

	fb.getErr = nil
	fb.putErr = boom
	_, err = b.Insert(ctx, tbl, map[string]any{"x": "x"})
	assert.True(t, errors.Is(err, box.ErrStorage))
	assert.True(t, errors.Is(err, boom))

	_, err = b.Set(ctx, rec, "a", "flat")
	assert.True(t, errors.Is(err, box.ErrStorage))
}
