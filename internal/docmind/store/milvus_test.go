package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docmind/pkg/component/milvus"
)

type fakeCollections struct {
	dropped  []string
	ensured  map[string]int
	rows     map[string][]milvus.Row
	hits     []milvus.Hit
	lastTopK int
}

func newFakeCollections() *fakeCollections {
	return &fakeCollections{ensured: map[string]int{}, rows: map[string][]milvus.Row{}}
}

func (f *fakeCollections) CollectionName(key string) string { return "docmind_" + key }

func (f *fakeCollections) EnsureCollection(_ context.Context, name string, dim int) error {
	f.ensured[name] = dim
	return nil
}

func (f *fakeCollections) Insert(_ context.Context, name string, rows []milvus.Row) error {
	f.rows[name] = append(f.rows[name], rows...)
	return nil
}

func (f *fakeCollections) Search(_ context.Context, _ string, _ []float32, topK int) ([]milvus.Hit, error) {
	f.lastTopK = topK
	return f.hits, nil
}

func (f *fakeCollections) DropCollection(_ context.Context, name string) error {
	f.dropped = append(f.dropped, name)
	if _, ok := f.ensured[name]; !ok {
		return errors.New("collection not found")
	}
	return nil
}

func TestMilvusStore(t *testing.T) {
	ctx := context.Background()
	fc := newFakeCollections()

	vs, err := newMilvusFactory(fc)(ctx, "abc", 2)
	require.NoError(t, err)
	name := vs.(*Milvus).Collection()
	assert.True(t, strings.HasPrefix(name, "docmind_abc_"), name)
	assert.Equal(t, 2, fc.ensured[name])
	assert.Equal(t, BackendMilvus, vs.Name())

	page := 3
	require.NoError(t, vs.Insert(ctx, []Record{
		{ID: "0", Ordinal: 0, Vector: []float32{1, 0}, Text: "sky", Source: "a.pdf", Page: &page},
		{ID: "1", Ordinal: 1, Vector: []float32{0, 1}, Text: "grass", Source: "b.txt"},
	}))
	assert.Equal(t, 2, vs.Len())

	rows := fc.rows[name]
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].Page)
	assert.Equal(t, int64(-1), rows[1].Page)
	assert.Equal(t, int64(1), rows[1].Seq)

	fc.hits = []milvus.Hit{
		{Row: milvus.Row{ID: "1", Text: "grass", Page: -1, Seq: 1}, Score: 0.5},
		{Row: milvus.Row{ID: "0", Text: "sky", Page: 3, Seq: 0}, Score: 0.5},
	}
	got, err := vs.Search(ctx, []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, fc.lastTopK, "k clamped to record count")
	require.Len(t, got, 2)
	assert.Equal(t, "0", got[0].ID, "ties ordered by ordinal")
	require.NotNil(t, got[0].Page)
	assert.Equal(t, 3, *got[0].Page)
	assert.Nil(t, got[1].Page)

	empty, err := vs.Search(ctx, []float32{1, 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, vs.Close(ctx))
	require.NoError(t, vs.Close(ctx))
	assert.Equal(t, []string{name}, fc.dropped)

	_, err = vs.Search(ctx, []float32{1, 1}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, vs.Insert(ctx, records([]float32{1, 0})), ErrClosed)
}

func TestMilvusRebuildKeepsLiveCollection(t *testing.T) {
	ctx := context.Background()
	fc := newFakeCollections()
	factory := newMilvusFactory(fc)

	old, err := factory(ctx, "abc", 2)
	require.NoError(t, err)
	rebuilt, err := factory(ctx, "abc", 2)
	require.NoError(t, err)

	oldName := old.(*Milvus).Collection()
	newName := rebuilt.(*Milvus).Collection()
	assert.NotEqual(t, oldName, newName)
	assert.Empty(t, fc.dropped)

	require.NoError(t, old.Close(ctx))
	assert.Equal(t, []string{oldName}, fc.dropped)
	assert.Contains(t, fc.ensured, newName)
}
