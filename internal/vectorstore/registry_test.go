package vectorstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryConfig{Dir: dir, Basename: "index"})
	require.NoError(t, err)
	return r
}

func rec(docID int64, idx int, text string) Record {
	return Record{Text: text, ChunkIndex: idx, DocumentID: docID, Filename: "notes.pdf"}
}

func TestRegistry_InsertAssignsSequentialIDs(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	key := CourseTenant(7)

	ids, err := r.Insert(key, [][]float32{{1, 0}, {0, 1}}, []Record{rec(1, 0, "a"), rec(1, 1, "b")})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, ids)

	ids, err = r.Insert(key, [][]float32{{1, 1}}, []Record{rec(2, 0, "c")})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)

	assert.Equal(t, 3, r.Size(key))
}

func TestRegistry_InsertArityMismatch(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())

	_, err := r.Insert(CourseTenant(1), [][]float32{{1, 0}}, []Record{rec(1, 0, "a"), rec(1, 1, "b")})
	assert.ErrorIs(t, err, ErrArityMismatch)
}

func TestRegistry_InsertDimensionMismatch(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	key := CourseTenant(1)

	_, err := r.Insert(key, [][]float32{{1, 0}}, []Record{rec(1, 0, "a")})
	require.NoError(t, err)

	// Wrong dimension is rejected and the index stays unchanged.
	_, err = r.Insert(key, [][]float32{{1, 0, 0}}, []Record{rec(1, 1, "b")})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, r.Size(key))
}

func TestRegistry_SearchOrdering(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	key := CourseTenant(7)

	_, err := r.Insert(key,
		[][]float32{{1, 0}, {0, 1}, {0.9, 0.1}},
		[]Record{rec(1, 0, "first"), rec(1, 1, "second"), rec(1, 2, "third")})
	require.NoError(t, err)

	results, err := r.Search(key, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(0), results[0].VectorID)
	assert.Equal(t, int64(2), results[1].VectorID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
	assert.InDelta(t, 0.99388, results[1].Similarity, 1e-3)
	assert.Equal(t, "first", results[0].Record.Text)
	assert.Equal(t, "third", results[1].Record.Text)
}

func TestRegistry_SearchOrderingSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	key := CourseTenant(7)

	r := newTestRegistry(t, dir)
	_, err := r.Insert(key,
		[][]float32{{1, 0}, {0, 1}, {0.9, 0.1}},
		[]Record{rec(1, 0, "first"), rec(1, 1, "second"), rec(1, 2, "third")})
	require.NoError(t, err)

	// The insert persisted synchronously; a fresh registry rediscovers the
	// files and reproduces the exact ranking.
	fresh := newTestRegistry(t, dir)
	loaded, err := fresh.DiscoverAndLoadAll()
	require.NoError(t, err)
	require.Equal(t, 1, loaded)

	results, err := fresh.Search(key, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(0), results[0].VectorID)
	assert.Equal(t, int64(2), results[1].VectorID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
	assert.InDelta(t, 0.99388, results[1].Similarity, 1e-3)
}

func TestRegistry_SearchUnknownTenantIsEmpty(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())

	results, err := r.Search(CourseTenant(999), []float32{1, 0}, 5)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestRegistry_SearchUnknownTenantDoesNotRetain(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())

	// Probing tenants that exist neither in memory nor on disk must not
	// grow the tenant map.
	for i := int64(1); i <= 100; i++ {
		results, err := r.Search(CourseTenant(i), []float32{1, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.tenants)
}

func TestRegistry_SearchNonPositiveK(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	key := CourseTenant(1)
	_, err := r.Insert(key, [][]float32{{1, 0}}, []Record{rec(1, 0, "a")})
	require.NoError(t, err)

	results, err := r.Search(key, []float32{1, 0}, 0)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestRegistry_TenantsAreIsolated(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())

	_, err := r.Insert(CourseTenant(1), [][]float32{{1, 0}}, []Record{rec(1, 0, "course one")})
	require.NoError(t, err)
	_, err = r.Insert(DocumentTenant(1), [][]float32{{1, 0}}, []Record{rec(1, 0, "doc one")})
	require.NoError(t, err)

	results, err := r.Search(CourseTenant(1), []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "course one", results[0].Record.Text)
}

func TestRegistry_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	key := CourseTenant(7)

	r := newTestRegistry(t, dir)
	_, err := r.Insert(key,
		[][]float32{{1, 0}, {0, 1}},
		[]Record{rec(1, 0, "alpha"), rec(2, 0, "beta")})
	require.NoError(t, err)

	// Files follow the <basename>_<kind>_<id> convention.
	_, err = os.Stat(filepath.Join(dir, "index_course_7.idx"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "index_course_7.meta"))
	require.NoError(t, err)

	// A fresh registry over the same directory lazily reloads on search.
	fresh := newTestRegistry(t, dir)
	results, err := fresh.Search(key, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].VectorID)
	assert.Equal(t, "beta", results[0].Record.Text)
	assert.Equal(t, 2, fresh.Size(key))
}

func TestRegistry_DiscoverAndLoadAll(t *testing.T) {
	dir := t.TempDir()

	r := newTestRegistry(t, dir)
	_, err := r.Insert(CourseTenant(1), [][]float32{{1, 0}}, []Record{rec(1, 0, "a")})
	require.NoError(t, err)
	_, err = r.Insert(DocumentTenant(5), [][]float32{{1, 0}}, []Record{rec(5, 0, "b")})
	require.NoError(t, err)

	// Unrelated files in the directory are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.txt"), []byte("x"), 0o644))

	fresh := newTestRegistry(t, dir)
	loaded, err := fresh.DiscoverAndLoadAll()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 1, fresh.Size(CourseTenant(1)))
	assert.Equal(t, 1, fresh.Size(DocumentTenant(5)))
}

func TestRegistry_DeleteVectorsMasksResults(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	key := CourseTenant(7)

	_, err := r.Insert(key,
		[][]float32{{1, 0}, {0.9, 0.1}, {0, 1}},
		[]Record{rec(1, 0, "a"), rec(1, 1, "b"), rec(2, 0, "c")})
	require.NoError(t, err)

	deleted := r.DeleteVectors(key, []int64{0, 0, 99})
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 2, r.Size(key))

	// The tombstoned best match is filtered before truncation, so the
	// runner-up fills the slot.
	results, err := r.Search(key, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].VectorID)
}

func TestRegistry_DeleteDocument(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	key := CourseTenant(7)

	_, err := r.Insert(key,
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
		[]Record{rec(10, 0, "a"), rec(10, 1, "b"), rec(20, 0, "c")})
	require.NoError(t, err)

	deleted := r.DeleteDocument(key, 10)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, r.Size(key))

	results, err := r.Search(key, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(20), results[0].Record.DocumentID)
}

func TestRegistry_TombstonesSurviveReload(t *testing.T) {
	dir := t.TempDir()
	key := DocumentTenant(3)

	r := newTestRegistry(t, dir)
	_, err := r.Insert(key, [][]float32{{1, 0}, {0, 1}}, []Record{rec(3, 0, "a"), rec(3, 1, "b")})
	require.NoError(t, err)
	r.DeleteVectors(key, []int64{0})

	fresh := newTestRegistry(t, dir)
	results, err := fresh.Search(key, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].VectorID)
}

func TestRegistry_Compact(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	key := CourseTenant(7)

	_, err := r.Insert(key,
		[][]float32{{1, 0}, {0, 1}, {0.5, 0.5}},
		[]Record{rec(1, 0, "a"), rec(1, 1, "b"), rec(2, 0, "c")})
	require.NoError(t, err)
	r.DeleteVectors(key, []int64{1})

	remap, err := r.Compact(key)
	require.NoError(t, err)

	// Live ids 0 and 2 collapse to 0 and 1, preserving order.
	assert.Equal(t, map[int64]int64{0: 0, 2: 1}, remap)
	assert.Equal(t, 2, r.Size(key))

	results, err := r.Search(key, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(0), results[0].VectorID)
	assert.Equal(t, "a", results[0].Record.Text)
	assert.Equal(t, "c", results[1].Record.Text)

	// Ids restart from the compacted size on the next insert.
	ids, err := r.Insert(key, [][]float32{{0, 1}}, []Record{rec(3, 0, "d")})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestRegistry_CompactNoTombstonesIsNoop(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	key := CourseTenant(7)

	_, err := r.Insert(key, [][]float32{{1, 0}}, []Record{rec(1, 0, "a")})
	require.NoError(t, err)

	remap, err := r.Compact(key)
	require.NoError(t, err)
	assert.Nil(t, remap)
}

func TestParseIndexFilename(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())

	tests := []struct {
		name string
		want TenantKey
		ok   bool
	}{
		{"index_course_7.idx", CourseTenant(7), true},
		{"index_doc_12.idx", DocumentTenant(12), true},
		{"index_course_7.meta", TenantKey{}, false},
		{"other_course_7.idx", TenantKey{}, false},
		{"index_widget_7.idx", TenantKey{}, false},
		{"index_course_x.idx", TenantKey{}, false},
		{"index_course_7", TenantKey{}, false},
	}

	for _, tt := range tests {
		key, ok := r.parseIndexFilename(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		if tt.ok {
			assert.Equal(t, tt.want, key, tt.name)
		}
	}
}
