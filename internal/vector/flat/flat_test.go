package flat_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicdocs/backend/internal/vector"
	"civicdocs/backend/internal/vector/flat"
)

func entry(docID string, idx int, vec []float32, content string) vector.Entry {
	return vector.Entry{
		ID:     vector.ChunkID(docID, idx),
		Vector: vec,
		Metadata: vector.Metadata{
			DocumentID: docID,
			ChunkIndex: idx,
			Content:    content,
		},
	}
}

func TestFlat_RoundTripSearch(t *testing.T) {
	ix, err := flat.Open(t.TempDir(), 3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ix.Add(ctx, []vector.Entry{
		entry("doc-1", 0, []float32{1, 0, 0}, "zoning ordinance"),
		entry("doc-1", 1, []float32{0, 1, 0}, "budget amendment"),
		entry("doc-2", 0, []float32{0, 0, 1}, "meeting minutes"),
	}))

	hits, err := ix.Search(ctx, []float32{0.99, 0.01, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "zoning ordinance", hits[0].Content)
	assert.Greater(t, hits[0].Similarity, float32(0.95))
	assert.GreaterOrEqual(t, hits[0].Similarity, hits[1].Similarity)
}

func TestFlat_DimensionMismatch(t *testing.T) {
	ix, err := flat.Open(t.TempDir(), 3)
	require.NoError(t, err)

	ctx := context.Background()
	err = ix.Add(ctx, []vector.Entry{entry("doc-1", 0, []float32{1, 0}, "short")})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)

	require.NoError(t, ix.Add(ctx, []vector.Entry{entry("doc-1", 0, []float32{1, 0, 0}, "ok")}))
	_, err = ix.Search(ctx, []float32{1, 0}, 5)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestFlat_TombstonesFilteredFromSearch(t *testing.T) {
	ix, err := flat.Open(t.TempDir(), 2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ix.Add(ctx, []vector.Entry{
		entry("doc-1", 0, []float32{1, 0}, "keep"),
		entry("doc-1", 1, []float32{0.9, 0.1}, "remove"),
	}))

	require.NoError(t, ix.Delete(ctx, []string{vector.ChunkID("doc-1", 1)}))
	assert.Equal(t, 1, ix.Len())

	hits, err := ix.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "keep", hits[0].Content)
}

func TestFlat_DeleteByDocument(t *testing.T) {
	ix, err := flat.Open(t.TempDir(), 2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ix.Add(ctx, []vector.Entry{
		entry("doc-1", 0, []float32{1, 0}, "a"),
		entry("doc-1", 1, []float32{0, 1}, "b"),
		entry("doc-2", 0, []float32{1, 1}, "c"),
	}))

	require.NoError(t, ix.DeleteByDocument(ctx, "doc-1"))
	assert.Equal(t, 1, ix.Len())

	hits, err := ix.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-2", hits[0].Metadata.DocumentID)
}

func TestFlat_AddOverwritesExistingID(t *testing.T) {
	ix, err := flat.Open(t.TempDir(), 2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ix.Add(ctx, []vector.Entry{entry("doc-1", 0, []float32{1, 0}, "old text")}))
	require.NoError(t, ix.Delete(ctx, []string{vector.ChunkID("doc-1", 0)}))
	require.NoError(t, ix.Add(ctx, []vector.Entry{entry("doc-1", 0, []float32{0, 1}, "new text")}))

	assert.Equal(t, 1, ix.Len())
	hits, err := ix.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new text", hits[0].Content)
	assert.Greater(t, hits[0].Similarity, float32(0.99))
}

func TestFlat_SearchRunsDuringConcurrentMutation(t *testing.T) {
	dir := t.TempDir()
	ix, err := flat.Open(dir, 3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ix.Add(ctx, []vector.Entry{entry("seed", 0, []float32{1, 0, 0}, "seed")}))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				doc := fmt.Sprintf("doc-%d-%d", w, i)
				assert.NoError(t, ix.Add(ctx, []vector.Entry{entry(doc, 0, []float32{1, 0, 0}, doc)}))

				hits, err := ix.Search(ctx, []float32{1, 0, 0}, 5)
				assert.NoError(t, err)
				assert.NotEmpty(t, hits)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 81, ix.Len())

	reopened, err := flat.Open(dir, 3)
	require.NoError(t, err)
	assert.Equal(t, 81, reopened.Len())
}

func TestFlat_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	ix, err := flat.Open(dir, 2)
	require.NoError(t, err)
	require.NoError(t, ix.Add(ctx, []vector.Entry{
		entry("doc-1", 0, []float32{1, 0}, "survives restart"),
		entry("doc-1", 1, []float32{0, 1}, "tombstoned"),
	}))
	require.NoError(t, ix.Delete(ctx, []string{vector.ChunkID("doc-1", 1)}))

	// Both sidecar artifacts exist on disk.
	_, err = os.Stat(filepath.Join(dir, "vectors.bin"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "meta.json"))
	require.NoError(t, err)

	reopened, err := flat.Open(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	hits, err := reopened.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "survives restart", hits[0].Content)
	assert.Greater(t, hits[0].Similarity, float32(0.99))
}

func TestFlat_ReopenDimensionConflict(t *testing.T) {
	dir := t.TempDir()
	ix, err := flat.Open(dir, 2)
	require.NoError(t, err)
	require.NoError(t, ix.Add(context.Background(), []vector.Entry{entry("doc-1", 0, []float32{1, 0}, "x")}))

	_, err = flat.Open(dir, 4)
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestFlat_DeletingSidecarsResetsIndex(t *testing.T) {
	dir := t.TempDir()
	ix, err := flat.Open(dir, 2)
	require.NoError(t, err)
	require.NoError(t, ix.Add(context.Background(), []vector.Entry{entry("doc-1", 0, []float32{1, 0}, "x")}))

	require.NoError(t, os.Remove(filepath.Join(dir, "vectors.bin")))
	require.NoError(t, os.Remove(filepath.Join(dir, "meta.json")))

	fresh, err := flat.Open(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Len())
}
