package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

func TestHNSWAddAndSearch(t *testing.T) {
	ctx := context.Background()
	adapter, err := New("hnsw", 3, metric.Cosine, nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Initialize(ctx))

	require.NoError(t, adapter.AddItemsBatch(ctx,
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0.9, 0.1, 0}},
		[]string{"a", "b", "c"}))

	hits, err := adapter.Search(ctx, []float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].DocID)
}

func TestHNSWDeleteIsTombstonedUntilOptimize(t *testing.T) {
	ctx := context.Background()
	adapter, err := New("hnsw", 2, metric.L2, nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Initialize(ctx))
	require.NoError(t, adapter.AddItemsBatch(ctx, [][]float32{{1, 1}, {2, 2}}, []string{"x", "y"}))

	require.NoError(t, adapter.DeleteItem(ctx, "x"))
	hits, err := adapter.Search(ctx, []float32{1, 1}, 5, 0)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "x", h.DocID)
	}

	stats, err := adapter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)

	require.NoError(t, adapter.Optimize(ctx))
	stats, err = adapter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Deleted)
	assert.Equal(t, 1, stats.Count)
}

func TestHNSWRebuildIndexResetsState(t *testing.T) {
	ctx := context.Background()
	adapter, err := New("hnsw", 2, metric.L2, nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Initialize(ctx))
	require.NoError(t, adapter.AddItemsBatch(ctx, [][]float32{{1, 1}}, []string{"old"}))

	require.NoError(t, adapter.RebuildIndex(ctx, [][]float32{{3, 3}, {4, 4}}, []string{"p", "q"}))
	stats, err := adapter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)

	hits, err := adapter.Search(ctx, []float32{3, 3}, 5, 0)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "old", h.DocID)
	}
}

func TestChromemAddSearchDelete(t *testing.T) {
	ctx := context.Background()
	adapter, err := New("chromem", 3, metric.Cosine, nil)
	require.NoError(t, err)
	require.NoError(t, adapter.Initialize(ctx))

	require.NoError(t, adapter.AddItemsBatch(ctx,
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]string{"doc1", "doc2"}))

	hits, err := adapter.Search(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc1", hits[0].DocID)

	require.NoError(t, adapter.DeleteItem(ctx, "doc1"))
	stats, err := adapter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}

func TestUnknownBackendErrors(t *testing.T) {
	_, err := New("does-not-exist", 3, metric.Cosine, nil)
	assert.Error(t, err)
}
