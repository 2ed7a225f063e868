package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/index"
	"github.com/teeksss/modularmind-rag/internal/rag/metric"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

// fakeEmbedder returns the vector set in vectors for a text, or else a
// deterministic 3-dim vector whose first component is the sum of the
// text's runes, without pulling in a real provider.
type fakeEmbedder struct {
	defaultModel string
	vectors      map[string][]float64
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{defaultModel: "test-model", vectors: make(map[string][]float64)}
}

func (f *fakeEmbedder) vectorFor(text string) []float64 {
	if v, ok := f.vectors[text]; ok {
		return v
	}
	var sum float64
	for _, r := range text {
		sum += float64(r)
	}
	return []float64{sum, 1, 0}
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text, modelID string) ([]float64, error) {
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) CreateBatchEmbeddings(ctx context.Context, texts []string, modelID string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.vectorFor(t)
	}
	return out, nil
}

func (f *fakeEmbedder) DefaultModel() string {
	return f.defaultModel
}

func newTestStore(t *testing.T) (*Store, *fakeEmbedder) {
	t.Helper()
	s := New(t.TempDir())
	adapter, err := index.New("hnsw", 3, metric.Cosine, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddShard(context.Background(), "test-model", adapter, 3, metric.Cosine))
	return s, newFakeEmbedder()
}

func TestAddBatchAndSearchByText(t *testing.T) {
	ctx := context.Background()
	s, emb := newTestStore(t)

	emb.vectors["alpha one"] = []float64{1, 0, 0}
	emb.vectors["beta two"] = []float64{0, 1, 0}

	chunks := []*model.Chunk{
		{ID: "c1", DocumentID: "d1", Text: "alpha one", Metadata: map[string]interface{}{"lang": "en"}},
		{ID: "c2", DocumentID: "d1", Text: "beta two", Metadata: map[string]interface{}{"lang": "fr"}},
	}
	require.NoError(t, s.AddBatch(ctx, chunks, emb))

	results, err := s.SearchByText(ctx, "alpha one", 5, nil, 0, "", emb)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].Chunk.ID)

	filtered, err := s.SearchByText(ctx, "alpha one", 5, map[string]interface{}{"lang": "fr"}, 0, "", emb)
	require.NoError(t, err)
	for _, r := range filtered {
		assert.Equal(t, "fr", r.Chunk.Metadata["lang"])
	}
}

func TestHybridSearchFusesDenseAndSparse(t *testing.T) {
	ctx := context.Background()
	s, emb := newTestStore(t)

	emb.vectors["rust memory safety"] = []float64{1, 0, 0}
	emb.vectors["go concurrency patterns"] = []float64{0, 1, 0}
	emb.vectors["go concurrency"] = []float64{0, 1, 0}

	chunks := []*model.Chunk{
		{ID: "c1", DocumentID: "d1", Text: "rust memory safety"},
		{ID: "c2", DocumentID: "d1", Text: "go concurrency patterns"},
	}
	require.NoError(t, s.AddBatch(ctx, chunks, emb))

	results, err := s.HybridSearch(ctx, "go concurrency", 5, nil, "", emb, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c2", results[0].Chunk.ID)
	assert.Equal(t, model.SourceHybrid, results[0].Source)
}

func TestMetadataSearchScansWithoutVector(t *testing.T) {
	ctx := context.Background()
	s, emb := newTestStore(t)
	chunks := []*model.Chunk{
		{ID: "c1", DocumentID: "d1", Text: "one", Metadata: map[string]interface{}{"kind": "a"}},
		{ID: "c2", DocumentID: "d1", Text: "two", Metadata: map[string]interface{}{"kind": "b"}},
	}
	require.NoError(t, s.AddBatch(ctx, chunks, emb))

	results, err := s.MetadataSearch(map[string]interface{}{"kind": "b"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].Chunk.ID)
}

func TestDeleteRemovesFromShardAndChunkStore(t *testing.T) {
	ctx := context.Background()
	s, emb := newTestStore(t)
	chunks := []*model.Chunk{{ID: "c1", DocumentID: "d1", Text: "removable"}}
	require.NoError(t, s.AddBatch(ctx, chunks, emb))

	require.NoError(t, s.Delete(ctx, "c1"))

	results, err := s.MetadataSearch(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := New(dir)
	adapter, err := index.New("hnsw", 3, metric.Cosine, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddShard(ctx, "test-model", adapter, 3, metric.Cosine))
	emb := newFakeEmbedder()
	chunks := []*model.Chunk{{ID: "c1", DocumentID: "d1", Text: "persisted chunk"}}
	require.NoError(t, s.AddBatch(ctx, chunks, emb))
	require.NoError(t, s.Save(ctx))

	reloaded := New(dir)
	adapter2, err := index.New("hnsw", 3, metric.Cosine, nil)
	require.NoError(t, err)
	require.NoError(t, reloaded.AddShard(ctx, "test-model", adapter2, 3, metric.Cosine))
	require.NoError(t, reloaded.Load(ctx))

	results, err := reloaded.MetadataSearch(nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
}

func TestRebuildIndexFromChunkStore(t *testing.T) {
	ctx := context.Background()
	s, emb := newTestStore(t)
	chunks := []*model.Chunk{
		{ID: "c1", DocumentID: "d1", Text: "one"},
		{ID: "c2", DocumentID: "d1", Text: "two"},
	}
	require.NoError(t, s.AddBatch(ctx, chunks, emb))

	require.NoError(t, s.RebuildIndex(ctx, "test-model"))

	results, err := s.SearchByText(ctx, "one", 5, nil, 0, "", emb)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}
