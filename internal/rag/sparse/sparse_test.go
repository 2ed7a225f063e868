package sparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func TestBM25SearchRanksByTermOverlap(t *testing.T) {
	ctx := context.Background()
	idx := New(nil)
	require.NoError(t, idx.Add(ctx, &model.Chunk{ID: "a", Text: "the quick brown fox jumps"}))
	require.NoError(t, idx.Add(ctx, &model.Chunk{ID: "b", Text: "a completely unrelated sentence"}))

	results, err := idx.Search(ctx, "quick fox", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ChunkID)
	assert.LessOrEqual(t, results[0].Score, 1.0)
}

func TestBM25RemoveDropsFromResults(t *testing.T) {
	ctx := context.Background()
	idx := New(nil)
	require.NoError(t, idx.Add(ctx, &model.Chunk{ID: "a", Text: "hello world"}))
	require.NoError(t, idx.Remove(ctx, "a"))

	results, err := idx.Search(ctx, "hello", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBM25StopwordsFiltered(t *testing.T) {
	ctx := context.Background()
	idx := New([]string{"the", "a"})
	require.NoError(t, idx.Add(ctx, &model.Chunk{ID: "a", Text: "the cat sat on the mat"}))

	results, err := idx.Search(ctx, "the", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFuseCombinesDenseAndSparse(t *testing.T) {
	dense := []FuseScored{{ChunkID: "x", Dense: 0.9}, {ChunkID: "y", Dense: 0.1}}
	sp := []Result{{ChunkID: "x", Score: 0.2}, {ChunkID: "z", Score: 0.8}}

	results := Fuse(dense, sp, 0.5)
	require.NotEmpty(t, results)
	assert.Equal(t, "x", results[0].Chunk.ID)
}

func TestMatchesFilterDottedPathAndListMembership(t *testing.T) {
	metadata := map[string]interface{}{
		"source": map[string]interface{}{"type": "rss"},
		"tags":   []interface{}{"go", "rag"},
	}
	assert.True(t, MatchesFilter(metadata, map[string]interface{}{"source.type": "rss"}))
	assert.True(t, MatchesFilter(metadata, map[string]interface{}{"tags": "go"}))
	assert.True(t, MatchesFilter(metadata, map[string]interface{}{"tags": []interface{}{"rag", "other"}}))
	assert.False(t, MatchesFilter(metadata, map[string]interface{}{"missing.field": "x"}))
}
