package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/cache"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

func localCfg(id string, dims int) model.EmbeddingModelConfig {
	return model.EmbeddingModelConfig{
		ID:            id,
		Provider:      model.ProviderLocalSentenceXform,
		RemoteModelID: id,
		Dimensions:    dims,
		CacheEnabled:  true,
	}
}

func TestCreateEmbeddingCachesResult(t *testing.T) {
	c := cache.New(cache.WithMaxSize(10))
	svc, err := New(c, "", localCfg("m1", 8))
	require.NoError(t, err)

	v1, err := svc.CreateEmbedding(context.Background(), "hello world", "")
	require.NoError(t, err)
	assert.Len(t, v1, 8)

	v2, err := svc.CreateEmbedding(context.Background(), "hello world", "")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestCreateBatchEmbeddingsPreservesOrder(t *testing.T) {
	c := cache.New(cache.WithMaxSize(10))
	svc, err := New(c, "", localCfg("m1", 8))
	require.NoError(t, err)

	texts := []string{"alpha", "beta", "gamma"}
	vecs, err := svc.CreateBatchEmbeddings(context.Background(), texts, "")
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for i, text := range texts {
		single, err := svc.CreateEmbedding(context.Background(), text, "")
		require.NoError(t, err)
		assert.Equal(t, single, vecs[i])
	}
}

func TestRemoveDefaultModelReassigns(t *testing.T) {
	c := cache.New(cache.WithMaxSize(10))
	svc, err := New(c, "", localCfg("m1", 4), localCfg("m2", 4))
	require.NoError(t, err)
	require.Equal(t, "m1", svc.DefaultModel())

	require.NoError(t, svc.RemoveModel("m1"))
	assert.Equal(t, "m2", svc.DefaultModel())

	require.NoError(t, svc.RemoveModel("m2"))
	assert.Equal(t, "", svc.DefaultModel())
}

func TestCalculateSimilarityIdenticalText(t *testing.T) {
	c := cache.New(cache.WithMaxSize(10))
	svc, err := New(c, "", localCfg("m1", 16))
	require.NoError(t, err)

	sim, err := svc.CalculateSimilarity(context.Background(), "same text", "same text", "")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCreateEmbeddingUnknownModel(t *testing.T) {
	c := cache.New(cache.WithMaxSize(10))
	svc, err := New(c, "", localCfg("m1", 4))
	require.NoError(t, err)

	_, err = svc.CreateEmbedding(context.Background(), "x", "does-not-exist")
	require.Error(t, err)
}

// fakeRemoteTier is an in-memory stand-in for cache.RedisTier so tests can
// exercise the tiered lookup without a real Redis instance.
type fakeRemoteTier struct {
	sets int
	data map[string][]float64
}

func newFakeRemoteTier() *fakeRemoteTier { return &fakeRemoteTier{data: make(map[string][]float64)} }

func (f *fakeRemoteTier) Get(_ context.Context, key string) ([]float64, bool) {
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeRemoteTier) Set(_ context.Context, key string, vector []float64, _ time.Duration) {
	f.sets++
	f.data[key] = vector
}

func TestRemoteTierServesOnLocalMissAndPopulatesLocal(t *testing.T) {
	c := cache.New(cache.WithMaxSize(10))
	svc, err := New(c, "", localCfg("m1", 4))
	require.NoError(t, err)

	remote := newFakeRemoteTier()
	svc.SetRemoteTier(remote)

	key := cache.Key("m1", "hello world")
	remote.data[key] = []float64{1, 2, 3, 4}

	v, err := svc.CreateEmbedding(context.Background(), "hello world", "")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, v)

	cached, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3, 4}, cached)
}

func TestCreateEmbeddingWritesThroughToRemoteTier(t *testing.T) {
	c := cache.New(cache.WithMaxSize(10))
	svc, err := New(c, "", localCfg("m1", 4))
	require.NoError(t, err)

	remote := newFakeRemoteTier()
	svc.SetRemoteTier(remote)

	_, err = svc.CreateEmbedding(context.Background(), "fresh text", "")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.sets)
}

func TestRateLimitedModelThrottlesUncachedCalls(t *testing.T) {
	c := cache.New(cache.WithMaxSize(10))
	cfg := localCfg("m1", 4)
	cfg.RateLimitRPM = 1
	cfg.CacheEnabled = false
	svc, err := New(c, "", cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = svc.CreateEmbedding(context.Background(), "first call consumes the burst", "")
	require.NoError(t, err)

	_, err = svc.CreateEmbedding(ctx, "second call must wait past the deadline", "")
	require.Error(t, err)
	assert.True(t, rerr.Is(err, rerr.RateLimited))
}
