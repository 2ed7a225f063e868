package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func TestNewRejectsUnregisteredProvider(t *testing.T) {
	_, err := New(model.EmbeddingModelConfig{Provider: "does-not-exist"})
	assert.Error(t, err)
}

func TestRegisteredIncludesBuiltInProviders(t *testing.T) {
	assert.Contains(t, Registered(), model.ProviderLocalSentenceXform)
	assert.Contains(t, Registered(), model.ProviderOpenAI)
}

func TestLocalSentenceTransformerIsDeterministic(t *testing.T) {
	cfg := model.EmbeddingModelConfig{
		Provider:      model.ProviderLocalSentenceXform,
		RemoteModelID: "test-model",
		Dimensions:    16,
	}
	a, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 16, a.Dimensions())

	v1, err := a.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	v2, err := a.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	v3, err := a.Embed(context.Background(), "something else entirely")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
}

func TestLocalHTTPRequiresBaseURL(t *testing.T) {
	_, err := New(model.EmbeddingModelConfig{Provider: model.ProviderLocalHTTP})
	assert.Error(t, err)
}
