package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func writeJSON(t *testing.T, dir, name string, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func writeMinimalConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeJSON(t, dir, "embedding.json", EmbeddingFile{
		DefaultModel: "fake-model",
		Models: []model.EmbeddingModelConfig{
			{ID: "fake-model", Provider: model.ProviderLocalHTTP, APIBaseURL: "http://127.0.0.1:0", Dimensions: 3, BatchSize: 10},
		},
		Cache: CacheFile{Enabled: true, MaxSize: 100, TTLSeconds: 60},
	})
	writeJSON(t, dir, "store.json", StoreFile{
		IndexType:             "hnsw",
		Metric:                "cosine",
		Dimensions:            map[string]int{"fake-model": 3},
		DefaultEmbeddingModel: "fake-model",
		EmbeddingModels:       []string{"fake-model"},
		StoragePath:           filepath.Join(dir, "index"),
	})
	writeJSON(t, dir, "generator.json", GeneratorFile{
		Provider: "openai",
		Model:    "gpt-4o-mini",
	})
	return dir
}

func TestLoadRequiresEmbeddingStoreAndGenerator(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadToleratesMissingRouterAndIngest(t *testing.T) {
	dir := writeMinimalConfig(t)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "fake-model", cfg.Embedding.DefaultModel)
	assert.Empty(t, cfg.Router.DefaultModelID)
	assert.Empty(t, cfg.Ingest.ConfigPath)
}

func TestBuildAssemblesEngineWithoutRouterOrIngest(t *testing.T) {
	dir := writeMinimalConfig(t)
	cfg, err := Load(dir)
	require.NoError(t, err)

	built, err := Build(cfg)
	require.NoError(t, err)
	assert.NotNil(t, built.Engine)
	assert.NotNil(t, built.Store)
	assert.NotNil(t, built.Embedder)
	assert.Nil(t, built.Router)
	assert.Nil(t, built.Ingest)
}

func TestBuildRejectsStoreModelMissingDimensions(t *testing.T) {
	dir := writeMinimalConfig(t)
	cfg, err := Load(dir)
	require.NoError(t, err)
	cfg.Store.EmbeddingModels = append(cfg.Store.EmbeddingModels, "other-model")

	_, err = Build(cfg)
	assert.Error(t, err)
}

func TestBuildWiresRemoteCacheTierWhenConfigured(t *testing.T) {
	dir := writeMinimalConfig(t)
	var embeddingFile EmbeddingFile
	require.NoError(t, json.Unmarshal(mustReadFile(t, filepath.Join(dir, "embedding.json")), &embeddingFile))
	embeddingFile.Cache.RemoteAddr = "127.0.0.1:63790"
	writeJSON(t, dir, "embedding.json", embeddingFile)

	cfg, err := Load(dir)
	require.NoError(t, err)

	built, err := Build(cfg)
	require.NoError(t, err)
	assert.NotNil(t, built.Embedder)
}

func mustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestBuildWiresIngestManagerWhenConfigured(t *testing.T) {
	dir := writeMinimalConfig(t)
	writeJSON(t, dir, "ingest.json", IngestFile{ConfigPath: filepath.Join(dir, "agents"), MaxJobs: 3})

	cfg, err := Load(dir)
	require.NoError(t, err)

	built, err := Build(cfg)
	require.NoError(t, err)
	assert.NotNil(t, built.Ingest)
	assert.Empty(t, built.Ingest.ListAgents())
}
