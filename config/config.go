// Package config loads the on-disk service configuration (spec.md §6) and
// assembles the running components from it: the embedding service, the
// model router, the vector store, the prompt renderer, the ingestion
// manager and the query orchestrator.
//
// Grounded on the teacher's LoadConfig (single raggo.json file, RAGGO_*
// env var overrides layered on top of file values, defaults applied
// first). That shape is kept but generalized from one flat Config struct
// tracking a single Milvus collection to the five-file layout
// cmd/modelloader writes (embedding.json, router.json, store.json,
// ingest.json, generator.json), since the module now runs N embedding
// models across N index backends rather than one provider/one collection.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	raggo "github.com/teeksss/modularmind-rag"
	"github.com/teeksss/modularmind-rag/internal/rag/cache"
	"github.com/teeksss/modularmind-rag/internal/rag/chunk"
	"github.com/teeksss/modularmind-rag/internal/rag/embedding"
	"github.com/teeksss/modularmind-rag/internal/rag/index"
	"github.com/teeksss/modularmind-rag/internal/rag/ingest"
	"github.com/teeksss/modularmind-rag/internal/rag/metric"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/prompt"
	"github.com/teeksss/modularmind-rag/internal/rag/router"
	"github.com/teeksss/modularmind-rag/internal/rag/store"
)

// EmbeddingFile mirrors embedding.json, as written by `modelloader init`.
type EmbeddingFile struct {
	Models       []model.EmbeddingModelConfig `json:"models"`
	DefaultModel string                       `json:"default_model"`
	Cache        CacheFile                    `json:"cache"`
}

// CacheFile mirrors the "cache" object inside embedding.json.
type CacheFile struct {
	Enabled          bool   `json:"enabled"`
	MaxSize          int    `json:"max_size"`
	TTLSeconds       int    `json:"ttl_seconds"`
	Persistent       bool   `json:"persistent"`
	PersistentPath   string `json:"persistent_path,omitempty"`
	RemoteAddr       string `json:"remote_addr,omitempty"`
	RemoteTTLSeconds int    `json:"remote_ttl_seconds,omitempty"`
}

// RouterFile mirrors router.json.
type RouterFile struct {
	DefaultModelID    string             `json:"default_model_id"`
	FallbackModelID   string             `json:"fallback_model_id"`
	LanguageModels    map[string]string  `json:"language_models"`
	DomainModels      map[string]string  `json:"domain_models"`
	EnableAutoRouting bool               `json:"enable_auto_routing"`
	EnableEnsemble    bool               `json:"enable_ensemble"`
	EnsembleMethod    string             `json:"ensemble_method"`
	ModelWeights      map[string]float64 `json:"model_weights,omitempty"`
}

// StoreFile mirrors store.json.
type StoreFile struct {
	IndexType             string         `json:"index_type"`
	Metric                string         `json:"metric"`
	Dimensions            map[string]int `json:"dimensions"`
	DefaultEmbeddingModel string         `json:"default_embedding_model"`
	EmbeddingModels       []string       `json:"embedding_models"`
	StoragePath           string         `json:"storage_path"`
}

// IngestFile mirrors ingest.json.
type IngestFile struct {
	ConfigPath string `json:"config_path"`
	MaxJobs    int    `json:"max_jobs"`
}

// GeneratorFile mirrors generator.json.
type GeneratorFile struct {
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	APIKeyEnv string            `json:"api_key_env,omitempty"`
	LocalURL  string            `json:"local_url,omitempty"`
	Providers map[string]string `json:"providers,omitempty"`
}

// ServiceConfig is the parsed, not-yet-built configuration for one
// running instance of the module.
type ServiceConfig struct {
	Embedding EmbeddingFile
	Router    RouterFile
	Store     StoreFile
	Ingest    IngestFile
	Generator GeneratorFile
}

// Load reads the five config files out of dir. A missing router.json or
// ingest.json is tolerated (both subsystems are optional); a missing
// embedding.json, store.json or generator.json is an error, since the
// orchestrator cannot run without an embedder, a store or a generator.
//
// The generator API key is resolved later, in Build: the variable named
// by generator.json's api_key_env wins, and MODULARMIND_API_KEY is used
// only when that variable is unset or empty.
func Load(dir string) (*ServiceConfig, error) {
	var cfg ServiceConfig

	if err := readRequired(filepath.Join(dir, "embedding.json"), &cfg.Embedding); err != nil {
		return nil, err
	}
	if err := readRequired(filepath.Join(dir, "store.json"), &cfg.Store); err != nil {
		return nil, err
	}
	if err := readRequired(filepath.Join(dir, "generator.json"), &cfg.Generator); err != nil {
		return nil, err
	}
	_ = readOptional(filepath.Join(dir, "router.json"), &cfg.Router)
	_ = readOptional(filepath.Join(dir, "ingest.json"), &cfg.Ingest)

	return &cfg, nil
}

func readRequired(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func readOptional(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return json.Unmarshal(data, v)
}

// generatorAPIKey resolves the generator's API key from the environment
// variable named by APIKeyEnv, falling back to MODULARMIND_API_KEY.
func (c *ServiceConfig) generatorAPIKey() string {
	if c.Generator.APIKeyEnv != "" {
		if v := os.Getenv(c.Generator.APIKeyEnv); v != "" {
			return v
		}
	}
	return os.Getenv("MODULARMIND_API_KEY")
}

// Built holds every long-lived component assembled from a ServiceConfig,
// plus the query engine that sits on top of them.
type Built struct {
	Cache    *cache.Cache
	Embedder *embedding.Service
	Router   *router.Router
	Store    *store.Store
	Prompts  *prompt.Renderer
	Ingest   *ingest.Manager
	Engine   *raggo.Engine
}

// Build constructs every component named by cfg. It registers one index
// shard per embedding model named in store.json, seeds the prompt
// renderer with the built-in question_answer template (persisting the
// template table to prompts.json under ingest.json's config_path when one
// is configured), and -- if ingest.json was present -- constructs and
// loads the ingestion manager.
func Build(cfg *ServiceConfig) (*Built, error) {
	c := buildCache(cfg.Embedding.Cache)

	embedder, err := embedding.New(c, cfg.Embedding.DefaultModel, cfg.Embedding.Models...)
	if err != nil {
		return nil, fmt.Errorf("config: build embedding service: %w", err)
	}
	if addr := cfg.Embedding.Cache.RemoteAddr; addr != "" {
		ttl := time.Duration(cfg.Embedding.Cache.RemoteTTLSeconds) * time.Second
		embedder.SetRemoteTier(cache.NewRedisTier(addr, ttl))
	}

	var rtr *router.Router
	if cfg.Router.DefaultModelID != "" || len(cfg.Router.LanguageModels) > 0 || len(cfg.Router.DomainModels) > 0 {
		rtr = router.New(router.Config{
			DefaultModelID:    cfg.Router.DefaultModelID,
			FallbackModelID:   cfg.Router.FallbackModelID,
			LanguageModels:    cfg.Router.LanguageModels,
			DomainModels:      cfg.Router.DomainModels,
			ModelWeights:      cfg.Router.ModelWeights,
			EnableAutoRouting: cfg.Router.EnableAutoRouting,
			EnableEnsemble:    cfg.Router.EnableEnsemble,
			EnsembleMethod:    router.EnsembleMethod(cfg.Router.EnsembleMethod),
		}, embedder)
	}

	st, err := buildStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	var promptOpts []prompt.Option
	if cfg.Ingest.ConfigPath != "" {
		promptOpts = append(promptOpts, prompt.WithPersistence(cfg.Ingest.ConfigPath))
	}
	prompts := prompt.New(promptOpts...)
	if err := prompts.Register(model.PromptTemplate{
		ID:   "question_answer",
		Type: model.TemplateQA,
		Template: "Answer the question using only the context below.\n\n" +
			"Context:\n{{.context}}\n\nQuestion: {{.question}}\nAnswer:",
		DefaultParameters: map[string]interface{}{"context": "", "question": ""},
	}); err != nil {
		return nil, fmt.Errorf("config: register default template: %w", err)
	}

	engine := raggo.NewEngine(st, embedder, rtr, prompts, raggo.EngineConfig{
		Provider:        cfg.Generator.Provider,
		APIKey:          cfg.generatorAPIKey(),
		DefaultLLMModel: cfg.Generator.Model,
	})

	built := &Built{Cache: c, Embedder: embedder, Router: rtr, Store: st, Prompts: prompts, Engine: engine}

	if cfg.Ingest.ConfigPath != "" {
		maxJobs := cfg.Ingest.MaxJobs
		if maxJobs <= 0 {
			maxJobs = 5
		}
		mgr := ingest.New(ingest.Config{
			ConfigPath: cfg.Ingest.ConfigPath,
			MaxJobs:    maxJobs,
			Store:      st,
			Embedder:   embedder,
			Chunker:    chunk.New(chunk.WithMode(chunk.Paragraph)),
		})
		if err := mgr.Load(); err != nil {
			return nil, fmt.Errorf("config: load ingestion agents: %w", err)
		}
		built.Ingest = mgr
	}

	return built, nil
}

func buildCache(f CacheFile) *cache.Cache {
	if !f.Enabled {
		return cache.New(cache.WithMaxSize(0))
	}
	opts := []cache.Option{cache.WithMaxSize(f.MaxSize)}
	if f.TTLSeconds > 0 {
		opts = append(opts, cache.WithTTL(time.Duration(f.TTLSeconds)*time.Second))
	}
	if f.Persistent && f.PersistentPath != "" {
		opts = append(opts, cache.WithPersistence(f.PersistentPath))
	}
	return cache.New(opts...)
}

func buildStore(f StoreFile) (*store.Store, error) {
	st := store.New(f.StoragePath)
	m := metric.Metric(f.Metric)
	if m == "" {
		m = metric.Cosine
	}
	for _, modelID := range f.EmbeddingModels {
		dims, ok := f.Dimensions[modelID]
		if !ok {
			return nil, fmt.Errorf("config: store.json: no dimensions entry for model %q", modelID)
		}
		adapter, err := index.New(f.IndexType, dims, m, nil)
		if err != nil {
			return nil, fmt.Errorf("config: build %s index for %q: %w", f.IndexType, modelID, err)
		}
		if err := st.AddShard(context.Background(), modelID, adapter, dims, m); err != nil {
			return nil, fmt.Errorf("config: add shard for %q: %w", modelID, err)
		}
	}
	return st, nil
}
