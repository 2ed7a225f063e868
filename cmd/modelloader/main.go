// Command modelloader is the model-registration CLI of spec.md §6: one
// `init` subcommand that registers local embedding/LLM model metadata
// and writes the four enumerated config files (embedding, router,
// vector store, ingestion) to a config directory. Grounded on the
// teacher's config/config.go (JSON-file config with env var overrides);
// stdlib `flag` is used rather than a third-party CLI framework
// (spf13/cobra appears elsewhere in the pack, but is a needless
// dependency for a single subcommand with five boolean/string flags).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: modelloader init [flags]")
		os.Exit(2)
	}
	switch os.Args[1] {
	case "init":
		if err := runInit(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "modelloader: init:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "modelloader: unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

var knownProviders = []string{"openai", "azure", "cohere", "huggingface", "google", "anthropic"}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "overwrite existing config files")
	addMultilingual := fs.Bool("add-multilingual", false, "register multilingual embedding models")
	addAnthropic := fs.Bool("add-anthropic", false, "register Anthropic as an available LLM provider")
	addLocalLLM := fs.Bool("add-local-llm", false, "register a local HTTP LLM endpoint")
	configDir := fs.String("config-dir", "./config", "directory to write the generated config files into")

	keyFlags := make(map[string]*string, len(knownProviders))
	for _, p := range knownProviders {
		keyFlags[p] = fs.String(p+"-key", "", fmt.Sprintf("API key for the %s provider", p))
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	keys := make(map[string]string)
	for p, v := range keyFlags {
		if *v != "" {
			keys[p] = *v
		}
	}

	if err := os.MkdirAll(*configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	embeddingCfg := buildEmbeddingConfig(*addMultilingual, keys)
	routerCfg := buildRouterConfig(embeddingCfg)
	storeCfg := buildStoreConfig(embeddingCfg)
	ingestCfg := buildIngestConfig()

	generatorCfg := buildGeneratorConfig(*addAnthropic, *addLocalLLM, keys)

	files := map[string]interface{}{
		"embedding.json": embeddingCfg,
		"router.json":    routerCfg,
		"store.json":     storeCfg,
		"ingest.json":    ingestCfg,
		"generator.json": generatorCfg,
	}
	for name, cfg := range files {
		path := filepath.Join(*configDir, name)
		if !*force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
		raw, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}

// embeddingConfig mirrors spec.md §6's "Embedding service" config shape.
type embeddingConfig struct {
	Models        []model.EmbeddingModelConfig `json:"models"`
	DefaultModel  string                       `json:"default_model"`
	Cache         cacheConfig                  `json:"cache"`
}

type cacheConfig struct {
	Enabled        bool   `json:"enabled"`
	MaxSize        int    `json:"max_size"`
	TTLSeconds     int    `json:"ttl_seconds"`
	Persistent     bool   `json:"persistent"`
	PersistentPath string `json:"persistent_path,omitempty"`
}

func buildEmbeddingConfig(addMultilingual bool, keys map[string]string) embeddingConfig {
	models := []model.EmbeddingModelConfig{
		{
			ID:            "openai-text-embedding-3-small",
			Provider:      model.ProviderOpenAI,
			RemoteModelID: "text-embedding-3-small",
			Dimensions:    1536,
			APIKeyEnv:     "OPENAI_API_KEY",
			BatchSize:     100,
			Normalize:     true,
			CacheEnabled:  true,
		},
	}
	if addMultilingual {
		models = append(models, model.EmbeddingModelConfig{
			ID:            "cohere-multilingual-v3",
			Provider:      model.ProviderCohere,
			RemoteModelID: "embed-multilingual-v3.0",
			Dimensions:    1024,
			APIKeyEnv:     "COHERE_API_KEY",
			BatchSize:     96,
			Normalize:     true,
			CacheEnabled:  true,
		})
	}
	if _, ok := keys["huggingface"]; ok {
		models = append(models, model.EmbeddingModelConfig{
			ID:            "huggingface-default",
			Provider:      model.ProviderHuggingFace,
			RemoteModelID: "sentence-transformers/all-MiniLM-L6-v2",
			Dimensions:    384,
			APIKeyEnv:     "HUGGINGFACE_API_KEY",
			BatchSize:     64,
			Normalize:     true,
			CacheEnabled:  true,
		})
	}

	return embeddingConfig{
		Models:       models,
		DefaultModel: models[0].ID,
		Cache: cacheConfig{
			Enabled:    true,
			MaxSize:    10000,
			TTLSeconds: 3600,
			Persistent: true,
			PersistentPath: "./config/embedding_cache.json",
		},
	}
}

// routerConfig mirrors spec.md §6's "Model router" config shape.
type routerConfig struct {
	DefaultModelID    string            `json:"default_model_id"`
	FallbackModelID   string            `json:"fallback_model_id"`
	LanguageModels    map[string]string `json:"language_models"`
	DomainModels      map[string]string `json:"domain_models"`
	EnableAutoRouting bool              `json:"enable_auto_routing"`
	EnableEnsemble    bool              `json:"enable_ensemble"`
	EnsembleMethod    string            `json:"ensemble_method"`
	ModelWeights      map[string]float64 `json:"model_weights,omitempty"`
}

func buildRouterConfig(emb embeddingConfig) routerConfig {
	return routerConfig{
		DefaultModelID:    emb.DefaultModel,
		FallbackModelID:   emb.DefaultModel,
		LanguageModels:    map[string]string{},
		DomainModels:      map[string]string{},
		EnableAutoRouting: false,
		EnableEnsemble:    false,
		EnsembleMethod:    "weighted_average",
	}
}

// storeConfig mirrors spec.md §6's "Vector store" config shape.
type storeConfig struct {
	IndexType            string            `json:"index_type"`
	Metric               string            `json:"metric"`
	Dimensions           map[string]int    `json:"dimensions"`
	DefaultEmbeddingModel string           `json:"default_embedding_model"`
	EmbeddingModels       []string         `json:"embedding_models"`
	StoragePath           string           `json:"storage_path"`
}

func buildStoreConfig(emb embeddingConfig) storeConfig {
	dims := make(map[string]int, len(emb.Models))
	ids := make([]string, 0, len(emb.Models))
	for _, m := range emb.Models {
		dims[m.ID] = m.Dimensions
		ids = append(ids, m.ID)
	}
	return storeConfig{
		IndexType:             "hnsw",
		Metric:                "cosine",
		Dimensions:            dims,
		DefaultEmbeddingModel: emb.DefaultModel,
		EmbeddingModels:       ids,
		StoragePath:           "./data/index",
	}
}

// ingestConfig mirrors spec.md §6's "Ingestion" config shape.
type ingestConfig struct {
	ConfigPath string `json:"config_path"`
	MaxJobs    int    `json:"max_jobs"`
}

func buildIngestConfig() ingestConfig {
	return ingestConfig{ConfigPath: "./config/agents", MaxJobs: 5}
}

// generatorConfig is not one of the four enumerated config files but is
// a natural companion written by `init` so --add-anthropic/--add-local-llm
// have somewhere to land; the generator contract itself (spec.md §6) is
// external and wire-protocol-agnostic, so this just records which
// provider/model gollm should be constructed with at startup.
type generatorConfig struct {
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	APIKeyEnv string            `json:"api_key_env,omitempty"`
	LocalURL  string            `json:"local_url,omitempty"`
	Providers map[string]string `json:"providers,omitempty"`
}

func buildGeneratorConfig(addAnthropic, addLocalLLM bool, keys map[string]string) generatorConfig {
	cfg := generatorConfig{
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		APIKeyEnv: "OPENAI_API_KEY",
		Providers: map[string]string{},
	}
	if addAnthropic {
		cfg.Providers["anthropic"] = "claude-3-5-sonnet-20241022"
	}
	if addLocalLLM {
		cfg.LocalURL = "http://localhost:11434"
	}
	for p := range keys {
		cfg.Providers[p] = "configured"
	}
	return cfg
}
