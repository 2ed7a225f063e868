// Package embedding implements the embedding service (spec.md C4): a
// registry of configured embedding models backed by a single cache and a
// memoised adapter per model. Grounded on the teacher's EmbeddingService
// in embed.go/embedder.go, generalized from a single default embedder to
// a full registry with add/remove/set-default semantics.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/teeksss/modularmind-rag/internal/rag/cache"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/providers"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
)

// Service holds the model registry, the default model id, one shared
// (optionally tiered) cache and a memoised adapter per model id.
type Service struct {
	mu        sync.RWMutex
	configs   map[string]model.EmbeddingModelConfig
	adapters  map[string]providers.Adapter
	limiters  map[string]*rate.Limiter
	defaultID string
	cache     *cache.TieredCache
}

// New creates a Service seeded with the given model configs. The first
// config, or the one matching defaultModelID if non-empty, becomes the
// default. c becomes the local (in-memory LRU) tier; attach a remote tier
// with SetRemoteTier.
func New(c *cache.Cache, defaultModelID string, configs ...model.EmbeddingModelConfig) (*Service, error) {
	s := &Service{
		configs:  make(map[string]model.EmbeddingModelConfig),
		adapters: make(map[string]providers.Adapter),
		limiters: make(map[string]*rate.Limiter),
		cache:    &cache.TieredCache{Local: c},
	}
	for _, cfg := range configs {
		if err := s.addModelLocked(cfg); err != nil {
			return nil, err
		}
	}
	if defaultModelID != "" {
		if _, ok := s.configs[defaultModelID]; !ok {
			return nil, rerr.New("embedding.New", rerr.ModelNotFound, fmt.Errorf("model %q not registered", defaultModelID))
		}
		s.defaultID = defaultModelID
	}
	return s, nil
}

// AddModel registers a new model config and constructs its adapter right
// away; adapters do no network I/O or model loading until their first
// Embed/EmbedBatch call.
func (s *Service) AddModel(cfg model.EmbeddingModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addModelLocked(cfg)
}

func (s *Service) addModelLocked(cfg model.EmbeddingModelConfig) error {
	adapter, err := providers.New(cfg)
	if err != nil {
		return rerr.New("embedding.AddModel", rerr.ProviderAuth, err).WithDetails(map[string]interface{}{"model_id": cfg.ID})
	}
	s.configs[cfg.ID] = cfg
	s.adapters[cfg.ID] = adapter
	if cfg.RateLimitRPM > 0 {
		s.limiters[cfg.ID] = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), cfg.RateLimitRPM)
	} else {
		delete(s.limiters, cfg.ID)
	}
	if s.defaultID == "" {
		s.defaultID = cfg.ID
	}
	return nil
}

// RemoveModel unregisters a model. If it was the default, a new default
// is chosen arbitrarily from what remains, or cleared if the registry is
// now empty.
func (s *Service) RemoveModel(modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[modelID]; !ok {
		return rerr.New("embedding.RemoveModel", rerr.ModelNotFound, fmt.Errorf("model %q not registered", modelID))
	}
	delete(s.configs, modelID)
	delete(s.adapters, modelID)
	delete(s.limiters, modelID)
	if s.defaultID == modelID {
		s.defaultID = ""
		for id := range s.configs {
			s.defaultID = id
			break
		}
	}
	return nil
}

// SetRemoteTier attaches a second-level cache consulted only when the
// in-memory tier misses, e.g. a cache.RedisTier shared across instances.
func (s *Service) SetRemoteTier(remote cache.RemoteTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remote = remote
}

// SetDefaultModel changes the default model id.
func (s *Service) SetDefaultModel(modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[modelID]; !ok {
		return rerr.New("embedding.SetDefaultModel", rerr.ModelNotFound, fmt.Errorf("model %q not registered", modelID))
	}
	s.defaultID = modelID
	return nil
}

// DefaultModel returns the current default model id.
func (s *Service) DefaultModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultID
}

func (s *Service) resolve(modelID string) (model.EmbeddingModelConfig, providers.Adapter, *rate.Limiter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if modelID == "" {
		modelID = s.defaultID
	}
	if modelID == "" {
		return model.EmbeddingModelConfig{}, nil, nil, rerr.New("embedding.resolve", rerr.ModelNotFound, fmt.Errorf("no default model configured"))
	}
	cfg, ok := s.configs[modelID]
	if !ok {
		return model.EmbeddingModelConfig{}, nil, nil, rerr.New("embedding.resolve", rerr.ModelNotFound, fmt.Errorf("model %q not registered", modelID))
	}
	return cfg, s.adapters[modelID], s.limiters[modelID], nil
}

// CreateEmbedding embeds a single text under modelID (or the default).
// Cache lookups and inserts are keyed by (modelID, text).
func (s *Service) CreateEmbedding(ctx context.Context, text string, modelID string) ([]float64, error) {
	cfg, adapter, limiter, err := s.resolve(modelID)
	if err != nil {
		return nil, err
	}
	key := cache.Key(cfg.ID, text)
	if cfg.CacheEnabled && s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			return v, nil
		}
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, rerr.New("embedding.CreateEmbedding", rerr.RateLimited, err)
		}
	}
	v, err := adapter.Embed(ctx, text)
	if err != nil {
		return nil, classifyAdapterError("embedding.CreateEmbedding", err)
	}
	if cfg.CacheEnabled && s.cache != nil {
		s.cache.Set(ctx, key, v)
	}
	return v, nil
}

// CreateBatchEmbeddings embeds many texts under modelID (or the
// default), reusing cached vectors and only calling the adapter for the
// uncached subset. Order is preserved in the result. If the adapter call
// for the uncached subset fails, the whole call fails — no partial
// result is returned.
func (s *Service) CreateBatchEmbeddings(ctx context.Context, texts []string, modelID string) ([][]float64, error) {
	cfg, adapter, limiter, err := s.resolve(modelID)
	if err != nil {
		return nil, err
	}

	result := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		key := cache.Key(cfg.ID, t)
		if cfg.CacheEnabled && s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				result[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, rerr.New("embedding.CreateBatchEmbeddings", rerr.RateLimited, err)
		}
	}
	vectors, err := adapter.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, classifyAdapterError("embedding.CreateBatchEmbeddings", err)
	}

	for j, i := range missIdx {
		result[i] = vectors[j]
		if cfg.CacheEnabled && s.cache != nil {
			s.cache.Set(ctx, cache.Key(cfg.ID, texts[i]), vectors[j])
		}
	}
	return result, nil
}

// CalculateSimilarity embeds both texts under the same model and returns
// their cosine similarity in [-1, 1].
func (s *Service) CalculateSimilarity(ctx context.Context, text1, text2, modelID string) (float64, error) {
	v1, err := s.CreateEmbedding(ctx, text1, modelID)
	if err != nil {
		return 0, err
	}
	v2, err := s.CreateEmbedding(ctx, text2, modelID)
	if err != nil {
		return 0, err
	}
	if len(v1) != len(v2) {
		return 0, rerr.New("embedding.CalculateSimilarity", rerr.DimensionMismatch, fmt.Errorf("dimension mismatch: %d vs %d", len(v1), len(v2)))
	}
	return cosineSimilarity(v1, v2), nil
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// classifyAdapterError wraps a raw adapter error into the closed taxonomy
// when it isn't already a *rerr.Error, defaulting to Transport since most
// adapter failures at this layer are network/API failures.
func classifyAdapterError(op string, err error) error {
	if _, ok := err.(*rerr.Error); ok {
		return err
	}
	return rerr.New(op, rerr.Transport, err)
}
