// Package providers implements the embedding adapter layer (spec.md C3):
// a uniform embed/embed_batch contract over several remote and local
// embedding providers, following the registration pattern from the
// teacher's rag/providers/register.go, generalized to every provider
// enumerated in model.Provider.
package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

// Adapter is the uniform contract every embedding provider implements.
type Adapter interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
}

// Factory constructs an Adapter from a model configuration. Factories
// must fail fast (return an error) when a required API key is missing,
// per spec.md §4.3.
type Factory func(cfg model.EmbeddingModelConfig) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = make(map[model.Provider]Factory)
)

// Register adds a provider factory to the global registry. Called from
// each provider file's init().
func Register(p model.Provider, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[p] = f
}

// New creates an Adapter for cfg.Provider, lazily — adapters should not
// perform network I/O until their first Embed/EmbedBatch call.
func New(cfg model.EmbeddingModelConfig) (Adapter, error) {
	mu.RLock()
	f, ok := factories[cfg.Provider]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	return f(cfg)
}

// Registered lists the providers currently registered.
func Registered() []model.Provider {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]model.Provider, 0, len(factories))
	for p := range factories {
		out = append(out, p)
	}
	return out
}
