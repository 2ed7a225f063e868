// Package index implements the vector index adapter layer (spec.md C7):
// a uniform contract over several local and remote index backends.
// Grounded on the teacher's VectorDB registry pattern
// (internal/rag/vector_interface.go: RegisterVectorDB/NewVectorDB over a
// map[string]VectorDBFactory), generalized from one Milvus-shaped
// interface to the full initialize/add/search/delete/save/load/optimize/
// stats contract spec.md §4.7 specifies.
package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

// ScoredID is one ranked search hit.
type ScoredID struct {
	DocID      string
	Similarity float64
}

// Stats reports adapter-specific operational counters.
type Stats struct {
	Backend    string                 `json:"backend"`
	Count      int                    `json:"count"`
	Deleted    int                    `json:"deleted"`
	Dimensions int                    `json:"dimensions"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// Adapter is the uniform contract every index backend implements.
type Adapter interface {
	Initialize(ctx context.Context) error
	AddItem(ctx context.Context, vec []float32, docID string) error
	AddItemsBatch(ctx context.Context, vecs [][]float32, docIDs []string) error
	Search(ctx context.Context, query []float32, topK int, minScore float64) ([]ScoredID, error)
	DeleteItem(ctx context.Context, docID string) error
	Save(ctx context.Context, path string) error
	Load(ctx context.Context, path string) error
	Optimize(ctx context.Context) error
	RebuildIndex(ctx context.Context, vecs [][]float32, docIDs []string) error
	Stats(ctx context.Context) (Stats, error)
}

// Factory constructs an Adapter for an index configuration.
type Factory func(dims int, metricKind metric.Metric, params map[string]interface{}) (Adapter, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a backend factory to the global registry.
func Register(backend string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[backend] = f
}

// New creates an Adapter for the named backend.
func New(backend string, dims int, metricKind metric.Metric, params map[string]interface{}) (Adapter, error) {
	mu.RLock()
	f, ok := factories[backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported index backend: %s", backend)
	}
	return f(dims, metricKind, params)
}
