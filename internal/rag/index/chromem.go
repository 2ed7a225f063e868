package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

func init() {
	Register("chromem", newChromem)
}

// chromemAdapter is grounded on the teacher's rag/chromem.go ChromemDB:
// chromem.NewPersistentDB/NewDB, a per-name collection map, and
// AddDocument/QueryEmbedding. Unlike the teacher's copy this adapter
// never calls an embedding function of its own — every document
// arrives pre-embedded from the caller, so the embedding func passed
// to chromem-go is a stub that only satisfies the API and is never
// actually invoked.
type chromemAdapter struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	path       string
	dims       int
	m          metric.Metric
}

func newChromem(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	name, _ := params["collection"].(string)
	if name == "" {
		name = "modularmind"
	}
	path, _ := params["path"].(string)
	return &chromemAdapter{name: name, path: path, dims: dims, m: m}, nil
}

func unusedEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: embedding func should never be invoked; all documents carry precomputed embeddings")
}

func (a *chromemAdapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var db *chromem.DB
	var err error
	if a.path != "" {
		if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
			return fmt.Errorf("chromem: create data dir: %w", err)
		}
		db, err = chromem.NewPersistentDB(a.path, false)
		if err != nil {
			return fmt.Errorf("chromem: open persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	a.db = db
	col := db.GetCollection(a.name, unusedEmbeddingFunc)
	if col == nil {
		col, err = db.CreateCollection(a.name, nil, unusedEmbeddingFunc)
		if err != nil {
			return fmt.Errorf("chromem: create collection: %w", err)
		}
	}
	a.collection = col
	return nil
}

func (a *chromemAdapter) AddItem(ctx context.Context, vec []float32, docID string) error {
	return a.AddItemsBatch(ctx, [][]float32{vec}, []string{docID})
}

func (a *chromemAdapter) AddItemsBatch(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if len(vecs) != len(docIDs) {
		return fmt.Errorf("vecs/docIDs length mismatch")
	}
	a.mu.RLock()
	col := a.collection
	a.mu.RUnlock()
	for i, vec := range vecs {
		v := vec
		if a.m == metric.Cosine {
			v = metric.Normalize(v)
		}
		doc := chromem.Document{ID: docIDs[i], Embedding: v}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("chromem: add document %s: %w", docIDs[i], err)
		}
	}
	return nil
}

func (a *chromemAdapter) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]ScoredID, error) {
	a.mu.RLock()
	col := a.collection
	a.mu.RUnlock()
	q := query
	if a.m == metric.Cosine {
		q = metric.Normalize(q)
	}
	n := topK
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, q, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}
	out := make([]ScoredID, 0, len(results))
	for _, r := range results {
		// chromem reports cosine similarity; map it through the cosine
		// kernel so scores match what the other adapters return.
		sim := metric.DistanceToSimilarity(metric.Cosine, 1-float64(r.Similarity))
		if sim < minScore {
			continue
		}
		out = append(out, ScoredID{DocID: r.ID, Similarity: sim})
	}
	sortDescending(out)
	return out, nil
}

func (a *chromemAdapter) DeleteItem(ctx context.Context, docID string) error {
	a.mu.RLock()
	col := a.collection
	a.mu.RUnlock()
	return col.Delete(ctx, nil, nil, docID)
}

// Save/Load are no-ops: a persistent chromemAdapter writes through on
// every mutation, and an in-memory one has nothing durable to save.
func (a *chromemAdapter) Save(ctx context.Context, path string) error { return nil }
func (a *chromemAdapter) Load(ctx context.Context, path string) error { return nil }

func (a *chromemAdapter) Optimize(ctx context.Context) error { return nil }

func (a *chromemAdapter) RebuildIndex(ctx context.Context, vecs [][]float32, docIDs []string) error {
	a.mu.Lock()
	if a.db != nil {
		newCol, err := a.db.CreateCollection(a.name, nil, unusedEmbeddingFunc)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("chromem: recreate collection for rebuild: %w", err)
		}
		a.collection = newCol
	}
	a.mu.Unlock()
	return a.AddItemsBatch(ctx, vecs, docIDs)
}

func (a *chromemAdapter) Stats(ctx context.Context) (Stats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Stats{Backend: "chromem", Count: a.collection.Count(), Dimensions: a.dims}, nil
}
