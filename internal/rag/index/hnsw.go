package index

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

func init() {
	Register("hnsw", newHNSW)
}

// hnswAdapter wraps coder/hnsw, a pure-Go HNSW graph. Deletion is
// logical: HNSW graphs do not support true removal, so deleted doc ids
// are tombstoned and filtered out of search results post-hoc, per
// spec.md §4.7's backend invariant for HNSW/FAISS/IVF/PQ.
type hnswAdapter struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[string]
	m        metric.Metric
	dims     int
	deleted  map[string]struct{}
	vectors  map[string][]float32 // tracked independently for rebuild/optimize
	nextID   int
	capacity int
}

func newHNSW(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	capacity := 1000
	if n, ok := paramInt(params, "initial_capacity"); ok && n > 0 {
		capacity = n
	}
	return &hnswAdapter{
		m:        m,
		dims:     dims,
		deleted:  make(map[string]struct{}),
		vectors:  make(map[string][]float32),
		capacity: capacity,
	}, nil
}

// Initialize opens the graph. The ef search-quality parameter is fixed at
// open time per spec.md §4.7's HNSW invariant; coder/hnsw tunes this via
// its EfSearch field on the graph rather than a constructor argument.
func (h *hnswAdapter) Initialize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = hnsw.NewGraph[string]()
	return nil
}

func (h *hnswAdapter) AddItem(ctx context.Context, vec []float32, docID string) error {
	return h.AddItemsBatch(ctx, [][]float32{vec}, []string{docID})
}

// AddItemsBatch grows the graph's effective capacity by max(2x, 1.5x
// required) as new items push it over its current tracked capacity,
// mirroring the HNSW backend's auto-grow invariant (the underlying
// library itself has no fixed capacity, so this only tracks the
// bookkeeping the spec calls for).
func (h *hnswAdapter) AddItemsBatch(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if len(vecs) != len(docIDs) {
		return fmt.Errorf("vecs/docIDs length mismatch")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.graph == nil {
		h.graph = hnsw.NewGraph[string]()
	}

	required := h.nextID + len(vecs)
	if required > h.capacity {
		grown := h.capacity * 2
		if alt := int(float64(required) * 1.5); alt > grown {
			grown = alt
		}
		h.capacity = grown
	}

	nodes := make([]hnsw.Node[string], 0, len(vecs))
	for i, vec := range vecs {
		v := vec
		if h.m == metric.Cosine {
			v = metric.Normalize(v)
		}
		nodes = append(nodes, hnsw.MakeNode(docIDs[i], v))
		h.vectors[docIDs[i]] = v
		h.nextID++
	}
	h.graph.Add(nodes...)
	return nil
}

func (h *hnswAdapter) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]ScoredID, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.graph == nil {
		return nil, nil
	}
	q := query
	if h.m == metric.Cosine {
		q = metric.Normalize(q)
	}
	// Over-fetch to compensate for tombstoned ids filtered out below.
	hits := h.graph.Search(q, topK+len(h.deleted))
	out := make([]ScoredID, 0, len(hits))
	for _, n := range hits {
		if _, gone := h.deleted[n.Key]; gone {
			continue
		}
		d := metric.Distance(h.m, q, n.Value)
		sim := metric.DistanceToSimilarity(h.m, d)
		if sim < minScore {
			continue
		}
		out = append(out, ScoredID{DocID: n.Key, Similarity: sim})
		if len(out) >= topK {
			break
		}
	}
	sortDescending(out)
	return out, nil
}

func (h *hnswAdapter) DeleteItem(ctx context.Context, docID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted[docID] = struct{}{}
	return nil
}

func (h *hnswAdapter) rebuildLocked() {
	fresh := hnsw.NewGraph[string]()
	liveVectors := make(map[string][]float32, len(h.vectors)-len(h.deleted))
	nodes := make([]hnsw.Node[string], 0, len(h.vectors))
	for key, vec := range h.vectors {
		if _, gone := h.deleted[key]; gone {
			continue
		}
		liveVectors[key] = vec
		nodes = append(nodes, hnsw.MakeNode(key, vec))
	}
	fresh.Add(nodes...)
	h.graph = fresh
	h.vectors = liveVectors
	h.deleted = make(map[string]struct{})
}

// hnswSnapshot is the on-disk persistence format. The coder/hnsw graph
// itself has no serializer, so Save/Load round-trip the live vectors
// this adapter already tracks for rebuild/optimize and regrow the
// graph from them on Load.
type hnswSnapshot struct {
	Capacity int
	NextID   int
	Vectors  map[string][]float32
}

func (h *hnswAdapter) Save(ctx context.Context, path string) error {
	h.mu.RLock()
	snap := hnswSnapshot{Capacity: h.capacity, NextID: h.nextID, Vectors: make(map[string][]float32, len(h.vectors))}
	for id, vec := range h.vectors {
		if _, gone := h.deleted[id]; gone {
			continue
		}
		snap.Vectors[id] = vec
	}
	h.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("hnsw: create snapshot file: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		return fmt.Errorf("hnsw: encode snapshot: %w", err)
	}
	return nil
}

func (h *hnswAdapter) Load(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("hnsw: open snapshot file: %w", err)
	}
	defer f.Close()

	var snap hnswSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("hnsw: decode snapshot: %w", err)
	}

	ids := make([]string, 0, len(snap.Vectors))
	vecs := make([][]float32, 0, len(snap.Vectors))
	for id, vec := range snap.Vectors {
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}

	h.mu.Lock()
	h.capacity = snap.Capacity
	h.mu.Unlock()
	return h.RebuildIndex(ctx, vecs, ids)
}

// Optimize compacts tombstoned entries by rebuilding the graph from its
// currently live nodes.
func (h *hnswAdapter) Optimize(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.graph == nil || len(h.deleted) == 0 {
		return nil
	}
	h.rebuildLocked()
	return nil
}

func (h *hnswAdapter) RebuildIndex(ctx context.Context, vecs [][]float32, docIDs []string) error {
	h.mu.Lock()
	h.graph = hnsw.NewGraph[string]()
	h.vectors = make(map[string][]float32)
	h.deleted = make(map[string]struct{})
	h.nextID = 0
	h.mu.Unlock()
	return h.AddItemsBatch(ctx, vecs, docIDs)
}

func (h *hnswAdapter) Stats(ctx context.Context) (Stats, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Backend:    "hnsw",
		Count:      len(h.vectors) - len(h.deleted),
		Deleted:    len(h.deleted),
		Dimensions: h.dims,
		Extra:      map[string]interface{}{"capacity": h.capacity},
	}, nil
}

func paramInt(params map[string]interface{}, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func sortDescending(items []ScoredID) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Similarity > items[j-1].Similarity; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
