package index

import (
	"context"
	"fmt"
	"sync"

	faiss "github.com/blevesearch/go-faiss"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

func init() {
	Register("faiss", newFaissFlat)
	Register("ivf", newIVF)
	Register("pq", newPQ)
	Register("ivfpq", newIVFPQ)
}

// faissCore backs the FAISS/IVF/PQ/IVFPQ adapters. All four share the
// same lifecycle: trained initially on dummy vectors so the index is
// immediately searchable, retrained with real data once the live count
// first crosses the configured threshold, and rebuilt from scratch
// (reset + train + add) on every update or delete, since none of these
// index families support in-place mutation. Grounded on the teacher's
// Milvus adapter's collection-level index lifecycle
// (internal/rag/milvus.go: CreateIndex/LoadCollection before search is
// possible), generalized to FAISS's train-then-add contract.
type faissCore struct {
	mu          sync.Mutex
	dims        int
	m           metric.Metric
	description string
	metricType  int

	index         *faiss.IndexImpl
	vectors       map[string][]float32
	ids           map[string]int64
	nextID        int64
	retrainAt     int
	realDataAdded bool
}

func newFaissCore(dims int, m metric.Metric, description string, retrainAt int) *faissCore {
	metricType := faiss.MetricL2
	if m == metric.Cosine || m == metric.Dot {
		metricType = faiss.MetricInnerProduct
	}
	return &faissCore{
		dims:        dims,
		m:           m,
		description: description,
		metricType:  metricType,
		vectors:     make(map[string][]float32),
		ids:         make(map[string]int64),
		retrainAt:   retrainAt,
	}
}

func (c *faissCore) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openAndTrainLocked(dummyTrainingVectors(c.dims))
}

func (c *faissCore) openAndTrainLocked(trainingData []float32) error {
	idx, err := faiss.IndexFactory(c.dims, c.description, c.metricType)
	if err != nil {
		return fmt.Errorf("faiss: create index %q: %w", c.description, err)
	}
	if !idx.IsTrained() {
		if err := idx.Train(trainingData); err != nil {
			return fmt.Errorf("faiss: train: %w", err)
		}
	}
	c.index = idx
	return nil
}

func dummyTrainingVectors(dims int) []float32 {
	const n = 256
	out := make([]float32, 0, n*dims)
	for i := 0; i < n; i++ {
		for d := 0; d < dims; d++ {
			out = append(out, float32((i*31+d*7)%101)/101.0)
		}
	}
	return out
}

func (c *faissCore) AddItem(ctx context.Context, vec []float32, docID string) error {
	return c.AddItemsBatch(ctx, [][]float32{vec}, []string{docID})
}

func (c *faissCore) AddItemsBatch(ctx context.Context, vecs [][]float32, docIDs []string) error {
	if len(vecs) != len(docIDs) {
		return fmt.Errorf("vecs/docIDs length mismatch")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	updated := false
	for i, vec := range vecs {
		if _, exists := c.vectors[docIDs[i]]; exists {
			updated = true
		}
		v := vec
		if c.m == metric.Cosine {
			v = metric.Normalize(v)
		}
		c.vectors[docIDs[i]] = v
	}

	if updated {
		return c.rebuildLocked()
	}

	if !c.realDataAdded && len(c.vectors) >= c.retrainAt {
		if err := c.rebuildLocked(); err != nil {
			return err
		}
		c.realDataAdded = true
		return nil
	}

	flat := make([]float32, 0, len(vecs)*c.dims)
	ids := make([]int64, 0, len(vecs))
	for i, docID := range docIDs {
		v := vecs[i]
		if c.m == metric.Cosine {
			v = c.vectors[docID]
		}
		flat = append(flat, v...)
		id := c.nextID
		c.nextID++
		c.ids[docID] = id
		ids = append(ids, id)
	}
	return c.index.AddWithIDs(flat, ids)
}

// rebuildLocked resets, retrains on the live vector set and re-adds
// everything — the only mutation path FAISS-family indexes support.
func (c *faissCore) rebuildLocked() error {
	flat := make([]float32, 0, len(c.vectors)*c.dims)
	ids := make([]int64, 0, len(c.vectors))
	docIDOrder := make([]string, 0, len(c.vectors))
	for docID, v := range c.vectors {
		flat = append(flat, v...)
		docIDOrder = append(docIDOrder, docID)
	}
	if err := c.openAndTrainLocked(flat); err != nil {
		return err
	}
	newIDs := make(map[string]int64, len(docIDOrder))
	var id int64
	for _, docID := range docIDOrder {
		newIDs[docID] = id
		ids = append(ids, id)
		id++
	}
	c.ids = newIDs
	c.nextID = id
	if len(flat) == 0 {
		return nil
	}
	return c.index.AddWithIDs(flat, ids)
}

func (c *faissCore) Search(ctx context.Context, query []float32, topK int, minScore float64) ([]ScoredID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil || c.index.Ntotal() == 0 {
		return nil, nil
	}
	q := query
	if c.m == metric.Cosine {
		q = metric.Normalize(q)
	}
	distances, labels, err := c.index.Search(q, int64(topK))
	if err != nil {
		return nil, fmt.Errorf("faiss: search: %w", err)
	}
	idToDoc := make(map[int64]string, len(c.ids))
	for docID, id := range c.ids {
		idToDoc[id] = docID
	}

	out := make([]ScoredID, 0, len(labels))
	for i, label := range labels {
		if label < 0 {
			continue
		}
		docID, ok := idToDoc[label]
		if !ok {
			continue
		}
		sim := faissDistanceToSimilarity(c.m, float64(distances[i]))
		if sim < minScore {
			continue
		}
		out = append(out, ScoredID{DocID: docID, Similarity: sim})
	}
	sortDescending(out)
	return out, nil
}

// faissDistanceToSimilarity converts a FAISS inner-product score (higher
// is more similar) back into the raw-distance space metric.
// DistanceToSimilarity expects, so cosine/dot results line up with what
// the HNSW and remote adapters report for the same metric.
func faissDistanceToSimilarity(m metric.Metric, score float64) float64 {
	switch m {
	case metric.Cosine:
		return metric.DistanceToSimilarity(m, 1-score)
	case metric.Dot:
		return metric.DistanceToSimilarity(m, -score)
	default:
		return metric.DistanceToSimilarity(m, score)
	}
}

func (c *faissCore) DeleteItem(ctx context.Context, docID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vectors, docID)
	return c.rebuildLocked()
}

func (c *faissCore) Save(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == nil {
		return fmt.Errorf("faiss: index not initialized")
	}
	return faiss.WriteIndex(c.index, path)
}

func (c *faissCore) Load(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := faiss.ReadIndex(path, faiss.IOFlagReadOnly)
	if err != nil {
		return fmt.Errorf("faiss: read index: %w", err)
	}
	c.index = idx
	c.realDataAdded = true
	return nil
}

func (c *faissCore) Optimize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuildLocked()
}

func (c *faissCore) RebuildIndex(ctx context.Context, vecs [][]float32, docIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors = make(map[string][]float32, len(vecs))
	for i, v := range vecs {
		vv := v
		if c.m == metric.Cosine {
			vv = metric.Normalize(v)
		}
		c.vectors[docIDs[i]] = vv
	}
	c.realDataAdded = true
	return c.rebuildLocked()
}

func (c *faissCore) Stats(ctx context.Context, backend string) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	if c.index != nil {
		count = int(c.index.Ntotal())
	}
	return Stats{
		Backend:    backend,
		Count:      count,
		Dimensions: c.dims,
		Extra:      map[string]interface{}{"description": c.description, "trained_on_real_data": c.realDataAdded},
	}, nil
}

// --- per-variant adapters: each just wraps faissCore with its own
// index-factory description and retrain threshold. ---

type faissAdapter struct {
	*faissCore
	backend string
}

func (a *faissAdapter) Stats(ctx context.Context) (Stats, error) { return a.faissCore.Stats(ctx, a.backend) }

func newFaissFlat(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	return &faissAdapter{faissCore: newFaissCore(dims, m, "Flat", 1), backend: "faiss"}, nil
}

func newIVF(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	nlist := 100
	if n, ok := paramInt(params, "nlist"); ok && n > 0 {
		nlist = n
	}
	desc := fmt.Sprintf("IVF%d,Flat", nlist)
	return &faissAdapter{faissCore: newFaissCore(dims, m, desc, nlist), backend: "ivf"}, nil
}

func newPQ(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	subquantizers := 8
	if n, ok := paramInt(params, "m"); ok && n > 0 {
		subquantizers = n
	}
	desc := fmt.Sprintf("PQ%d", subquantizers)
	return &faissAdapter{faissCore: newFaissCore(dims, m, desc, 1000), backend: "pq"}, nil
}

func newIVFPQ(dims int, m metric.Metric, params map[string]interface{}) (Adapter, error) {
	nlist := 100
	if n, ok := paramInt(params, "nlist"); ok && n > 0 {
		nlist = n
	}
	subquantizers := 8
	if n, ok := paramInt(params, "m"); ok && n > 0 {
		subquantizers = n
	}
	desc := fmt.Sprintf("IVF%d,PQ%d", nlist, subquantizers)
	return &faissAdapter{faissCore: newFaissCore(dims, m, desc, nlist), backend: "ivfpq"}, nil
}
