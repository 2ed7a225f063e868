// Package store implements the vector store facade (spec.md C8): one
// index-adapter "shard" per configured embedding model, a shared chunk
// metadata store, and the add/search/hybrid-search/rebuild/persist
// operations that sit above them. Grounded on the teacher's vectordb.go
// facade (a thin wrapper delegating to one rag.VectorDB) generalized
// from a single backend to N per-model shards fronted by one facade,
// plus retriever.go's dense+sparse fan-out shape.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/teeksss/modularmind-rag/internal/rag/index"
	"github.com/teeksss/modularmind-rag/internal/rag/metric"
	"github.com/teeksss/modularmind-rag/internal/rag/model"
	"github.com/teeksss/modularmind-rag/internal/rag/rerr"
	"github.com/teeksss/modularmind-rag/internal/rag/sparse"
)

// Embedder is the narrow embedding-service contract the store needs,
// mirroring the embedding package's Service without importing it
// directly (avoids a cyclic dependency between the two packages).
type Embedder interface {
	CreateEmbedding(ctx context.Context, text, modelID string) ([]float64, error)
	CreateBatchEmbeddings(ctx context.Context, texts []string, modelID string) ([][]float64, error)
	DefaultModel() string
}

// overshoot is the factor applied to the requested limit before the
// per-shard adapter search, so post-retrieval metadata filtering still
// has enough candidates left to satisfy the caller's limit.
const overshoot = 3

type shard struct {
	mu      sync.RWMutex
	adapter index.Adapter
	modelID string
	dims    int
	metric  metric.Metric
}

// Store is the vector store facade: N per-model shards plus one chunk
// metadata store and one BM25 sparse index, all addressable by chunk id.
type Store struct {
	mu     sync.RWMutex // guards the shards map itself, not shard contents
	shards map[string]*shard

	chunksMu sync.RWMutex
	chunks   map[string]*model.Chunk

	sparseIdx *sparse.Index
	path      string
}

// New creates an empty Store. path, if non-empty, is the directory
// Save/Load persist to.
func New(path string) *Store {
	return &Store{
		shards:    make(map[string]*shard),
		chunks:    make(map[string]*model.Chunk),
		sparseIdx: sparse.New(nil),
		path:      path,
	}
}

// AddShard registers an index adapter for the given embedding model
// and initializes it.
func (s *Store) AddShard(ctx context.Context, modelID string, adapter index.Adapter, dims int, m metric.Metric) error {
	if err := adapter.Initialize(ctx); err != nil {
		return rerr.New("store.AddShard", rerr.IndexCorrupt, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shards[modelID] = &shard{adapter: adapter, modelID: modelID, dims: dims, metric: m}
	return nil
}

func (s *Store) shardIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.shards))
	for id := range s.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) shardFor(modelID string) (*shard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shards[modelID]
	if !ok {
		return nil, rerr.New("store", rerr.ModelNotFound, fmt.Errorf("no shard registered for model %q", modelID))
	}
	return sh, nil
}

// AddBatch ensures every chunk carries an embedding for every
// configured shard model (computing missing ones through the
// embedder), then inserts each chunk into every shard under one
// lock-protected pass per shard, and into the chunk store and sparse
// index.
func (s *Store) AddBatch(ctx context.Context, chunks []*model.Chunk, embedder Embedder) error {
	if len(chunks) == 0 {
		return nil
	}
	modelIDs := s.shardIDs()

	for _, modelID := range modelIDs {
		missingIdx := make([]int, 0)
		missingText := make([]string, 0)
		for i, c := range chunks {
			if c.Embeddings == nil {
				c.Embeddings = make(map[string][]float64)
			}
			if _, ok := c.Embeddings[modelID]; !ok {
				missingIdx = append(missingIdx, i)
				missingText = append(missingText, c.Text)
			}
		}
		if len(missingText) == 0 {
			continue
		}
		vecs, err := embedder.CreateBatchEmbeddings(ctx, missingText, modelID)
		if err != nil {
			return fmt.Errorf("store: embed batch for model %s: %w", modelID, err)
		}
		for j, idx := range missingIdx {
			chunks[idx].Embeddings[modelID] = vecs[j]
		}
	}

	for _, modelID := range modelIDs {
		sh, err := s.shardFor(modelID)
		if err != nil {
			return err
		}
		vecs := make([][]float32, 0, len(chunks))
		ids := make([]string, 0, len(chunks))
		for _, c := range chunks {
			vecs = append(vecs, metric.ToFloat32(c.Embeddings[modelID]))
			ids = append(ids, c.ID)
		}
		sh.mu.Lock()
		err = sh.adapter.AddItemsBatch(ctx, vecs, ids)
		sh.mu.Unlock()
		if err != nil {
			return fmt.Errorf("store: add batch to shard %s: %w", modelID, err)
		}
	}

	s.chunksMu.Lock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	s.chunksMu.Unlock()

	for _, c := range chunks {
		if err := s.sparseIdx.Add(ctx, c); err != nil {
			return fmt.Errorf("store: index chunk %s for keyword search: %w", c.ID, err)
		}
	}
	return nil
}

func (s *Store) resolveModel(embeddingModel string, embedder Embedder) (string, error) {
	if embeddingModel != "" {
		return embeddingModel, nil
	}
	if id := embedder.DefaultModel(); id != "" {
		return id, nil
	}
	return "", rerr.New("store.resolveModel", rerr.ModelNotFound, fmt.Errorf("no default embedding model configured"))
}

// SearchByText embeds q under the resolved model, searches that
// model's shard with an overshoot margin, joins against the chunk
// store, applies the metadata filter post-retrieval, and returns the
// top limit results.
func (s *Store) SearchByText(ctx context.Context, q string, limit int, filter map[string]interface{}, minScore float64, embeddingModel string, embedder Embedder) ([]model.SearchResult, error) {
	modelID, err := s.resolveModel(embeddingModel, embedder)
	if err != nil {
		return nil, err
	}
	sh, err := s.shardFor(modelID)
	if err != nil {
		return nil, err
	}
	vec, err := embedder.CreateEmbedding(ctx, q, modelID)
	if err != nil {
		return nil, fmt.Errorf("store: embed query: %w", err)
	}

	sh.mu.RLock()
	hits, err := sh.adapter.Search(ctx, metric.ToFloat32(vec), limit*overshoot, minScore)
	sh.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("store: shard search: %w", err)
	}

	results := make([]model.SearchResult, 0, limit)
	s.chunksMu.RLock()
	for _, h := range hits {
		c, ok := s.chunks[h.DocID]
		if !ok {
			continue
		}
		if filter != nil && !sparse.MatchesFilter(c.Metadata, filter) {
			continue
		}
		results = append(results, model.SearchResult{Chunk: c, Score: h.Similarity, Source: model.SourceDense})
		if len(results) >= limit {
			break
		}
	}
	s.chunksMu.RUnlock()
	return results, nil
}

// HybridSearch runs dense search and the BM25 sparse index over the
// same query, fuses them per spec.md §4.9, applies the metadata
// filter, and returns the top limit results.
func (s *Store) HybridSearch(ctx context.Context, q string, limit int, filter map[string]interface{}, embeddingModel string, embedder Embedder, alpha float64) ([]model.SearchResult, error) {
	modelID, err := s.resolveModel(embeddingModel, embedder)
	if err != nil {
		return nil, err
	}
	sh, err := s.shardFor(modelID)
	if err != nil {
		return nil, err
	}
	vec, err := embedder.CreateEmbedding(ctx, q, modelID)
	if err != nil {
		return nil, fmt.Errorf("store: embed query: %w", err)
	}

	sh.mu.RLock()
	denseHits, err := sh.adapter.Search(ctx, metric.ToFloat32(vec), limit*overshoot, 0)
	sh.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("store: shard search: %w", err)
	}
	dense := make([]sparse.FuseScored, len(denseHits))
	for i, h := range denseHits {
		dense[i] = sparse.FuseScored{ChunkID: h.DocID, Dense: h.Similarity}
	}

	sparseHits, err := s.sparseIdx.Search(ctx, q, limit*overshoot)
	if err != nil {
		return nil, fmt.Errorf("store: sparse search: %w", err)
	}

	fused := sparse.Fuse(dense, sparseHits, alpha)

	results := make([]model.SearchResult, 0, limit)
	s.chunksMu.RLock()
	for _, f := range fused {
		c, ok := s.chunks[f.Chunk.ID]
		if !ok {
			continue
		}
		if filter != nil && !sparse.MatchesFilter(c.Metadata, filter) {
			continue
		}
		f.Chunk = c
		results = append(results, f)
		if len(results) >= limit {
			break
		}
	}
	s.chunksMu.RUnlock()
	return results, nil
}

// MetadataSearch scans the chunk store applying filter with no vector
// component at all.
func (s *Store) MetadataSearch(filter map[string]interface{}, limit int) ([]model.SearchResult, error) {
	s.chunksMu.RLock()
	defer s.chunksMu.RUnlock()
	ids := make([]string, 0, len(s.chunks))
	for id := range s.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]model.SearchResult, 0, limit)
	for _, id := range ids {
		c := s.chunks[id]
		if filter != nil && !sparse.MatchesFilter(c.Metadata, filter) {
			continue
		}
		results = append(results, model.SearchResult{Chunk: c, Score: 1, Source: model.SourceMetadata})
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Delete removes a chunk from every shard, the sparse index and the
// chunk store.
func (s *Store) Delete(ctx context.Context, chunkID string) error {
	for _, modelID := range s.shardIDs() {
		sh, err := s.shardFor(modelID)
		if err != nil {
			return err
		}
		sh.mu.Lock()
		err = sh.adapter.DeleteItem(ctx, chunkID)
		sh.mu.Unlock()
		if err != nil {
			return fmt.Errorf("store: delete from shard %s: %w", modelID, err)
		}
	}
	if err := s.sparseIdx.Remove(ctx, chunkID); err != nil {
		return err
	}
	s.chunksMu.Lock()
	delete(s.chunks, chunkID)
	s.chunksMu.Unlock()
	return nil
}

// RebuildIndex reinitialises one shard (or all, if modelID is empty)
// from the chunk store's currently held embeddings for that model.
func (s *Store) RebuildIndex(ctx context.Context, modelID string) error {
	targets := []string{modelID}
	if modelID == "" {
		targets = s.shardIDs()
	}
	for _, id := range targets {
		sh, err := s.shardFor(id)
		if err != nil {
			return err
		}
		s.chunksMu.RLock()
		vecs := make([][]float32, 0, len(s.chunks))
		ids := make([]string, 0, len(s.chunks))
		for chunkID, c := range s.chunks {
			vec, ok := c.Embeddings[id]
			if !ok {
				continue
			}
			vecs = append(vecs, metric.ToFloat32(vec))
			ids = append(ids, chunkID)
		}
		s.chunksMu.RUnlock()

		sh.mu.Lock()
		err = sh.adapter.RebuildIndex(ctx, vecs, ids)
		sh.mu.Unlock()
		if err != nil {
			return fmt.Errorf("store: rebuild shard %s: %w", id, err)
		}
	}
	return nil
}

type persistedState struct {
	Chunks map[string]*model.Chunk `json:"chunks"`
}

// Save persists the chunk store as one JSON file plus each shard's
// native save artifact under the store's configured path.
func (s *Store) Save(ctx context.Context) error {
	if s.path == "" {
		return rerr.New("store.Save", rerr.ConfigInvalid, fmt.Errorf("no storage path configured"))
	}
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return err
	}
	s.chunksMu.RLock()
	state := persistedState{Chunks: s.chunks}
	data, err := json.Marshal(state)
	s.chunksMu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.path, "chunks.json"), data, 0o644); err != nil {
		return fmt.Errorf("store: write chunk store: %w", err)
	}
	for _, id := range s.shardIDs() {
		sh, _ := s.shardFor(id)
		sh.mu.RLock()
		err := sh.adapter.Save(ctx, filepath.Join(s.path, id+".index"))
		sh.mu.RUnlock()
		if err != nil {
			return fmt.Errorf("store: save shard %s: %w", id, err)
		}
	}
	return nil
}

// Load restores the chunk store and re-indexes every chunk into the
// sparse index, then loads each shard's native artifact.
func (s *Store) Load(ctx context.Context) error {
	if s.path == "" {
		return rerr.New("store.Load", rerr.ConfigInvalid, fmt.Errorf("no storage path configured"))
	}
	data, err := os.ReadFile(filepath.Join(s.path, "chunks.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read chunk store: %w", err)
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("store: decode chunk store: %w", err)
	}

	s.chunksMu.Lock()
	s.chunks = state.Chunks
	s.chunksMu.Unlock()

	for _, c := range state.Chunks {
		if err := s.sparseIdx.Add(ctx, c); err != nil {
			return err
		}
	}

	for _, id := range s.shardIDs() {
		sh, _ := s.shardFor(id)
		sh.mu.Lock()
		err := sh.adapter.Load(ctx, filepath.Join(s.path, id+".index"))
		sh.mu.Unlock()
		if err != nil {
			return fmt.Errorf("store: load shard %s: %w", id, err)
		}
	}
	return nil
}
