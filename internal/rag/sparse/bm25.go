// Package sparse implements the BM25 keyword index and dense/sparse
// hybrid fusion for C9. Grounded on the teacher's rag/sparse_index.go
// BM25Index, adapted from an int64-keyed, free-form-Fields store to
// the shared model.Chunk type and a [0,1]-normalised score contract.
package sparse

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

// Parameters holds the BM25 tuning constants.
type Parameters struct {
	K1 float64
	B  float64
}

// DefaultParameters matches the teacher's DefaultBM25Parameters.
func DefaultParameters() Parameters {
	return Parameters{K1: 1.5, B: 0.75}
}

// Result is one scored chunk id from a keyword search.
type Result struct {
	ChunkID string
	Score   float64 // normalised to [0,1]
}

// Index is a thread-safe BM25 index over chunk text.
type Index struct {
	mu           sync.RWMutex
	chunks       map[string]*model.Chunk
	termFreq     map[string]map[string]int
	docFreq      map[string]int
	docLength    map[string]int
	avgDocLength float64
	totalDocs    int
	params       Parameters
	stopwords    map[string]struct{}
}

// New creates an empty BM25 index. stopwords may be nil.
func New(stopwords []string) *Index {
	sw := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		sw[strings.ToLower(w)] = struct{}{}
	}
	return &Index{
		chunks:    make(map[string]*model.Chunk),
		termFreq:  make(map[string]map[string]int),
		docFreq:   make(map[string]int),
		docLength: make(map[string]int),
		params:    DefaultParameters(),
		stopwords: sw,
	}
}

func (idx *Index) tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(idx.stopwords) == 0 {
		return fields
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := idx.stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Add indexes or reindexes a chunk.
func (idx *Index) Add(ctx context.Context, chunk *model.Chunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.chunks[chunk.ID]; exists {
		idx.removeLocked(chunk.ID)
	}
	idx.chunks[chunk.ID] = chunk

	terms := idx.tokenize(chunk.Text)
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	idx.termFreq[chunk.ID] = tf
	idx.docLength[chunk.ID] = len(terms)
	for t := range tf {
		idx.docFreq[t]++
	}
	idx.totalDocs++
	idx.recomputeAvgLocked()
	return nil
}

// Remove deletes a chunk from the index.
func (idx *Index) Remove(ctx context.Context, chunkID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(chunkID)
	return nil
}

func (idx *Index) removeLocked(chunkID string) {
	if tf, ok := idx.termFreq[chunkID]; ok {
		for t := range tf {
			idx.docFreq[t]--
			if idx.docFreq[t] <= 0 {
				delete(idx.docFreq, t)
			}
		}
	}
	if _, existed := idx.chunks[chunkID]; existed {
		idx.totalDocs--
	}
	delete(idx.chunks, chunkID)
	delete(idx.termFreq, chunkID)
	delete(idx.docLength, chunkID)
	idx.recomputeAvgLocked()
}

func (idx *Index) recomputeAvgLocked() {
	if idx.totalDocs <= 0 {
		idx.avgDocLength = 0
		return
	}
	var total int
	for _, l := range idx.docLength {
		total += l
	}
	idx.avgDocLength = float64(total) / float64(idx.totalDocs)
}

// Search runs BM25 scoring over the indexed chunks and returns the top
// K results, normalised to [0,1] by dividing through the top score.
func (idx *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	queryTerms := idx.tokenize(query)
	raw := make(map[string]float64)
	for _, term := range queryTerms {
		df, ok := idx.docFreq[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(idx.totalDocs)-float64(df)+0.5)/(float64(df)+0.5))
		for chunkID, terms := range idx.termFreq {
			tf, ok := terms[term]
			if !ok {
				continue
			}
			docLen := float64(idx.docLength[chunkID])
			numerator := float64(tf) * (idx.params.K1 + 1)
			denominator := float64(tf) + idx.params.K1*(1-idx.params.B+idx.params.B*docLen/maxFloat(idx.avgDocLength, 1))
			raw[chunkID] += idf * numerator / denominator
		}
	}

	results := make([]Result, 0, len(raw))
	var maxScore float64
	for chunkID, score := range raw {
		if score > maxScore {
			maxScore = score
		}
		results = append(results, Result{ChunkID: chunkID, Score: score})
	}
	if maxScore > 0 {
		for i := range results {
			results[i].Score /= maxScore
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// SetParameters overrides the BM25 K1/B constants.
func (idx *Index) SetParameters(p Parameters) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.params = p
}
