package providers

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

func init() {
	Register(model.ProviderLocalSentenceXform, newLocalSentenceTransformer)
}

// loadedModels memoizes the (deterministic, in-process) sentence model
// object per remote_model_id for the lifetime of the process, per the
// local-provider contract: loading is lazy and happens at most once per
// model id regardless of how many EmbeddingModelConfig entries reference
// it.
var (
	loadedModelsMu sync.Mutex
	loadedModels   = map[string]*hashedSentenceModel{}
)

// hashedSentenceModel is a deterministic, dependency-free stand-in for a
// locally loaded sentence-transformer model: a signed hashing-trick bag of
// tokens. It gives every remote_model_id a stable, reproducible embedding
// space without requiring a native inference runtime.
type hashedSentenceModel struct {
	dims int
	seed uint64
}

func loadSentenceModel(remoteModelID string, dims int) *hashedSentenceModel {
	loadedModelsMu.Lock()
	defer loadedModelsMu.Unlock()
	if m, ok := loadedModels[remoteModelID]; ok {
		return m
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(remoteModelID))
	m := &hashedSentenceModel{dims: dims, seed: h.Sum64()}
	loadedModels[remoteModelID] = m
	return m
}

func (m *hashedSentenceModel) embed(text string) []float64 {
	vec := make([]float64, m.dims)
	if m.dims == 0 {
		return vec
	}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		_, _ = h.Write([]byte{byte(m.seed), byte(m.seed >> 8)})
		sum := h.Sum64()
		idx := int(sum % uint64(m.dims))
		sign := 1.0
		if sum&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}
	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func newLocalSentenceTransformer(cfg model.EmbeddingModelConfig) (Adapter, error) {
	remoteID := cfg.RemoteModelID
	if remoteID == "" {
		remoteID = "default-sentence-transformer"
	}
	dims := cfg.Dimensions

	call := func(ctx context.Context, text string) ([]float64, error) {
		return loadSentenceModel(remoteID, dims).embed(text), nil
	}
	return newBase(cfg.Dimensions, maxCharsFor(cfg), cfg.Normalize, call), nil
}
