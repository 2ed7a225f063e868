package sparse

import (
	"sort"
	"strings"

	"github.com/teeksss/modularmind-rag/internal/rag/model"
)

// DefaultAlpha is the dense-vs-sparse fusion weight per spec.md §4.9.
const DefaultAlpha = 0.5

// FuseScored is one chunk id carrying its dense similarity, prior to
// fusion with a sparse score.
type FuseScored struct {
	ChunkID string
	Dense   float64
}

// Fuse combines dense and sparse result sets: both score sets are
// independently min-max normalised to [0,1], then combined as
// alpha*dense + (1-alpha)*sparse. A chunk id present in only one set
// is treated as score 0 in the other. Ties break by dense score, then
// chunk id, matching spec.md §4.9.
func Fuse(dense []FuseScored, sparseResults []Result, alpha float64) []model.SearchResult {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	denseNorm := minMaxNormalizeDense(dense)
	sparseNorm := minMaxNormalizeSparse(sparseResults)

	combined := make(map[string]struct{ dense, sparse float64 })
	for id, d := range denseNorm {
		e := combined[id]
		e.dense = d
		combined[id] = e
	}
	for id, s := range sparseNorm {
		e := combined[id]
		e.sparse = s
		combined[id] = e
	}

	type scored struct {
		id    string
		score float64
		dense float64
	}
	out := make([]scored, 0, len(combined))
	for id, e := range combined {
		out = append(out, scored{id: id, score: alpha*e.dense + (1-alpha)*e.sparse, dense: e.dense})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].dense != out[j].dense {
			return out[i].dense > out[j].dense
		}
		return out[i].id < out[j].id
	})

	results := make([]model.SearchResult, len(out))
	for i, s := range out {
		results[i] = model.SearchResult{
			Chunk:     &model.Chunk{ID: s.id},
			Score:     s.score,
			Source:    model.SourceHybrid,
			SubScores: map[string]float64{"dense": combined[s.id].dense, "sparse": combined[s.id].sparse},
		}
	}
	return results
}

func minMaxNormalizeDense(items []FuseScored) map[string]float64 {
	out := make(map[string]float64, len(items))
	if len(items) == 0 {
		return out
	}
	min, max := items[0].Dense, items[0].Dense
	for _, it := range items {
		if it.Dense < min {
			min = it.Dense
		}
		if it.Dense > max {
			max = it.Dense
		}
	}
	span := max - min
	for _, it := range items {
		if span == 0 {
			out[it.ChunkID] = 1
			continue
		}
		out[it.ChunkID] = (it.Dense - min) / span
	}
	return out
}

func minMaxNormalizeSparse(items []Result) map[string]float64 {
	out := make(map[string]float64, len(items))
	if len(items) == 0 {
		return out
	}
	min, max := items[0].Score, items[0].Score
	for _, it := range items {
		if it.Score < min {
			min = it.Score
		}
		if it.Score > max {
			max = it.Score
		}
	}
	span := max - min
	for _, it := range items {
		if span == 0 {
			out[it.ChunkID] = 1
			continue
		}
		out[it.ChunkID] = (it.Score - min) / span
	}
	return out
}

// MatchesFilter implements the metadata filter semantics of spec.md
// §4.9: shallow equality plus list-membership for arrays, dotted paths
// into nested maps, set-intersection semantics when both sides are
// lists, and a missing field never matching.
func MatchesFilter(metadata map[string]interface{}, filter map[string]interface{}) bool {
	for path, want := range filter {
		got, ok := lookupPath(metadata, path)
		if !ok {
			return false
		}
		if !valueMatches(got, want) {
			return false
		}
	}
	return true
}

func lookupPath(metadata map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = metadata
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func valueMatches(got, want interface{}) bool {
	wantList, wantIsList := asSlice(want)
	gotList, gotIsList := asSlice(got)

	switch {
	case wantIsList && gotIsList:
		return intersects(gotList, wantList)
	case wantIsList && !gotIsList:
		return containsValue(wantList, got)
	case !wantIsList && gotIsList:
		return containsValue(gotList, want)
	default:
		return got == want
	}
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func intersects(a, b []interface{}) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
