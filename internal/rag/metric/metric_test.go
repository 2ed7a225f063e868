package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceIdenticalVectors(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 0, Distance(Cosine, a, a), 1e-9)
	assert.InDelta(t, 0, Distance(L2, a, a), 1e-9)
	assert.InDelta(t, 0, Distance(Manhattan, a, a), 1e-9)
}

func TestDistanceOrthogonalCosine(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 1, Distance(Cosine, a, b), 1e-9)
}

func TestDistanceToSimilarityClampsToUnitRange(t *testing.T) {
	assert.InDelta(t, 1, DistanceToSimilarity(Cosine, -10), 1e-9)
	assert.InDelta(t, 0, DistanceToSimilarity(Cosine, 10), 1e-9)
	assert.InDelta(t, 1, DistanceToSimilarity(L2, 0), 1e-9)
}

func TestNormalizeProducesUnitVector(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestNormalizeZeroVectorStaysZero(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestNormalize64MatchesFloat32Variant(t *testing.T) {
	v := Normalize64([]float64{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-9)
	assert.InDelta(t, 0.8, v[1], 1e-9)
}

func TestToFloat32Converts(t *testing.T) {
	assert.Equal(t, []float32{1, 2.5}, ToFloat32([]float64{1, 2.5}))
}
