package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestNormalize_ZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestCosine(t *testing.T) {
	a := Normalize([]float32{1, 0})
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)

	b := Normalize([]float32{0, 1})
	assert.InDelta(t, 0.0, Cosine(a, b), 1e-6)

	c := Normalize([]float32{-1, 0})
	assert.InDelta(t, -1.0, Cosine(a, c), 1e-6)
}

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("doc-1", 0)
	b := ChunkID("doc-1", 0)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, ChunkID("doc-1", 1))
	assert.NotEqual(t, a, ChunkID("doc-2", 0))
}
