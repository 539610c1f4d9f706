package vector_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/minigu-db/minigu/pkg/math/vector"
)

func TestL2DistanceIsSquaredEuclidean(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.InDelta(t, 27.0, vector.L2Distance(a, b), 1e-9)
	assert.Equal(t, 0.0, vector.L2Distance(a, a))
}

func TestL2DistanceMismatchedLengthIsInfinite(t *testing.T) {
	d := vector.L2Distance([]float32{1, 2}, []float32{1, 2, 3})
	assert.True(t, math.IsInf(d, 1))
}

func TestInnerProductDistanceIsNegatedDotProduct(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.InDelta(t, -32.0, vector.InnerProductDistance(a, b), 1e-9)
}

func TestCosineDistanceZeroForIdenticalDirection(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 0.0, vector.CosineDistance(a, a), 1e-9)
}

func TestCosineDistanceOrdersCloserVectorsSmaller(t *testing.T) {
	query := []float32{1, 0, 0}
	near := []float32{0.9, 0.1, 0}
	far := []float32{-1, 0, 0}
	assert.Less(t, vector.CosineDistance(query, near), vector.CosineDistance(query, far))
}
