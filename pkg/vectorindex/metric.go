// Package vectorindex implements the ANN adapter of §4.J: a graph-
// based approximate nearest-neighbor index attached to a vector
// column, with insert/soft-delete, automatic prefilter/postfilter
// search strategy selection, and Badger-backed persistence.
package vectorindex

import "github.com/minigu-db/minigu/pkg/math/vector"

// Metric selects the distance function used for ranking. Smaller is
// always closer, regardless of metric.
type Metric uint8

const (
	L2 Metric = iota
	Cosine
	InnerProduct
)

func (m Metric) String() string {
	switch m {
	case L2:
		return "l2"
	case Cosine:
		return "cosine"
	case InnerProduct:
		return "inner_product"
	default:
		return "unknown"
	}
}

func (m Metric) distance(a, b []float32) float64 {
	switch m {
	case Cosine:
		return vector.CosineDistance(a, b)
	case InnerProduct:
		return vector.InnerProductDistance(a, b)
	default:
		return vector.L2Distance(a, b)
	}
}
