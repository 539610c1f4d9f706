package vectorindex

import "github.com/RoaringBitmap/roaring/v2"

// FilterMask is the single-predicate filter the original engine's
// diskann-rs FilterIndex trait exposes
// (diskann-rs/diskann/src/common/filter_mask.rs): one method,
// `contains_vector`.
type FilterMask interface {
	ContainsVector(id uint64) bool
}

// Cardinalitier is an optional capability a FilterMask can implement
// to let Search estimate its selectivity in O(1); without it Search
// assumes every id is selected.
type Cardinalitier interface {
	Cardinality() uint64
}

// RoaringFilterMask is a FilterMask backed by a Roaring bitmap of
// selected ids — the natural representation for both the index's own
// soft-delete set and a caller-supplied filter.
type RoaringFilterMask struct {
	bitmap *roaring.Bitmap
}

// NewRoaringFilterMask wraps ids into a filter mask.
func NewRoaringFilterMask(ids ...uint64) *RoaringFilterMask {
	bm := roaring.New()
	for _, id := range ids {
		bm.Add(uint32(id))
	}
	return &RoaringFilterMask{bitmap: bm}
}

func (f *RoaringFilterMask) ContainsVector(id uint64) bool { return f.bitmap.Contains(uint32(id)) }
func (f *RoaringFilterMask) Cardinality() uint64            { return f.bitmap.GetCardinality() }

var (
	_ FilterMask     = (*RoaringFilterMask)(nil)
	_ Cardinalitier  = (*RoaringFilterMask)(nil)
)
