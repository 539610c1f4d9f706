package vectorindex_test

import (
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minigu-db/minigu/pkg/vectorindex"
)

func randomVectors(n, dim int, seed int64) []vectorindex.Pair {
	r := rand.New(rand.NewSource(seed))
	pairs := make([]vectorindex.Pair, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for d := 0; d < dim; d++ {
			vec[d] = r.Float32()*2 - 1
		}
		pairs[i] = vectorindex.Pair{ID: uint64(i + 1), Vector: vec}
	}
	return pairs
}

func resultIDs(rs []vectorindex.Result) []uint64 {
	ids := make([]uint64, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

// Testable property 9: for an unfiltered query with k <= |index|,
// Search must return exact nearest neighbors when the index is small
// enough to fall under the brute-force threshold.
func TestSearchExactForSmallIndex(t *testing.T) {
	ix := vectorindex.New(8, vectorindex.L2)
	pairs := randomVectors(50, 8, 1)
	require.NoError(t, ix.Build(pairs))

	query := pairs[3].Vector
	got, err := ix.Search(query, 5, 20, nil)
	require.NoError(t, err)

	want, err := ix.BruteForce(query, 5, nil)
	require.NoError(t, err)

	assert.Equal(t, resultIDs(want), resultIDs(got))
}

func TestAnnSearchRecallAgainstBruteForce(t *testing.T) {
	const n, dim, k = 500, 8, 10
	ix := vectorindex.New(dim, vectorindex.L2, vectorindex.WithM(12), vectorindex.WithEfConstruction(64))
	pairs := randomVectors(n, dim, 42)
	require.NoError(t, ix.Build(pairs))

	queries := randomVectors(20, dim, 99)
	var totalRecall float64
	for _, q := range queries {
		got, err := ix.AnnSearch(q.Vector, k, 64, nil, false)
		require.NoError(t, err)
		want, err := ix.BruteForce(q.Vector, k, nil)
		require.NoError(t, err)

		wantSet := make(map[uint64]bool, len(want))
		for _, r := range want {
			wantSet[r.ID] = true
		}
		hits := 0
		for _, r := range got {
			if wantSet[r.ID] {
				hits++
			}
		}
		totalRecall += float64(hits) / float64(len(want))
	}
	avgRecall := totalRecall / float64(len(queries))
	assert.Greater(t, avgRecall, 0.6, "graph search recall@%d against brute force too low: %.2f", k, avgRecall)
}

// E7: a filtered search must only return ids the filter selects.
func TestFilteredSearchHonorsFilter(t *testing.T) {
	ix := vectorindex.New(4, vectorindex.L2)
	pairs := randomVectors(100, 4, 7)
	require.NoError(t, ix.Build(pairs))

	allowed := make([]uint64, 0, 10)
	for i := uint64(1); i <= 10; i++ {
		allowed = append(allowed, i)
	}
	filter := vectorindex.NewRoaringFilterMask(allowed...)

	got, err := ix.Search(pairs[0].Vector, 5, 20, filter)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, r := range got {
		assert.Contains(t, allowed, r.ID)
	}
}

func TestSoftDeleteExcludesFromResults(t *testing.T) {
	ix := vectorindex.New(4, vectorindex.L2)
	pairs := randomVectors(30, 4, 3)
	require.NoError(t, ix.Build(pairs))

	query := pairs[0].Vector
	before, err := ix.Search(query, 30, 30, nil)
	require.NoError(t, err)
	require.NotEmpty(t, before)
	victim := before[0].ID

	ix.SoftDelete([]uint64{victim})
	assert.Equal(t, vectorindex.Dirty, ix.State())

	after, err := ix.Search(query, 30, 30, nil)
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(after), victim)
}

func TestDimensionMismatchOnBuildAndSearch(t *testing.T) {
	ix := vectorindex.New(4, vectorindex.L2)
	err := ix.Build([]vectorindex.Pair{{ID: 1, Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)

	require.NoError(t, ix.Build(randomVectors(10, 4, 1)))
	_, err = ix.Search([]float32{1, 2}, 1, 5, nil)
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)
}

func TestDuplicateIDOnBuildAndInsert(t *testing.T) {
	ix := vectorindex.New(2, vectorindex.L2)
	err := ix.Build([]vectorindex.Pair{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 1, Vector: []float32{1, 1}},
	})
	assert.ErrorIs(t, err, vectorindex.ErrDuplicateID)

	require.NoError(t, ix.Build([]vectorindex.Pair{{ID: 1, Vector: []float32{0, 0}}}))
	err = ix.Insert([]vectorindex.Pair{{ID: 1, Vector: []float32{1, 1}}})
	assert.ErrorIs(t, err, vectorindex.ErrDuplicateID)
}

func TestInsertBeforeBuildIsUnbuilt(t *testing.T) {
	ix := vectorindex.New(2, vectorindex.L2)
	err := ix.Insert([]vectorindex.Pair{{ID: 1, Vector: []float32{0, 0}}})
	assert.ErrorIs(t, err, vectorindex.ErrIndexUnbuilt)

	_, err = ix.Search([]float32{0, 0}, 1, 5, nil)
	assert.ErrorIs(t, err, vectorindex.ErrIndexUnbuilt)
}

func TestInsertTransitionsBuiltToDirty(t *testing.T) {
	ix := vectorindex.New(2, vectorindex.L2)
	require.NoError(t, ix.Build([]vectorindex.Pair{{ID: 1, Vector: []float32{0, 0}}}))
	assert.Equal(t, vectorindex.Built, ix.State())

	require.NoError(t, ix.Insert([]vectorindex.Pair{{ID: 2, Vector: []float32{1, 1}}}))
	assert.Equal(t, vectorindex.Dirty, ix.State())
	assert.Equal(t, 2, ix.Size())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store, err := vectorindex.OpenStore(vectorindex.StoreOptions{InMemory: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer store.Close()

	ix := vectorindex.New(4, vectorindex.Cosine, vectorindex.WithM(8), vectorindex.WithEfConstruction(32))
	pairs := randomVectors(40, 4, 5)
	require.NoError(t, ix.Build(pairs))
	ix.SoftDelete([]uint64{pairs[0].ID})

	require.NoError(t, ix.Save(store))

	loaded, err := vectorindex.Load(store)
	require.NoError(t, err)
	assert.Equal(t, vectorindex.Built, loaded.State())
	assert.Equal(t, ix.Dimension(), loaded.Dimension())
	assert.Equal(t, ix.Metric(), loaded.Metric())
	assert.Equal(t, ix.Size(), loaded.Size())

	query := pairs[10].Vector
	want, err := ix.Search(query, 5, 20, nil)
	require.NoError(t, err)
	got, err := loaded.Search(query, 5, 20, nil)
	require.NoError(t, err)
	assert.Equal(t, resultIDs(want), resultIDs(got))
}
