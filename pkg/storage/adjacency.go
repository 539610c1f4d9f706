package storage

import (
	"sync"

	"github.com/google/btree"
)

// adjacencySet is the per-vertex ordered projection described in §3
// and §4.C/D: a btree keyed by Neighbor's lexicographic ordering,
// giving O(log n) seeks and ordered scans. Guarded by a dedicated
// RWMutex per §5 ("adjacency sets per vertex: protected by per-vertex
// read-write lock").
type adjacencySet struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[Neighbor]
}

func newAdjacencySet() *adjacencySet {
	return &adjacencySet{tree: btree.NewG(32, Neighbor.Less)}
}

func (a *adjacencySet) insert(n Neighbor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tree.ReplaceOrInsert(n)
}

func (a *adjacencySet) remove(n Neighbor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tree.Delete(n)
}

// ascend calls fn for every Neighbor in order; fn returning false
// stops the scan early.
func (a *adjacencySet) ascend(fn func(Neighbor) bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	a.tree.Ascend(fn)
}
