package storage

import (
	"sync"
)

// Graph is the concurrent store described in §4.D: maps of vertices
// and edges keyed by id, plus per-vertex adjacency projections. It is
// the shared substrate every Transaction reads and writes through;
// Graph itself has no notion of transactions or snapshots beyond the
// primitive visibility/acquire operations it exposes.
type Graph struct {
	vertices sync.Map // VertexID -> *versionedVertex
	edges    sync.Map // EdgeID -> *versionedEdge

	outAdj sync.Map // VertexID -> *adjacencySet (edges where this vertex is src)
	inAdj  sync.Map // VertexID -> *adjacencySet (edges where this vertex is dst)
}

// NewGraph returns an empty, ready-to-use store.
func NewGraph() *Graph { return &Graph{} }

func (g *Graph) outAdjacency(v VertexID) *adjacencySet {
	a, _ := g.outAdj.LoadOrStore(v, newAdjacencySet())
	return a.(*adjacencySet)
}

func (g *Graph) inAdjacency(v VertexID) *adjacencySet {
	a, _ := g.inAdj.LoadOrStore(v, newAdjacencySet())
	return a.(*adjacencySet)
}

func (g *Graph) lookupVertex(vid VertexID) (*versionedVertex, bool) {
	v, ok := g.vertices.Load(vid)
	if !ok {
		return nil, false
	}
	return v.(*versionedVertex), true
}

func (g *Graph) lookupEdge(eid EdgeID) (*versionedEdge, bool) {
	e, ok := g.edges.Load(eid)
	if !ok {
		return nil, false
	}
	return e.(*versionedEdge), true
}

// GetVertex applies the snapshot visibility rule for a single vertex.
func (g *Graph) GetVertex(vid VertexID, startTS, readerTxnID Timestamp) (Vertex, error) {
	vv, ok := g.lookupVertex(vid)
	if !ok {
		return Vertex{}, ErrVertexNotFound
	}
	val, visible := visibleVertex(vv, startTS, readerTxnID)
	if !visible {
		return Vertex{}, ErrVersionNotVisible
	}
	if val.IsTombstone {
		return Vertex{}, ErrVertexNotFound
	}
	return val, nil
}

// GetEdge applies the snapshot visibility rule for a single edge.
func (g *Graph) GetEdge(eid EdgeID, startTS, readerTxnID Timestamp) (Edge, error) {
	ev, ok := g.lookupEdge(eid)
	if !ok {
		return Edge{}, ErrEdgeNotFound
	}
	val, visible := visibleEdge(ev, startTS, readerTxnID)
	if !visible {
		return Edge{}, ErrVersionNotVisible
	}
	if val.IsTombstone {
		return Edge{}, ErrEdgeNotFound
	}
	return val, nil
}

// CreateVertex installs a brand new vertex record, or, if the id
// already names a (possibly tombstoned) record, acquires its write
// slot like any other mutation. Returns the acquired record so the
// caller (Transaction) can register it in its write set and undo
// buffer.
func (g *Graph) CreateVertex(v Vertex, txnID Timestamp) (*versionedVertex, *UndoEntry, error) {
	fresh := newVersionedVertex(v, txnID)
	actual, loaded := g.vertices.LoadOrStore(v.VID, fresh)
	vv := actual.(*versionedVertex)
	if !loaded {
		// Nothing existed at this id before; on abort the slot must
		// revert to an ordinary (non-poisoning) commit-ts of 0, not
		// txnID itself, so a later creator is not permanently blocked.
		undo := &UndoEntry{Delta: DeltaOp{Kind: OpCreateVertex, VertexID: v.VID}, Timestamp: 0}
		return vv, undo, nil
	}

	displaced, err := acquireVertexSlot(vv, txnID)
	if err != nil {
		return nil, nil, err
	}
	defer vv.mu.Unlock()
	if !vv.current.IsTombstone {
		releaseWriteSlot(&vv.ts, txnID, displaced)
		return nil, nil, ErrWriteWriteConflict
	}
	undo := &UndoEntry{Delta: DeltaOp{Kind: OpCreateVertex, VertexID: v.VID}, Timestamp: displaced}
	vv.pushUndo(undo.Delta, displaced, v)
	return vv, undo, nil
}

// CreateEdge mirrors CreateVertex for edges and additionally verifies
// both endpoints exist in the snapshot doing the creating.
func (g *Graph) CreateEdge(e Edge, startTS, txnID Timestamp) (*versionedEdge, *UndoEntry, error) {
	if _, err := g.GetVertex(e.SrcID, startTS, txnID); err != nil {
		return nil, nil, ErrVertexNotFound
	}
	if _, err := g.GetVertex(e.DstID, startTS, txnID); err != nil {
		return nil, nil, ErrVertexNotFound
	}

	fresh := newVersionedEdge(e, txnID)
	actual, loaded := g.edges.LoadOrStore(e.EID, fresh)
	ev := actual.(*versionedEdge)
	var undo *UndoEntry
	if !loaded {
		undo = &UndoEntry{Delta: DeltaOp{Kind: OpCreateEdge, EdgeID: e.EID}, Timestamp: 0}
	} else {
		displaced, err := acquireEdgeSlot(ev, txnID)
		if err != nil {
			return nil, nil, err
		}
		if !ev.current.IsTombstone {
			releaseWriteSlot(&ev.ts, txnID, displaced)
			ev.mu.Unlock()
			return nil, nil, ErrWriteWriteConflict
		}
		undo = &UndoEntry{Delta: DeltaOp{Kind: OpCreateEdge, EdgeID: e.EID}, Timestamp: displaced}
		ev.pushUndo(undo.Delta, displaced, e)
		ev.mu.Unlock()
	}

	g.outAdjacency(e.SrcID).insert(Neighbor{LabelID: e.LabelID, NeighborID: e.DstID, EID: e.EID})
	g.inAdjacency(e.DstID).insert(Neighbor{LabelID: e.LabelID, NeighborID: e.SrcID, EID: e.EID})
	return ev, undo, nil
}

// DeleteVertex logically tombstones a vertex.
func (g *Graph) DeleteVertex(vid VertexID, txnID Timestamp) (*UndoEntry, error) {
	vv, ok := g.lookupVertex(vid)
	if !ok {
		return nil, ErrVertexNotFound
	}
	displaced, err := acquireVertexSlot(vv, txnID)
	if err != nil {
		return nil, err
	}
	defer vv.mu.Unlock()
	if vv.current.IsTombstone {
		releaseWriteSlot(&vv.ts, txnID, displaced)
		return nil, ErrVertexNotFound
	}
	next := vv.current
	next.IsTombstone = true
	undo := &UndoEntry{Delta: DeltaOp{Kind: OpDelVertex, VertexID: vid}, Timestamp: displaced}
	vv.pushUndo(undo.Delta, displaced, next)
	return undo, nil
}

// DeleteEdge logically tombstones an edge.
func (g *Graph) DeleteEdge(eid EdgeID, txnID Timestamp) (*UndoEntry, error) {
	ev, ok := g.lookupEdge(eid)
	if !ok {
		return nil, ErrEdgeNotFound
	}
	displaced, err := acquireEdgeSlot(ev, txnID)
	if err != nil {
		return nil, err
	}
	defer ev.mu.Unlock()
	if ev.current.IsTombstone {
		releaseWriteSlot(&ev.ts, txnID, displaced)
		return nil, ErrEdgeNotFound
	}
	next := ev.current
	next.IsTombstone = true
	undo := &UndoEntry{Delta: DeltaOp{Kind: OpDelEdge, EdgeID: eid}, Timestamp: displaced}
	ev.pushUndo(undo.Delta, displaced, next)
	return undo, nil
}

// SetVertexProperty overwrites the properties at the given column
// indices, returning an undo entry carrying the prior values.
func (g *Graph) SetVertexProperty(vid VertexID, indices []int, values []PropertyValue, txnID Timestamp) (*UndoEntry, error) {
	vv, ok := g.lookupVertex(vid)
	if !ok {
		return nil, ErrVertexNotFound
	}
	displaced, err := acquireVertexSlot(vv, txnID)
	if err != nil {
		return nil, err
	}
	defer vv.mu.Unlock()
	if vv.current.IsTombstone {
		releaseWriteSlot(&vv.ts, txnID, displaced)
		return nil, ErrVertexNotFound
	}
	next := vv.current.Clone()
	prior := make([]PropertyValue, len(indices))
	for i, idx := range indices {
		if idx < len(next.Properties) {
			prior[i] = next.Properties[idx]
			next.Properties[idx] = values[i]
		}
	}
	op := DeltaOp{Kind: OpSetVertexProps, VertexID: vid, SetProps: invertSetVertexProps(prior, indices)}
	undo := &UndoEntry{Delta: op, Timestamp: displaced}
	vv.pushUndo(op, displaced, next)
	return undo, nil
}

// SetEdgeProperty mirrors SetVertexProperty for edges.
func (g *Graph) SetEdgeProperty(eid EdgeID, indices []int, values []PropertyValue, txnID Timestamp) (*UndoEntry, error) {
	ev, ok := g.lookupEdge(eid)
	if !ok {
		return nil, ErrEdgeNotFound
	}
	displaced, err := acquireEdgeSlot(ev, txnID)
	if err != nil {
		return nil, err
	}
	defer ev.mu.Unlock()
	if ev.current.IsTombstone {
		releaseWriteSlot(&ev.ts, txnID, displaced)
		return nil, ErrEdgeNotFound
	}
	next := ev.current.Clone()
	prior := make([]PropertyValue, len(indices))
	for i, idx := range indices {
		if idx < len(next.Properties) {
			prior[i] = next.Properties[idx]
			next.Properties[idx] = values[i]
		}
	}
	op := DeltaOp{Kind: OpSetEdgeProps, EdgeID: eid, SetProps: invertSetVertexProps(prior, indices)}
	undo := &UndoEntry{Delta: op, Timestamp: displaced}
	ev.pushUndo(op, displaced, next)
	return undo, nil
}

// PublishVertex CAS's a touched vertex's ts from txnID to commitTS, making
// it visible to readers (§4.F step 5).
func (g *Graph) PublishVertex(vid VertexID, txnID, commitTS Timestamp) {
	if vv, ok := g.lookupVertex(vid); ok {
		publishWriteSlot(&vv.ts, txnID, commitTS)
	}
}

// PublishEdge mirrors PublishVertex for edges.
func (g *Graph) PublishEdge(eid EdgeID, txnID, commitTS Timestamp) {
	if ev, ok := g.lookupEdge(eid); ok {
		publishWriteSlot(&ev.ts, txnID, commitTS)
	}
}

// AbortVertexWrite restores a vertex's prior value and ts, undoing a
// single write performed by txnID.
func (g *Graph) AbortVertexWrite(vid VertexID, txnID Timestamp, u *UndoEntry) {
	vv, ok := g.lookupVertex(vid)
	if !ok {
		return
	}
	vv.mu.Lock()
	defer vv.mu.Unlock()
	if Timestamp(vv.ts.Load()) != txnID {
		return
	}
	vv.current = applyInverseVertexDelta(vv.current, u.Delta)
	vv.undoHead = u.Next
	vv.ts.Store(uint64(u.Timestamp))
}

// AbortEdgeWrite mirrors AbortVertexWrite for edges.
func (g *Graph) AbortEdgeWrite(eid EdgeID, txnID Timestamp, u *UndoEntry) {
	ev, ok := g.lookupEdge(eid)
	if !ok {
		return
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if Timestamp(ev.ts.Load()) != txnID {
		return
	}
	ev.current = applyInverseEdgeDelta(ev.current, u.Delta)
	ev.undoHead = u.Next
	ev.ts.Store(uint64(u.Timestamp))
}

// IterVertices calls fn for every vertex visible to the given
// snapshot, in unspecified order, stopping early if fn returns false.
func (g *Graph) IterVertices(startTS, readerTxnID Timestamp, fn func(Vertex) bool) {
	g.vertices.Range(func(_, value any) bool {
		vv := value.(*versionedVertex)
		if val, ok := visibleVertex(vv, startTS, readerTxnID); ok && !val.IsTombstone {
			return fn(val)
		}
		return true
	})
}

// IterEdges calls fn for every edge visible to the given snapshot.
func (g *Graph) IterEdges(startTS, readerTxnID Timestamp, fn func(Edge) bool) {
	g.edges.Range(func(_, value any) bool {
		ev := value.(*versionedEdge)
		if val, ok := visibleEdge(ev, startTS, readerTxnID); ok && !val.IsTombstone {
			return fn(val)
		}
		return true
	})
}

// IterAdjacency yields the Neighbor projection for vid in the given
// direction, filtered to edges visible (and non-tombstoned) under the
// given snapshot, matching invariant 6.
func (g *Graph) IterAdjacency(vid VertexID, dir Direction, startTS, readerTxnID Timestamp, fn func(Neighbor) bool) error {
	if _, ok := g.lookupVertex(vid); !ok {
		return ErrVertexNotFound
	}
	var set *adjacencySet
	if dir == Outgoing {
		set = g.outAdjacency(vid)
	} else {
		set = g.inAdjacency(vid)
	}
	// Copy the set under its read lock, then release it before calling
	// fn, so no lock is held while the caller consumes the neighbors.
	var snapshot []Neighbor
	set.ascend(func(n Neighbor) bool {
		snapshot = append(snapshot, n)
		return true
	})
	for _, n := range snapshot {
		ev, ok := g.lookupEdge(n.EID)
		if !ok {
			continue
		}
		if val, visible := visibleEdge(ev, startTS, readerTxnID); visible && !val.IsTombstone {
			if !fn(n) {
				break
			}
		}
	}
	return nil
}

// gc walks every vertex and edge record and drops undo entries older
// than the watermark via gcVertexUndoChain/gcEdgeUndoChain, used by
// Manager.GarbageCollect.
func (g *Graph) gc(watermark Timestamp) {
	g.vertices.Range(func(_, value any) bool {
		vv := value.(*versionedVertex)
		vv.mu.Lock()
		gcVertexUndoChain(vv, watermark)
		vv.mu.Unlock()
		return true
	})
	g.edges.Range(func(_, value any) bool {
		ev := value.(*versionedEdge)
		ev.mu.Lock()
		gcEdgeUndoChain(ev, watermark)
		ev.mu.Unlock()
		return true
	})
}
