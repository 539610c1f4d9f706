package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TxnState is the transaction lifecycle described in §4.F:
// Active -> Committing -> (Committed | Aborted).
type TxnState uint8

const (
	Active TxnState = iota
	Committing
	Committed
	Aborted
)

func (s TxnState) String() string {
	switch s {
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// writtenVertex/writtenEdge pair an id with the single undo entry this
// transaction pushed for it, so commit/abort can resolve the record
// without a second map lookup and so the write set is naturally
// deduplicated (re-writing the same id within a transaction reuses the
// held slot, not a new acquisition).
type writtenVertex struct {
	vid  VertexID
	undo *UndoEntry
}

type writtenEdge struct {
	eid  EdgeID
	undo *UndoEntry
}

// Transaction is the per-transaction handle described in §4.E. It is
// not safe for concurrent use by multiple goroutines (it is
// thread-affine, matching the embedded Session model in §6); the
// store it reads/writes through is safe for concurrent transactions.
type Transaction struct {
	mu sync.Mutex

	graph   *Graph
	manager *Manager

	txnID     Timestamp
	startTS   Timestamp
	isolation IsolationLevel
	commitTS  Timestamp

	state TxnState

	readVertices map[VertexID]struct{}
	readEdges    map[EdgeID]struct{}

	writtenVertices map[VertexID]*writtenVertex
	writtenEdges    map[EdgeID]*writtenEdge
	writeOrder      []any // *writtenVertex or *writtenEdge, in write order

	redoBuffer []DeltaOp

	startedAt time.Time
	log       zerolog.Logger
}

func newTransaction(g *Graph, m *Manager, txnID, startTS Timestamp, isolation IsolationLevel, log zerolog.Logger) *Transaction {
	return &Transaction{
		graph:           g,
		manager:         m,
		txnID:           txnID,
		startTS:         startTS,
		isolation:       isolation,
		state:           Active,
		readVertices:    make(map[VertexID]struct{}),
		readEdges:       make(map[EdgeID]struct{}),
		writtenVertices: make(map[VertexID]*writtenVertex),
		writtenEdges:    make(map[EdgeID]*writtenEdge),
		startedAt:       time.Now(),
		log:             log.With().Uint64("txn_id", uint64(txnID)).Logger(),
	}
}

// TxnID returns the transaction's identity.
func (t *Transaction) TxnID() Timestamp { return t.txnID }

// StartTS returns the snapshot timestamp this transaction reads at.
func (t *Transaction) StartTS() Timestamp { return t.startTS }

// CommitTS returns the commit timestamp once committed, or 0 before.
func (t *Transaction) CommitTS() Timestamp { return t.commitTS }

// State returns the current lifecycle state.
func (t *Transaction) State() TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsolationLevel returns the protocol this transaction commits under.
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }

func (t *Transaction) requireActive() error {
	if t.state != Active {
		return ErrTransactionNotActive
	}
	return nil
}

// GetVertex returns the vertex visible to this transaction's snapshot.
func (t *Transaction) GetVertex(vid VertexID) (Vertex, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return Vertex{}, err
	}
	v, err := t.graph.GetVertex(vid, t.startTS, t.txnID)
	if err != nil {
		return Vertex{}, err
	}
	t.readVertices[vid] = struct{}{}
	return v, nil
}

// GetEdge returns the edge visible to this transaction's snapshot.
func (t *Transaction) GetEdge(eid EdgeID) (Edge, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return Edge{}, err
	}
	e, err := t.graph.GetEdge(eid, t.startTS, t.txnID)
	if err != nil {
		return Edge{}, err
	}
	t.readEdges[eid] = struct{}{}
	return e, nil
}

// IterVertices returns a lazy, non-restartable iterator over all
// vertices visible to this transaction's snapshot.
func (t *Transaction) IterVertices() *VertexIter {
	return newVertexIter(t)
}

// IterEdges returns a lazy, non-restartable iterator over all edges
// visible to this transaction's snapshot.
func (t *Transaction) IterEdges() *EdgeIter {
	return newEdgeIter(t)
}

// IterAdjacency returns a lazy iterator over vid's adjacency in the
// given direction, visible to this transaction's snapshot.
func (t *Transaction) IterAdjacency(vid VertexID, dir Direction) (*AdjacencyIter, error) {
	if _, err := t.graph.GetVertex(vid, t.startTS, t.txnID); err != nil {
		return nil, err
	}
	return newAdjacencyIter(t, vid, dir), nil
}

// CreateVertex installs a new vertex, recording the undo entry needed
// to roll it back and the redo delta needed to replay it.
func (t *Transaction) CreateVertex(v Vertex) (VertexID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return 0, err
	}
	_, undo, err := t.graph.CreateVertex(v, t.txnID)
	if err != nil {
		return 0, err
	}
	t.writtenVertices[v.VID] = &writtenVertex{vid: v.VID, undo: undo}
	t.writeOrder = append(t.writeOrder, t.writtenVertices[v.VID])
	t.redoBuffer = append(t.redoBuffer, DeltaOp{Kind: OpCreateVertex, VertexID: v.VID, Vertex: v})
	return v.VID, nil
}

// CreateEdge installs a new edge between two existing vertices.
func (t *Transaction) CreateEdge(e Edge) (EdgeID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return 0, err
	}
	_, undo, err := t.graph.CreateEdge(e, t.startTS, t.txnID)
	if err != nil {
		return 0, err
	}
	t.writtenEdges[e.EID] = &writtenEdge{eid: e.EID, undo: undo}
	t.writeOrder = append(t.writeOrder, t.writtenEdges[e.EID])
	t.redoBuffer = append(t.redoBuffer, DeltaOp{Kind: OpCreateEdge, EdgeID: e.EID, Edge: e})
	return e.EID, nil
}

// DeleteVertex tombstones a vertex.
func (t *Transaction) DeleteVertex(vid VertexID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	undo, err := t.graph.DeleteVertex(vid, t.txnID)
	if err != nil {
		return err
	}
	t.writtenVertices[vid] = &writtenVertex{vid: vid, undo: undo}
	t.writeOrder = append(t.writeOrder, t.writtenVertices[vid])
	t.redoBuffer = append(t.redoBuffer, DeltaOp{Kind: OpDelVertex, VertexID: vid})
	return nil
}

// DeleteEdge tombstones an edge.
func (t *Transaction) DeleteEdge(eid EdgeID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	undo, err := t.graph.DeleteEdge(eid, t.txnID)
	if err != nil {
		return err
	}
	t.writtenEdges[eid] = &writtenEdge{eid: eid, undo: undo}
	t.writeOrder = append(t.writeOrder, t.writtenEdges[eid])
	t.redoBuffer = append(t.redoBuffer, DeltaOp{Kind: OpDelEdge, EdgeID: eid})
	return nil
}

// SetVertexProperty overwrites properties at the given indices.
func (t *Transaction) SetVertexProperty(vid VertexID, indices []int, values []PropertyValue) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	undo, err := t.graph.SetVertexProperty(vid, indices, values, t.txnID)
	if err != nil {
		return err
	}
	t.writtenVertices[vid] = &writtenVertex{vid: vid, undo: undo}
	t.writeOrder = append(t.writeOrder, t.writtenVertices[vid])
	t.redoBuffer = append(t.redoBuffer, DeltaOp{
		Kind: OpSetVertexProps, VertexID: vid,
		SetProps: SetPropsOp{Indices: indices, NewValues: values},
	})
	return nil
}

// SetEdgeProperty overwrites properties at the given indices.
func (t *Transaction) SetEdgeProperty(eid EdgeID, indices []int, values []PropertyValue) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireActive(); err != nil {
		return err
	}
	undo, err := t.graph.SetEdgeProperty(eid, indices, values, t.txnID)
	if err != nil {
		return err
	}
	t.writtenEdges[eid] = &writtenEdge{eid: eid, undo: undo}
	t.writeOrder = append(t.writeOrder, t.writtenEdges[eid])
	t.redoBuffer = append(t.redoBuffer, DeltaOp{
		Kind: OpSetEdgeProps, EdgeID: eid,
		SetProps: SetPropsOp{Indices: indices, NewValues: values},
	})
	return nil
}

// Commit runs the protocol in §4.F: optional read-set revalidation,
// commit-ts acquisition, WAL durability, publication, and bookkeeping.
// It delegates the WAL/durability and manager bookkeeping steps to the
// Manager, which owns the WAL writer and active set.
func (t *Transaction) Commit() (Timestamp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return 0, ErrTransactionAlreadyFinal
	}
	t.state = Committing
	return t.manager.commitTransaction(t)
}

// Abort rolls back every write this transaction made, in reverse
// order, and discards the redo buffer. Idempotent.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Aborted || t.state == Committed {
		return nil
	}
	t.manager.abortTransaction(t)
	t.state = Aborted
	return nil
}

// undoInReverse walks writeOrder backwards, restoring each record.
// Called by the manager under both explicit Abort and revalidation
// failure during Commit.
func (t *Transaction) undoInReverse() {
	for i := len(t.writeOrder) - 1; i >= 0; i-- {
		switch w := t.writeOrder[i].(type) {
		case *writtenVertex:
			t.graph.AbortVertexWrite(w.vid, t.txnID, w.undo)
		case *writtenEdge:
			t.graph.AbortEdgeWrite(w.eid, t.txnID, w.undo)
		}
	}
}

// publishWrites CAS's every touched record from txnID to commitTS.
func (t *Transaction) publishWrites(commitTS Timestamp) {
	for _, w := range t.writeOrder {
		switch rec := w.(type) {
		case *writtenVertex:
			t.graph.PublishVertex(rec.vid, t.txnID, commitTS)
		case *writtenEdge:
			t.graph.PublishEdge(rec.eid, t.txnID, commitTS)
		}
	}
}
