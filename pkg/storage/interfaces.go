package storage

// Reader is the read-only subset of transactional graph operations,
// mirroring the original engine's Graph trait split from MutGraph
// (minigu/storage/src/storage.rs) so read-only callers — a future
// planner, a checkpoint snapshot — can be typed against the narrower
// surface instead of the full read/write Transaction.
type Reader interface {
	GetVertex(vid VertexID) (Vertex, error)
	GetEdge(eid EdgeID) (Edge, error)
	IterVertices() *VertexIter
	IterEdges() *EdgeIter
	IterAdjacency(vid VertexID, dir Direction) (*AdjacencyIter, error)
}

// Writer is the mutating subset, mirroring MutGraph.
type Writer interface {
	CreateVertex(v Vertex) (VertexID, error)
	CreateEdge(e Edge) (EdgeID, error)
	DeleteVertex(vid VertexID) error
	DeleteEdge(eid EdgeID) error
	SetVertexProperty(vid VertexID, indices []int, values []PropertyValue) error
	SetEdgeProperty(eid EdgeID, indices []int, values []PropertyValue) error
}

// StorageTransaction is the full read/write + lifecycle surface;
// *Transaction implements it.
type StorageTransaction interface {
	Reader
	Writer
	Commit() (Timestamp, error)
	Abort() error
}

var (
	_ Reader             = (*Transaction)(nil)
	_ Writer             = (*Transaction)(nil)
	_ StorageTransaction = (*Transaction)(nil)
)

// WAL is the durability surface the transaction manager writes
// through. It is satisfied by pkg/wal's Writer; the storage package
// depends only on this interface so it never imports pkg/wal,
// mirroring the original engine's StorageWal trait
// (minigu/storage/src/common/wal/mod.rs).
type WAL interface {
	AppendBegin(txnID Timestamp) error
	AppendDelta(txnID Timestamp, op DeltaOp) error
	AppendCommit(txnID, commitTS Timestamp) error
	AppendAbort(txnID Timestamp) error
	Flush() error
}

// ManagerIface exposes the GraphTxnManager surface
// (minigu/transaction/src/manager.rs) independent of the concrete
// Manager struct, which satisfies it. The checkpoint package takes the
// concrete *Manager.
type ManagerIface interface {
	Begin(isolation IsolationLevel) (*Transaction, error)
	LowWatermark() Timestamp
	GarbageCollect()
}

var _ ManagerIface = (*Manager)(nil)
