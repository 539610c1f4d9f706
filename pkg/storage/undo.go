package storage

// DeltaOpKind tags the variant held by a DeltaOp. DeltaOp is a sum type
// over these kinds, matched exhaustively wherever it is consumed
// (undo application, WAL redo serialization, recovery replay) rather
// than dispatched through an interface hierarchy.
type DeltaOpKind uint8

const (
	OpCreateVertex DeltaOpKind = iota + 1
	OpCreateEdge
	OpDelVertex
	OpDelEdge
	OpSetVertexProps
	OpSetEdgeProps
	OpAddLabel
	OpRemoveLabel
)

// SetPropsOp carries a sparse property update: the column indices
// touched, in order. Exactly one of PriorValues / NewValues is
// populated depending on context: the in-memory undo chain (never
// serialized) uses PriorValues to roll a write back; the WAL redo
// buffer (serialized via pkg/wal) uses NewValues, since replaying a
// commit forward requires the values it wrote, not the ones it
// displaced. This split resolves an ambiguity in the distilled
// DeltaOp shape, which names only "prior_values" — sufficient for
// undo, not for forward replay — see DESIGN.md.
type SetPropsOp struct {
	Indices     []int
	PriorValues []PropertyValue
	NewValues   []PropertyValue
}

// DeltaOp is the tagged union of mutating operations the engine can
// apply to a single vertex or edge. Exactly one of the per-kind fields
// is meaningful, selected by Kind.
type DeltaOp struct {
	Kind DeltaOpKind

	VertexID VertexID
	EdgeID   EdgeID

	Vertex Vertex // OpCreateVertex
	Edge   Edge   // OpCreateEdge

	SetProps SetPropsOp // OpSetVertexProps / OpSetEdgeProps

	LabelID LabelID // OpAddLabel / OpRemoveLabel
}

// UndoEntry is one link in a per-record version chain: the delta that,
// if applied, restores the record to its state immediately before the
// write that pushed this entry, and the timestamp that was displaced.
// Entries are newest-first; Next is a weak back-reference in the
// sense that GC may sever it (old entries are simply dropped, never
// mutated), matching the original engine's weak undo pointers.
type UndoEntry struct {
	Delta     DeltaOp
	Timestamp Timestamp
	Next      *UndoEntry
}

// invertSetVertexProps returns the SetPropsOp stored in the UndoEntry
// of a property write (vertex or edge): it restores the prior values
// at the same indices.
func invertSetVertexProps(priorVals []PropertyValue, indices []int) SetPropsOp {
	out := make([]PropertyValue, len(priorVals))
	copy(out, priorVals)
	return SetPropsOp{Indices: append([]int(nil), indices...), PriorValues: out}
}
