package storage

import "fmt"

// VertexID, EdgeID and LabelID are opaque positive integers. LabelID is
// never zero; zero is reserved as "no label" for internal bookkeeping.
type (
	VertexID uint64
	EdgeID   uint64
	LabelID  uint64
)

// PropertyKind tags the scalar type held in a PropertyValue.
type PropertyKind uint8

const (
	PropertyNull PropertyKind = iota
	PropertyBool
	PropertyInt
	PropertyFloat
	PropertyString
)

// PropertyValue is one scalar in a PropertyRecord. Only the field
// matching Kind is meaningful.
type PropertyValue struct {
	Kind PropertyKind
	Bool bool
	Int  int64
	Flt  float64
	Str  string
}

func NullValue() PropertyValue                 { return PropertyValue{Kind: PropertyNull} }
func BoolValue(b bool) PropertyValue            { return PropertyValue{Kind: PropertyBool, Bool: b} }
func IntValue(i int64) PropertyValue            { return PropertyValue{Kind: PropertyInt, Int: i} }
func FloatValue(f float64) PropertyValue        { return PropertyValue{Kind: PropertyFloat, Flt: f} }
func StringValue(s string) PropertyValue        { return PropertyValue{Kind: PropertyString, Str: s} }

func (v PropertyValue) String() string {
	switch v.Kind {
	case PropertyNull:
		return "null"
	case PropertyBool:
		return fmt.Sprintf("%t", v.Bool)
	case PropertyInt:
		return fmt.Sprintf("%d", v.Int)
	case PropertyFloat:
		return fmt.Sprintf("%g", v.Flt)
	case PropertyString:
		return v.Str
	default:
		return "<invalid>"
	}
}

// PropertyRecord is a positional, ordered sequence of scalar values.
// Schema is positional: column index is meaningful and shared across
// all vertices/edges of the same label.
type PropertyRecord []PropertyValue

// Clone returns an independent copy of the record.
func (r PropertyRecord) Clone() PropertyRecord {
	if r == nil {
		return nil
	}
	out := make(PropertyRecord, len(r))
	copy(out, r)
	return out
}

// Vertex is the user-visible shape of a graph vertex.
type Vertex struct {
	VID         VertexID
	LabelID     LabelID
	Properties  PropertyRecord
	IsTombstone bool
}

// Clone returns a deep copy, safe to store independently of the
// original (in particular, independent of the original's Properties
// backing array).
func (v Vertex) Clone() Vertex {
	v.Properties = v.Properties.Clone()
	return v
}

// Edge is the user-visible shape of a graph edge.
type Edge struct {
	EID         EdgeID
	SrcID       VertexID
	DstID       VertexID
	LabelID     LabelID
	Properties  PropertyRecord
	IsTombstone bool
}

func (e Edge) Clone() Edge {
	e.Properties = e.Properties.Clone()
	return e
}

// Direction selects which side of an edge anchors adjacency iteration.
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
)

// Neighbor is the derived adjacency projection over edges, ordered
// lexicographically by (LabelID, NeighborID, EID).
type Neighbor struct {
	LabelID    LabelID
	NeighborID VertexID
	EID        EdgeID
}

// Less implements the lexicographic ordering required by §3 so
// Neighbor can key a google/btree ordered set.
func (n Neighbor) Less(other Neighbor) bool {
	if n.LabelID != other.LabelID {
		return n.LabelID < other.LabelID
	}
	if n.NeighborID != other.NeighborID {
		return n.NeighborID < other.NeighborID
	}
	return n.EID < other.EID
}

// IsolationLevel selects the conflict-detection protocol a transaction
// commits under.
type IsolationLevel uint8

const (
	// Snapshot isolation: only write-write conflicts are detected.
	Snapshot IsolationLevel = iota
	// Serializable: additionally revalidates the read set at commit.
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case Snapshot:
		return "snapshot"
	case Serializable:
		return "serializable"
	default:
		return "unknown"
	}
}
