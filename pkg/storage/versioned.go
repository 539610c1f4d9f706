package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// versionedVertex is the store's internal wrapper around a vertex:
// current value, the ts tag (§3 VersionedVertex), and the undo chain
// head. ts is either the commit-ts that published `current` or the
// txn-id of the transaction currently holding the exclusive write
// slot.
type versionedVertex struct {
	mu        sync.Mutex
	ts        atomic.Uint64
	current   Vertex
	undoHead  *UndoEntry
}

type versionedEdge struct {
	mu       sync.Mutex
	ts       atomic.Uint64
	current  Edge
	undoHead *UndoEntry
}

func newVersionedVertex(v Vertex, ts Timestamp) *versionedVertex {
	r := &versionedVertex{current: v}
	r.ts.Store(uint64(ts))
	return r
}

func newVersionedEdge(e Edge, ts Timestamp) *versionedEdge {
	r := &versionedEdge{current: e}
	r.ts.Store(uint64(ts))
	return r
}

// writeSlotBackoff bounds the CAS retry loop described in §5: a short
// spin followed by yielding, rather than an unbounded spin.
func writeSlotBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 2 * time.Millisecond
	b.MaxElapsedTime = 25 * time.Millisecond
	b.Multiplier = 2
	return b
}

// acquireVertexSlot acquires the exclusive write slot on r for txnID,
// retrying with bounded backoff while another transaction holds it.
// On success it returns with r.mu held (caller must unlock) and the
// timestamp displaced from r.ts; on failure r.mu is not held.
func acquireVertexSlot(r *versionedVertex, txnID Timestamp) (displaced Timestamp, err error) {
	op := func() error {
		r.mu.Lock()
		cur := Timestamp(r.ts.Load())
		if cur == txnID {
			displaced = cur
			return nil // keep lock held
		}
		if cur.IsTxnID() {
			r.mu.Unlock()
			return ErrWriteWriteConflict
		}
		displaced = cur
		r.ts.Store(uint64(txnID))
		return nil // keep lock held
	}
	if err := backoff.Retry(op, writeSlotBackoff()); err != nil {
		return 0, ErrWriteWriteConflict
	}
	return displaced, nil
}

func acquireEdgeSlot(r *versionedEdge, txnID Timestamp) (displaced Timestamp, err error) {
	op := func() error {
		r.mu.Lock()
		cur := Timestamp(r.ts.Load())
		if cur == txnID {
			displaced = cur
			return nil
		}
		if cur.IsTxnID() {
			r.mu.Unlock()
			return ErrWriteWriteConflict
		}
		displaced = cur
		r.ts.Store(uint64(txnID))
		return nil
	}
	if err := backoff.Retry(op, writeSlotBackoff()); err != nil {
		return 0, ErrWriteWriteConflict
	}
	return displaced, nil
}

// releaseWriteSlot restores ts to the value displaced at acquisition
// time, used when a transaction aborts.
func releaseWriteSlot(ts *atomic.Uint64, txnID, priorTS Timestamp) {
	ts.CompareAndSwap(uint64(txnID), uint64(priorTS))
}

// publishWriteSlot CAS's ts from the writer's txn-id to the commit-ts,
// making the version visible to readers (§4.F step 5).
func publishWriteSlot(ts *atomic.Uint64, txnID, commitTS Timestamp) {
	ts.CompareAndSwap(uint64(txnID), uint64(commitTS))
}

// visibleVertex implements the §4.C/D snapshot visibility rule for a
// single versioned vertex, given the reading transaction's start_ts
// and its own txn-id (for read-your-own-writes). When the chain is
// exhausted without finding a version old enough for startTS, the
// record is treated as not-yet-created for this snapshot (a
// tombstoned zero value), which GetVertex/GetEdge surface as
// VertexNotFound/EdgeNotFound rather than a distinct visibility
// error — as far as that snapshot is concerned nothing was ever
// created.
func visibleVertex(r *versionedVertex, startTS, readerTxnID Timestamp) (Vertex, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := Timestamp(r.ts.Load())

	if ts.IsCommitTS() && ts <= startTS {
		return r.current, true
	}
	if ts == readerTxnID {
		return r.current, true
	}

	// Walk the undo chain: find the newest entry whose timestamp <=
	// startTS, reconstructing backwards by applying inverse deltas up to
	// and including that entry's.
	reconstructed := r.current
	for u := r.undoHead; u != nil; u = u.Next {
		reconstructed = applyInverseVertexDelta(reconstructed, u.Delta)
		if u.Timestamp <= startTS {
			return reconstructed, true
		}
	}
	return Vertex{IsTombstone: true}, true
}

func visibleEdge(r *versionedEdge, startTS, readerTxnID Timestamp) (Edge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := Timestamp(r.ts.Load())

	if ts.IsCommitTS() && ts <= startTS {
		return r.current, true
	}
	if ts == readerTxnID {
		return r.current, true
	}

	reconstructed := r.current
	for u := r.undoHead; u != nil; u = u.Next {
		reconstructed = applyInverseEdgeDelta(reconstructed, u.Delta)
		if u.Timestamp <= startTS {
			return reconstructed, true
		}
	}
	return Edge{IsTombstone: true}, true
}

// applyInverseVertexDelta reconstructs the value the record held
// immediately before the delta `d` was applied to produce `cur`.
func applyInverseVertexDelta(cur Vertex, d DeltaOp) Vertex {
	switch d.Kind {
	case OpCreateVertex:
		out := cur
		out.IsTombstone = true
		return out
	case OpDelVertex:
		out := cur
		out.IsTombstone = false
		return out
	case OpSetVertexProps:
		out := cur.Clone()
		for i, idx := range d.SetProps.Indices {
			if idx < len(out.Properties) {
				out.Properties[idx] = d.SetProps.PriorValues[i]
			}
		}
		return out
	case OpAddLabel:
		return cur
	case OpRemoveLabel:
		return cur
	default:
		return cur
	}
}

func applyInverseEdgeDelta(cur Edge, d DeltaOp) Edge {
	switch d.Kind {
	case OpCreateEdge:
		out := cur
		out.IsTombstone = true
		return out
	case OpDelEdge:
		out := cur
		out.IsTombstone = false
		return out
	case OpSetEdgeProps:
		out := cur.Clone()
		for i, idx := range d.SetProps.Indices {
			if idx < len(out.Properties) {
				out.Properties[idx] = d.SetProps.PriorValues[i]
			}
		}
		return out
	default:
		return cur
	}
}

// pushUndo prepends a new undo entry to the chain and installs
// `next` as the new current value. Caller must hold r.mu.
func (r *versionedVertex) pushUndo(delta DeltaOp, displacedTS Timestamp, next Vertex) {
	r.undoHead = &UndoEntry{Delta: delta, Timestamp: displacedTS, Next: r.undoHead}
	r.current = next
}

func (r *versionedEdge) pushUndo(delta DeltaOp, displacedTS Timestamp, next Edge) {
	r.undoHead = &UndoEntry{Delta: delta, Timestamp: displacedTS, Next: r.undoHead}
	r.current = next
}

// gcVertexUndoChain and gcEdgeUndoChain keep the newest undo entry whose
// timestamp is strictly less than the low watermark (a snapshot taken at
// the watermark may still stop at it) and drop every entry older than
// that one, since no present or future snapshot can read that far back.
// Caller must hold the record's mutex.
func gcVertexUndoChain(r *versionedVertex, watermark Timestamp) {
	for u := r.undoHead; u != nil; u = u.Next {
		if u.Timestamp < watermark {
			u.Next = nil
			return
		}
	}
}

func gcEdgeUndoChain(r *versionedEdge, watermark Timestamp) {
	for u := r.undoHead; u != nil; u = u.Next {
		if u.Timestamp < watermark {
			u.Next = nil
			return
		}
	}
}
