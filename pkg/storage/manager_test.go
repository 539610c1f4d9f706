package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minigu-db/minigu/pkg/storage"
)

func newVertex(vid storage.VertexID, n int64) storage.Vertex {
	return storage.Vertex{VID: vid, LabelID: 1, Properties: storage.PropertyRecord{storage.IntValue(n)}}
}

func TestSnapshotIsolation_InvisibleUntilCommit(t *testing.T) {
	m := storage.NewManager(nil)

	writer, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = writer.CreateVertex(newVertex(1, 1))
	require.NoError(t, err)

	reader, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = reader.GetVertex(1)
	assert.ErrorIs(t, err, storage.ErrVertexNotFound)

	_, err = writer.Commit()
	require.NoError(t, err)

	// Reader began before the commit: still must not see it.
	_, err = reader.GetVertex(1)
	assert.ErrorIs(t, err, storage.ErrVertexNotFound)
	require.NoError(t, reader.Abort())

	// A fresh transaction sees it.
	later, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	v, err := later.GetVertex(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Properties[0].Int)
	require.NoError(t, later.Abort())
}

// E2: two concurrent transactions both try to write the same vertex;
// the second to attempt the write must fail with a write-write
// conflict, and the first's commit must stand.
func TestWriteWriteConflict(t *testing.T) {
	m := storage.NewManager(nil)

	setup, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = setup.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	_, err = setup.Commit()
	require.NoError(t, err)

	txnA, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	txnB, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)

	require.NoError(t, txnA.SetVertexProperty(1, []int{0}, []storage.PropertyValue{storage.IntValue(10)}))

	err = txnB.SetVertexProperty(1, []int{0}, []storage.PropertyValue{storage.IntValue(20)})
	assert.Error(t, err)
	require.NoError(t, txnB.Abort())

	_, err = txnA.Commit()
	require.NoError(t, err)

	check, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	v, err := check.GetVertex(1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v.Properties[0].Int)
	require.NoError(t, check.Abort())
}

// E3: under Serializable isolation, a transaction that only read a
// vertex must abort at commit if another transaction committed a
// write to that vertex in the interim.
func TestSerializableReadWriteConflict(t *testing.T) {
	m := storage.NewManager(nil)

	setup, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = setup.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	_, err = setup.Commit()
	require.NoError(t, err)

	reader, err := m.Begin(storage.Serializable)
	require.NoError(t, err)
	_, err = reader.GetVertex(1)
	require.NoError(t, err)

	writer, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	require.NoError(t, writer.SetVertexProperty(1, []int{0}, []storage.PropertyValue{storage.IntValue(99)}))
	_, err = writer.Commit()
	require.NoError(t, err)

	_, err = reader.Commit()
	assert.ErrorIs(t, err, storage.ErrReadWriteConflict)
}

func TestSerializableNoConflictWhenUnrelated(t *testing.T) {
	m := storage.NewManager(nil)

	txn, err := m.Begin(storage.Serializable)
	require.NoError(t, err)
	_, err = txn.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	_, err = txn.Commit()
	require.NoError(t, err)
}

// E4: deleting a vertex's incident edge must remove it from both
// endpoints' adjacency projections as of the deleting transaction's
// commit.
func TestAdjacencyReflectsDeletion(t *testing.T) {
	m := storage.NewManager(nil)

	setup, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = setup.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	_, err = setup.CreateVertex(newVertex(2, 0))
	require.NoError(t, err)
	_, err = setup.CreateEdge(storage.Edge{EID: 100, SrcID: 1, DstID: 2, LabelID: 1})
	require.NoError(t, err)
	_, err = setup.Commit()
	require.NoError(t, err)

	before, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	it, err := before.IterAdjacency(1, storage.Outgoing)
	require.NoError(t, err)
	count := 0
	for it.Next() {
		count++
	}
	it.Close()
	assert.Equal(t, 1, count)
	require.NoError(t, before.Abort())

	del, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	require.NoError(t, del.DeleteEdge(100))
	_, err = del.Commit()
	require.NoError(t, err)

	after, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	it2, err := after.IterAdjacency(1, storage.Outgoing)
	require.NoError(t, err)
	count = 0
	for it2.Next() {
		count++
	}
	it2.Close()
	assert.Equal(t, 0, count)
	require.NoError(t, after.Abort())
}

func TestDuplicateVertexID(t *testing.T) {
	m := storage.NewManager(nil)
	txn, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = txn.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	_, err = txn.Commit()
	require.NoError(t, err)

	// A duplicate id is an ordinary write-write conflict: the first
	// CAS already installed a live version, so the second creator
	// loses the slot race exactly as any other concurrent writer would.
	txn2, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = txn2.CreateVertex(newVertex(1, 1))
	assert.ErrorIs(t, err, storage.ErrWriteWriteConflict)
	require.NoError(t, txn2.Abort())
}

func TestCreateVertexAfterTombstoneReuse(t *testing.T) {
	m := storage.NewManager(nil)
	txn, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = txn.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	require.NoError(t, txn.DeleteVertex(1))
	_, err = txn.Commit()
	require.NoError(t, err)

	reuse, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = reuse.CreateVertex(newVertex(1, 42))
	require.NoError(t, err)
	_, err = reuse.Commit()
	require.NoError(t, err)

	check, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	v, err := check.GetVertex(1)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Properties[0].Int)
	require.NoError(t, check.Abort())
}

func TestAbortRollsBackFreshCreate(t *testing.T) {
	m := storage.NewManager(nil)
	txn, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = txn.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	require.NoError(t, txn.Abort())

	retry, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = retry.CreateVertex(newVertex(1, 7))
	require.NoError(t, err, "aborted creation must not leave the slot poisoned")
	require.NoError(t, retry.Abort())
}

func TestTimestampMonotonicity(t *testing.T) {
	m := storage.NewManager(nil)
	var last storage.Timestamp
	for i := 0; i < 10; i++ {
		txn, err := m.Begin(storage.Snapshot)
		require.NoError(t, err)
		_, err = txn.CreateVertex(newVertex(storage.VertexID(i+1), int64(i)))
		require.NoError(t, err)
		commitTS, err := txn.Commit()
		require.NoError(t, err)
		assert.Greater(t, commitTS, last)
		last = commitTS
	}
}

func TestLowWatermarkAdvancesAsTransactionsFinish(t *testing.T) {
	m := storage.NewManager(nil)
	txn, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	before := m.LowWatermark()
	_, err = txn.Commit()
	require.NoError(t, err)
	after := m.LowWatermark()
	assert.GreaterOrEqual(t, after, before)
}

func TestGarbageCollectDropsOldUndoEntries(t *testing.T) {
	m := storage.NewManager(nil)

	txn, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = txn.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	_, err = txn.Commit()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		upd, err := m.Begin(storage.Snapshot)
		require.NoError(t, err)
		require.NoError(t, upd.SetVertexProperty(1, []int{0}, []storage.PropertyValue{storage.IntValue(int64(i))}))
		_, err = upd.Commit()
		require.NoError(t, err)
	}

	// No active transactions, so the watermark is the latest commit-ts
	// and every undo entry is safe to reclaim.
	assert.NotPanics(t, func() { m.GarbageCollect() })

	check, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	v, err := check.GetVertex(1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.Properties[0].Int)
	require.NoError(t, check.Abort())
}

// E1: a snapshot that began before a vertex was ever created must see
// it as not found, not as a distinct "not yet visible" error, even
// after walking clean off the end of the undo chain.
func TestSnapshotPredatingCreationSeesNotFound(t *testing.T) {
	m := storage.NewManager(nil)

	early, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)

	txn, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = txn.CreateVertex(newVertex(1, 0))
	require.NoError(t, err)
	_, err = txn.Commit()
	require.NoError(t, err)

	// Mutate a few more times so the undo chain has entries to walk
	// past before falling off the end.
	for i := 0; i < 3; i++ {
		upd, err := m.Begin(storage.Snapshot)
		require.NoError(t, err)
		require.NoError(t, upd.SetVertexProperty(1, []int{0}, []storage.PropertyValue{storage.IntValue(int64(i))}))
		_, err = upd.Commit()
		require.NoError(t, err)
	}

	_, err = early.GetVertex(1)
	assert.ErrorIs(t, err, storage.ErrVertexNotFound)
	require.NoError(t, early.Abort())
}

func TestManagerCloseRejectsNewTransactions(t *testing.T) {
	m := storage.NewManager(nil)
	require.NoError(t, m.Close())
	_, err := m.Begin(storage.Snapshot)
	assert.ErrorIs(t, err, storage.ErrManagerClosed)
}
