package checkpoint_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minigu-db/minigu/pkg/checkpoint"
	"github.com/minigu-db/minigu/pkg/storage"
	"github.com/minigu-db/minigu/pkg/wal"
)

func writeVertex(t *testing.T, m *storage.Manager, vid storage.VertexID, n int64) {
	t.Helper()
	txn, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = txn.CreateVertex(storage.Vertex{VID: vid, LabelID: 1, Properties: storage.PropertyRecord{storage.IntValue(n)}})
	require.NoError(t, err)
	_, err = txn.Commit()
	require.NoError(t, err)
}

// E6: running a checkpoint must produce a loadable snapshot and drop
// the WAL prefix it made redundant, without losing any committed data.
func TestCheckpointThenWALTruncate(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "minigu.wal")

	w, err := wal.Open(walPath, zerolog.Nop())
	require.NoError(t, err)

	m := storage.NewManager(nil, storage.WithWAL(w))
	for i := 0; i < 5; i++ {
		writeVertex(t, m, storage.VertexID(i+1), int64(i))
	}

	sizeBeforeCheckpoint, err := w.Size()
	require.NoError(t, err)
	require.Greater(t, sizeBeforeCheckpoint, int64(0))

	ckptMgr, err := checkpoint.NewManager(checkpoint.Config{
		CheckpointDir:    dir,
		MaxCheckpoints:   3,
		CheckpointPrefix: "minigu",
		WALPath:          walPath,
	}, m, w, zerolog.Nop())
	require.NoError(t, err)

	file, err := ckptMgr.Run()
	require.NoError(t, err)
	assert.FileExists(t, file)

	sizeAfterCheckpoint, err := w.Size()
	require.NoError(t, err)
	assert.Less(t, sizeAfterCheckpoint, sizeBeforeCheckpoint, "checkpoint must truncate the now-redundant WAL prefix")

	require.NoError(t, w.Close())

	graph, highWaterMark, err := checkpoint.Recover(dir, walPath, zerolog.Nop())
	require.NoError(t, err)
	assert.Greater(t, highWaterMark, storage.Timestamp(0))

	recovered := storage.NewManager(graph)
	check, err := recovered.Begin(storage.Snapshot)
	require.NoError(t, err)
	count := 0
	it := check.IterVertices()
	for it.Next() {
		count++
	}
	it.Close()
	assert.Equal(t, 5, count)
	require.NoError(t, check.Abort())
}

// E5: a crash after some commits were fsync'd to the WAL but before a
// checkpoint must replay those commits on recovery; a crash leaving a
// half-written (Begin, no Commit) transaction must not resurrect it.
func TestCrashRecoveryReplaysCommittedPrefixOnly(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "minigu.wal")

	w, err := wal.Open(walPath, zerolog.Nop())
	require.NoError(t, err)
	m := storage.NewManager(nil, storage.WithWAL(w))

	writeVertex(t, m, 1, 10)
	writeVertex(t, m, 2, 20)

	// A transaction that began and wrote a delta but never committed:
	// its Begin record reaches the WAL (deltas are buffered until
	// commit) but no Commit follows,
	// simulating a crash mid-transaction.
	dangling, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	_, err = dangling.CreateVertex(storage.Vertex{VID: 3, LabelID: 1})
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	// No Commit appended for txn 3; simulate the crash by not calling
	// Abort either (a true crash never runs the in-memory abort path).

	require.NoError(t, w.Close())

	graph, _, err := checkpoint.Recover(dir, walPath, zerolog.Nop())
	require.NoError(t, err)

	recovered := storage.NewManager(graph)
	check, err := recovered.Begin(storage.Snapshot)
	require.NoError(t, err)

	v1, err := check.GetVertex(1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v1.Properties[0].Int)

	v2, err := check.GetVertex(2)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v2.Properties[0].Int)

	_, err = check.GetVertex(3)
	assert.ErrorIs(t, err, storage.ErrVertexNotFound, "uncommitted transaction must not survive recovery")
	require.NoError(t, check.Abort())
}

func TestRecoverWithNoExistingStateReturnsEmptyGraph(t *testing.T) {
	dir := t.TempDir()
	graph, highWaterMark, err := checkpoint.Recover(dir, filepath.Join(dir, "missing.wal"), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, storage.Timestamp(0), highWaterMark)

	m := storage.NewManager(graph)
	txn, err := m.Begin(storage.Snapshot)
	require.NoError(t, err)
	it := txn.IterVertices()
	assert.False(t, it.Next())
	it.Close()
	require.NoError(t, txn.Abort())
}

func TestCheckpointRotationRespectsMaxCheckpoints(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "minigu.wal")
	w, err := wal.Open(walPath, zerolog.Nop())
	require.NoError(t, err)
	m := storage.NewManager(nil, storage.WithWAL(w))

	ckptMgr, err := checkpoint.NewManager(checkpoint.Config{
		CheckpointDir:    dir,
		MaxCheckpoints:   2,
		CheckpointPrefix: "minigu",
		WALPath:          walPath,
	}, m, w, zerolog.Nop())
	require.NoError(t, err)

	var files []string
	for i := 0; i < 4; i++ {
		writeVertex(t, m, storage.VertexID(i+1), int64(i))
		f, err := ckptMgr.Run()
		require.NoError(t, err)
		files = append(files, f)
	}

	manifest, err := checkpoint.LoadManifest(dir)
	require.NoError(t, err)
	assert.Len(t, manifest.Checkpoints, 2)

	// The two oldest checkpoint files must have been removed from disk.
	_, err = os.Stat(files[0])
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(files[1])
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, files[3])
}
