package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minigu-db/minigu/pkg/storage"
)

func TestTimestampDomainSplit(t *testing.T) {
	o := storage.NewTimestampOracle()

	commitTS, err := o.NextCommitTS()
	require.NoError(t, err)
	assert.True(t, commitTS.IsCommitTS())
	assert.False(t, commitTS.IsTxnID())

	txnID, err := o.NextTxnID()
	require.NoError(t, err)
	assert.True(t, txnID.IsTxnID())
	assert.False(t, txnID.IsCommitTS())

	assert.NotEqual(t, commitTS.Raw(), uint64(0))
}

func TestOracleCountersAreIndependentAndMonotonic(t *testing.T) {
	o := storage.NewTimestampOracle()
	var lastCommit storage.Timestamp
	var lastTxn storage.Timestamp
	for i := 0; i < 5; i++ {
		c, err := o.NextCommitTS()
		require.NoError(t, err)
		assert.Greater(t, c, lastCommit)
		lastCommit = c

		tx, err := o.NextTxnID()
		require.NoError(t, err)
		assert.Greater(t, tx.Raw(), lastTxn.Raw())
		lastTxn = tx
	}
}

func TestFastForwardCommitTSOnlyMovesForward(t *testing.T) {
	o := storage.NewTimestampOracle()
	first, err := o.NextCommitTS()
	require.NoError(t, err)

	o.FastForwardCommitTS(100)
	next, err := o.NextCommitTS()
	require.NoError(t, err)
	assert.Greater(t, next, storage.Timestamp(100))
	assert.Greater(t, next, first)

	// Fast-forwarding to a lower watermark than already issued is a no-op.
	before := o.LastCommitTS()
	o.FastForwardCommitTS(1)
	assert.Equal(t, before, o.LastCommitTS())
}

func TestNeighborOrdering(t *testing.T) {
	a := storage.Neighbor{LabelID: 1, NeighborID: 5, EID: 1}
	b := storage.Neighbor{LabelID: 1, NeighborID: 10, EID: 1}
	c := storage.Neighbor{LabelID: 2, NeighborID: 1, EID: 1}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, b.Less(c))
}
