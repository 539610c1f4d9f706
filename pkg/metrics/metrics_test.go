package metrics_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minigu-db/minigu/pkg/metrics"
)

func TestTransactionCountersTrackActiveTxns(t *testing.T) {
	m := metrics.New()
	m.TxnBegun()
	m.TxnBegun()
	m.TxnCommitted()
	m.TxnAborted()

	body := scrape(t, m)
	assert.Contains(t, body, "minigu_transactions_begun_total 2")
	assert.Contains(t, body, "minigu_transactions_committed_total 1")
	assert.Contains(t, body, "minigu_transactions_aborted_total 1")
	assert.Contains(t, body, "minigu_active_transactions 0")
}

func TestConflictDetectedLabelsByKind(t *testing.T) {
	m := metrics.New()
	m.ConflictDetected("write_write")
	m.ConflictDetected("write_write")
	m.ConflictDetected("read_write")

	body := scrape(t, m)
	assert.Contains(t, body, `minigu_conflicts_total{kind="write_write"} 2`)
	assert.Contains(t, body, `minigu_conflicts_total{kind="read_write"} 1`)
}

func TestObserveWALFlushAndCheckpoint(t *testing.T) {
	m := metrics.New()
	m.WALBytesWritten(128)
	m.ObserveWALFlush(5 * time.Millisecond)
	m.ObserveCheckpoint(20*time.Millisecond, 4096)
	m.ObserveSearch(1 * time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, "minigu_wal_bytes_written_total 128")
	assert.Contains(t, body, "minigu_checkpoints_total 1")
	assert.Contains(t, body, "minigu_checkpoint_bytes_written_total 4096")
}

func TestMultipleInstancesDoNotCollide(t *testing.T) {
	// Each Database gets its own Metrics with its own registry, so two
	// instances in the same process must not panic registering the
	// same collector names twice.
	assert.NotPanics(t, func() {
		metrics.New()
		metrics.New()
	})
}

func TestTimerMeasuresElapsed(t *testing.T) {
	timer := metrics.NewTimer()
	time.Sleep(time.Millisecond)
	assert.Greater(t, timer.Elapsed(), time.Duration(0))
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}
