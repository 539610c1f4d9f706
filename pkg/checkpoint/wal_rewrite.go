package checkpoint

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/minigu-db/minigu/pkg/storage"
	"github.com/minigu-db/minigu/pkg/wal"
)

// rewriteWALDroppingPrefix rewrites the WAL file at path, keeping only
// records that are still needed after a checkpoint at `watermark`:
// transactions whose commit is already reflected in the checkpoint
// (commit_ts <= watermark) are dropped entirely, as are aborted
// transactions (never needed) and bare Checkpoint markers (the
// manifest is authoritative for checkpoint history). Transactions with
// no resolution yet, or with commit_ts > watermark, are kept in full
// so recovery can still replay them. This implements §4.H step 4.
func rewriteWALDroppingPrefix(path string, watermark storage.Timestamp, log zerolog.Logger) error {
	type outcome struct {
		resolved bool
		keep     bool
	}
	outcomes := make(map[storage.Timestamp]*outcome)

	r, err := wal.OpenReader(path)
	if err != nil {
		return err
	}
	_, err = r.Iter(func(rec wal.Record) bool {
		switch rec.Tag {
		case wal.TagCommit:
			outcomes[rec.TxnID] = &outcome{resolved: true, keep: rec.CommitTS > watermark}
		case wal.TagAbort:
			outcomes[rec.TxnID] = &outcome{resolved: true, keep: false}
		}
		return true
	})
	r.Close()
	if err != nil {
		return err
	}

	tmpPath := path + ".rewrite.tmp"
	os.Remove(tmpPath)
	w, err := wal.Open(tmpPath, log)
	if err != nil {
		return err
	}

	r2, err := wal.OpenReader(path)
	if err != nil {
		w.Close()
		os.Remove(tmpPath)
		return err
	}
	writeErr := error(nil)
	_, err = r2.Iter(func(rec wal.Record) bool {
		switch rec.Tag {
		case wal.TagCheckpoint:
			return true // dropped; manifest owns checkpoint history
		case wal.TagAbort:
			return true // droppable regardless of outcome map
		}
		o, ok := outcomes[rec.TxnID]
		keep := !ok || !o.resolved || o.keep
		if !keep {
			return true
		}
		switch rec.Tag {
		case wal.TagBegin:
			writeErr = w.AppendBegin(rec.TxnID)
		case wal.TagDelta:
			writeErr = w.AppendDelta(rec.TxnID, rec.Delta)
		case wal.TagCommit:
			writeErr = w.AppendCommit(rec.TxnID, rec.CommitTS)
		}
		return writeErr == nil
	})
	r2.Close()
	if err == nil {
		err = writeErr
	}
	if err != nil {
		w.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := w.Flush(); err != nil {
		w.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	data, err := os.ReadFile(tmpPath)
	os.Remove(tmpPath)
	if err != nil {
		return err
	}
	// Rewrite the file in place rather than renaming over it: the open
	// wal.Writer appends through an O_APPEND descriptor on this same
	// file, so its later records land after the kept ones.
	return os.WriteFile(path, data, 0o644)
}
