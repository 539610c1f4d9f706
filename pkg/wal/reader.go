package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/minigu-db/minigu/pkg/storage"
)

// errTornTail is not returned to callers of Iter; it is the internal
// signal that decoding stopped because the final record's checksum
// did not match (or the file ended mid-record), both of which are
// treated identically: everything before the bad record is the valid
// log, everything from the bad record on is discarded.
var errTornTail = errors.New("wal: torn tail")

// Reader reads WAL records in append order from a file, stopping
// cleanly at EOF or at the first sign of a torn tail.
type Reader struct {
	f *os.File
	r *bufio.Reader
}

// OpenReader opens path read-only for iteration. It is independent of
// Writer's *os.File so a Reader and an active Writer may coexist.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open reader %s: %w", path, err)
	}
	return &Reader{f: f, r: bufio.NewReader(f)}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// Iter calls fn for every well-formed record from the current
// position in append order. It stops, without error, at EOF or at the
// first torn/corrupt record (per §4.G: "stops at EOF or first CRC
// mismatch ... treated as torn tail and truncated"). validBytes
// reports how many bytes of the file were valid log, which a caller
// recovering from a crash can use to truncate the file to its last
// good record.
func (r *Reader) Iter(fn func(Record) bool) (validBytes int64, err error) {
	var offset int64
	for {
		rec, n, readErr := r.readOne()
		if readErr != nil {
			if readErr == io.EOF || readErr == errTornTail {
				return offset, nil
			}
			return offset, readErr
		}
		offset += n
		if !fn(rec) {
			return offset, nil
		}
	}
}

func (r *Reader) readOne() (Record, int64, error) {
	var lenBuf, crcBuf [4]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return Record{}, 0, io.EOF
		}
		return Record{}, 0, errTornTail
	}
	if _, err := io.ReadFull(r.r, crcBuf[:]); err != nil {
		return Record{}, 0, errTornTail
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, 0, errTornTail
	}
	if crc32.Checksum(payload, crcTable) != wantCRC {
		return Record{}, 0, errTornTail
	}
	if len(payload) < 1 {
		return Record{}, 0, errTornTail
	}

	rec, err := decodePayload(Tag(payload[0]), payload[1:])
	if err != nil {
		return Record{}, 0, errTornTail
	}
	return rec, int64(8 + len(payload)), nil
}

func decodeTxnID(b []byte) (storage.Timestamp, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errTornTail
	}
	return storage.Timestamp(binary.LittleEndian.Uint64(b[:8])), b[8:], nil
}

func decodePayload(tag Tag, body []byte) (Record, error) {
	switch tag {
	case TagBegin:
		id, _, err := decodeTxnID(body)
		if err != nil {
			return Record{}, err
		}
		return Record{Tag: tag, TxnID: id}, nil

	case TagDelta:
		id, rest, err := decodeTxnID(body)
		if err != nil {
			return Record{}, err
		}
		var w deltaWire
		if err := json.Unmarshal(rest, &w); err != nil {
			return Record{}, errTornTail
		}
		return Record{Tag: tag, TxnID: id, Delta: fromWire(w)}, nil

	case TagCommit:
		id, rest, err := decodeTxnID(body)
		if err != nil {
			return Record{}, err
		}
		commitTS, _, err := decodeTxnID(rest)
		if err != nil {
			return Record{}, err
		}
		return Record{Tag: tag, TxnID: id, CommitTS: commitTS}, nil

	case TagAbort:
		id, _, err := decodeTxnID(body)
		if err != nil {
			return Record{}, err
		}
		return Record{Tag: tag, TxnID: id}, nil

	case TagCheckpoint:
		ckptID, rest, err := decodeTxnID(body)
		if err != nil {
			return Record{}, err
		}
		watermark, rest, err := decodeTxnID(rest)
		if err != nil {
			return Record{}, err
		}
		if len(rest) < 4 {
			return Record{}, errTornTail
		}
		nameLen := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < nameLen {
			return Record{}, errTornTail
		}
		name := string(rest[:nameLen])
		return Record{Tag: tag, CheckpointID: ckptID, Watermark: watermark, FileName: name}, nil

	default:
		return Record{}, errTornTail
	}
}
