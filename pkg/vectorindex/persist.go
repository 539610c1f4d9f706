package vectorindex

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/minigu-db/minigu/pkg/storage/internal/blog"
)

// Key prefixes for the Badger-backed store. The vector index is the
// only component in this module that persists through Badger — the
// graph itself persists through the write-ahead log and snapshot
// checkpoints (§4.H/§4.I), keeping on-disk paged storage of the graph
// out of scope.
const (
	prefixMeta   = byte(0x01) // single key: encoded header
	prefixVector = byte(0x02) // prefixVector + id(8 BE) -> gob([]float32)
	prefixEdge   = byte(0x03) // prefixEdge + id(8 BE) -> gob([]uint64) neighbor list
	prefixDelete = byte(0x04) // prefixDelete + id(8 BE) -> empty, soft-delete marker

	metaKey = "header"
)

type persistedHeader struct {
	Dim            int
	Metric         Metric
	M              int
	EfConstruction int
	Entry          uint64
	HasEntry       bool
}

// Store wraps a Badger database dedicated to one index's persistence.
type Store struct {
	db *badger.DB
}

// StoreOptions configures OpenStore.
type StoreOptions struct {
	Dir      string
	InMemory bool
	Logger   zerolog.Logger
}

// OpenStore opens (creating if necessary) the Badger database backing
// an index's persistence.
func OpenStore(opts StoreOptions) (*Store, error) {
	bo := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bo = bo.WithInMemory(true)
	}
	bo = bo.WithLogger(blog.New(opts.Logger))
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying Badger database.
func (s *Store) Close() error { return s.db.Close() }

func idKey(prefix byte, id uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func encodeSlice(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save persists the full state of ix into the store, overwriting
// whatever was there before. Saving always leaves the index in the
// Built state on the next Load, regardless of whether ix is currently
// Built or Dirty: Badger's transaction gives us a single consistent
// point-in-time view to save from.
func (ix *Index) Save(s *Store) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return s.db.Update(func(txn *badger.Txn) error {
		// Drop any prior contents for this store so a save after
		// SoftDelete or a smaller rebuild doesn't leave orphaned keys.
		if err := dropAllLocked(txn); err != nil {
			return err
		}

		header := persistedHeader{
			Dim:            ix.dim,
			Metric:         ix.metric,
			M:              ix.m,
			EfConstruction: ix.efConstruction,
			Entry:          ix.entry,
			HasEntry:       ix.hasEntry,
		}
		headerBytes, err := encodeSlice(header)
		if err != nil {
			return err
		}
		if err := txn.Set(idKey(prefixMeta, 0), headerBytes); err != nil {
			return err
		}

		for id, vec := range ix.vectors {
			vecBytes, err := encodeSlice(vec)
			if err != nil {
				return err
			}
			if err := txn.Set(idKey(prefixVector, id), vecBytes); err != nil {
				return err
			}
			nbBytes, err := encodeSlice(ix.neighbors[id])
			if err != nil {
				return err
			}
			if err := txn.Set(idKey(prefixEdge, id), nbBytes); err != nil {
				return err
			}
		}

		it := ix.deleted.Iterator()
		for it.HasNext() {
			id := uint64(it.Next())
			if err := txn.Set(idKey(prefixDelete, id), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func dropAllLocked(txn *badger.Txn) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		k := it.Item().KeyCopy(nil)
		keys = append(keys, k)
	}
	for _, k := range keys {
		if err := txn.Delete(k); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}
	return nil
}

// Load reconstructs an index from a previously Saved store.
func Load(s *Store) (*Index, error) {
	ix := &Index{
		vectors:   make(map[uint64][]float32),
		neighbors: make(map[uint64][]uint64),
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(prefixMeta, 0))
		if err != nil {
			return fmt.Errorf("vectorindex: load header: %w", err)
		}
		var header persistedHeader
		if err := item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&header)
		}); err != nil {
			return err
		}
		ix.dim = header.Dim
		ix.metric = header.Metric
		ix.m = header.M
		ix.efConstruction = header.EfConstruction
		ix.entry = header.Entry
		ix.hasEntry = header.HasEntry

		ix.deleted = roaring.New()

		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte{prefixVector}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			id := binary.BigEndian.Uint64(key[1:])
			var vec []float32
			if err := it.Item().Value(func(val []byte) error {
				return gob.NewDecoder(bytes.NewReader(val)).Decode(&vec)
			}); err != nil {
				return err
			}
			ix.vectors[id] = vec
		}

		edgePrefix := []byte{prefixEdge}
		for it.Seek(edgePrefix); it.ValidForPrefix(edgePrefix); it.Next() {
			key := it.Item().Key()
			id := binary.BigEndian.Uint64(key[1:])
			var nbs []uint64
			if err := it.Item().Value(func(val []byte) error {
				return gob.NewDecoder(bytes.NewReader(val)).Decode(&nbs)
			}); err != nil {
				return err
			}
			ix.neighbors[id] = nbs
		}

		delPrefix := []byte{prefixDelete}
		for it.Seek(delPrefix); it.ValidForPrefix(delPrefix); it.Next() {
			key := it.Item().Key()
			id := binary.BigEndian.Uint64(key[1:])
			ix.deleted.Add(uint32(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ix.state = Built
	return ix, nil
}
