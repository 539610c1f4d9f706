// Package minigu is the embedded-API facade of §6: it wires the
// transaction manager (pkg/storage), write-ahead log (pkg/wal),
// checkpoint manager (pkg/checkpoint), vector index adapter
// (pkg/vectorindex), configuration (pkg/config), and metrics
// (pkg/metrics) into one Database/Session pair, mirroring the
// original engine's Database::open / Database::session split
// (minigu/storage/src/database.rs).
package minigu

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/minigu-db/minigu/pkg/checkpoint"
	"github.com/minigu-db/minigu/pkg/config"
	"github.com/minigu-db/minigu/pkg/metrics"
	"github.com/minigu-db/minigu/pkg/storage"
	"github.com/minigu-db/minigu/pkg/vectorindex"
	"github.com/minigu-db/minigu/pkg/wal"
)

// Database is a single open embedded MiniGU instance: one graph store,
// one transaction manager, an optional WAL + checkpoint manager for
// durability, and a registry of vector indices attached to property
// columns.
type Database struct {
	cfg *config.Config
	log zerolog.Logger

	manager    *storage.Manager
	walWriter  *wal.Writer
	checkpoint *checkpoint.Manager
	metrics    *metrics.Metrics

	inMemory bool

	mu      sync.Mutex
	indices map[string]*vectorindex.Index
	closed  bool
}

// Open opens or creates a database backed by durable storage at path:
// a write-ahead log at cfg.WALPath and checkpoints under
// cfg.CheckpointDir. If the WAL or checkpoint directory already has
// state, it is recovered per §4.I before the database is returned
// ready for use.
func Open(path string, cfg *config.Config) (*Database, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if path != "" {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("minigu: create data dir: %w", err)
		}
		if cfg.WALPath == config.Defaults().WALPath {
			cfg.WALPath = filepath.Join(path, "minigu.wal")
		}
		if cfg.CheckpointDir == config.Defaults().CheckpointDir {
			cfg.CheckpointDir = filepath.Join(path, "checkpoints")
		}
	}
	if err := os.MkdirAll(cfg.CheckpointDir, 0o755); err != nil {
		return nil, fmt.Errorf("minigu: create checkpoint dir: %w", err)
	}

	log := newLogger(cfg)

	graph, highWaterMark, err := checkpoint.Recover(cfg.CheckpointDir, cfg.WALPath, log)
	if err != nil {
		return nil, fmt.Errorf("minigu: recovery: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var walOpts []wal.Option
	if m != nil {
		walOpts = append(walOpts, wal.WithMetrics(m))
	}
	walWriter, err := wal.Open(cfg.WALPath, log, walOpts...)
	if err != nil {
		return nil, fmt.Errorf("minigu: open wal: %w", err)
	}

	return newDatabase(cfg, log, graph, highWaterMark, walWriter, false, m)
}

// OpenInMemory opens a database with no WAL and no checkpointing: all
// state is lost when the process exits. Useful for tests and
// short-lived tooling.
func OpenInMemory(cfg *config.Config) (*Database, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := newLogger(cfg)
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	return newDatabase(cfg, log, storage.NewGraph(), 0, nil, true, m)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Logging.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return log.Level(level).With().Str("component", "minigu").Logger()
}

func newDatabase(cfg *config.Config, log zerolog.Logger, graph *storage.Graph, highWaterMark storage.Timestamp, walWriter *wal.Writer, inMemory bool, m *metrics.Metrics) (*Database, error) {
	opts := []storage.ManagerOption{
		storage.WithLogger(log),
		storage.WithTransactionTimeout(cfg.TransactionTimeout()),
	}
	if walWriter != nil {
		opts = append(opts, storage.WithWAL(walWriter))
	}
	if m != nil {
		opts = append(opts, storage.WithMetrics(m))
	}

	manager := storage.NewManager(graph, opts...)
	if highWaterMark > 0 {
		manager.Oracle().FastForwardCommitTS(highWaterMark)
	}

	db := &Database{
		cfg:       cfg,
		log:       log,
		manager:   manager,
		walWriter: walWriter,
		metrics:   m,
		inMemory:  inMemory,
		indices:   make(map[string]*vectorindex.Index),
	}

	if walWriter != nil {
		ckptCfg := checkpoint.Config{
			CheckpointDir:              cfg.CheckpointDir,
			MaxCheckpoints:             cfg.MaxCheckpoints,
			AutoCheckpointIntervalSecs: cfg.AutoCheckpointIntervalSecs,
			CheckpointPrefix:           cfg.CheckpointPrefix,
			WALPath:                    cfg.WALPath,
		}
		var ckptOpts []checkpoint.Option
		if m != nil {
			ckptOpts = append(ckptOpts, checkpoint.WithMetrics(m))
		}
		ckptMgr, err := checkpoint.NewManager(ckptCfg, manager, walWriter, log, ckptOpts...)
		if err != nil {
			return nil, fmt.Errorf("minigu: checkpoint manager: %w", err)
		}
		db.checkpoint = ckptMgr
		if d := cfg.AutoCheckpointInterval(); d > 0 {
			ckptMgr.StartAuto(d)
		}
	}

	return db, nil
}

// Session opens a new thread-affine session handle. Sessions are
// cheap; callers typically open one per logical unit of work and
// begin/commit/abort transactions against it.
func (db *Database) Session() *Session {
	return &Session{db: db}
}

// Checkpoint forces an immediate checkpoint, returning the path of the
// checkpoint file written. It is a no-op error if the database has no WAL (in-memory
// mode) since there is nothing to recover from.
func (db *Database) Checkpoint() (string, error) {
	if db.checkpoint == nil {
		return "", fmt.Errorf("minigu: checkpoint unavailable in in-memory mode")
	}
	return db.checkpoint.Run()
}

// AttachVectorIndex registers an ANN index under name, for use by
// sessions that pass name to VectorIndex.
func (db *Database) AttachVectorIndex(name string, ix *vectorindex.Index) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.indices[name] = ix
}

// VectorIndex returns a previously attached index, if any.
func (db *Database) VectorIndex(name string) (*vectorindex.Index, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	ix, ok := db.indices[name]
	return ix, ok
}

// Metrics returns the database's metrics sink, or nil if metrics are
// disabled.
func (db *Database) Metrics() *metrics.Metrics { return db.metrics }

// Close stops background checkpointing, releases the transaction
// manager, and flushes and closes the WAL. Transactions still active
// are not aborted.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if db.checkpoint != nil {
		db.checkpoint.StopAuto()
	}
	if err := db.manager.Close(); err != nil {
		return fmt.Errorf("minigu: close manager: %w", err)
	}
	if db.walWriter != nil {
		if err := db.walWriter.Close(); err != nil {
			return fmt.Errorf("minigu: close wal: %w", err)
		}
	}
	return nil
}
