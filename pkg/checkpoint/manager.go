package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/minigu-db/minigu/pkg/storage"
	"github.com/minigu-db/minigu/pkg/wal"
)

var tracer = otel.Tracer("github.com/minigu-db/minigu/pkg/checkpoint")

// Metrics is the minimal counter surface a checkpoint manager reports
// through; pkg/metrics supplies a Prometheus-backed implementation,
// and a no-op implementation is used when none is attached.
type Metrics interface {
	ObserveCheckpoint(d time.Duration, bytesWritten int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCheckpoint(time.Duration, int) {}

// Option configures NewManager.
type Option func(*Manager)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option { return func(mgr *Manager) { mgr.metrics = m } }

// Manager periodically (and on demand) freezes a consistent snapshot
// of the graph, appends a Checkpoint WAL record, rewrites the WAL to
// drop the now-redundant prefix, and rotates old checkpoint files.
// Mirrors §4.H.
type Manager struct {
	dir          string
	prefix       string
	maxCheckpoints int
	walPath      string

	txnManager *storage.Manager
	walWriter  *wal.Writer
	log        zerolog.Logger
	metrics    Metrics

	counter atomic.Uint64

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// Config bundles §6's checkpoint-related configuration keys.
type Config struct {
	CheckpointDir               string
	MaxCheckpoints              int
	AutoCheckpointIntervalSecs  int
	CheckpointPrefix            string
	WALPath                     string
}

// NewManager constructs a checkpoint manager. walWriter may be nil
// for a pure in-memory database with no durability.
func NewManager(cfg Config, txnManager *storage.Manager, walWriter *wal.Writer, log zerolog.Logger, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(cfg.CheckpointDir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir %s: %w", cfg.CheckpointDir, err)
	}
	m := &Manager{
		dir:            cfg.CheckpointDir,
		prefix:         cfg.CheckpointPrefix,
		maxCheckpoints: cfg.MaxCheckpoints,
		walPath:        cfg.WALPath,
		txnManager:     txnManager,
		walWriter:      walWriter,
		log:            log,
		metrics:        noopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run performs one checkpoint cycle: snapshot, write file, append WAL
// checkpoint record, truncate, rotate. Returns the path of the new
// checkpoint file.
func (m *Manager) Run() (string, error) {
	_, span := tracer.Start(context.Background(), "CheckpointManager.Run")
	defer span.End()
	start := time.Now()

	file, err := m.runLocked()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	bytesWritten := 0
	if info, statErr := os.Stat(file); statErr == nil {
		bytesWritten = int(info.Size())
	}
	m.metrics.ObserveCheckpoint(time.Since(start), bytesWritten)

	span.SetAttributes(attribute.String("minigu.checkpoint_file", file))
	return file, nil
}

func (m *Manager) runLocked() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txnManager.ForceAbortStale(time.Now())

	roTxn, err := m.txnManager.Begin(storage.Snapshot)
	if err != nil {
		return "", fmt.Errorf("checkpoint: begin snapshot txn: %w", err)
	}
	watermark := roTxn.StartTS()

	snap := Snapshot{Watermark: watermark}
	vIter := roTxn.IterVertices()
	for vIter.Next() {
		v := vIter.Vertex()
		snap.Vertices = append(snap.Vertices, vertexRecord{VID: v.VID, LabelID: v.LabelID, Properties: v.Properties})
	}
	eIter := roTxn.IterEdges()
	for eIter.Next() {
		e := eIter.Edge()
		snap.Edges = append(snap.Edges, edgeRecord{EID: e.EID, SrcID: e.SrcID, DstID: e.DstID, LabelID: e.LabelID, Properties: e.Properties})
		snap.Adjacency = append(snap.Adjacency,
			adjacencyRecord{VertexID: e.SrcID, LabelID: e.LabelID, NeighborID: e.DstID, EID: e.EID, Outgoing: true},
			adjacencyRecord{VertexID: e.DstID, LabelID: e.LabelID, NeighborID: e.SrcID, EID: e.EID, Outgoing: false},
		)
	}
	_ = roTxn.Abort() // read-only; release without touching anything

	counter := m.counter.Add(1)
	fileName := fmt.Sprintf("%s_%d_%d.ckpt", m.prefix, uint64(watermark), counter)
	fullPath := filepath.Join(m.dir, fileName)
	if err := WriteFile(fullPath, snap); err != nil {
		return "", err
	}

	if m.walWriter != nil {
		checkpointID := storage.Timestamp(counter)
		if err := m.walWriter.AppendCheckpoint(checkpointID, watermark, fileName); err != nil {
			return "", err
		}
		if err := m.walWriter.Flush(); err != nil {
			return "", err
		}
		if err := rewriteWALDroppingPrefix(m.walPath, watermark, m.log); err != nil {
			m.log.Warn().Err(err).Msg("checkpoint: wal truncation failed, continuing with untruncated log")
		}
	}

	manifest, err := LoadManifest(m.dir)
	if err != nil {
		return "", err
	}
	manifest.Checkpoints = append(manifest.Checkpoints, fileName)
	m.rotateLocked(&manifest)
	if err := manifest.Save(m.dir); err != nil {
		return "", err
	}

	m.log.Info().Str("file", fileName).Uint64("watermark", uint64(watermark)).Msg("checkpoint complete")
	return fullPath, nil
}

// rotateLocked drops the oldest checkpoint files beyond maxCheckpoints,
// deleting their files from disk. Caller holds m.mu.
func (m *Manager) rotateLocked(manifest *Manifest) {
	if m.maxCheckpoints <= 0 {
		return
	}
	for len(manifest.Checkpoints) > m.maxCheckpoints {
		oldest := manifest.Checkpoints[0]
		manifest.Checkpoints = manifest.Checkpoints[1:]
		_ = os.Remove(filepath.Join(m.dir, oldest))
	}
}

// StartAuto begins a background goroutine that calls Run every
// interval; interval <= 0 disables it (§6: auto_checkpoint_interval_secs
// of 0 disables auto-checkpointing).
func (m *Manager) StartAuto(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.stopped = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Run(); err != nil {
					m.log.Error().Err(err).Msg("auto checkpoint failed")
				}
			}
		}
	}()
}

// StopAuto stops the background checkpointing goroutine, if running.
func (m *Manager) StopAuto() {
	m.mu.Lock()
	cancel := m.cancel
	stopped := m.stopped
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-stopped
	}
}
