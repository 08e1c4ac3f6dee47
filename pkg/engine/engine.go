// Package engine provides the high-level, embedded interface for NeuroGraph.
//
// It orchestrates the in-memory hypergraph (pkg/core), the spike propagation
// and learning machinery, the Pulse query executor and the on-disk
// persistence layer (AOF + snapshot), providing a thread-safe database
// instance that can be used directly within Go applications without network
// overhead.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data")
//	db, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	res, err := db.ExecuteQuery(`SPIKE FROM "alice" THROUGH network(depth=3) RETURN id, activation`)
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/neurograph/pkg/core"
	"github.com/sanonone/neurograph/pkg/persistence"
)

// Options configures the Engine: persistence paths, automatic maintenance
// policies and the default propagation tuning.
type Options struct {
	// DataDir is the directory where the activation log and snapshot live.
	// It is created automatically if it does not exist.
	DataDir string

	// LogFilename is the name of the append-only activation log
	// (default: "neurograph.aof"). The snapshot file is named
	// <LogFilename base>.ngs.
	LogFilename string

	// AutoSaveInterval is how much time must pass since the last save before
	// a new snapshot is triggered (if AutoSaveThreshold is also met).
	// 0 disables time-based auto-saving.
	AutoSaveInterval time.Duration

	// AutoSaveThreshold is how many write operations must occur before a new
	// snapshot is triggered (if AutoSaveInterval is also met).
	// 0 disables count-based auto-saving.
	AutoSaveThreshold int64

	// LogRewritePercentage triggers log compaction when the file grows past
	// its base size by this percentage. 0 disables rewriting.
	LogRewritePercentage int

	// StrengthHalfLife controls lazy staleness decay of edge strengths: a
	// strength halves for every half-life of disuse. 0 disables decay.
	StrengthHalfLife time.Duration

	// Defaults are the propagation parameters used when a query does not
	// override them.
	Defaults PropagationParams
}

// DefaultOptions returns a standard configuration.
//
// Defaults:
//   - LogFilename: "neurograph.aof"
//   - AutoSave: every 60s if at least 1000 changes occurred
//   - LogRewrite: at 100% growth
//   - StrengthHalfLife: 1h
//   - Propagation: strength 1.0, decay 0.9, threshold 0.7, refractory 100ms,
//     learning rate 0.05, epsilon 0.001, depth capped at MaxDepthCap
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:              dataDir,
		LogFilename:          "neurograph.aof",
		AutoSaveInterval:     60 * time.Second,
		AutoSaveThreshold:    1000,
		LogRewritePercentage: 100,
		StrengthHalfLife:     time.Hour,
		Defaults:             DefaultPropagationParams(),
	}
}

// Engine is the main entry point for NeuroGraph. It coordinates the
// in-memory hypergraph and the on-disk persistence.
//
// Use Open() to initialize an Engine and Close() to shut it down gracefully.
type Engine struct {
	// Store is the underlying in-memory hypergraph. While exported, use the
	// Engine wrappers (AddNode, AddEdge, ...) so mutations are persisted.
	Store *core.Store

	// AOF is the lazily batched activation log. Frames are buffered and
	// flushed periodically (100ms flush, 1s fsync, 1000-entry buffer), so
	// the crash-loss window is bounded by the sync interval.
	AOF *persistence.LazyAOFWriter

	opts        Options
	aofPath     string
	snapPath    string
	aofBaseSize int64

	// dirtyCounter tracks write operations since the last save.
	dirtyCounter int64
	lastSaveTime time.Time

	// datasets holds recorded spike sessions for TRAIN replay.
	datasetsMu sync.RWMutex
	datasets   map[string][]SpikeEvent

	// adminMu serializes engine-level administrative tasks (snapshot,
	// rewrite). The store has its own locks for data access.
	adminMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open initializes an Engine:
//
//  1. Creates DataDir if missing.
//  2. Loads the latest snapshot (.ngs) if available.
//  3. Replays the activation log to recover recent mutations.
//  4. Starts background goroutines for auto-saving and log compaction.
//
// It blocks until the graph is fully loaded and ready.
func Open(opts Options) (*Engine, error) {
	if opts.LogFilename == "" {
		opts.LogFilename = "neurograph.aof"
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	aofPath := filepath.Join(opts.DataDir, opts.LogFilename)
	snapPath := strings.TrimSuffix(aofPath, filepath.Ext(aofPath)) + ".ngs"

	e := &Engine{
		Store:        core.NewStore(),
		opts:         opts,
		aofPath:      aofPath,
		snapPath:     snapPath,
		lastSaveTime: time.Now(),
		datasets:     make(map[string][]SpikeEvent),
		closed:       make(chan struct{}),
	}

	// 1. Snapshot, if present.
	if _, err := os.Stat(snapPath); err == nil {
		f, err := os.Open(snapPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		defer f.Close()
		if err := e.Store.LoadSnapshot(f); err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
	}

	// 2. Activation log, lazily batched.
	aofWriter, err := persistence.NewAOFWriter(aofPath)
	if err != nil {
		return nil, err
	}
	e.AOF = persistence.NewLazyAOFWriter(aofWriter)

	// 3. Replay mutations written after the snapshot.
	if err := e.replayAOF(); err != nil {
		e.AOF.Close()
		return nil, fmt.Errorf("failed to replay activation log: %w", err)
	}

	// Record log size for the rewrite policy.
	info, _ := e.AOF.File().Stat()
	e.aofBaseSize = info.Size()

	// 4. Background maintenance.
	e.wg.Add(1)
	go e.backgroundTasks()

	slog.Info("engine opened",
		"data_dir", opts.DataDir,
		"nodes", e.Store.NodeCount(),
		"edges", e.Store.EdgeCount(),
	)
	return e, nil
}

// Close performs a clean shutdown: it stops background maintenance and
// closes the activation log. No final snapshot is forced; all data is
// already in the log, so a restart recovers everything.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()

		if e.AOF != nil {
			err = e.AOF.Close()
		}
	})
	return err
}

// HalfLife returns the configured strength staleness half-life.
func (e *Engine) HalfLife() time.Duration {
	return e.opts.StrengthHalfLife
}

func (e *Engine) markDirty() {
	atomic.AddInt64(&e.dirtyCounter, 1)
}

// backgroundTasks handles automatic saving, log flushing and compaction.
func (e *Engine) backgroundTasks() {
	defer e.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			e.checkMaintenance()
		}
	}
}

// checkMaintenance evaluates whether a snapshot or log rewrite is needed.
func (e *Engine) checkMaintenance() {
	dirty := atomic.LoadInt64(&e.dirtyCounter)

	// Auto-save policy.
	if e.opts.AutoSaveThreshold > 0 && e.opts.AutoSaveInterval > 0 {
		if dirty >= e.opts.AutoSaveThreshold && time.Since(e.lastSaveTime) >= e.opts.AutoSaveInterval {
			if err := e.SaveSnapshot(); err != nil {
				slog.Error("background snapshot failed", "error", err)
			}
		}
	}

	if err := e.AOF.Flush(); err != nil {
		slog.Error("background log flush failed", "error", err)
	}

	// Rewrite policy.
	if e.opts.LogRewritePercentage > 0 {
		info, err := e.AOF.File().Stat()
		if err == nil {
			currentSize := info.Size()
			threshold := e.aofBaseSize + (e.aofBaseSize * int64(e.opts.LogRewritePercentage) / 100)
			// Min threshold 1MB to avoid rewriting tiny files constantly.
			if threshold < 1024*1024 {
				threshold = 1024 * 1024
			}
			if e.aofBaseSize > 0 && currentSize > threshold {
				if err := e.RewriteAOF(); err != nil {
					slog.Error("background log rewrite failed", "error", err)
				}
			}
		}
	}
}
