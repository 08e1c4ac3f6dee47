package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LazyAOFWriter batches log frames in memory and flushes them on a timer or
// when the buffer fills, trading a bounded durability window for much higher
// write throughput. A forced fsync runs on its own ticker, so the maximum
// loss window after a crash is roughly one sync interval.
type LazyAOFWriter struct {
	underlying *AOFWriter

	mu      sync.Mutex
	buffer  []pendingFrame
	stopped bool

	flushTicker *time.Ticker
	syncTicker  *time.Ticker
	stopCh      chan struct{}

	flushInterval     time.Duration
	forceSyncInterval time.Duration
	maxBufferSize     int
}

type pendingFrame struct {
	op      byte
	payload []byte
}

const (
	// DefaultLazyFlushInterval is how often the buffer is pushed to the OS.
	DefaultLazyFlushInterval = 100 * time.Millisecond

	// DefaultForceSyncInterval bounds the crash-loss window.
	DefaultForceSyncInterval = 1 * time.Second

	// DefaultMaxBufferSize triggers an immediate flush when reached.
	DefaultMaxBufferSize = 1000
)

// NewLazyAOFWriter wraps an AOFWriter with the default batching parameters.
// The underlying writer must not be used directly afterwards.
func NewLazyAOFWriter(underlying *AOFWriter) *LazyAOFWriter {
	return NewLazyAOFWriterWithConfig(
		underlying,
		DefaultLazyFlushInterval,
		DefaultForceSyncInterval,
		DefaultMaxBufferSize,
	)
}

// NewLazyAOFWriterWithConfig wraps an AOFWriter with explicit batching
// parameters for tuning the durability/throughput trade-off.
func NewLazyAOFWriterWithConfig(
	underlying *AOFWriter,
	flushInterval time.Duration,
	forceSyncInterval time.Duration,
	maxBufferSize int,
) *LazyAOFWriter {
	lw := &LazyAOFWriter{
		underlying:        underlying,
		buffer:            make([]pendingFrame, 0, maxBufferSize),
		flushInterval:     flushInterval,
		forceSyncInterval: forceSyncInterval,
		maxBufferSize:     maxBufferSize,
		stopCh:            make(chan struct{}),
	}

	lw.flushTicker = time.NewTicker(flushInterval)
	go lw.flushRoutine()

	lw.syncTicker = time.NewTicker(forceSyncInterval)
	go lw.syncRoutine()

	slog.Info("lazy log writer initialized",
		"flush_interval", flushInterval,
		"sync_interval", forceSyncInterval,
		"max_buffer_size", maxBufferSize,
	)
	return lw
}

// Write buffers one frame. It returns immediately; the disk write happens in
// the background. A full buffer triggers an immediate flush.
func (lw *LazyAOFWriter) Write(op byte, payload []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.stopped {
		return fmt.Errorf("cannot write to closed log writer")
	}

	lw.buffer = append(lw.buffer, pendingFrame{op: op, payload: payload})
	if len(lw.buffer) >= lw.maxBufferSize {
		go lw.Flush()
	}
	return nil
}

// Flush writes all buffered frames through the underlying writer. This
// reaches the OS buffer only; use Sync for an fsync.
func (lw *LazyAOFWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.flushUnlocked()
}

func (lw *LazyAOFWriter) flushUnlocked() error {
	if len(lw.buffer) == 0 {
		return nil
	}

	for _, f := range lw.buffer {
		if err := lw.underlying.Write(f.op, f.payload); err != nil {
			return fmt.Errorf("failed to write log frame: %w", err)
		}
	}
	if err := lw.underlying.Flush(); err != nil {
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}

	lw.buffer = lw.buffer[:0]
	return nil
}

// Sync flushes pending frames and forces an fsync.
func (lw *LazyAOFWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}
	return lw.underlying.Sync()
}

// Close stops the background routines, flushes pending frames and syncs.
// No writes are accepted afterwards.
func (lw *LazyAOFWriter) Close() error {
	lw.mu.Lock()
	if lw.stopped {
		lw.mu.Unlock()
		return fmt.Errorf("log writer already closed")
	}
	lw.stopped = true
	lw.mu.Unlock()

	close(lw.stopCh)
	lw.flushTicker.Stop()
	lw.syncTicker.Stop()

	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		slog.Error("failed to flush during close", "error", err)
	}
	return lw.underlying.Close()
}

// Path returns the underlying log file path.
func (lw *LazyAOFWriter) Path() string {
	return lw.underlying.Path()
}

// File exposes the underlying file for maintenance checks.
func (lw *LazyAOFWriter) File() *os.File {
	return lw.underlying.File()
}

// Truncate flushes pending frames, then clears the file.
func (lw *LazyAOFWriter) Truncate() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}
	return lw.underlying.Truncate()
}

// ReplaceWith flushes pending frames, then swaps in a rewritten log file.
func (lw *LazyAOFWriter) ReplaceWith(newFilePath string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}
	return lw.underlying.ReplaceWith(newFilePath)
}

func (lw *LazyAOFWriter) flushRoutine() {
	for {
		select {
		case <-lw.flushTicker.C:
			if err := lw.Flush(); err != nil {
				slog.Error("periodic log flush failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}

func (lw *LazyAOFWriter) syncRoutine() {
	for {
		select {
		case <-lw.syncTicker.C:
			if err := lw.Sync(); err != nil {
				slog.Error("periodic log sync failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}
