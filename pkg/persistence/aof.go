package persistence

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// AOFWriter manages the append-only activation log file. Frames pass through
// a bufio.Writer so header and payload land in one write.
type AOFWriter struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	frames *FrameWriter
	path   string
}

// NewAOFWriter opens or creates the log file at path.
func NewAOFWriter(path string) (*AOFWriter, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open activation log: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &AOFWriter{
		file:   file,
		buf:    buf,
		frames: NewFrameWriter(buf),
		path:   path,
	}, nil
}

// Write appends one framed record to the log buffer.
func (a *AOFWriter) Write(op byte, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames.WriteFrame(op, payload)
}

// Flush pushes the buffer contents down to the OS file descriptor.
func (a *AOFWriter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Flush()
}

// Sync flushes and forces an fsync to disk.
func (a *AOFWriter) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close flushes pending frames and closes the file.
func (a *AOFWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.buf.Flush(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}

// Truncate clears the log. Used after a snapshot makes the prefix redundant.
func (a *AOFWriter) Truncate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.Reset(a.file)
	if err := a.file.Truncate(0); err != nil {
		return err
	}
	_, err := a.file.Seek(0, 0)
	return err
}

// Path returns the log file path.
func (a *AOFWriter) Path() string {
	return a.path
}

// File exposes the underlying file for Stat during maintenance checks.
func (a *AOFWriter) File() *os.File {
	return a.file
}

// ReplaceWith atomically swaps the log for a freshly rewritten file and
// reopens it for appending.
func (a *AOFWriter) ReplaceWith(newFilePath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_ = a.buf.Flush()
	_ = a.file.Close()

	if err := os.Rename(newFilePath, a.path); err != nil {
		return fmt.Errorf("failed to replace activation log: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return fmt.Errorf("failed to reopen activation log after replace: %w", err)
	}
	a.file = file
	a.buf.Reset(file)
	return nil
}
