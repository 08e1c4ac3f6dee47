package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sanonone/neurograph/pkg/core"
	"github.com/sanonone/neurograph/pkg/persistence"
)

// replayAOF reads the activation log and applies each frame to the store.
// A torn final frame (crash mid-write) ends the replay cleanly; a checksum
// mismatch or lost synchronization earlier in the file is surfaced as an
// error, since everything after it is suspect.
func (e *Engine) replayAOF() error {
	file, err := os.Open(e.aofPath)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	replayed := 0
	for {
		op, payload, _, err := persistence.ReadFrame(reader)
		if err == io.EOF {
			break
		}
		if errors.Is(err, persistence.ErrIncompleteFrame) {
			slog.Warn("activation log ends with a torn frame, stopping replay", "frames_replayed", replayed)
			break
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", replayed, err)
		}

		if err := e.applyFrame(op, payload); err != nil {
			// A frame can fail to apply when the original operation was
			// rejected after logging. Skip it.
			slog.Warn("skipping unapplicable log frame", "frame", replayed, "error", err)
		}
		replayed++
	}
	return nil
}

func (e *Engine) applyFrame(op byte, payload []byte) error {
	switch op {
	case persistence.OpAddNode:
		var rec persistence.NodeRecord
		if err := persistence.DecodeRecord(payload, &rec); err != nil {
			return err
		}
		return e.Store.AddNodeWithID(rec.ID, rec.Payload, rec.Type)

	case persistence.OpAddEdge:
		var rec persistence.EdgeRecord
		if err := persistence.DecodeRecord(payload, &rec); err != nil {
			return err
		}
		return e.Store.AddEdgeWithID(rec.ID, rec.Members, rec.Relationship, rec.Strength)

	case persistence.OpRemoveNode:
		var rec persistence.RemoveRecord
		if err := persistence.DecodeRecord(payload, &rec); err != nil {
			return err
		}
		return e.Store.RemoveNode(rec.ID)

	case persistence.OpRemoveEdge:
		var rec persistence.RemoveRecord
		if err := persistence.DecodeRecord(payload, &rec); err != nil {
			return err
		}
		return e.Store.RemoveEdge(rec.ID)

	case persistence.OpSetStrength:
		var rec persistence.StrengthRecord
		if err := persistence.DecodeRecord(payload, &rec); err != nil {
			return err
		}
		edge, err := e.Store.GetEdge(rec.EdgeID)
		if err != nil {
			return err
		}
		edge.SetStrength(rec.Strength, rec.At)
		return nil

	case persistence.OpTouchEdge:
		var rec persistence.TouchRecord
		if err := persistence.DecodeRecord(payload, &rec); err != nil {
			return err
		}
		edge, err := e.Store.GetEdge(rec.EdgeID)
		if err != nil {
			return err
		}
		edge.Touch(rec.At)
		return nil
	}
	return fmt.Errorf("unknown op code %#x", op)
}

// SaveSnapshot writes a .ngs snapshot and truncates the activation log.
func (e *Engine) SaveSnapshot() error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	return e.saveSnapshotLocked()
}

func (e *Engine) saveSnapshotLocked() error {
	tempSnap := e.snapPath + ".tmp"
	f, err := os.Create(tempSnap)
	if err != nil {
		return err
	}

	if err := e.Store.Snapshot(f); err != nil {
		f.Close()
		return err
	}
	f.Close()

	if err := os.Rename(tempSnap, e.snapPath); err != nil {
		return err
	}

	if err := e.AOF.Truncate(); err != nil {
		return err
	}

	atomic.StoreInt64(&e.dirtyCounter, 0)
	e.lastSaveTime = time.Now()
	return nil
}

// RewriteAOF compacts the activation log: the live graph is re-emitted as a
// minimal frame sequence and atomically swapped in.
func (e *Engine) RewriteAOF() error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	tempPath := filepath.Join(e.opts.DataDir, "rewrite.tmp")
	f, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	buf := bufio.NewWriter(f)
	fw := persistence.NewFrameWriter(buf)

	writeRec := func(op byte, rec any) error {
		payload, err := persistence.EncodeRecord(rec)
		if err != nil {
			return err
		}
		return fw.WriteFrame(op, payload)
	}

	var writeErr error
	e.Store.AscendNodes(func(n *core.Node) bool {
		writeErr = writeRec(persistence.OpAddNode, persistence.NodeRecord{
			ID:      n.ID,
			Type:    n.Type,
			Payload: n.Payload,
		})
		return writeErr == nil
	})
	if writeErr == nil {
		e.Store.AscendEdges(func(edge *core.HyperEdge) bool {
			writeErr = writeRec(persistence.OpAddEdge, persistence.EdgeRecord{
				ID:           edge.ID,
				Members:      edge.Members,
				Relationship: edge.Relationship,
				Strength:     edge.CurrentStrength(),
			})
			if lastUsed := edge.LastUsedTime(); writeErr == nil && !lastUsed.IsZero() {
				// Preserve the staleness clock across the rewrite.
				writeErr = writeRec(persistence.OpTouchEdge, persistence.TouchRecord{
					EdgeID: edge.ID,
					At:     lastUsed,
				})
			}
			return writeErr == nil
		})
	}
	if writeErr != nil {
		f.Close()
		return writeErr
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		return err
	}
	f.Close()

	if err := e.AOF.ReplaceWith(tempPath); err != nil {
		return err
	}

	info, _ := e.AOF.File().Stat()
	e.aofBaseSize = info.Size()
	return nil
}
