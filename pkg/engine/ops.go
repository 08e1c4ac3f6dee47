// This file implements the operational methods of the Engine, wrapping graph
// mutations with persistence logic. Every modification is framed to the
// activation log before being applied to the in-memory store, so replaying
// the log reproduces the graph.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sanonone/neurograph/pkg/core"
	"github.com/sanonone/neurograph/pkg/metrics"
	"github.com/sanonone/neurograph/pkg/persistence"
)

func (e *Engine) updateSizeGauges() {
	metrics.NodesTotal.Set(float64(e.Store.NodeCount()))
	metrics.EdgesTotal.Set(float64(e.Store.EdgeCount()))
}

func (e *Engine) logRecord(op byte, rec any) error {
	payload, err := persistence.EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := e.AOF.Write(op, payload); err != nil {
		return fmt.Errorf("persistence error (log write failed): %w", err)
	}
	return nil
}

// AddNode creates a node and returns its id. The operation is persisted to
// the activation log.
func (e *Engine) AddNode(payload map[string]any, nodeType string) (string, error) {
	id := uuid.NewString()
	if err := e.logRecord(persistence.OpAddNode, persistence.NodeRecord{
		ID:      id,
		Type:    nodeType,
		Payload: payload,
	}); err != nil {
		return "", err
	}

	if err := e.Store.AddNodeWithID(id, payload, nodeType); err != nil {
		return "", err
	}
	e.markDirty()
	e.updateSizeGauges()
	return id, nil
}

// AddEdge creates a hyperedge over the given member node ids and returns its
// id. The operation is persisted to the activation log.
func (e *Engine) AddEdge(members []string, relationship string, strength float64) (string, error) {
	id := uuid.NewString()
	if err := e.logRecord(persistence.OpAddEdge, persistence.EdgeRecord{
		ID:           id,
		Members:      members,
		Relationship: relationship,
		Strength:     strength,
	}); err != nil {
		return "", err
	}

	if err := e.Store.AddEdgeWithID(id, members, relationship, strength); err != nil {
		return "", err
	}
	e.markDirty()
	e.updateSizeGauges()
	return id, nil
}

// RemoveNode deletes a node, cascading to edges that would drop below two
// members. The operation is persisted to the activation log.
func (e *Engine) RemoveNode(id string) error {
	if err := e.logRecord(persistence.OpRemoveNode, persistence.RemoveRecord{ID: id}); err != nil {
		return err
	}
	if err := e.Store.RemoveNode(id); err != nil {
		return err
	}
	e.markDirty()
	e.updateSizeGauges()
	return nil
}

// RemoveEdge deletes a hyperedge. The operation is persisted to the
// activation log.
func (e *Engine) RemoveEdge(id string) error {
	if err := e.logRecord(persistence.OpRemoveEdge, persistence.RemoveRecord{ID: id}); err != nil {
		return err
	}
	if err := e.Store.RemoveEdge(id); err != nil {
		return err
	}
	e.markDirty()
	e.updateSizeGauges()
	return nil
}

// SetEdgeStrength overwrites an edge strength (clamped to [0,1]). The
// operation is persisted to the activation log with its timestamp so replay
// restores the staleness clock.
func (e *Engine) SetEdgeStrength(id string, strength float64) error {
	now := time.Now()
	if err := e.logRecord(persistence.OpSetStrength, persistence.StrengthRecord{
		EdgeID:   id,
		Strength: strength,
		At:       now,
	}); err != nil {
		return err
	}

	edge, err := e.Store.GetEdge(id)
	if err != nil {
		return err
	}
	edge.SetStrength(strength, now)
	e.markDirty()
	return nil
}

// logStrength records a learning-driven strength change. Called from the
// propagation path, which already mutated the edge under its own lock.
func (e *Engine) logStrength(edgeID string, strength float64, at time.Time) {
	_ = e.logRecord(persistence.OpSetStrength, persistence.StrengthRecord{
		EdgeID:   edgeID,
		Strength: strength,
		At:       at,
	})
	e.markDirty()
}

// logTouch records an edge use without a strength change, resetting the
// staleness clock on replay.
func (e *Engine) logTouch(edgeID string, at time.Time) {
	_ = e.logRecord(persistence.OpTouchEdge, persistence.TouchRecord{
		EdgeID: edgeID,
		At:     at,
	})
}

// GetNode returns the node for id, or core.ErrNotFound.
func (e *Engine) GetNode(id string) (*core.Node, error) {
	return e.Store.GetNode(id)
}

// GetEdge returns the hyperedge for id, or core.ErrNotFound.
func (e *Engine) GetEdge(id string) (*core.HyperEdge, error) {
	return e.Store.GetEdge(id)
}

// Neighbors returns the hyperedges the node participates in together with
// the other member ids, sorted by edge id.
func (e *Engine) Neighbors(id string) ([]core.Neighbor, error) {
	return e.Store.NeighborsOf(id)
}

// GetStats returns an aggregate snapshot of the graph. Strengths are
// reported after lazy staleness decay.
func (e *Engine) GetStats() core.StoreStats {
	return e.Store.Stats(time.Now(), e.opts.StrengthHalfLife)
}

// SimilarNode is one FindSimilar hit.
type SimilarNode struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// spikeCoincidenceWindow is the window within which two spikes on different
// nodes count as co-occurring for similarity scoring.
const spikeCoincidenceWindow = 100 * time.Millisecond

// FindSimilar scores every other node against the given one by activation
// closeness, shared-neighbour overlap and spike-history coincidence, and
// returns the nodes at or above threshold, best first (ties by id).
func (e *Engine) FindSimilar(nodeID string, threshold float64) ([]SimilarNode, error) {
	ref, err := e.Store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	refNeighbors, err := neighborSet(e.Store, nodeID)
	if err != nil {
		return nil, err
	}
	refAct := ref.ActivationLevel()
	refHist := ref.History()

	var out []SimilarNode
	var walkErr error
	e.Store.AscendNodes(func(n *core.Node) bool {
		if n.ID == nodeID {
			return true
		}
		actSim := 1 - abs(refAct-n.ActivationLevel())

		theirNeighbors, err := neighborSet(e.Store, n.ID)
		if err != nil {
			walkErr = err
			return false
		}
		nbSim := jaccard(refNeighbors, theirNeighbors)
		spikeSim := spikeCoincidence(refHist, n.History())

		score := 0.4*actSim + 0.4*nbSim + 0.2*spikeSim
		if score >= threshold {
			out = append(out, SimilarNode{ID: n.ID, Score: score})
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func neighborSet(s *core.Store, id string) (map[string]struct{}, error) {
	neighbors, err := s.NeighborsOf(id)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, nb := range neighbors {
		for _, m := range nb.Members {
			set[m] = struct{}{}
		}
	}
	return set, nil
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// spikeCoincidence is the fraction of spikes in the shorter history that have
// a counterpart within the coincidence window in the other history.
func spikeCoincidence(a, b []time.Time) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	short, long := a, b
	if len(b) < len(a) {
		short, long = b, a
	}
	hits := 0
	for _, ts := range short {
		for _, other := range long {
			d := ts.Sub(other)
			if d < 0 {
				d = -d
			}
			if d <= spikeCoincidenceWindow {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(short))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// SpikeEvent is one entry of a recorded dataset: a set of sources spiked
// together at a given strength. TRAIN replays these through the learning
// step.
type SpikeEvent struct {
	Sources  []string `json:"sources"`
	Strength float64  `json:"strength"`
}

// RecordDataset stores a named sequence of spike events for later TRAIN
// replay. Recording again under the same name replaces the dataset.
func (e *Engine) RecordDataset(name string, events []SpikeEvent) {
	e.datasetsMu.Lock()
	defer e.datasetsMu.Unlock()
	e.datasets[name] = append([]SpikeEvent(nil), events...)
}

// Dataset returns a recorded dataset by name.
func (e *Engine) Dataset(name string) ([]SpikeEvent, bool) {
	e.datasetsMu.RLock()
	defer e.datasetsMu.RUnlock()
	events, ok := e.datasets[name]
	return events, ok
}
