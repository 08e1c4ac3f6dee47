package core

import (
	"encoding/gob"
	"fmt"
	"io"
	"sort"
	"time"
)

// Snapshot layout. Every Node and HyperEdge field is carried explicitly so
// the on-disk format does not silently drift when the in-memory structs grow
// unexported state.

type nodeRecord struct {
	ID              string
	Type            string
	Payload         map[string]any
	Activation      float64
	LastSpike       time.Time
	RefractoryUntil time.Time
	SpikeHistory    []time.Time
	SpikeCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type edgeRecord struct {
	ID           string
	Members      []string
	Relationship string
	Strength     float64
	LastUsed     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type storeSnapshot struct {
	Nodes []nodeRecord
	Edges []edgeRecord
}

// Snapshot serializes the full store state in gob format. Nodes and edges are
// written in ascending id order so identical stores produce identical bytes.
func (s *Store) Snapshot(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := storeSnapshot{
		Nodes: make([]nodeRecord, 0, len(s.nodes)),
		Edges: make([]edgeRecord, 0, len(s.edges)),
	}
	s.nodeIDs.Scan(func(id string) bool {
		n := s.nodes[id]
		n.mu.Lock()
		snap.Nodes = append(snap.Nodes, nodeRecord{
			ID:              n.ID,
			Type:            n.Type,
			Payload:         n.Payload,
			Activation:      n.Activation,
			LastSpike:       n.LastSpike,
			RefractoryUntil: n.RefractoryUntil,
			SpikeHistory:    append([]time.Time(nil), n.SpikeHistory...),
			SpikeCount:      n.SpikeCount,
			CreatedAt:       n.CreatedAt,
			UpdatedAt:       n.UpdatedAt,
		})
		n.mu.Unlock()
		return true
	})

	edgeIDs := make([]string, 0, len(s.edges))
	for id := range s.edges {
		edgeIDs = append(edgeIDs, id)
	}
	sort.Strings(edgeIDs)
	for _, id := range edgeIDs {
		e := s.edges[id]
		e.mu.Lock()
		snap.Edges = append(snap.Edges, edgeRecord{
			ID:           e.ID,
			Members:      append([]string(nil), e.Members...),
			Relationship: e.Relationship,
			Strength:     e.Strength,
			LastUsed:     e.LastUsed,
			CreatedAt:    e.CreatedAt,
			UpdatedAt:    e.UpdatedAt,
		})
		e.mu.Unlock()
	}

	return gob.NewEncoder(w).Encode(snap)
}

// LoadSnapshot replaces the store contents with the snapshot read from r and
// rebuilds the adjacency index from the edge list.
func (s *Store) LoadSnapshot(r io.Reader) error {
	var snap storeSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*Node, len(snap.Nodes))
	s.edges = make(map[string]*HyperEdge, len(snap.Edges))
	s.names = make(map[string]string)
	s.nodeIDs.Clear()

	for _, rec := range snap.Nodes {
		n := &Node{
			ID:              rec.ID,
			Type:            rec.Type,
			Payload:         rec.Payload,
			Activation:      rec.Activation,
			LastSpike:       rec.LastSpike,
			RefractoryUntil: rec.RefractoryUntil,
			SpikeHistory:    rec.SpikeHistory,
			SpikeCount:      rec.SpikeCount,
			CreatedAt:       rec.CreatedAt,
			UpdatedAt:       rec.UpdatedAt,
		}
		if n.Payload == nil {
			n.Payload = make(map[string]any)
		}
		s.nodes[n.ID] = n
		s.nodeIDs.Set(n.ID)
		if name, ok := n.Name(); ok {
			if _, taken := s.names[name]; !taken {
				s.names[name] = n.ID
			}
		}
	}
	for _, rec := range snap.Edges {
		s.edges[rec.ID] = &HyperEdge{
			ID:           rec.ID,
			Members:      rec.Members,
			Relationship: rec.Relationship,
			Strength:     rec.Strength,
			LastUsed:     rec.LastUsed,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		}
	}

	s.rebuildAdjacencyLocked()
	return nil
}

// RebuildAdjacency reconstructs the node->edges index from the raw edge list.
// The index is derived state; this is the recovery path when it is suspected
// corrupt or after loading edges from an external source.
func (s *Store) RebuildAdjacency() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildAdjacencyLocked()
}

func (s *Store) rebuildAdjacencyLocked() {
	s.adjacency = make(map[string]map[string]struct{}, len(s.nodes))
	for id := range s.nodes {
		s.adjacency[id] = make(map[string]struct{})
	}
	for eid, e := range s.edges {
		for _, m := range e.Members {
			if adj, ok := s.adjacency[m]; ok {
				adj[eid] = struct{}{}
			}
		}
	}
}
