// Package core provides the in-memory hypergraph store for NeuroGraph.
//
// The store owns nodes and hyperedges addressed by stable uuid identifiers.
// Adjacency is a derived index over edge membership: it is rebuilt
// incrementally on every add/remove and can always be reconstructed from the
// raw edge list alone, so it is never persisted as ground truth.
//
// Locking is two-level. The store-wide RWMutex serializes topology changes
// (add/remove of nodes and edges) against in-flight propagation runs, which
// hold the read lock for their whole traversal. Activation state and edge
// strengths live behind per-entity locks (see Node and HyperEdge) so that
// concurrent runs over disjoint subgraphs proceed without contention.
package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// Store is the hypergraph container.
type Store struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	edges     map[string]*HyperEdge
	adjacency map[string]map[string]struct{}

	// nodeIDs keeps node ids in ascending order for deterministic full
	// iteration (similarity scans, snapshots).
	nodeIDs *btree.BTreeG[string]

	// names maps payload "name" -> node id. First writer wins; queries can
	// address spike sources by name.
	names map[string]string
}

// Neighbor is one hop of adjacency: the connecting hyperedge and the other
// member ids of that edge.
type Neighbor struct {
	EdgeID  string
	Members []string
}

// NewStore returns an empty hypergraph.
func NewStore() *Store {
	return &Store{
		nodes:     make(map[string]*Node),
		edges:     make(map[string]*HyperEdge),
		adjacency: make(map[string]map[string]struct{}),
		nodeIDs:   btree.NewBTreeG[string](func(a, b string) bool { return a < b }),
		names:     make(map[string]string),
	}
}

// AddNode creates a node with a fresh uuid and returns its id. An empty type
// tag defaults to "generic".
func (s *Store) AddNode(payload map[string]any, nodeType string) (string, error) {
	id := uuid.NewString()
	return id, s.AddNodeWithID(id, payload, nodeType)
}

// AddNodeWithID creates a node under a caller-chosen id. Used by AOF replay
// and snapshot loading, where ids must survive restarts.
func (s *Store) AddNodeWithID(id string, payload map[string]any, nodeType string) error {
	if nodeType == "" {
		nodeType = "generic"
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[id]; exists {
		return fmt.Errorf("node %s: already exists", id)
	}
	n := &Node{
		ID:        id,
		Type:      nodeType,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nodes[id] = n
	s.adjacency[id] = make(map[string]struct{})
	s.nodeIDs.Set(id)
	if name, ok := n.Name(); ok {
		if _, taken := s.names[name]; !taken {
			s.names[name] = id
		}
	}
	return nil
}

// AddEdge creates a hyperedge over the given member ids and returns its id.
// Duplicate members collapse; fewer than two distinct members, or a member
// that does not exist, is ErrInvalidEdge. Strength is clamped to [0,1].
func (s *Store) AddEdge(members []string, relationship string, strength float64) (string, error) {
	id := uuid.NewString()
	return id, s.AddEdgeWithID(id, members, relationship, strength)
}

// AddEdgeWithID is AddEdge with a caller-chosen id, for replay and snapshots.
func (s *Store) AddEdgeWithID(id string, members []string, relationship string, strength float64) error {
	distinct := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, dup := seen[m]; !dup {
			seen[m] = struct{}{}
			distinct = append(distinct, m)
		}
	}
	if len(distinct) < 2 {
		return fmt.Errorf("%w: needs at least 2 distinct members, got %d", ErrInvalidEdge, len(distinct))
	}
	sort.Strings(distinct)

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.edges[id]; exists {
		return fmt.Errorf("edge %s: already exists", id)
	}
	for _, m := range distinct {
		if _, ok := s.nodes[m]; !ok {
			return fmt.Errorf("%w: member node %s not found", ErrInvalidEdge, m)
		}
	}

	e := &HyperEdge{
		ID:           id,
		Members:      distinct,
		Relationship: relationship,
		Strength:     clamp01(strength),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.edges[id] = e
	for _, m := range distinct {
		s.adjacency[m][id] = struct{}{}
	}
	return nil
}

// GetNode returns the node for id, or ErrNotFound.
func (s *Store) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return n, nil
}

// GetEdge returns the hyperedge for id, or ErrNotFound.
func (s *Store) GetEdge(id string) (*HyperEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// ResolveNode resolves a query source reference: first as a node id, then as
// a payload name.
func (s *Store) ResolveNode(ref string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[ref]; ok {
		return n, true
	}
	if id, ok := s.names[ref]; ok {
		if n, ok := s.nodes[id]; ok {
			return n, true
		}
	}
	return nil, false
}

// NeighborsOf returns, for each hyperedge the node participates in, the edge
// id and the other member ids, sorted by edge id. An adjacency entry pointing
// at a missing edge is reported as ErrCorruptAdjacency.
func (s *Store) NeighborsOf(id string) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighborsLocked(id)
}

func (s *Store) neighborsLocked(id string) ([]Neighbor, error) {
	if _, ok := s.nodes[id]; !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	edgeIDs := make([]string, 0, len(s.adjacency[id]))
	for eid := range s.adjacency[id] {
		edgeIDs = append(edgeIDs, eid)
	}
	sort.Strings(edgeIDs)

	out := make([]Neighbor, 0, len(edgeIDs))
	for _, eid := range edgeIDs {
		e, ok := s.edges[eid]
		if !ok {
			return nil, fmt.Errorf("node %s references edge %s: %w", id, eid, ErrCorruptAdjacency)
		}
		out = append(out, Neighbor{EdgeID: eid, Members: e.Others(id)})
	}
	return out, nil
}

// EdgesOf returns the hyperedges the node participates in, sorted by edge id.
func (s *Store) EdgesOf(id string) ([]*HyperEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesOfLocked(id)
}

func (s *Store) edgesOfLocked(id string) ([]*HyperEdge, error) {
	if _, ok := s.nodes[id]; !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	edgeIDs := make([]string, 0, len(s.adjacency[id]))
	for eid := range s.adjacency[id] {
		edgeIDs = append(edgeIDs, eid)
	}
	sort.Strings(edgeIDs)

	out := make([]*HyperEdge, 0, len(edgeIDs))
	for _, eid := range edgeIDs {
		e, ok := s.edges[eid]
		if !ok {
			return nil, fmt.Errorf("node %s references edge %s: %w", id, eid, ErrCorruptAdjacency)
		}
		out = append(out, e)
	}
	return out, nil
}

// RemoveNode deletes a node. Edges it belonged to lose the member; edges
// whose member set would drop below two are removed entirely (cascade).
func (s *Store) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	for eid := range s.adjacency[id] {
		e, ok := s.edges[eid]
		if !ok {
			return fmt.Errorf("node %s references edge %s: %w", id, eid, ErrCorruptAdjacency)
		}
		remaining := e.Others(id)
		if len(remaining) < 2 {
			s.removeEdgeLocked(eid)
		} else {
			e.Members = remaining
		}
	}

	delete(s.adjacency, id)
	delete(s.nodes, id)
	s.nodeIDs.Delete(id)
	if name, ok := n.Name(); ok && s.names[name] == id {
		delete(s.names, name)
	}
	return nil
}

// RemoveEdge deletes a hyperedge and its adjacency entries.
func (s *Store) RemoveEdge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[id]; !ok {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	s.removeEdgeLocked(id)
	return nil
}

func (s *Store) removeEdgeLocked(id string) {
	e := s.edges[id]
	for _, m := range e.Members {
		if adj, ok := s.adjacency[m]; ok {
			delete(adj, id)
		}
	}
	delete(s.edges, id)
}

// SetEdgeStrength overwrites an edge strength (clamped to [0,1]).
func (s *Store) SetEdgeStrength(id string, strength float64) error {
	e, err := s.GetEdge(id)
	if err != nil {
		return err
	}
	e.SetStrength(strength, time.Now())
	return nil
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of hyperedges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// AscendNodes visits every node in ascending id order until fn returns false.
func (s *Store) AscendNodes(fn func(n *Node) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.nodeIDs.Scan(func(id string) bool {
		return fn(s.nodes[id])
	})
}

// AscendEdges visits every hyperedge in ascending id order until fn returns
// false.
func (s *Store) AscendEdges(fn func(e *HyperEdge) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.edges))
	for id := range s.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !fn(s.edges[id]) {
			return
		}
	}
}

// RLock acquires the store read lock for the duration of a propagation run,
// blocking topology mutation. Use the *Locked accessors while holding it.
func (s *Store) RLock() { s.mu.RLock() }

// RUnlock releases the propagation read lock.
func (s *Store) RUnlock() { s.mu.RUnlock() }

// GetNodeLocked is GetNode for callers already holding the store read lock.
func (s *Store) GetNodeLocked(id string) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// EdgesOfLocked is EdgesOf for callers already holding the store read lock.
func (s *Store) EdgesOfLocked(id string) ([]*HyperEdge, error) {
	return s.edgesOfLocked(id)
}
