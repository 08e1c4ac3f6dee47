package core

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func addNode(t *testing.T, s *Store, name string) string {
	t.Helper()
	id, err := s.AddNode(map[string]any{"name": name}, "entity")
	if err != nil {
		t.Fatalf("AddNode(%s) failed: %v", name, err)
	}
	return id
}

func TestAddEdgeValidation(t *testing.T) {
	s := NewStore()
	a := addNode(t, s, "a")
	b := addNode(t, s, "b")

	// Single member must be rejected, not stored.
	if _, err := s.AddEdge([]string{a}, "rel", 0.5); !errors.Is(err, ErrInvalidEdge) {
		t.Fatalf("single-member edge: got %v, want ErrInvalidEdge", err)
	}
	// Duplicates collapse to one member.
	if _, err := s.AddEdge([]string{a, a}, "rel", 0.5); !errors.Is(err, ErrInvalidEdge) {
		t.Fatalf("duplicate-member edge: got %v, want ErrInvalidEdge", err)
	}
	// Unknown member id.
	if _, err := s.AddEdge([]string{a, "ghost"}, "rel", 0.5); !errors.Is(err, ErrInvalidEdge) {
		t.Fatalf("dangling member: got %v, want ErrInvalidEdge", err)
	}
	if s.EdgeCount() != 0 {
		t.Fatalf("rejected edges were stored: count=%d", s.EdgeCount())
	}

	// Strength outside [0,1] is clamped, not rejected.
	id, err := s.AddEdge([]string{a, b}, "rel", 1.7)
	if err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	e, _ := s.GetEdge(id)
	if e.CurrentStrength() != 1.0 {
		t.Errorf("strength not clamped: %f", e.CurrentStrength())
	}
}

func TestNeighborsOf(t *testing.T) {
	s := NewStore()
	a := addNode(t, s, "a")
	b := addNode(t, s, "b")
	c := addNode(t, s, "c")

	eid, err := s.AddEdge([]string{a, b, c}, "collab", 0.8)
	if err != nil {
		t.Fatal(err)
	}

	neighbors, err := s.NeighborsOf(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 || neighbors[0].EdgeID != eid {
		t.Fatalf("unexpected neighbors: %+v", neighbors)
	}
	if len(neighbors[0].Members) != 2 {
		t.Errorf("expected 2 other members, got %v", neighbors[0].Members)
	}
	for _, m := range neighbors[0].Members {
		if m == a {
			t.Errorf("node listed as its own neighbor")
		}
	}
}

func TestRemoveNodeCascade(t *testing.T) {
	s := NewStore()
	a := addNode(t, s, "a")
	b := addNode(t, s, "b")
	c := addNode(t, s, "c")

	pair, _ := s.AddEdge([]string{a, b}, "pair", 0.5)
	triple, _ := s.AddEdge([]string{a, b, c}, "triple", 0.5)

	if err := s.RemoveNode(a); err != nil {
		t.Fatal(err)
	}

	// The pair edge would drop below 2 members: removed.
	if _, err := s.GetEdge(pair); !errors.Is(err, ErrNotFound) {
		t.Errorf("pair edge should have cascaded away, got %v", err)
	}
	// The triple edge survives with two members.
	e, err := s.GetEdge(triple)
	if err != nil {
		t.Fatalf("triple edge should survive: %v", err)
	}
	if len(e.Members) != 2 || e.Contains(a) {
		t.Errorf("triple edge members wrong after cascade: %v", e.Members)
	}
}

func TestResolveNodeByName(t *testing.T) {
	s := NewStore()
	id := addNode(t, s, "alice")

	if n, ok := s.ResolveNode(id); !ok || n.ID != id {
		t.Errorf("resolve by id failed")
	}
	if n, ok := s.ResolveNode("alice"); !ok || n.ID != id {
		t.Errorf("resolve by name failed")
	}
	if _, ok := s.ResolveNode("nobody"); ok {
		t.Errorf("resolved a node that does not exist")
	}
}

func TestRefractoryMonotonic(t *testing.T) {
	s := NewStore()
	id := addNode(t, s, "a")
	n, _ := s.GetNode(id)

	base := time.Now()
	n.Spike(1.0, base, 100*time.Millisecond)
	first := n.RefractoryUntil

	// A later spike with a shorter window must not move the deadline back.
	n.Spike(1.0, base.Add(-50*time.Millisecond), 10*time.Millisecond)
	if n.RefractoryUntil.Before(first) {
		t.Errorf("refractory deadline moved backwards: %v -> %v", first, n.RefractoryUntil)
	}
}

func TestSpikeHistoryBounded(t *testing.T) {
	s := NewStore()
	id := addNode(t, s, "a")
	n, _ := s.GetNode(id)

	base := time.Now()
	for i := 0; i < MaxSpikeHistory*2; i++ {
		n.Spike(1.0, base.Add(time.Duration(i)*time.Millisecond), 0)
	}
	if got := len(n.History()); got != MaxSpikeHistory {
		t.Errorf("history length = %d, want %d", got, MaxSpikeHistory)
	}
	// The lifetime counter keeps counting past the history window.
	if got := n.Spikes(); got != MaxSpikeHistory*2 {
		t.Errorf("spike count = %d, want %d", got, MaxSpikeHistory*2)
	}
}

func TestTotalSpikesMonotonic(t *testing.T) {
	s := NewStore()
	id := addNode(t, s, "a")
	n, _ := s.GetNode(id)

	base := time.Now()
	spikes := MaxSpikeHistory + 10
	for i := 0; i < spikes; i++ {
		n.Spike(1.0, base.Add(time.Duration(i)*time.Millisecond), 0)
	}
	if got := s.Stats(base, 0).TotalSpikes; got != spikes {
		t.Errorf("total spikes = %d, want %d", got, spikes)
	}

	// The counter survives a snapshot cycle.
	var buf bytes.Buffer
	if err := s.Snapshot(&buf); err != nil {
		t.Fatal(err)
	}
	restored := NewStore()
	if err := restored.LoadSnapshot(&buf); err != nil {
		t.Fatal(err)
	}
	if got := restored.Stats(base, 0).TotalSpikes; got != spikes {
		t.Errorf("total spikes after restore = %d, want %d", got, spikes)
	}
}

func TestLazyStrengthDecay(t *testing.T) {
	s := NewStore()
	a := addNode(t, s, "a")
	b := addNode(t, s, "b")
	id, _ := s.AddEdge([]string{a, b}, "rel", 0.8)
	e, _ := s.GetEdge(id)

	now := time.Now()
	e.Touch(now.Add(-2 * time.Hour)) // last used two half-lives ago

	got := e.EffectiveStrength(now, time.Hour)
	want := 0.2 // 0.8 * 2^-2
	if diff := got - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("effective strength = %f, want %f", got, want)
	}
	// Stored strength untouched: decay is computed on read.
	if e.CurrentStrength() != 0.8 {
		t.Errorf("stored strength mutated by read: %f", e.CurrentStrength())
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	s := NewStore()
	a := addNode(t, s, "a")
	b := addNode(t, s, "b")
	c := addNode(t, s, "c")
	s.AddEdge([]string{a, b}, "knows", 0.8)
	s.AddEdge([]string{b, c}, "knows", 0.5)

	n, _ := s.GetNode(a)
	n.Spike(0.9, time.Now(), 100*time.Millisecond)

	var buf bytes.Buffer
	if err := s.Snapshot(&buf); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	restored := NewStore()
	if err := restored.LoadSnapshot(&buf); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if restored.NodeCount() != 3 || restored.EdgeCount() != 2 {
		t.Fatalf("counts after restore: %d nodes, %d edges", restored.NodeCount(), restored.EdgeCount())
	}
	rn, err := restored.GetNode(a)
	if err != nil {
		t.Fatal(err)
	}
	if rn.ActivationLevel() != 0.9 || len(rn.History()) != 1 {
		t.Errorf("activation state lost in roundtrip: act=%f history=%d", rn.ActivationLevel(), len(rn.History()))
	}
	// Adjacency was rebuilt from the edge list alone.
	neighbors, err := restored.NeighborsOf(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 {
		t.Errorf("adjacency not rebuilt: %+v", neighbors)
	}
	// Name index restored too.
	if _, ok := restored.ResolveNode("c"); !ok {
		t.Errorf("name index not rebuilt")
	}
}

func TestStats(t *testing.T) {
	s := NewStore()
	a := addNode(t, s, "a")
	b := addNode(t, s, "b")
	s.AddEdge([]string{a, b}, "rel", 0.6)

	st := s.Stats(time.Now(), 0)
	if st.NodeCount != 2 || st.EdgeCount != 1 {
		t.Fatalf("counts: %+v", st)
	}
	if st.AvgStrength < 0.59 || st.AvgStrength > 0.61 {
		t.Errorf("avg strength = %f, want 0.6", st.AvgStrength)
	}
	if st.AvgDegree != 1.0 {
		t.Errorf("avg degree = %f, want 1.0", st.AvgDegree)
	}
}
