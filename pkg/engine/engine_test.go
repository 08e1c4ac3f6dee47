package engine

import (
	"context"
	"os"
	"testing"
)

func TestEngineDurability(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := e.AddNode(map[string]any{"name": "a"}, "person")
	b, _ := e.AddNode(map[string]any{"name": "b"}, "person")
	edgeID, err := e.AddEdge([]string{a, b}, "knows", 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.SetEdgeStrength(edgeID, 0.6); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen: everything comes back from the activation log.
	e2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	if e2.Store.NodeCount() != 2 || e2.Store.EdgeCount() != 1 {
		t.Fatalf("counts after replay: %d nodes, %d edges", e2.Store.NodeCount(), e2.Store.EdgeCount())
	}
	edge, err := e2.GetEdge(edgeID)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(edge.CurrentStrength(), 0.6) {
		t.Errorf("strength after replay = %f, want 0.6", edge.CurrentStrength())
	}
	if _, ok := e2.Store.ResolveNode("a"); !ok {
		t.Errorf("name index not rebuilt on replay")
	}
}

func TestRemovalsReplay(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := e.AddNode(map[string]any{"name": "a"}, "person")
	b, _ := e.AddNode(map[string]any{"name": "b"}, "person")
	c, _ := e.AddNode(map[string]any{"name": "c"}, "person")
	e.AddEdge([]string{a, b}, "r", 0.5)
	e.AddEdge([]string{b, c}, "r", 0.5)
	if err := e.RemoveNode(a); err != nil {
		t.Fatal(err)
	}
	e.Close()

	e2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()

	if e2.Store.NodeCount() != 2 || e2.Store.EdgeCount() != 1 {
		t.Errorf("counts after replayed removal: %d nodes, %d edges",
			e2.Store.NodeCount(), e2.Store.EdgeCount())
	}
}

func TestSnapshotCycle(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := e.AddNode(map[string]any{"name": "a"}, "person")
	b, _ := e.AddNode(map[string]any{"name": "b"}, "person")
	e.AddEdge([]string{a, b}, "knows", 0.8)

	if err := e.SaveSnapshot(); err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	// The log was truncated: everything now lives in the snapshot.
	info, err := os.Stat(e.AOF.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("log size after snapshot = %d", info.Size())
	}

	// Mutations after the snapshot land in the log again.
	c, _ := e.AddNode(map[string]any{"name": "c"}, "person")
	e.AddEdge([]string{b, c}, "knows", 0.5)
	e.Close()

	e2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()

	if e2.Store.NodeCount() != 3 || e2.Store.EdgeCount() != 2 {
		t.Errorf("counts after snapshot+log recovery: %d nodes, %d edges",
			e2.Store.NodeCount(), e2.Store.EdgeCount())
	}
}

func TestRewriteAOF(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := e.AddNode(map[string]any{"name": "a"}, "person")
	b, _ := e.AddNode(map[string]any{"name": "b"}, "person")
	edgeID, _ := e.AddEdge([]string{a, b}, "knows", 0.3)
	// Churn that the rewrite should compact away.
	for i := 0; i < 50; i++ {
		e.SetEdgeStrength(edgeID, 0.3+float64(i%10)/100)
	}
	e.SetEdgeStrength(edgeID, 0.9)

	if err := e.RewriteAOF(); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	e.Close()

	e2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatalf("reopen after rewrite failed: %v", err)
	}
	defer e2.Close()

	edge, err := e2.GetEdge(edgeID)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(edge.CurrentStrength(), 0.9) {
		t.Errorf("strength after rewrite = %f, want 0.9", edge.CurrentStrength())
	}
}

func TestLearningPersisted(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := e.AddNode(map[string]any{"name": "a"}, "person")
	b, _ := e.AddNode(map[string]any{"name": "b"}, "person")
	edgeID, _ := e.AddEdge([]string{a, b}, "knows", 0.5)

	res, err := e.Propagate(context.Background(), PropagationParams{
		Sources:      []string{a},
		Decay:        1.0,
		Threshold:    0.3,
		MaxDepth:     1,
		Learn:        true,
		LearningRate: 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Updates) == 0 {
		t.Fatal("no weight updates to persist")
	}
	learned, _ := e.GetEdge(edgeID)
	want := learned.CurrentStrength()
	e.Close()

	e2, err := Open(DefaultOptions(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()

	edge, err := e2.GetEdge(edgeID)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(edge.CurrentStrength(), want) {
		t.Errorf("learned strength lost on restart: %f, want %f", edge.CurrentStrength(), want)
	}
}

func TestFindSimilar(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	hub := addNamed(t, e, "hub")
	e.AddEdge([]string{a, hub}, "r", 0.5)
	e.AddEdge([]string{b, hub}, "r", 0.5)

	// a and b share the hub neighbourhood and idle activation: similar.
	similar, err := e.FindSimilar(a, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(similar) != 1 || similar[0].ID != b {
		t.Fatalf("similar to a = %+v", similar)
	}
	if similar[0].Score <= 0.5 {
		t.Errorf("score = %f", similar[0].Score)
	}

	if _, err := e.FindSimilar("ghost", 0.5); err == nil {
		t.Error("unknown node should error")
	}
}
