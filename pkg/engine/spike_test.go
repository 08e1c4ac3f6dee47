package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(DefaultOptions(t.TempDir()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func addNamed(t *testing.T, e *Engine, name string) string {
	t.Helper()
	id, err := e.AddNode(map[string]any{"name": name}, "entity")
	if err != nil {
		t.Fatalf("AddNode(%s) failed: %v", name, err)
	}
	return id
}

// chainGraph builds a -(0.8)- b -(0.5)- c and returns the three ids.
func chainGraph(t *testing.T, e *Engine) (a, b, c string) {
	t.Helper()
	a = addNamed(t, e, "a")
	b = addNamed(t, e, "b")
	c = addNamed(t, e, "c")
	if _, err := e.AddEdge([]string{a, b}, "knows", 0.8); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AddEdge([]string{b, c}, "knows", 0.5); err != nil {
		t.Fatal(err)
	}
	return a, b, c
}

func approx(got, want float64) bool {
	diff := got - want
	return diff < 1e-9 && diff > -1e-9
}

func TestPropagationChain(t *testing.T) {
	e := newTestEngine(t)
	a, b, c := chainGraph(t, e)

	res, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{a},
		Decay:     1.0,
		Threshold: 0.4,
		MaxDepth:  2,
	})
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	if !approx(res.Activations[a], 1.0) {
		t.Errorf("source activation = %f", res.Activations[a])
	}
	if !approx(res.Activations[b], 0.8) {
		t.Errorf("b activation = %f, want 0.8", res.Activations[b])
	}
	if !approx(res.Activations[c], 0.4) {
		t.Errorf("c activation = %f, want 0.4", res.Activations[c])
	}
	if res.SpikeHop[b] != 1 || res.SpikeHop[c] != 2 {
		t.Errorf("hops: b=%d c=%d", res.SpikeHop[b], res.SpikeHop[c])
	}
	if !reflect.DeepEqual(res.Order, []string{a, b, c}) {
		t.Errorf("spike order = %v", res.Order)
	}
	if res.Hops != 2 {
		t.Errorf("hops = %d, want 2", res.Hops)
	}

	// Path reconstruction walks b back to the source.
	path := res.PathTo(c)
	if len(path) != 2 || path[0].From != a || path[1].From != b {
		t.Errorf("path to c = %+v", path)
	}
}

func TestThresholdGate(t *testing.T) {
	e := newTestEngine(t)
	a, b, _ := chainGraph(t, e)

	res, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{a},
		Decay:     1.0,
		Threshold: 0.9,
		MaxDepth:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	// 0.8 < 0.9: the wavefront dies at the source.
	if len(res.Order) != 1 || res.Order[0] != a {
		t.Errorf("spike order = %v, want only the source", res.Order)
	}
	if _, ok := res.Activations[b]; ok {
		t.Errorf("b spiked below threshold")
	}
}

func TestPropagationDeterminism(t *testing.T) {
	e := newTestEngine(t)
	// Diamond with a shared sink: two equal paths into d.
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	c := addNamed(t, e, "c")
	d := addNamed(t, e, "d")
	e.AddEdge([]string{a, b}, "r", 0.9)
	e.AddEdge([]string{a, c}, "r", 0.9)
	e.AddEdge([]string{b, d}, "r", 0.9)
	e.AddEdge([]string{c, d}, "r", 0.9)

	params := PropagationParams{Sources: []string{a}, Decay: 1.0, Threshold: 0.3, MaxDepth: 4, Refractory: -1}

	first, err := e.Propagate(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Propagate(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first.Order, second.Order) {
		t.Errorf("orders differ: %v vs %v", first.Order, second.Order)
	}
	if !reflect.DeepEqual(first.SpikeHop, second.SpikeHop) {
		t.Errorf("hops differ: %v vs %v", first.SpikeHop, second.SpikeHop)
	}
	// d accumulated both contributions behind the hop barrier.
	if first.SpikeHop[d] != 2 {
		t.Errorf("d hop = %d, want 2", first.SpikeHop[d])
	}
}

func TestVisitedSetStopsCycles(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	c := addNamed(t, e, "c")
	e.AddEdge([]string{a, b}, "r", 1.0)
	e.AddEdge([]string{b, c}, "r", 1.0)
	e.AddEdge([]string{c, a}, "r", 1.0)

	res, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{a},
		Decay:     1.0,
		Threshold: 0.1,
		MaxDepth:  10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Order) != 3 {
		t.Errorf("cycle revisited nodes: order = %v", res.Order)
	}
}

func TestRefractoryGate(t *testing.T) {
	e := newTestEngine(t)
	a, b, c := chainGraph(t, e)

	// Put b in a long refractory window before propagating.
	n, _ := e.GetNode(b)
	n.Spike(0.1, time.Now(), time.Minute)

	res, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{a},
		Decay:     1.0,
		Threshold: 0.1,
		MaxDepth:  3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Activations[b]; ok {
		t.Errorf("refractory node fired")
	}
	// With b silent the wavefront cannot reach c.
	if _, ok := res.Activations[c]; ok {
		t.Errorf("c reached through a refractory node")
	}
}

func TestSimulateDoesNotMutate(t *testing.T) {
	e := newTestEngine(t)
	a, b, _ := chainGraph(t, e)

	res, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{a},
		Decay:     1.0,
		Threshold: 0.4,
		MaxDepth:  2,
		Simulate:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Order) != 3 {
		t.Fatalf("simulated run incomplete: %v", res.Order)
	}
	if len(res.Updates) == 0 {
		t.Errorf("simulated run reported no weight deltas")
	}

	// Graph state untouched: activations zero, strengths unchanged.
	for _, id := range []string{a, b} {
		n, _ := e.GetNode(id)
		if n.ActivationLevel() != 0 {
			t.Errorf("node %s activation mutated: %f", id, n.ActivationLevel())
		}
		if len(n.History()) != 0 {
			t.Errorf("node %s spike history mutated", id)
		}
	}
	edges, _ := e.Store.EdgesOf(a)
	if got := edges[0].CurrentStrength(); !approx(got, 0.8) {
		t.Errorf("edge strength mutated by simulation: %f", got)
	}
}

func TestHebbianStrengthening(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	edgeID, _ := e.AddEdge([]string{a, b}, "r", 0.5)

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

	edge, _ := e.GetEdge(edgeID)
	// a=1.0, b=0.5 co-spike: delta = 0.1 * 1.0 * 0.5.
	want := 0.5 + 0.1*1.0*0.5
	if got := edge.CurrentStrength(); !approx(got, want) {
		t.Errorf("strength after learning = %f, want %f", got, want)
	}
	if len(res.Updates) == 0 {
		t.Errorf("no weight updates reported")
	}
}

func TestHebbianClampAtMaxWeight(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	edgeID, _ := e.AddEdge([]string{a, b}, "r", 0.99)

	for i := 0; i < 5; i++ {
		_, err := e.Propagate(context.Background(), PropagationParams{
			Sources:      []string{a},
			Decay:        1.0,
			Threshold:    0.3,
			MaxDepth:     1,
			Refractory:   time.Nanosecond,
			Learn:        true,
			LearningRate: 0.5,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	edge, _ := e.GetEdge(edgeID)
	if got := edge.CurrentStrength(); got > 1.0 {
		t.Errorf("strength escaped the clamp: %f", got)
	}
}

func TestHebbianWeakensLoneEndpoint(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	d := addNamed(t, e, "d")
	e.AddEdge([]string{a, b}, "r", 0.9)
	weakID, _ := e.AddEdge([]string{b, d}, "r", 0.1)

	_, err := e.Propagate(context.Background(), PropagationParams{
		Sources:      []string{a},
		Decay:        0.9,
		Threshold:    0.7,
		MaxDepth:     3,
		Learn:        true,
		LearningRate: 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}

	// d never fired (0.81*0.1*0.9 is far below threshold): the b-d edge was
	// fired into from one endpoint only and must weaken.
	edge, _ := e.GetEdge(weakID)
	if got := edge.CurrentStrength(); got >= 0.1 {
		t.Errorf("lone-endpoint edge did not weaken: %f", got)
	}
}

func TestDepthCapacityError(t *testing.T) {
	e := newTestEngine(t)
	prev := addNamed(t, e, "n0")
	for i := 1; i <= MaxDepthCap+4; i++ {
		next := addNamed(t, e, fmt.Sprintf("n%d", i))
		if _, err := e.AddEdge([]string{prev, next}, "r", 1.0); err != nil {
			t.Fatal(err)
		}
		prev = next
	}

	_, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{"n0"},
		Decay:     1.0,
		Threshold: 0.1,
		MaxDepth:  MaxDepthCap + 4,
	})
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.Resource != "depth" {
		t.Errorf("resource = %q", capErr.Resource)
	}

	// The engine is still usable after the abandoned run.
	if _, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{"n0"},
		Threshold: 0.1,
		MaxDepth:  2,
	}); err != nil {
		t.Errorf("engine unusable after capacity error: %v", err)
	}
}

func TestUnknownSources(t *testing.T) {
	e := newTestEngine(t)
	a, _, _ := chainGraph(t, e)

	res, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{a, "ghost"},
		Threshold: 0.4,
		MaxDepth:  1,
	})
	if err != nil {
		t.Fatalf("partially-unknown sources should run: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Errorf("unknown source produced no warning")
	}

	_, err = e.Propagate(context.Background(), PropagationParams{
		Sources: []string{"ghost", "phantom"},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("all-unknown sources: got %v, want ValidationError", err)
	}
}

func TestSourceResolutionByName(t *testing.T) {
	e := newTestEngine(t)
	_, b, _ := chainGraph(t, e)

	res, err := e.Propagate(context.Background(), PropagationParams{
		Sources:   []string{"a"}, // payload name, not id
		Decay:     1.0,
		Threshold: 0.4,
		MaxDepth:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Activations[b]; !ok {
		t.Errorf("propagation from named source did not reach b")
	}
}
