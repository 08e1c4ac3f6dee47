package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/sanonone/neurograph/pkg/core"
)

func TestAnalyzeEffectsCascade(t *testing.T) {
	e := newTestEngine(t)
	a, b, c := chainGraph(t, e)

	eff, err := e.AnalyzeEffects(context.Background(), a, 1.0, 0)
	if err != nil {
		t.Fatal(err)
	}

	// a -> b: 1.0 * 0.8 * 0.9, b -> c: 0.72 * 0.5 * 0.9.
	if len(eff.Affected) != 2 {
		t.Fatalf("affected = %+v, want b and c", eff.Affected)
	}
	if eff.Affected[0].ID != b || !approx(eff.Affected[0].Effect, 0.72) || eff.Affected[0].Depth != 1 {
		t.Errorf("strongest affected = %+v, want {%s 0.72 1}", eff.Affected[0], b)
	}
	if eff.Affected[1].ID != c || !approx(eff.Affected[1].Effect, 0.324) || eff.Affected[1].Depth != 2 {
		t.Errorf("second affected = %+v, want {%s 0.324 2}", eff.Affected[1], c)
	}
	if !approx(eff.TotalEffect, 1.044) {
		t.Errorf("total effect = %f, want 1.044", eff.TotalEffect)
	}
	if eff.CascadeDepth != 2 {
		t.Errorf("cascade depth = %d, want 2", eff.CascadeDepth)
	}

	// The analysis is a simulation: no node actually fired.
	for _, id := range []string{a, b, c} {
		n, _ := e.GetNode(id)
		if n.ActivationLevel() != 0 || len(n.History()) != 0 {
			t.Errorf("node %s mutated by analysis: act=%f history=%d",
				id, n.ActivationLevel(), len(n.History()))
		}
	}
}

func TestEffectClassification(t *testing.T) {
	cases := []struct {
		name        string
		effect      NetworkEffect
		want        EffectType
		beneficiary string
	}{
		{
			name: "synergistic",
			effect: NetworkEffect{
				TotalEffect: 0.9,
				Affected:    []AffectedNode{{ID: "x", Effect: 0.4}, {ID: "y", Effect: 0.3}, {ID: "z", Effect: 0.2}},
			},
			want: EffectSynergistic,
		},
		{
			name:   "neutral",
			effect: NetworkEffect{TotalEffect: 0.05, Affected: []AffectedNode{{ID: "x", Effect: 0.05}}},
			want:   EffectNeutral,
		},
		{
			name: "asymmetric",
			effect: NetworkEffect{
				TotalEffect: 0.3,
				Affected:    []AffectedNode{{ID: "x", Effect: 0.25}, {ID: "y", Effect: 0.05}},
			},
			want:        EffectAsymmetric,
			beneficiary: "x",
		},
		{
			name: "competitive",
			effect: NetworkEffect{
				TotalEffect: 0.4,
				Affected:    []AffectedNode{{ID: "x", Effect: 0.2}, {ID: "y", Effect: 0.2}},
			},
			want: EffectCompetitive,
		},
	}
	for _, tc := range cases {
		tc.effect.classify()
		if tc.effect.Type != tc.want {
			t.Errorf("%s: type = %s, want %s", tc.name, tc.effect.Type, tc.want)
		}
		if tc.effect.PrimaryBeneficiary != tc.beneficiary {
			t.Errorf("%s: beneficiary = %q, want %q", tc.name, tc.effect.PrimaryBeneficiary, tc.beneficiary)
		}
	}
}

func TestAnalyzeEffectsValidation(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")

	var valErr *ValidationError
	if _, err := e.AnalyzeEffects(context.Background(), a, 0, 0); !errors.As(err, &valErr) {
		t.Errorf("zero strength: got %v, want ValidationError", err)
	}
	if _, err := e.AnalyzeEffects(context.Background(), a, 1.5, 0); !errors.As(err, &valErr) {
		t.Errorf("strength above 1: got %v, want ValidationError", err)
	}
	if _, err := e.AnalyzeEffects(context.Background(), "ghost", 1.0, 0); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown node: got %v, want ErrNotFound", err)
	}
}

func TestNodeCentrality(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	c := addNamed(t, e, "c")
	lone := addNamed(t, e, "lone")
	e.AddEdge([]string{a, b}, "knows", 0.5)
	e.AddEdge([]string{a, c}, "knows", 0.5)
	e.AddEdge([]string{a, b, c}, "collab", 0.5)

	got, err := e.NodeCentrality(a)
	if err != nil {
		t.Fatal(err)
	}
	if got.Degree != 3 || got.Neighbors != 2 {
		t.Errorf("hub centrality = %+v, want degree 3, neighbors 2", got)
	}
	if got.Influence <= 0 {
		t.Errorf("hub influence = %f, want > 0", got.Influence)
	}

	got, err = e.NodeCentrality(lone)
	if err != nil {
		t.Fatal(err)
	}
	if got.Degree != 0 || got.Neighbors != 0 || got.Influence != 0 {
		t.Errorf("isolated centrality = %+v, want all zero", got)
	}

	if _, err := e.NodeCentrality("ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown node: got %v, want ErrNotFound", err)
	}
}

func TestAlignmentScoring(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	c := addNamed(t, e, "c")
	e.AddEdge([]string{a, c}, "knows", 0.5)
	e.AddEdge([]string{b, c}, "knows", 0.5)

	// a and b: same type, same single neighbour, same payload shape, same
	// relationship profile, neither ever fired.
	// 0.4*1 + 0.4*1 + 0.2*0.8 = 0.96.
	al, err := e.AnalyzeAlignment(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(al.Score, 0.96) {
		t.Errorf("twin score = %f, want 0.96", al.Score)
	}
	if al.Type != AlignmentPerfect {
		t.Errorf("twin type = %s, want %s", al.Type, AlignmentPerfect)
	}
	if !approx(al.PotentialValue, 9.6) {
		t.Errorf("twin potential value = %f, want 9.6", al.PotentialValue)
	}
	if len(al.Opportunities) == 0 || len(al.Risks) == 0 {
		t.Errorf("tier guidance missing: %+v", al)
	}

	// a against an isolated node of another type: no shared neighbours, only
	// the payload shape matches.
	// 0.4*0 + 0.4*(1/3) + 0.2*0.8 = 0.29333.
	d, err := e.AddNode(map[string]any{"name": "d"}, "task")
	if err != nil {
		t.Fatal(err)
	}
	al, err = e.AnalyzeAlignment(a, d)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(al.Score, 0.4/3+0.16) {
		t.Errorf("mismatched score = %f, want %f", al.Score, 0.4/3+0.16)
	}
	if al.Type != AlignmentConflicting {
		t.Errorf("mismatched type = %s, want %s", al.Type, AlignmentConflicting)
	}

	var valErr *ValidationError
	if _, err := e.AnalyzeAlignment(a, a); !errors.As(err, &valErr) {
		t.Errorf("self alignment: got %v, want ValidationError", err)
	}
	if _, err := e.AnalyzeAlignment(a, "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown node: got %v, want ErrNotFound", err)
	}
}

func TestDiscoverRelationshipsGreedy(t *testing.T) {
	e := newTestEngine(t)
	a := addNamed(t, e, "a")
	b := addNamed(t, e, "b")
	c := addNamed(t, e, "c")
	d := addNamed(t, e, "d")
	e.AddEdge([]string{a, c}, "knows", 0.5)
	e.AddEdge([]string{b, c}, "knows", 0.5)

	pairs, err := e.DiscoverRelationships(10)
	if err != nil {
		t.Fatal(err)
	}
	// The a/b twins claim the top pair; c and d are what is left.
	if len(pairs) != 2 {
		t.Fatalf("pairs = %+v, want 2", pairs)
	}
	if !samePair(pairs[0], a, b) {
		t.Errorf("best pair = %s/%s, want %s/%s", pairs[0].NodeA, pairs[0].NodeB, a, b)
	}
	if !samePair(pairs[1], c, d) {
		t.Errorf("second pair = %s/%s, want %s/%s", pairs[1].NodeA, pairs[1].NodeB, c, d)
	}
	if pairs[0].PotentialValue < pairs[1].PotentialValue {
		t.Errorf("pairs not ordered by value: %f < %f", pairs[0].PotentialValue, pairs[1].PotentialValue)
	}
	// No node may appear twice.
	seen := make(map[string]bool)
	for _, p := range pairs {
		if seen[p.NodeA] || seen[p.NodeB] {
			t.Fatalf("node matched twice: %+v", pairs)
		}
		seen[p.NodeA], seen[p.NodeB] = true, true
	}

	// The limit truncates after the best pair.
	pairs, err = e.DiscoverRelationships(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 || !samePair(pairs[0], a, b) {
		t.Errorf("limited pairs = %+v, want just %s/%s", pairs, a, b)
	}
}

func samePair(al Alignment, x, y string) bool {
	return (al.NodeA == x && al.NodeB == y) || (al.NodeA == y && al.NodeB == x)
}
