// Network-level analysis: cascade effect estimation, pairwise goal alignment
// and relationship discovery. All of it is read-only; the effect cascade runs
// through the regular propagation path in simulate mode.

package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sanonone/neurograph/pkg/core"
)

// Cascade tuning. The firing floor is deliberately far below the default
// spike threshold so weak downstream effects still register in the report.
const (
	effectDecay = 0.9
	effectFloor = 0.01
)

// EffectType classifies the shape of a cascade.
type EffectType string

const (
	// EffectSynergistic: a strong total effect spread over several nodes.
	EffectSynergistic EffectType = "synergistic"
	// EffectCompetitive: a meaningful effect contested between few nodes.
	EffectCompetitive EffectType = "competitive"
	// EffectAsymmetric: one node captures most of the total effect.
	EffectAsymmetric EffectType = "asymmetric"
	// EffectNeutral: the cascade fades before it matters.
	EffectNeutral EffectType = "neutral"
)

// AffectedNode is one downstream node reached by an effect cascade.
type AffectedNode struct {
	ID     string  `json:"id"`
	Effect float64 `json:"effect"`
	Depth  int     `json:"depth"`
}

// NetworkEffect describes how activating one node would ripple through the
// graph. Affected is sorted strongest first (ties by id); the source itself
// is excluded.
type NetworkEffect struct {
	Source       string         `json:"source"`
	Affected     []AffectedNode `json:"affected"`
	TotalEffect  float64        `json:"total_effect"`
	CascadeDepth int            `json:"cascade_depth"`
	Type         EffectType     `json:"type"`

	// PrimaryBeneficiary is set for asymmetric cascades: the node that
	// captures most of the total effect.
	PrimaryBeneficiary string `json:"primary_beneficiary,omitempty"`
}

// AnalyzeEffects simulates a cascade from the given node (id or payload
// name) and reports which nodes it would reach and how strongly. Nothing is
// mutated: activations, refractory windows and edge strengths stay as they
// were. maxDepth 0 means the engine depth cap.
func (e *Engine) AnalyzeEffects(ctx context.Context, ref string, strength float64, maxDepth int) (*NetworkEffect, error) {
	if strength <= 0 || strength > 1 {
		return nil, &ValidationError{Field: "strength", Msg: "must be in (0,1]"}
	}
	src, ok := e.Store.ResolveNode(ref)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", ref, core.ErrNotFound)
	}

	res, err := e.Propagate(ctx, PropagationParams{
		Sources:    []string{src.ID},
		Strength:   strength,
		MaxDepth:   maxDepth,
		Decay:      effectDecay,
		Threshold:  effectFloor,
		Refractory: -1,
		Simulate:   true,
	})
	if err != nil {
		return nil, err
	}

	out := &NetworkEffect{Source: src.ID, CascadeDepth: res.Hops}
	for id, act := range res.Activations {
		if id == src.ID {
			continue
		}
		out.Affected = append(out.Affected, AffectedNode{ID: id, Effect: act, Depth: res.SpikeHop[id]})
		out.TotalEffect += act
	}
	sort.SliceStable(out.Affected, func(i, j int) bool {
		if out.Affected[i].Effect != out.Affected[j].Effect {
			return out.Affected[i].Effect > out.Affected[j].Effect
		}
		return out.Affected[i].ID < out.Affected[j].ID
	})
	out.classify()
	return out, nil
}

// classify buckets the cascade by how the total effect is distributed.
func (ne *NetworkEffect) classify() {
	switch {
	case ne.TotalEffect > 0.5 && len(ne.Affected) > 2:
		ne.Type = EffectSynergistic
	case ne.TotalEffect < 0.1:
		ne.Type = EffectNeutral
	case ne.Affected[0].Effect > 0.7*ne.TotalEffect:
		ne.Type = EffectAsymmetric
		ne.PrimaryBeneficiary = ne.Affected[0].ID
	default:
		ne.Type = EffectCompetitive
	}
}

// Centrality summarizes how structurally important a node is. Influence is a
// log-damped neighbour count, so hub growth has diminishing returns.
type Centrality struct {
	Degree    int     `json:"degree"`
	Neighbors int     `json:"neighbors"`
	Influence float64 `json:"influence"`
}

// NodeCentrality computes degree (incident hyperedges) and influence for a
// node, resolved by id or payload name.
func (e *Engine) NodeCentrality(ref string) (Centrality, error) {
	n, ok := e.Store.ResolveNode(ref)
	if !ok {
		return Centrality{}, fmt.Errorf("node %s: %w", ref, core.ErrNotFound)
	}
	edges, err := e.Store.EdgesOf(n.ID)
	if err != nil {
		return Centrality{}, err
	}
	neighbors, err := neighborSet(e.Store, n.ID)
	if err != nil {
		return Centrality{}, err
	}
	c := Centrality{Degree: len(edges), Neighbors: len(neighbors)}
	if len(neighbors) > 0 {
		c.Influence = math.Log(1+float64(len(neighbors))) / 10
	}
	return c, nil
}

// AlignmentType buckets an alignment score.
type AlignmentType string

const (
	AlignmentPerfect      AlignmentType = "perfect"      // score >= 0.8
	AlignmentHigh         AlignmentType = "high"         // score >= 0.6
	AlignmentModerate     AlignmentType = "moderate"     // score >= 0.4
	AlignmentConflicting  AlignmentType = "conflicting"  // score >= 0.2
	AlignmentIncompatible AlignmentType = "incompatible" // below
)

// Alignment scores how well two nodes' positions in the graph line up.
type Alignment struct {
	NodeA string `json:"node_a"`
	NodeB string `json:"node_b"`

	Score          float64       `json:"score"`
	Type           AlignmentType `json:"type"`
	PotentialValue float64       `json:"potential_value"`

	Risks         []string `json:"risks"`
	Opportunities []string `json:"opportunities"`
}

// AnalyzeAlignment scores two distinct nodes on structural overlap (shared
// neighbours), semantic closeness (type, relationship profile, payload
// shape) and temporal behaviour, weighted 0.4/0.4/0.2.
func (e *Engine) AnalyzeAlignment(refA, refB string) (*Alignment, error) {
	a, ok := e.Store.ResolveNode(refA)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", refA, core.ErrNotFound)
	}
	b, ok := e.Store.ResolveNode(refB)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", refB, core.ErrNotFound)
	}
	if a.ID == b.ID {
		return nil, &ValidationError{Field: "nodes", Msg: "alignment needs two distinct nodes"}
	}

	structural, err := e.structuralFit(a.ID, b.ID)
	if err != nil {
		return nil, err
	}
	semantic, err := e.semanticFit(a, b)
	if err != nil {
		return nil, err
	}
	temporal := temporalFit(a, b)

	al := &Alignment{
		NodeA: a.ID,
		NodeB: b.ID,
		Score: 0.4*structural + 0.4*semantic + 0.2*temporal,
	}
	al.grade()
	return al, nil
}

// structuralFit is the shared-neighbour overlap. Two isolated nodes have
// nothing pulling them apart, so they count as a full match.
func (e *Engine) structuralFit(aID, bID string) (float64, error) {
	an, err := neighborSet(e.Store, aID)
	if err != nil {
		return 0, err
	}
	bn, err := neighborSet(e.Store, bID)
	if err != nil {
		return 0, err
	}
	if len(an) == 0 && len(bn) == 0 {
		return 1, nil
	}
	return jaccard(an, bn), nil
}

// semanticFit averages type equality, overlap of incident relationship
// labels and overlap of payload keys.
func (e *Engine) semanticFit(a, b *core.Node) (float64, error) {
	typeSim := 0.0
	if a.Type == b.Type {
		typeSim = 1
	}
	ar, err := relationshipSet(e.Store, a.ID)
	if err != nil {
		return 0, err
	}
	br, err := relationshipSet(e.Store, b.ID)
	if err != nil {
		return 0, err
	}
	relSim := jaccard(ar, br)
	keySim := jaccard(payloadKeys(a), payloadKeys(b))
	return (typeSim + relSim + keySim) / 3, nil
}

// temporalFit: nodes that have both fired, or both never fired, behave
// alike.
func temporalFit(a, b *core.Node) float64 {
	if a.LastSpikeTime().IsZero() == b.LastSpikeTime().IsZero() {
		return 0.8
	}
	return 0.2
}

func relationshipSet(s *core.Store, id string) (map[string]struct{}, error) {
	edges, err := s.EdgesOf(id)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		set[e.Relationship] = struct{}{}
	}
	return set, nil
}

func payloadKeys(n *core.Node) map[string]struct{} {
	set := make(map[string]struct{}, len(n.Payload))
	for k := range n.Payload {
		set[k] = struct{}{}
	}
	return set
}

// grade maps the score onto an alignment tier with its value multiplier and
// the standing guidance for that tier.
func (al *Alignment) grade() {
	switch {
	case al.Score >= 0.8:
		al.Type = AlignmentPerfect
		al.PotentialValue = al.Score * 10
		al.Opportunities = []string{"deep long-term collaboration", "shared resource pooling"}
		al.Risks = []string{"overdependence between the pair"}
	case al.Score >= 0.6:
		al.Type = AlignmentHigh
		al.PotentialValue = al.Score * 7
		al.Opportunities = []string{"joint work with light coordination"}
		al.Risks = []string{"goal drift over time"}
	case al.Score >= 0.4:
		al.Type = AlignmentModerate
		al.PotentialValue = al.Score * 4
		al.Opportunities = []string{"limited-scope cooperation"}
		al.Risks = []string{"misaligned priorities", "coordination overhead"}
	case al.Score >= 0.2:
		al.Type = AlignmentConflicting
		al.PotentialValue = al.Score * 2
		al.Opportunities = []string{"narrow value exchange"}
		al.Risks = []string{"competing goals", "friction on shared edges"}
	default:
		al.Type = AlignmentIncompatible
		al.PotentialValue = 0
		al.Risks = []string{"interaction likely counterproductive"}
	}
}

// minPairScore is the alignment floor below which a pairing is not worth
// proposing.
const minPairScore = 0.3

// DiscoverRelationships proposes up to limit non-overlapping node pairs with
// the highest-value alignments. Greedy matching: pairs are claimed best
// first, every node appears in at most one pair. The scan is pairwise over
// the whole graph; meant for interactive exploration, not bulk jobs.
func (e *Engine) DiscoverRelationships(limit int) ([]Alignment, error) {
	if limit <= 0 {
		limit = 10
	}

	var ids []string
	e.Store.AscendNodes(func(n *core.Node) bool {
		ids = append(ids, n.ID)
		return true
	})

	var candidates []Alignment
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			al, err := e.AnalyzeAlignment(ids[i], ids[j])
			if err != nil {
				return nil, err
			}
			if al.Score > minPairScore {
				candidates = append(candidates, *al)
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].PotentialValue != candidates[j].PotentialValue {
			return candidates[i].PotentialValue > candidates[j].PotentialValue
		}
		if candidates[i].NodeA != candidates[j].NodeA {
			return candidates[i].NodeA < candidates[j].NodeA
		}
		return candidates[i].NodeB < candidates[j].NodeB
	})

	matched := make(map[string]struct{}, 2*limit)
	out := make([]Alignment, 0, limit)
	for _, al := range candidates {
		if _, ok := matched[al.NodeA]; ok {
			continue
		}
		if _, ok := matched[al.NodeB]; ok {
			continue
		}
		matched[al.NodeA] = struct{}{}
		matched[al.NodeB] = struct{}{}
		out = append(out, al)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
