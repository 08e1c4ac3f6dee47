package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sanonone/neurograph/pkg/core"
)

// Hebbian learning: nodes that spike together strengthen the hyperedges
// joining them, edges fired into from a single endpoint weaken. Strength
// reads materialize lazy staleness decay first, so a long-unused edge is
// strengthened from its decayed value, not its stored one.

// hebbianRun accumulates learning state across one propagation.
//
// Strengthening happens per hop, the first time an edge has two or more
// spiked members. Weakening is decided only once the run is over: an edge
// adjacent to the wavefront whose other endpoints never fired cannot be
// known to be a lone-endpoint edge until the wavefront has passed it.
type hebbianRun struct {
	touched      map[string]*core.HyperEdge
	strengthened map[string]struct{}
}

func newHebbianRun() *hebbianRun {
	return &hebbianRun{
		touched:      make(map[string]*core.HyperEdge),
		strengthened: make(map[string]struct{}),
	}
}

// learnHop strengthens (or, under Simulate, pretends to strengthen) the
// edges of the nodes that spiked at this hop. Each edge learns at most once
// per run.
func (e *Engine) learnHop(res *ActivationResult, lr *hebbianRun, spiked []string, params PropagationParams, now time.Time, halfLife time.Duration) {
	for _, vid := range spiked {
		edges, err := e.Store.EdgesOfLocked(vid)
		if err != nil {
			res.Warnings = append(res.Warnings, err.Error())
			continue
		}
		for _, edge := range edges {
			if !params.edgeEligible(edge) {
				continue
			}
			lr.touched[edge.ID] = edge
			if _, done := lr.strengthened[edge.ID]; done {
				continue
			}

			// Activations of the members that fired so far.
			var acts []float64
			for _, m := range edge.Members {
				if a, ok := res.Activations[m]; ok {
					acts = append(acts, a)
				}
			}
			if len(acts) < 2 {
				continue
			}

			// Co-spiking pairs strengthen.
			var delta float64
			for i := 0; i < len(acts); i++ {
				for j := i + 1; j < len(acts); j++ {
					delta += params.LearningRate * acts[i] * acts[j]
				}
			}
			lr.strengthened[edge.ID] = struct{}{}
			e.applyWeightDelta(res, edge, delta, params, now, halfLife)
		}
	}
}

// finishLearning weakens every touched edge that ended the run with exactly
// one spiked endpoint. Edges are processed in ascending id order.
func (e *Engine) finishLearning(res *ActivationResult, lr *hebbianRun, params PropagationParams, now time.Time, halfLife time.Duration) {
	ids := make([]string, 0, len(lr.touched))
	for id := range lr.touched {
		if _, ok := lr.strengthened[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		edge := lr.touched[id]
		var act float64
		for _, m := range edge.Members {
			if a, ok := res.Activations[m]; ok {
				act = a
				break
			}
		}
		e.applyWeightDelta(res, edge, -params.LearningRate*act, params, now, halfLife)
	}
}

func (e *Engine) applyWeightDelta(res *ActivationResult, edge *core.HyperEdge, delta float64, params PropagationParams, now time.Time, halfLife time.Duration) {
	if params.Simulate {
		old := edge.EffectiveStrength(now, halfLife)
		next := old + delta
		if next < 0 {
			next = 0
		}
		if next > params.MaxWeight {
			next = params.MaxWeight
		}
		res.Updates = append(res.Updates, WeightUpdate{EdgeID: edge.ID, Old: old, New: next})
		return
	}

	old, next := edge.AdjustStrength(delta, params.MaxWeight, now, halfLife)
	e.logStrength(edge.ID, next, now)
	res.Updates = append(res.Updates, WeightUpdate{EdgeID: edge.ID, Old: old, New: next})
}

// Train replays a recorded dataset through the learning step: every event
// spikes its sources with Learn forced on, accumulating the weight updates.
// Unknown datasets are a ValidationError.
func (e *Engine) Train(ctx context.Context, dataset string, params PropagationParams) ([]WeightUpdate, error) {
	events, ok := e.Dataset(dataset)
	if !ok {
		return nil, &ValidationError{Field: "dataset", Msg: fmt.Sprintf("dataset %q not recorded", dataset)}
	}

	var updates []WeightUpdate
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return updates, err
		}
		p := params
		p.Sources = ev.Sources
		if ev.Strength > 0 {
			p.Strength = ev.Strength
		}
		p.Learn = true
		p.Simulate = false

		res, err := e.Propagate(ctx, p)
		if err != nil {
			return updates, fmt.Errorf("training event %d: %w", i, err)
		}
		updates = append(updates, res.Updates...)
	}
	return updates, nil
}
