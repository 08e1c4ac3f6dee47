package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sanonone/neurograph/pkg/core"
	"github.com/sanonone/neurograph/pkg/metrics"
)

// Hard resource caps. A run that would exceed them is abandoned with a
// CapacityError; the graph state stays consistent because hops are applied
// barrier-by-barrier.
const (
	MaxDepthCap    = 32
	MaxFrontierCap = 100_000
)

// PropagationParams tunes one spike propagation run.
type PropagationParams struct {
	// Sources are node ids or payload names to spike at hop 0.
	Sources []string

	// Strength is the initial source activation (default 1.0).
	Strength float64

	// MaxDepth stops the wavefront after this many hops (default MaxDepthCap).
	MaxDepth int

	// Decay multiplies the propagated activation once per hop (default 0.9).
	Decay float64

	// Threshold is the minimum accumulated activation for a node to spike
	// (default 0.7).
	Threshold float64

	// Refractory is how long a spiked node refuses to fire again
	// (default 100ms). Negative disables the refractory window; zero means
	// "use the default".
	Refractory time.Duration

	// EdgeType restricts traversal to edges with this relationship label.
	// Empty traverses everything.
	EdgeType string

	// MinMembers / MaxMembers restrict traversal by edge cardinality:
	// THROUGH edges sets MaxMembers=2, THROUGH hyperedges MinMembers=3.
	// Zero means unbounded.
	MinMembers int
	MaxMembers int

	// Learn enables the Hebbian strength update after each hop.
	Learn bool

	// LearningRate scales the Hebbian deltas (default 0.05).
	LearningRate float64

	// MaxWeight caps learned strengths (default 1.0).
	MaxWeight float64

	// Epsilon discards contributions below this value, ending runs whose
	// wavefront has faded (default 0.001).
	Epsilon float64

	// Simulate runs the full propagation without mutating the graph:
	// activations stay local to the result and weight deltas are computed
	// but discarded.
	Simulate bool
}

// DefaultPropagationParams returns the engine defaults.
func DefaultPropagationParams() PropagationParams {
	return PropagationParams{
		Strength:     1.0,
		MaxDepth:     MaxDepthCap,
		Decay:        0.9,
		Threshold:    0.7,
		Refractory:   100 * time.Millisecond,
		LearningRate: 0.05,
		MaxWeight:    1.0,
		Epsilon:      0.001,
	}
}

// edgeEligible reports whether traversal may cross the edge under the
// relationship and cardinality filters.
func (p PropagationParams) edgeEligible(edge *core.HyperEdge) bool {
	if p.EdgeType != "" && edge.Relationship != p.EdgeType {
		return false
	}
	if p.MinMembers > 0 && len(edge.Members) < p.MinMembers {
		return false
	}
	if p.MaxMembers > 0 && len(edge.Members) > p.MaxMembers {
		return false
	}
	return true
}

// normalize fills zero values with the engine defaults.
func (p PropagationParams) normalize(defaults PropagationParams) PropagationParams {
	if p.Strength == 0 {
		p.Strength = defaults.Strength
	}
	if p.MaxDepth == 0 {
		p.MaxDepth = defaults.MaxDepth
	}
	if p.Decay == 0 {
		p.Decay = defaults.Decay
	}
	if p.Threshold == 0 {
		p.Threshold = defaults.Threshold
	}
	if p.Refractory == 0 {
		p.Refractory = defaults.Refractory
	}
	if p.LearningRate == 0 {
		p.LearningRate = defaults.LearningRate
	}
	if p.MaxWeight == 0 {
		p.MaxWeight = defaults.MaxWeight
	}
	if p.Epsilon == 0 {
		p.Epsilon = defaults.Epsilon
	}
	return p
}

// PathStep records how a node was first reached: the hyperedge crossed and
// the upstream node that contributed first.
type PathStep struct {
	EdgeID string `json:"edge_id"`
	From   string `json:"from"`
}

// WeightUpdate is one learning step on an edge.
type WeightUpdate struct {
	EdgeID string  `json:"edge_id"`
	Old    float64 `json:"old"`
	New    float64 `json:"new"`
}

// ActivationResult is the outcome of one propagation run.
type ActivationResult struct {
	// Sources are the resolved source node ids that actually fired.
	Sources []string

	// Activations holds the final activation of every node that spiked.
	Activations map[string]float64

	// SpikeHop is the hop at which each node first spiked (0 = source).
	SpikeHop map[string]int

	// Parent records, for every non-source spiked node, the first edge and
	// upstream node that reached it. Walking Parent back reconstructs the
	// propagation path.
	Parent map[string]PathStep

	// Order is the deterministic spike order: by hop, then ascending node id.
	Order []string

	// Updates lists the learning steps applied (or, under Simulate, the
	// steps that would have been applied).
	Updates []WeightUpdate

	// Warnings carries non-fatal conditions such as unknown sources.
	Warnings []string

	// Hops is the number of hop barriers crossed.
	Hops int

	// Elapsed is the wall time of the run.
	Elapsed time.Duration
}

// spiked reports whether the node fired during the run.
func (r *ActivationResult) spiked(id string) bool {
	_, ok := r.Activations[id]
	return ok
}

// PathTo reconstructs the edge/node chain from a source to the given node,
// source first. Nil if the node did not spike.
func (r *ActivationResult) PathTo(id string) []PathStep {
	if !r.spiked(id) {
		return nil
	}
	var steps []PathStep
	cur := id
	for {
		step, ok := r.Parent[cur]
		if !ok {
			break
		}
		steps = append(steps, step)
		cur = step.From
	}
	// Reverse: walk collected them leaf-to-source.
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps
}

// Propagate runs one spike wavefront from the given sources.
//
// The wavefront advances in hop barriers: every node spiking at hop N is
// processed before any node can spike at hop N+1, and inside a hop nodes are
// visited in ascending id order, so runs over an unchanged graph are fully
// deterministic. A logical clock (run start + 1ms per hop) drives refractory
// checks and spike timestamps.
//
// The store read lock is held for the whole run: topology cannot change
// mid-traversal, while activation and strength state uses per-entity locks.
func (e *Engine) Propagate(ctx context.Context, params PropagationParams) (*ActivationResult, error) {
	params = params.normalize(e.opts.Defaults)
	if len(params.Sources) == 0 {
		return nil, &ValidationError{Field: "sources", Msg: "no spike sources given"}
	}

	start := time.Now()
	res := &ActivationResult{
		Activations: make(map[string]float64),
		SpikeHop:    make(map[string]int),
		Parent:      make(map[string]PathStep),
	}

	// Resolve sources by id, then by payload name. Unknown sources degrade
	// to warnings; a query with no resolvable source at all cannot run.
	seen := make(map[string]struct{})
	var sources []string
	for _, ref := range params.Sources {
		n, ok := e.Store.ResolveNode(ref)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown source %q", ref))
			continue
		}
		if _, dup := seen[n.ID]; !dup {
			seen[n.ID] = struct{}{}
			sources = append(sources, n.ID)
		}
	}
	if len(sources) == 0 {
		return nil, &ValidationError{Field: "sources", Msg: "no spike source could be resolved"}
	}
	sort.Strings(sources)

	e.Store.RLock()
	defer e.Store.RUnlock()

	base := start
	halfLife := e.opts.StrengthHalfLife

	// Hop 0: fire the sources.
	frontier := make([]string, 0, len(sources))
	for _, id := range sources {
		n, ok := e.Store.GetNodeLocked(id)
		if !ok {
			continue
		}
		if n.Refractory(base) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("source %s in refractory period", id))
			continue
		}
		if !params.Simulate {
			n.Spike(params.Strength, base, params.Refractory)
		}
		res.Activations[id] = params.Strength
		res.SpikeHop[id] = 0
		res.Order = append(res.Order, id)
		res.Sources = append(res.Sources, id)
		frontier = append(frontier, id)
	}

	learning := params.Learn || params.Simulate
	var lr *hebbianRun
	if learning {
		lr = newHebbianRun()
		e.learnHop(res, lr, frontier, params, base, halfLife)
	}

	hop := 0
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hop >= params.MaxDepth {
			break
		}
		if hop >= MaxDepthCap {
			return nil, &CapacityError{Resource: "depth", Limit: MaxDepthCap}
		}
		hop++
		now := base.Add(time.Duration(hop) * time.Millisecond)

		// Accumulate contributions into the next hop behind the barrier:
		// nothing spikes until every node of the current hop has been
		// processed.
		pending := make(map[string]float64)
		firstStep := make(map[string]PathStep)
		firstEdge := make(map[string]*core.HyperEdge)

		for _, uid := range frontier {
			edges, err := e.Store.EdgesOfLocked(uid)
			if err != nil {
				return nil, err
			}
			actU := res.Activations[uid]
			for _, edge := range edges {
				if !params.edgeEligible(edge) {
					continue
				}
				contribution := actU * edge.EffectiveStrength(now, halfLife) * params.Decay
				if contribution < params.Epsilon {
					continue
				}
				for _, vid := range edge.Others(uid) {
					if res.spiked(vid) {
						continue
					}
					pending[vid] += contribution
					if _, ok := firstStep[vid]; !ok {
						firstStep[vid] = PathStep{EdgeID: edge.ID, From: uid}
						firstEdge[vid] = edge
					}
				}
			}
		}

		// Gate and fire, ascending id order.
		candidates := make([]string, 0, len(pending))
		for vid := range pending {
			candidates = append(candidates, vid)
		}
		sort.Strings(candidates)

		next := frontier[:0:0]
		for _, vid := range candidates {
			sum := pending[vid]
			if sum < params.Threshold {
				continue
			}
			if sum > 1 {
				sum = 1
			}
			n, ok := e.Store.GetNodeLocked(vid)
			if !ok {
				continue
			}
			if n.Refractory(now) {
				continue
			}
			if !params.Simulate {
				n.Spike(sum, now, params.Refractory)
				// Crossing the edge resets its staleness clock.
				firstEdge[vid].Touch(now)
				e.logTouch(firstEdge[vid].ID, now)
			}
			res.Activations[vid] = sum
			res.SpikeHop[vid] = hop
			res.Parent[vid] = firstStep[vid]
			res.Order = append(res.Order, vid)
			next = append(next, vid)

			if len(next) > MaxFrontierCap {
				return nil, &CapacityError{Resource: "frontier", Limit: MaxFrontierCap}
			}
		}

		if len(next) > 0 {
			res.Hops = hop
			if learning {
				e.learnHop(res, lr, next, params, now, halfLife)
			}
		}
		frontier = next
	}

	if learning {
		end := base.Add(time.Duration(res.Hops+1) * time.Millisecond)
		e.finishLearning(res, lr, params, end, halfLife)
	}

	res.Elapsed = time.Since(start)
	metrics.PropagationDuration.Observe(res.Elapsed.Seconds())
	metrics.SpikesTotal.Add(float64(len(res.Order)))
	if !params.Simulate {
		metrics.WeightUpdatesTotal.Add(float64(len(res.Updates)))
	}
	return res, nil
}
