package core

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// StoreStats is a read-only aggregate snapshot of the graph.
type StoreStats struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`

	AvgStrength    float64 `json:"avg_strength"`
	StrengthStdDev float64 `json:"strength_stddev"`

	AvgActivation float64 `json:"avg_activation"`
	ActiveNodes   int     `json:"active_nodes"`

	AvgDegree   float64 `json:"avg_degree"`
	TotalSpikes int     `json:"total_spikes"`
}

// activeFloor is the activation below which a node counts as quiet.
const activeFloor = 0.01

// Stats computes aggregate statistics over the whole graph. Strengths are
// reported after lazy staleness decay so the numbers match what propagation
// would observe.
func (s *Store) Stats(now time.Time, halfLife time.Duration) StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := StoreStats{
		NodeCount: len(s.nodes),
		EdgeCount: len(s.edges),
	}

	if len(s.edges) > 0 {
		strengths := make([]float64, 0, len(s.edges))
		for _, e := range s.edges {
			strengths = append(strengths, e.EffectiveStrength(now, halfLife))
		}
		out.AvgStrength = stat.Mean(strengths, nil)
		if len(strengths) > 1 {
			out.StrengthStdDev = stat.StdDev(strengths, nil)
		}
	}

	if len(s.nodes) > 0 {
		activations := make([]float64, 0, len(s.nodes))
		degree := 0
		for id, n := range s.nodes {
			n.mu.Lock()
			activations = append(activations, n.Activation)
			if n.Activation > activeFloor {
				out.ActiveNodes++
			}
			out.TotalSpikes += n.SpikeCount
			n.mu.Unlock()
			degree += len(s.adjacency[id])
		}
		out.AvgActivation = stat.Mean(activations, nil)
		out.AvgDegree = float64(degree) / float64(len(s.nodes))
	}

	return out
}
