package core

import (
	"sync"
	"time"
)

// MaxSpikeHistory bounds the per-node spike history ring. Older spikes are
// dropped; the history only feeds temporal similarity and decay, so a short
// window is enough.
const MaxSpikeHistory = 64

// Node is a vertex of the hypergraph. Topology fields (ID, Type, Payload) are
// owned by the Store and only change under the store lock; the activation
// state is mutated by the spike engine under the node's own lock so that
// concurrent propagation runs touching disjoint nodes never contend.
type Node struct {
	ID      string
	Type    string
	Payload map[string]any

	// Activation state. Guarded by mu.
	Activation      float64
	LastSpike       time.Time
	RefractoryUntil time.Time
	SpikeHistory    []time.Time

	// SpikeCount is monotonic; unlike the bounded history it never wraps.
	SpikeCount int

	CreatedAt time.Time
	UpdatedAt time.Time

	mu sync.Mutex
}

// clamp01 keeps activations and strengths inside [0,1]. NaN collapses to 0.
func clamp01(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetActivation stores a clamped activation value without recording a spike.
func (n *Node) SetActivation(v float64, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Activation = clamp01(v)
	n.UpdatedAt = now
}

// ActivationLevel returns the current activation value.
func (n *Node) ActivationLevel() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Activation
}

// Refractory reports whether the node is still inside its refractory window
// at the given instant.
func (n *Node) Refractory(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return now.Before(n.RefractoryUntil)
}

// Spike marks the node as fired: it sets the activation, appends to the
// bounded spike history and extends the refractory window. RefractoryUntil
// never moves backwards, even if callers pass out-of-order timestamps.
func (n *Node) Spike(activation float64, now time.Time, refractory time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Activation = clamp01(activation)
	n.LastSpike = now

	if until := now.Add(refractory); until.After(n.RefractoryUntil) {
		n.RefractoryUntil = until
	}

	n.SpikeHistory = append(n.SpikeHistory, now)
	if len(n.SpikeHistory) > MaxSpikeHistory {
		n.SpikeHistory = n.SpikeHistory[len(n.SpikeHistory)-MaxSpikeHistory:]
	}
	n.SpikeCount++
	n.UpdatedAt = now
}

// Spikes returns the lifetime spike count.
func (n *Node) Spikes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.SpikeCount
}

// LastSpikeTime returns the timestamp of the most recent spike, zero if the
// node never fired.
func (n *Node) LastSpikeTime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.LastSpike
}

// History returns a copy of the spike history, oldest first.
func (n *Node) History() []time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]time.Time, len(n.SpikeHistory))
	copy(out, n.SpikeHistory)
	return out
}

// Name returns the payload "name" field when it is a string. Queries may
// address spike sources by name instead of id.
func (n *Node) Name() (string, bool) {
	name, ok := n.Payload["name"].(string)
	return name, ok && name != ""
}
