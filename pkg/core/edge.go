package core

import (
	"math"
	"sync"
	"time"
)

// HyperEdge connects two or more nodes under a single relationship label.
// Members is kept sorted so traversal and serialization are deterministic.
// Strength is the only field the learning rule mutates; it is guarded by the
// edge's own lock so concurrent runs updating disjoint edges do not contend.
type HyperEdge struct {
	ID           string
	Members      []string
	Relationship string

	// Strength in [0,1]. Guarded by mu.
	Strength float64
	LastUsed time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	mu sync.Mutex
}

// Others returns the member ids excluding the given one, preserving the
// sorted member order.
func (e *HyperEdge) Others(nodeID string) []string {
	out := make([]string, 0, len(e.Members)-1)
	for _, m := range e.Members {
		if m != nodeID {
			out = append(out, m)
		}
	}
	return out
}

// Contains reports whether nodeID is a member of the edge.
func (e *HyperEdge) Contains(nodeID string) bool {
	for _, m := range e.Members {
		if m == nodeID {
			return true
		}
	}
	return false
}

// CurrentStrength returns the stored strength without applying decay.
func (e *HyperEdge) CurrentStrength() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Strength
}

// EffectiveStrength returns the strength after lazy staleness decay: the
// stored value halves every halfLife of disuse. Nothing is written; decay is
// materialized only when a learning step touches the edge. halfLife <= 0
// disables decay.
func (e *HyperEdge) EffectiveStrength(now time.Time, halfLife time.Duration) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decayedLocked(now, halfLife)
}

func (e *HyperEdge) decayedLocked(now time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 || e.LastUsed.IsZero() {
		return e.Strength
	}
	elapsed := now.Sub(e.LastUsed)
	if elapsed <= 0 {
		return e.Strength
	}
	factor := math.Exp2(-float64(elapsed) / float64(halfLife))
	return clamp01(e.Strength * factor)
}

// SetStrength overwrites the strength (clamped) and marks the edge used.
func (e *HyperEdge) SetStrength(v float64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Strength = clamp01(v)
	e.LastUsed = now
	e.UpdatedAt = now
}

// AdjustStrength materializes the lazily decayed strength, applies delta and
// clamps to [0,max]. It returns the strength before and after the update so
// the caller can report the learning step.
func (e *HyperEdge) AdjustStrength(delta, max float64, now time.Time, halfLife time.Duration) (old, new float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if max <= 0 || max > 1 {
		max = 1
	}
	old = e.decayedLocked(now, halfLife)
	v := old + delta
	if v < 0 {
		v = 0
	}
	if v > max {
		v = max
	}
	e.Strength = v
	e.LastUsed = now
	e.UpdatedAt = now
	return old, v
}

// LastUsedTime returns when the edge was last strengthened or touched, zero
// if never.
func (e *HyperEdge) LastUsedTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.LastUsed
}

// Touch marks the edge as used without changing its strength, resetting the
// staleness clock.
func (e *HyperEdge) Touch(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LastUsed = now
}
