package pulse

import "time"

// The Pulse AST is a closed set of tagged clause variants: the executor
// matches exhaustively over it, so new clause kinds require touching both
// sides on purpose.

// Statement is the top level of a parsed query text: either a single query
// or a BATCH of sub-queries merged by a field.
type Statement struct {
	Query *Query
	Batch *BatchClause
}

// Query is one SPIKE..RETURN pipeline with its modifiers.
type Query struct {
	Simulate bool
	Parallel bool
	Train    *TrainClause

	Spike   SpikeClause
	Through *ThroughClause
	Where   []Predicate
	Collect []CollectKind
	Return  ReturnClause
}

// BatchClause executes each sub-query independently and merges the row sets
// by the given field.
type BatchClause struct {
	Queries  []*Query
	MergeBy  string
	Parallel bool
}

// TrainClause names a recorded dataset and the learning method applied while
// replaying it, e.g. TRAIN ON sessions USING hebbian(rate=0.05).
type TrainClause struct {
	Dataset string
	Method  string
	Params  map[string]Value
	Pos     Pos
}

// SpikeClause lists the source nodes (ids or names) and the optional initial
// spike strength.
type SpikeClause struct {
	Sources     []string
	Strength    float64
	HasStrength bool
	Pos         Pos
}

// ThroughClause selects the propagation target and its parameter list.
// Target is one of "network", "edges", "hyperedges".
type ThroughClause struct {
	Target string
	Params map[string]Value
	Pos    Pos
}

// CompareOp is a WHERE comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpGt
	OpLt
	OpIn
	OpWithin
	OpMatches
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	case OpIn:
		return "IN"
	case OpWithin:
		return "WITHIN"
	case OpMatches:
		return "MATCHES"
	}
	return "?"
}

// Predicate is one conjunct of the WHERE clause.
type Predicate struct {
	Field string
	Op    CompareOp
	Value Value
	Pos   Pos
}

// CollectKind names a result family gathered during propagation.
type CollectKind string

const (
	CollectActivatedNodes   CollectKind = "activated_nodes"
	CollectPropagationPaths CollectKind = "propagation_paths"
	CollectCascadeEffects   CollectKind = "cascade_effects"
	CollectTimingData       CollectKind = "timing_data"
	CollectNetworkStats     CollectKind = "network_stats"
	CollectHyperedgeData    CollectKind = "hyperedge_data"
	CollectWeightUpdates    CollectKind = "weight_updates"
)

var collectKinds = map[string]CollectKind{
	string(CollectActivatedNodes):   CollectActivatedNodes,
	string(CollectPropagationPaths): CollectPropagationPaths,
	string(CollectCascadeEffects):   CollectCascadeEffects,
	string(CollectTimingData):       CollectTimingData,
	string(CollectNetworkStats):     CollectNetworkStats,
	string(CollectHyperedgeData):    CollectHyperedgeData,
	string(CollectWeightUpdates):    CollectWeightUpdates,
}

// ReturnClause is the projection list with optional ordering and limit.
type ReturnClause struct {
	Projections []string
	OrderBy     string
	Desc        bool
	Limit       int
	HasLimit    bool
	Pos         Pos
}

// ValueKind tags the literal union.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueDuration
	ValueBool
	ValueList
)

// Value is a literal from the query text: string, number, duration, bool or
// a flat list of values.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Dur  time.Duration
	Bool bool
	List []Value
	Pos  Pos
}

// Strings flattens a list (or single string) value into a string slice.
func (v Value) Strings() []string {
	switch v.Kind {
	case ValueString:
		return []string{v.Str}
	case ValueList:
		out := make([]string, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, item.Str)
		}
		return out
	}
	return nil
}
