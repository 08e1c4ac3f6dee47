// Pulse query execution. ExecuteQuery is the sole text entry point: it
// parses, validates, propagates, filters and projects, moving through an
// explicit phase machine so a failure always reports the phase it happened
// in.
package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sanonone/neurograph/pkg/metrics"
	"github.com/sanonone/neurograph/pkg/pulse"
)

// Row is one result row. Values are strings, float64s, ints or bools.
type Row map[string]any

// ResultSet is the outcome of a Pulse query.
type ResultSet struct {
	Columns  []string      `json:"columns"`
	Rows     []Row         `json:"rows"`
	Warnings []string      `json:"warnings,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// execPhase tracks the executor pipeline. Failed is reachable from any
// phase; the rest advance strictly forward.
type execPhase int

const (
	phaseParsed execPhase = iota
	phaseValidated
	phasePropagated
	phaseFiltered
	phaseProjected
	phaseDone
	phaseFailed
)

func (p execPhase) String() string {
	switch p {
	case phaseParsed:
		return "parsed"
	case phaseValidated:
		return "validated"
	case phasePropagated:
		return "propagated"
	case phaseFiltered:
		return "filtered"
	case phaseProjected:
		return "projected"
	case phaseDone:
		return "done"
	}
	return "failed"
}

// ExecuteQuery parses and runs one Pulse statement.
func (e *Engine) ExecuteQuery(query string) (*ResultSet, error) {
	return e.ExecuteQueryContext(context.Background(), query)
}

// ExecuteQueryContext is ExecuteQuery with cancellation.
func (e *Engine) ExecuteQueryContext(ctx context.Context, query string) (*ResultSet, error) {
	res, err := e.executeStatement(ctx, query)
	metrics.QueriesTotal.WithLabelValues(queryOutcome(err)).Inc()
	return res, err
}

func queryOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, new(*pulse.SyntaxError)):
		return "syntax_error"
	case errors.As(err, new(*ValidationError)):
		return "validation_error"
	case errors.As(err, new(*CapacityError)):
		return "capacity_error"
	default:
		return "error"
	}
}

func (e *Engine) executeStatement(ctx context.Context, query string) (*ResultSet, error) {
	start := time.Now()
	stmt, err := pulse.Parse(query)
	if err != nil {
		return nil, err
	}

	var res *ResultSet
	if stmt.Batch != nil {
		res, err = e.executeBatch(ctx, stmt.Batch)
	} else {
		res, err = e.executeQuery(ctx, stmt.Query)
	}
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// executeBatch runs each sub-query through the full pipeline (concurrently
// under PARALLEL), then merges the row sets by the MERGE BY field with a
// stable sort, so rows sharing a merge value end up adjacent while each
// sub-query's internal order survives.
func (e *Engine) executeBatch(ctx context.Context, batch *pulse.BatchClause) (*ResultSet, error) {
	results := make([]*ResultSet, len(batch.Queries))
	keys := make([][]any, len(batch.Queries))
	errs := make([]error, len(batch.Queries))
	mergeBy := strings.ToLower(batch.MergeBy)

	if batch.Parallel {
		var wg sync.WaitGroup
		for i, q := range batch.Queries {
			wg.Add(1)
			go func(i int, q *pulse.Query) {
				defer wg.Done()
				results[i], keys[i], errs[i] = e.executeQueryKeyed(ctx, q, mergeBy)
			}(i, q)
		}
		wg.Wait()
	} else {
		for i, q := range batch.Queries {
			results[i], keys[i], errs[i] = e.executeQueryKeyed(ctx, q, mergeBy)
		}
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	merged := &ResultSet{}
	colSeen := make(map[string]struct{})
	var mergeKeys []any
	for i, r := range results {
		for _, c := range r.Columns {
			if _, ok := colSeen[c]; !ok {
				colSeen[c] = struct{}{}
				merged.Columns = append(merged.Columns, c)
			}
		}
		merged.Rows = append(merged.Rows, r.Rows...)
		mergeKeys = append(mergeKeys, keys[i]...)
		merged.Warnings = append(merged.Warnings, r.Warnings...)
	}

	// Sort rows and their merge keys as one unit. The keys were resolved
	// against the unprojected rows, so MERGE BY works even when a sub-query
	// does not RETURN the merge field.
	idx := make([]int, len(merged.Rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return lessValues(mergeKeys[idx[i]], mergeKeys[idx[j]])
	})
	sorted := make([]Row, len(merged.Rows))
	for i, from := range idx {
		sorted[i] = merged.Rows[from]
	}
	merged.Rows = sorted
	return merged, nil
}

// executor carries one query through the pipeline.
type executor struct {
	eng    *Engine
	q      *pulse.Query
	phase  execPhase
	params PropagationParams

	// compiled WHERE state
	matchers map[int]*regexp.Regexp // predicate index -> compiled pattern

	result *ActivationResult
	rows   []Row
	kinds  []pulse.CollectKind

	// Batch support: when set, project() resolves this field against the
	// unprojected rows and records one merge key per surviving row.
	mergeBy   string
	mergeKeys []any
}

func (e *Engine) executeQuery(ctx context.Context, q *pulse.Query) (*ResultSet, error) {
	rs, _, err := e.executeQueryKeyed(ctx, q, "")
	return rs, err
}

// executeQueryKeyed runs the pipeline and additionally returns the merge key
// of every result row, resolved before projection drops columns.
func (e *Engine) executeQueryKeyed(ctx context.Context, q *pulse.Query, mergeBy string) (*ResultSet, []any, error) {
	ex := &executor{eng: e, q: q, phase: phaseParsed, mergeBy: mergeBy}

	if err := ex.validate(); err != nil {
		return nil, nil, ex.fail(err)
	}
	if err := ex.propagate(ctx); err != nil {
		return nil, nil, ex.fail(err)
	}
	ex.collect()
	ex.filter()
	return ex.project(), ex.mergeKeys, nil
}

func (ex *executor) fail(err error) error {
	ex.phase = phaseFailed
	return err
}

// validate resolves the THROUGH parameters into PropagationParams and
// range-checks them before the engine is touched.
func (ex *executor) validate() error {
	q := ex.q
	p := ex.eng.opts.Defaults
	p.Sources = q.Spike.Sources

	if q.Spike.HasStrength {
		if q.Spike.Strength <= 0 || q.Spike.Strength > 1 {
			return &ValidationError{Field: "strength", Msg: fmt.Sprintf("must be in (0,1], got %g", q.Spike.Strength)}
		}
		p.Strength = q.Spike.Strength
	}

	if q.Through != nil {
		switch q.Through.Target {
		case "network":
			// No membership restriction.
		case "edges":
			p.MaxMembers = 2
		case "hyperedges":
			p.MinMembers = 3
		}
		for name, v := range q.Through.Params {
			switch name {
			case "depth":
				d := int(v.Num)
				if float64(d) != v.Num || d < 1 || d > MaxDepthCap {
					return &ValidationError{Field: "depth", Msg: fmt.Sprintf("must be an integer in 1..%d, got %g", MaxDepthCap, v.Num)}
				}
				p.MaxDepth = d
			case "decay":
				if v.Num <= 0 || v.Num > 1 {
					return &ValidationError{Field: "decay", Msg: fmt.Sprintf("must be in (0,1], got %g", v.Num)}
				}
				p.Decay = v.Num
			case "threshold":
				if v.Num < 0 || v.Num > 1 {
					return &ValidationError{Field: "threshold", Msg: fmt.Sprintf("must be in [0,1], got %g", v.Num)}
				}
				p.Threshold = v.Num
			case "strength":
				if v.Num <= 0 || v.Num > 1 {
					return &ValidationError{Field: "strength", Msg: fmt.Sprintf("must be in (0,1], got %g", v.Num)}
				}
				p.Strength = v.Num
			case "refractory":
				if v.Dur < 0 {
					return &ValidationError{Field: "refractory", Msg: "must not be negative"}
				}
				p.Refractory = v.Dur
				if v.Dur == 0 {
					// Zero means "use the default" inside the engine, so an
					// explicit refractory=0ms maps to the disable sentinel.
					p.Refractory = -1
				}
			case "epsilon":
				if v.Num <= 0 {
					return &ValidationError{Field: "epsilon", Msg: fmt.Sprintf("must be positive, got %g", v.Num)}
				}
				p.Epsilon = v.Num
			case "rate":
				if v.Num <= 0 || v.Num > 1 {
					return &ValidationError{Field: "rate", Msg: fmt.Sprintf("must be in (0,1], got %g", v.Num)}
				}
				p.LearningRate = v.Num
			case "max_frontier":
				// Accepted for forward compatibility; the hard cap governs.
			case "edge_type":
				p.EdgeType = v.Str
			case "learning":
				p.Learn = v.Bool
			}
		}
	}

	if q.Train != nil {
		if q.Train.Method != "hebbian" {
			return &ValidationError{Field: "method", Msg: fmt.Sprintf("unknown training method %q", q.Train.Method)}
		}
		if v, ok := q.Train.Params["rate"]; ok {
			if v.Kind != pulse.ValueNumber || v.Num <= 0 || v.Num > 1 {
				return &ValidationError{Field: "rate", Msg: "must be a number in (0,1]"}
			}
			p.LearningRate = v.Num
		}
	}

	if q.Simulate {
		// Dry run: deltas are computed and reported but nothing is applied.
		p.Simulate = true
		p.Learn = false
	}

	// Compile MATCHES patterns up front so a bad regexp fails here, not
	// halfway through filtering.
	for i, pred := range q.Where {
		if pred.Op == pulse.OpMatches {
			re, err := regexp.Compile(pred.Value.Str)
			if err != nil {
				return &ValidationError{Field: pred.Field, Msg: fmt.Sprintf("invalid pattern %q: %v", pred.Value.Str, err)}
			}
			if ex.matchers == nil {
				ex.matchers = make(map[int]*regexp.Regexp)
			}
			ex.matchers[i] = re
		}
	}

	ex.kinds = q.Collect
	if len(ex.kinds) == 0 {
		ex.kinds = []pulse.CollectKind{pulse.CollectActivatedNodes}
	}

	ex.params = p
	ex.phase = phaseValidated
	return nil
}

// propagate runs the training replay (if any) and the spike propagation,
// splitting into one run per source under PARALLEL.
func (ex *executor) propagate(ctx context.Context) error {
	var trainUpdates []WeightUpdate
	if ex.q.Train != nil {
		updates, err := ex.eng.Train(ctx, ex.q.Train.Dataset, ex.params)
		if err != nil {
			return err
		}
		trainUpdates = updates
	}

	var res *ActivationResult
	var err error
	if ex.q.Parallel && len(ex.params.Sources) > 1 {
		res, err = ex.eng.propagateParallel(ctx, ex.params)
	} else {
		res, err = ex.eng.Propagate(ctx, ex.params)
	}
	if err != nil {
		return err
	}

	res.Updates = append(trainUpdates, res.Updates...)
	ex.result = res
	ex.phase = phasePropagated
	return nil
}

// propagateParallel runs one propagation per source concurrently over the
// shared store and merges the results: a node keeps the earliest hop it was
// reached at, ties going to the higher activation.
func (e *Engine) propagateParallel(ctx context.Context, params PropagationParams) (*ActivationResult, error) {
	sources := params.Sources
	results := make([]*ActivationResult, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			p := params
			p.Sources = []string{src}
			results[i], errs[i] = e.Propagate(ctx, p)
		}(i, src)
	}
	wg.Wait()

	merged := &ActivationResult{
		Activations: make(map[string]float64),
		SpikeHop:    make(map[string]int),
		Parent:      make(map[string]PathStep),
	}
	resolved := 0
	for i, res := range results {
		if errs[i] != nil {
			var verr *ValidationError
			if errors.As(errs[i], &verr) {
				// A single unresolvable source degrades to a warning, in
				// line with the multi-source sequential behavior.
				merged.Warnings = append(merged.Warnings, fmt.Sprintf("unknown source %q", sources[i]))
				continue
			}
			return nil, errs[i]
		}
		resolved++
		merged.Sources = append(merged.Sources, res.Sources...)
		merged.Warnings = append(merged.Warnings, res.Warnings...)
		merged.Updates = append(merged.Updates, res.Updates...)
		if res.Hops > merged.Hops {
			merged.Hops = res.Hops
		}
		merged.Elapsed += res.Elapsed

		for id, act := range res.Activations {
			hop := res.SpikeHop[id]
			prevHop, seen := merged.SpikeHop[id]
			if seen && (prevHop < hop || (prevHop == hop && merged.Activations[id] >= act)) {
				continue
			}
			merged.Activations[id] = act
			merged.SpikeHop[id] = hop
			if step, ok := res.Parent[id]; ok {
				merged.Parent[id] = step
			} else {
				delete(merged.Parent, id)
			}
		}
	}
	if resolved == 0 {
		return nil, &ValidationError{Field: "sources", Msg: "no spike source could be resolved"}
	}
	sort.Strings(merged.Sources)

	// Rebuild the deterministic order from the merged hops.
	for id := range merged.Activations {
		merged.Order = append(merged.Order, id)
	}
	sort.Slice(merged.Order, func(i, j int) bool {
		a, b := merged.Order[i], merged.Order[j]
		if merged.SpikeHop[a] != merged.SpikeHop[b] {
			return merged.SpikeHop[a] < merged.SpikeHop[b]
		}
		return a < b
	})
	return merged, nil
}

// collect builds rows for each requested collect kind. Rows carry a "kind"
// column when more than one kind was requested.
func (ex *executor) collect() {
	tagKind := len(ex.kinds) > 1
	for _, kind := range ex.kinds {
		rows := ex.collectKind(kind)
		if tagKind {
			for _, r := range rows {
				r["kind"] = string(kind)
			}
		}
		ex.rows = append(ex.rows, rows...)
	}
}

func (ex *executor) collectKind(kind pulse.CollectKind) []Row {
	res := ex.result
	isSource := make(map[string]struct{}, len(res.Sources))
	for _, s := range res.Sources {
		isSource[s] = struct{}{}
	}

	switch kind {
	case pulse.CollectActivatedNodes:
		var rows []Row
		for _, id := range res.Order {
			if _, src := isSource[id]; src {
				continue
			}
			row := Row{
				"id":         id,
				"activation": res.Activations[id],
				"hop":        res.SpikeHop[id],
			}
			if n, err := ex.eng.Store.GetNode(id); err == nil {
				row["type"] = n.Type
				if name, ok := n.Name(); ok {
					row["name"] = name
				}
			}
			rows = append(rows, row)
		}
		return rows

	case pulse.CollectPropagationPaths:
		var rows []Row
		for _, id := range res.Order {
			if _, src := isSource[id]; src {
				continue
			}
			// Node chain: each step's upstream node, ending at id.
			steps := res.PathTo(id)
			nodes := make([]string, 0, len(steps)+1)
			for _, st := range steps {
				nodes = append(nodes, st.From)
			}
			nodes = append(nodes, id)
			rows = append(rows, Row{
				"id":     id,
				"hop":    res.SpikeHop[id],
				"path":   strings.Join(nodes, " -> "),
				"length": len(steps),
			})
		}
		return rows

	case pulse.CollectCascadeEffects:
		perHop := make(map[int][]float64)
		for id, act := range res.Activations {
			hop := res.SpikeHop[id]
			perHop[hop] = append(perHop[hop], act)
		}
		hops := make([]int, 0, len(perHop))
		for h := range perHop {
			hops = append(hops, h)
		}
		sort.Ints(hops)
		var rows []Row
		for _, h := range hops {
			total := 0.0
			for _, a := range perHop[h] {
				total += a
			}
			rows = append(rows, Row{
				"hop":              h,
				"nodes":            len(perHop[h]),
				"total_activation": total,
				"avg_activation":   total / float64(len(perHop[h])),
			})
		}
		return rows

	case pulse.CollectTimingData:
		var rows []Row
		for i, id := range res.Order {
			rows = append(rows, Row{
				"id":        id,
				"hop":       res.SpikeHop[id],
				"order":     i,
				"offset_ms": res.SpikeHop[id], // logical clock: 1ms per hop
			})
		}
		return rows

	case pulse.CollectNetworkStats:
		st := ex.eng.GetStats()
		return []Row{{
			"node_count":      st.NodeCount,
			"edge_count":      st.EdgeCount,
			"avg_strength":    st.AvgStrength,
			"strength_stddev": st.StrengthStdDev,
			"avg_activation":  st.AvgActivation,
			"active_nodes":    st.ActiveNodes,
			"avg_degree":      st.AvgDegree,
			"total_spikes":    st.TotalSpikes,
		}}

	case pulse.CollectHyperedgeData:
		seen := make(map[string]struct{})
		var edgeIDs []string
		for _, step := range res.Parent {
			if _, dup := seen[step.EdgeID]; !dup {
				seen[step.EdgeID] = struct{}{}
				edgeIDs = append(edgeIDs, step.EdgeID)
			}
		}
		sort.Strings(edgeIDs)
		now := time.Now()
		var rows []Row
		for _, eid := range edgeIDs {
			edge, err := ex.eng.Store.GetEdge(eid)
			if err != nil {
				continue
			}
			rows = append(rows, Row{
				"id":           eid,
				"relationship": edge.Relationship,
				"strength":     edge.EffectiveStrength(now, ex.eng.opts.StrengthHalfLife),
				"members":      len(edge.Members),
			})
		}
		return rows

	case pulse.CollectWeightUpdates:
		var rows []Row
		for _, u := range res.Updates {
			rows = append(rows, Row{
				"id":    u.EdgeID,
				"old":   u.Old,
				"new":   u.New,
				"delta": u.New - u.Old,
			})
		}
		return rows
	}
	return nil
}

// filter applies the WHERE predicates post-propagation: a row survives only
// if every conjunct holds.
func (ex *executor) filter() {
	ex.phase = phaseFiltered
	if len(ex.q.Where) == 0 {
		return
	}
	kept := ex.rows[:0]
	for _, row := range ex.rows {
		if ex.rowMatches(row) {
			kept = append(kept, row)
		}
	}
	ex.rows = kept
}

func (ex *executor) rowMatches(row Row) bool {
	for i, pred := range ex.q.Where {
		if !ex.evalPredicate(row, i, pred) {
			return false
		}
	}
	return true
}

// fieldValue resolves a predicate field against a row: row columns first,
// then node attributes (type, payload keys) when the row names a node.
func (ex *executor) fieldValue(row Row, field string) (any, bool) {
	if field == "activation_strength" {
		field = "activation"
	}
	if v, ok := row[field]; ok {
		return v, true
	}
	id, ok := row["id"].(string)
	if !ok {
		return nil, false
	}
	n, err := ex.eng.Store.GetNode(id)
	if err != nil {
		return nil, false
	}
	switch field {
	case "type":
		return n.Type, true
	case "name":
		name, ok := n.Name()
		return name, ok
	}
	if strings.HasPrefix(field, "payload.") {
		v, ok := n.Payload[strings.TrimPrefix(field, "payload.")]
		return v, ok
	}
	if v, ok := n.Payload[field]; ok {
		return v, true
	}
	return nil, false
}

func (ex *executor) evalPredicate(row Row, idx int, pred pulse.Predicate) bool {
	// WITHIN compares the age of the node's last spike, not a row column.
	if pred.Op == pulse.OpWithin {
		id, ok := row["id"].(string)
		if !ok {
			return false
		}
		n, err := ex.eng.Store.GetNode(id)
		if err != nil {
			return false
		}
		last := n.LastSpikeTime()
		if last.IsZero() {
			return false
		}
		return time.Since(last) <= pred.Value.Dur
	}

	v, ok := ex.fieldValue(row, pred.Field)
	if !ok {
		return false
	}

	switch pred.Op {
	case pulse.OpEq:
		return valuesEqual(v, pred.Value)
	case pulse.OpGt, pulse.OpLt:
		f, ok := asFloat(v)
		if !ok {
			return false
		}
		want := pred.Value.Num
		if pred.Value.Kind == pulse.ValueDuration {
			want = pred.Value.Dur.Seconds()
		}
		if pred.Op == pulse.OpGt {
			return f > want
		}
		return f < want
	case pulse.OpIn:
		s, ok := asString(v)
		if !ok {
			return false
		}
		for _, item := range pred.Value.List {
			if item.Kind == pulse.ValueString && item.Str == s {
				return true
			}
			if item.Kind == pulse.ValueNumber {
				if f, ok := asFloat(v); ok && f == item.Num {
					return true
				}
			}
		}
		return false
	case pulse.OpMatches:
		s, ok := asString(v)
		if !ok {
			return false
		}
		return ex.matchers[idx].MatchString(s)
	}
	return false
}

func valuesEqual(v any, want pulse.Value) bool {
	switch want.Kind {
	case pulse.ValueString:
		s, ok := asString(v)
		return ok && s == want.Str
	case pulse.ValueNumber:
		f, ok := asFloat(v)
		return ok && f == want.Num
	case pulse.ValueBool:
		b, ok := v.(bool)
		return ok && b == want.Bool
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// lessValues orders mixed row values: numbers before strings, each ordered
// naturally.
func lessValues(a, b any) bool {
	fa, aok := asFloat(a)
	fb, bok := asFloat(b)
	if aok && bok {
		return fa < fb
	}
	if aok != bok {
		return aok
	}
	sa, _ := asString(a)
	sb, _ := asString(b)
	return sa < sb
}

// project applies ORDER BY with a stable sort over the full rows (so the
// sort key need not be projected), truncates to LIMIT and keeps the
// requested columns.
func (ex *executor) project() *ResultSet {
	r := ex.q.Return

	if r.OrderBy != "" {
		key := func(row Row) any {
			v, _ := ex.fieldValue(row, r.OrderBy)
			return v
		}
		sort.SliceStable(ex.rows, func(i, j int) bool {
			if r.Desc {
				return lessValues(key(ex.rows[j]), key(ex.rows[i]))
			}
			return lessValues(key(ex.rows[i]), key(ex.rows[j]))
		})
	}
	if r.HasLimit && len(ex.rows) > r.Limit {
		ex.rows = ex.rows[:r.Limit]
	}

	rows := make([]Row, 0, len(ex.rows))
	for _, row := range ex.rows {
		if ex.mergeBy != "" {
			v, _ := ex.fieldValue(row, ex.mergeBy)
			ex.mergeKeys = append(ex.mergeKeys, v)
		}
		out := make(Row, len(r.Projections))
		for _, col := range r.Projections {
			if v, ok := row[col]; ok {
				out[col] = v
			} else if v, ok := ex.fieldValue(row, col); ok {
				out[col] = v
			}
		}
		rows = append(rows, out)
	}

	ex.phase = phaseProjected
	columns := append([]string(nil), r.Projections...)

	ex.phase = phaseDone
	return &ResultSet{
		Columns:  columns,
		Rows:     rows,
		Warnings: ex.result.Warnings,
	}
}
