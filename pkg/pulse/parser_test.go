package pulse

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, src string) *Statement {
	t.Helper()
	stmt, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", src, err)
	}
	return stmt
}

func syntaxErr(t *testing.T, src string) *SyntaxError {
	t.Helper()
	_, err := Parse(src)
	if err == nil {
		t.Fatalf("Parse(%q) unexpectedly succeeded", src)
	}
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("Parse(%q): error is %T, want *SyntaxError", src, err)
	}
	return se
}

func TestParseFullQuery(t *testing.T) {
	src := `SPIKE FROM ["alice", "bob"] STRENGTH 0.9
		THROUGH network(depth=3, decay=0.9, threshold=0.5, refractory=100ms, edge_type="knows", learning=true)
		WHERE activation > 0.4 AND type = "person"
		COLLECT activated_nodes, propagation_paths
		RETURN id, activation, hop ORDER BY activation DESC LIMIT 10`

	stmt := mustParse(t, src)
	if stmt.Query == nil || stmt.Batch != nil {
		t.Fatalf("expected single query, got %+v", stmt)
	}
	q := stmt.Query

	if len(q.Spike.Sources) != 2 || q.Spike.Sources[0] != "alice" {
		t.Errorf("sources = %v", q.Spike.Sources)
	}
	if !q.Spike.HasStrength || q.Spike.Strength != 0.9 {
		t.Errorf("strength = %v (has=%v)", q.Spike.Strength, q.Spike.HasStrength)
	}

	if q.Through == nil || q.Through.Target != "network" {
		t.Fatalf("through = %+v", q.Through)
	}
	if got := q.Through.Params["depth"]; got.Kind != ValueNumber || got.Num != 3 {
		t.Errorf("depth param = %+v", got)
	}
	if got := q.Through.Params["refractory"]; got.Kind != ValueDuration || got.Dur != 100*time.Millisecond {
		t.Errorf("refractory param = %+v", got)
	}
	if got := q.Through.Params["edge_type"]; got.Kind != ValueString || got.Str != "knows" {
		t.Errorf("edge_type param = %+v", got)
	}
	if got := q.Through.Params["learning"]; got.Kind != ValueBool || !got.Bool {
		t.Errorf("learning param = %+v", got)
	}

	if len(q.Where) != 2 {
		t.Fatalf("where = %+v", q.Where)
	}
	if q.Where[0].Field != "activation" || q.Where[0].Op != OpGt || q.Where[0].Value.Num != 0.4 {
		t.Errorf("first predicate = %+v", q.Where[0])
	}
	if q.Where[1].Field != "type" || q.Where[1].Op != OpEq || q.Where[1].Value.Str != "person" {
		t.Errorf("second predicate = %+v", q.Where[1])
	}

	if len(q.Collect) != 2 || q.Collect[0] != CollectActivatedNodes || q.Collect[1] != CollectPropagationPaths {
		t.Errorf("collect = %v", q.Collect)
	}

	r := q.Return
	if len(r.Projections) != 3 || r.Projections[2] != "hop" {
		t.Errorf("projections = %v", r.Projections)
	}
	if r.OrderBy != "activation" || !r.Desc {
		t.Errorf("order by = %q desc=%v", r.OrderBy, r.Desc)
	}
	if !r.HasLimit || r.Limit != 10 {
		t.Errorf("limit = %d (has=%v)", r.Limit, r.HasLimit)
	}
}

func TestParseMinimalQuery(t *testing.T) {
	stmt := mustParse(t, `SPIKE FROM alice RETURN id`)
	q := stmt.Query
	if len(q.Spike.Sources) != 1 || q.Spike.Sources[0] != "alice" {
		t.Errorf("sources = %v", q.Spike.Sources)
	}
	if q.Spike.HasStrength {
		t.Errorf("strength should default, got explicit %v", q.Spike.Strength)
	}
	if q.Through != nil || q.Where != nil || q.Collect != nil {
		t.Errorf("optional clauses should be nil: %+v", q)
	}
	if len(q.Return.Projections) != 1 || q.Return.HasLimit {
		t.Errorf("return = %+v", q.Return)
	}
}

func TestParseKeywordsCaseInsensitive(t *testing.T) {
	stmt := mustParse(t, `spike from alice through Network(Depth=2) return id`)
	if stmt.Query.Through.Target != "network" {
		t.Errorf("target = %q", stmt.Query.Through.Target)
	}
	if _, ok := stmt.Query.Through.Params["depth"]; !ok {
		t.Errorf("option keys should be lower-cased: %v", stmt.Query.Through.Params)
	}
}

func TestParseModifiers(t *testing.T) {
	stmt := mustParse(t, `SIMULATE SPIKE FROM alice RETURN id`)
	if !stmt.Query.Simulate {
		t.Errorf("SIMULATE not recorded")
	}

	stmt = mustParse(t, `PARALLEL SPIKE FROM [a, b] RETURN id`)
	if !stmt.Query.Parallel {
		t.Errorf("PARALLEL not recorded")
	}

	stmt = mustParse(t, `TRAIN ON sessions USING hebbian(rate=0.1) SPIKE FROM alice RETURN id`)
	tr := stmt.Query.Train
	if tr == nil || tr.Dataset != "sessions" || tr.Method != "hebbian" {
		t.Fatalf("train = %+v", tr)
	}
	if got := tr.Params["rate"]; got.Kind != ValueNumber || got.Num != 0.1 {
		t.Errorf("rate param = %+v", got)
	}
}

func TestParseBatch(t *testing.T) {
	stmt := mustParse(t, `BATCH [
		SPIKE FROM alice RETURN id, activation;
		SPIKE FROM bob RETURN id, activation
	] MERGE BY id`)
	b := stmt.Batch
	if b == nil || len(b.Queries) != 2 {
		t.Fatalf("batch = %+v", b)
	}
	if b.MergeBy != "id" {
		t.Errorf("merge field = %q", b.MergeBy)
	}
	if b.Parallel {
		t.Errorf("batch should not be parallel")
	}

	stmt = mustParse(t, `PARALLEL BATCH [SPIKE FROM a RETURN id; SPIKE FROM b RETURN id;] MERGE BY id`)
	if !stmt.Batch.Parallel {
		t.Errorf("PARALLEL BATCH not recorded")
	}
}

func TestParseWhereOperators(t *testing.T) {
	stmt := mustParse(t, `SPIKE FROM a WHERE type IN ["person", "place"] AND last_spike WITHIN 500ms AND name MATCHES "al.*" RETURN id`)
	w := stmt.Query.Where
	if len(w) != 3 {
		t.Fatalf("where = %+v", w)
	}
	if w[0].Op != OpIn || len(w[0].Value.List) != 2 {
		t.Errorf("IN predicate = %+v", w[0])
	}
	if w[1].Op != OpWithin || w[1].Value.Dur != 500*time.Millisecond {
		t.Errorf("WITHIN predicate = %+v", w[1])
	}
	if w[2].Op != OpMatches || w[2].Value.Str != "al.*" {
		t.Errorf("MATCHES predicate = %+v", w[2])
	}
}

func TestParseClauseOrder(t *testing.T) {
	se := syntaxErr(t, `SPIKE FROM a WHERE activation > 0.1 THROUGH network RETURN id`)
	if !strings.Contains(se.Msg, "out of order") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	se = syntaxErr(t, `SPIKE FROM a RETURN id COLLECT activated_nodes`)
	if !strings.Contains(se.Error(), "COLLECT") {
		t.Errorf("unexpected message: %s", se)
	}

	// RETURN is mandatory.
	se = syntaxErr(t, `SPIKE FROM a COLLECT activated_nodes`)
	if !strings.Contains(se.Msg, "RETURN") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	// SPIKE is mandatory and first.
	se = syntaxErr(t, `RETURN id`)
	if !strings.Contains(se.Msg, "SPIKE") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
}

func TestParseUnknownKeywords(t *testing.T) {
	se := syntaxErr(t, `SPIKE FROM a EXPLODE RETURN id`)
	if se.Pos.Line != 1 {
		t.Errorf("position = %+v", se.Pos)
	}

	se = syntaxErr(t, `SPIKE FROM a COLLECT everything RETURN id`)
	if !strings.Contains(se.Msg, "collect kind") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	se = syntaxErr(t, `SPIKE FROM a THROUGH wires RETURN id`)
	if !strings.Contains(se.Msg, "THROUGH target") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
}

func TestParseParamValidation(t *testing.T) {
	se := syntaxErr(t, `SPIKE FROM a THROUGH network(speed=3) RETURN id`)
	if !strings.Contains(se.Msg, "unknown option") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	se = syntaxErr(t, `SPIKE FROM a THROUGH network(depth="three") RETURN id`)
	if !strings.Contains(se.Msg, "expects a number") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	se = syntaxErr(t, `SPIKE FROM a THROUGH network(refractory=100) RETURN id`)
	if !strings.Contains(se.Msg, "expects a duration") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	se = syntaxErr(t, `SPIKE FROM a THROUGH network(depth=2, depth=3) RETURN id`)
	if !strings.Contains(se.Msg, "set twice") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	se = syntaxErr(t, `SPIKE FROM a THROUGH network(depth=2 RETURN id`)
	if !strings.Contains(se.Msg, "')'") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
}

func TestParsePredicateTypePairing(t *testing.T) {
	se := syntaxErr(t, `SPIKE FROM a WHERE type IN "person" RETURN id`)
	if !strings.Contains(se.Msg, "list") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	se = syntaxErr(t, `SPIKE FROM a WHERE last_spike WITHIN 0.5 RETURN id`)
	if !strings.Contains(se.Msg, "duration") {
		t.Errorf("unexpected message: %s", se.Msg)
	}

	se = syntaxErr(t, `SPIKE FROM a WHERE activation > "high" RETURN id`)
	if !strings.Contains(se.Msg, "numeric") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
}

func TestParseLimitValidation(t *testing.T) {
	se := syntaxErr(t, `SPIKE FROM a RETURN id LIMIT -1`)
	if !strings.Contains(se.Msg, "non-negative") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
	se = syntaxErr(t, `SPIKE FROM a RETURN id LIMIT 2.5`)
	if !strings.Contains(se.Msg, "non-negative integer") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
}

func TestParseErrorPosition(t *testing.T) {
	se := syntaxErr(t, "SPIKE FROM a\nTHROUGH network(bogus=1)\nRETURN id")
	if se.Pos.Line != 2 {
		t.Errorf("line = %d, want 2", se.Pos.Line)
	}
	if se.Pos.Col != 17 {
		t.Errorf("col = %d, want 17", se.Pos.Col)
	}
}

func TestParseTrailingGarbage(t *testing.T) {
	se := syntaxErr(t, `SPIKE FROM a RETURN id id2`)
	if !strings.Contains(se.Msg, "after RETURN") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
}

func TestLexDurations(t *testing.T) {
	stmt := mustParse(t, `SPIKE FROM a THROUGH network(refractory=1.5s) RETURN id`)
	if got := stmt.Query.Through.Params["refractory"].Dur; got != 1500*time.Millisecond {
		t.Errorf("duration = %v", got)
	}

	se := syntaxErr(t, `SPIKE FROM a THROUGH network(refractory=5parsecs) RETURN id`)
	if !strings.Contains(se.Msg, "invalid duration") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
}

func TestLexStrings(t *testing.T) {
	stmt := mustParse(t, `SPIKE FROM "node with \"quotes\"" RETURN id`)
	if got := stmt.Query.Spike.Sources[0]; got != `node with "quotes"` {
		t.Errorf("source = %q", got)
	}

	se := syntaxErr(t, `SPIKE FROM "unterminated RETURN id`)
	if !strings.Contains(se.Msg, "unterminated") {
		t.Errorf("unexpected message: %s", se.Msg)
	}
}

func TestLexUnicodeStrings(t *testing.T) {
	// Multi-byte runes must survive the lexer byte-for-byte.
	stmt := mustParse(t, `SPIKE FROM "café" RETURN id`)
	if got := stmt.Query.Spike.Sources[0]; got != "café" {
		t.Errorf("source = %q, want %q", got, "café")
	}

	stmt = mustParse(t, `SPIKE FROM ["日本語", "naïve"] WHERE name = "über" RETURN id`)
	if got := stmt.Query.Spike.Sources; got[0] != "日本語" || got[1] != "naïve" {
		t.Errorf("sources = %q", got)
	}
	if got := stmt.Query.Where[0].Value.Str; got != "über" {
		t.Errorf("predicate literal = %q", got)
	}

	// Position tracking counts runes, not bytes: the error lands on the
	// character after the literal, not inside it.
	se := syntaxErr(t, `SPIKE FROM "café" ? RETURN id`)
	if se.Pos.Col != 19 {
		t.Errorf("error col = %d, want 19", se.Pos.Col)
	}
}
