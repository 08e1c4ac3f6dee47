// Package pulse implements the Pulse activation-query language: a fixed
// keyword-driven clause grammar compiled by the engine into spike
// propagation runs.
//
// A query is a pipeline of clauses in a mandatory order:
//
//	SPIKE FROM ["a","b"] STRENGTH 0.9
//	THROUGH network(depth=3, decay=0.9, threshold=0.5, refractory=100ms)
//	WHERE activation > 0.4 AND type = "person"
//	COLLECT activated_nodes, propagation_paths
//	RETURN id, activation, hop ORDER BY activation DESC LIMIT 10
//
// optionally preceded by the modifiers SIMULATE, PARALLEL,
// TRAIN ON <dataset> USING <method>(k=v,...), or wrapped in
// BATCH [ <query> ; <query> ] MERGE BY <field>.
//
// The parser performs no graph access: identifiers are resolved and numeric
// ranges validated by the executor.
package pulse

import "strings"

type parser struct {
	lex *lexer
	tok Token
}

// Parse turns query text into a Statement. The returned error, if any, is a
// *SyntaxError carrying the offending position.
func Parse(src string) (*Statement, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	parallel := false
	if p.keyword() == "PARALLEL" {
		parallel = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if p.keyword() == "BATCH" {
		batch, err := p.parseBatch()
		if err != nil {
			return nil, err
		}
		batch.Parallel = parallel
		if p.tok.Kind != TokenEOF {
			return nil, errAt(p.tok.Pos, "unexpected %s after BATCH statement", p.tok.Kind)
		}
		return &Statement{Batch: batch}, nil
	}

	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	q.Parallel = parallel
	if p.tok.Kind != TokenEOF {
		return nil, errAt(p.tok.Pos, "unexpected %s after RETURN clause", p.tok.Kind)
	}
	return &Statement{Query: q}, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

// keyword returns the current token upper-cased when it is an identifier,
// "" otherwise. Pulse keywords are case-insensitive.
func (p *parser) keyword() string {
	if p.tok.Kind != TokenIdent {
		return ""
	}
	return strings.ToUpper(p.tok.Text)
}

func (p *parser) expect(kind TokenKind, context string) (Token, error) {
	if p.tok.Kind != kind {
		return Token{}, errAt(p.tok.Pos, "expected %s in %s, got %s", kind, context, p.describe())
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

func (p *parser) expectKeyword(kw string) error {
	if p.keyword() != kw {
		return errAt(p.tok.Pos, "expected %s, got %s", kw, p.describe())
	}
	return p.advance()
}

func (p *parser) describe() string {
	if p.tok.Kind == TokenIdent || p.tok.Kind == TokenString {
		return "\"" + p.tok.Text + "\""
	}
	return p.tok.Kind.String()
}

// clauseRank orders the pipeline clauses so out-of-order usage gets a
// dedicated error instead of a generic "unknown keyword".
var clauseRank = map[string]int{
	"SPIKE":   0,
	"THROUGH": 1,
	"WHERE":   2,
	"COLLECT": 3,
	"RETURN":  4,
}

// checkClause reports an error if the current token starts a clause that may
// not appear at this point of the pipeline.
func (p *parser) checkClause(minRank int) error {
	kw := p.keyword()
	if kw == "" {
		return nil
	}
	if rank, ok := clauseRank[kw]; ok && rank < minRank {
		return errAt(p.tok.Pos, "clause %s out of order: expected %s", kw, orderHint(minRank))
	}
	return nil
}

func orderHint(minRank int) string {
	switch minRank {
	case 1:
		return "THROUGH, WHERE, COLLECT or RETURN"
	case 2:
		return "WHERE, COLLECT or RETURN"
	case 3:
		return "COLLECT or RETURN"
	default:
		return "RETURN"
	}
}

// parseBatch parses BATCH [ <query> ; <query> ... ] MERGE BY <field>.
func (p *parser) parseBatch() (*BatchClause, error) {
	if err := p.advance(); err != nil { // consume BATCH
		return nil, err
	}
	if _, err := p.expect(TokenLBracket, "BATCH"); err != nil {
		return nil, err
	}

	batch := &BatchClause{}
	for {
		q, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		batch.Queries = append(batch.Queries, q)

		if p.tok.Kind == TokenSemicolon {
			if err := p.advance(); err != nil {
				return nil, err
			}
			// Trailing semicolon before the closing bracket is allowed.
			if p.tok.Kind == TokenRBracket {
				break
			}
			continue
		}
		break
	}
	if _, err := p.expect(TokenRBracket, "BATCH"); err != nil {
		return nil, err
	}

	if err := p.expectKeyword("MERGE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("BY"); err != nil {
		return nil, err
	}
	field, err := p.expect(TokenIdent, "MERGE BY")
	if err != nil {
		return nil, err
	}
	batch.MergeBy = field.Text
	return batch, nil
}

// parseQuery parses one SPIKE..RETURN pipeline, including its modifiers.
func (p *parser) parseQuery() (*Query, error) {
	q := &Query{}

	// Modifiers before SPIKE.
	for {
		switch p.keyword() {
		case "SIMULATE":
			q.Simulate = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		case "PARALLEL":
			q.Parallel = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		case "TRAIN":
			train, err := p.parseTrain()
			if err != nil {
				return nil, err
			}
			q.Train = train
			continue
		}
		break
	}

	if p.keyword() != "SPIKE" {
		return nil, errAt(p.tok.Pos, "query must start with SPIKE, got %s", p.describe())
	}
	spike, err := p.parseSpike()
	if err != nil {
		return nil, err
	}
	q.Spike = *spike

	if err := p.checkClause(1); err != nil {
		return nil, err
	}
	if p.keyword() == "THROUGH" {
		through, err := p.parseThrough()
		if err != nil {
			return nil, err
		}
		q.Through = through
	}

	if err := p.checkClause(2); err != nil {
		return nil, err
	}
	if p.keyword() == "WHERE" {
		preds, err := p.parseWhere()
		if err != nil {
			return nil, err
		}
		q.Where = preds
	}

	if err := p.checkClause(3); err != nil {
		return nil, err
	}
	if p.keyword() == "COLLECT" {
		kinds, err := p.parseCollect()
		if err != nil {
			return nil, err
		}
		q.Collect = kinds
	}

	if err := p.checkClause(4); err != nil {
		return nil, err
	}
	if p.keyword() != "RETURN" {
		return nil, errAt(p.tok.Pos, "query must end with a RETURN clause, got %s", p.describe())
	}
	ret, err := p.parseReturn()
	if err != nil {
		return nil, err
	}
	q.Return = *ret
	return q, nil
}

// parseTrain parses TRAIN ON <dataset> USING <method>(k=v, ...).
func (p *parser) parseTrain() (*TrainClause, error) {
	train := &TrainClause{Pos: p.tok.Pos, Params: map[string]Value{}}
	if err := p.advance(); err != nil { // consume TRAIN
		return nil, err
	}
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	if p.tok.Kind != TokenIdent && p.tok.Kind != TokenString {
		return nil, errAt(p.tok.Pos, "TRAIN ON expects a dataset name, got %s", p.describe())
	}
	train.Dataset = p.tok.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("USING"); err != nil {
		return nil, err
	}
	method, err := p.expect(TokenIdent, "TRAIN USING")
	if err != nil {
		return nil, err
	}
	train.Method = strings.ToLower(method.Text)

	if p.tok.Kind == TokenLParen {
		params, err := p.parseParamList(nil, "TRAIN method")
		if err != nil {
			return nil, err
		}
		train.Params = params
	}
	return train, nil
}

// parseSpike parses SPIKE FROM <source|list> [STRENGTH <number>].
func (p *parser) parseSpike() (*SpikeClause, error) {
	spike := &SpikeClause{Pos: p.tok.Pos}
	if err := p.advance(); err != nil { // consume SPIKE
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}

	sources, err := p.parseSourceList()
	if err != nil {
		return nil, err
	}
	spike.Sources = sources

	if p.keyword() == "STRENGTH" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		num, err := p.expect(TokenNumber, "STRENGTH")
		if err != nil {
			return nil, err
		}
		spike.Strength = num.Num
		spike.HasStrength = true
	}
	return spike, nil
}

func (p *parser) parseSourceList() ([]string, error) {
	if p.tok.Kind == TokenIdent || p.tok.Kind == TokenString {
		src := p.tok.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return []string{src}, nil
	}
	if p.tok.Kind != TokenLBracket {
		return nil, errAt(p.tok.Pos, "SPIKE FROM expects a source or [list], got %s", p.describe())
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	var sources []string
	for {
		if p.tok.Kind != TokenIdent && p.tok.Kind != TokenString {
			return nil, errAt(p.tok.Pos, "source list expects identifiers or strings, got %s", p.describe())
		}
		sources = append(sources, p.tok.Text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.Kind == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(TokenRBracket, "source list"); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, errAt(p.tok.Pos, "SPIKE FROM requires at least one source")
	}
	return sources, nil
}

// throughOptions maps each recognized THROUGH option to its expected literal
// kind so type mismatches fail at parse time.
var throughOptions = map[string]ValueKind{
	"depth":        ValueNumber,
	"decay":        ValueNumber,
	"threshold":    ValueNumber,
	"strength":     ValueNumber,
	"epsilon":      ValueNumber,
	"rate":         ValueNumber,
	"max_frontier": ValueNumber,
	"refractory":   ValueDuration,
	"edge_type":    ValueString,
	"learning":     ValueBool,
}

var throughTargets = map[string]bool{
	"network":    true,
	"edges":      true,
	"hyperedges": true,
}

// parseThrough parses THROUGH <target>(k=v, ...).
func (p *parser) parseThrough() (*ThroughClause, error) {
	through := &ThroughClause{Pos: p.tok.Pos, Params: map[string]Value{}}
	if err := p.advance(); err != nil { // consume THROUGH
		return nil, err
	}

	target, err := p.expect(TokenIdent, "THROUGH")
	if err != nil {
		return nil, err
	}
	through.Target = strings.ToLower(target.Text)
	if !throughTargets[through.Target] {
		return nil, errAt(target.Pos, "unknown THROUGH target %q (expected network, edges or hyperedges)", target.Text)
	}

	if p.tok.Kind == TokenLParen {
		params, err := p.parseParamList(throughOptions, "THROUGH")
		if err != nil {
			return nil, err
		}
		through.Params = params
	}
	return through, nil
}

// parseParamList parses (key=value, ...). When schema is non-nil, unknown
// keys and literal type mismatches are syntax errors.
func (p *parser) parseParamList(schema map[string]ValueKind, context string) (map[string]Value, error) {
	if _, err := p.expect(TokenLParen, context); err != nil {
		return nil, err
	}
	params := map[string]Value{}

	// Empty parameter list is allowed.
	if p.tok.Kind == TokenRParen {
		return params, p.advance()
	}

	for {
		key, err := p.expect(TokenIdent, context+" parameter")
		if err != nil {
			return nil, err
		}
		name := strings.ToLower(key.Text)

		if _, err := p.expect(TokenEq, context+" parameter"); err != nil {
			return nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}

		if schema != nil {
			want, known := schema[name]
			if !known {
				return nil, errAt(key.Pos, "unknown option %q in %s", key.Text, context)
			}
			if val.Kind != want {
				return nil, errAt(val.Pos, "option %q expects a %s", name, kindName(want))
			}
		}
		if _, dup := params[name]; dup {
			return nil, errAt(key.Pos, "option %q set twice", name)
		}
		params[name] = val

		if p.tok.Kind == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if _, err := p.expect(TokenRParen, context); err != nil {
		return nil, err
	}
	return params, nil
}

func kindName(k ValueKind) string {
	switch k {
	case ValueString:
		return "string"
	case ValueNumber:
		return "number"
	case ValueDuration:
		return "duration"
	case ValueBool:
		return "boolean"
	case ValueList:
		return "list"
	}
	return "value"
}

// parseWhere parses WHERE <pred> [AND <pred>]*. Predicates are conjunctive
// only; there is no OR in the clause set.
func (p *parser) parseWhere() ([]Predicate, error) {
	if err := p.advance(); err != nil { // consume WHERE
		return nil, err
	}

	var preds []Predicate
	for {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		preds = append(preds, *pred)

		if p.keyword() == "AND" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		return preds, nil
	}
}

func (p *parser) parsePredicate() (*Predicate, error) {
	field, err := p.expect(TokenIdent, "WHERE")
	if err != nil {
		return nil, err
	}
	pred := &Predicate{Field: strings.ToLower(field.Text), Pos: field.Pos}

	switch {
	case p.tok.Kind == TokenEq:
		pred.Op = OpEq
	case p.tok.Kind == TokenGt:
		pred.Op = OpGt
	case p.tok.Kind == TokenLt:
		pred.Op = OpLt
	case p.keyword() == "IN":
		pred.Op = OpIn
	case p.keyword() == "WITHIN":
		pred.Op = OpWithin
	case p.keyword() == "MATCHES":
		pred.Op = OpMatches
	default:
		return nil, errAt(p.tok.Pos, "expected comparison operator (=, >, <, IN, WITHIN, MATCHES), got %s", p.describe())
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	val, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	// Operator/literal type pairing is part of the grammar.
	switch pred.Op {
	case OpIn:
		if val.Kind != ValueList {
			return nil, errAt(val.Pos, "IN expects a list literal")
		}
	case OpWithin:
		if val.Kind != ValueDuration {
			return nil, errAt(val.Pos, "WITHIN expects a duration literal (e.g. 500ms)")
		}
	case OpMatches:
		if val.Kind != ValueString {
			return nil, errAt(val.Pos, "MATCHES expects a string pattern")
		}
	case OpGt, OpLt:
		if val.Kind != ValueNumber && val.Kind != ValueDuration {
			return nil, errAt(val.Pos, "%s expects a numeric or duration literal", pred.Op)
		}
	}
	pred.Value = val
	return pred, nil
}

// parseCollect parses COLLECT kind[, kind]*.
func (p *parser) parseCollect() ([]CollectKind, error) {
	if err := p.advance(); err != nil { // consume COLLECT
		return nil, err
	}

	var kinds []CollectKind
	for {
		tok, err := p.expect(TokenIdent, "COLLECT")
		if err != nil {
			return nil, err
		}
		kind, ok := collectKinds[strings.ToLower(tok.Text)]
		if !ok {
			return nil, errAt(tok.Pos, "unknown collect kind %q", tok.Text)
		}
		kinds = append(kinds, kind)

		if p.tok.Kind == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		return kinds, nil
	}
}

// parseReturn parses RETURN proj[, proj]* [ORDER BY field [ASC|DESC]]
// [LIMIT n].
func (p *parser) parseReturn() (*ReturnClause, error) {
	ret := &ReturnClause{Pos: p.tok.Pos}
	if err := p.advance(); err != nil { // consume RETURN
		return nil, err
	}

	for {
		tok, err := p.expect(TokenIdent, "RETURN")
		if err != nil {
			return nil, err
		}
		ret.Projections = append(ret.Projections, strings.ToLower(tok.Text))

		if p.tok.Kind == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}

	if p.keyword() == "ORDER" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		field, err := p.expect(TokenIdent, "ORDER BY")
		if err != nil {
			return nil, err
		}
		ret.OrderBy = strings.ToLower(field.Text)

		switch p.keyword() {
		case "DESC":
			ret.Desc = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		case "ASC":
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}

	if p.keyword() == "LIMIT" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		num, err := p.expect(TokenNumber, "LIMIT")
		if err != nil {
			return nil, err
		}
		if num.Num < 0 || num.Num != float64(int(num.Num)) {
			return nil, errAt(num.Pos, "LIMIT expects a non-negative integer")
		}
		ret.Limit = int(num.Num)
		ret.HasLimit = true
	}
	return ret, nil
}

// parseValue parses a literal: string, number, duration, true/false or a
// [list] of literals.
func (p *parser) parseValue() (Value, error) {
	pos := p.tok.Pos
	switch p.tok.Kind {
	case TokenString:
		v := Value{Kind: ValueString, Str: p.tok.Text, Pos: pos}
		return v, p.advance()
	case TokenNumber:
		v := Value{Kind: ValueNumber, Num: p.tok.Num, Pos: pos}
		return v, p.advance()
	case TokenDuration:
		v := Value{Kind: ValueDuration, Dur: p.tok.Dur, Pos: pos}
		return v, p.advance()
	case TokenIdent:
		switch strings.ToLower(p.tok.Text) {
		case "true":
			return Value{Kind: ValueBool, Bool: true, Pos: pos}, p.advance()
		case "false":
			return Value{Kind: ValueBool, Bool: false, Pos: pos}, p.advance()
		}
		// Bare identifiers act as string values (node names, type tags).
		v := Value{Kind: ValueString, Str: p.tok.Text, Pos: pos}
		return v, p.advance()
	case TokenLBracket:
		if err := p.advance(); err != nil {
			return Value{}, err
		}
		list := Value{Kind: ValueList, Pos: pos}
		for {
			item, err := p.parseValue()
			if err != nil {
				return Value{}, err
			}
			if item.Kind == ValueList {
				return Value{}, errAt(item.Pos, "nested lists are not supported")
			}
			list.List = append(list.List, item)
			if p.tok.Kind == TokenComma {
				if err := p.advance(); err != nil {
					return Value{}, err
				}
				continue
			}
			break
		}
		if _, err := p.expect(TokenRBracket, "list literal"); err != nil {
			return Value{}, err
		}
		return list, nil
	}
	return Value{}, errAt(pos, "expected a literal value, got %s", p.describe())
}
