package pulse

import (
	"fmt"
	"time"
)

// TokenKind enumerates the lexical token classes of the Pulse language.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenString
	TokenNumber
	TokenDuration
	TokenLBracket
	TokenRBracket
	TokenLParen
	TokenRParen
	TokenComma
	TokenSemicolon
	TokenEq
	TokenGt
	TokenLt
)

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "end of query"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenDuration:
		return "duration"
	case TokenLBracket:
		return "'['"
	case TokenRBracket:
		return "']'"
	case TokenLParen:
		return "'('"
	case TokenRParen:
		return "')'"
	case TokenComma:
		return "','"
	case TokenSemicolon:
		return "';'"
	case TokenEq:
		return "'='"
	case TokenGt:
		return "'>'"
	case TokenLt:
		return "'<'"
	}
	return "unknown token"
}

// Pos is a position inside the query text, 1-based for line and column.
type Pos struct {
	Offset int
	Line   int
	Col    int
}

func (p Pos) String() string {
	return fmt.Sprintf("line %d, col %d", p.Line, p.Col)
}

// Token is one lexical unit. Num and Dur are populated for number and
// duration tokens respectively; Text always carries the raw lexeme.
type Token struct {
	Kind TokenKind
	Text string
	Num  float64
	Dur  time.Duration
	Pos  Pos
}

// SyntaxError is a positioned parse failure. It is always surfaced to the
// caller and never retried.
type SyntaxError struct {
	Pos Pos
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s: %s", e.Pos, e.Msg)
}

func errAt(pos Pos, format string, args ...any) *SyntaxError {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
