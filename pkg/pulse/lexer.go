package pulse

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// lexer walks the query text rune by rune and produces tokens with positions.
// The grammar is keyword-driven, so the lexer stays deliberately small: no
// lookahead beyond one rune, no token backtracking.
type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) pos() Pos {
	return Pos{Offset: l.off, Line: l.line, Col: l.col}
}

func (l *lexer) peek() (rune, bool) {
	if l.off >= len(l.src) {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.off:])
	return r, true
}

func (l *lexer) advance() rune {
	r, size := utf8.DecodeRuneInString(l.src[l.off:])
	l.off += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) skipSpace() {
	for {
		r, ok := l.peek()
		if !ok || !unicode.IsSpace(r) {
			return
		}
		l.advance()
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	// '.' is allowed inside identifiers for field paths (payload.name).
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// next returns the next token. The error is always a *SyntaxError.
func (l *lexer) next() (Token, error) {
	l.skipSpace()
	start := l.pos()

	r, ok := l.peek()
	if !ok {
		return Token{Kind: TokenEOF, Pos: start}, nil
	}

	switch r {
	case '[':
		l.advance()
		return Token{Kind: TokenLBracket, Text: "[", Pos: start}, nil
	case ']':
		l.advance()
		return Token{Kind: TokenRBracket, Text: "]", Pos: start}, nil
	case '(':
		l.advance()
		return Token{Kind: TokenLParen, Text: "(", Pos: start}, nil
	case ')':
		l.advance()
		return Token{Kind: TokenRParen, Text: ")", Pos: start}, nil
	case ',':
		l.advance()
		return Token{Kind: TokenComma, Text: ",", Pos: start}, nil
	case ';':
		l.advance()
		return Token{Kind: TokenSemicolon, Text: ";", Pos: start}, nil
	case '=':
		l.advance()
		return Token{Kind: TokenEq, Text: "=", Pos: start}, nil
	case '>':
		l.advance()
		return Token{Kind: TokenGt, Text: ">", Pos: start}, nil
	case '<':
		l.advance()
		return Token{Kind: TokenLt, Text: "<", Pos: start}, nil
	case '"':
		return l.lexString(start)
	}

	if unicode.IsDigit(r) || r == '-' {
		return l.lexNumber(start)
	}
	if isIdentStart(r) {
		return l.lexIdent(start)
	}
	return Token{}, errAt(start, "unexpected character %q", r)
}

func (l *lexer) lexString(start Pos) (Token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		r, ok := l.peek()
		if !ok {
			return Token{}, errAt(start, "unterminated string literal")
		}
		l.advance()
		if r == '"' {
			return Token{Kind: TokenString, Text: sb.String(), Pos: start}, nil
		}
		if r == '\\' {
			esc, ok := l.peek()
			if !ok {
				return Token{}, errAt(start, "unterminated string literal")
			}
			l.advance()
			switch esc {
			case '"', '\\':
				sb.WriteRune(esc)
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				return Token{}, errAt(start, "unknown escape \\%c in string", esc)
			}
			continue
		}
		sb.WriteRune(r)
	}
}

// lexNumber lexes a numeric literal, promoting it to a duration token when a
// unit suffix follows (500ms, 2s, 1h).
func (l *lexer) lexNumber(start Pos) (Token, error) {
	var sb strings.Builder
	if r, _ := l.peek(); r == '-' {
		sb.WriteRune(l.advance())
	}
	for {
		r, ok := l.peek()
		if !ok || (!unicode.IsDigit(r) && r != '.') {
			break
		}
		sb.WriteRune(l.advance())
	}
	numText := sb.String()

	// Unit suffix turns the literal into a duration.
	var unit strings.Builder
	for {
		r, ok := l.peek()
		if !ok || !unicode.IsLetter(r) {
			break
		}
		unit.WriteRune(l.advance())
	}
	if unit.Len() > 0 {
		d, err := time.ParseDuration(numText + unit.String())
		if err != nil {
			return Token{}, errAt(start, "invalid duration literal %q", numText+unit.String())
		}
		return Token{Kind: TokenDuration, Text: numText + unit.String(), Dur: d, Pos: start}, nil
	}

	n, err := strconv.ParseFloat(numText, 64)
	if err != nil {
		return Token{}, errAt(start, "invalid number literal %q", numText)
	}
	return Token{Kind: TokenNumber, Text: numText, Num: n, Pos: start}, nil
}

func (l *lexer) lexIdent(start Pos) (Token, error) {
	var sb strings.Builder
	for {
		r, ok := l.peek()
		if !ok || !isIdentPart(r) {
			break
		}
		sb.WriteRune(l.advance())
	}
	return Token{Kind: TokenIdent, Text: sb.String(), Pos: start}, nil
}
