package parser

import (
	"fmt"
	"strconv"

	tt "github.com/veristub-labs/veristub/internal/types"
)

// TokenType is the kind of a lexical token.
type TokenType int

const (
	EOF TokenType = iota
	ILLEGAL
	TERM // statement terminator inserted at newlines

	// Punctuation
	LPAREN
	RPAREN
	LBRACKET
	RBRACKET
	LBRACE
	RBRACE
	COMMA

	// Operators
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	ASSIGN  // "="
	EQ      // "=="
	NEQ     // "!="
	LT      // "<"
	LE      // "<="
	GT      // ">"
	GE      // ">="
	BANG    // "!"
	AND     // "&&"
	OR      // "||"
	IMPLIES // "==>"
	AMP     // "&"
	RANGE   // "..+"

	// Literals and identifiers
	IDENT
	INT

	// Keywords
	KwFn
	KwHarness
	KwVar
	KwIf
	KwElse
	KwWhile
	KwFor
	KwIn
	KwReturn
	KwAssert
	KwAssume
	KwRequires
	KwEnsures
	KwModifies
	KwInvariant
	KwTrue
	KwFalse
)

var keywords = map[string]TokenType{
	"fn":        KwFn,
	"harness":   KwHarness,
	"var":       KwVar,
	"if":        KwIf,
	"else":      KwElse,
	"while":     KwWhile,
	"for":       KwFor,
	"in":        KwIn,
	"return":    KwReturn,
	"assert":    KwAssert,
	"assume":    KwAssume,
	"requires":  KwRequires,
	"ensures":   KwEnsures,
	"modifies":  KwModifies,
	"invariant": KwInvariant,
	"true":      KwTrue,
	"false":     KwFalse,
}

// Token is one lexical token with its source position.
type Token struct {
	Type   TokenType
	Lexeme string
	Int    int64
	Pos    tt.Position
}

// Lexer turns annotated source text into tokens. Line comments start
// with "//" and run to end of line. A newline after a token that can
// end a statement yields a TERM token, so line breaks delimit
// statements without explicit semicolons.
type Lexer struct {
	src      string
	filename string
	cur      int
	line     int
	col      int
	prev     TokenType
}

func NewLexer(filename, src string) *Lexer {
	return &Lexer{src: src, filename: filename, line: 1, col: 1}
}

// Tokens lexes the whole input. The returned slice always ends with an
// EOF token.
func (l *Lexer) Tokens() ([]Token, error) {
	var toks []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Type == EOF {
			return toks, nil
		}
	}
}

func (l *Lexer) pos() tt.Position {
	return tt.Position{Filename: l.filename, Line: l.line, Column: l.col}
}

func (l *Lexer) peek() byte {
	if l.cur >= len(l.src) {
		return 0
	}
	return l.src[l.cur]
}

func (l *Lexer) peekAt(n int) byte {
	if l.cur+n >= len(l.src) {
		return 0
	}
	return l.src[l.cur+n]
}

func (l *Lexer) advance() byte {
	ch := l.src[l.cur]
	l.cur++
	if ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return ch
}

// skipSpace reports whether a newline was crossed.
func (l *Lexer) skipSpace() bool {
	crossed := false
	for l.cur < len(l.src) {
		switch l.peek() {
		case '\n':
			crossed = true
			l.advance()
		case ' ', '\t', '\r':
			l.advance()
		case '/':
			if l.peekAt(1) == '/' {
				for l.cur < len(l.src) && l.peek() != '\n' {
					l.advance()
				}
			} else {
				return crossed
			}
		default:
			return crossed
		}
	}
	return crossed
}

// endsStmt reports whether a token may be the last one of a statement,
// making a following newline significant.
func endsStmt(t TokenType) bool {
	switch t {
	case IDENT, INT, KwTrue, KwFalse, KwReturn, RPAREN, RBRACKET, RBRACE:
		return true
	}
	return false
}

func (l *Lexer) next() (Token, error) {
	pos := l.pos()
	if l.skipSpace() && endsStmt(l.prev) && l.cur < len(l.src) {
		l.prev = TERM
		return Token{Type: TERM, Lexeme: "\n", Pos: pos}, nil
	}
	tok, err := l.scan()
	l.prev = tok.Type
	return tok, err
}

func (l *Lexer) scan() (Token, error) {
	pos := l.pos()
	if l.cur >= len(l.src) {
		return Token{Type: EOF, Pos: pos}, nil
	}

	ch := l.advance()
	switch ch {
	case '(':
		return Token{Type: LPAREN, Lexeme: "(", Pos: pos}, nil
	case ')':
		return Token{Type: RPAREN, Lexeme: ")", Pos: pos}, nil
	case '[':
		return Token{Type: LBRACKET, Lexeme: "[", Pos: pos}, nil
	case ']':
		return Token{Type: RBRACKET, Lexeme: "]", Pos: pos}, nil
	case '{':
		return Token{Type: LBRACE, Lexeme: "{", Pos: pos}, nil
	case '}':
		return Token{Type: RBRACE, Lexeme: "}", Pos: pos}, nil
	case ',':
		return Token{Type: COMMA, Lexeme: ",", Pos: pos}, nil
	case '+':
		return Token{Type: PLUS, Lexeme: "+", Pos: pos}, nil
	case '-':
		return Token{Type: MINUS, Lexeme: "-", Pos: pos}, nil
	case '*':
		return Token{Type: STAR, Lexeme: "*", Pos: pos}, nil
	case '/':
		return Token{Type: SLASH, Lexeme: "/", Pos: pos}, nil
	case '%':
		return Token{Type: PERCENT, Lexeme: "%", Pos: pos}, nil
	case '=':
		if l.peek() == '=' {
			l.advance()
			if l.peek() == '>' {
				l.advance()
				return Token{Type: IMPLIES, Lexeme: "==>", Pos: pos}, nil
			}
			return Token{Type: EQ, Lexeme: "==", Pos: pos}, nil
		}
		return Token{Type: ASSIGN, Lexeme: "=", Pos: pos}, nil
	case '!':
		if l.peek() == '=' {
			l.advance()
			return Token{Type: NEQ, Lexeme: "!=", Pos: pos}, nil
		}
		return Token{Type: BANG, Lexeme: "!", Pos: pos}, nil
	case '<':
		if l.peek() == '=' {
			l.advance()
			return Token{Type: LE, Lexeme: "<=", Pos: pos}, nil
		}
		return Token{Type: LT, Lexeme: "<", Pos: pos}, nil
	case '>':
		if l.peek() == '=' {
			l.advance()
			return Token{Type: GE, Lexeme: ">=", Pos: pos}, nil
		}
		return Token{Type: GT, Lexeme: ">", Pos: pos}, nil
	case '&':
		if l.peek() == '&' {
			l.advance()
			return Token{Type: AND, Lexeme: "&&", Pos: pos}, nil
		}
		return Token{Type: AMP, Lexeme: "&", Pos: pos}, nil
	case '|':
		if l.peek() == '|' {
			l.advance()
			return Token{Type: OR, Lexeme: "||", Pos: pos}, nil
		}
		return Token{Type: ILLEGAL, Lexeme: "|", Pos: pos}, fmt.Errorf("%s: unexpected character %q", pos, ch)
	case '.':
		if l.peek() == '.' && l.peekAt(1) == '+' {
			l.advance()
			l.advance()
			return Token{Type: RANGE, Lexeme: "..+", Pos: pos}, nil
		}
		return Token{Type: ILLEGAL, Lexeme: ".", Pos: pos}, fmt.Errorf("%s: unexpected character %q", pos, ch)
	}

	if isDigit(ch) {
		start := l.cur - 1
		for l.cur < len(l.src) && isDigit(l.peek()) {
			l.advance()
		}
		lexeme := l.src[start:l.cur]
		v, err := strconv.ParseInt(lexeme, 10, 64)
		if err != nil {
			return Token{}, fmt.Errorf("%s: bad integer literal %q", pos, lexeme)
		}
		return Token{Type: INT, Lexeme: lexeme, Int: v, Pos: pos}, nil
	}

	if isIdentStart(ch) {
		start := l.cur - 1
		for l.cur < len(l.src) && isIdentPart(l.peek()) {
			l.advance()
		}
		lexeme := l.src[start:l.cur]
		if kw, ok := keywords[lexeme]; ok {
			return Token{Type: kw, Lexeme: lexeme, Pos: pos}, nil
		}
		return Token{Type: IDENT, Lexeme: lexeme, Pos: pos}, nil
	}

	return Token{}, fmt.Errorf("%s: unexpected character %q", pos, ch)
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool { return isIdentStart(ch) || isDigit(ch) }
