package query

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
	"unicode"
)

// TokenType represents the type of a token
type TokenType int

const (
	TokenError TokenType = iota
	TokenEOF
	TokenIdentifier // field name, bare value or word operator
	TokenString     // "quoted value"
	TokenColon      // :
	TokenLParen     // (
	TokenRParen     // )
	TokenAnd        // AND
	TokenOr         // OR
	TokenEQ         // =
	TokenNEQ        // !=
	TokenGTE        // >=
	TokenLTE        // <=
	TokenGT         // >
	TokenLT         // <
)

// Token represents a lexical token
type Token struct {
	Type  TokenType
	Value string
}

// Lexer splits a textual query into tokens.
type Lexer struct {
	scanner scanner.Scanner
	buf     Token
	hasBuf  bool
	err     string
}

func NewLexer(input string) *Lexer {
	l := &Lexer{}
	l.scanner.Init(strings.NewReader(input))
	l.scanner.Mode = scanner.ScanIdents | scanner.ScanStrings | scanner.ScanInts | scanner.ScanFloats
	l.scanner.IsIdentRune = func(ch rune, i int) bool {
		return ch == '_' || ch == '-' || ch == '.' || ch == '*' || ch == '%' || ch == '+' ||
			unicode.IsLetter(ch) || unicode.IsDigit(ch)
	}
	l.scanner.Error = func(_ *scanner.Scanner, msg string) {
		l.err = msg
	}
	return l
}

func (l *Lexer) scan() Token {
	if l.hasBuf {
		l.hasBuf = false
		return l.buf
	}

	tok := l.scanner.Scan()
	text := l.scanner.TokenText()
	if l.err != "" {
		return Token{Type: TokenError, Value: l.err}
	}

	switch tok {
	case scanner.EOF:
		return Token{Type: TokenEOF}
	case scanner.String:
		if s, err := strconv.Unquote(text); err == nil {
			return Token{Type: TokenString, Value: s}
		}
		return Token{Type: TokenString, Value: strings.Trim(text, "\"")}
	case '(':
		return Token{Type: TokenLParen, Value: "("}
	case ')':
		return Token{Type: TokenRParen, Value: ")"}
	case ':':
		return Token{Type: TokenColon, Value: ":"}
	case '=':
		if l.scanner.Peek() == '=' {
			l.scanner.Next()
		}
		return Token{Type: TokenEQ, Value: "="}
	case '!':
		if l.scanner.Peek() == '=' {
			l.scanner.Next()
			return Token{Type: TokenNEQ, Value: "!="}
		}
		return Token{Type: TokenError, Value: "!"}
	case '>':
		if l.scanner.Peek() == '=' {
			l.scanner.Next()
			return Token{Type: TokenGTE, Value: ">="}
		}
		return Token{Type: TokenGT, Value: ">"}
	case '<':
		if l.scanner.Peek() == '=' {
			l.scanner.Next()
			return Token{Type: TokenLTE, Value: "<="}
		}
		return Token{Type: TokenLT, Value: "<"}
	case scanner.Ident, scanner.Int, scanner.Float:
		switch strings.ToUpper(text) {
		case "AND":
			return Token{Type: TokenAnd, Value: "AND"}
		case "OR":
			return Token{Type: TokenOr, Value: "OR"}
		}
		return Token{Type: TokenIdentifier, Value: text}
	default:
		return Token{Type: TokenError, Value: text}
	}
}

func (l *Lexer) peek() Token {
	if !l.hasBuf {
		l.buf = l.scan()
		l.hasBuf = true
	}
	return l.buf
}

// Parser turns a flat textual query such as
//
//	Modality = CT AND PatientName contains "DOE"
//
// into a Query. Conditions may be joined by AND or OR but not both, and
// parentheses are rejected. Adjacent conditions without a keyword are ANDed.
type Parser struct {
	lexer *Lexer
}

func NewParser(input string) *Parser {
	return &Parser{lexer: NewLexer(input)}
}

// Parse is shorthand for NewParser(input).Parse().
func Parse(input string) (Query, error) {
	return NewParser(input).Parse()
}

func (p *Parser) Parse() (Query, error) {
	q := Query{}
	if p.lexer.peek().Type == TokenEOF {
		q.Join = JoinAnd
		return q, nil
	}

	for {
		c, err := p.parseCondition()
		if err != nil {
			return Query{}, err
		}
		q.Conditions = append(q.Conditions, c)

		next := p.lexer.peek()
		var join Join
		switch next.Type {
		case TokenEOF:
			if q.Join == "" {
				q.Join = JoinAnd
			}
			return q, nil
		case TokenAnd:
			p.lexer.scan()
			join = JoinAnd
		case TokenOr:
			p.lexer.scan()
			join = JoinOr
		case TokenIdentifier, TokenString:
			join = JoinAnd
		case TokenLParen, TokenRParen:
			return Query{}, fmt.Errorf("grouping with parentheses is not supported")
		default:
			return Query{}, fmt.Errorf("unexpected %q after condition", next.Value)
		}

		if q.Join != "" && q.Join != join {
			return Query{}, fmt.Errorf("cannot mix AND and OR without grouping")
		}
		q.Join = join
	}
}

// Condition -> field operator value
func (p *Parser) parseCondition() (Condition, error) {
	field := p.lexer.scan()
	switch field.Type {
	case TokenIdentifier, TokenString:
	case TokenLParen, TokenRParen:
		return Condition{}, fmt.Errorf("grouping with parentheses is not supported")
	case TokenEOF:
		return Condition{}, fmt.Errorf("expected condition, got end of query")
	default:
		return Condition{}, fmt.Errorf("expected field name, got %q", field.Value)
	}

	opTok := p.lexer.scan()
	var op Operator
	switch opTok.Type {
	case TokenColon, TokenEQ:
		op = OpEqual
	case TokenNEQ:
		op = OpNotEqual
	case TokenGT:
		op = OpGreater
	case TokenLT:
		op = OpLess
	case TokenGTE:
		op = OpGreaterEq
	case TokenLTE:
		op = OpLessEq
	case TokenIdentifier:
		op = Operator(strings.ToLower(opTok.Value))
		if !op.Known() {
			return Condition{}, fmt.Errorf("unknown operator %q after %s", opTok.Value, field.Value)
		}
	default:
		return Condition{}, fmt.Errorf("expected operator after %s, got %q", field.Value, opTok.Value)
	}

	val := p.lexer.scan()
	if val.Type != TokenIdentifier && val.Type != TokenString {
		return Condition{}, fmt.Errorf("expected value after %s %s, got %q", field.Value, op, val.Value)
	}
	return Cond(field.Value, op, val.Value), nil
}
