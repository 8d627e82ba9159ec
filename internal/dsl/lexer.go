package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent
	tokOp     // + - * /
	tokCmp    // > < >= <= == !=
	tokAnd
	tokOr
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	typ tokenType
	lit string
	num float64
	pos int
}

// lexer tokenizes a formula expression. Identifiers follow Go-ish rules
// (letters, digits, underscore, not starting with a digit); AND/OR are
// keywords regardless of case.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n' || l.src[l.pos] == '\r') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{typ: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case c >= '0' && c <= '9' || c == '.':
		return l.lexNumber(start)

	case c == '"':
		return l.lexString(start)

	case isIdentStart(rune(c)):
		return l.lexIdent(start)

	case c == '+' || c == '-' || c == '*' || c == '/':
		l.pos++
		return token{typ: tokOp, lit: string(c), pos: start}, nil

	case c == '(':
		l.pos++
		return token{typ: tokLParen, lit: "(", pos: start}, nil

	case c == ')':
		l.pos++
		return token{typ: tokRParen, lit: ")", pos: start}, nil

	case c == ',':
		l.pos++
		return token{typ: tokComma, lit: ",", pos: start}, nil

	case c == '>' || c == '<':
		l.pos++
		lit := string(c)
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			lit += "="
			l.pos++
		}
		return token{typ: tokCmp, lit: lit, pos: start}, nil

	case c == '=' || c == '!':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			lit := string(c) + "="
			l.pos += 2
			return token{typ: tokCmp, lit: lit, pos: start}, nil
		}
		return token{}, &ParseError{Message: fmt.Sprintf("unexpected character %q", string(c)), Position: start}
	}

	return token{}, &ParseError{Message: fmt.Sprintf("unexpected character %q", string(c)), Position: start}
}

func (l *lexer) lexNumber(start int) (token, error) {
	sawDot := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '.' {
			if sawDot {
				return token{}, &ParseError{Message: "malformed number", Position: start}
			}
			sawDot = true
			l.pos++
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		l.pos++
	}
	lit := l.src[start:l.pos]
	n, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return token{}, &ParseError{Message: fmt.Sprintf("malformed number %q", lit), Position: start}
	}
	return token{typ: tokNumber, lit: lit, num: n, pos: start}, nil
}

func (l *lexer) lexString(start int) (token, error) {
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '"' {
			l.pos++
			return token{typ: tokString, lit: b.String(), pos: start}, nil
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			c = l.src[l.pos]
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, &ParseError{Message: "unterminated string literal", Position: start}
}

func (l *lexer) lexIdent(start int) (token, error) {
	for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
		l.pos++
	}
	lit := l.src[start:l.pos]
	switch strings.ToUpper(lit) {
	case "AND":
		return token{typ: tokAnd, lit: lit, pos: start}, nil
	case "OR":
		return token{typ: tokOr, lit: lit, pos: start}, nil
	}
	return token{typ: tokIdent, lit: lit, pos: start}, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
