// Package dsl implements the pricing formula language: a loop-free,
// side-effect-free expression grammar authored by insurance staff through
// the rule editor. The package provides a hand-written lexer and
// recursive-descent parser producing a typed AST, and a tree-walking
// evaluator over a parameter-binding environment.
//
// Grammar, loosest binding first:
//
//	expr        = andExpr { "OR" andExpr }
//	andExpr     = cmpExpr { "AND" cmpExpr }
//	cmpExpr     = addExpr [ (">" | "<" | ">=" | "<=" | "==" | "!=") addExpr ]
//	addExpr     = mulExpr { ("+" | "-") mulExpr }
//	mulExpr     = unary { ("*" | "/") unary }
//	unary       = [ "-" ] primary
//	primary     = number | string | ident | call | "(" expr ")"
//	call        = funcName "(" expr { "," expr } ")"
//
// Function names (IF, MIN, MAX, LOOKUP, BRACKET) are matched
// case-insensitively; parameter identifiers are case-sensitive.
package dsl

import (
	"fmt"
	"strings"
)

// builtin arity table; max of -1 means variadic.
var builtins = map[string]struct{ min, max int }{
	"IF":      {3, 3},
	"MIN":     {2, -1},
	"MAX":     {2, -1},
	"LOOKUP":  {2, 2},
	"BRACKET": {2, 2},
}

// Parse turns a formula string into an AST. Parsing is pure; callers cache
// results keyed by expression content.
func Parse(expression string) (Node, error) {
	p := &parser{lex: newLexer(expression)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.typ != tokEOF {
		return nil, &ParseError{Message: fmt.Sprintf("unexpected %q after expression", p.tok.lit), Position: p.tok.pos}
	}
	return node, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokOr {
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpOr, L: left, R: right, pos: pos}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokAnd {
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpAnd, L: left, R: right, pos: pos}
	}
	return left, nil
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.tok.typ == tokCmp {
		op := Op(p.tok.lit)
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right, pos: pos}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokOp && (p.tok.lit == "+" || p.tok.lit == "-") {
		op := Op(p.tok.lit)
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right, pos: pos}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.typ == tokOp && (p.tok.lit == "*" || p.tok.lit == "/") {
		op := Op(p.tok.lit)
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right, pos: pos}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.tok.typ == tokOp && p.tok.lit == "-" {
		pos := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: OpNeg, X: x, pos: pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.tok

	switch tok.typ {
	case tokNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NumberLit{Value: tok.num, pos: tok.pos}, nil

	case tokString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringLit{Value: tok.lit, pos: tok.pos}, nil

	case tokIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.typ == tokLParen {
			return p.parseCall(tok)
		}
		return &VarRef{Name: tok.lit, pos: tok.pos}, nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.typ != tokRParen {
			return nil, &ParseError{Message: "missing closing parenthesis", Position: p.tok.pos}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return node, nil

	case tokEOF:
		return nil, &ParseError{Message: "unexpected end of expression", Position: tok.pos}
	}

	return nil, &ParseError{Message: fmt.Sprintf("unexpected %q", tok.lit), Position: tok.pos}
}

func (p *parser) parseCall(name token) (Node, error) {
	fn := strings.ToUpper(name.lit)
	arity, known := builtins[fn]
	if !known {
		return nil, &ParseError{Message: fmt.Sprintf("unknown function %q", name.lit), Position: name.pos}
	}

	// consume "("
	if err := p.advance(); err != nil {
		return nil, err
	}

	var args []Node
	if p.tok.typ != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.typ != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}

	if p.tok.typ != tokRParen {
		return nil, &ParseError{Message: fmt.Sprintf("missing closing parenthesis in %s call", fn), Position: p.tok.pos}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if len(args) < arity.min || (arity.max >= 0 && len(args) > arity.max) {
		return nil, &ParseError{
			Message:  fmt.Sprintf("%s expects %s arguments, got %d", fn, arityString(arity.min, arity.max), len(args)),
			Position: name.pos,
		}
	}

	// Table codes must be literal so references can be checked before any
	// evaluation runs.
	if fn == "LOOKUP" || fn == "BRACKET" {
		if _, ok := args[1].(*StringLit); !ok {
			return nil, &ParseError{Message: fn + " table code must be a quoted string", Position: args[1].Pos()}
		}
	}

	return &Call{Func: fn, Args: args, pos: name.pos}, nil
}

func arityString(min, max int) string {
	if max < 0 {
		return fmt.Sprintf("at least %d", min)
	}
	if min == max {
		return fmt.Sprintf("exactly %d", min)
	}
	return fmt.Sprintf("between %d and %d", min, max)
}
