package dsl

import (
	"fmt"
)

// maxEvalDepth bounds AST recursion. The grammar has no loops, so this
// only guards against pathological hand-crafted input.
const maxEvalDepth = 256

// TableResolver resolves LOOKUP and BRACKET calls against a rule's tables.
type TableResolver interface {
	// KeyValue resolves an exact-match table entry.
	KeyValue(value Value, tableCode string) (float64, error)

	// Bracket resolves the first half-open interval [min, max) containing
	// the input.
	Bracket(value float64, tableCode string) (float64, error)
}

// Env is the evaluation environment: parameter bindings plus the table
// resolver. Both are read-only during evaluation.
type Env struct {
	Bindings map[string]Value
	Tables   TableResolver
}

// Evaluate walks the AST and returns the numeric result. A formula whose
// top-level value is not a number fails with TypeMismatch.
func Evaluate(node Node, env *Env) (float64, error) {
	v, err := eval(node, env, 0)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindNumber {
		return 0, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("formula yielded %s, expected number", v.Kind)}
	}
	return v.Num, nil
}

// EvaluateBool evaluates a condition expression (fee conditions) to a
// boolean.
func EvaluateBool(node Node, env *Env) (bool, error) {
	v, err := eval(node, env, 0)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("condition yielded %s, expected boolean", v.Kind)}
	}
	return v.Bool, nil
}

func eval(node Node, env *Env, depth int) (Value, error) {
	if depth > maxEvalDepth {
		return Value{}, &EvalError{Kind: DepthExceeded, Message: "expression nested too deeply"}
	}

	switch n := node.(type) {
	case *NumberLit:
		return Number(n.Value), nil

	case *StringLit:
		return String(n.Value), nil

	case *VarRef:
		v, ok := env.Bindings[n.Name]
		if !ok {
			return Value{}, &EvalError{Kind: MissingParameter, Name: n.Name}
		}
		return v, nil

	case *Unary:
		x, err := eval(n.X, env, depth+1)
		if err != nil {
			return Value{}, err
		}
		if x.Kind != KindNumber {
			return Value{}, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("cannot negate %s", x.Kind)}
		}
		return Number(-x.Num), nil

	case *Binary:
		return evalBinary(n, env, depth)

	case *Call:
		return evalCall(n, env, depth)
	}

	return Value{}, fmt.Errorf("unknown AST node %T", node)
}

func evalBinary(n *Binary, env *Env, depth int) (Value, error) {
	// AND/OR short-circuit: the right operand is only evaluated when the
	// left one does not decide the result.
	if n.Op == OpAnd || n.Op == OpOr {
		l, err := eval(n.L, env, depth+1)
		if err != nil {
			return Value{}, err
		}
		if l.Kind != KindBool {
			return Value{}, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("%s requires boolean operands, got %s", n.Op, l.Kind)}
		}
		if n.Op == OpAnd && !l.Bool {
			return Bool(false), nil
		}
		if n.Op == OpOr && l.Bool {
			return Bool(true), nil
		}
		r, err := eval(n.R, env, depth+1)
		if err != nil {
			return Value{}, err
		}
		if r.Kind != KindBool {
			return Value{}, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("%s requires boolean operands, got %s", n.Op, r.Kind)}
		}
		return Bool(r.Bool), nil
	}

	l, err := eval(n.L, env, depth+1)
	if err != nil {
		return Value{}, err
	}
	r, err := eval(n.R, env, depth+1)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case OpAdd, OpSub, OpMul, OpDiv:
		if l.Kind != KindNumber || r.Kind != KindNumber {
			return Value{}, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("operator %s requires numeric operands, got %s and %s", n.Op, l.Kind, r.Kind)}
		}
		switch n.Op {
		case OpAdd:
			return Number(l.Num + r.Num), nil
		case OpSub:
			return Number(l.Num - r.Num), nil
		case OpMul:
			return Number(l.Num * r.Num), nil
		case OpDiv:
			if r.Num == 0 {
				return Value{}, &EvalError{Kind: DivisionByZero}
			}
			return Number(l.Num / r.Num), nil
		}

	case OpEQ, OpNE:
		eq, err := valuesEqual(l, r)
		if err != nil {
			return Value{}, err
		}
		if n.Op == OpNE {
			eq = !eq
		}
		return Bool(eq), nil

	case OpGT, OpLT, OpGE, OpLE:
		cmp, err := compareOrdered(l, r)
		if err != nil {
			return Value{}, err
		}
		switch n.Op {
		case OpGT:
			return Bool(cmp > 0), nil
		case OpLT:
			return Bool(cmp < 0), nil
		case OpGE:
			return Bool(cmp >= 0), nil
		case OpLE:
			return Bool(cmp <= 0), nil
		}
	}

	return Value{}, fmt.Errorf("unknown operator %s", n.Op)
}

func valuesEqual(l, r Value) (bool, error) {
	if l.Kind != r.Kind {
		return false, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("cannot compare %s with %s", l.Kind, r.Kind)}
	}
	switch l.Kind {
	case KindNumber:
		return l.Num == r.Num, nil
	case KindString:
		return l.Str == r.Str, nil
	case KindBool:
		return l.Bool == r.Bool, nil
	case KindDate:
		return l.Time.Equal(r.Time), nil
	}
	return false, &EvalError{Kind: TypeMismatch, Message: "unsupported comparison"}
}

// compareOrdered orders numbers numerically and dates chronologically.
func compareOrdered(l, r Value) (int, error) {
	if l.Kind == KindNumber && r.Kind == KindNumber {
		switch {
		case l.Num < r.Num:
			return -1, nil
		case l.Num > r.Num:
			return 1, nil
		}
		return 0, nil
	}
	if l.Kind == KindDate && r.Kind == KindDate {
		switch {
		case l.Time.Before(r.Time):
			return -1, nil
		case l.Time.After(r.Time):
			return 1, nil
		}
		return 0, nil
	}
	return 0, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("cannot order %s against %s", l.Kind, r.Kind)}
}

func evalCall(n *Call, env *Env, depth int) (Value, error) {
	switch n.Func {
	case "IF":
		cond, err := eval(n.Args[0], env, depth+1)
		if err != nil {
			return Value{}, err
		}
		if cond.Kind != KindBool {
			return Value{}, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("IF condition yielded %s, expected boolean", cond.Kind)}
		}
		// Exactly one branch is evaluated; the untaken branch may
		// reference parameters absent in this context.
		if cond.Bool {
			return eval(n.Args[1], env, depth+1)
		}
		return eval(n.Args[2], env, depth+1)

	case "MIN", "MAX":
		best, err := eval(n.Args[0], env, depth+1)
		if err != nil {
			return Value{}, err
		}
		if best.Kind != KindNumber {
			return Value{}, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("%s requires numeric arguments, got %s", n.Func, best.Kind)}
		}
		for _, arg := range n.Args[1:] {
			v, err := eval(arg, env, depth+1)
			if err != nil {
				return Value{}, err
			}
			if v.Kind != KindNumber {
				return Value{}, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("%s requires numeric arguments, got %s", n.Func, v.Kind)}
			}
			if (n.Func == "MIN" && v.Num < best.Num) || (n.Func == "MAX" && v.Num > best.Num) {
				best = v
			}
		}
		return best, nil

	case "LOOKUP":
		v, err := eval(n.Args[0], env, depth+1)
		if err != nil {
			return Value{}, err
		}
		table := n.Args[1].(*StringLit).Value
		out, err := env.Tables.KeyValue(v, table)
		if err != nil {
			return Value{}, err
		}
		return Number(out), nil

	case "BRACKET":
		v, err := eval(n.Args[0], env, depth+1)
		if err != nil {
			return Value{}, err
		}
		if v.Kind != KindNumber {
			return Value{}, &EvalError{Kind: TypeMismatch, Message: fmt.Sprintf("BRACKET requires a numeric input, got %s", v.Kind)}
		}
		table := n.Args[1].(*StringLit).Value
		out, err := env.Tables.Bracket(v.Num, table)
		if err != nil {
			return Value{}, err
		}
		return Number(out), nil
	}

	return Value{}, fmt.Errorf("unknown function %s", n.Func)
}
