package dsl

// Op is a binary or unary operator.
type Op string

const (
	OpAdd Op = "+"
	OpSub Op = "-"
	OpMul Op = "*"
	OpDiv Op = "/"
	OpGT  Op = ">"
	OpLT  Op = "<"
	OpGE  Op = ">="
	OpLE  Op = "<="
	OpEQ  Op = "=="
	OpNE  Op = "!="
	OpAnd Op = "AND"
	OpOr  Op = "OR"
	OpNeg Op = "neg"
)

// Node is a parsed expression tree node.
type Node interface {
	// Pos returns the byte offset of the node in the source expression.
	Pos() int
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value float64
	pos   int
}

func (n *NumberLit) Pos() int { return n.pos }

// StringLit is a double-quoted string literal, used for table codes and
// string comparisons.
type StringLit struct {
	Value string
	pos   int
}

func (n *StringLit) Pos() int { return n.pos }

// VarRef references a parameter by its code.
type VarRef struct {
	Name string
	pos  int
}

func (n *VarRef) Pos() int { return n.pos }

// Unary is a prefix operator application (only negation).
type Unary struct {
	Op  Op
	X   Node
	pos int
}

func (n *Unary) Pos() int { return n.pos }

// Binary is an infix operator application.
type Binary struct {
	Op   Op
	L, R Node
	pos  int
}

func (n *Binary) Pos() int { return n.pos }

// Call is a built-in function call (IF, MIN, MAX, LOOKUP, BRACKET).
type Call struct {
	Func string
	Args []Node
	pos  int
}

func (n *Call) Pos() int { return n.pos }
