package dsl

import "fmt"

// ParseError reports a malformed formula with the byte position of the
// offending token.
type ParseError struct {
	Message  string
	Position int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s", e.Position, e.Message)
}

// EvalErrorKind classifies evaluation failures.
type EvalErrorKind string

const (
	MissingParameter EvalErrorKind = "MissingParameter"
	TypeMismatch     EvalErrorKind = "TypeMismatch"
	DivisionByZero   EvalErrorKind = "DivisionByZero"
	LookupMiss       EvalErrorKind = "LookupMiss"
	OutOfRange       EvalErrorKind = "OutOfRange"
	DepthExceeded    EvalErrorKind = "DepthExceeded"
)

// EvalError reports a runtime evaluation failure. Every error is terminal
// for the current evaluation; retrying with identical inputs reproduces
// the identical error.
type EvalError struct {
	Kind EvalErrorKind

	// Name is the unresolved parameter for MissingParameter.
	Name string

	// Value and TableCode describe LookupMiss and OutOfRange failures.
	Value     string
	TableCode string

	Message string
}

func (e *EvalError) Error() string {
	switch e.Kind {
	case MissingParameter:
		return fmt.Sprintf("missing parameter %q", e.Name)
	case LookupMiss:
		return fmt.Sprintf("no entry for %q in table %q", e.Value, e.TableCode)
	case OutOfRange:
		return fmt.Sprintf("value %s outside every bracket of table %q", e.Value, e.TableCode)
	case DivisionByZero:
		return "division by zero"
	default:
		return string(e.Kind) + ": " + e.Message
	}
}
