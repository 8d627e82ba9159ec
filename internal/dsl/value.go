package dsl

import (
	"strconv"
	"time"
)

// Kind identifies the runtime type of a Value.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindBool
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	}
	return "unknown"
}

// Value is a runtime value bound to a parameter or produced by evaluation.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
	Time time.Time
}

// Number wraps a float64.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// String wraps a string.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Date wraps a time, truncated semantics are the binder's concern.
func Date(t time.Time) Value { return Value{Kind: KindDate, Time: t} }

// Key renders the value as a key_value table key: strings as-is, numbers
// without a trailing ".0", booleans as "true"/"false".
func (v Value) Key() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		return v.Time.Format("2006-01-02")
	}
	return ""
}
