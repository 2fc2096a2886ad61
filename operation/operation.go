// Package operation implements the comparison predicates evaluated by the
// search buffers.
//
// Value operations (Equal, NotEqual, Less, Greater, Between) compare one read
// against literal operands. Memory operations (Increased, Decreased, Changed,
// Unchanged, ChangedBy) compare two reads of the same address taken at
// different times.
//
// An Operation is a plain value and safe to copy between workers. Before a
// scan it is compiled against the round's shape into a Predicate, so the kind
// dispatch happens once per round rather than once per element.
package operation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/memgo/value"
)

// ErrInvalidOperation is returned when an operation cannot be applied to a
// value kind, or is malformed.
var ErrInvalidOperation = errors.New("invalid operation")

// Tolerance is the absolute epsilon used by all float comparisons.
const Tolerance = 0.001

// Op enumerates the supported comparisons.
type Op uint8

const (
	// OpEqual matches values equal to the argument.
	OpEqual Op = iota + 1
	// OpNotEqual matches values different from the argument.
	OpNotEqual
	// OpLess matches values below the argument.
	OpLess
	// OpGreater matches values above the argument.
	OpGreater
	// OpBetween matches values inside the inclusive range of two arguments.
	OpBetween
	// OpIncreased matches values larger than in the previous generation.
	OpIncreased
	// OpDecreased matches values smaller than in the previous generation.
	OpDecreased
	// OpChanged matches values that differ from the previous generation.
	OpChanged
	// OpUnchanged matches values equal to the previous generation.
	OpUnchanged
	// OpChangedBy matches values that moved by the argument since the
	// previous generation.
	OpChangedBy
)

var opNames = map[Op]string{
	OpEqual:     "equal",
	OpNotEqual:  "not_equal",
	OpLess:      "less",
	OpGreater:   "greater",
	OpBetween:   "between",
	OpIncreased: "increased",
	OpDecreased: "decreased",
	OpChanged:   "changed",
	OpUnchanged: "unchanged",
	OpChangedBy: "changed_by",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Operation is a comparison predicate with its literal operands.
type Operation struct {
	op Op
	a  value.Value
	b  value.Value
}

// Equal matches reads equal to v.
func Equal(v value.Value) Operation { return Operation{op: OpEqual, a: v} }

// NotEqual matches reads different from v.
func NotEqual(v value.Value) Operation { return Operation{op: OpNotEqual, a: v} }

// Less matches reads strictly less than v.
func Less(v value.Value) Operation { return Operation{op: OpLess, a: v} }

// Greater matches reads strictly greater than v.
func Greater(v value.Value) Operation { return Operation{op: OpGreater, a: v} }

// Between matches reads in the inclusive range [lo, hi].
func Between(lo, hi value.Value) Operation { return Operation{op: OpBetween, a: lo, b: hi} }

// Increased matches when the current read is greater than the previous one.
func Increased() Operation { return Operation{op: OpIncreased} }

// Decreased matches when the current read is less than the previous one.
func Decreased() Operation { return Operation{op: OpDecreased} }

// Changed matches when the current read differs from the previous one.
func Changed() Operation { return Operation{op: OpChanged} }

// Unchanged matches when the current read equals the previous one.
func Unchanged() Operation { return Operation{op: OpUnchanged} }

// ChangedBy matches when current - previous equals delta.
func ChangedBy(delta value.Value) Operation { return Operation{op: OpChangedBy, a: delta} }

// Parse builds an operation from its name and textual operands, parsed as
// the given kind.
func Parse(name string, kind value.Kind, operands ...string) (Operation, error) {
	var op Op
	for k, n := range opNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			op = k
			break
		}
	}
	if op == 0 {
		return Operation{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidOperation, name)
	}

	want := op.operands()
	if len(operands) != want {
		return Operation{}, fmt.Errorf("%w: %s takes %d operand(s), got %d", ErrInvalidOperation, op, want, len(operands))
	}

	vals := make([]value.Value, len(operands))
	for i, text := range operands {
		v, err := value.Parse(text, kind)
		if err != nil {
			return Operation{}, err
		}
		vals[i] = v
	}

	o := Operation{op: op}
	if len(vals) > 0 {
		o.a = vals[0]
	}
	if len(vals) > 1 {
		o.b = vals[1]
	}
	return o, o.Validate(kind)
}

func (o Op) operands() int {
	switch o {
	case OpBetween:
		return 2
	case OpIncreased, OpDecreased, OpChanged, OpUnchanged:
		return 0
	default:
		return 1
	}
}

// Op returns the comparison kind.
func (o Operation) Op() Op { return o.op }

// Operands returns the literal operands (zero Values when unused).
func (o Operation) Operands() (value.Value, value.Value) { return o.a, o.b }

// IsMemory reports whether the operation compares a current and a previous
// read rather than literal operands.
func (o Operation) IsMemory() bool {
	switch o.op {
	case OpIncreased, OpDecreased, OpChanged, OpUnchanged, OpChangedBy:
		return true
	}
	return false
}

// Signed reports whether any operand was parsed as a signed integer.
func (o Operation) Signed() bool {
	return (o.a.IsValid() && o.a.Signed() && o.a.Kind().IsInteger()) ||
		(o.b.IsValid() && o.b.Signed() && o.b.Kind().IsInteger())
}

// Validate checks that the operation is well-formed for kind.
func (o Operation) Validate(kind value.Kind) error {
	if o.op == 0 {
		return fmt.Errorf("%w: zero operation", ErrInvalidOperation)
	}
	if kind.IsPattern() {
		switch o.op {
		case OpEqual, OpNotEqual, OpChanged, OpUnchanged:
		default:
			return fmt.Errorf("%w: %s is not supported for patterns", ErrInvalidOperation, o.op)
		}
	}
	for i, operand := range []value.Value{o.a, o.b}[:o.op.operands()] {
		if !operand.IsValid() {
			return fmt.Errorf("%w: %s operand %d missing", ErrInvalidOperation, o.op, i)
		}
		if operand.Kind() != kind && !(operand.Kind().IsInteger() && kind.IsInteger()) {
			return fmt.Errorf("%w: %s operand is %s, expected %s", ErrInvalidOperation, o.op, operand.Kind(), kind)
		}
	}
	return nil
}

func (o Operation) String() string {
	switch o.op.operands() {
	case 0:
		return o.op.String()
	case 2:
		return fmt.Sprintf("%s %s %s", o.op, o.a, o.b)
	default:
		return fmt.Sprintf("%s %s", o.op, o.a)
	}
}
