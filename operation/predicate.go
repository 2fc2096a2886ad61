package operation

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/memgo/value"
)

// Predicate evaluates one slot. cur is the current read; prev is the earlier
// read of the same address (nil for value operations). Both slices are at
// least as long as the compiled shape.
type Predicate func(cur, prev []byte) bool

// Shape describes how raw slot bytes are interpreted during a round.
type Shape struct {
	Kind    value.Kind
	Size    int
	Signed  bool
	Pattern *value.Pattern
}

// ShapeOf derives the shape from a value.
func ShapeOf(v value.Value) Shape {
	return Shape{Kind: v.Kind(), Size: v.Size(), Signed: v.Signed(), Pattern: v.Pattern()}
}

// Compile specialises o for the given shape.
func (o Operation) Compile(s Shape) (Predicate, error) {
	if err := o.Validate(s.Kind); err != nil {
		return nil, err
	}

	switch {
	case s.Kind.IsInteger():
		switch s.Kind.Size() {
		case 1:
			if s.Signed {
				return compileInt(o, func(b []byte) int8 { return int8(b[0]) }), nil
			}
			return compileInt(o, func(b []byte) uint8 { return b[0] }), nil
		case 2:
			if s.Signed {
				return compileInt(o, func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }), nil
			}
			return compileInt(o, binary.LittleEndian.Uint16), nil
		case 4:
			if s.Signed {
				return compileInt(o, func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) }), nil
			}
			return compileInt(o, binary.LittleEndian.Uint32), nil
		case 8:
			if s.Signed {
				return compileInt(o, func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }), nil
			}
			return compileInt(o, binary.LittleEndian.Uint64), nil
		}
	case s.Kind.IsFloat():
		return compileFloat(o), nil
	case s.Kind.IsPattern():
		return compilePattern(o, s)
	}
	return nil, fmt.Errorf("%w: unsupported shape %s", ErrInvalidOperation, s.Kind)
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func compileInt[T integer](o Operation, load func([]byte) T) Predicate {
	a := T(o.a.Uint())
	b := T(o.b.Uint())

	switch o.op {
	case OpEqual:
		return func(cur, _ []byte) bool { return load(cur) == a }
	case OpNotEqual:
		return func(cur, _ []byte) bool { return load(cur) != a }
	case OpLess:
		return func(cur, _ []byte) bool { return load(cur) < a }
	case OpGreater:
		return func(cur, _ []byte) bool { return load(cur) > a }
	case OpBetween:
		lo, hi := a, b
		if lo > hi {
			lo, hi = hi, lo
		}
		return func(cur, _ []byte) bool {
			v := load(cur)
			return v >= lo && v <= hi
		}
	case OpIncreased:
		return func(cur, prev []byte) bool { return load(cur) > load(prev) }
	case OpDecreased:
		return func(cur, prev []byte) bool { return load(cur) < load(prev) }
	case OpChanged:
		return func(cur, prev []byte) bool { return load(cur) != load(prev) }
	case OpUnchanged:
		return func(cur, prev []byte) bool { return load(cur) == load(prev) }
	case OpChangedBy:
		return func(cur, prev []byte) bool { return load(cur)-load(prev) == a }
	}
	return func([]byte, []byte) bool { return false }
}

func loadFloat(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

func compileFloat(o Operation) Predicate {
	a := float64(o.a.Float())
	b := float64(o.b.Float())

	switch o.op {
	case OpEqual:
		return func(cur, _ []byte) bool { return math.Abs(loadFloat(cur)-a) <= Tolerance }
	case OpNotEqual:
		return func(cur, _ []byte) bool { return math.Abs(loadFloat(cur)-a) > Tolerance }
	case OpLess:
		return func(cur, _ []byte) bool { return a-loadFloat(cur) > Tolerance }
	case OpGreater:
		return func(cur, _ []byte) bool { return loadFloat(cur)-a > Tolerance }
	case OpBetween:
		lo, hi := a, b
		if lo > hi {
			lo, hi = hi, lo
		}
		return func(cur, _ []byte) bool {
			v := loadFloat(cur)
			return v-lo >= -Tolerance && hi-v >= -Tolerance
		}
	case OpIncreased:
		return func(cur, prev []byte) bool { return loadFloat(cur)-loadFloat(prev) > Tolerance }
	case OpDecreased:
		return func(cur, prev []byte) bool { return loadFloat(prev)-loadFloat(cur) > Tolerance }
	case OpChanged:
		return func(cur, prev []byte) bool { return math.Abs(loadFloat(cur)-loadFloat(prev)) > Tolerance }
	case OpUnchanged:
		return func(cur, prev []byte) bool { return math.Abs(loadFloat(cur)-loadFloat(prev)) <= Tolerance }
	case OpChangedBy:
		return func(cur, prev []byte) bool {
			return math.Abs(loadFloat(cur)-loadFloat(prev)-a) <= Tolerance
		}
	}
	return func([]byte, []byte) bool { return false }
}

func compilePattern(o Operation, s Shape) (Predicate, error) {
	switch o.op {
	case OpEqual, OpNotEqual:
		p := o.a.Pattern()
		if p == nil {
			return nil, fmt.Errorf("%w: %s needs a pattern operand", ErrInvalidOperation, o.op)
		}
		if o.op == OpEqual {
			return func(cur, _ []byte) bool { return p.Match(cur) }, nil
		}
		return func(cur, _ []byte) bool { return !p.Match(cur) }, nil
	case OpChanged, OpUnchanged:
		n := s.Size
		if s.Pattern != nil {
			n = s.Pattern.Len()
		}
		if n <= 0 {
			return nil, fmt.Errorf("%w: pattern shape has no length", ErrInvalidOperation)
		}
		same := func(cur, prev []byte) bool {
			if s.Pattern == nil {
				return bytes.Equal(cur[:n], prev[:n])
			}
			for i := 0; i < n; i++ {
				if !s.Pattern.Token(i).Wild && cur[i] != prev[i] {
					return false
				}
			}
			return true
		}
		if o.op == OpUnchanged {
			return same, nil
		}
		return func(cur, prev []byte) bool { return !same(cur, prev) }, nil
	}
	return nil, fmt.Errorf("%w: %s is not supported for patterns", ErrInvalidOperation, o.op)
}
