package value

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidValue is returned for malformed search text or patterns.
var ErrInvalidValue = errors.New("invalid value")

// Value is an immutable search target.
//
// The zero Value is invalid. Values are passed by value; copies share the
// underlying byte slice, which is never mutated after construction.
type Value struct {
	kind    Kind
	signed  bool
	raw     []byte
	pattern *Pattern
}

// Parse converts text into a Value of the requested kind.
func Parse(text string, kind Kind) (Value, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Value{}, fmt.Errorf("%w: empty text", ErrInvalidValue)
	}

	switch {
	case kind.IsInteger():
		return parseInteger(s, kind)
	case kind.IsFloat():
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float: %w", ErrInvalidValue, s, err)
		}
		return FromFloat(float32(f)), nil
	case kind.IsPattern():
		p, err := ParsePattern(s)
		if err != nil {
			return Value{}, err
		}
		return FromPattern(p), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported kind %s", ErrInvalidValue, kind)
	}
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(text string, kind Kind) Value {
	v, err := Parse(text, kind)
	if err != nil {
		panic(err)
	}
	return v
}

func parseInteger(s string, kind Kind) (Value, error) {
	var u uint64
	signed := kind == KindOffset

	if strings.HasPrefix(s, "-") {
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer: %w", ErrInvalidValue, s, err)
		}
		u = uint64(i)
		signed = true
	} else {
		var err error
		u, err = strconv.ParseUint(strings.TrimPrefix(s, "+"), 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an integer: %w", ErrInvalidValue, s, err)
		}
	}

	v := FromUint(kind, u)
	v.signed = signed
	return v, nil
}

// FromUint builds an integer Value of the given kind, truncating u to the
// kind's width.
func FromUint(kind Kind, u uint64) Value {
	size := kind.Size()
	if !kind.IsInteger() || size == 0 {
		return Value{}
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], u)
	raw := make([]byte, size)
	copy(raw, buf[:size])
	return Value{kind: kind, raw: raw, signed: kind == KindOffset}
}

// FromInt builds a signed integer Value of the given kind.
func FromInt(kind Kind, i int64) Value {
	v := FromUint(kind, uint64(i))
	v.signed = true
	return v
}

// FromFloat builds a float Value.
func FromFloat(f float32) Value {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(f))
	return Value{kind: KindFloat, raw: raw, signed: true}
}

// FromPattern wraps a Pattern as a Value.
func FromPattern(p *Pattern) Value {
	if p == nil {
		return Value{}
	}
	return Value{kind: KindPattern, raw: p.Bytes(), pattern: p}
}

// FromBytes decodes raw little-endian bytes into a Value. It is the exact
// inverse of Bytes for non-pattern kinds. For KindPattern every byte becomes a
// literal token.
func FromBytes(kind Kind, raw []byte) (Value, error) {
	if kind.IsPattern() {
		if len(raw) == 0 {
			return Value{}, fmt.Errorf("%w: empty pattern", ErrInvalidValue)
		}
		return FromPattern(Literal(raw)), nil
	}
	size := kind.Size()
	if size == 0 {
		return Value{}, fmt.Errorf("%w: unsupported kind %s", ErrInvalidValue, kind)
	}
	if len(raw) != size {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidValue, kind, size, len(raw))
	}
	cp := make([]byte, size)
	copy(cp, raw)
	return Value{kind: kind, raw: cp, signed: kind == KindOffset || kind == KindFloat}, nil
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Size returns the store size in bytes.
func (v Value) Size() int { return len(v.raw) }

// IsValid reports whether v was successfully constructed.
func (v Value) IsValid() bool { return v.kind.Valid() && len(v.raw) > 0 }

// Signed reports whether integer reads are interpreted as signed.
func (v Value) Signed() bool { return v.signed }

// WithSigned returns a copy of v re-interpreted with the given signedness.
// The stored bytes are unchanged.
func (v Value) WithSigned(signed bool) Value {
	if v.kind.IsInteger() {
		v.signed = signed
	}
	return v
}

// Bytes returns a copy of the little-endian encoding.
func (v Value) Bytes() []byte {
	cp := make([]byte, len(v.raw))
	copy(cp, v.raw)
	return cp
}

// Pattern returns the pattern for KindPattern values, nil otherwise.
func (v Value) Pattern() *Pattern { return v.pattern }

// Uint returns the zero-extended integer value.
func (v Value) Uint() uint64 {
	var buf [8]byte
	copy(buf[:], v.raw)
	return binary.LittleEndian.Uint64(buf[:])
}

// Int returns the sign-extended integer value. Unsigned values are returned
// zero-extended.
func (v Value) Int() int64 {
	u := v.Uint()
	if !v.signed || len(v.raw) == 0 || len(v.raw) >= 8 {
		return int64(u)
	}
	shift := uint(64 - 8*len(v.raw))
	return int64(u<<shift) >> shift
}

// Float returns the float value for KindFloat.
func (v Value) Float() float32 {
	if len(v.raw) < 4 {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(v.raw))
}

// Equal reports whether two values have the same kind and encoding.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind.IsPattern() {
		return v.pattern.Equal(o.pattern)
	}
	return bytes.Equal(v.raw, o.raw)
}

func (v Value) String() string {
	switch {
	case v.kind.IsInteger():
		if v.kind == KindAddress {
			return fmt.Sprintf("%#x", v.Uint())
		}
		if v.signed {
			return strconv.FormatInt(v.Int(), 10)
		}
		return strconv.FormatUint(v.Uint(), 10)
	case v.kind.IsFloat():
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case v.kind.IsPattern():
		return v.pattern.String()
	default:
		return "<invalid>"
	}
}
