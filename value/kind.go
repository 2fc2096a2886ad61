package value

import (
	"fmt"
	"strings"
)

// Kind identifies the storage shape of a Value.
type Kind uint8

const (
	// KindInvalid is the zero Kind.
	KindInvalid Kind = iota
	// KindInt1 is a 1-byte integer.
	KindInt1
	// KindInt2 is a 2-byte integer.
	KindInt2
	// KindInt4 is a 4-byte integer.
	KindInt4
	// KindInt8 is an 8-byte integer.
	KindInt8
	// KindFloat is an IEEE-754 binary32 float.
	KindFloat
	// KindAddress is an unsigned 8-byte pointer-sized integer.
	KindAddress
	// KindOffset is a signed 4-byte displacement.
	KindOffset
	// KindPattern is a byte pattern with optional wildcards.
	KindPattern
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindInt1:    "int1",
	KindInt2:    "int2",
	KindInt4:    "int4",
	KindInt8:    "int8",
	KindFloat:   "float",
	KindAddress: "address",
	KindOffset:  "offset",
	KindPattern: "pattern",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind resolves a kind name (case-insensitive). Aliases such as "byte",
// "short", "int", "long", "aob" are accepted.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int1", "byte", "i8", "u8":
		return KindInt1, nil
	case "int2", "short", "i16", "u16":
		return KindInt2, nil
	case "int4", "int", "i32", "u32":
		return KindInt4, nil
	case "int8", "long", "i64", "u64":
		return KindInt8, nil
	case "float", "f32":
		return KindFloat, nil
	case "address", "addr", "ptr":
		return KindAddress, nil
	case "offset", "off":
		return KindOffset, nil
	case "pattern", "aob", "array":
		return KindPattern, nil
	}
	return KindInvalid, fmt.Errorf("%w: unknown kind %q", ErrInvalidValue, name)
}

// Size returns the fixed store size of k in bytes. Patterns have no fixed
// size and report 0.
func (k Kind) Size() int {
	switch k {
	case KindInt1:
		return 1
	case KindInt2:
		return 2
	case KindInt4, KindFloat, KindOffset:
		return 4
	case KindInt8, KindAddress:
		return 8
	default:
		return 0
	}
}

// IsInteger reports whether k is one of the integer kinds (including
// addresses and offsets).
func (k Kind) IsInteger() bool {
	switch k {
	case KindInt1, KindInt2, KindInt4, KindInt8, KindAddress, KindOffset:
		return true
	}
	return false
}

// IsFloat reports whether k is the float kind.
func (k Kind) IsFloat() bool { return k == KindFloat }

// IsPattern reports whether k is the pattern kind.
func (k Kind) IsPattern() bool { return k == KindPattern }

// Valid reports whether k is a known, non-zero kind.
func (k Kind) Valid() bool { return k > KindInvalid && k <= KindPattern }
