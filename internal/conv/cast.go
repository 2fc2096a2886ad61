package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when a conversion or address computation does not
// fit the target type.
var ErrOverflow = errors.New("integer overflow")

// Uint64ToInt converts a region or chunk size to int.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d cannot be converted to int", ErrOverflow, v)
	}
	return int(v), nil
}

// IntToUint64 converts a non-negative int to uint64.
func IntToUint64(v int) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %d cannot be converted to uint64 (negative)", ErrOverflow, v)
	}
	return uint64(v), nil
}

// Offset returns addr - base as a signed offset.
func Offset(addr, base uint64) (int64, error) {
	if addr >= base {
		d := addr - base
		if d > math.MaxInt64 {
			return 0, fmt.Errorf("%w: offset %#x-%#x", ErrOverflow, addr, base)
		}
		return int64(d), nil
	}
	d := base - addr
	if d > uint64(math.MaxInt64)+1 {
		return 0, fmt.Errorf("%w: offset %#x-%#x", ErrOverflow, addr, base)
	}
	return -int64(d - 1) - 1, nil
}

// AddOffset returns base + off, failing when the result leaves the 64-bit
// address space.
func AddOffset(base uint64, off int64) (uint64, error) {
	if off >= 0 {
		r := base + uint64(off)
		if r < base {
			return 0, fmt.Errorf("%w: %#x%+d", ErrOverflow, base, off)
		}
		return r, nil
	}
	neg := uint64(-(off + 1)) + 1
	if neg > base {
		return 0, fmt.Errorf("%w: %#x%+d", ErrOverflow, base, off)
	}
	return base - neg, nil
}
