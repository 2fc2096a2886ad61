// Package conv provides checked integer conversions and address arithmetic.
//
// Foreign addresses are uint64 while AOB offsets are signed, and region sizes
// must be turned into Go buffer lengths; these helpers fail with ErrOverflow
// instead of silently wrapping.
package conv
