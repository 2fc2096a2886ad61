// Package value implements the typed search targets used by memgo.
//
// A [Value] is an immutable descriptor: its [Kind], signedness (integers only),
// raw little-endian bytes and a fixed store size. Pattern values additionally
// carry a [Pattern], an ordered list of literal or wildcard tokens with a cached
// anchor byte used to seed substring search.
//
// # Parsing
//
//	v, err := value.Parse("0x2a", value.KindInt4)   // 2a 00 00 00, unsigned
//	v, err := value.Parse("-1", value.KindInt2)     // ff ff, signed
//	v, err := value.Parse("1.5", value.KindFloat)   // IEEE-754 binary32
//	v, err := value.Parse("48 8b ?? 05", value.KindPattern)
//
// Integer text is truncated to the requested width with two's-complement
// wraparound, so "300" parsed as [KindInt1] yields 0x2c.
//
// Malformed text always fails with [ErrInvalidValue] before any memory is
// touched.
package value
