// Package buffer implements the per-region search buffers.
//
// A SearchBuffer wraps one captured contiguous byte range of foreign memory
// together with the read shape of the round. The concrete implementation
// (integer, float or pattern) is selected once by New; scans never dispatch on
// kind per element.
//
// Hits are reported through an Emitter, which batches them, checks for
// cancellation at a bounded cadence and reports progress on a wall-clock
// interval.
package buffer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/value"
)

// ErrBufferMismatch is returned when two buffers of different concrete kinds
// are compared. It indicates a programming error.
var ErrBufferMismatch = errors.New("buffer kind mismatch")

// SearchBuffer is one captured byte range with a read shape.
type SearchBuffer interface {
	// Base returns the address of the first byte.
	Base() uint64
	// Len returns the number of captured bytes.
	Len() int
	// Bytes returns the captured bytes. Callers must not modify them.
	Bytes() []byte
	// Shape returns the read shape.
	Shape() operation.Shape

	// FindFirst returns the address of the first occurrence of v.
	FindFirst(v value.Value) (uint64, bool)
	// FindValue emits every occurrence of v.
	FindValue(e *Emitter, v value.Value) error
	// FindByPredicate emits every slot matching a compiled value predicate.
	FindByPredicate(e *Emitter, pred operation.Predicate) error
	// CompareByPredicate evaluates a compiled memory predicate slot-wise with
	// this buffer as the current read and other as the previous read. Both
	// buffers must be the same concrete kind; the shorter length is walked.
	CompareByPredicate(e *Emitter, other SearchBuffer, pred operation.Predicate) error
}

// New returns the buffer implementation for shape.
func New(base uint64, data []byte, shape operation.Shape) (SearchBuffer, error) {
	switch {
	case shape.Kind.IsInteger():
		return &intBuffer{region{base: base, data: data, shape: shape, width: shape.Kind.Size()}}, nil
	case shape.Kind.IsFloat():
		return &floatBuffer{region{base: base, data: data, shape: shape, width: 4}}, nil
	case shape.Kind.IsPattern():
		if shape.Pattern == nil {
			return nil, fmt.Errorf("%w: pattern shape without pattern", value.ErrInvalidValue)
		}
		return &patternBuffer{region{base: base, data: data, shape: shape, width: shape.Pattern.Len()}}, nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %s", value.ErrInvalidValue, shape.Kind)
}

// FindByOperation compiles op for the buffer's shape and emits matching slots.
func FindByOperation(b SearchBuffer, e *Emitter, op operation.Operation) error {
	pred, err := op.Compile(b.Shape())
	if err != nil {
		return err
	}
	return b.FindByPredicate(e, pred)
}

// CompareByOperation compiles op for cur's shape and compares cur against prev.
func CompareByOperation(cur, prev SearchBuffer, e *Emitter, op operation.Operation) error {
	pred, err := op.Compile(cur.Shape())
	if err != nil {
		return err
	}
	return cur.CompareByPredicate(e, prev, pred)
}

type region struct {
	base  uint64
	data  []byte
	shape operation.Shape
	width int
}

func (r *region) Base() uint64           { return r.base }
func (r *region) Len() int               { return len(r.data) }
func (r *region) Bytes() []byte          { return r.data }
func (r *region) Shape() operation.Shape { return r.shape }

// slots walks width-aligned slots and emits those accepted by pred.
func (r *region) slots(e *Emitter, pred operation.Predicate) error {
	w := r.width
	for off := 0; off+w <= len(r.data); off += w {
		if pred(r.data[off:off+w], nil) {
			if err := e.Emit(r.base+uint64(off), r.data[off:off+w]); err != nil {
				return err
			}
		}
		if err := e.Advance(off, 1); err != nil {
			return err
		}
	}
	return nil
}

// pairs walks width-aligned slots of two equally shaped buffers.
func (r *region) pairs(e *Emitter, prev []byte, pred operation.Predicate) error {
	w := r.width
	n := min(len(r.data), len(prev))
	for off := 0; off+w <= n; off += w {
		if pred(r.data[off:off+w], prev[off:off+w]) {
			if err := e.Emit(r.base+uint64(off), r.data[off:off+w]); err != nil {
				return err
			}
		}
		if err := e.Advance(off, 1); err != nil {
			return err
		}
	}
	return nil
}

type intBuffer struct{ region }

func (b *intBuffer) needle(v value.Value) ([]byte, error) {
	if !v.Kind().IsInteger() {
		return nil, fmt.Errorf("%w: %s value on integer buffer", value.ErrInvalidValue, v.Kind())
	}
	raw := v.Bytes()
	if len(raw) != b.width {
		return nil, fmt.Errorf("%w: value width %d, buffer width %d", value.ErrInvalidValue, len(raw), b.width)
	}
	return raw, nil
}

func (b *intBuffer) FindFirst(v value.Value) (uint64, bool) {
	needle, err := b.needle(v)
	if err != nil {
		return 0, false
	}
	if i := bytes.Index(b.data, needle); i >= 0 {
		return b.base + uint64(i), true
	}
	return 0, false
}

// FindValue reports every byte offset holding the exact little-endian
// encoding of v, aligned or not.
func (b *intBuffer) FindValue(e *Emitter, v value.Value) error {
	needle, err := b.needle(v)
	if err != nil {
		return err
	}
	pos := 0
	for pos+b.width <= len(b.data) {
		i := bytes.Index(b.data[pos:], needle)
		if i < 0 {
			break
		}
		at := pos + i
		if err := e.Emit(b.base+uint64(at), b.data[at:at+b.width]); err != nil {
			return err
		}
		if err := e.Advance(at, i+1); err != nil {
			return err
		}
		pos = at + 1
	}
	return e.Advance(len(b.data), len(b.data)-pos)
}

func (b *intBuffer) FindByPredicate(e *Emitter, pred operation.Predicate) error {
	return b.slots(e, pred)
}

func (b *intBuffer) CompareByPredicate(e *Emitter, other SearchBuffer, pred operation.Predicate) error {
	o, ok := other.(*intBuffer)
	if !ok || o.width != b.width {
		return fmt.Errorf("%w: %T(%d) vs %T", ErrBufferMismatch, b, b.width, other)
	}
	return b.pairs(e, o.data, pred)
}

type floatBuffer struct{ region }

func (b *floatBuffer) target(v value.Value) (uint32, float64, error) {
	if !v.Kind().IsFloat() {
		return 0, 0, fmt.Errorf("%w: %s value on float buffer", value.ErrInvalidValue, v.Kind())
	}
	raw := v.Bytes()
	return binary.LittleEndian.Uint32(raw), float64(v.Float()), nil
}

func floatMatch(slot []byte, bits uint32, f float64) bool {
	got := binary.LittleEndian.Uint32(slot)
	if got == bits {
		return true
	}
	return math.Abs(float64(math.Float32frombits(got))-f) <= operation.Tolerance
}

func (b *floatBuffer) FindFirst(v value.Value) (uint64, bool) {
	bits, f, err := b.target(v)
	if err != nil {
		return 0, false
	}
	for off := 0; off+4 <= len(b.data); off += 4 {
		if floatMatch(b.data[off:off+4], bits, f) {
			return b.base + uint64(off), true
		}
	}
	return 0, false
}

// FindValue walks 4-byte slots comparing with the float tolerance. A byte
// substring search is not used since equal floats can differ in encoding.
func (b *floatBuffer) FindValue(e *Emitter, v value.Value) error {
	bits, f, err := b.target(v)
	if err != nil {
		return err
	}
	return b.slots(e, func(cur, _ []byte) bool { return floatMatch(cur, bits, f) })
}

func (b *floatBuffer) FindByPredicate(e *Emitter, pred operation.Predicate) error {
	return b.slots(e, pred)
}

func (b *floatBuffer) CompareByPredicate(e *Emitter, other SearchBuffer, pred operation.Predicate) error {
	o, ok := other.(*floatBuffer)
	if !ok {
		return fmt.Errorf("%w: %T vs %T", ErrBufferMismatch, b, other)
	}
	return b.pairs(e, o.data, pred)
}

type patternBuffer struct{ region }

func (b *patternBuffer) pattern(v value.Value) (*value.Pattern, error) {
	if p := v.Pattern(); p != nil {
		return p, nil
	}
	if v.IsValid() {
		return value.Literal(v.Bytes()), nil
	}
	return nil, fmt.Errorf("%w: empty pattern", value.ErrInvalidValue)
}

// anchors calls fn with the window start of every anchor byte occurrence
// whose full window lies inside data.
func anchors(e *Emitter, data []byte, p *value.Pattern, fn func(start int) error) error {
	anchor, ab, n := p.Anchor(), p.AnchorByte(), p.Len()
	pos, last := 0, 0
	for pos < len(data) {
		i := bytes.IndexByte(data[pos:], ab)
		if i < 0 {
			break
		}
		at := pos + i
		start := at - anchor
		if start >= 0 && start+n <= len(data) {
			if err := fn(start); err != nil {
				return err
			}
		}
		if err := e.Advance(at, at-last+1); err != nil {
			return err
		}
		last = at
		pos = at + 1
	}
	return e.Advance(len(data), len(data)-last)
}

func (b *patternBuffer) FindFirst(v value.Value) (uint64, bool) {
	p, err := b.pattern(v)
	if err != nil {
		return 0, false
	}
	anchor, ab, n := p.Anchor(), p.AnchorByte(), p.Len()
	for pos := 0; pos < len(b.data); {
		i := bytes.IndexByte(b.data[pos:], ab)
		if i < 0 {
			break
		}
		at := pos + i
		if start := at - anchor; start >= 0 && start+n <= len(b.data) && p.Match(b.data[start:]) {
			return b.base + uint64(start), true
		}
		pos = at + 1
	}
	return 0, false
}

// FindValue seeds on the anchor byte and verifies the full token window.
// Windows running off either edge of the buffer are rejected.
func (b *patternBuffer) FindValue(e *Emitter, v value.Value) error {
	p, err := b.pattern(v)
	if err != nil {
		return err
	}
	n := p.Len()
	return anchors(e, b.data, p, func(start int) error {
		if !p.Match(b.data[start:]) {
			return nil
		}
		return e.Emit(b.base+uint64(start), b.data[start:start+n])
	})
}

func (b *patternBuffer) FindByPredicate(e *Emitter, pred operation.Predicate) error {
	p := b.shape.Pattern
	n := p.Len()
	return anchors(e, b.data, p, func(start int) error {
		if !pred(b.data[start:start+n], nil) {
			return nil
		}
		return e.Emit(b.base+uint64(start), b.data[start:start+n])
	})
}

func (b *patternBuffer) CompareByPredicate(e *Emitter, other SearchBuffer, pred operation.Predicate) error {
	o, ok := other.(*patternBuffer)
	if !ok {
		return fmt.Errorf("%w: %T vs %T", ErrBufferMismatch, b, other)
	}
	p := b.shape.Pattern
	n := p.Len()
	limit := min(len(b.data), len(o.data))
	return anchors(e, b.data[:limit], p, func(start int) error {
		if !pred(b.data[start:start+n], o.data[start:start+n]) {
			return nil
		}
		return e.Emit(b.base+uint64(start), b.data[start:start+n])
	})
}
