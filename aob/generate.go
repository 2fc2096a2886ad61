package aob

import (
	"context"
	"fmt"

	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/internal/conv"
	"github.com/hupe1980/memgo/value"
)

// Params tunes signature extraction from a diff.
type Params struct {
	// SplitRun splits a diff wherever at least this many consecutive bytes
	// differ.
	SplitRun int
	// MinLength drops fragments with fewer tokens.
	MinLength int
}

// DefaultParams returns SplitRun 5 and MinLength 5.
func DefaultParams() Params {
	return Params{SplitRun: 5, MinLength: 5}
}

func (p Params) normalize() Params {
	d := DefaultParams()
	if p.SplitRun <= 0 {
		p.SplitRun = d.SplitRun
	}
	if p.MinLength <= 0 {
		p.MinLength = d.MinLength
	}
	return p
}

// Diff compares two snapshots of the same bytes. Equal bytes become literal
// tokens, differing bytes become wildcards. The result covers the shorter
// input.
func Diff(old, new []byte) []value.Token {
	n := min(len(old), len(new))
	tokens := make([]value.Token, n)
	for i := range n {
		if old[i] == new[i] {
			tokens[i] = value.Lit(old[i])
		} else {
			tokens[i] = value.Any
		}
	}
	return tokens
}

// CreateFromArray turns a diff run into candidates. offset is the position
// of tokens[0] relative to the tracked address.
//
// Leading and trailing wildcards are stripped, the remainder is split on
// every run of at least SplitRun wildcards, fragments shorter than MinLength
// are dropped, and fragments equal to or contained in another are removed.
func CreateFromArray(tokens []value.Token, offset int64, params Params) []Candidate {
	params = params.normalize()

	var (
		out   []Candidate
		start = -1 // first token of the current fragment
		last  = -1 // last literal of the current fragment
		run   = 0  // wildcards since last
	)
	emit := func() {
		if start < 0 {
			return
		}
		frag := tokens[start : last+1]
		if len(frag) >= params.MinLength {
			if p, err := value.NewPattern(frag); err == nil {
				out = append(out, Candidate{Offset: offset + int64(start), Pattern: p})
			}
		}
		start, last = -1, -1
	}

	for i, t := range tokens {
		if t.Wild {
			run++
			if start >= 0 && run >= params.SplitRun {
				emit()
			}
			continue
		}
		if start < 0 {
			start = i
		}
		last, run = i, 0
	}
	emit()
	return Dedupe(out)
}

// Dedupe removes candidates whose tokens equal or are contained in another
// candidate's tokens. The first of two equal candidates is kept.
func Dedupe(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for i, c := range cands {
		drop := false
		for j, o := range cands {
			if i == j {
				continue
			}
			if o.Pattern.Equal(c.Pattern) {
				if j < i {
					drop = true
					break
				}
				continue
			}
			if o.Pattern.Contains(c.Pattern) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, c)
		}
	}
	return out
}

// Merge fuses overlapping or adjacent candidates whose literal tokens agree
// on the overlap. Where one side has a wildcard the fused token is a
// wildcard. Incompatible candidates are kept as they are.
func Merge(cands []Candidate) []Candidate {
	cands = append([]Candidate(nil), cands...)
	sortCandidates(cands)

	var out []Candidate
	for _, c := range cands {
		if n := len(out); n > 0 {
			if fused, ok := fuse(out[n-1], c); ok {
				out[n-1] = fused
				continue
			}
		}
		out = append(out, c)
	}
	return Dedupe(out)
}

func fuse(a, b Candidate) (Candidate, bool) {
	if b.Offset > a.End() {
		return Candidate{}, false
	}
	lo, hi := a.Offset, max(a.End(), b.End())
	tokens := make([]value.Token, hi-lo)
	filled := make([]bool, len(tokens))
	for _, c := range []Candidate{a, b} {
		for i := range c.Size() {
			at := c.Offset - lo + int64(i)
			t := c.Pattern.Token(i)
			if !filled[at] {
				tokens[at], filled[at] = t, true
				continue
			}
			prev := tokens[at]
			switch {
			case prev.Wild || t.Wild:
				tokens[at] = value.Any
			case prev.Byte != t.Byte:
				return Candidate{}, false
			}
		}
	}
	p, err := value.NewPattern(tokens)
	if err != nil {
		return Candidate{}, false
	}
	return Candidate{Offset: lo, Pattern: p}, true
}

// Widen returns c with every literal that disagrees with window turned into
// a wildcard, and the number of tokens widened. window holds the bytes at
// the candidate's position. ok is false when no literal would remain or the
// window is too short.
func Widen(c Candidate, window []byte) (Candidate, int, bool) {
	if len(window) < c.Size() {
		return c, 0, false
	}
	tokens := c.Pattern.Tokens()
	widened := 0
	for i, t := range tokens {
		if !t.Wild && window[i] != t.Byte {
			tokens[i] = value.Any
			widened++
		}
	}
	if widened == 0 {
		return c, 0, true
	}
	p, err := value.NewPattern(tokens)
	if err != nil {
		return c, widened, false
	}
	return Candidate{Offset: c.Offset, Pattern: p}, widened, true
}

// Window returns the capture window of a catalog relative to the set base:
// [Offset-Range, Offset+Length+Range).
func Window(h Header) (lo, hi uint64) {
	lo = h.Offset - min(h.Offset, h.Range)
	hi = h.Offset + uint64(max(h.Length, 1)) + h.Range
	return lo, hi
}

// Generate derives candidates from two snapshot sets of the same process
// taken at different times. Only the catalog window is diffed. On success
// the catalog's candidates are replaced and it leaves the initial state.
// Without any candidate ErrNoCandidates is returned and f is unchanged.
func Generate(ctx context.Context, f *File, old, new *capture.Set, params Params) (int, error) {
	h := f.Header()
	lo, hi := Window(h)

	var cands []Candidate
	for _, pair := range capture.Pairs(old, new) {
		e := pair.Old
		start, end := max(e.Offset, lo), min(e.Offset+e.Length, hi)
		if start >= end {
			continue
		}
		a, err := old.Read(ctx, pair.Old)
		if err != nil {
			return 0, err
		}
		b, err := new.Read(ctx, pair.New)
		if err != nil {
			return 0, err
		}
		from, to := start-e.Offset, end-e.Offset
		tokens := Diff(a[from:to], b[from:to])
		rel, err := conv.Offset(start, h.Offset)
		if err != nil {
			return 0, err
		}
		cands = append(cands, CreateFromArray(tokens, rel, params)...)
	}
	cands = Dedupe(cands)
	if len(cands) == 0 {
		return 0, fmt.Errorf("%w: %s: no stable bytes around %#x", ErrNoCandidates, h.Name, h.Offset)
	}

	err := f.Update(func(h *Header, _ []Candidate) ([]Candidate, error) {
		h.Initial, h.Final, h.Valid = false, false, true
		if h.Process == "" {
			h.Process = new.Manifest().Process
		}
		return cands, nil
	})
	return len(cands), err
}

// WidenFromSet widens every candidate against a fresh snapshot in which the
// tracked address is still at the catalog offset. Candidates that would lose
// all literals or fall outside the set are dropped. It returns the number of
// tokens widened.
func WidenFromSet(ctx context.Context, f *File, set *capture.Set) (int, error) {
	h := f.Header()
	total := 0
	var next []Candidate
	for _, c := range f.Candidates() {
		addr, err := conv.AddOffset(set.Base()+h.Offset, c.Offset)
		if err != nil || addr < set.Base() {
			continue
		}
		e, ok := set.Find(addr)
		if !ok || addr+uint64(c.Size()) > e.Address(set.Base())+e.Length {
			continue
		}
		data, err := set.Read(ctx, e)
		if err != nil {
			return 0, err
		}
		from := addr - e.Address(set.Base())
		w, n, ok := Widen(c, data[from:from+uint64(c.Size())])
		if !ok {
			continue
		}
		total += n
		next = append(next, w)
	}
	next = Dedupe(next)
	if len(next) == 0 {
		return 0, fmt.Errorf("%w: %s: nothing left after widening", ErrNoCandidates, h.Name)
	}
	return total, f.Update(func(_ *Header, _ []Candidate) ([]Candidate, error) {
		return next, nil
	})
}
