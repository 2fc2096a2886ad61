package aob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/memgo/internal/resource"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/value"
)

const (
	// DefaultInterval is the pause between walker refreshes.
	DefaultInterval = 5 * time.Second
	// DefaultChunkSize is the read size of one walker pass.
	DefaultChunkSize = 4 << 20
)

// WalkerOptions configures a Walker.
type WalkerOptions struct {
	// MaxHits prunes candidates matching more addresses. Zero keeps them.
	MaxHits int
	// Interval is the pause between refreshes in Run.
	Interval time.Duration
	// Expected, when valid, rejects hits whose tracked address does not
	// currently hold this value.
	Expected   value.Value
	Filter     process.Filter
	ChunkSize  int
	Controller *resource.Controller
	Logger     *slog.Logger
	// OnRefresh is called after every refresh in Run.
	OnRefresh func(Result)
}

// WalkerOption configures WalkerOptions.
type WalkerOption func(*WalkerOptions)

// WithMaxHits prunes ambiguous candidates with more than n hits.
func WithMaxHits(n int) WalkerOption {
	return func(o *WalkerOptions) { o.MaxHits = n }
}

// WithInterval sets the refresh interval of Run.
func WithInterval(d time.Duration) WalkerOption {
	return func(o *WalkerOptions) {
		if d > 0 {
			o.Interval = d
		}
	}
}

// WithExpected keeps only hits whose tracked address holds v.
func WithExpected(v value.Value) WalkerOption {
	return func(o *WalkerOptions) { o.Expected = v }
}

// WithRegionFilter restricts the regions walked.
func WithRegionFilter(f process.Filter) WalkerOption {
	return func(o *WalkerOptions) { o.Filter = f }
}

// WithChunkSize caps the bytes read at once.
func WithChunkSize(n int) WalkerOption {
	return func(o *WalkerOptions) {
		if n > 0 {
			o.ChunkSize = n
		}
	}
}

// WithController bounds walker memory and read bandwidth.
func WithController(c *resource.Controller) WalkerOption {
	return func(o *WalkerOptions) { o.Controller = c }
}

// WithLogger sets the walker logger.
func WithLogger(l *slog.Logger) WalkerOption {
	return func(o *WalkerOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithOnRefresh registers a callback for Run.
func WithOnRefresh(fn func(Result)) WalkerOption {
	return func(o *WalkerOptions) { o.OnRefresh = fn }
}

// Result summarizes one walker refresh.
type Result struct {
	// Candidates is the number of candidates left after pruning.
	Candidates int
	// Pruned is the number of candidates removed by this refresh.
	Pruned int
	// Addresses maps tracked addresses to the number of candidates locating
	// them. Each candidate contributes at most MaxTracked addresses.
	Addresses map[uint64]int
	// Address is the agreed tracked address when Final is set.
	Address uint64
	Final   bool
	Scanned int64
	Skipped int
}

// Walker validates a catalog against live memory. A catalog is owned by one
// walker at a time.
type Walker struct {
	file   *File
	opener process.Opener
	opts   WalkerOptions
	log    *slog.Logger
}

// NewWalker creates a walker for f.
func NewWalker(f *File, opener process.Opener, optFns ...WalkerOption) *Walker {
	opts := WalkerOptions{
		Interval:  DefaultInterval,
		ChunkSize: DefaultChunkSize,
		Logger:    slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Walker{file: f, opener: opener, opts: opts, log: opts.Logger}
}

// Run refreshes until the catalog becomes final, ctx is done or a refresh
// fails. ErrNoCandidates ends the loop; the catalog is kept for a retry.
func (w *Walker) Run(ctx context.Context) (Result, error) {
	t := time.NewTicker(w.opts.Interval)
	defer t.Stop()
	for {
		res, err := w.Refresh(ctx)
		if err != nil {
			return res, err
		}
		if fn := w.opts.OnRefresh; fn != nil {
			fn(res)
		}
		if res.Final {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-t.C:
		}
	}
}

// table groups candidates by anchor byte.
type table struct {
	byAnchor [256][]int
	anchors  []byte
	maxLen   int
}

func newTable(cands []Candidate) *table {
	t := &table{}
	for i, c := range cands {
		b := c.Pattern.AnchorByte()
		if len(t.byAnchor[b]) == 0 {
			t.anchors = append(t.anchors, b)
		}
		t.byAnchor[b] = append(t.byAnchor[b], i)
		t.maxLen = max(t.maxLen, c.Size())
	}
	return t
}

// MaxTracked bounds the tracked addresses recorded per candidate in one
// refresh. Hits past it are still counted.
const MaxTracked = 16

// hitSet tallies the tracked addresses one candidate locates.
type hitSet struct {
	count int
	addrs []uint64
}

func (h *hitSet) add(addr uint64) {
	h.count++
	if len(h.addrs) < MaxTracked {
		h.addrs = append(h.addrs, addr)
	}
}

// acceptFunc decides whether a tracked address found in buf (read at base)
// is kept.
type acceptFunc func(addr uint64, buf []byte, base uint64) (bool, error)

// Refresh scans memory once, verifies every candidate and prunes those that
// match nothing, those over MaxHits and those whose hits fail the expected
// value filter. When all survivors locate exactly one and the same address
// the catalog becomes final and its offset is re-based on the current
// process.
func (w *Walker) Refresh(ctx context.Context) (Result, error) {
	cands := w.file.Candidates()
	if len(cands) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNoCandidates, w.file.Header().Name)
	}

	p, err := w.opener.Open(ctx)
	if err != nil {
		return Result{}, err
	}
	defer p.Close()

	mapped, err := p.Regions(ctx, process.Filter{})
	if err != nil {
		return Result{}, err
	}
	regions := w.opts.Filter.Apply(mapped)

	sets := make([]hitSet, len(cands))
	res := Result{}
	if err := w.scan(ctx, p, regions, cands, sets, &res); err != nil {
		return res, err
	}

	var keep []Candidate
	res.Addresses = make(map[uint64]int)
	single := true
	for i, c := range cands {
		h := sets[i]
		if h.count == 0 || (w.opts.MaxHits > 0 && h.count > w.opts.MaxHits) {
			w.log.Debug("candidate pruned", "offset", c.Offset, "pattern", c.Pattern.String(), "hits", h.count)
			continue
		}
		keep = append(keep, c)
		single = single && h.count == 1
		for _, addr := range h.addrs {
			res.Addresses[addr]++
		}
	}
	res.Pruned = len(cands) - len(keep)
	res.Candidates = len(keep)
	if len(keep) == 0 {
		res.Candidates, res.Pruned = len(cands), 0
		w.updateValid(false)
		return res, fmt.Errorf("%w: %s: every candidate failed", ErrNoCandidates, w.file.Header().Name)
	}

	if single && len(res.Addresses) == 1 {
		for addr := range res.Addresses {
			res.Address, res.Final = addr, true
		}
	}

	base := process.Lowest(mapped)
	err = w.file.Update(func(h *Header, _ []Candidate) ([]Candidate, error) {
		h.Valid = true
		h.Final = res.Final
		if res.Final && res.Address >= base {
			h.Offset = res.Address - base
		}
		return keep, nil
	})
	return res, err
}

func (w *Walker) updateValid(valid bool) {
	_ = w.file.Update(func(h *Header, cands []Candidate) ([]Candidate, error) {
		h.Valid = valid
		return cands, nil
	})
}

// scan makes one pass over regions and tallies for each candidate the
// tracked addresses it locates.
func (w *Walker) scan(ctx context.Context, p process.Process, regions []process.Region, cands []Candidate, sets []hitSet, res *Result) error {
	t := newTable(cands)
	chunk := uint64(max(w.opts.ChunkSize, t.maxLen))
	overlap := uint64(t.maxLen - 1)
	ctrl := w.opts.Controller
	accept := w.expected(p)

	for _, r := range regions {
		for off := r.Start; off < r.End; {
			if err := ctx.Err(); err != nil {
				return err
			}
			stop := min(off+chunk, r.End)
			readEnd := min(stop+overlap, r.End)
			n := int(readEnd - off)

			if err := ctrl.AcquireMemory(ctx, int64(n)); err != nil {
				return err
			}
			if err := ctrl.AcquireRead(ctx, n); err != nil {
				ctrl.ReleaseMemory(int64(n))
				return err
			}
			buf := make([]byte, n)
			_, rerr := p.ReadAt(buf, off)
			var merr error
			if rerr == nil {
				merr = t.match(buf, off, stop, cands, sets, w.opts.MaxHits, accept)
			}
			ctrl.ReleaseMemory(int64(n))
			if merr != nil {
				return merr
			}

			if rerr != nil {
				if err := p.Check(); err != nil {
					return fmt.Errorf("%w: walk %s: %v", process.ErrProcessLost, r, rerr)
				}
				res.Scanned += int64(r.End - off)
				res.Skipped++
				w.log.Debug("region skipped", "region", r.String(), "error", rerr)
				break
			}
			res.Scanned += int64(stop - off)
			off = stop
		}
	}
	return nil
}

// match verifies every candidate seeded by an anchor byte in buf. Only
// windows starting before stop are owned by this chunk. Candidates already
// over maxHits are not verified again.
func (t *table) match(buf []byte, base, stop uint64, cands []Candidate, sets []hitSet, maxHits int, accept acceptFunc) error {
	owned := int(stop - base)
	for _, ab := range t.anchors {
		for pos := 0; pos < len(buf); {
			i := bytes.IndexByte(buf[pos:], ab)
			if i < 0 {
				break
			}
			at := pos + i
			pos = at + 1
			for _, ci := range t.byAnchor[ab] {
				c := cands[ci]
				start := at - c.Pattern.Anchor()
				if start < 0 || start >= owned || start+c.Size() > len(buf) {
					continue
				}
				if maxHits > 0 && sets[ci].count > maxHits {
					continue
				}
				if !c.Pattern.Match(buf[start:]) {
					continue
				}
				addr := uint64(int64(base+uint64(start)) - c.Offset)
				if accept != nil {
					ok, err := accept(addr, buf, base)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
				}
				sets[ci].add(addr)
			}
		}
	}
	return nil
}

// expected returns the filter for WithExpected, or nil without one. The
// tracked value is taken from buf when it lies inside and read from p
// otherwise.
func (w *Walker) expected(p process.Process) acceptFunc {
	if !w.opts.Expected.IsValid() {
		return nil
	}
	want := w.opts.Expected.Bytes()
	size := uint64(len(want))
	cur := make([]byte, len(want))
	return func(addr uint64, buf []byte, base uint64) (bool, error) {
		if addr >= base && addr-base+size <= uint64(len(buf)) {
			off := addr - base
			return bytes.Equal(buf[off:off+size], want), nil
		}
		if _, err := p.ReadAt(cur, addr); err != nil {
			if cerr := p.Check(); cerr != nil {
				return false, fmt.Errorf("%w: %v", process.ErrProcessLost, err)
			}
			return false, nil
		}
		return bytes.Equal(cur, want), nil
	}
}

// Locate returns the agreed address of a final catalog without pruning.
func Locate(ctx context.Context, f *File, opener process.Opener, optFns ...WalkerOption) (uint64, error) {
	w := NewWalker(New(f.Header()), opener, optFns...)
	_ = w.file.Update(func(_ *Header, _ []Candidate) ([]Candidate, error) {
		return f.Candidates(), nil
	})
	res, err := w.Refresh(ctx)
	if err != nil {
		return 0, err
	}
	if !res.Final {
		return 0, fmt.Errorf("%w: %d addresses", ErrAmbiguous, len(res.Addresses))
	}
	return res.Address, nil
}
