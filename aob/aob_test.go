package aob

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/internal/fs"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lits(b ...byte) []value.Token {
	out := make([]value.Token, len(b))
	for i, c := range b {
		out[i] = value.Lit(c)
	}
	return out
}

func wild(n int) []value.Token {
	out := make([]value.Token, n)
	for i := range out {
		out[i] = value.Any
	}
	return out
}

func concat(parts ...[]value.Token) []value.Token {
	var out []value.Token
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func pattern(t *testing.T, s string) *value.Pattern {
	t.Helper()
	p, err := value.ParsePattern(s)
	require.NoError(t, err)
	return p
}

func TestCreateFromArrayIdenticalBytes(t *testing.T) {
	tokens := Diff([]byte("stable-bytes"), []byte("stable-bytes"))
	cands := CreateFromArray(tokens, -4, DefaultParams())

	require.Len(t, cands, 1)
	assert.Equal(t, int64(-4), cands[0].Offset)
	assert.Equal(t, len("stable-bytes"), cands[0].Size())
	assert.Equal(t, len("stable-bytes"), cands[0].Pattern.Literals())
}

func TestCreateFromArraySplitsLongWildcardRun(t *testing.T) {
	tokens := concat(
		lits(0x10, 0x11, 0x12, 0x13, 0x14, 0x15),
		wild(6),
		lits(0x20, 0x21, 0x22, 0x23, 0x24),
	)
	cands := CreateFromArray(tokens, 0, DefaultParams())

	require.Len(t, cands, 2)
	assert.Equal(t, int64(0), cands[0].Offset)
	assert.Equal(t, int64(12), cands[1].Offset)
	for _, c := range cands {
		for _, tok := range c.Pattern.Tokens() {
			assert.False(t, tok.Wild)
		}
	}
}

func TestCreateFromArray(t *testing.T) {
	tests := []struct {
		name    string
		tokens  []value.Token
		params  Params
		want    []string
		offsets []int64
	}{
		{
			name:    "strip edges",
			tokens:  concat(wild(3), lits(1, 2, 3, 4, 5), wild(2)),
			want:    []string{"01 02 03 04 05"},
			offsets: []int64{3},
		},
		{
			name:    "short interior run kept",
			tokens:  concat(lits(0xAA, 0xBB), wild(4), lits(0xCC, 0xDD)),
			want:    []string{"AA BB ?? ?? ?? ?? CC DD"},
			offsets: []int64{0},
		},
		{
			name:    "short fragment dropped",
			tokens:  concat(lits(1, 2, 3, 4), wild(5), lits(9, 8, 7, 6, 5)),
			want:    []string{"09 08 07 06 05"},
			offsets: []int64{9},
		},
		{
			name:   "all wildcards",
			tokens: wild(16),
		},
		{
			name:    "duplicate removed",
			tokens:  concat(lits(1, 2, 3, 4, 5), wild(5), lits(1, 2, 3, 4, 5)),
			want:    []string{"01 02 03 04 05"},
			offsets: []int64{0},
		},
		{
			name:    "contained removed",
			tokens:  concat(lits(1, 2, 3, 4, 5, 6, 7), wild(5), lits(2, 3, 4, 5, 6)),
			want:    []string{"01 02 03 04 05 06 07"},
			offsets: []int64{0},
		},
		{
			name:    "custom params",
			tokens:  concat(lits(1, 2, 3), wild(2), lits(4, 5, 6)),
			params:  Params{SplitRun: 2, MinLength: 3},
			want:    []string{"01 02 03", "04 05 06"},
			offsets: []int64{0, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands := CreateFromArray(tt.tokens, 0, tt.params)
			var got []string
			var offs []int64
			for _, c := range cands {
				got = append(got, c.Pattern.String())
				offs = append(offs, c.Offset)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.offsets, offs)
		})
	}
}

func TestMerge(t *testing.T) {
	a := Candidate{Offset: 0, Pattern: pattern(t, "01 02 03 04")}
	b := Candidate{Offset: 2, Pattern: pattern(t, "03 ?? 05 06")}
	c := Candidate{Offset: 20, Pattern: pattern(t, "AA BB CC")}
	bad := Candidate{Offset: 21, Pattern: pattern(t, "00 CC DD")}

	got := Merge([]Candidate{c, b, a, bad})
	require.Len(t, got, 3)
	assert.Equal(t, "01 02 03 ?? 05 06", got[0].Pattern.String())
	assert.Equal(t, int64(0), got[0].Offset)
	assert.Equal(t, "AA BB CC", got[1].Pattern.String())
	assert.Equal(t, "00 CC DD", got[2].Pattern.String())
}

func TestWiden(t *testing.T) {
	c := Candidate{Offset: -2, Pattern: pattern(t, "10 20 ?? 40")}

	w, n, ok := Widen(c, []byte{0x10, 0x21, 0x99, 0x40})
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, "10 ?? ?? 40", w.Pattern.String())
	assert.Equal(t, int64(-2), w.Offset)

	_, _, ok = Widen(c, []byte{0, 0, 0, 0})
	assert.False(t, ok)

	_, _, ok = Widen(c, []byte{0x10})
	assert.False(t, ok)
}

func TestFileRoundTrip(t *testing.T) {
	f := New(Header{Process: "game", Name: "health", Range: 0x40, Offset: 0x2a40, Length: 4})
	require.NoError(t, f.Update(func(h *Header, _ []Candidate) ([]Candidate, error) {
		h.Initial, h.Valid = false, true
		return []Candidate{
			{Offset: 8, Pattern: pattern(t, "AA BB ?? DD EE")},
			{Offset: -0x18, Pattern: pattern(t, "48 8B 05 ?? ?? ?? ?? 89 41")},
		}, nil
	}))

	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	text := buf.String()
	assert.Contains(t, text, "Process: game\n")
	assert.Contains(t, text, "Offset: 0x2a40\n")
	assert.Contains(t, text, "Initial: false\n")
	// Sorted by offset on write.
	first := strings.Index(text, "Size: 9 Offset: -0x18 48 8B 05 ?? ?? ?? ?? 89 41")
	second := strings.Index(text, "Size: 5 Offset: 0x8 AA BB ?? DD EE")
	require.GreaterOrEqual(t, first, 0)
	assert.Greater(t, second, first)

	g, err := Decode(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, f.Header(), g.Header())
	require.Equal(t, 2, g.Len())
	for i, c := range g.Candidates() {
		assert.Equal(t, f.Candidates()[i].Offset, c.Offset)
		assert.True(t, f.Candidates()[i].Pattern.Equal(c.Pattern))
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, text := range []string{
		"garbage",
		"Length: four",
		"Size: 3 Offset: 0x0 01 02",
		"Size: 2 Offset: 0x0 ?? ??",
		"Colour: blue",
	} {
		_, err := Decode(strings.NewReader(text))
		assert.ErrorIs(t, err, ErrInvalidCatalog, text)
	}
}

func TestSaveLoadList(t *testing.T) {
	dir := t.TempDir()
	f := New(Header{Process: "game", Name: "ammo", Length: 2})
	require.NoError(t, f.Save(nil, Path(dir, "ammo")))

	g, err := Load(nil, Path(dir, "ammo"))
	require.NoError(t, err)
	assert.True(t, g.Header().Initial)

	names, err := List(nil, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"ammo"}, names)

	names, err = List(nil, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSaveFailureKeepsCatalog(t *testing.T) {
	path := Path(t.TempDir(), "health")
	f := New(Header{Name: "health"})
	require.NoError(t, f.Save(nil, path))

	require.NoError(t, f.Update(func(h *Header, _ []Candidate) ([]Candidate, error) {
		h.Initial = false
		return []Candidate{{Offset: 0, Pattern: pattern(t, "01 02 03 04 05")}}, nil
	}))
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("health.aob", fs.Fault{FailAfterBytes: 16})
	require.ErrorIs(t, f.Save(ffs, path), fs.ErrInjected)

	g, err := Load(nil, path)
	require.NoError(t, err)
	assert.True(t, g.Header().Initial)
	assert.Zero(t, g.Len())
}

// snapshots builds two capture sets of a 256 byte region around a tracked
// int4 at offset 0x80. Bytes in drift change between the two.
func snapshots(t *testing.T, drift []int) (old, new *capture.Set, data []byte) {
	t.Helper()
	ctx := context.Background()
	data = make([]byte, 256)
	for i := range data {
		data[i] = byte(i*13 + 7)
	}
	mem := process.NewMemory("game").Map(0x400000, data, "")
	store := blobstore.NewMemoryStore()

	snap := func(name string) *capture.Set {
		p, err := mem.Open(ctx)
		require.NoError(t, err)
		w, err := capture.Create(ctx, store, name, "game", 0x400000)
		require.NoError(t, err)
		r := process.Region{Start: 0x400000, End: 0x400100, Perms: "rw-p"}
		require.NoError(t, w.Add(ctx, r, process.NewReader(p, r)))
		set, err := w.Commit(ctx)
		require.NoError(t, err)
		return set
	}

	old = snap("old")
	for _, i := range drift {
		data[i] ^= 0xFF
	}
	new = snap("new")
	return old, new, data
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	// The tracked value itself changes, plus a long unstable run before it.
	drift := []int{0x60, 0x61, 0x62, 0x63, 0x64, 0x65, 0x80, 0x81, 0x82, 0x83}
	old, new, _ := snapshots(t, drift)

	f := New(Header{Process: "game", Name: "health", Range: 0x30, Offset: 0x80, Length: 4})
	n, err := Generate(ctx, f, old, new, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	h := f.Header()
	assert.False(t, h.Initial)
	assert.True(t, h.Valid)

	cands := f.Candidates()
	// Window is [0x50, 0xb4); the six byte run at 0x60 splits it.
	assert.Equal(t, int64(0x50-0x80), cands[0].Offset)
	assert.Equal(t, 0x10, cands[0].Size())
	assert.Equal(t, int64(0x66-0x80), cands[1].Offset)
	assert.Equal(t, 0xb4-0x66, cands[1].Size())
	assert.Equal(t, 4, cands[1].Size()-cands[1].Pattern.Literals())
}

func TestGenerateNoCandidates(t *testing.T) {
	ctx := context.Background()
	var drift []int
	for i := 0x70; i < 0x94; i++ {
		if i%6 != 0 {
			drift = append(drift, i)
		}
	}
	old, new, _ := snapshots(t, drift)

	f := New(Header{Name: "noisy", Range: 0x10, Offset: 0x80, Length: 4})
	_, err := Generate(ctx, f, old, new, DefaultParams())
	require.ErrorIs(t, err, ErrNoCandidates)
	assert.True(t, f.Header().Initial)
	assert.Zero(t, f.Len())
}

func TestWidenFromSet(t *testing.T) {
	ctx := context.Background()
	old, new, _ := snapshots(t, []int{0x84})

	f := New(Header{Name: "x", Offset: 0x80, Length: 4})
	raw, err := old.Read(ctx, old.Entries()[0])
	require.NoError(t, err)
	require.NoError(t, f.Update(func(_ *Header, _ []Candidate) ([]Candidate, error) {
		return []Candidate{{Offset: 0, Pattern: value.Literal(raw[0x80:0x88])}}, nil
	}))

	n, err := WidenFromSet(ctx, f, new)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	c := f.Candidates()[0]
	assert.True(t, c.Pattern.Token(4).Wild)
	assert.Equal(t, 7, c.Pattern.Literals())
}
