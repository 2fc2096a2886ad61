package aob

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const heap = 0x7f0000

// game lays out a tracked int4 at heap+0x1234 surrounded by a stable
// signature, plus a decoy copy of the first signature elsewhere.
func game(t *testing.T) (*process.Memory, []byte) {
	t.Helper()
	data := make([]byte, 0x4000)
	copy(data[0x1220:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x48, 0x8B, 0x05, 0x11})
	binary.LittleEndian.PutUint32(data[0x1234:], 100)
	copy(data[0x1240:], []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x90})
	// Decoy of the first signature only.
	copy(data[0x3000:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x48, 0x8B, 0x05, 0x11})
	mem := process.NewMemory("game").Map(heap, data, "[heap]")
	return mem, data
}

func catalog(t *testing.T, cands ...Candidate) *File {
	t.Helper()
	f := New(Header{Process: "game", Name: "health", Offset: 0x1234, Length: 4})
	require.NoError(t, f.Update(func(h *Header, _ []Candidate) ([]Candidate, error) {
		h.Initial = false
		return cands, nil
	}))
	return f
}

func TestWalkerConverges(t *testing.T) {
	mem, _ := game(t)
	f := catalog(t,
		Candidate{Offset: -0x14, Pattern: pattern(t, "DE AD BE EF 48 8B 05 11")},
		Candidate{Offset: 0x0c, Pattern: pattern(t, "CA FE ?? BE 90")},
		Candidate{Offset: 0x40, Pattern: pattern(t, "01 02 03 04 05")},
	)

	w := NewWalker(f, mem, WithMaxHits(1), WithChunkSize(64))
	res, err := w.Refresh(context.Background())
	require.NoError(t, err)
	// The decoyed signature and the missing one are pruned.
	assert.Equal(t, 2, res.Pruned)
	assert.Equal(t, 1, res.Candidates)
	assert.True(t, res.Final)
	assert.Equal(t, uint64(heap+0x1234), res.Address)

	h := f.Header()
	assert.True(t, h.Final)
	assert.True(t, h.Valid)
	assert.Equal(t, uint64(0x1234), h.Offset)
	assert.Equal(t, 1, f.Len())
}

func TestWalkerAmbiguousWithoutMaxHits(t *testing.T) {
	mem, _ := game(t)
	f := catalog(t, Candidate{Offset: -0x14, Pattern: pattern(t, "DE AD BE EF 48 8B 05 11")})

	res, err := NewWalker(f, mem).Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Final)
	assert.Len(t, res.Addresses, 2)
	assert.Equal(t, 1, f.Len())
	assert.False(t, f.Header().Final)
}

func TestWalkerExpectedValue(t *testing.T) {
	mem, _ := game(t)
	f := catalog(t, Candidate{Offset: -0x14, Pattern: pattern(t, "DE AD BE EF 48 8B 05 11")})

	w := NewWalker(f, mem, WithExpected(value.MustParse("100", value.KindInt4)))
	res, err := w.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Final)
	assert.Equal(t, uint64(heap+0x1234), res.Address)
}

func TestWalkerBoundsTrackedAddresses(t *testing.T) {
	data := make([]byte, 0x4000)
	binary.LittleEndian.PutUint32(data[0x2000:], 7)
	mem := process.NewMemory("game").Map(heap, data, "[heap]")
	zeros := Candidate{Offset: -8, Pattern: pattern(t, "00 00 00 00")}

	t.Run("Unbounded", func(t *testing.T) {
		f := catalog(t, zeros)
		res, err := NewWalker(f, mem).Refresh(context.Background())
		require.NoError(t, err)
		assert.False(t, res.Final)
		assert.Len(t, res.Addresses, MaxTracked)
		assert.Equal(t, 1, res.Candidates)
	})

	t.Run("MaxHitsCountsPastBound", func(t *testing.T) {
		f := catalog(t, zeros)
		_, err := NewWalker(f, mem, WithMaxHits(MaxTracked+4)).Refresh(context.Background())
		require.ErrorIs(t, err, ErrNoCandidates)
	})

	t.Run("Expected", func(t *testing.T) {
		f := catalog(t, zeros)
		w := NewWalker(f, mem, WithExpected(value.MustParse("7", value.KindInt4)), WithChunkSize(0x1000))
		res, err := w.Refresh(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Final)
		assert.Equal(t, map[uint64]int{heap + 0x2000: 1}, res.Addresses)
	})
}

func TestWalkerMatchesAcrossChunks(t *testing.T) {
	mem, _ := game(t)
	f := catalog(t, Candidate{Offset: 0x0c, Pattern: pattern(t, "CA FE ?? BE 90")})

	// 0x1240 is not a multiple of 7, so the window straddles chunks.
	res, err := NewWalker(f, mem, WithChunkSize(7)).Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Final)
	assert.Equal(t, map[uint64]int{heap + 0x1234: 1}, res.Addresses)
}

func TestWalkerNoCandidatesKeepsCatalog(t *testing.T) {
	mem, _ := game(t)
	f := catalog(t,
		Candidate{Offset: 0x40, Pattern: pattern(t, "01 02 03 04 05")},
		Candidate{Offset: 0x50, Pattern: pattern(t, "11 12 13 14 15")},
	)

	_, err := NewWalker(f, mem).Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoCandidates)
	assert.Equal(t, 2, f.Len())
	assert.False(t, f.Header().Valid)

	_, err = NewWalker(New(Header{Name: "empty"}), mem).Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestWalkerSkipsUnreadableRegion(t *testing.T) {
	mem, _ := game(t)
	mem.Map(0x100000, make([]byte, 256), "")
	mem.Unmap(0x100000)
	f := catalog(t, Candidate{Offset: 0x0c, Pattern: pattern(t, "CA FE ?? BE 90")})

	res, err := NewWalker(f, mem).Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Final)
}

func TestWalkerProcessLost(t *testing.T) {
	mem, _ := game(t)
	f := catalog(t, Candidate{Offset: 0x0c, Pattern: pattern(t, "CA FE ?? BE 90")})
	mem.Kill()

	_, err := NewWalker(f, mem).Refresh(context.Background())
	require.ErrorIs(t, err, process.ErrProcessLost)
	assert.Equal(t, 1, f.Len())
}

func TestWalkerRun(t *testing.T) {
	mem, data := game(t)
	// Both signatures match twice until the decoy disappears.
	copy(data[0x2000:], []byte{0xCA, 0xFE, 0x00, 0xBE, 0x90})
	f := catalog(t,
		Candidate{Offset: -0x14, Pattern: pattern(t, "DE AD BE EF 48 8B 05 11")},
		Candidate{Offset: 0x0c, Pattern: pattern(t, "CA FE ?? BE 90")},
	)

	refreshes := 0
	w := NewWalker(f, mem, WithInterval(time.Millisecond), WithOnRefresh(func(res Result) {
		refreshes++
		if refreshes == 2 {
			data[0x3000] = 0
			data[0x2000] = 0
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := w.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Final)
	assert.Equal(t, 3, refreshes)
	assert.Equal(t, 2, f.Len())
}

func TestLocate(t *testing.T) {
	mem, _ := game(t)
	f := catalog(t,
		Candidate{Offset: -0x14, Pattern: pattern(t, "DE AD BE EF 48 8B 05 11")},
		Candidate{Offset: 0x0c, Pattern: pattern(t, "CA FE ?? BE 90")},
	)

	_, err := Locate(context.Background(), f, mem)
	require.ErrorIs(t, err, ErrAmbiguous)

	addr, err := Locate(context.Background(), f, mem, WithMaxHits(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(heap+0x1234), addr)
	// Locate never prunes the catalog it was given.
	assert.Equal(t, 2, f.Len())
}
