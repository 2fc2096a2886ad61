package searcher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/capture"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
	"github.com/hupe1980/memgo/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = 0x10000

func newStore(t *testing.T) *results.Store {
	t.Helper()
	st, err := results.Open(filepath.Join(t.TempDir(), "results.db"), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func putInt4(b []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(b[off:], uint32(v))
}

func int4(s string) value.Value { return value.MustParse(s, value.KindInt4) }

func addresses(t *testing.T, st *results.Store) []uint64 {
	t.Helper()
	bm, err := st.AddressSet(context.Background())
	require.NoError(t, err)
	return bm.ToArray()
}

// dyingOpener kills mem after the given number of reads through its handles.
func dyingOpener(mem *process.Memory, after int64) process.Opener {
	var reads atomic.Int64
	return process.OpenerFunc(func(ctx context.Context) (process.Process, error) {
		p, err := mem.Open(ctx)
		if err != nil {
			return nil, err
		}
		return &dying{Process: p, mem: mem, reads: &reads, after: after}, nil
	})
}

type dying struct {
	process.Process
	mem   *process.Memory
	reads *atomic.Int64
	after int64
}

func (d *dying) ReadAt(p []byte, addr uint64) (int, error) {
	if d.reads.Add(1) > d.after {
		d.mem.Kill()
	}
	return d.Process.ReadAt(p, addr)
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 64<<10)
	putInt4(data, 100, 42)
	mem := process.NewMemory("game").Map(base, data, "[heap]")
	st := newStore(t)

	s := New(mem, st)
	assert.Equal(t, StateIdle, s.State())

	rep, err := s.SearchValue(ctx, int4("42"))
	require.NoError(t, err)
	assert.Equal(t, KindSweep, rep.Kind)
	assert.Equal(t, int64(1), rep.Found)
	assert.Equal(t, int64(len(data)), rep.Scanned)
	assert.Equal(t, StateResults, s.State())
	assert.Equal(t, []uint64{base + 100}, addresses(t, st))

	putInt4(mem.Bytes(base), 100, 43)

	rep, err = s.SearchOperation(ctx, operation.Greater(int4("42")))
	require.NoError(t, err)
	assert.Equal(t, KindContinue, rep.Kind)
	assert.Equal(t, int64(1), rep.Found)
	assert.Equal(t, []uint64{base + 100}, addresses(t, st))

	e, ok, err := st.Lookup(base + 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{43, 0, 0, 0}, e.Value)

	depth, err := st.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
}

func TestSweepAcrossChunkBoundaries(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 64)
	putInt4(data, 14, 0x7f7f7f7f) // straddles the first boundary
	putInt4(data, 32, 0x7f7f7f7f) // starts exactly on a boundary
	mem := process.NewMemory("game").Map(base, data, "")

	s := New(mem, newStore(t), WithMaxChunkSize(16))
	rep, err := s.SearchValue(ctx, value.FromUint(value.KindInt4, 0x7f7f7f7f))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.Found)
	assert.Equal(t, []uint64{base + 14, base + 32}, addresses(t, s.Store()))
}

func TestSearchOperationIsAligned(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 32)
	putInt4(data, 4, 500)
	putInt4(data, 16, 700)
	data[9] = 0xff // unaligned noise
	mem := process.NewMemory("game").Map(base, data, "")

	s := New(mem, newStore(t))
	rep, err := s.SearchOperation(ctx, operation.Between(int4("400"), int4("800")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.Found)
	assert.Equal(t, []uint64{base + 4, base + 16}, addresses(t, s.Store()))
}

func TestSignedSearch(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 16)
	putInt4(data, 8, -5)
	mem := process.NewMemory("game").Map(base, data, "")

	s := New(mem, newStore(t))
	rep, err := s.SearchOperation(ctx, operation.Less(int4("-1")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Found)
	assert.True(t, rep.Generation.Meta.Signed)
}

func TestPatternSearch(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 128)
	copy(data[40:], []byte{0x48, 0x8b, 0x05, 0x11, 0x22, 0x33, 0x44, 0xc3})
	copy(data[120:], []byte{0x48, 0x8b, 0x05, 0x11}) // runs off the edge
	mem := process.NewMemory("game").Map(base, data, "")

	s := New(mem, newStore(t))
	rep, err := s.SearchValue(ctx, value.MustParse("48 8b 05 ?? ?? ?? ?? c3", value.KindPattern))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Found)
	assert.Equal(t, []uint64{base + 40}, addresses(t, s.Store()))
}

func TestMemoryOperationNeedsResults(t *testing.T) {
	mem := process.NewMemory("game").Map(base, make([]byte, 16), "")
	s := New(mem, newStore(t))

	_, err := s.SearchOperation(context.Background(), operation.Increased())
	assert.ErrorIs(t, err, operation.ErrInvalidOperation)
	assert.Equal(t, StateIdle, s.State())
}

func TestUnreadableRegionIsSkipped(t *testing.T) {
	ctx := context.Background()
	a := make([]byte, 256)
	b := make([]byte, 256)
	putInt4(a, 0, 42)
	putInt4(b, 0, 42)
	mem := process.NewMemory("game").Map(base, a, "").Map(base+0x1000, b, "")
	mem.Unmap(base + 0x1000)

	s := New(mem, newStore(t))
	rep, err := s.SearchValue(ctx, int4("42"))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Regions)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, rep.Total, rep.Scanned)
	assert.Equal(t, int64(1), rep.Found)
}

func TestNoResults(t *testing.T) {
	mem := process.NewMemory("game").Map(base, make([]byte, 64), "")
	s := New(mem, newStore(t))

	rep, err := s.SearchValue(context.Background(), int4("42"))
	require.NoError(t, err)
	assert.Equal(t, StateNoResults, rep.State)
	assert.Equal(t, StateNoResults, s.State())

	// An empty top generation means the next search sweeps again.
	putInt4(mem.Bytes(base), 8, 42)
	rep, err = s.SearchValue(context.Background(), int4("42"))
	require.NoError(t, err)
	assert.Equal(t, KindSweep, rep.Kind)
	assert.Equal(t, int64(1), rep.Found)
}

func TestContinuationIsSubset(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i * 7)
	}
	mem := process.NewMemory("game").Map(base, data, "")
	st := newStore(t)
	s := New(mem, st)

	_, err := s.SearchOperation(ctx, operation.Greater(value.MustParse("100", value.KindInt1)))
	require.NoError(t, err)
	before, err := st.AddressSet(ctx)
	require.NoError(t, err)
	require.False(t, before.IsEmpty())

	for i := range data {
		if i%3 == 0 {
			data[i]++
		}
	}

	rep, err := s.SearchOperation(ctx, operation.Increased())
	require.NoError(t, err)
	after, err := st.AddressSet(ctx)
	require.NoError(t, err)

	assert.Positive(t, rep.Found)
	assert.True(t, roaring64.AndNot(after, before).IsEmpty())
	assert.Less(t, after.GetCardinality(), before.GetCardinality())
	assert.Equal(t, before.GetCardinality(), uint64(rep.Scanned))
}

func TestContinuationDropsUnreadable(t *testing.T) {
	ctx := context.Background()
	a := make([]byte, 64)
	b := make([]byte, 64)
	putInt4(a, 8, 7)
	putInt4(b, 8, 7)
	mem := process.NewMemory("game").Map(base, a, "").Map(base+0x2000, b, "")
	s := New(mem, newStore(t))

	_, err := s.SearchValue(ctx, int4("7"))
	require.NoError(t, err)

	mem.Unmap(base + 0x2000)
	rep, err := s.SearchOperation(ctx, operation.Unchanged())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Found)
	assert.Equal(t, 1, rep.Skipped)
}

func TestCancellationIsSubset(t *testing.T) {
	data := make([]byte, 8192)
	for i := 0; i+4 <= len(data); i += 64 {
		putInt4(data, i, 9)
	}
	mem := process.NewMemory("game").Map(base, data, "")

	full := New(mem, newStore(t), WithMaxChunkSize(512))
	_, err := full.SearchValue(context.Background(), int4("9"))
	require.NoError(t, err)
	all, err := full.Store().AddressSet(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	part := New(mem, newStore(t),
		WithMaxChunkSize(512),
		WithCheckEvery(1),
		WithProgress(time.Nanosecond, func(Progress) {
			if calls.Add(1) == 3 {
				cancel()
			}
		}),
	)
	rep, err := part.SearchValue(ctx, int4("9"))
	require.NoError(t, err)
	assert.True(t, rep.Cancelled)

	some, err := part.Store().AddressSet(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, some.GetCardinality(), all.GetCardinality())
	assert.True(t, roaring64.AndNot(some, all).IsEmpty())
	assert.Equal(t, int64(some.GetCardinality()), rep.Found)
}

func TestProcessLostRollsBack(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 1024)
	putInt4(data, 0, 5)
	putInt4(data, 512, 5)
	mem := process.NewMemory("game").Map(base, data, "")
	st := newStore(t)

	_, err := New(mem, st).SearchValue(ctx, int4("5"))
	require.NoError(t, err)

	s := New(dyingOpener(mem, 1), st, WithPageCacheSize(1))
	_, err = s.SearchOperation(ctx, operation.Unchanged())
	require.ErrorIs(t, err, process.ErrProcessLost)
	assert.Equal(t, StateResults, s.State())

	// The previous generation survives.
	depth, err := st.Depth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.Equal(t, []uint64{base, base + 512}, addresses(t, st))
}

func TestProcessLostDuringSweep(t *testing.T) {
	mem := process.NewMemory("game").Map(base, make([]byte, 4096), "")
	st := newStore(t)

	s := New(dyingOpener(mem, 2), st, WithMaxChunkSize(256))
	_, err := s.SearchValue(context.Background(), int4("1"))
	require.ErrorIs(t, err, process.ErrProcessLost)
	assert.Equal(t, StateIdle, s.State())

	_, err = st.Top()
	assert.ErrorIs(t, err, results.ErrEmpty)
}

func TestCaptureAndCompare(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 2048)
	putInt4(data, 64, 10)
	putInt4(data, 128, 10)
	mem := process.NewMemory("game").Map(base, data, "[heap]")
	blobs := blobstore.NewMemoryStore()
	st := newStore(t)
	s := New(mem, st, WithCompression(capture.CompressionZstd))

	rep, err := s.Capture(ctx, blobs, "before")
	require.NoError(t, err)
	assert.Equal(t, StateCaptured, s.State())
	assert.Equal(t, int64(len(data)), rep.Scanned)

	putInt4(data, 64, 11)
	putInt4(data, 128, 9)

	set, err := capture.Load(ctx, blobs, "before")
	require.NoError(t, err)

	rep, err = s.CompareCapture(ctx, set, operation.Increased(), operation.Shape{Kind: value.KindInt4})
	require.NoError(t, err)
	assert.Equal(t, KindCompare, rep.Kind)
	assert.Equal(t, int64(1), rep.Found)
	assert.Equal(t, []uint64{base + 64}, addresses(t, st))

	_, err = s.CompareCapture(ctx, set, operation.Equal(int4("1")), operation.Shape{Kind: value.KindInt4})
	assert.ErrorIs(t, err, operation.ErrInvalidOperation)
}

func TestCaptureRange(t *testing.T) {
	ctx := context.Background()
	mem := process.NewMemory("game").
		Map(base, make([]byte, 0x1000), "").
		Map(base+0x4000, make([]byte, 0x1000), "")
	blobs := blobstore.NewMemoryStore()
	s := New(mem, newStore(t))

	rep, err := s.CaptureRange(ctx, blobs, "around", base+0x4010, 0x20)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Regions)
	assert.Equal(t, int64(0x30), rep.Scanned)

	set, err := capture.Load(ctx, blobs, "around")
	require.NoError(t, err)
	require.Len(t, set.Entries(), 1)
	assert.Equal(t, "4000_30.bin", set.Entries()[0].Blob)
	assert.Equal(t, uint64(base), set.Base())
}

func TestCaptureProcessLost(t *testing.T) {
	mem := process.NewMemory("game").Map(base, make([]byte, 64), "").Map(base+0x1000, make([]byte, 64), "")
	blobs := blobstore.NewMemoryStore()
	s := New(dyingOpener(mem, 1), newStore(t))

	_, err := s.Capture(context.Background(), blobs, "snap")
	require.ErrorIs(t, err, process.ErrProcessLost)

	names, err := blobs.List(context.Background(), "snap/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestBusy(t *testing.T) {
	s := New(process.NewMemory("game"), newStore(t))
	require.NoError(t, s.begin())
	_, err := s.SearchValue(context.Background(), int4("1"))
	assert.True(t, errors.Is(err, ErrBusy) || errors.Is(err, results.ErrRoundInProgress))
	s.finish(StateIdle)
}

func TestCompleteCommitsOnlyCancellations(t *testing.T) {
	meta := results.Meta{Kind: value.KindInt4.String(), Width: 4, Signed: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("ForeignErrorAborts", func(t *testing.T) {
		st := newStore(t)
		s := New(process.NewMemory("game"), st)
		round, err := st.Begin(results.ModeReplace, meta)
		require.NoError(t, err)
		require.NoError(t, round.Append([]results.Entry{{Address: base, Value: []byte{1, 0, 0, 0}}}))

		diskFull := errors.New("disk full")
		rep, err := s.complete(ctx, round, Report{}, time.Now(), diskFull)
		require.ErrorIs(t, err, diskFull)
		assert.False(t, rep.Cancelled)
		assert.Equal(t, StateIdle, s.State())
		_, err = st.Top()
		assert.ErrorIs(t, err, results.ErrEmpty)
	})

	t.Run("CancellationCommits", func(t *testing.T) {
		st := newStore(t)
		s := New(process.NewMemory("game"), st)
		round, err := st.Begin(results.ModeReplace, meta)
		require.NoError(t, err)
		require.NoError(t, round.Append([]results.Entry{{Address: base, Value: []byte{1, 0, 0, 0}}}))

		rep, err := s.complete(ctx, round, Report{}, time.Now(), fmt.Errorf("scan: %w", context.Canceled))
		require.NoError(t, err)
		assert.True(t, rep.Cancelled)
		assert.Equal(t, int64(1), rep.Found)
		assert.Equal(t, StateResults, s.State())
	})
}
