package searcher

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/memgo/internal/resource"
	"github.com/hupe1980/memgo/operation"
	"github.com/hupe1980/memgo/process"
	"github.com/hupe1980/memgo/results"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	regions := []process.Region{
		{Start: 0x1000, End: 0x1000 + 1000},
		{Start: 0x8000, End: 0x8000 + 37},
		{Start: 0x9000, End: 0x9000 + 4096},
	}

	for _, workers := range []int{1, 3, 7, 64} {
		parts := partition(regions, 4, workers)
		var covered uint64
		for _, pt := range parts {
			var owner *process.Region
			for i := range regions {
				if regions[i].Contains(pt.start) {
					owner = &regions[i]
				}
			}
			require.NotNil(t, owner, "part %#x outside every region", pt.start)
			assert.LessOrEqual(t, pt.end, owner.End)
			assert.Equal(t, owner.End, pt.hardEnd)
			assert.Zero(t, (pt.start-owner.Start)%4, "part %#x not aligned", pt.start)
			covered += pt.end - pt.start
		}
		assert.Equal(t, process.Total(regions), covered, "workers=%d", workers)
	}

	assert.Empty(t, partition(nil, 4, 4))
}

func randomMemory(seed int64) *process.Memory {
	rng := rand.New(rand.NewSource(seed))
	mem := process.NewMemory("game")
	for i, size := range []int{70000, 513, 33000} {
		data := make([]byte, size)
		for j := range data {
			// A narrow alphabet makes value hits frequent.
			data[j] = byte(rng.Intn(4))
		}
		mem.Map(base+uint64(i)*0x100000, data, "")
	}
	return mem
}

func TestMultiSweepMatchesSingle(t *testing.T) {
	ctx := context.Background()
	mem := randomMemory(1)

	tests := []struct {
		name string
		run  func(s *Searcher) (Report, error)
	}{
		{"value", func(s *Searcher) (Report, error) { return s.SearchValue(ctx, int4("0x01020301")) }},
		{"aligned", func(s *Searcher) (Report, error) {
			return s.SearchOperation(ctx, operation.Between(int4("0x01000000"), int4("0x01ffffff")))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			single := New(mem, newStore(t), WithMaxChunkSize(4096))
			want, err := tt.run(single)
			require.NoError(t, err)
			require.False(t, want.Parallel)
			require.NotZero(t, want.Found)

			multi := NewMulti(mem, newStore(t), WithMaxChunkSize(4096), WithWorkers(4), WithMinParallelBytes(0))
			got, err := tt.run(multi.Searcher)
			require.NoError(t, err)
			assert.True(t, got.Parallel)
			assert.Equal(t, 4, got.Workers)
			assert.Equal(t, want.Found, got.Found)
			assert.Equal(t, want.Scanned, got.Scanned)
			assert.Equal(t, addresses(t, single.Store()), addresses(t, multi.Store()))
		})
	}
}

func TestMultiContinuationMatchesSingle(t *testing.T) {
	ctx := context.Background()
	mem := randomMemory(2)

	single := New(mem, newStore(t))
	multi := NewMulti(mem, newStore(t), WithWorkers(3), WithMinParallelBytes(0), WithContinueParallelThreshold(0), WithBatchSize(7))

	_, err := single.SearchOperation(ctx, operation.Less(int4("0x02000000")))
	require.NoError(t, err)
	_, err = multi.SearchOperation(ctx, operation.Less(int4("0x02000000")))
	require.NoError(t, err)

	// Touch every 5th byte of the first region.
	data := mem.Bytes(base)
	for i := 0; i < len(data); i += 5 {
		data[i]++
	}

	want, err := single.SearchOperation(ctx, operation.Changed())
	require.NoError(t, err)
	got, err := multi.SearchOperation(ctx, operation.Changed())
	require.NoError(t, err)

	assert.True(t, got.Parallel)
	assert.Equal(t, want.Found, got.Found)
	assert.Equal(t, want.Scanned, got.Scanned)
	assert.Equal(t, addresses(t, single.Store()), addresses(t, multi.Store()))
}

func TestMultiOpensHandlePerWorker(t *testing.T) {
	mem := randomMemory(3)
	var opens atomic.Int64
	opener := process.OpenerFunc(func(ctx context.Context) (process.Process, error) {
		opens.Add(1)
		return mem.Open(ctx)
	})

	m := NewMulti(opener, newStore(t), WithWorkers(3), WithMinParallelBytes(0))
	_, err := m.SearchValue(context.Background(), int4("7"))
	require.NoError(t, err)

	// One handle enumerates regions, one per worker scans.
	assert.Equal(t, int64(4), opens.Load())
}

func TestMultiSmallTargetStaysSingle(t *testing.T) {
	mem := process.NewMemory("game").Map(base, make([]byte, 4096), "")
	m := NewMulti(mem, newStore(t), WithWorkers(4))

	rep, err := m.SearchValue(context.Background(), int4("0"))
	require.NoError(t, err)
	assert.False(t, rep.Parallel)
}

func TestMultiProcessLost(t *testing.T) {
	mem := randomMemory(4)
	m := NewMulti(dyingOpener(mem, 5), newStore(t), WithWorkers(4), WithMinParallelBytes(0), WithMaxChunkSize(1024))

	_, err := m.SearchValue(context.Background(), int4("1"))
	require.ErrorIs(t, err, process.ErrProcessLost)
	assert.Equal(t, StateIdle, m.State())
}

// slowOpener hands out handles whose reads take at least d.
func slowOpener(mem *process.Memory, d time.Duration) process.Opener {
	return process.OpenerFunc(func(ctx context.Context) (process.Process, error) {
		p, err := mem.Open(ctx)
		if err != nil {
			return nil, err
		}
		return &slow{Process: p, d: d}, nil
	})
}

type slow struct {
	process.Process
	d time.Duration
}

func (p *slow) ReadAt(b []byte, addr uint64) (int, error) {
	time.Sleep(p.d)
	return p.Process.ReadAt(b, addr)
}

func TestMultiCancellationIsSubset(t *testing.T) {
	t.Run("ThrottledSweep", func(t *testing.T) {
		data := make([]byte, 16*1024)
		putInt4(data, 100, 42)
		putInt4(data, 9000, 42)
		mem := process.NewMemory("game").Map(base, data, "")

		full := NewMulti(mem, newStore(t), WithMaxChunkSize(4096), WithWorkers(4), WithMinParallelBytes(0))
		_, err := full.SearchValue(context.Background(), int4("42"))
		require.NoError(t, err)
		all, err := full.Store().AddressSet(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint64(2), all.GetCardinality())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		// One worker slot and one chunk per second: the second chunk waits on
		// the limiter when the first progress report cancels the round.
		ctrl := resource.NewController(resource.Config{MaxWorkers: 1, ReadLimitBytesPerSec: 4096})
		m := NewMulti(mem, newStore(t),
			WithMaxChunkSize(4096),
			WithWorkers(4),
			WithMinParallelBytes(0),
			WithController(ctrl),
			WithProgress(time.Nanosecond, func(p Progress) {
				if p.Done > 0 {
					cancel()
				}
			}),
		)
		rep, err := m.SearchValue(ctx, int4("42"))
		require.NoError(t, err)
		assert.True(t, rep.Parallel)
		assert.True(t, rep.Cancelled)

		some, err := m.Store().AddressSet(context.Background())
		require.NoError(t, err)
		assert.True(t, some.Contains(base+100))
		assert.True(t, roaring64.AndNot(some, all).IsEmpty())
		assert.Equal(t, int64(some.GetCardinality()), rep.Found)
	})

	t.Run("Continuation", func(t *testing.T) {
		mem := randomMemory(5)
		st, err := results.Open(filepath.Join(t.TempDir(), "results.db"), "test", results.WithPageSize(500))
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })

		var cancelRound atomic.Pointer[context.CancelFunc]
		m := NewMulti(slowOpener(mem, 5*time.Millisecond), st,
			WithWorkers(3),
			WithMinParallelBytes(0),
			WithContinueParallelThreshold(0),
			WithCheckEvery(64),
			WithProgress(time.Nanosecond, func(p Progress) {
				if c := cancelRound.Load(); c != nil && p.Done > 0 {
					(*c)()
				}
			}),
		)

		_, err = m.SearchOperation(context.Background(), operation.Less(int4("0x02000000")))
		require.NoError(t, err)
		before, err := st.AddressSet(context.Background())
		require.NoError(t, err)
		require.False(t, before.IsEmpty())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cancelRound.Store(&cancel)

		rep, err := m.SearchOperation(ctx, operation.Unchanged())
		require.NoError(t, err)
		assert.True(t, rep.Parallel)
		assert.True(t, rep.Cancelled)

		after, err := st.AddressSet(context.Background())
		require.NoError(t, err)
		assert.False(t, after.IsEmpty())
		assert.Less(t, after.GetCardinality(), before.GetCardinality())
		assert.True(t, roaring64.AndNot(after, before).IsEmpty())
		assert.Equal(t, int64(after.GetCardinality()), rep.Found)
	})
}
