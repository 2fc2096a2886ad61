package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hupe1980/memgo/blobstore"
	"github.com/hupe1980/memgo/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(t *testing.T, store blobstore.BlobStore, name string, mem *process.Memory, optFns ...Option) *Set {
	t.Helper()
	ctx := context.Background()

	p, err := mem.Open(ctx)
	require.NoError(t, err)
	defer p.Close()

	regions, err := p.Regions(ctx, process.Filter{})
	require.NoError(t, err)

	w, err := Create(ctx, store, name, p.Name(), process.Lowest(regions), optFns...)
	require.NoError(t, err)
	for _, r := range regions {
		if err := w.Add(ctx, r, process.NewReader(p, r)); err != nil {
			w.Skip(r, err)
		}
	}
	set, err := w.Commit(ctx)
	require.NoError(t, err)
	return set
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "1000_200.bin", EntryName(0x1000, 0x200))

	off, length, err := ParseEntryName("1c0000_4000.bin.zst")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1c0000), off)
	assert.Equal(t, uint64(0x4000), length)

	for _, bad := range []string{"manifest.json", "1000.bin", "zz_10.bin", "10_zz.bin"} {
		_, _, err := ParseEntryName(bad)
		assert.Error(t, err, bad)
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(c)+"codec", func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewLocalStore(t.TempDir())

			heap := bytes.Repeat([]byte{1, 2, 3, 4}, 4096)
			stack := bytes.Repeat([]byte{9}, 512)
			mem := process.NewMemory("game").
				Map(0x10000, heap, "[heap]").
				MapPerms(0x40000, stack, "r--p", "[stack]")

			set := snapshot(t, store, "before", mem, WithCompression(c))
			assert.Equal(t, uint64(0x10000), set.Base())
			require.Len(t, set.Entries(), 2)
			assert.Equal(t, "0_4000.bin"+c.suffix(), set.Entries()[0].Blob)
			assert.Equal(t, "30000_200.bin"+c.suffix(), set.Entries()[1].Blob)

			loaded, err := Load(ctx, store, "before")
			require.NoError(t, err)
			assert.Equal(t, "game", loaded.Manifest().Process)
			assert.Equal(t, set.Entries(), loaded.Entries())
			assert.Equal(t, uint64(len(heap)+len(stack)), loaded.Size())

			got, err := loaded.Read(ctx, loaded.Entries()[0])
			require.NoError(t, err)
			assert.Equal(t, heap, got)

			replayed, err := Replay(ctx, loaded)
			require.NoError(t, err)
			assert.Equal(t, stack, replayed.Bytes(0x40000))

			p, err := replayed.Open(ctx)
			require.NoError(t, err)
			regions, err := p.Regions(ctx, process.Filter{WritableOnly: true})
			require.NoError(t, err)
			require.Len(t, regions, 1)
			assert.Equal(t, "[heap]", regions[0].Path)
		})
	}
}

func TestCaptureSkipsUnreadable(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	mem := process.NewMemory("game").
		Map(0x1000, make([]byte, 64), "").
		Map(0x2000, make([]byte, 64), "")
	mem.Unmap(0x2000)

	set := snapshot(t, store, "s", mem)
	require.Len(t, set.Entries(), 1)
	require.Len(t, set.Manifest().Skipped, 1)
	assert.Equal(t, uint64(0x2000), set.Manifest().Skipped[0].Start)

	names, err := store.List(ctx, "s/")
	require.NoError(t, err)
	assert.Equal(t, []string{"s/0_40.bin", "s/manifest.json"}, names)
}

func TestCaptureShortSource(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	w, err := Create(ctx, store, "short", "game", 0)
	require.NoError(t, err)
	err = w.Add(ctx, process.Region{Start: 0, End: 16}, strings.NewReader("only eight"))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestPairsAndFind(t *testing.T) {
	store := blobstore.NewMemoryStore()

	old := snapshot(t, store, "old", process.NewMemory("g").
		Map(0x1000, make([]byte, 32), "").
		Map(0x3000, make([]byte, 32), ""))
	newer := snapshot(t, store, "new", process.NewMemory("g").
		Map(0x1000, make([]byte, 32), "").
		Map(0x5000, make([]byte, 32), ""), WithCompression(CompressionLZ4))

	pairs := Pairs(old, newer)
	require.Len(t, pairs, 1)
	assert.Equal(t, "0_20.bin", pairs[0].Old.Blob)
	assert.Equal(t, "0_20.bin.lz4", pairs[0].New.Blob)

	e, ok := old.Find(0x3010)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2000), e.Offset)

	_, ok = old.Find(0x2000)
	assert.False(t, ok)
	_, ok = old.Find(0x10)
	assert.False(t, ok)
}

func TestListLoadDelete(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewLocalStore(t.TempDir())

	mem := process.NewMemory("g").Map(0x1000, make([]byte, 8), "")
	snapshot(t, store, "a", mem)
	snapshot(t, store, "b", mem)

	names, err := List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, Delete(ctx, store, "a"))
	_, err = Load(ctx, store, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Load(ctx, store, "../etc")
	assert.ErrorIs(t, err, ErrInvalidName)

	// Recreating a set replaces its blobs.
	snapshot(t, store, "b", process.NewMemory("g").Map(0x1000, make([]byte, 16), ""))
	set, err := Load(ctx, store, "b")
	require.NoError(t, err)
	require.Len(t, set.Entries(), 1)
	assert.Equal(t, uint64(16), set.Entries()[0].Length)
}

func TestLoadWithoutManifest(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, "raw/10_4.bin", bytes.NewReader([]byte{1, 2, 3, 4}), 4))

	set, err := Load(ctx, store, "raw")
	require.NoError(t, err)
	assert.Zero(t, set.Base())
	require.Len(t, set.Entries(), 1)

	got, err := set.Read(ctx, set.Entries()[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
