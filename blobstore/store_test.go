package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/memgo/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Lifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	data := []byte("hello world, this is a captured region")
	require.NoError(t, store.Put(ctx, "cap/0000_0026.bin", bytes.NewReader(data), int64(len(data))))

	_, err := os.Stat(filepath.Join(tmpDir, "cap", "0000_0026.bin"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, "cap/0000_0026.bin")
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	all, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, data, all)

	require.NoError(t, store.Put(ctx, "cap/manifest.json", strings.NewReader("{}"), 2))
	require.NoError(t, store.Put(ctx, "other.bin", strings.NewReader("x"), 1))

	names, err := store.List(ctx, "cap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cap/0000_0026.bin", "cap/manifest.json"}, names)

	require.NoError(t, store.Delete(ctx, "cap/manifest.json"))
	require.NoError(t, store.Delete(ctx, "cap/manifest.json"))

	_, err = store.Open(ctx, "cap/manifest.json")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err = store.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_EmptyBlob(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "empty.bin", bytes.NewReader(nil), 0))
	got, err := Get(ctx, store, "empty.bin")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalStore_FailedPutKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	store := NewLocalStoreFS(dir, ffs)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a.bin", strings.NewReader("first"), 5))

	ffs.AddRule("a.bin", fs.Fault{FailAfterBytes: 2})
	err := store.Put(ctx, "a.bin", strings.NewReader("second"), 6)
	require.ErrorIs(t, err, fs.ErrInjected)

	got, err := Get(ctx, store, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bin"}, names)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Open(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "b", strings.NewReader("bbb"), 3))
	require.NoError(t, store.Put(ctx, "a", strings.NewReader("aa"), 2))
	require.ErrorIs(t, store.Put(ctx, "c", strings.NewReader("c"), 4), io.ErrUnexpectedEOF)
	assert.Equal(t, 2, store.Puts())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	blob, err := store.Open(ctx, "b")
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := blob.ReadAt(ctx, buf, 1)
	assert.Equal(t, 2, n)
	assert.Error(t, err)

	require.NoError(t, store.Delete(ctx, "b"))
	_, err = store.Open(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachingStore(t *testing.T) {
	inner := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, inner.Put(ctx, "x", strings.NewReader("xxxx"), 4))
	require.NoError(t, inner.Put(ctx, "y", strings.NewReader("yy"), 2))

	cs, err := NewCachingStore(inner, 1)
	require.NoError(t, err)

	for range 3 {
		got, err := Get(ctx, cs, "x")
		require.NoError(t, err)
		assert.Equal(t, "xxxx", string(got))
	}
	assert.Equal(t, 1, inner.Opens())
	assert.True(t, cs.Cached("x"))

	// Capacity of one evicts x.
	_, err = Get(ctx, cs, "y")
	require.NoError(t, err)
	assert.False(t, cs.Cached("x"))

	require.NoError(t, cs.Put(ctx, "y", strings.NewReader("zz"), 2))
	assert.False(t, cs.Cached("y"))
	got, err := Get(ctx, cs, "y")
	require.NoError(t, err)
	assert.Equal(t, "zz", string(got))

	require.NoError(t, cs.Delete(ctx, "y"))
	_, err = cs.Open(ctx, "y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachingStore_Prefetch(t *testing.T) {
	inner := NewMemoryStore()
	ctx := context.Background()
	names := []string{"a", "b", "c"}
	for _, n := range names {
		require.NoError(t, inner.Put(ctx, n, strings.NewReader(n), 1))
	}

	cs, err := NewCachingStore(inner, 0)
	require.NoError(t, err)
	require.NoError(t, cs.Prefetch(ctx, names, 2))
	for _, n := range names {
		assert.True(t, cs.Cached(n))
	}
	assert.Equal(t, 3, inner.Opens())

	err = cs.Prefetch(ctx, []string{"missing"}, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", ContentType("old/manifest.json"))
	assert.Equal(t, "application/zstd", ContentType("old/0000_1000.bin.zst"))
	assert.Equal(t, "application/x-lz4", ContentType("old/0000_1000.bin.lz4"))
	assert.Equal(t, "application/octet-stream", ContentType("old/0000_1000.bin"))
}
