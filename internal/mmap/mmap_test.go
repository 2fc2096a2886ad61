package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlob(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "1000_10.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestMapping(t *testing.T) {
	data := []byte("0123456789abcdef")
	m, err := Open(writeBlob(t, data))
	require.NoError(t, err)

	assert.Equal(t, data, m.Bytes())
	assert.Equal(t, len(data), m.Len())
	assert.NoError(t, m.Advise(AccessSequential))

	t.Run("Window", func(t *testing.T) {
		w, err := m.Window(12, 4)
		require.NoError(t, err)
		assert.Equal(t, "cdef", string(w))

		w, err = m.Window(14, 4)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, "ef", string(w))

		_, err = m.Window(16, 1)
		assert.ErrorIs(t, err, io.EOF)

		_, err = m.Window(-1, 1)
		assert.ErrorIs(t, err, ErrInvalidOffset)
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(t, m.Close())
		require.NoError(t, m.Close())
		assert.Nil(t, m.Bytes())
		assert.Equal(t, len(data), m.Len())
		assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)
		_, err := m.Window(0, 1)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestOpenEmpty(t *testing.T) {
	m, err := Open(writeBlob(t, nil))
	require.NoError(t, err)
	defer m.Close()

	assert.Empty(t, m.Bytes())
	_, err = m.Window(0, 1)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, m.Advise(AccessDontNeed))
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
