//go:build linux

package linux

import (
	"context"
	"os"
	"testing"
	"unsafe"

	"github.com/hupe1980/memgo/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var selfTarget = []byte{1, 2, 3, 4, 5, 6, 7, 8}

func TestSelfReadWrite(t *testing.T) {
	p, err := Open(os.Getpid())
	require.NoError(t, err)
	defer p.Close()

	buf := selfTarget
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))

	got := make([]byte, len(buf))
	if _, err := p.ReadAt(got, addr); err != nil {
		t.Skipf("process_vm_readv unavailable: %v", err)
	}
	assert.Equal(t, buf, got)

	_, err = p.WriteAt([]byte{9, 9}, addr+2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 9, 9, 5, 6, 7, 8}, buf)

	regions, err := p.Regions(context.Background(), process.Filter{WritableOnly: true})
	require.NoError(t, err)
	_, ok := process.Find(regions, addr)
	assert.True(t, ok)

	assert.NoError(t, p.Check())
}

func TestOpenMissingProcess(t *testing.T) {
	_, err := Open(1 << 30)
	assert.ErrorIs(t, err, process.ErrProcessLost)
}
