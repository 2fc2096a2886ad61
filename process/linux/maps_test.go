package linux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `55d0c8800000-55d0c8822000 r--p 00000000 08:01 1311 /usr/bin/game
55d0c8a00000-55d0c8a21000 rw-p 00000000 00:00 0          [heap]
7f1c2e000000-7f1c2e021000 rw-p 00000000 00:00 0
7f1c30000000-7f1c30001000 ---p 00000000 00:00 0
7ffd4b7e1000-7ffd4b802000 rw-p 00000000 00:00 0          [stack]
7f1c31000000-7f1c31001000 r--p 00000000 08:01 99 /opt/My Game/data.pak
`

func TestParseMaps(t *testing.T) {
	regions, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, regions, 6)

	heap := regions[1]
	assert.Equal(t, uint64(0x55d0c8a00000), heap.Start)
	assert.Equal(t, uint64(0x55d0c8a21000), heap.End)
	assert.Equal(t, "rw-p", heap.Perms)
	assert.Equal(t, "[heap]", heap.Path)

	assert.Empty(t, regions[2].Path)
	assert.False(t, regions[3].Readable())
	assert.Equal(t, "/opt/My Game/data.pak", regions[5].Path)
}

func TestParseMapsRejectsGarbage(t *testing.T) {
	_, err := ParseMaps(strings.NewReader("zzzz-1000 rw-p 0 0 0\n"))
	assert.Error(t, err)

	_, err = ParseMaps(strings.NewReader("2000-1000 rw-p 0 0 0\n"))
	assert.Error(t, err)
}
