package resource

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_ReadLimit(t *testing.T) {
	c := NewController(Config{ReadLimitBytesPerSec: 1000})
	ctx := context.Background()

	require.NoError(t, c.AcquireRead(ctx, 100))
	assert.Equal(t, int64(100), c.ReadBytes())

	c2 := NewController(Config{})
	require.NoError(t, c2.AcquireRead(ctx, 1<<30))
}

func TestController_ReadLargerThanBurst(t *testing.T) {
	// 2.5 seconds of budget would fail with a single WaitN.
	c := NewController(Config{ReadLimitBytesPerSec: 1 << 20})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, c.AcquireRead(ctx, 5<<19))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestController_ReadCancelled(t *testing.T) {
	c := NewController(Config{ReadLimitBytesPerSec: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.AcquireRead(ctx, 1))
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller

	assert.NoError(t, c.AcquireMemory(context.Background(), 100))
	assert.NoError(t, c.TryAcquireMemory(100))
	c.ReleaseMemory(100)
	assert.Zero(t, c.MemoryUsage())
	assert.Zero(t, c.MemoryLimit())

	assert.NoError(t, c.AcquireWorker(context.Background()))
	assert.True(t, c.TryAcquireWorker())
	c.ReleaseWorker()

	assert.NoError(t, c.AcquireRead(context.Background(), 100))
	assert.Zero(t, c.ReadBytes())
}

func TestRateLimitedReader(t *testing.T) {
	c := NewController(Config{ReadLimitBytesPerSec: 10000})
	r := NewRateLimitedReader(context.Background(), bytes.NewReader([]byte("hello world")), c)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assert.Equal(t, int64(11), c.ReadBytes())
}

func TestRateLimitedReader_ContextCanceled(t *testing.T) {
	c := NewController(Config{ReadLimitBytesPerSec: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRateLimitedReader(ctx, bytes.NewReader([]byte("hello world")), c)
	_, err := r.Read(make([]byte, 1000))
	assert.Error(t, err)
}
