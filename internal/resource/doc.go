// Package resource governs the resources a scan consumes.
//
// The Controller manages three resource types:
//
//   - Memory: bytes held in chunk buffers across all workers (semaphore)
//   - Workers: concurrent scan workers (semaphore)
//   - Reads: foreign-memory read throughput (token bucket)
//
// # Memory
//
// Scan workers reserve the size of a chunk buffer before reading it and
// release it once the chunk has been scanned:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 256 << 20,
//	})
//
//	if err := rc.AcquireMemory(ctx, chunkSize); err != nil {
//	    return err
//	}
//	defer rc.ReleaseMemory(chunkSize)
//
// AcquireMemory blocks until budget is free; TryAcquireMemory fails fast with
// ErrMemoryLimitExceeded.
//
// # Read throttling
//
//	rc := resource.NewController(resource.Config{
//	    ReadLimitBytesPerSec: 512 << 20,
//	})
//	if err := rc.AcquireRead(ctx, len(buf)); err != nil {
//	    return err
//	}
//
// Reads larger than one second of budget are admitted in steps.
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
