// Package blobstore provides the storage abstraction for memory captures.
//
// BlobStore is the interface for reading and writing immutable data blobs
// (captured regions and their manifests). Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem, atomic writes and mmap reads
//   - MemoryStore: In-memory, for tests
//   - CachingStore: LRU of whole blobs in front of another store
//   - minio.Store: MinIO or any S3-compatible endpoint
//   - s3.Store: Amazon S3 with multipart uploads
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, r, size) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
