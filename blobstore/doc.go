// Package blobstore provides the storage abstraction behind segment loads
// and flushes.
//
// BlobStore is the interface for reading and writing immutable blobs
// (binlogs, stats, index files). Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests and staging
//   - LocalStore: local filesystem with atomic writes
//   - minio.Store: any S3-compatible endpoint via the MinIO client
//   - s3.Store: Amazon S3 with managed multipart uploads
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom backends:
//
//	type BlobStore interface {
//	    Put(ctx, name, data) error         // Atomic write
//	    Open(ctx, name) (Blob, error)      // Open for reading
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Open must return an error satisfying errors.Is(err, ErrNotFound) for
// missing blobs.
package blobstore
