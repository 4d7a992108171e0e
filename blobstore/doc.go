// Package blobstore provides storage for persisted binary sets.
//
// BlobStore is the interface for reading and writing immutable named blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process, for tests and ephemeral runtimes
//   - LocalStore: local filesystem, reads through mmap
//   - minio.Store: MinIO and S3-compatible endpoints
//   - s3.Store: Amazon S3 with multipart uploads
//   - sqlite.Store: a single SQLite database file
//
// # Custom Implementations
//
// Implement BlobStore and Blob. Blobs that can expose their bytes without a
// copy should also implement Mappable; ReadAll uses it when present.
package blobstore
