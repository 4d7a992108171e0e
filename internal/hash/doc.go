// Package hash provides the CRC32-Castagnoli checksum shared by the
// persistence container and the S3 blob store.
//
// One-shot:
//
//	sum := hash.CRC32C(data)
//
// Streaming:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk)
//	sum := h.Sum32()
package hash
