// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indexes/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// Reads use ranged GETs, Create streams through multipart uploads and List
// pages through ListObjectsV2.
package s3
