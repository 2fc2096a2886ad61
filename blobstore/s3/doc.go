// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("captures/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
// Reads use ranged GETs. Writes go through the multipart upload manager, so
// large captured regions are uploaded in parallel parts.
package s3
