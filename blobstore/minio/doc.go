// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible storage systems like Ceph,
// SeaweedFS and Garage, without any AWS dependencies.
//
// # Basic Usage
//
//	store, err := minio.Dial(ctx, "localhost:9000", "captures",
//	    minio.WithCredentials("minioadmin", "minioadmin"),
//	    minio.WithInsecure(),
//	    minio.WithPrefix("game/"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	set, err := capture.Load(ctx, store, "before")
package minio
