// Package s3 provides an Amazon S3 implementation of the
// blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("segments/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	seg, err := growseg.NewSegment(schema, growseg.WithBlobStore(store))
//
// # Features
//
//   - Range reads for partial binlog fetches
//   - Multipart uploads for large flushes
//   - Automatic pagination for listing
//   - Configurable key prefix for multi-tenant isolation
package s3
