// Package storage provides a pluggable blob storage backend selected by
// URI scheme (s3://, gs://, else local filesystem).
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Backend is the storage contract consumed by the rest of the core. All
// writes create missing intermediate directories/prefixes; reads are
// single-object (no streaming API is required by the core).
type Backend interface {
	Write(ctx context.Context, path string, data []byte) (uri string, err error)
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) (bool, error)
}

// New dispatches on uri's scheme to construct the matching Backend.
//
//   - "s3://bucket/prefix"  -> S3Backend
//   - "gs://bucket/prefix"  -> GCSBackend
//   - anything else         -> LocalBackend rooted at uri
func New(ctx context.Context, uri string) (Backend, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		bucket, prefix := splitBucketPrefix(strings.TrimPrefix(uri, "s3://"))
		return NewS3Backend(ctx, bucket, prefix)
	case strings.HasPrefix(uri, "gs://"):
		bucket, prefix := splitBucketPrefix(strings.TrimPrefix(uri, "gs://"))
		return NewGCSBackend(ctx, bucket, prefix)
	default:
		return NewLocalBackend(uri), nil
	}
}

func splitBucketPrefix(rest string) (bucket, prefix string) {
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// ErrUnsupportedScheme describes a storage URI whose scheme has no
// backend. New does not return it: a URI without an s3:// or gs://
// prefix resolves to a LocalBackend.
type ErrUnsupportedScheme struct{ URI string }

func (e *ErrUnsupportedScheme) Error() string {
	return fmt.Sprintf("storage: unsupported uri %q", e.URI)
}
