package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSBackend stores blobs in a Google Cloud Storage bucket under an
// optional object-name prefix.
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBackend constructs a client using application-default credentials.
func NewGCSBackend(ctx context.Context, bucket, prefix string) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: new gcs client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (b *GCSBackend) object(path string) string {
	if b.prefix == "" {
		return path
	}
	return b.prefix + "/" + strings.TrimPrefix(path, "/")
}

func (b *GCSBackend) Write(ctx context.Context, path string, data []byte) (string, error) {
	name := b.object(path)
	w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: gcs close %s: %w", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", b.bucket, name), nil
}

func (b *GCSBackend) Read(ctx context.Context, path string) ([]byte, error) {
	name := b.object(path)
	r, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs read %s: %w", name, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	full := b.object(prefix)
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: full})
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: gcs list %s: %w", full, err)
		}
		out = append(out, strings.TrimPrefix(attrs.Name, b.prefix+"/"))
	}
	return out, nil
}

func (b *GCSBackend) Exists(ctx context.Context, path string) (bool, error) {
	name := b.object(path)
	_, err := b.client.Bucket(b.bucket).Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: gcs attrs %s: %w", name, err)
	}
	return true, nil
}

func (b *GCSBackend) Delete(ctx context.Context, path string) (bool, error) {
	name := b.object(path)
	err := b.client.Bucket(b.bucket).Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: gcs delete %s: %w", name, err)
	}
	return true, nil
}

var _ Backend = (*GCSBackend)(nil)
