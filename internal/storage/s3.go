package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend stores blobs in an S3 bucket under an optional key prefix.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend loads AWS credentials/region from the default provider
// chain (env vars, shared config, instance role) via aws-sdk-go-v2/config.
func NewS3Backend(ctx context.Context, bucket, prefix string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (b *S3Backend) key(path string) string {
	if b.prefix == "" {
		return path
	}
	return b.prefix + "/" + strings.TrimPrefix(path, "/")
}

func (b *S3Backend) Write(ctx context.Context, path string, data []byte) (string, error) {
	key := b.key(path)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("storage: s3 put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
}

func (b *S3Backend) Read(ctx context.Context, path string) ([]byte, error) {
	key := b.key(path)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	full := b.key(prefix)
	var out []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(full),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage: s3 list %s: %w", full, err)
		}
		for _, obj := range page.Contents {
			out = append(out, strings.TrimPrefix(aws.ToString(obj.Key), b.prefix+"/"))
		}
	}
	return out, nil
}

func (b *S3Backend) Exists(ctx context.Context, path string) (bool, error) {
	key := b.key(path)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("storage: s3 head %s: %w", key, err)
}

func (b *S3Backend) Delete(ctx context.Context, path string) (bool, error) {
	key := b.key(path)
	existed, err := b.Exists(ctx, path)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		return false, fmt.Errorf("storage: s3 delete %s: %w", key, err)
	}
	return true, nil
}

var _ Backend = (*S3Backend)(nil)
