package items

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

const defaultSignedURLTTL = 5 * time.Minute

// S3ContentStorage resolves opaque content keys against the external media
// bucket. The core never reads the bytes; it only presigns and deletes.
type S3ContentStorage struct {
	client *minio.Client
	bucket string
}

func NewS3ContentStorage(client *minio.Client, bucket string) *S3ContentStorage {
	return &S3ContentStorage{
		client: client,
		bucket: strings.TrimSpace(bucket),
	}
}

func (s *S3ContentStorage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("s3 client is nil")
	}
	if key == "" {
		return "", ErrValidation
	}
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}

	return presigned.String(), nil
}

func (s *S3ContentStorage) Delete(ctx context.Context, key string) error {
	if s.client == nil || key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete content object: %w", err)
	}
	return nil
}
