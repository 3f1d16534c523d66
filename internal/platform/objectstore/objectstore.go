// Package objectstore wraps the S3-compatible bucket that archived chat
// log batches land in.
package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/anhdng/ielts-pipeline/internal/config"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
)

// Store writes objects into a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and makes sure the configured bucket
// exists.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	log := logger.FromContext(ctx)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		log.Info("creating bucket", "bucket", cfg.Bucket)
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Put writes one object under key. It returns only after the store has
// acknowledged the write.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType, contentEncoding string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:     contentType,
			ContentEncoding: contentEncoding,
		})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", key, err)
	}
	return nil
}
