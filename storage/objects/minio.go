package objects

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

// MinioConfig locates a bucket on an S3 compatible service.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
}

// MinioStore keeps objects in a MinIO bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ storage.ObjectStore = (*MinioStore)(nil)

// NewMinioStore connects to the service and creates the bucket if needed.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, core.ConfigurationError("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, core.ConfigurationError("minio client: %v", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, core.ExternalServiceError("minio", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, core.ExternalServiceError("minio", err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: slog.Default().With("component", "minio", "bucket", cfg.Bucket),
	}, nil
}

// Upload copies localPath into the bucket unless object already exists.
func (s *MinioStore) Upload(ctx context.Context, localPath, object, contentType string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, object, minio.StatObjectOptions{}); err == nil {
		s.logger.Debug("object exists, skipping upload", "object", object)
		return object, nil
	}
	if _, err := s.client.FPutObject(ctx, s.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", core.ExternalServiceError("minio", err)
	}
	return object, nil
}

// Put writes data to object.
func (s *MinioStore) Put(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	if _, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", core.ExternalServiceError("minio", err)
	}
	return object, nil
}

// Get reads object.
func (s *MinioStore) Get(ctx context.Context, object string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, core.ExternalServiceError("minio", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: object %s", storage.ErrNotFound, object)
		}
		return nil, core.ExternalServiceError("minio", err)
	}
	return data, nil
}

// SignedURL returns a presigned GET URL.
func (s *MinioStore) SignedURL(ctx context.Context, object string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, object, expiry, url.Values{})
	if err != nil {
		return "", core.ExternalServiceError("minio", err)
	}
	return u.String(), nil
}
