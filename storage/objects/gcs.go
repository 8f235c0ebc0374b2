package objects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/poiesic/plansight/core"
	plstorage "github.com/poiesic/plansight/storage"
)

// GCSStore keeps objects in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	logger *slog.Logger
}

var _ plstorage.ObjectStore = (*GCSStore)(nil)

// NewGCSStore opens bucket with application default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, core.ConfigurationError("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, core.ExternalServiceError("gcs", err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucket),
		logger: slog.Default().With("component", "gcs", "bucket", bucket),
	}, nil
}

// Close closes the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Upload copies localPath into the bucket unless object already exists.
func (s *GCSStore) Upload(ctx context.Context, localPath, object, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	writer := s.bucket.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, f); err != nil {
		_ = writer.Close()
		if preconditionFailed(err) {
			return object, nil
		}
		return "", core.ExternalServiceError("gcs", err)
	}
	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			s.logger.Debug("object exists, skipping upload", "object", object)
			return object, nil
		}
		return "", core.ExternalServiceError("gcs", err)
	}
	return object, nil
}

// Put writes data to object.
func (s *GCSStore) Put(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	writer := s.bucket.Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return "", core.ExternalServiceError("gcs", err)
	}
	if err := writer.Close(); err != nil {
		return "", core.ExternalServiceError("gcs", err)
	}
	return object, nil
}

// Get reads object.
func (s *GCSStore) Get(ctx context.Context, object string) ([]byte, error) {
	reader, err := s.bucket.Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: object %s", plstorage.ErrNotFound, object)
		}
		return nil, core.ExternalServiceError("gcs", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// SignedURL returns a V4 signed GET URL.
func (s *GCSStore) SignedURL(ctx context.Context, object string, expiry time.Duration) (string, error) {
	u, err := s.bucket.SignedURL(object, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", core.ExternalServiceError("gcs", err)
	}
	return u, nil
}

// preconditionFailed reports whether err is an HTTP 412 from a DoesNotExist write.
func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
