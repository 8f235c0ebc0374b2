// Package objects implements storage.ObjectStore on a local directory,
// MinIO (or any S3 compatible service) and Google Cloud Storage.
package objects

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/poiesic/plansight/core"
	"github.com/poiesic/plansight/storage"
)

// LocalStore keeps objects in a billy filesystem.
type LocalStore struct {
	fs billy.Filesystem
}

var _ storage.ObjectStore = (*LocalStore)(nil)

// NewLocalStore stores objects under root on the local disk.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, core.ConfigurationError("object root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, core.ConfigurationError("cannot create object root %s: %v", root, err)
	}
	return NewFilesystemStore(osfs.New(root)), nil
}

// NewFilesystemStore stores objects in fs.
func NewFilesystemStore(fs billy.Filesystem) *LocalStore {
	return &LocalStore{fs: fs}
}

// Upload copies localPath into the store unless object already exists.
func (s *LocalStore) Upload(ctx context.Context, localPath, object, contentType string) (string, error) {
	name, err := cleanObject(object)
	if err != nil {
		return "", err
	}
	if _, err := s.fs.Stat(name); err == nil {
		return object, nil
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}
	return s.Put(ctx, object, data, contentType)
}

// Put writes data to object.
func (s *LocalStore) Put(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	name, err := cleanObject(object)
	if err != nil {
		return "", err
	}
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return "", err
	}
	if err := util.WriteFile(s.fs, name, data, 0o644); err != nil {
		return "", err
	}
	return object, nil
}

// Get reads object.
func (s *LocalStore) Get(ctx context.Context, object string) ([]byte, error) {
	name, err := cleanObject(object)
	if err != nil {
		return nil, err
	}
	data, err := util.ReadFile(s.fs, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: object %s", storage.ErrNotFound, object)
	}
	return data, err
}

// SignedURL returns a file URL. Local files do not expire.
func (s *LocalStore) SignedURL(ctx context.Context, object string, expiry time.Duration) (string, error) {
	name, err := cleanObject(object)
	if err != nil {
		return "", err
	}
	if _, err := s.fs.Stat(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: object %s", storage.ErrNotFound, object)
		}
		return "", err
	}
	return "file://" + filepath.ToSlash(s.fs.Join(s.fs.Root(), name)), nil
}

// cleanObject rejects object names that escape the store root.
func cleanObject(object string) (string, error) {
	name := path.Clean("/" + object)[1:]
	if name == "" || name != object {
		return "", fmt.Errorf("%w: invalid object name %q", storage.ErrInvalidQuery, object)
	}
	return name, nil
}
