package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements Storage on local disk. Objects are served back by
// the HTTP server under baseURL.
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage creates a new LocalStorage instance rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "adreel-media")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}

	return &LocalStorage{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the storage root.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Put writes data to dir/key and returns baseURL/key.
func (s *LocalStorage) Put(ctx context.Context, key, _ string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	// Write to a temp file first so readers never see a partial object.
	f, err := os.CreateTemp(filepath.Dir(path), ".upload_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename object: %w", err)
	}

	return s.baseURL + "/" + key, nil
}

func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, clean), nil
}

var _ Storage = (*LocalStorage)(nil)
