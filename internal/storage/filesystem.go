package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"batchgen/internal/domain"
)

// FileStore persists artifacts onto the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available; the ObjectStore contract keeps it swappable.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Upload persists the provided bytes at the given relative key and returns
// the canonicalized storage key as the object URI. Keys are cleaned to
// prevent directory traversal.
func (s *FileStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: no store configured", domain.ErrStorage)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: ensure directory: %v", domain.ErrStorage, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write file: %v", domain.ErrStorage, err)
	}
	return cleanKey, nil
}

// Download reads the bytes stored at the given URI.
func (s *FileStore) Download(ctx context.Context, uri string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no store configured", domain.ErrStorage)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, cleanKey)
		}
		return nil, fmt.Errorf("%w: read file: %v", domain.ErrStorage, err)
	}
	return data, nil
}

// List returns the URIs of every object under the prefix in lexical order.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no store configured", domain.ErrStorage)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanPrefix, err := sanitizeKey(prefix)
	if err != nil {
		return nil, err
	}
	root := filepath.Join(s.basePath, filepath.FromSlash(cleanPrefix))
	var uris []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.basePath, path)
		if relErr != nil {
			return relErr
		}
		uris = append(uris, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", domain.ErrStorage, cleanPrefix, err)
	}
	sort.Strings(uris)
	return uris, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: key is required", domain.ErrStorage)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: invalid key %q", domain.ErrStorage, key)
	}
	return cleaned, nil
}

var _ ObjectStore = (*FileStore)(nil)
