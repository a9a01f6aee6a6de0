package artifact

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Store persists artifact files. Paths returned by Save are what the event
// store records.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Remove(ctx context.Context, path string) error
}

// ObjectStore is an optional remote copy of artifacts.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, key string) error
}

// FileStore writes artifacts under a local directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory artifacts are written to.
func (s *FileStore) Dir() string { return s.dir }

// Save writes data under name and returns its path.
func (s *FileStore) Save(_ context.Context, name string, data []byte) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}

// Remove deletes path. A missing file is not an error.
func (s *FileStore) Remove(_ context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

// Open resolves a bare file name inside the store for serving.
func (s *FileStore) Open(name string) (*os.File, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(s.dir, name))
}

// MirrorPrefix is the object key prefix used for mirrored artifacts.
const MirrorPrefix = "artifacts/"

// MirroredStore writes locally first and copies every artifact to an object
// store. Mirror failures are logged and never fail the local operation.
type MirroredStore struct {
	local  Store
	remote ObjectStore
}

// NewMirroredStore wraps local with an object store copy.
func NewMirroredStore(local Store, remote ObjectStore) *MirroredStore {
	return &MirroredStore{local: local, remote: remote}
}

func (m *MirroredStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	path, err := m.local.Save(ctx, name, data)
	if err != nil {
		return "", err
	}
	if err := m.remote.PutObject(ctx, MirrorPrefix+name, data, "image/jpeg"); err != nil {
		log.Printf("[Artifacts] Mirror upload of %s failed: %v", name, err)
	}
	return path, nil
}

func (m *MirroredStore) Remove(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if err := m.remote.RemoveObject(ctx, MirrorPrefix+filepath.Base(path)); err != nil {
		log.Printf("[Artifacts] Mirror removal of %s failed: %v", path, err)
	}
	return m.local.Remove(ctx, path)
}
