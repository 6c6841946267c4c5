package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves uploaded files to disk under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: abs}, nil
}

// LocalPath maps a key to a file under the base directory.
func (f *FileStore) LocalPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(f.basePath, clean), nil
}

// Save writes r to the key's path, replacing any existing file.
func (f *FileStore) Save(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target, err := f.LocalPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(target)
		return fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

func (f *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := f.LocalPath(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

func (f *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := f.Stat(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (f *FileStore) Stat(_ context.Context, key string) (Info, error) {
	target, err := f.LocalPath(key)
	if err != nil {
		return Info{}, err
	}
	st, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, ErrNotFound
		}
		return Info{}, err
	}
	if st.IsDir() {
		return Info{}, ErrNotFound
	}
	return Info{Size: st.Size()}, nil
}

// Locate returns the absolute path of the file.
func (f *FileStore) Locate(ctx context.Context, key string) (string, error) {
	if _, err := f.Stat(ctx, key); err != nil {
		return "", err
	}
	return f.LocalPath(key)
}

// Delete removes the file and its now-empty parent folder.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target, err := f.LocalPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	dir := filepath.Dir(target)
	if dir != f.basePath {
		_ = os.Remove(dir)
	}
	return nil
}
