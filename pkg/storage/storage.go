package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotFound = errors.New("storage: object not found")

// Info describes a stored object.
type Info struct {
	Size int64
}

// Store saves and retrieves uploaded document bytes by key.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Stat(ctx context.Context, key string) (Info, error)
	// Locate returns where the bytes live: a path, URL or bucket URI.
	Locate(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// LocalPather is implemented by stores whose objects are plain local files.
type LocalPather interface {
	LocalPath(key string) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend string // local (default), minio, gcs

	LocalDir string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	GCSBucket          string
	GCSCredentialsFile string
}

// New builds the backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		return NewFileStore(cfg.LocalDir)
	case "minio", "s3":
		return NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// DocumentKey builds the storage key for an uploaded file.
func DocumentKey(runID, filename string) string {
	return path.Join("documents", runID, SafeFilename(filename))
}

// SafeFilename keeps letters, digits, dot, dash and underscore.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "document"
	}
	return out
}

// Materialize returns a local file path holding the object's bytes.
// cleanup removes any temporary copy and is always safe to call.
func Materialize(ctx context.Context, s Store, key string) (string, func(), error) {
	noop := func() {}
	if lp, ok := s.(LocalPather); ok {
		p, err := lp.LocalPath(key)
		if err != nil {
			return "", noop, err
		}
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return "", noop, ErrNotFound
			}
			return "", noop, err
		}
		return p, noop, nil
	}

	rc, err := s.Open(ctx, key)
	if err != nil {
		return "", noop, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "vetrecords-*"+path.Ext(key))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

const defaultPresignExpiry = 15 * time.Minute
