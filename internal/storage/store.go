package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
)

// ErrNotExist is returned when a key is not present in the store.
var ErrNotExist = errors.New("object does not exist")

// tempMarker separates a key from the random suffix of its temp copy.
const tempMarker = ".tmp."

// Staged pairs a temp key with the key it will be published under.
type Staged struct {
	TempKey string
	Key     string
}

// Store abstracts the processed-data location. Keys are relative to the
// store's prefix.
type Store interface {
	// WriteTemp writes data next to key under a unique temporary name.
	WriteTemp(ctx context.Context, key string, data []byte) (Staged, error)

	// Finalize moves staged objects to their final keys. For object stores
	// this is copy+delete; for the local filesystem it's rename. If any
	// object fails, the ones already published are removed again.
	Finalize(ctx context.Context, staged []Staged) error

	// Abort removes temporary objects without publishing.
	Abort(ctx context.Context, staged []Staged) error

	// Read returns the content of key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Exists checks if key has been published.
	Exists(ctx context.Context, key string) (bool, error)

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns published keys starting with prefix. Temporary objects
	// are never listed.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local
	ModTime time.Time
}

// IsTemp reports whether key names a temporary object.
func IsTemp(key string) bool {
	return strings.Contains(key, tempMarker)
}

// NewStore creates a storage backend based on configuration. The local
// backend stores under localDir.
func NewStore(ctx context.Context, cfg config.StorageConfig, localDir string) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		if localDir == "" {
			return nil, fmt.Errorf("directory required for local backend")
		}
		return NewLocalStore(localDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET required for gcs backend")
		}
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET required for s3 backend")
		}
		return NewS3Store(ctx, cfg.Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region)
	case "mem":
		return NewMemStore(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
