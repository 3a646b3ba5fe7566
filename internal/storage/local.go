package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore keeps objects on the local filesystem.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, prefix), 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
		prefix:  prefix,
	}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(s.prefix+key))
}

// WriteTemp writes data to a temp file in the key's directory.
func (s *LocalStore) WriteTemp(ctx context.Context, key string, data []byte) (Staged, error) {
	if err := ctx.Err(); err != nil {
		return Staged{}, err
	}

	tempKey := key + tempMarker + uuid.New().String()
	path := s.path(tempKey)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Staged{}, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		os.Remove(path)
		return Staged{}, fmt.Errorf("write temp file %s: %w", path, err)
	}
	return Staged{TempKey: tempKey, Key: key}, nil
}

// Finalize renames temp files into place. A file already published under a
// key is moved aside first and restored if a later rename fails.
func (s *LocalStore) Finalize(ctx context.Context, staged []Staged) error {
	backups := make(map[string]string)
	for i, st := range staged {
		if err := s.finalizeOne(st, backups); err != nil {
			for _, done := range staged[:i] {
				os.Remove(s.path(done.Key))
			}
			for key, backup := range backups {
				os.Rename(s.path(backup), s.path(key))
			}
			s.Abort(ctx, staged[i:])
			return fmt.Errorf("finalize %s -> %s: %w", st.TempKey, st.Key, err)
		}
	}
	for _, backup := range backups {
		os.Remove(s.path(backup))
	}
	return nil
}

func (s *LocalStore) finalizeOne(st Staged, backups map[string]string) error {
	final := s.path(st.Key)
	if _, err := os.Stat(final); err == nil {
		backup := st.Key + tempMarker + "prev-" + uuid.New().String()
		if err := os.Rename(final, s.path(backup)); err != nil {
			return fmt.Errorf("move aside %s: %w", st.Key, err)
		}
		backups[st.Key] = backup
	}
	return os.Rename(s.path(st.TempKey), final)
}

// Abort removes temp files.
func (s *LocalStore) Abort(ctx context.Context, staged []Staged) error {
	var lastErr error
	for _, st := range staged {
		if err := os.Remove(s.path(st.TempKey)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			lastErr = err
		}
	}
	return lastErr
}

// Read returns the content of key.
func (s *LocalStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if key has been published.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Head returns size and modification time of key.
func (s *LocalStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return &ObjectInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List walks the store and returns keys starting with prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	root := s.path("")
	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if IsTemp(key) || !strings.HasPrefix(key, prefix) {
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(s.path(key))
	if err != nil {
		absPath = s.path(key)
	}
	return "file://" + absPath
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

var _ Store = (*LocalStore)(nil)
