package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobStore keeps objects in a gocloud bucket (GCS, S3 or in-memory).
type BlobStore struct {
	bucket *blob.Bucket
	scheme string
	name   string
	prefix string
}

func newBlobStore(bucket *blob.Bucket, scheme, name, prefix string) *BlobStore {
	return &BlobStore{bucket: bucket, scheme: scheme, name: name, prefix: prefix}
}

func (s *BlobStore) write(ctx context.Context, key string, data []byte) error {
	w, err := s.bucket.NewWriter(ctx, s.prefix+key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// WriteTemp writes data under a uuid-suffixed temp key.
func (s *BlobStore) WriteTemp(ctx context.Context, key string, data []byte) (Staged, error) {
	tempKey := key + tempMarker + uuid.New().String()
	if err := s.write(ctx, tempKey, data); err != nil {
		return Staged{}, err
	}
	return Staged{TempKey: tempKey, Key: key}, nil
}

// Finalize copies every temp object to its final key and then deletes the
// temp objects. An object already published under a key is copied aside
// first and copied back if a later object fails.
func (s *BlobStore) Finalize(ctx context.Context, staged []Staged) error {
	backups := make(map[string]string)
	for i, st := range staged {
		if err := s.finalizeOne(ctx, st, backups); err != nil {
			for _, done := range staged[:i] {
				s.bucket.Delete(ctx, s.prefix+done.Key)
			}
			for key, backup := range backups {
				if rerr := s.copyObject(ctx, backup, key); rerr == nil {
					s.bucket.Delete(ctx, s.prefix+backup)
				}
			}
			s.Abort(ctx, staged)
			return fmt.Errorf("finalize %s -> %s: %w", st.TempKey, st.Key, err)
		}
	}

	for _, st := range staged {
		s.bucket.Delete(ctx, s.prefix+st.TempKey) // ignore errors
	}
	for _, backup := range backups {
		s.bucket.Delete(ctx, s.prefix+backup)
	}
	return nil
}

func (s *BlobStore) finalizeOne(ctx context.Context, st Staged, backups map[string]string) error {
	exists, err := s.bucket.Exists(ctx, s.prefix+st.Key)
	if err != nil {
		return err
	}
	if exists {
		backup := st.Key + tempMarker + "prev-" + uuid.New().String()
		if err := s.copyObject(ctx, st.Key, backup); err != nil {
			return fmt.Errorf("copy aside %s: %w", st.Key, err)
		}
		backups[st.Key] = backup
	}
	return s.copyObject(ctx, st.TempKey, st.Key)
}

func (s *BlobStore) copyObject(ctx context.Context, srcKey, dstKey string) error {
	r, err := s.bucket.NewReader(ctx, s.prefix+srcKey, nil)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcKey, err)
	}
	defer r.Close()

	w, err := s.bucket.NewWriter(ctx, s.prefix+dstKey, nil)
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dstKey, err)
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("copy to %s: %w", dstKey, err)
	}

	return w.Close()
}

// Abort removes temporary objects without publishing.
func (s *BlobStore) Abort(ctx context.Context, staged []Staged) error {
	var lastErr error
	for _, st := range staged {
		err := s.bucket.Delete(ctx, s.prefix+st.TempKey)
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			lastErr = err
		}
	}
	return lastErr
}

// Read returns the content of key.
func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.prefix+key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if key has been published.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, s.prefix+key)
}

// Head returns metadata about a stored object.
func (s *BlobStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, s.prefix+key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: s.prefix + prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		key := strings.TrimPrefix(obj.Key, s.prefix)
		if IsTemp(key) {
			continue
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, s.prefix+key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

var _ Store = (*BlobStore)(nil)
