package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/biochar-datalogger/internal/storage"
)

// Object is a payload to publish under Key.
type Object struct {
	Key      string
	Data     []byte
	Checksum string
}

// NewObject wraps data and computes its checksum.
func NewObject(key string, data []byte) Object {
	return Object{Key: key, Data: data, Checksum: Checksum(data)}
}

// Writer publishes a set of objects as one unit: every object is written to
// a temp key first and only then moved into place.
type Writer struct {
	store storage.Store
	log   *slog.Logger
}

func NewWriter(store storage.Store, log *slog.Logger) *Writer {
	return &Writer{store: store, log: log}
}

// Publish writes all objects or none. On failure every temp object is
// removed and no object is visible under its final key.
func (w *Writer) Publish(ctx context.Context, objects []Object) error {
	staged := make([]storage.Staged, 0, len(objects))
	for _, obj := range objects {
		st, err := w.store.WriteTemp(ctx, obj.Key, obj.Data)
		if err != nil {
			if abortErr := w.store.Abort(ctx, staged); abortErr != nil {
				w.log.Warn("abort failed", "error", abortErr)
			}
			return fmt.Errorf("stage %s: %w", obj.Key, err)
		}
		staged = append(staged, st)
	}

	if err := w.store.Finalize(ctx, staged); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	for _, obj := range objects {
		w.log.Info("published", "uri", w.store.URI(obj.Key), "bytes", len(obj.Data), "checksum", obj.Checksum)
	}
	return nil
}
