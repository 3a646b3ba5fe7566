// Package metadata records published archives and validation results in a
// PostgreSQL catalog.
package metadata

import (
	"context"
	"log/slog"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
)

// Writer records lineage for published archives.
type Writer interface {
	RecordArchive(ctx context.Context, rec ArchiveRecord) error
	RecordQuality(ctx context.Context, rec QualityRecord) error
	Close() error
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a
// no-op writer otherwise.
func NewWriter(ctx context.Context, cfg config.CatalogConfig, log *slog.Logger) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return noopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg.PostgresDSN, log)
}

type noopWriter struct{}

func (noopWriter) RecordArchive(context.Context, ArchiveRecord) error { return nil }
func (noopWriter) RecordQuality(context.Context, QualityRecord) error { return nil }
func (noopWriter) Close() error                                        { return nil }
