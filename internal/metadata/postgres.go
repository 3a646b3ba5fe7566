package metadata

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatasetName is the catalog name of the processed datalogger series.
const DatasetName = "biochar_datalogger"

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	mu           sync.RWMutex
	datasetCache map[string]int64 // granularity -> dataset id
}

// NewPostgresWriter connects to the catalog and creates its tables.
func NewPostgresWriter(ctx context.Context, dsn string, log *slog.Logger) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	w := &PostgresWriter{
		pool:         pool,
		log:          log,
		datasetCache: make(map[string]int64),
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info("connected to PostgreSQL catalog")
	return w, nil
}

// EnsureDataset registers or retrieves the dataset entry for a granularity.
func (w *PostgresWriter) EnsureDataset(ctx context.Context, granularity string) (int64, error) {
	w.mu.RLock()
	if id, ok := w.datasetCache[granularity]; ok {
		w.mu.RUnlock()
		return id, nil
	}
	w.mu.RUnlock()

	query := `
		INSERT INTO _meta_datasets (dataset, granularity)
		VALUES ($1, $2)
		ON CONFLICT (dataset, granularity)
		DO UPDATE SET updated_at = NOW()
		RETURNING id
	`

	var id int64
	if err := w.pool.QueryRow(ctx, query, DatasetName, granularity).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure dataset: %w", err)
	}

	w.mu.Lock()
	w.datasetCache[granularity] = id
	w.mu.Unlock()

	return id, nil
}

// LastChecksum returns the checksum of the latest archive recorded for the
// dataset and year, or "" when none exists.
func (w *PostgresWriter) LastChecksum(ctx context.Context, datasetID int64, year int) (string, error) {
	query := `
		SELECT checksum FROM _meta_archives
		WHERE dataset_id = $1 AND year = $2
		ORDER BY end_date DESC
		LIMIT 1
	`

	var checksum string
	err := w.pool.QueryRow(ctx, query, datasetID, year).Scan(&checksum)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get last checksum: %w", err)
	}
	return checksum, nil
}

// RecordArchive inserts a lineage row chained to the previous archive of the
// same year and granularity.
func (w *PostgresWriter) RecordArchive(ctx context.Context, rec ArchiveRecord) error {
	datasetID, err := w.EnsureDataset(ctx, rec.Granularity)
	if err != nil {
		return err
	}

	prev, err := w.LastChecksum(ctx, datasetID, rec.Year)
	if err != nil {
		return err
	}
	var prevHash *string
	if prev != "" && prev != rec.Checksum {
		prevHash = &prev
	}

	var storageURI *string
	if rec.StorageURI != "" {
		storageURI = &rec.StorageURI
	}

	query := `
		INSERT INTO _meta_archives (
			dataset_id, year, end_date, storage_key, storage_uri,
			row_count, byte_size, checksum, prev_hash, producer_version, run_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dataset_id, year, end_date)
		DO UPDATE SET
			row_count = EXCLUDED.row_count,
			byte_size = EXCLUDED.byte_size,
			checksum = EXCLUDED.checksum,
			storage_uri = EXCLUDED.storage_uri,
			run_id = EXCLUDED.run_id,
			created_at = NOW()
	`

	_, err = w.pool.Exec(ctx, query,
		datasetID,
		rec.Year,
		rec.EndDate,
		rec.Key,
		storageURI,
		rec.RowCount,
		rec.ByteSize,
		rec.Checksum,
		prevHash,
		rec.ProducerVersion,
		rec.RunID,
	)
	if err != nil {
		return fmt.Errorf("record archive: %w", err)
	}

	w.log.Debug("recorded archive lineage", "key", rec.Key, "rows", rec.RowCount)
	return nil
}

// RecordQuality records a validation result.
func (w *PostgresWriter) RecordQuality(ctx context.Context, rec QualityRecord) error {
	query := `
		INSERT INTO _meta_quality (year, end_date, passed, warnings, error_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (year, end_date)
		DO UPDATE SET
			passed = EXCLUDED.passed,
			warnings = EXCLUDED.warnings,
			error_message = EXCLUDED.error_message,
			created_at = NOW()
	`

	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := w.pool.Exec(ctx, query, rec.Year, rec.EndDate, rec.Passed, rec.Warnings, errMsg)
	if err != nil {
		return fmt.Errorf("insert quality: %w", err)
	}
	return nil
}

// Close releases database connections.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
