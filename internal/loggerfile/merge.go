package loggerfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/column"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// ErrNoLoggerData is returned when none of the roster's files exist.
var ErrNoLoggerData = errors.New("no logger files found")

// YearOptions describes one year's raw inputs.
type YearOptions struct {
	Dir      string // root of the raw data tree
	Year     int
	Loggers  []string
	Columns  []string
	Location *time.Location
	Log      *slog.Logger
}

// YearStats summarizes a ReadYear call.
type YearStats struct {
	Loaded  []string
	Missing []string
	Files   map[string]ReadStats
}

// Path returns the raw file location for a logger, preferring an
// uncompressed file over a .zst one.
func Path(dir string, year int, logger string) (string, bool) {
	base := filepath.Join(dir, fmt.Sprintf("datfiles_%d", year), logger+"_Table1.dat")
	for _, candidate := range []string{base, base + ".zst"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return base, false
}

// ReadYear reads, standardizes and outer-joins every logger of a year.
// Missing files are skipped with a warning; a column collision between
// loggers aborts the merge.
func ReadYear(ctx context.Context, opts YearOptions) (*table.Table, YearStats, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	stats := YearStats{Files: make(map[string]ReadStats)}
	yearStart := time.Date(opts.Year, time.January, 1, 0, 0, 0, 0, loc)

	var parts []*table.Table
	for _, logger := range opts.Loggers {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		path, ok := Path(opts.Dir, opts.Year, logger)
		if !ok {
			log.Warn("logger file missing, skipping", "logger", logger, "path", path)
			stats.Missing = append(stats.Missing, logger)
			continue
		}

		t, rs, err := readFile(path, ReadOptions{
			Columns:   opts.Columns,
			Location:  loc,
			YearStart: yearStart,
		})
		if err != nil {
			return nil, stats, fmt.Errorf("read %s: %w", path, err)
		}
		stats.Files[logger] = rs
		if rs.Dropped() > 0 {
			log.Info("dropped rows while reading logger",
				"logger", logger,
				"invalid_timestamps", rs.InvalidTimestamps,
				"duplicates", rs.Duplicates,
				"before_year_start", rs.BeforeYearStart,
			)
		}

		std, err := column.Standardize(t, logger, log)
		if err != nil {
			return nil, stats, fmt.Errorf("standardize %s: %w", logger, err)
		}
		parts = append(parts, std)
		stats.Loaded = append(stats.Loaded, logger)
	}

	if len(parts) == 0 {
		return nil, stats, fmt.Errorf("%w: year %d in %s", ErrNoLoggerData, opts.Year, opts.Dir)
	}

	merged, err := table.OuterJoinAll(parts...)
	if err != nil {
		return nil, stats, fmt.Errorf("merge loggers: %w", err)
	}

	log.Info("merged logger files",
		"loaded", len(stats.Loaded),
		"missing", len(stats.Missing),
		"rows", merged.Len(),
		"columns", merged.NumColumns(),
	)
	return merged, stats, nil
}

func readFile(path string, opts ReadOptions) (*table.Table, ReadStats, error) {
	rc, err := OpenFile(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer rc.Close()
	return Read(rc, opts)
}
