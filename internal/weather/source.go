// Package weather supplies station weather at the logger interval and
// merges it into the combined logger table.
package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// ErrWeatherMissing is returned when no weather table exists for a year.
var ErrWeatherMissing = errors.New("weather data missing")

// naiveLayout is accepted for weather files written without a UTC offset.
const naiveLayout = "2006-01-02 15:04:05"

// Source provides 15-minute weather for a collection year up to end.
type Source interface {
	Fetch(ctx context.Context, year int, end time.Time) (*table.Table, error)
}

// FileName returns the processed weather file name for a year.
func FileName(year int) string {
	return fmt.Sprintf("coagmet_%d_15min.csv", year)
}

// FileSource reads previously processed weather tables from Dir.
type FileSource struct {
	Dir      string
	Location *time.Location
}

// Fetch reads {Dir}/coagmet_{year}_15min.csv.
func (s FileSource) Fetch(ctx context.Context, year int, _ time.Time) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.Dir, FileName(year))
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrWeatherMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open weather %s: %w", path, err)
	}
	defer f.Close()

	t, err := table.ReadCSV(f, table.CSVOptions{
		Location:   s.Location,
		AltLayouts: []string{naiveLayout},
	})
	if err != nil {
		return nil, fmt.Errorf("read weather %s: %w", path, err)
	}
	return t.SortByTime()
}

// Merge outer-joins weather onto the combined logger table. A weather
// column that already exists in combined is an error.
func Merge(combined, weather *table.Table) (*table.Table, error) {
	out, err := table.OuterJoin(combined, weather)
	if err != nil {
		return nil, fmt.Errorf("merge weather: %w", err)
	}
	return out, nil
}

// NewSource returns the configured weather source. In coagmet mode the
// download is cached under dir as the processed file.
func NewSource(cfg config.WeatherConfig, layout *config.Layout, dir string, log *slog.Logger) (Source, error) {
	switch cfg.Mode {
	case "", "file":
		return FileSource{Dir: dir, Location: layout.Location()}, nil
	case "coagmet":
		upstream := NewCoAgMetSource(CoAgMetOptions{
			BaseURL:  cfg.BaseURL,
			Weather:  layout.Weather,
			Location: layout.Location(),
			Interval: layout.Interval,
			Client:   &http.Client{Timeout: cfg.Timeout},
			Log:      log,
		})
		return CachedSource{Dir: dir, Location: layout.Location(), Upstream: upstream, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown weather mode %q", cfg.Mode)
	}
}
