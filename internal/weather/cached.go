package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// CachedSource serves weather from Dir when a processed file exists and
// otherwise fetches it from Upstream and writes it to Dir.
type CachedSource struct {
	Dir      string
	Location *time.Location
	Upstream Source
	Log      *slog.Logger
}

func (c CachedSource) Fetch(ctx context.Context, year int, end time.Time) (*table.Table, error) {
	local := FileSource{Dir: c.Dir, Location: c.Location}
	t, err := local.Fetch(ctx, year, end)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrWeatherMissing) {
		return nil, err
	}

	t, err = c.Upstream.Fetch(ctx, year, end)
	if err != nil {
		return nil, err
	}
	if err := c.write(year, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (c CachedSource) write(year int, t *table.Table) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("create weather dir: %w", err)
	}
	path := filepath.Join(c.Dir, FileName(year))
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create weather file: %w", err)
	}
	if err := table.WriteCSV(f, t, table.CSVOptions{Location: c.Location}); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write weather file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close weather file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename weather file: %w", err)
	}

	if c.Log != nil {
		c.Log.Info("weather cached", "path", path, "rows", t.Len())
	}
	return nil
}
