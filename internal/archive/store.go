package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/storage"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// Discover lists the store and parses every archive name. Names that do not
// parse are logged and skipped.
func Discover(ctx context.Context, store storage.Store, log *slog.Logger) ([]Name, error) {
	keys, err := store.List(ctx, namePrefix)
	if err != nil {
		return nil, fmt.Errorf("discover archives: %w", err)
	}

	names := make([]Name, 0, len(keys))
	for _, key := range keys {
		n, err := ParseFileName(key)
		if err != nil {
			log.Warn("skipping unrecognized archive", "key", key)
			continue
		}
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i].FileName() < names[j].FileName()
	})
	return names, nil
}

// Select picks the archive for year and granularity with the greatest end
// date.
func Select(names []Name, year int, g aggregate.Granularity) (Name, error) {
	var best Name
	found := false
	for _, n := range names {
		if n.Year != year || n.Granularity != g {
			continue
		}
		if !found || n.EndDate > best.EndDate {
			best = n
			found = true
		}
	}
	if !found {
		return Name{}, fmt.Errorf("%w: year %d granularity %s", ErrNotFound, year, g)
	}
	return best, nil
}

// Years returns the distinct years present in names, ascending.
func Years(names []Name) []int {
	seen := make(map[int]bool)
	var years []int
	for _, n := range names {
		if !seen[n.Year] {
			seen[n.Year] = true
			years = append(years, n.Year)
		}
	}
	sort.Ints(years)
	return years
}

// Read loads and decodes the archive name from the store.
func Read(ctx context.Context, store storage.Store, name Name, loc *time.Location) (*table.Table, error) {
	data, err := store.Read(ctx, name.FileName())
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", name, err)
	}
	return Decode(data, name.Granularity, loc)
}
