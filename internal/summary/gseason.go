package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/storage"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// TemperatureQuantity has no meaningful cross-strip ratio statistics.
const TemperatureQuantity = "T"

// Entry holds the stats of one strip at one depth.
type Entry struct {
	Raw   map[string]Stats `json:"raw_statistics"`
	Ratio map[string]Stats `json:"ratio_statistics"`
}

// Seasonal is keyed season -> variable -> "{strip}_D{depth}".
type Seasonal map[string]map[string]map[string]Entry

// FileName is the store key of a year's summary document.
func FileName(year int) string {
	return fmt.Sprintf("gseason_summary_%d.json", year)
}

// Build computes the seasonal summary of the native table for year.
func Build(t *table.Table, year int, seasons []aggregate.Season, layout *config.Layout) Seasonal {
	out := make(Seasonal, len(seasons))
	times := t.Times()

	for _, season := range seasons {
		var idx []int
		for i, ts := range times {
			if season.Contains(ts, year) {
				idx = append(idx, i)
			}
		}
		rows := t.Take(idx)

		byVar := make(map[string]map[string]Entry, len(layout.SummaryVariables))
		for _, variable := range layout.SummaryVariables {
			entries := make(map[string]Entry)
			for _, strip := range layout.Strips {
				for _, depth := range layout.Depths {
					raw, ratio := Compute(rows, variable, strip, depth, layout.StripPairs)
					if variable == TemperatureQuantity {
						ratio = map[string]Stats{}
					}
					entries[strip+"_D"+depth] = Entry{Raw: raw, Ratio: ratio}
				}
			}
			byVar[variable] = entries
		}
		out[season.Name] = byVar
	}
	return out
}

// TableSource provides aggregated tables, typically the dataset cache.
type TableSource interface {
	Get(ctx context.Context, year int, g aggregate.Granularity) (*table.Table, error)
}

// Service loads persisted summaries or builds and persists them from the
// native table.
type Service struct {
	store   storage.Store
	tables  TableSource
	layout  *config.Layout
	seasons []aggregate.Season
	log     *slog.Logger

	mu sync.Mutex
}

func NewService(store storage.Store, tables TableSource, layout *config.Layout, log *slog.Logger) (*Service, error) {
	seasons, err := aggregate.ParseSeasons(layout.Seasons)
	if err != nil {
		return nil, err
	}
	return &Service{store: store, tables: tables, layout: layout, seasons: seasons, log: log}, nil
}

// LoadOrBuild returns the stored summary for year, building it when absent
// or when overwrite is set.
func (s *Service) LoadOrBuild(ctx context.Context, year int, overwrite bool) (Seasonal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !overwrite {
		data, err := s.store.Read(ctx, FileName(year))
		if err == nil {
			var out Seasonal
			if err := json.Unmarshal(data, &out); err != nil {
				return nil, fmt.Errorf("decode %s: %w", FileName(year), err)
			}
			return out, nil
		}
		if !errors.Is(err, storage.ErrNotExist) {
			return nil, err
		}
	}

	native, err := s.tables.Get(ctx, year, aggregate.Native)
	if err != nil {
		return nil, fmt.Errorf("growing season summary %d: %w", year, err)
	}
	out := Build(native, year, s.seasons, s.layout)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	w := archive.NewWriter(s.store, s.log)
	if err := w.Publish(ctx, []archive.Object{archive.NewObject(FileName(year), data)}); err != nil {
		return nil, err
	}
	s.log.Info("growing season summary saved", "year", year, "seasons", len(out))
	return out, nil
}
