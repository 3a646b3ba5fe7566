// Package era routes collection years to the raw column layout the loggers
// were programmed with that season.
package era

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoMatchingEra is returned when a year doesn't match any configured era.
var ErrNoMatchingEra = errors.New("no matching era for year")

// ErrOverlappingEras is returned when era boundaries overlap.
var ErrOverlappingEras = errors.New("era boundaries overlap")

// Config defines the raw file layout for a contiguous range of years.
type Config struct {
	EraID    string   `yaml:"era_id"`
	FromYear int      `yaml:"from_year"`
	ToYear   int      `yaml:"to_year"` // 0 = unbounded
	Columns  []string `yaml:"columns"` // value columns after timestamp and RECORD
}

// Contains returns true if the year is within this era's bounds.
func (c Config) Contains(year int) bool {
	if year < c.FromYear {
		return false
	}
	if c.ToYear == 0 {
		return true
	}
	return year <= c.ToYear
}

// Router routes years to their eras.
type Router struct {
	eras []Config
}

// NewRouter creates a router. Eras are sorted by FromYear and must not overlap.
func NewRouter(eras []Config) (*Router, error) {
	if len(eras) == 0 {
		return nil, errors.New("at least one era must be configured")
	}

	sorted := make([]Config, len(eras))
	copy(sorted, eras)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FromYear < sorted[j].FromYear
	})

	for i, era := range sorted {
		if len(era.Columns) == 0 {
			return nil, fmt.Errorf("era %q has no columns", era.EraID)
		}
		if era.ToYear != 0 && era.ToYear < era.FromYear {
			return nil, fmt.Errorf("era %q ends (%d) before it starts (%d)", era.EraID, era.ToYear, era.FromYear)
		}
		if i == len(sorted)-1 {
			break
		}
		next := sorted[i+1]

		if era.ToYear == 0 {
			return nil, fmt.Errorf("%w: era %q is unbounded but followed by %q",
				ErrOverlappingEras, era.EraID, next.EraID)
		}
		if era.ToYear >= next.FromYear {
			return nil, fmt.Errorf("%w: era %q ends at %d but %q starts at %d",
				ErrOverlappingEras, era.EraID, era.ToYear, next.EraID, next.FromYear)
		}
	}

	return &Router{eras: sorted}, nil
}

// Route returns the era for a year.
func (r *Router) Route(year int) (*Config, error) {
	for i := range r.eras {
		if r.eras[i].Contains(year) {
			return &r.eras[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrNoMatchingEra, year)
}

// Columns returns the raw value columns for a year.
func (r *Router) Columns(year int) ([]string, error) {
	era, err := r.Route(year)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(era.Columns))
	copy(out, era.Columns)
	return out, nil
}

// AllEras returns all configured eras in year order.
func (r *Router) AllEras() []Config {
	return r.eras
}
