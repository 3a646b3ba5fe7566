package aggregate

import (
	"fmt"

	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// Granularity is the time-bucketing resolution of an aggregated table.
type Granularity string

const (
	Native  Granularity = "15min"
	Hourly  Granularity = "1hour"
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
	GSeason Granularity = "gseason"
)

// Granularities returns every granularity in output order.
func Granularities() []Granularity {
	return []Granularity{Native, Hourly, Daily, Monthly, GSeason}
}

// ParseGranularity validates a granularity string.
func ParseGranularity(s string) (Granularity, error) {
	for _, g := range Granularities() {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// Labeled reports whether tables of this granularity are indexed by labels.
func (g Granularity) Labeled() bool {
	return g == GSeason
}

// TimeLayout returns the layout used for the index column when the table is
// serialized.
func (g Granularity) TimeLayout() string {
	if g == Monthly {
		return "2006-01"
	}
	return table.TimeLayout
}
