package aggregate

import (
	"fmt"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
)

// Season is a named calendar window. A window whose start falls after its
// end in the calendar wraps the year boundary and starts in the prior year.
type Season struct {
	Name       string
	StartMonth time.Month
	StartDay   int
	EndMonth   time.Month
	EndDay     int
}

// ParseSeasons converts configured MM-DD windows.
func ParseSeasons(cfg []config.Season) ([]Season, error) {
	out := make([]Season, 0, len(cfg))
	for _, c := range cfg {
		sm, sd, err := parseMonthDay(c.Start)
		if err != nil {
			return nil, fmt.Errorf("season %s start: %w", c.Name, err)
		}
		em, ed, err := parseMonthDay(c.End)
		if err != nil {
			return nil, fmt.Errorf("season %s end: %w", c.Name, err)
		}
		out = append(out, Season{Name: c.Name, StartMonth: sm, StartDay: sd, EndMonth: em, EndDay: ed})
	}
	return out, nil
}

func parseMonthDay(s string) (time.Month, int, error) {
	// 2000 is a leap year, so 02-29 is accepted.
	t, err := time.Parse("2006-01-02", "2000-"+s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid MM-DD %q", s)
	}
	return t.Month(), t.Day(), nil
}

// Wraps reports whether the window spans the December/January boundary.
func (s Season) Wraps() bool {
	if s.StartMonth != s.EndMonth {
		return s.StartMonth > s.EndMonth
	}
	return s.StartDay > s.EndDay
}

// Bounds returns the window for collection year as [start, end). Days past
// the end of their month in that year are clamped, so "02-29" ends February
// in every year.
func (s Season) Bounds(year int, loc *time.Location) (time.Time, time.Time) {
	startYear := year
	if s.Wraps() {
		startYear = year - 1
	}
	start := time.Date(startYear, s.StartMonth, clampDay(startYear, s.StartMonth, s.StartDay), 0, 0, 0, 0, loc)
	end := time.Date(year, s.EndMonth, clampDay(year, s.EndMonth, s.EndDay), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return start, end
}

func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return min(day, last)
}

// Contains reports whether ts falls inside the window for collection year.
func (s Season) Contains(ts time.Time, year int) bool {
	start, end := s.Bounds(year, ts.Location())
	return !ts.Before(start) && ts.Before(end)
}

// Assign returns the first season containing ts, if any.
func Assign(ts time.Time, year int, seasons []Season) (string, bool) {
	for _, s := range seasons {
		if s.Contains(ts, year) {
			return s.Name, true
		}
	}
	return "", false
}
