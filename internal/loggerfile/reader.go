// Package loggerfile reads raw datalogger table files and merges the
// loggers of one collection year into a single wide table.
package loggerfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// HeaderLines is the number of metadata lines preceding the data rows.
const HeaderLines = 4

// ErrTruncatedHeader is returned when a file ends inside its header block.
var ErrTruncatedHeader = errors.New("file shorter than metadata header")

// timestampLayouts are tried in order for every row.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/06 15:04",
	"01/02/2006 15:04",
	"01-02-06 15:04",
	"01-02-2006 15:04",
}

// ReadOptions configures how a raw file is interpreted.
type ReadOptions struct {
	Columns   []string       // value columns following timestamp and RECORD
	Location  *time.Location // wall times are interpreted in this zone
	YearStart time.Time      // rows before this instant are dropped
}

// ReadStats counts the rows dropped while reading one file.
type ReadStats struct {
	Rows              int
	InvalidTimestamps int
	Duplicates        int
	BeforeYearStart   int
}

// Dropped returns the total number of dropped rows.
func (s ReadStats) Dropped() int {
	return s.InvalidTimestamps + s.Duplicates + s.BeforeYearStart
}

// Read parses one raw logger file. The RECORD column is discarded and the
// remaining columns are named from opts.Columns in order.
func Read(r io.Reader, opts ReadOptions) (*table.Table, ReadStats, error) {
	var stats ReadStats

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	br := bufio.NewReader(r)
	for i := 0; i < HeaderLines; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if err == io.EOF {
				return nil, stats, ErrTruncatedHeader
			}
			return nil, stats, fmt.Errorf("read header line %d: %w", i+1, err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var times []time.Time
	values := make([][]float64, len(opts.Columns))

	for line := HeaderLines + 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		stats.Rows++

		ts, ok := parseTimestamp(rec[0], loc)
		if !ok {
			stats.InvalidTimestamps++
			continue
		}

		times = append(times, ts)
		for j := range opts.Columns {
			v := table.Null()
			if j+2 < len(rec) {
				v = table.ParseValue(rec[j+2])
			}
			values[j] = append(values[j], v)
		}
	}

	t := table.New(times)
	for j, name := range opts.Columns {
		col := values[j]
		if col == nil {
			col = []float64{}
		}
		if err := t.AddColumn(name, col); err != nil {
			return nil, stats, err
		}
	}

	t, stats.Duplicates = t.DedupFirst()
	sorted, err := t.SortByTime()
	if err != nil {
		return nil, stats, err
	}
	if !opts.YearStart.IsZero() {
		sorted, stats.BeforeYearStart = sorted.Since(opts.YearStart)
	}
	return sorted, stats, nil
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	for _, layout := range timestampLayouts {
		wall, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return Localize(wall, loc)
	}
	return time.Time{}, false
}

// Localize interprets the wall-clock fields of wall as a time in loc. Wall
// times that do not exist in loc (spring-forward gap) or exist twice
// (fall-back overlap) are rejected.
func Localize(wall time.Time, loc *time.Location) (time.Time, bool) {
	naive := time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), time.UTC)

	var matches []time.Time
	offsets := make(map[int]bool, 2)
	for _, near := range []time.Time{naive.Add(-24 * time.Hour), naive, naive.Add(24 * time.Hour)} {
		_, off := near.In(loc).Zone()
		if offsets[off] {
			continue
		}
		offsets[off] = true

		candidate := naive.Add(-time.Duration(off) * time.Second).In(loc)
		if sameWall(candidate, naive) {
			matches = append(matches, candidate)
		}
	}

	if len(matches) != 1 {
		return time.Time{}, false
	}
	return matches[0], true
}

func sameWall(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() &&
		a.Second() == b.Second() && a.Nanosecond() == b.Nanosecond()
}
