// Package aggregate buckets the combined table into the published
// granularities. Precipitation-like columns are summed, everything else is
// averaged; nulls are ignored inside a bucket and buckets without rows
// produce no output.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// Precision is the number of decimal places kept in aggregated outputs.
const Precision = 4

// Round4 rounds v to Precision decimal places. Nulls stay null.
func Round4(v float64) float64 {
	if table.IsNull(v) {
		return v
	}
	const scale = 1e4
	return math.Round(v*scale) / scale
}

// NativeOf returns the table unchanged apart from rounding.
func NativeOf(t *table.Table) (*table.Table, error) {
	return round(t)
}

// HourlyOf buckets rows into clock hours.
func HourlyOf(t *table.Table, plan Plan) (*table.Table, error) {
	return bucketByTime(t, plan, func(ts time.Time) (time.Time, bool) {
		return ts.Truncate(time.Hour), true
	})
}

// DailyOf buckets rows into local calendar days.
func DailyOf(t *table.Table, plan Plan) (*table.Table, error) {
	return bucketByTime(t, plan, dayStart)
}

// MonthlyOf aggregates to days first and then reduces the days of each
// calendar month of year with the same plan. Months outside year are
// dropped.
func MonthlyOf(t *table.Table, plan Plan, year int) (*table.Table, error) {
	daily, err := bucketByTime(t, plan, dayStart)
	if err != nil {
		return nil, err
	}
	return bucketByTime(daily, plan, func(ts time.Time) (time.Time, bool) {
		if ts.Year() != year {
			return time.Time{}, false
		}
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, ts.Location()), true
	})
}

// GSeasonOf reduces every row falling inside each season window of year to
// one row labeled with the season name. Seasons keep their configured order
// and seasons without rows are omitted.
func GSeasonOf(t *table.Table, plan Plan, year int, seasons []Season) (*table.Table, error) {
	if t.Labeled() {
		return nil, fmt.Errorf("%w: growing season needs a timestamp index", table.ErrIndexKind)
	}

	members := make([][]int, len(seasons))
	for i, ts := range t.Times() {
		for s := range seasons {
			if seasons[s].Contains(ts, year) {
				members[s] = append(members[s], i)
				break
			}
		}
	}

	var labels []string
	var groups [][]int
	for s, rows := range members {
		if len(rows) == 0 {
			continue
		}
		labels = append(labels, seasons[s].Name)
		groups = append(groups, rows)
	}
	if labels == nil {
		labels = []string{}
	}

	out := table.NewLabeled(labels)
	if err := reduceInto(out, t, plan, groups); err != nil {
		return nil, err
	}
	return out, nil
}

func dayStart(ts time.Time) (time.Time, bool) {
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location()), true
}

// bucketByTime groups rows by key(ts) and reduces each group. Rows for which
// key reports false are excluded.
func bucketByTime(t *table.Table, plan Plan, key func(time.Time) (time.Time, bool)) (*table.Table, error) {
	if t.Labeled() {
		return nil, fmt.Errorf("%w: time bucketing needs a timestamp index", table.ErrIndexKind)
	}

	index := make(map[int64]int)
	var keys []time.Time
	var groups [][]int
	for i, ts := range t.Times() {
		k, ok := key(ts)
		if !ok {
			continue
		}
		g, seen := index[k.UnixNano()]
		if !seen {
			g = len(keys)
			index[k.UnixNano()] = g
			keys = append(keys, k)
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return keys[order[a]].Before(keys[order[b]]) })

	times := make([]time.Time, len(order))
	sortedGroups := make([][]int, len(order))
	for i, g := range order {
		times[i] = keys[g]
		sortedGroups[i] = groups[g]
	}

	out := table.New(times)
	if err := reduceInto(out, t, plan, sortedGroups); err != nil {
		return nil, err
	}
	return out, nil
}

func reduceInto(out, t *table.Table, plan Plan, groups [][]int) error {
	for _, name := range t.Columns() {
		src, _ := t.Column(name)
		kind := plan.Kind(name)
		dst := make([]float64, len(groups))
		for g, rows := range groups {
			var r reducer
			for _, i := range rows {
				r.add(src[i])
			}
			dst[g] = Round4(r.result(kind))
		}
		if err := out.AddColumn(name, dst); err != nil {
			return err
		}
	}
	return nil
}

func round(t *table.Table) (*table.Table, error) {
	var out *table.Table
	if t.Labeled() {
		out = table.NewLabeled(t.Labels())
	} else {
		out = table.New(t.Times())
	}
	for _, name := range t.Columns() {
		src, _ := t.Column(name)
		dst := make([]float64, len(src))
		for i, v := range src {
			dst[i] = Round4(v)
		}
		if err := out.AddColumn(name, dst); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// All fans the combined table out to every granularity.
func All(t *table.Table, plan Plan, year int, seasons []Season) (map[Granularity]*table.Table, error) {
	out := make(map[Granularity]*table.Table, len(Granularities()))

	var err error
	if out[Native], err = NativeOf(t); err != nil {
		return nil, fmt.Errorf("%s: %w", Native, err)
	}
	if out[Hourly], err = HourlyOf(t, plan); err != nil {
		return nil, fmt.Errorf("%s: %w", Hourly, err)
	}
	if out[Daily], err = DailyOf(t, plan); err != nil {
		return nil, fmt.Errorf("%s: %w", Daily, err)
	}
	if out[Monthly], err = MonthlyOf(t, plan, year); err != nil {
		return nil, fmt.Errorf("%s: %w", Monthly, err)
	}
	if out[GSeason], err = GSeasonOf(t, plan, year, seasons); err != nil {
		return nil, fmt.Errorf("%s: %w", GSeason, err)
	}
	return out, nil
}
