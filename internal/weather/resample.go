package weather

import (
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// Resample buckets t onto a contiguous grid of width interval, labelled by
// the left edge. Mean columns become null in an empty bucket while sum
// columns become zero; nulls left after bucketing are forward filled.
func Resample(t *table.Table, interval time.Duration, kinds map[string]config.AggKind) (*table.Table, error) {
	if t.Len() == 0 {
		return t.Clone(), nil
	}

	times := t.Times()
	first := floor(times[0], interval)
	last := first
	for _, ts := range times {
		b := floor(ts, interval)
		if b.Before(first) {
			first = b
		}
		if b.After(last) {
			last = b
		}
	}

	n := int(last.Sub(first)/interval) + 1
	grid := make([]time.Time, n)
	for i := range grid {
		grid[i] = first.Add(time.Duration(i) * interval)
	}

	bucket := make([]int, len(times))
	for i, ts := range times {
		bucket[i] = int(floor(ts, interval).Sub(first) / interval)
	}

	out := table.New(grid)
	for _, name := range t.Columns() {
		src, _ := t.Column(name)
		sum := make([]float64, n)
		count := make([]int, n)
		for i, v := range src {
			if table.IsNull(v) {
				continue
			}
			sum[bucket[i]] += v
			count[bucket[i]]++
		}

		kind := kinds[name]
		dst := make([]float64, n)
		for b := range dst {
			switch {
			case kind == config.AggSum:
				dst[b] = sum[b]
			case count[b] == 0:
				dst[b] = table.Null()
			default:
				dst[b] = sum[b] / float64(count[b])
			}
		}
		forwardFill(dst)

		if err := out.AddColumn(name, dst); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// floor truncates ts to interval measured from the local midnight, so
// buckets line up with wall-clock quarter hours in any zone.
func floor(ts time.Time, interval time.Duration) time.Time {
	midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	return midnight.Add(ts.Sub(midnight) / interval * interval)
}

func forwardFill(col []float64) {
	for i := 1; i < len(col); i++ {
		if table.IsNull(col[i]) {
			col[i] = col[i-1]
		}
	}
}
