// Package summary computes descriptive statistics of sensor columns and the
// per-season summary document served alongside the archives.
package summary

import (
	"math"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/column"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// Stats describes one column. Std is the sample standard deviation and is
// nil when fewer than two values exist.
type Stats struct {
	Min  float64  `json:"min"`
	Mean float64  `json:"mean"`
	Max  float64  `json:"max"`
	Std  *float64 `json:"std"`
}

// Describe computes stats over the non-null values. ok is false when there
// are none.
func Describe(values []float64) (s Stats, ok bool) {
	var n int
	var sum float64
	s.Min, s.Max = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if table.IsNull(v) {
			continue
		}
		n++
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if n == 0 {
		return Stats{}, false
	}

	mean := sum / float64(n)
	s.Mean = aggregate.Round4(mean)
	s.Min = aggregate.Round4(s.Min)
	s.Max = aggregate.Round4(s.Max)

	if n > 1 {
		var ss float64
		for _, v := range values {
			if !table.IsNull(v) {
				ss += (v - mean) * (v - mean)
			}
		}
		std := aggregate.Round4(math.Sqrt(ss / float64(n-1)))
		s.Std = &std
	}
	return s, true
}

// Compute returns stats of the raw columns of variable at depth for strip,
// and of the ratio columns of variable at depth for every strip pair.
// Columns without values are omitted.
func Compute(t *table.Table, variable, strip, depth string, pairs [][2]string) (raw, ratio map[string]Stats) {
	raw = make(map[string]Stats)
	ratio = make(map[string]Stats)
	if t == nil || t.Len() == 0 {
		return raw, ratio
	}

	isPair := make(map[[2]string]bool, len(pairs))
	for _, p := range pairs {
		isPair[p] = true
	}

	for _, name := range t.Columns() {
		key, err := column.Parse(name)
		if err != nil || key.Quantity != variable || key.Depth != depth {
			continue
		}

		var into map[string]Stats
		switch {
		case key.Kind == column.KindRaw && key.Strip == strip:
			into = raw
		case key.Kind == column.KindRatio && isPair[[2]string{key.Strip, key.StripB}]:
			into = ratio
		default:
			continue
		}
		col, _ := t.Column(name)
		if s, ok := Describe(col); ok {
			into[name] = s
		}
	}
	return raw, ratio
}
