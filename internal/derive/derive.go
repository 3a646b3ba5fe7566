// Package derive adds computed columns to the merged logger table:
// weighted soil water content and strip-to-strip ratios. Every function
// returns a new table and never drops or changes an existing column.
package derive

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/withObsrvr/biochar-datalogger/internal/column"
	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

const (
	// MoistureQuantity is the per-depth reading SWC is built from.
	MoistureQuantity = "VWC"
	// SWCQuantity is the derived soil water content quantity.
	SWCQuantity = "SWC"
	// SWCDepth is the single depth label carried by SWC columns.
	SWCDepth = "1"
)

// Apply runs SWC and then Ratios.
func Apply(t *table.Table, layout *config.Layout, log *slog.Logger) (*table.Table, error) {
	withSWC, err := SWC(t, layout, log)
	if err != nil {
		return nil, err
	}
	return Ratios(withSWC, layout, log)
}

// SWC adds SWC_1_raw_{strip}_{position} for every strip and position whose
// three moisture depths are all present. Rows with any null depth yield a
// null SWC cell.
func SWC(t *table.Table, layout *config.Layout, log *slog.Logger) (*table.Table, error) {
	weights := layout.Weights()
	out := t.Clone()

	for _, strip := range layout.Strips {
		for _, pos := range layout.Positions {
			depthCols := make([][]float64, 0, len(layout.Depths))
			for _, d := range layout.Depths {
				col, ok := t.Column(column.Raw(MoistureQuantity, d, strip, pos).String())
				if !ok {
					break
				}
				depthCols = append(depthCols, col)
			}
			if len(depthCols) != len(layout.Depths) {
				log.Warn("skipping SWC, moisture depths incomplete", "strip", strip, "position", pos)
				continue
			}

			values := WeightedSum(depthCols, weights)
			name := column.Raw(SWCQuantity, SWCDepth, strip, pos).String()
			if err := out.AddColumn(name, values); err != nil {
				return nil, fmt.Errorf("add %s: %w", name, err)
			}
		}
	}
	return out, nil
}

// WeightedSum returns sum(w[i]*cols[i]) row-wise, null where any input is
// null.
func WeightedSum(cols [][]float64, weights []float64) []float64 {
	if len(cols) == 0 {
		return nil
	}
	out := make([]float64, len(cols[0]))
	for r := range out {
		var sum float64
		for i, col := range cols {
			v := col[r]
			if table.IsNull(v) {
				sum = table.Null()
				break
			}
			sum += weights[i] * v
		}
		out[r] = sum
	}
	return out
}

// Ratios adds {Q}_{depth}_ratio_{A}_{B}_{position} for every configured
// quantity, strip pair, position and depth where both raw columns exist.
// SWC ratios use only SWCDepth.
func Ratios(t *table.Table, layout *config.Layout, log *slog.Logger) (*table.Table, error) {
	out := t.Clone()

	for _, q := range layout.RatioQuantities {
		depths := layout.Depths
		if q == SWCQuantity {
			depths = []string{SWCDepth}
		}
		for _, pair := range layout.StripPairs {
			for _, pos := range layout.Positions {
				for _, d := range depths {
					num, okN := t.Column(column.Raw(q, d, pair[0], pos).String())
					den, okD := t.Column(column.Raw(q, d, pair[1], pos).String())
					if !okN || !okD {
						log.Debug("skipping ratio, inputs missing",
							"quantity", q, "depth", d, "pair", pair[0]+"/"+pair[1], "position", pos)
						continue
					}

					name := column.Ratio(q, d, pair[0], pair[1], pos).String()
					if err := out.AddColumn(name, SafeRatio(num, den)); err != nil {
						return nil, fmt.Errorf("add %s: %w", name, err)
					}
				}
			}
		}
	}
	return out, nil
}

// SafeRatio divides row-wise. Null inputs and zero denominators yield a
// null cell, as does an infinite quotient.
func SafeRatio(num, den []float64) []float64 {
	out := make([]float64, len(num))
	for i := range num {
		n, d := num[i], den[i]
		if table.IsNull(n) || table.IsNull(d) || d == 0 {
			out[i] = table.Null()
			continue
		}
		q := n / d
		if math.IsInf(q, 0) {
			q = table.Null()
		}
		out[i] = q
	}
	return out
}
