package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

func testSeasons(t *testing.T) []aggregate.Season {
	t.Helper()
	seasons, err := aggregate.ParseSeasons([]config.Season{
		{Name: "Q1_Winter", Start: "11-01", End: "02-28"},
		{Name: "Q3_Peak_Harvest", Start: "06-01", End: "10-31"},
	})
	if err != nil {
		t.Fatalf("ParseSeasons: %v", err)
	}
	return seasons
}

func timeTable(t *testing.T, times []time.Time, values []float64) *table.Table {
	t.Helper()
	tbl := table.New(times)
	if err := tbl.AddColumn("precip_mm", values); err != nil {
		t.Fatal(err)
	}
	return tbl
}

func labelTable(t *testing.T, labels []string, values []float64) *table.Table {
	t.Helper()
	tbl := table.NewLabeled(labels)
	if err := tbl.AddColumn("precip_mm", values); err != nil {
		t.Fatal(err)
	}
	return tbl
}

func validOutputs(t *testing.T) []Output {
	t.Helper()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tables := map[aggregate.Granularity]*table.Table{
		aggregate.Native:  timeTable(t, []time.Time{t0, t0.Add(15 * time.Minute)}, []float64{0.1, table.Null()}),
		aggregate.Hourly:  timeTable(t, []time.Time{t0}, []float64{0.1}),
		aggregate.Daily:   timeTable(t, []time.Time{t0}, []float64{0.1}),
		aggregate.Monthly: timeTable(t, []time.Time{t0}, []float64{0.1}),
		aggregate.GSeason: labelTable(t, []string{"Q1_Winter"}, []float64{0.1}),
	}
	var outputs []Output
	for _, g := range aggregate.Granularities() {
		data := []byte("archive-" + string(g))
		outputs = append(outputs, Output{
			Name:     archive.Name{Year: 2024, EndDate: "2024-01-01", Granularity: g},
			Table:    tables[g],
			Data:     data,
			Checksum: archive.Checksum(data),
		})
	}
	return outputs
}

func TestValidateOutputs_Valid(t *testing.T) {
	result := ValidateOutputs(2024, validOutputs(t), testSeasons(t))
	if !result.Passed {
		t.Errorf("valid outputs should pass. Errors: %v", result.Errors)
	}
	if result.RowCount != 6 {
		t.Errorf("RowCount = %d, want 6", result.RowCount)
	}
	if result.ByteSize == 0 {
		t.Error("ByteSize should be summed")
	}
}

func TestValidateOutputs_Failures(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func([]Output) []Output
		want   string
	}{
		{
			name:   "missing granularity",
			mutate: func(o []Output) []Output { return o[:4] },
			want:   "missing output for gseason",
		},
		{
			name: "unrounded values",
			mutate: func(o []Output) []Output {
				o[2].Table = timeTable(t, []time.Time{t0}, []float64{0.123456})
				return o
			},
			want: "not rounded",
		},
		{
			name: "repeated timestamp",
			mutate: func(o []Output) []Output {
				o[1].Table = timeTable(t, []time.Time{t0, t0}, []float64{1, 2})
				return o
			},
			want: "not increasing",
		},
		{
			name: "unknown season",
			mutate: func(o []Output) []Output {
				o[4].Table = labelTable(t, []string{"Q9_Nope"}, []float64{1})
				return o
			},
			want: "unknown season",
		},
		{
			name: "month outside year",
			mutate: func(o []Output) []Output {
				o[3].Table = timeTable(t, []time.Time{
					time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC),
				}, []float64{1, 2})
				return o
			},
			want: "month 2023-12 outside 2024",
		},
		{
			name: "months out of order",
			mutate: func(o []Output) []Output {
				o[3].Table = timeTable(t, []time.Time{
					time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
				}, []float64{1, 2})
				return o
			},
			want: "months not increasing at 2024-02",
		},
		{
			name: "labeled monthly table",
			mutate: func(o []Output) []Output {
				o[3].Table = labelTable(t, []string{"2024-01"}, []float64{1})
				return o
			},
			want: "monthly: index kind mismatch",
		},
		{
			name: "bad checksum",
			mutate: func(o []Output) []Output {
				o[0].Checksum = "md5:abc"
				return o
			},
			want: "15min: checksum does not match archive",
		},
		{
			name: "checksum of other data",
			mutate: func(o []Output) []Output {
				o[2].Data = []byte("changed after encoding")
				return o
			},
			want: "daily: checksum does not match archive",
		},
		{
			name: "empty native table",
			mutate: func(o []Output) []Output {
				o[0].Table = timeTable(t, nil, nil)
				return o
			},
			want: "15min: no rows",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateOutputs(2024, tt.mutate(validOutputs(t)), testSeasons(t))
			if result.Passed {
				t.Fatal("expected validation to fail")
			}
			if !strings.Contains(result.Error(), tt.want) {
				t.Errorf("errors %q should mention %q", result.Error(), tt.want)
			}
		})
	}
}

func TestValidateOutputs_EmptyAggregateWarns(t *testing.T) {
	outputs := validOutputs(t)
	outputs[4].Table = labelTable(t, nil, nil)

	result := ValidateOutputs(2024, outputs, testSeasons(t))
	if !result.Passed {
		t.Errorf("empty season table should only warn. Errors: %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one", result.Warnings)
	}
}
