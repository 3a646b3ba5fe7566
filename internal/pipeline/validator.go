package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/metadata"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// ValidationResult contains the outcome of output validation.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RowCount int64
	ByteSize int64
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Passed = false
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Error joins the collected errors.
func (r ValidationResult) Error() string {
	return strings.Join(r.Errors, "; ")
}

// ValidateOutputs performs quality checks on a year's outputs before they
// are published:
//   - every granularity is present exactly once and the 15min table has rows
//   - archives are non-empty and match their sha256 checksum
//   - timestamps are strictly increasing, labels unique
//   - months belong to the year, season labels are configured
//   - values are rounded to four places and finite
func ValidateOutputs(year int, outputs []Output, seasons []aggregate.Season) ValidationResult {
	result := ValidationResult{Passed: true}

	seen := make(map[aggregate.Granularity]bool, len(outputs))
	for _, out := range outputs {
		g := out.Granularity()
		if seen[g] {
			result.fail("duplicate output for %s", g)
		}
		seen[g] = true

		if out.Name.Year != year {
			result.fail("%s: archive year %d, want %d", g, out.Name.Year, year)
		}
		if out.Table == nil {
			result.fail("%s: no table", g)
			continue
		}
		if len(out.Data) == 0 {
			result.fail("%s: empty archive", g)
		}
		if !archive.VerifyChecksum(out.Data, out.Checksum) {
			result.fail("%s: checksum does not match archive", g)
		}
		result.ByteSize += int64(len(out.Data))
		result.RowCount += int64(out.Table.Len())

		if out.Table.Len() == 0 {
			if g == aggregate.Native {
				result.fail("%s: no rows", g)
			} else {
				result.warn("%s: no rows", g)
			}
			continue
		}

		if g.Labeled() != out.Table.Labeled() {
			result.fail("%s: index kind mismatch", g)
			continue
		}
		switch g {
		case aggregate.GSeason:
			checkSeasonLabels(&result, out.Table, seasons)
		case aggregate.Monthly:
			checkMonths(&result, out.Table, year)
		default:
			checkIncreasing(&result, g, out.Table)
		}
		checkValues(&result, g, out.Table)
	}

	for _, g := range aggregate.Granularities() {
		if !seen[g] {
			result.fail("missing output for %s", g)
		}
	}
	return result
}

func checkIncreasing(r *ValidationResult, g aggregate.Granularity, t *table.Table) {
	times := t.Times()
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			r.fail("%s: timestamps not increasing at row %d (%s)", g, i, times[i].Format(table.TimeLayout))
			return
		}
	}
}

func checkMonths(r *ValidationResult, t *table.Table, year int) {
	times := t.Times()
	for i, ts := range times {
		if ts.Year() != year {
			r.fail("%s: month %s outside %d", aggregate.Monthly, ts.Format(aggregate.Monthly.TimeLayout()), year)
			return
		}
		if i > 0 && !ts.After(times[i-1]) {
			r.fail("%s: months not increasing at %s", aggregate.Monthly, ts.Format(aggregate.Monthly.TimeLayout()))
			return
		}
	}
}

func checkSeasonLabels(r *ValidationResult, t *table.Table, seasons []aggregate.Season) {
	known := make(map[string]bool, len(seasons))
	for _, s := range seasons {
		known[s.Name] = true
	}
	seen := make(map[string]bool)
	for _, l := range t.Labels() {
		if !known[l] {
			r.fail("%s: unknown season %q", aggregate.GSeason, l)
		}
		if seen[l] {
			r.fail("%s: duplicate season %q", aggregate.GSeason, l)
		}
		seen[l] = true
	}
}

func checkValues(r *ValidationResult, g aggregate.Granularity, t *table.Table) {
	for _, name := range t.Columns() {
		values, _ := t.Column(name)
		for _, v := range values {
			if table.IsNull(v) {
				continue
			}
			if math.IsInf(v, 0) {
				r.fail("%s: column %s has infinite values", g, name)
				break
			}
			if math.Abs(v-aggregate.Round4(v)) > 1e-9 {
				r.fail("%s: column %s is not rounded", g, name)
				break
			}
		}
	}
}

// RecordQualityResult records the validation result in the catalog.
func RecordQualityResult(ctx context.Context, meta metadata.Writer, year int, endDate string, result ValidationResult) error {
	return meta.RecordQuality(ctx, metadata.QualityRecord{
		Year:         year,
		EndDate:      endDate,
		Passed:       result.Passed,
		Warnings:     result.Warnings,
		ErrorMessage: result.Error(),
	})
}
