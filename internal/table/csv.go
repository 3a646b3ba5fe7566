package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// IndexColumn is the header of the first CSV column.
const IndexColumn = "timestamp"

// TimeLayout is the default timestamp layout used in CSV files.
const TimeLayout = "2006-01-02 15:04:05Z07:00"

// ErrMissingIndex is returned when a CSV has no timestamp column first.
var ErrMissingIndex = errors.New("missing timestamp column")

// CSVOptions controls how the index column is read or written.
type CSVOptions struct {
	Labeled    bool           // keep the first column as labels
	TimeLayout string         // defaults to TimeLayout
	Location   *time.Location // defaults to UTC
	// AltLayouts are tried in order when TimeLayout does not parse.
	AltLayouts []string
}

func (o CSVOptions) layout() string {
	if o.TimeLayout == "" {
		return TimeLayout
	}
	return o.TimeLayout
}

func (o CSVOptions) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func (o CSVOptions) parseTime(s string) (time.Time, error) {
	ts, err := time.ParseInLocation(o.layout(), s, o.location())
	if err == nil {
		return ts, nil
	}
	for _, alt := range o.AltLayouts {
		if ts, altErr := time.ParseInLocation(alt, s, o.location()); altErr == nil {
			return ts, nil
		}
	}
	return time.Time{}, err
}

// WriteCSV writes the table with a header row. Nulls are written as empty
// cells.
func WriteCSV(w io.Writer, t *Table, opts CSVOptions) error {
	cw := csv.NewWriter(w)

	header := append([]string{IndexColumn}, t.names...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for i := 0; i < t.Len(); i++ {
		if t.Labeled() {
			record[0] = t.labels[i]
		} else {
			record[0] = t.times[i].In(opts.location()).Format(opts.layout())
		}
		for j, name := range t.names {
			record[j+1] = FormatValue(t.cols[name][i])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a table written by WriteCSV.
func ReadCSV(r io.Reader, opts CSVOptions) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 || strings.TrimPrefix(header[0], "\ufeff") != IndexColumn {
		return nil, ErrMissingIndex
	}

	var (
		labels []string
		times  []time.Time
		values = make([][]float64, len(header)-1)
	)

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line+1, err)
		}
		line++

		if opts.Labeled {
			labels = append(labels, rec[0])
		} else {
			ts, err := opts.parseTime(rec[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: parse timestamp %q: %w", line, rec[0], err)
			}
			times = append(times, ts.In(opts.location()))
		}

		for j := range values {
			v := Null()
			if j+1 < len(rec) {
				v = ParseValue(rec[j+1])
			}
			values[j] = append(values[j], v)
		}
	}

	var t *Table
	if opts.Labeled {
		if labels == nil {
			labels = []string{}
		}
		t = NewLabeled(labels)
	} else {
		t = New(times)
	}
	for j, name := range header[1:] {
		col := values[j]
		if col == nil {
			col = []float64{}
		}
		if err := t.AddColumn(name, col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FormatValue renders a cell, using the empty string for nulls.
func FormatValue(v float64) string {
	if IsNull(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseValue parses a cell. Empty strings, NA markers and unparseable
// values become null.
func ParseValue(s string) float64 {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "NA", "NAN":
		return Null()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Null()
	}
	return v
}
