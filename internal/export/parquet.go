// Package export renders aggregated tables in download formats.
package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// ParquetPrefix is the store directory holding parquet exports.
const ParquetPrefix = "parquet/"

// ParquetKey is the store key of the parquet export for an archive.
func ParquetKey(name archive.Name) string {
	return ParquetPrefix + name.Stem() + ".parquet"
}

// Schema builds the parquet schema of t: the index as a required string
// and every value column as an optional double.
func Schema(t *table.Table) *parquet.Schema {
	group := parquet.Group{table.IndexColumn: parquet.String()}
	for _, name := range t.Columns() {
		group[name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
	}
	return parquet.NewSchema("dataset", group)
}

// Parquet encodes t with zstd compression. Timestamps are written in the
// granularity's text layout so the file mirrors the CSV archive.
func Parquet(t *table.Table, g aggregate.Granularity, loc *time.Location) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteParquet(&buf, t, g, loc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteParquet streams the parquet encoding of t to out.
func WriteParquet(out io.Writer, t *table.Table, g aggregate.Granularity, loc *time.Location) error {
	if t.HasColumn(table.IndexColumn) {
		return fmt.Errorf("column %q clashes with the index", table.IndexColumn)
	}
	schema := Schema(t)

	// Group fields are ordered by name; leaf indexes follow that order.
	leaf := make(map[string]int, len(schema.Fields()))
	for i, f := range schema.Fields() {
		leaf[f.Name()] = i
	}

	w := parquet.NewWriter(out, schema, parquet.Compression(&parquet.Zstd))

	names := t.Columns()
	cols := make([][]float64, len(names))
	for j, name := range names {
		cols[j], _ = t.Column(name)
	}

	const batch = 1024
	rows := make([]parquet.Row, 0, batch)
	for i := 0; i < t.Len(); i++ {
		row := make(parquet.Row, len(leaf))
		row[leaf[table.IndexColumn]] = parquet.ByteArrayValue([]byte(indexValue(t, i, g, loc))).
			Level(0, 0, leaf[table.IndexColumn])
		for j, name := range names {
			c := leaf[name]
			v := cols[j][i]
			if table.IsNull(v) {
				row[c] = parquet.NullValue().Level(0, 0, c)
			} else {
				row[c] = parquet.DoubleValue(v).Level(0, 1, c)
			}
		}
		rows = append(rows, row)
		if len(rows) == batch {
			if _, err := w.WriteRows(rows); err != nil {
				return fmt.Errorf("write parquet rows: %w", err)
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := w.WriteRows(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func indexValue(t *table.Table, i int, g aggregate.Granularity, loc *time.Location) string {
	if t.Labeled() {
		return t.Labels()[i]
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.Times()[i].In(loc).Format(g.TimeLayout())
}
