package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

func sample(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New([]time.Time{
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 0, 15, 0, 0, time.UTC),
	})
	require.NoError(t, tbl.AddColumn("precip_mm", []float64{0.5, table.Null()}))
	require.NoError(t, tbl.AddColumn("EC_1_raw_S1_T", []float64{1, 2}))
	return tbl
}

func TestParquetSchemaAndRows(t *testing.T) {
	data, err := Parquet(sample(t), aggregate.Native, time.UTC)
	require.NoError(t, err)

	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.NumRows())

	var names []string
	for _, field := range f.Schema().Fields() {
		names = append(names, field.Name())
		if field.Name() == table.IndexColumn {
			assert.False(t, field.Optional())
		} else {
			assert.True(t, field.Optional(), field.Name())
		}
	}
	assert.ElementsMatch(t, []string{"timestamp", "precip_mm", "EC_1_raw_S1_T"}, names)
}

func TestParquetRejectsIndexClash(t *testing.T) {
	tbl := table.NewLabeled([]string{"a"})
	require.NoError(t, tbl.AddColumn(table.IndexColumn, []float64{1}))
	_, err := Parquet(tbl, aggregate.GSeason, time.UTC)
	assert.Error(t, err)
}

func TestCSVMonthlyLayout(t *testing.T) {
	tbl := table.New([]time.Time{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, tbl.AddColumn("precip_mm", []float64{12}))

	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, tbl, aggregate.Monthly, time.UTC))
	assert.Equal(t, "timestamp,precip_mm\n2024-03,12\n", buf.String())
}

func TestKeys(t *testing.T) {
	name := archive.Name{Year: 2024, EndDate: "2024-11-12", Granularity: aggregate.Daily}
	assert.Equal(t, "parquet/dataloggerData_2024-01-01_2024-11-12_daily.parquet", ParquetKey(name))
	assert.Equal(t, "dataloggerData_2024_gseason.csv", DownloadName(2024, aggregate.GSeason, "csv"))
}
