package loggerfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/biochar-datalogger/internal/logging"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

const header = `"TOA5","S1T","CR300","1234","CR300.Std.10","CPU:soil.CR300","1","Table1"
"TIMESTAMP","RECORD","VWC_1_Avg","T_1_Avg"
"TS","RN","m^3/m^3","Deg C"
"","","Avg","Avg"
`

func denver(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	return loc
}

func TestReadParsesRows(t *testing.T) {
	loc := denver(t)
	data := header +
		`"2024-01-01 00:15:00",2,0.31,"NAN"` + "\n" +
		`"2024-01-01 00:00:00",1,0.30,5.5` + "\n" +
		`"2024-01-01 00:15:00",3,0.99,9.9` + "\n" +
		`"2023-12-31 23:45:00",0,0.29,5.0` + "\n" +
		`"not a time",4,0.1,0.1` + "\n" +
		`01/01/2024 00:30,5,NA,` + "\n"

	tbl, stats, err := Read(strings.NewReader(data), ReadOptions{
		Columns:   []string{"VWC_1_Avg", "T_1_Avg"},
		Location:  loc,
		YearStart: time.Date(2024, 1, 1, 0, 0, 0, 0, loc),
	})
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Rows)
	assert.Equal(t, 1, stats.InvalidTimestamps)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.BeforeYearStart)
	assert.Equal(t, 3, stats.Dropped())

	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []string{"VWC_1_Avg", "T_1_Avg"}, tbl.Columns())
	assert.True(t, tbl.Times()[0].Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, loc)))
	assert.True(t, tbl.Times()[2].Equal(time.Date(2024, 1, 1, 0, 30, 0, 0, loc)))

	vwc, _ := tbl.Column("VWC_1_Avg")
	temp, _ := tbl.Column("T_1_Avg")
	assert.Equal(t, 0.30, vwc[0])
	// the first 00:15 row wins over the later duplicate
	assert.Equal(t, 0.31, vwc[1])
	assert.True(t, table.IsNull(temp[1]))
	assert.True(t, table.IsNull(vwc[2]))
	assert.True(t, table.IsNull(temp[2]))
}

func TestReadTruncatedHeader(t *testing.T) {
	_, _, err := Read(strings.NewReader("a\nb\n"), ReadOptions{})
	assert.ErrorIs(t, err, ErrTruncatedHeader)
}

func TestLocalizeDaylightTransitions(t *testing.T) {
	loc := denver(t)

	_, ok := Localize(time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC), loc)
	assert.False(t, ok, "spring-forward gap must be invalid")

	_, ok = Localize(time.Date(2024, 11, 3, 1, 30, 0, 0, time.UTC), loc)
	assert.False(t, ok, "fall-back overlap must be invalid")

	ts, ok := Localize(time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), loc)
	require.True(t, ok)
	_, off := ts.Zone()
	assert.Equal(t, -6*3600, off)
	assert.Equal(t, 12, ts.Hour())

	ts, ok = Localize(time.Date(2024, 11, 3, 3, 0, 0, 0, time.UTC), loc)
	require.True(t, ok)
	_, off = ts.Zone()
	assert.Equal(t, -7*3600, off)
}

func writeLogger(t *testing.T, dir string, year int, name, body string, compress bool) {
	t.Helper()
	sub := filepath.Join(dir, fmt.Sprintf("datfiles_%d", year))
	require.NoError(t, os.MkdirAll(sub, 0o755))

	data := []byte(header + body)
	path := filepath.Join(sub, name+"_Table1.dat")
	if compress {
		var buf bytes.Buffer
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		data = buf.Bytes()
		path += ".zst"
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestReadYearMergesLoggers(t *testing.T) {
	loc := denver(t)
	dir := t.TempDir()

	writeLogger(t, dir, 2024, "S1T",
		`"2024-01-01 00:00:00",1,0.30,5.0`+"\n"+
			`"2024-01-01 00:15:00",2,0.31,5.1`+"\n", false)
	writeLogger(t, dir, 2024, "S2T",
		`"2024-01-01 00:15:00",1,0.40,6.0`+"\n"+
			`"2024-01-01 00:30:00",2,0.41,6.1`+"\n", true)

	merged, stats, err := ReadYear(context.Background(), YearOptions{
		Dir:      dir,
		Year:     2024,
		Loggers:  []string{"S1T", "S2T", "S3T"},
		Columns:  []string{"VWC_1_Avg", "T_1_Avg"},
		Location: loc,
		Log:      logging.Discard(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"S1T", "S2T"}, stats.Loaded)
	assert.Equal(t, []string{"S3T"}, stats.Missing)

	// union of {00:00, 00:15} and {00:15, 00:30}
	require.Equal(t, 3, merged.Len())
	assert.Equal(t, []string{"VWC_1_raw_S1_T", "T_1_raw_S1_T", "VWC_1_raw_S2_T", "T_1_raw_S2_T"}, merged.Columns())

	s1, _ := merged.Column("VWC_1_raw_S1_T")
	s2, _ := merged.Column("VWC_1_raw_S2_T")
	assert.Equal(t, 0.30, s1[0])
	assert.True(t, table.IsNull(s1[2]))
	assert.True(t, table.IsNull(s2[0]))
	assert.Equal(t, 0.41, s2[2])
}

func TestReadYearNoFiles(t *testing.T) {
	_, stats, err := ReadYear(context.Background(), YearOptions{
		Dir:     t.TempDir(),
		Year:    2024,
		Loggers: []string{"S1T"},
		Columns: []string{"VWC_1_Avg"},
		Log:     logging.Discard(),
	})
	if !errors.Is(err, ErrNoLoggerData) {
		t.Fatalf("expected ErrNoLoggerData, got %v", err)
	}
	assert.Equal(t, []string{"S1T"}, stats.Missing)
}

func TestReadYearCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ReadYear(ctx, YearOptions{Dir: t.TempDir(), Year: 2024, Loggers: []string{"S1T"}})
	assert.ErrorIs(t, err, context.Canceled)
}
