package archive

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/logging"
	"github.com/withObsrvr/biochar-datalogger/internal/storage"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

func denver(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Denver")
	require.NoError(t, err)
	return loc
}

func TestFileNameRoundTrip(t *testing.T) {
	n := Name{Year: 2024, EndDate: "2024-11-12", Granularity: aggregate.Daily}
	assert.Equal(t, "dataloggerData_2024-01-01_2024-11-12_daily.zip", n.FileName())
	assert.Equal(t, "dataloggerData_2024-01-01_2024-11-12_daily.csv", n.EntryName())

	back, err := ParseFileName(n.FileName())
	require.NoError(t, err)
	assert.Equal(t, n, back)
}

func TestParseFileNameRejects(t *testing.T) {
	for _, s := range []string{
		"dataloggerData_2024-01-01_2024-11-12_weekly.zip",
		"dataloggerData_2024-02-01_2024-11-12_daily.zip",
		"dataloggerData_2024-01-01_2024-13-45_daily.zip",
		"dataloggerData_2024-01-01_2024-11-12_daily.csv",
		"coagmet_2024_15min.csv",
	} {
		_, err := ParseFileName(s)
		assert.ErrorIs(t, err, ErrInvalidName, s)
	}
}

func TestSelectPicksLatestEndDate(t *testing.T) {
	names := []Name{
		{Year: 2024, EndDate: "2024-06-30", Granularity: aggregate.Native},
		{Year: 2024, EndDate: "2024-11-12", Granularity: aggregate.Native},
		{Year: 2024, EndDate: "2024-12-01", Granularity: aggregate.Daily},
		{Year: 2025, EndDate: "2025-03-01", Granularity: aggregate.Native},
	}
	got, err := Select(names, 2024, aggregate.Native)
	require.NoError(t, err)
	assert.Equal(t, "2024-11-12", got.EndDate)

	_, err = Select(names, 2023, aggregate.Native)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []int{2024, 2025}, Years(names))
}

func sampleTables(t *testing.T, loc *time.Location) map[aggregate.Granularity]*table.Table {
	t.Helper()
	native := table.New([]time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, loc),
		time.Date(2024, 7, 1, 0, 15, 0, 0, loc),
	})
	require.NoError(t, native.AddColumn("VWC_1_raw_S1_T", []float64{0.1234, table.Null()}))
	require.NoError(t, native.AddColumn("precip_mm", []float64{0, 2.5}))

	monthly := table.New([]time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, loc),
		time.Date(2024, 2, 1, 0, 0, 0, 0, loc),
	})
	require.NoError(t, monthly.AddColumn("precip_mm", []float64{10.25, 3}))

	seasons := table.NewLabeled([]string{"Q1_Winter", "Q2_Early_Growing"})
	require.NoError(t, seasons.AddColumn("precip_mm", []float64{1, table.Null()}))

	return map[aggregate.Granularity]*table.Table{
		aggregate.Native:  native,
		aggregate.Monthly: monthly,
		aggregate.GSeason: seasons,
	}
}

func TestArchiveRoundTripThroughStore(t *testing.T) {
	loc := denver(t)
	ctx := context.Background()
	store := storage.NewMemStore("")
	defer store.Close()

	w := NewWriter(store, logging.Discard())
	tables := sampleTables(t, loc)

	var objects []Object
	for g, tbl := range tables {
		name := Name{Year: 2024, EndDate: "2024-07-01", Granularity: g}
		data, err := Encode(name, tbl, loc)
		require.NoError(t, err)
		objects = append(objects, NewObject(name.FileName(), data))
	}
	require.NoError(t, w.Publish(ctx, objects))

	names, err := Discover(ctx, store, logging.Discard())
	require.NoError(t, err)
	require.Len(t, names, len(tables))

	for g, want := range tables {
		name, err := Select(names, 2024, g)
		require.NoError(t, err)
		got, err := Read(ctx, store, name, loc)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "%s round trip", g)
		assert.Equal(t, g.Labeled(), got.Labeled())
	}
}

func TestEncodeWritesSingleNamedEntry(t *testing.T) {
	loc := denver(t)
	name := Name{Year: 2024, EndDate: "2024-07-01", Granularity: aggregate.Monthly}
	data, err := Encode(name, sampleTables(t, loc)[aggregate.Monthly], loc)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, name.EntryName(), zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,precip_mm\n2024-01,10.25\n2024-02,3\n", buf.String())
}

func TestDecodeRejectsMultipleEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range []string{"a.csv", "b.csv"} {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte("timestamp,v\n"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	_, err := Decode(buf.Bytes(), aggregate.Daily, time.UTC)
	assert.ErrorIs(t, err, ErrBadArchive)

	_, err = Decode([]byte("not a zip"), aggregate.Daily, time.UTC)
	assert.ErrorIs(t, err, ErrBadArchive)
}

func TestDiscoverSkipsInvalidNames(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore("")
	defer store.Close()

	w := NewWriter(store, logging.Discard())
	require.NoError(t, w.Publish(ctx, []Object{
		NewObject("dataloggerData_2024-01-01_2024-06-30_15min.zip", []byte("x")),
		NewObject("dataloggerData_backup.zip", []byte("x")),
		NewObject("gseason_summary_2024.json", []byte("{}")),
	}))

	names, err := Discover(ctx, store, logging.Discard())
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, aggregate.Native, names[0].Granularity)
}

type failingStore struct {
	storage.Store
	failOn string
}

func (f failingStore) WriteTemp(ctx context.Context, key string, data []byte) (storage.Staged, error) {
	if key == f.failOn {
		return storage.Staged{}, errors.New("disk full")
	}
	return f.Store.WriteTemp(ctx, key, data)
}

func TestPublishIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemStore("")
	defer mem.Close()

	w := NewWriter(failingStore{Store: mem, failOn: "b.zip"}, logging.Discard())
	err := w.Publish(ctx, []Object{
		NewObject("a.zip", []byte("a")),
		NewObject("b.zip", []byte("b")),
	})
	require.Error(t, err)

	keys, err := mem.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	ok, err := mem.Exists(ctx, "a.zip")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChecksum(t *testing.T) {
	sum := Checksum([]byte("abc"))
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
	assert.True(t, VerifyChecksum([]byte("abc"), sum))
	assert.False(t, VerifyChecksum([]byte("abd"), sum))
}
