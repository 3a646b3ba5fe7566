package dataset

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/logging"
	"github.com/withObsrvr/biochar-datalogger/internal/storage"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// started by gcsblob's opencensus views at init
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func publish(t *testing.T, store storage.Store, name archive.Name, tbl *table.Table) {
	t.Helper()
	data, err := archive.Encode(name, tbl, time.UTC)
	require.NoError(t, err)
	w := archive.NewWriter(store, logging.Discard())
	require.NoError(t, w.Publish(context.Background(), []archive.Object{archive.NewObject(name.FileName(), data)}))
}

func dailyTable(t *testing.T, v float64) *table.Table {
	t.Helper()
	tbl := table.New([]time.Time{time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, tbl.AddColumn("precip_mm", []float64{v}))
	return tbl
}

func newCache(t *testing.T) (*Cache, *storage.BlobStore) {
	t.Helper()
	store := storage.NewMemStore("")
	t.Cleanup(func() { store.Close() })
	return NewCache(store, time.UTC, WithLogger(logging.Discard())), store
}

func TestGetIsIdempotentAndReadsOnce(t *testing.T) {
	c, store := newCache(t)
	publish(t, store, archive.Name{Year: 2024, EndDate: "2024-06-01", Granularity: aggregate.Daily}, dailyTable(t, 1.5))

	ctx := context.Background()
	first, err := c.Get(ctx, 2024, aggregate.Daily)
	require.NoError(t, err)
	second, err := c.Get(ctx, 2024, aggregate.Daily)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.Equal(t, int64(1), c.Reads())
	assert.Equal(t, 1, c.Len())
}

func TestGetSelectsLatestArchive(t *testing.T) {
	c, store := newCache(t)
	publish(t, store, archive.Name{Year: 2024, EndDate: "2024-06-30", Granularity: aggregate.Daily}, dailyTable(t, 1))
	publish(t, store, archive.Name{Year: 2024, EndDate: "2024-11-12", Granularity: aggregate.Daily}, dailyTable(t, 2))

	got, err := c.Get(context.Background(), 2024, aggregate.Daily)
	require.NoError(t, err)
	v, _ := got.Column("precip_mm")
	assert.Equal(t, []float64{2}, v)
}

func TestGetNotFound(t *testing.T) {
	c, _ := newCache(t)
	_, err := c.Get(context.Background(), 2030, aggregate.Daily)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentMissesShareOneRead(t *testing.T) {
	c, store := newCache(t)
	publish(t, store, archive.Name{Year: 2024, EndDate: "2024-06-01", Granularity: aggregate.Daily}, dailyTable(t, 1))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), 2024, aggregate.Daily)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), c.Reads())
}

func TestEndDateAndYears(t *testing.T) {
	c, store := newCache(t)
	publish(t, store, archive.Name{Year: 2024, EndDate: "2024-06-30", Granularity: aggregate.Native}, dailyTable(t, 1))
	publish(t, store, archive.Name{Year: 2024, EndDate: "2024-11-12", Granularity: aggregate.Native}, dailyTable(t, 1))
	publish(t, store, archive.Name{Year: 2023, EndDate: "2023-12-31", Granularity: aggregate.Daily}, dailyTable(t, 1))

	ctx := context.Background()
	end, err := c.EndDate(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, "2024-11-12", end)

	_, err = c.EndDate(ctx, 2023)
	assert.ErrorIs(t, err, ErrNotFound)

	years, err := c.Years(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2023, 2024}, years)
	assert.Equal(t, int64(0), c.Reads(), "listing does not decode archives")
}

func TestPreloadSkipsMissing(t *testing.T) {
	c, store := newCache(t)
	publish(t, store, archive.Name{Year: 2024, EndDate: "2024-06-01", Granularity: aggregate.Daily}, dailyTable(t, 1))

	err := c.Preload(context.Background(), []int{2024, 2025}, []aggregate.Granularity{aggregate.Daily, aggregate.Hourly})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = c.Get(context.Background(), 2024, aggregate.Daily)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Reads())
}

// gatedStore blocks archive reads until release is closed, then fails with
// the read's own context error, if any.
type gatedStore struct {
	storage.Store
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Read(ctx context.Context, key string) ([]byte, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Store.Read(ctx, key)
}

func TestCanceledCallerDoesNotFailSharedLoad(t *testing.T) {
	mem := storage.NewMemStore("")
	t.Cleanup(func() { mem.Close() })
	publish(t, mem, archive.Name{Year: 2024, EndDate: "2024-06-01", Granularity: aggregate.Daily}, dailyTable(t, 1))

	gate := &gatedStore{Store: mem, started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(gate, time.UTC, WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, 2024, aggregate.Daily)
		first <- err
	}()
	<-gate.started

	cancel()
	require.ErrorIs(t, <-first, context.Canceled)

	second := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), 2024, aggregate.Daily)
		second <- err
	}()
	close(gate.release)

	require.NoError(t, <-second)
	assert.Equal(t, int64(1), c.Reads())
	assert.Equal(t, 1, c.Len())
}

func TestLoadTimeout(t *testing.T) {
	mem := storage.NewMemStore("")
	t.Cleanup(func() { mem.Close() })
	publish(t, mem, archive.Name{Year: 2024, EndDate: "2024-06-01", Granularity: aggregate.Daily}, dailyTable(t, 1))

	gate := &gatedStore{Store: mem, started: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(gate, time.UTC, WithLogger(logging.Discard()), WithLoadTimeout(10*time.Millisecond))

	go func() {
		<-gate.started
		time.Sleep(50 * time.Millisecond)
		close(gate.release)
	}()
	_, err := c.Get(context.Background(), 2024, aggregate.Daily)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())
}
