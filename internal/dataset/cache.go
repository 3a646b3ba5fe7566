// Package dataset memoizes decoded archive tables for the lifetime of the
// process.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/storage"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// ErrNotFound is returned when no archive exists for a year and granularity.
var ErrNotFound = archive.ErrNotFound

// Key identifies a cache entry.
type Key struct {
	Year        int
	Granularity aggregate.Granularity
}

func (k Key) String() string { return fmt.Sprintf("%d/%s", k.Year, k.Granularity) }

// Observer receives cache events. Metrics implement it.
type Observer interface {
	CacheHit(g aggregate.Granularity)
	CacheMiss(g aggregate.Granularity)
	ArchiveRead(g aggregate.Granularity, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) CacheHit(aggregate.Granularity)                   {}
func (nopObserver) CacheMiss(aggregate.Granularity)                  {}
func (nopObserver) ArchiveRead(aggregate.Granularity, time.Duration) {}

// DefaultLoadTimeout bounds one archive load shared by concurrent callers.
const DefaultLoadTimeout = 2 * time.Minute

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithLoadTimeout bounds a shared archive load. The default is
// DefaultLoadTimeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) { c.loadTimeout = d }
}

// WithObserver reports hits, misses and archive reads.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.obs = o }
}

// Cache serves tables keyed by year and granularity. Entries never expire;
// archives published after an entry was loaded are not seen until restart.
// Returned tables are shared and must not be modified.
type Cache struct {
	store       storage.Store
	loc         *time.Location
	log         *slog.Logger
	obs         Observer
	loadTimeout time.Duration

	mu      sync.RWMutex
	entries map[Key]*table.Table
	group   singleflight.Group
	reads   atomic.Int64
}

// NewCache creates an empty cache over store.
func NewCache(store storage.Store, loc *time.Location, opts ...Option) *Cache {
	c := &Cache{
		store:       store,
		loc:         loc,
		log:         slog.Default(),
		obs:         nopObserver{},
		loadTimeout: DefaultLoadTimeout,
		entries:     make(map[Key]*table.Table),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the table for year and granularity, reading the selected
// archive on the first request. Concurrent misses for the same key share
// one read. The shared read is detached from any single caller's context,
// so a caller that gives up does not fail the others.
func (c *Cache) Get(ctx context.Context, year int, g aggregate.Granularity) (*table.Table, error) {
	key := Key{Year: year, Granularity: g}

	c.mu.RLock()
	t, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.obs.CacheHit(g)
		return t, nil
	}
	c.obs.CacheMiss(g)

	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		c.mu.RLock()
		t, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return t, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		t, err := c.load(loadCtx, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = t
		c.mu.Unlock()
		return t, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*table.Table), nil
	}
}

func (c *Cache) load(ctx context.Context, key Key) (*table.Table, error) {
	names, err := archive.Discover(ctx, c.store, c.log)
	if err != nil {
		return nil, err
	}
	name, err := archive.Select(names, key.Year, key.Granularity)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c.reads.Add(1)
	t, err := archive.Read(ctx, c.store, name, c.loc)
	if err != nil {
		return nil, err
	}
	c.obs.ArchiveRead(key.Granularity, time.Since(start))
	c.log.Info("loaded archive", "archive", name.FileName(), "rows", t.Len(), "columns", t.NumColumns())
	return t, nil
}

// Reads returns how many archives have been read and decoded.
func (c *Cache) Reads() int64 { return c.reads.Load() }

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EndDate returns the end date of the archive selected for the year's
// native table.
func (c *Cache) EndDate(ctx context.Context, year int) (string, error) {
	names, err := archive.Discover(ctx, c.store, c.log)
	if err != nil {
		return "", err
	}
	name, err := archive.Select(names, year, aggregate.Native)
	if err != nil {
		return "", err
	}
	return name.EndDate, nil
}

// Years lists the years for which any archive exists.
func (c *Cache) Years(ctx context.Context) ([]int, error) {
	names, err := archive.Discover(ctx, c.store, c.log)
	if err != nil {
		return nil, err
	}
	return archive.Years(names), nil
}

// Preload warms the cache for every year and granularity. Missing archives
// are logged and skipped; any other error stops the preload.
func (c *Cache) Preload(ctx context.Context, years []int, grans []aggregate.Granularity) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, year := range years {
		for _, gran := range grans {
			year, gran := year, gran
			g.Go(func() error {
				_, err := c.Get(ctx, year, gran)
				if errors.Is(err, ErrNotFound) {
					c.log.Warn("no archive to preload", "year", year, "granularity", gran)
					return nil
				}
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("preload: %w", err)
	}
	c.log.Info("preload complete", "entries", c.Len(), "reads", c.Reads())
	return nil
}
