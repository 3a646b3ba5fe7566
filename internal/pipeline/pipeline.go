// Package pipeline turns a year of raw logger files into published
// archives: read, derive, merge weather, aggregate, validate, publish and
// record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/biochar-datalogger/internal/aggregate"
	"github.com/withObsrvr/biochar-datalogger/internal/archive"
	"github.com/withObsrvr/biochar-datalogger/internal/audit"
	"github.com/withObsrvr/biochar-datalogger/internal/checkpoint"
	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/derive"
	"github.com/withObsrvr/biochar-datalogger/internal/era"
	"github.com/withObsrvr/biochar-datalogger/internal/export"
	"github.com/withObsrvr/biochar-datalogger/internal/loggerfile"
	"github.com/withObsrvr/biochar-datalogger/internal/logging"
	"github.com/withObsrvr/biochar-datalogger/internal/metadata"
	"github.com/withObsrvr/biochar-datalogger/internal/metrics"
	"github.com/withObsrvr/biochar-datalogger/internal/storage"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
	"github.com/withObsrvr/biochar-datalogger/internal/weather"
)

// Version information (set via ldflags)
var Version = "dev"

// ProducerName identifies this software in the catalog and audit log.
const ProducerName = "biochar-pipeline"

var (
	// ErrAlreadyPublished is returned when the year's archives for the same
	// end date exist and overwriting is not allowed.
	ErrAlreadyPublished = errors.New("year already published")

	// ErrValidation is returned when outputs fail validation.
	ErrValidation = errors.New("validation failed")
)

// Options carries the pipeline's collaborators. Nil fields fall back to
// no-op implementations.
type Options struct {
	RawDir         string
	AllowOverwrite bool
	ExportParquet  bool
	Workers        int

	Checkpoints checkpoint.Manager
	Catalog     metadata.Writer
	Audit       audit.Emitter
	Metrics     *metrics.Metrics
	Log         *slog.Logger
}

// Pipeline processes collection years.
type Pipeline struct {
	opts    Options
	layout  *config.Layout
	router  *era.Router
	seasons []aggregate.Season
	store   storage.Store
	weather weather.Source
	writer  *archive.Writer
	log     *slog.Logger
}

// New creates a pipeline.
func New(layout *config.Layout, store storage.Store, src weather.Source, opts Options) (*Pipeline, error) {
	router, err := era.NewRouter(layout.Eras)
	if err != nil {
		return nil, fmt.Errorf("era router: %w", err)
	}
	seasons, err := aggregate.ParseSeasons(layout.Seasons)
	if err != nil {
		return nil, fmt.Errorf("seasons: %w", err)
	}

	if opts.Log == nil {
		opts.Log = logging.Component("pipeline")
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints, _ = checkpoint.NewManager(checkpoint.Config{})
	}
	if opts.Catalog == nil {
		opts.Catalog, _ = metadata.NewWriter(context.Background(), config.CatalogConfig{}, opts.Log)
	}
	if opts.Audit == nil {
		opts.Audit, _ = audit.NewEmitter(config.AuditConfig{}, opts.Log)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	return &Pipeline{
		opts:    opts,
		layout:  layout,
		router:  router,
		seasons: seasons,
		store:   store,
		weather: src,
		writer:  archive.NewWriter(store, opts.Log),
		log:     opts.Log,
	}, nil
}

// Run processes one year. It returns ErrAlreadyPublished (with a Result
// marked Skipped) when the year has already been published for the same
// end date.
func (p *Pipeline) Run(ctx context.Context, year int) (*Result, error) {
	runID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, runID)
	log := logging.RunLogger(p.log, runID, year)
	start := time.Now()
	yearLabel := fmt.Sprint(year)

	res, err := p.run(ctx, year, runID, log)
	if res != nil {
		res.Duration = time.Since(start)
	}
	switch {
	case errors.Is(err, ErrAlreadyPublished):
		p.opts.Metrics.RunsSkipped.WithLabelValues(yearLabel).Inc()
		log.Info("skipping year (already published)", "end_date", res.EndDate)
	case err != nil:
		p.opts.Metrics.RunsFailed.WithLabelValues(yearLabel).Inc()
		log.Error("year failed", "error", err)
	default:
		p.opts.Metrics.RunsProcessed.WithLabelValues(yearLabel).Inc()
		log.Info("year published",
			"end_date", res.EndDate,
			"rows", res.Rows,
			"archives", len(res.Outputs),
			"duration", res.Duration.String(),
		)
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, year int, runID string, log *slog.Logger) (*Result, error) {
	res := &Result{Year: year, RunID: runID}
	loc := p.layout.Location()

	var combined *table.Table
	err := p.stage("read", func() error {
		columns, err := p.router.Columns(year)
		if err != nil {
			return err
		}
		var stats loggerfile.YearStats
		combined, stats, err = loggerfile.ReadYear(ctx, loggerfile.YearOptions{
			Dir:      p.opts.RawDir,
			Year:     year,
			Loggers:  p.layout.Loggers,
			Columns:  columns,
			Location: loc,
			Log:      log,
		})
		p.recordReadStats(year, stats)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read loggers: %w", err)
	}

	end, ok := combined.LastTime()
	if !ok {
		return nil, fmt.Errorf("read loggers: %w: no valid rows for %d", loggerfile.ErrNoLoggerData, year)
	}
	res.EndDate = end.In(loc).Format(archive.DateLayout)
	log = log.With("end_date", res.EndDate)

	if err := p.checkPublished(ctx, year, res.EndDate); err != nil {
		if errors.Is(err, ErrAlreadyPublished) {
			res.Skipped = true
			return res, err
		}
		return nil, err
	}

	var derived *table.Table
	if err := p.stage("derive", func() (err error) {
		derived, err = derive.Apply(combined, p.layout, log)
		return err
	}); err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}

	var merged *table.Table
	if err := p.stage("weather", func() error {
		w, err := p.weather.Fetch(ctx, year, end)
		if err != nil {
			return err
		}
		merged, err = weather.Merge(derived, w)
		if err != nil {
			return err
		}
		merged = window(merged, time.Date(year, time.January, 1, 0, 0, 0, 0, loc), end)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}
	res.Rows = merged.Len()

	var tables map[aggregate.Granularity]*table.Table
	if err := p.stage("aggregate", func() (err error) {
		tables, err = aggregate.All(merged, aggregate.NewPlan(merged, p.layout), year, p.seasons)
		return err
	}); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	if err := p.stage("encode", func() (err error) {
		res.Outputs, err = p.encode(year, end, tables)
		return err
	}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	res.Validated = ValidateOutputs(year, res.Outputs, p.seasons)
	for _, w := range res.Validated.Warnings {
		log.Warn("validation warning", "warning", w)
	}
	if err := RecordQualityResult(ctx, p.opts.Catalog, year, res.EndDate, res.Validated); err != nil {
		p.opts.Metrics.MetadataErrors.Inc()
		log.Warn("failed to record quality result", "error", err)
	}
	if !res.Validated.Passed {
		return nil, fmt.Errorf("%w: %s", ErrValidation, res.Validated.Error())
	}

	if err := p.stage("publish", func() error {
		return p.publish(ctx, res)
	}); err != nil {
		p.opts.Metrics.StorageErrors.Inc()
		return nil, fmt.Errorf("publish: %w", err)
	}

	p.record(ctx, res, log)
	return res, nil
}

// checkPublished refuses to republish a year whose archives for endDate
// already exist, unless overwriting is allowed.
func (p *Pipeline) checkPublished(ctx context.Context, year int, endDate string) error {
	if p.opts.AllowOverwrite {
		return nil
	}

	cp, err := p.opts.Checkpoints.Load(ctx, year)
	if err != nil && !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp != nil && cp.EndDate == endDate {
		return fmt.Errorf("%w: %d through %s (checkpoint)", ErrAlreadyPublished, year, endDate)
	}

	// Fall back to storage in case the checkpoint directory was lost.
	name := archive.Name{Year: year, EndDate: endDate, Granularity: aggregate.Native}
	exists, err := p.store.Exists(ctx, name.FileName())
	if err != nil {
		return fmt.Errorf("check %s: %w", name, err)
	}
	if exists {
		return fmt.Errorf("%w: %d through %s (storage)", ErrAlreadyPublished, year, endDate)
	}
	return nil
}

func (p *Pipeline) encode(year int, end time.Time, tables map[aggregate.Granularity]*table.Table) ([]Output, error) {
	loc := p.layout.Location()
	outputs := make([]Output, 0, len(tables))
	for _, g := range aggregate.Granularities() {
		t, ok := tables[g]
		if !ok {
			continue
		}
		name := archive.NewName(year, end.In(loc), g)
		data, err := archive.Encode(name, t, loc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", g, err)
		}
		out := Output{
			Name:     name,
			Table:    t,
			Data:     data,
			Checksum: archive.Checksum(data),
		}
		if p.opts.ExportParquet {
			if out.Parquet, err = export.Parquet(t, g, loc); err != nil {
				return nil, fmt.Errorf("%s parquet: %w", g, err)
			}
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (p *Pipeline) recordReadStats(year int, stats loggerfile.YearStats) {
	y := fmt.Sprint(year)
	for _, logger := range stats.Missing {
		p.opts.Metrics.LoggerFilesMissing.WithLabelValues(y, logger).Inc()
	}
	for _, rs := range stats.Files {
		p.opts.Metrics.RowsDropped.WithLabelValues(y, "invalid_timestamp").Add(float64(rs.InvalidTimestamps))
		p.opts.Metrics.RowsDropped.WithLabelValues(y, "duplicate").Add(float64(rs.Duplicates))
		p.opts.Metrics.RowsDropped.WithLabelValues(y, "before_year_start").Add(float64(rs.BeforeYearStart))
	}
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.opts.Metrics.ObserveStage(name, time.Since(start))
	return err
}

// window keeps rows in [start, end].
func window(t *table.Table, start, end time.Time) *table.Table {
	times := t.Times()
	idx := make([]int, 0, len(times))
	for i, ts := range times {
		if !ts.Before(start) && !ts.After(end) {
			idx = append(idx, i)
		}
	}
	if len(idx) == len(times) {
		return t
	}
	return t.Take(idx)
}
