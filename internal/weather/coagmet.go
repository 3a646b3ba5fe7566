package weather

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// coagmetHeaderRows precede the data in a CoAgMet CSV export.
const coagmetHeaderRows = 2

const missingValue = "-999"

var coagmetLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// BackoffConfig controls exponential backoff between attempts.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// CoAgMetOptions configures a CoAgMetSource.
type CoAgMetOptions struct {
	BaseURL  string // e.g. https://coagmet.colostate.edu/data
	Weather  config.WeatherLayout
	Location *time.Location
	Interval time.Duration
	Client   *http.Client
	Backoff  BackoffConfig
	Log      *slog.Logger
}

// CoAgMetSource downloads station data from CoAgMet and resamples it to the
// logger interval.
type CoAgMetSource struct {
	opts CoAgMetOptions
	cb   *gobreaker.CircuitBreaker
}

// NewCoAgMetSource builds a source with a circuit breaker around the HTTP
// client.
func NewCoAgMetSource(opts CoAgMetOptions) *CoAgMetSource {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Backoff.InitialInterval <= 0 {
		opts.Backoff = BackoffConfig{MaxRetries: 3, InitialInterval: time.Second, MaxInterval: 10 * time.Second}
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coagmet-" + opts.Weather.Station,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &CoAgMetSource{opts: opts, cb: cb}
}

// URL returns the export URL for the window starting 20:00 on the last day
// of the prior year and ending at end.
func (s *CoAgMetSource) URL(year int, end time.Time) string {
	w := s.opts.Weather
	fields := make([]string, len(w.Metrics))
	for i, m := range w.Metrics {
		fields[i] = m.Field
	}

	q := url.Values{}
	q.Set("header", "yes")
	q.Set("fields", strings.Join(fields, ","))
	q.Set("from", fmt.Sprintf("%d-12-31T20:00", year-1))
	q.Set("to", end.In(s.opts.Location).Format("2006-01-02T15:04"))
	q.Set("tz", "co")
	q.Set("units", w.Units)
	q.Set("dateFmt", "iso")

	base := strings.TrimRight(s.opts.BaseURL, "/")
	return fmt.Sprintf("%s/%s/%s.csv?%s", base, w.Period, w.Station, q.Encode())
}

// Fetch downloads, parses and resamples weather for year.
func (s *CoAgMetSource) Fetch(ctx context.Context, year int, end time.Time) (*table.Table, error) {
	u := s.URL(year, end)
	s.opts.Log.Info("downloading weather", "station", s.opts.Weather.Station, "year", year)

	resp, err := s.do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch weather %d: %w", year, err)
	}
	defer resp.Body.Close()

	raw, err := s.parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse weather %d: %w", year, err)
	}

	start := time.Date(year, 1, 1, 0, 0, 0, 0, s.opts.Location)
	next := time.Date(year+1, 1, 1, 0, 0, 0, 0, s.opts.Location)
	idx := make([]int, 0, raw.Len())
	for i, ts := range raw.Times() {
		if !ts.Before(start) && ts.Before(next) {
			idx = append(idx, i)
		}
	}
	raw = raw.Take(idx)

	kinds := make(map[string]config.AggKind, len(s.opts.Weather.Metrics))
	for _, m := range s.opts.Weather.Metrics {
		kinds[m.Label] = m.Agg
	}
	out, err := Resample(raw, s.opts.Interval, kinds)
	if err != nil {
		return nil, fmt.Errorf("resample weather %d: %w", year, err)
	}
	s.opts.Log.Info("weather resampled", "year", year, "rows", out.Len())
	return out, nil
}

// parse reads the CoAgMet export body. Columns are the timestamp followed by
// the configured metrics in order.
func (s *CoAgMetSource) parse(r io.Reader) (*table.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	for i := 0; i < coagmetHeaderRows; i++ {
		if _, err := cr.Read(); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}

	metrics := s.opts.Weather.Metrics
	var times []time.Time
	values := make([][]float64, len(metrics))
	skipped := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, ok := parseStationTime(strings.TrimSpace(rec[0]), s.opts.Location)
		if !ok {
			skipped++
			continue
		}
		times = append(times, ts)
		for j := range metrics {
			v := table.Null()
			if j+1 < len(rec) {
				cell := strings.TrimSpace(rec[j+1])
				if cell != missingValue {
					v = table.ParseValue(cell)
				}
			}
			values[j] = append(values[j], v)
		}
	}
	if skipped > 0 {
		s.opts.Log.Warn("dropped weather rows with invalid timestamps", "rows", skipped)
	}

	t := table.New(times)
	for j, m := range metrics {
		col := values[j]
		if col == nil {
			col = []float64{}
		}
		if err := t.AddColumn(m.Label, col); err != nil {
			return nil, err
		}
	}
	return t.SortByTime()
}

func parseStationTime(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range coagmetLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// do executes the request with retries, exponential backoff and the circuit
// breaker.
func (s *CoAgMetSource) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	b := s.opts.Backoff
	if b.MaxRetries < 0 || b.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := s.cb.Execute(func() (interface{}, error) {
			resp, err := s.opts.Client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}
			resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				return nil, errServerError
			default:
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}
		})
		if err == nil {
			return result.(*http.Response), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if errors.Is(err, errUnexpected) || attempt >= b.MaxRetries {
			return nil, err
		}

		delay := b.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if b.MaxInterval > 0 && delay > b.MaxInterval {
			delay = b.MaxInterval
		}
		s.opts.Log.Warn("weather request failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}
