package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // trial timezone without a system zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/biochar-datalogger/internal/era"
)

//go:embed default_layout.yaml
var defaultLayoutYAML []byte

// AggKind selects how a quantity is reduced inside a time bucket.
type AggKind int

const (
	AggMean AggKind = iota
	AggSum
)

func (k AggKind) String() string {
	if k == AggSum {
		return "sum"
	}
	return "mean"
}

// UnmarshalYAML accepts "mean" or "sum".
func (k *AggKind) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(node.Value) {
	case "", "mean":
		*k = AggMean
	case "sum":
		*k = AggSum
	default:
		return fmt.Errorf("line %d: unknown aggregation %q", node.Line, node.Value)
	}
	return nil
}

// Quantity is a measured quantity and its aggregation kind.
type Quantity struct {
	Name string  `yaml:"name"`
	Agg  AggKind `yaml:"agg"`
}

// WeatherMetric maps a provider field to the column label used downstream.
type WeatherMetric struct {
	Field string  `yaml:"field"`
	Label string  `yaml:"label"`
	Agg   AggKind `yaml:"agg"`
}

// WeatherLayout describes the external weather station feed.
type WeatherLayout struct {
	Station string          `yaml:"station"`
	Period  string          `yaml:"period"`
	Units   string          `yaml:"units"`
	Metrics []WeatherMetric `yaml:"metrics"`
}

// Season is a named growing-season window in MM-DD form. A day beyond the
// end of its month in a given year means the last day of that month.
type Season struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Layout describes the physical trial: loggers, strips, depths, weights
// and the per-quantity aggregation rules.
type Layout struct {
	Timezone         string             `yaml:"timezone"`
	Interval         time.Duration      `yaml:"interval"`
	Loggers          []string           `yaml:"loggers"`
	Strips           []string           `yaml:"strips"`
	Positions        []string           `yaml:"positions"`
	Depths           []string           `yaml:"depths"`
	StripPairs       [][2]string        `yaml:"strip_pairs"`
	SWCWeights       map[string]float64 `yaml:"swc_weights"`
	RatioQuantities  []string           `yaml:"ratio_quantities"`
	SummaryVariables []string           `yaml:"summary_variables"`
	Quantities       []Quantity         `yaml:"quantities"`
	Weather          WeatherLayout      `yaml:"weather"`
	Seasons          []Season           `yaml:"seasons"`
	Eras             []era.Config       `yaml:"eras"`

	location *time.Location
}

// DefaultLayout returns the built-in biochar trial layout.
func DefaultLayout() (*Layout, error) {
	return ParseLayout(defaultLayoutYAML)
}

// LoadLayout reads a layout file, falling back to the built-in layout when
// path is empty.
func LoadLayout(path string) (*Layout, error) {
	if path == "" {
		return DefaultLayout()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layout %s: %w", path, err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes and validates a YAML layout.
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks internal consistency and resolves the timezone.
func (l *Layout) Validate() error {
	if l.Timezone == "" {
		return fmt.Errorf("layout: timezone is required")
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return fmt.Errorf("layout: load timezone %q: %w", l.Timezone, err)
	}
	l.location = loc

	if l.Interval <= 0 {
		l.Interval = 15 * time.Minute
	}
	if len(l.Loggers) == 0 {
		return fmt.Errorf("layout: no loggers configured")
	}
	if len(l.Depths) != 3 {
		return fmt.Errorf("layout: expected 3 depths, got %d", len(l.Depths))
	}

	var sum float64
	for _, d := range l.Depths {
		w, ok := l.SWCWeights[d]
		if !ok {
			return fmt.Errorf("layout: missing SWC weight for depth %s", d)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("layout: SWC weights sum to %v, want 1", sum)
	}

	seen := make(map[string]bool, len(l.Seasons))
	for _, s := range l.Seasons {
		if s.Name == "" || seen[s.Name] {
			return fmt.Errorf("layout: season names must be unique and non-empty")
		}
		seen[s.Name] = true
	}
	if len(l.Eras) == 0 {
		return fmt.Errorf("layout: no eras configured")
	}
	return nil
}

// Location returns the trial's timezone.
func (l *Layout) Location() *time.Location {
	if l.location == nil {
		return time.UTC
	}
	return l.location
}

// Weights returns the SWC weights in depth order.
func (l *Layout) Weights() []float64 {
	out := make([]float64, len(l.Depths))
	for i, d := range l.Depths {
		out[i] = l.SWCWeights[d]
	}
	return out
}

// AggFor returns the aggregation kind for a quantity or weather label.
// Unknown names aggregate by mean.
func (l *Layout) AggFor(name string) AggKind {
	for _, q := range l.Quantities {
		if q.Name == name {
			return q.Agg
		}
	}
	for _, m := range l.Weather.Metrics {
		if m.Label == name {
			return m.Agg
		}
	}
	return AggMean
}

// WeatherLabels returns the weather column labels in configured order.
func (l *Layout) WeatherLabels() []string {
	out := make([]string, len(l.Weather.Metrics))
	for i, m := range l.Weather.Metrics {
		out[i] = m.Label
	}
	return out
}
