package aggregate

import (
	"github.com/withObsrvr/biochar-datalogger/internal/column"
	"github.com/withObsrvr/biochar-datalogger/internal/config"
	"github.com/withObsrvr/biochar-datalogger/internal/table"
)

// Plan holds the aggregation kind of every column of a table, resolved once
// from the layout's quantity configuration.
type Plan struct {
	kinds map[string]config.AggKind
}

// NewPlan resolves the aggregation kind for each column of t. Sensor columns
// are looked up by their quantity; other columns (weather) by their full
// name.
func NewPlan(t *table.Table, layout *config.Layout) Plan {
	p := Plan{kinds: make(map[string]config.AggKind, t.NumColumns())}
	for _, name := range t.Columns() {
		quantity := name
		if key, err := column.Parse(name); err == nil {
			quantity = key.Quantity
		}
		p.kinds[name] = layout.AggFor(quantity)
	}
	return p
}

// PlanOf builds a plan from explicit kinds. Columns not listed use mean.
func PlanOf(kinds map[string]config.AggKind) Plan {
	p := Plan{kinds: make(map[string]config.AggKind, len(kinds))}
	for k, v := range kinds {
		p.kinds[k] = v
	}
	return p
}

// Kind returns the aggregation kind for a column.
func (p Plan) Kind(name string) config.AggKind {
	return p.kinds[name]
}

// reducer accumulates one column inside one bucket, skipping nulls.
type reducer struct {
	sum   float64
	count int
}

func (r *reducer) add(v float64) {
	if table.IsNull(v) {
		return
	}
	r.sum += v
	r.count++
}

func (r reducer) result(kind config.AggKind) float64 {
	if r.count == 0 {
		return table.Null()
	}
	if kind == config.AggSum {
		return r.sum
	}
	return r.sum / float64(r.count)
}
