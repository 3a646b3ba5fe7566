// Package table provides the in-memory wide table shared by every pipeline
// stage: a timestamp (or label) index plus ordered float64 columns where NaN
// marks a missing cell.
package table

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrColumnCollision is returned when a column name would appear twice.
	ErrColumnCollision = errors.New("column name collision")

	// ErrLengthMismatch is returned when a column does not match the index length.
	ErrLengthMismatch = errors.New("column length does not match index")

	// ErrIndexKind is returned when an operation needs a timestamp index but
	// got a labeled table (or the reverse).
	ErrIndexKind = errors.New("unexpected index kind")
)

// Null returns the value used for missing cells.
func Null() float64 { return math.NaN() }

// IsNull reports whether v is a missing cell.
func IsNull(v float64) bool { return math.IsNaN(v) }

// Table is an index plus named float64 columns. Column slices are never
// modified after they are added, so derived tables share them freely.
type Table struct {
	times  []time.Time
	labels []string
	names  []string
	cols   map[string][]float64
}

// New creates an empty table indexed by the given timestamps.
func New(times []time.Time) *Table {
	if times == nil {
		times = []time.Time{}
	}
	return &Table{
		times: times,
		cols:  make(map[string][]float64),
	}
}

// NewLabeled creates an empty table indexed by category labels.
func NewLabeled(labels []string) *Table {
	if labels == nil {
		labels = []string{}
	}
	return &Table{
		labels: labels,
		cols:   make(map[string][]float64),
	}
}

// Labeled reports whether the table is indexed by labels instead of timestamps.
func (t *Table) Labeled() bool { return t.labels != nil }

// Len returns the number of rows.
func (t *Table) Len() int {
	if t.Labeled() {
		return len(t.labels)
	}
	return len(t.times)
}

// Times returns the timestamp index. The slice must not be modified.
func (t *Table) Times() []time.Time { return t.times }

// Labels returns the label index. The slice must not be modified.
func (t *Table) Labels() []string { return t.labels }

// Columns returns the column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// NumColumns returns the number of value columns.
func (t *Table) NumColumns() int { return len(t.names) }

// HasColumn reports whether name is present.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column returns the values of a column. The slice must not be modified.
func (t *Table) Column(name string) ([]float64, bool) {
	v, ok := t.cols[name]
	return v, ok
}

// AddColumn appends a column. Existing columns are never replaced.
func (t *Table) AddColumn(name string, values []float64) error {
	if _, ok := t.cols[name]; ok {
		return fmt.Errorf("%w: %s", ErrColumnCollision, name)
	}
	if len(values) != t.Len() {
		return fmt.Errorf("%w: column %s has %d values, index has %d", ErrLengthMismatch, name, len(values), t.Len())
	}
	t.names = append(t.names, name)
	t.cols[name] = values
	return nil
}

// Clone returns a new table with the same index and columns. Columns added
// to the clone do not affect the receiver.
func (t *Table) Clone() *Table {
	out := &Table{
		times:  t.times,
		labels: t.labels,
		names:  make([]string, len(t.names)),
		cols:   make(map[string][]float64, len(t.cols)),
	}
	copy(out.names, t.names)
	for k, v := range t.cols {
		out.cols[k] = v
	}
	return out
}

// Rename returns a copy with columns renamed according to mapping. Names
// missing from mapping are kept. Two columns renamed to the same target is a
// collision.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	out := t.emptyLike()
	for _, name := range t.names {
		target := name
		if m, ok := mapping[name]; ok {
			target = m
		}
		if err := out.AddColumn(target, t.cols[name]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Select returns a copy holding only the named columns, in the given order.
func (t *Table) Select(names []string) (*Table, error) {
	out := t.emptyLike()
	for _, name := range names {
		v, ok := t.cols[name]
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		if err := out.AddColumn(name, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Take returns a new table holding rows idx, in that order.
func (t *Table) Take(idx []int) *Table {
	var out *Table
	if t.Labeled() {
		labels := make([]string, len(idx))
		for i, r := range idx {
			labels[i] = t.labels[r]
		}
		out = NewLabeled(labels)
	} else {
		times := make([]time.Time, len(idx))
		for i, r := range idx {
			times[i] = t.times[r]
		}
		out = New(times)
	}
	for _, name := range t.names {
		src := t.cols[name]
		dst := make([]float64, len(idx))
		for i, r := range idx {
			dst[i] = src[r]
		}
		out.names = append(out.names, name)
		out.cols[name] = dst
	}
	return out
}

// SortByTime returns the table ordered by ascending timestamp. The sort is
// stable so equal timestamps keep their original order.
func (t *Table) SortByTime() (*Table, error) {
	if t.Labeled() {
		return nil, fmt.Errorf("%w: sort requires a timestamp index", ErrIndexKind)
	}
	idx := make([]int, len(t.times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return t.times[idx[a]].Before(t.times[idx[b]])
	})
	return t.Take(idx), nil
}

// DedupFirst drops rows whose timestamp already appeared earlier in the
// table. It returns the new table and the number of dropped rows.
func (t *Table) DedupFirst() (*Table, int) {
	if t.Labeled() {
		return t.Clone(), 0
	}
	seen := make(map[int64]struct{}, len(t.times))
	idx := make([]int, 0, len(t.times))
	for i, ts := range t.times {
		k := ts.UnixNano()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		idx = append(idx, i)
	}
	return t.Take(idx), len(t.times) - len(idx)
}

// Since drops rows strictly before start, returning the dropped count.
func (t *Table) Since(start time.Time) (*Table, int) {
	if t.Labeled() {
		return t.Clone(), 0
	}
	idx := make([]int, 0, len(t.times))
	for i, ts := range t.times {
		if ts.Before(start) {
			continue
		}
		idx = append(idx, i)
	}
	return t.Take(idx), len(t.times) - len(idx)
}

// LastTime returns the greatest timestamp in the table.
func (t *Table) LastTime() (time.Time, bool) {
	if t.Labeled() || len(t.times) == 0 {
		return time.Time{}, false
	}
	last := t.times[0]
	for _, ts := range t.times[1:] {
		if ts.After(last) {
			last = ts
		}
	}
	return last, true
}

// Equal reports whether two tables have the same index, column order and
// values, treating nulls as equal to each other.
func (t *Table) Equal(o *Table) bool {
	if t.Labeled() != o.Labeled() || t.Len() != o.Len() {
		return false
	}
	if len(t.names) != len(o.names) {
		return false
	}
	for i := range t.names {
		if t.names[i] != o.names[i] {
			return false
		}
	}
	for i := 0; i < t.Len(); i++ {
		if t.Labeled() {
			if t.labels[i] != o.labels[i] {
				return false
			}
		} else if !t.times[i].Equal(o.times[i]) {
			return false
		}
	}
	for _, name := range t.names {
		a, b := t.cols[name], o.cols[name]
		for i := range a {
			if IsNull(a[i]) != IsNull(b[i]) {
				return false
			}
			if !IsNull(a[i]) && a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

func (t *Table) emptyLike() *Table {
	return &Table{
		times:  t.times,
		labels: t.labels,
		cols:   make(map[string][]float64, len(t.cols)),
	}
}
