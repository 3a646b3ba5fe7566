package table

import (
	"fmt"
	"sort"
	"time"
)

// OuterJoin merges two timestamp-indexed tables on their timestamps. The
// result holds one row per timestamp present in either input, ordered by
// time, with nulls where an input had no row. Inputs are expected to have
// unique timestamps. A column present in both inputs is a fatal collision.
func OuterJoin(left, right *Table) (*Table, error) {
	if left.Labeled() || right.Labeled() {
		return nil, fmt.Errorf("%w: outer join requires timestamp indexes", ErrIndexKind)
	}
	for _, name := range right.names {
		if left.HasColumn(name) {
			return nil, fmt.Errorf("%w: %s present on both sides of join", ErrColumnCollision, name)
		}
	}

	keys := make(map[int64]time.Time, left.Len()+right.Len())
	for _, ts := range left.times {
		keys[ts.UnixNano()] = ts
	}
	for _, ts := range right.times {
		if _, ok := keys[ts.UnixNano()]; !ok {
			keys[ts.UnixNano()] = ts
		}
	}

	ordered := make([]int64, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	times := make([]time.Time, len(ordered))
	pos := make(map[int64]int, len(ordered))
	for i, k := range ordered {
		times[i] = keys[k]
		pos[k] = i
	}

	out := New(times)
	for _, side := range []*Table{left, right} {
		rows := make([]int, side.Len())
		for i, ts := range side.times {
			rows[i] = pos[ts.UnixNano()]
		}
		for _, name := range side.names {
			src := side.cols[name]
			dst := make([]float64, len(times))
			for i := range dst {
				dst[i] = Null()
			}
			for i, v := range src {
				dst[rows[i]] = v
			}
			if err := out.AddColumn(name, dst); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// OuterJoinAll folds OuterJoin over tables in order.
func OuterJoinAll(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New(nil), nil
	}
	acc := tables[0]
	for _, t := range tables[1:] {
		joined, err := OuterJoin(acc, t)
		if err != nil {
			return nil, err
		}
		acc = joined
	}
	return acc, nil
}
