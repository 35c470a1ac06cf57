// Package parallel runs aggregation plans across row partitions of a
// table and merges the partial states into one result, guaranteed to
// match single-threaded execution.
package parallel

import (
	"errors"
	"fmt"
	"io"

	"tabql/operators"
	"tabql/operators/aggr"
	"tabql/plan"
)

// partialBatchSize is how many rows a partition worker pulls per call.
const partialBatchSize uint16 = 1024

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// RowRange is a half-open [Start, End) slice of table rows.
type RowRange struct {
	Start uint64
	End   uint64
}

func (r RowRange) Len() uint64 { return r.End - r.Start }

// Partitions splits rows into at most n contiguous ranges that cover the
// table exactly once. Earlier ranges take the remainder, so sizes differ
// by at most one row. An empty table yields a single empty range.
func Partitions(rows uint64, n int) []RowRange {
	if n < 1 {
		n = 1
	}
	if rows == 0 {
		return []RowRange{{Start: 0, End: 0}}
	}
	if uint64(n) > rows {
		n = int(rows)
	}

	base := rows / uint64(n)
	rem := rows % uint64(n)
	out := make([]RowRange, n)
	var pos uint64
	for i := range out {
		size := base
		if uint64(i) < rem {
			size++
		}
		out[i] = RowRange{Start: pos, End: pos + size}
		pos += size
	}
	return out
}

// ExecutePartial runs the pre-aggregation pipeline of agg over one row
// range and folds the rows into a fresh aggregation state. The state is
// not finalized; partials from different ranges merge with MergeFrom.
func ExecutePartial(agg *plan.Aggregate, table *operators.RecordBatch, rng RowRange) (*aggr.HashGroups, error) {
	child, err := plan.CompileRange(agg.Child, table, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	defer child.Close()

	kinds, err := aggr.GroupKeyKinds(child.Schema(), agg.GroupBy)
	if err != nil {
		return nil, err
	}
	groups := aggr.NewHashGroups(agg.GroupBy, kinds, agg.Aggs)

	for {
		batch, err := child.Next(partialBatchSize)
		if err != nil {
			if isEOF(err) {
				return groups, nil
			}
			return nil, err
		}
		if err := groups.Consume(batch); err != nil {
			return nil, err
		}
		operators.ReleaseArrays(batch.Columns)
	}
}

// Merge folds partial states left to right into the first one and
// finalizes the result. All partials must come from the same plan.
func Merge(partials []*aggr.HashGroups) (*operators.RecordBatch, error) {
	if len(partials) == 0 {
		return nil, fmt.Errorf("merge: no partial states")
	}
	merged := partials[0]
	for _, p := range partials[1:] {
		if err := merged.MergeFrom(p); err != nil {
			return nil, err
		}
	}
	return merged.Finalize()
}
