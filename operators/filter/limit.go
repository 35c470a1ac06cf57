package filter

import (
	"errors"
	"io"

	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

var (
	_ = (operators.Operator)(&LimitExec{})
)

// LimitExec truncates its input to the first count rows.
type LimitExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	remaining uint64
	done      bool
}

func NewLimitExec(input operators.Operator, count int64) (*LimitExec, error) {
	if count < 0 {
		return nil, errors.New("limit count must not be negative")
	}
	return &LimitExec{
		input:     input,
		schema:    input.Schema(),
		remaining: uint64(count),
	}, nil
}

func (l *LimitExec) Next(n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return &operators.RecordBatch{
			Schema:   l.schema,
			Columns:  []arrow.Array{},
			RowCount: 0,
		}, nil
	}
	if l.done || l.remaining == 0 {
		return nil, io.EOF
	}
	childN := uint64(n)
	if childN > l.remaining {
		childN = l.remaining
	}
	childBatch, err := l.input.Next(uint16(childN))
	if err != nil {
		if errors.Is(err, io.EOF) {
			l.done = true
		}
		return nil, err
	}
	// a child may return fewer rows than asked (a filter that dropped
	// some) or more (a blocking aggregate emits every group at once);
	// only what passes through counts against the limit
	if childBatch.RowCount > l.remaining {
		cols := make([]arrow.Array, len(childBatch.Columns))
		for i, col := range childBatch.Columns {
			cols[i] = array.NewSlice(col, 0, int64(l.remaining))
		}
		operators.ReleaseArrays(childBatch.Columns)
		childBatch = &operators.RecordBatch{
			Schema:   childBatch.Schema,
			Columns:  cols,
			RowCount: l.remaining,
		}
	}
	l.remaining -= childBatch.RowCount
	return childBatch, nil
}

func (l *LimitExec) Schema() *arrow.Schema {
	return l.schema
}

func (l *LimitExec) Close() error {
	return l.input.Close()
}
