package filter

import (
	"context"
	"errors"
	"io"

	"tabql/Expr"
	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
)

var (
	_ = (operators.Operator)(&FilterExec{})
)

// FilterExec is an operator that filters input records according to a
// predicate expression. Rows whose predicate evaluates to null are
// dropped, the same as false.
type FilterExec struct {
	input     operators.Operator
	schema    *arrow.Schema
	predicate Expr.Expression
	done      bool
}

func NewFilterExec(input operators.Operator, pred Expr.Expression) (*FilterExec, error) {
	if pred == nil {
		return nil, errors.New("predicate passed to FilterExec is nil")
	}
	dt, err := Expr.ExprDataType(pred, input.Schema())
	if err != nil {
		return nil, err
	}
	if dt.ID() != arrow.BOOL && dt.ID() != arrow.NULL {
		return nil, operators.Typef("filter predicate must be boolean, got %s", dt)
	}
	return &FilterExec{
		input:     input,
		predicate: pred,
		schema:    input.Schema(),
	}, nil
}

func (f *FilterExec) Next(n uint16) (*operators.RecordBatch, error) {
	if n == 0 {
		return nil, errors.New("must pass in wanted batch size > 0")
	}
	if f.done {
		return nil, io.EOF
	}
	childBatch, err := f.input.Next(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			f.done = true
			return nil, io.EOF
		}
		return nil, err
	}
	mask, err := Expr.EvalExpression(f.predicate, childBatch)
	if err != nil {
		return nil, err
	}
	boolArr, ok := mask.(*array.Boolean)
	if !ok {
		// a pure NULL predicate matches nothing
		if mask.DataType().ID() == arrow.NULL {
			mask.Release()
			return &operators.RecordBatch{
				Schema:   childBatch.Schema,
				Columns:  emptyColumns(childBatch.Schema),
				RowCount: 0,
			}, nil
		}
		return nil, errors.New("predicate did not evaluate to boolean array")
	}
	filteredCol := make([]arrow.Array, len(childBatch.Columns))
	for i, col := range childBatch.Columns {
		filteredCol[i], err = ApplyBooleanMask(col, boolArr)
		if err != nil {
			return nil, err
		}
	}
	mask.Release()
	// release old columns
	operators.ReleaseArrays(childBatch.Columns)
	var size uint64
	if len(filteredCol) > 0 {
		size = uint64(filteredCol[0].Len())
	}

	return &operators.RecordBatch{
		Schema:   childBatch.Schema,
		Columns:  filteredCol,
		RowCount: size,
	}, nil
}

func (f *FilterExec) Schema() *arrow.Schema {
	return f.schema
}

func (f *FilterExec) Close() error {
	return f.input.Close()
}

// ApplyBooleanMask keeps the rows where mask is true; null mask entries
// drop the row.
func ApplyBooleanMask(col arrow.Array, mask *array.Boolean) (arrow.Array, error) {
	datum, err := compute.Filter(
		context.TODO(),
		compute.NewDatum(col),
		compute.NewDatum(mask),
		*compute.DefaultFilterOptions(),
	)
	if err != nil {
		return nil, err
	}

	arr := datum.(*compute.ArrayDatum).MakeArray()
	return arr, nil
}

func emptyColumns(schema *arrow.Schema) []arrow.Array {
	rbb := operators.NewRecordBatchBuilder()
	cols := make([]arrow.Array, len(schema.Fields()))
	for i, f := range schema.Fields() {
		arr, _ := rbb.GenValueArray(f.Type)
		cols[i] = arr
	}
	return cols
}
