package project

import (
	"fmt"
	"io"

	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	_ = (operators.Operator)(&TableScan{})

	ErrInvalidInMemoryDataType = func(Type any) error {
		return fmt.Errorf("%T is not a supported in memory dataType for an in-memory source", Type)
	}
)

// TableScan reads batches out of a materialized table, optionally
// restricted to a contiguous row range and a subset of columns. The table
// is shared and read-only; each scan keeps only its own cursor.
type TableScan struct {
	schema  *arrow.Schema
	columns []arrow.Array
	pos     uint64
	end     uint64
}

// NewTableScan scans the whole table. keep lists the columns to scan; nil
// keeps all of them (column pruning sets this).
func NewTableScan(table *operators.RecordBatch, keep []string) (*TableScan, error) {
	return NewTableRangeScan(table, keep, 0, table.RowCount)
}

// NewTableRangeScan scans rows [start, end) only. Partition execution
// hands each worker its own range over the same table.
func NewTableRangeScan(table *operators.RecordBatch, keep []string, start, end uint64) (*TableScan, error) {
	if start > end || end > table.RowCount {
		return nil, fmt.Errorf("row range [%d, %d) out of bounds for table with %d rows", start, end, table.RowCount)
	}
	schema := table.Schema
	columns := table.Columns
	if keep != nil {
		var err error
		schema, columns, err = ProjectSchemaFilterDown(table.Schema, table.Columns, keep...)
		if err != nil {
			return nil, err
		}
	}
	return &TableScan{
		schema:  schema,
		columns: columns,
		pos:     start,
		end:     end,
	}, nil
}

func (ts *TableScan) Next(n uint16) (*operators.RecordBatch, error) {
	if ts.pos >= ts.end {
		return nil, io.EOF
	}
	toRead := uint64(n)
	if remaining := ts.end - ts.pos; remaining < toRead {
		toRead = remaining
	}
	out := make([]arrow.Array, len(ts.columns))
	for i, col := range ts.columns {
		out[i] = array.NewSlice(col, int64(ts.pos), int64(ts.pos+toRead))
	}
	ts.pos += toRead
	return &operators.RecordBatch{
		Schema:   ts.schema,
		Columns:  out,
		RowCount: toRead,
	}, nil
}

func (ts *TableScan) Schema() *arrow.Schema {
	return ts.schema
}

func (ts *TableScan) Close() error {
	// columns belong to the shared table
	return nil
}

// NewInMemorySource builds a scan directly over Go slices, one per column.
// Supported column types: []int64, []float64, []string, []bool and
// []operators.Value for columns with nulls. Mostly a test convenience.
func NewInMemorySource(names []string, columns []any) (*TableScan, error) {
	if len(names) != len(columns) {
		return nil, operators.ErrInvalidSchema("number of column names and columns do not match")
	}
	fields := make([]arrow.Field, 0, len(names))
	arrays := make([]arrow.Array, 0, len(names))
	for i, col := range columns {
		field, arr, err := unpackColumn(names[i], col)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		arrays = append(arrays, arr)
	}
	table := &operators.RecordBatch{
		Schema:  arrow.NewSchema(fields, nil),
		Columns: arrays,
	}
	if len(arrays) > 0 {
		table.RowCount = uint64(arrays[0].Len())
	}
	return NewTableScan(table, nil)
}

func unpackColumn(name string, col any) (arrow.Field, arrow.Array, error) {
	var field arrow.Field
	field.Name = name
	field.Nullable = true
	mem := memory.DefaultAllocator
	switch data := col.(type) {
	case []int64:
		field.Type = arrow.PrimitiveTypes.Int64
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []int:
		field.Type = arrow.PrimitiveTypes.Int64
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range data {
			b.Append(int64(v))
		}
		return field, b.NewArray(), nil
	case []float64:
		field.Type = arrow.PrimitiveTypes.Float64
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []string:
		field.Type = arrow.BinaryTypes.String
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []bool:
		field.Type = arrow.FixedWidthTypes.Boolean
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(data, nil)
		return field, b.NewArray(), nil
	case []operators.Value:
		kind := operators.TextKind
		for _, v := range data {
			if !v.IsNull() {
				kind = v.Kind
				break
			}
		}
		field.Type = operators.ArrowType(kind)
		b := array.NewBuilder(mem, field.Type)
		defer b.Release()
		for _, v := range data {
			if err := operators.AppendValue(b, v); err != nil {
				return field, nil, err
			}
		}
		return field, b.NewArray(), nil
	default:
		return field, nil, ErrInvalidInMemoryDataType(col)
	}
}
