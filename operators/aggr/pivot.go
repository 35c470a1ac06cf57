package aggr

import (
	"fmt"

	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// Pivot reshapes a two-dimension aggregation result (row key, column key,
// value) into a matrix table: one row per distinct row key, one column per
// distinct column key, cells Null where the pair never occurred. It is a
// post-processing reshape over an already aggregated table, not a plan
// node.
func Pivot(t *operators.RecordBatch, rowKey, colKey, valueCol string) (*operators.RecordBatch, error) {
	rowArr := t.ColumnByName(rowKey)
	colArr := t.ColumnByName(colKey)
	valArr := t.ColumnByName(valueCol)
	if rowArr == nil || colArr == nil || valArr == nil {
		return nil, fmt.Errorf("pivot: columns %q, %q, %q must all exist", rowKey, colKey, valueCol)
	}

	var rowOrder []operators.Value
	var colOrder []string
	rowIdx := make(map[string]int)
	colIdx := make(map[string]struct{})
	cells := make(map[string]map[string]operators.Value)

	for i := 0; i < int(t.RowCount); i++ {
		rv := operators.ValueAt(rowArr, i)
		cv := operators.ValueAt(colArr, i)
		rKey := rv.String()
		cLabel := cv.String()
		if _, ok := rowIdx[rKey]; !ok {
			rowIdx[rKey] = len(rowOrder)
			rowOrder = append(rowOrder, rv)
			cells[rKey] = make(map[string]operators.Value)
		}
		if _, ok := colIdx[cLabel]; !ok {
			colIdx[cLabel] = struct{}{}
			colOrder = append(colOrder, cLabel)
		}
		cells[rKey][cLabel] = operators.ValueAt(valArr, i)
	}

	mem := memory.NewGoAllocator()
	valueType := valArr.DataType()
	fields := make([]arrow.Field, 0, 1+len(colOrder))
	columns := make([]arrow.Array, 0, cap(fields))

	fields = append(fields, arrow.Field{Name: rowKey, Type: rowArr.DataType(), Nullable: true})
	rb := array.NewBuilder(mem, rowArr.DataType())
	for _, rv := range rowOrder {
		if err := operators.AppendValue(rb, rv); err != nil {
			rb.Release()
			return nil, err
		}
	}
	columns = append(columns, rb.NewArray())
	rb.Release()

	for _, label := range colOrder {
		fields = append(fields, arrow.Field{Name: label, Type: valueType, Nullable: true})
		b := array.NewBuilder(mem, valueType)
		for _, rv := range rowOrder {
			cell, ok := cells[rv.String()][label]
			if !ok {
				cell = operators.Null()
			}
			if err := operators.AppendValue(b, cell); err != nil {
				b.Release()
				return nil, err
			}
		}
		columns = append(columns, b.NewArray())
		b.Release()
	}

	return &operators.RecordBatch{
		Schema:   arrow.NewSchema(fields, nil),
		Columns:  columns,
		RowCount: uint64(len(rowOrder)),
	}, nil
}

// Flatten reverses Pivot: the matrix goes back to flat (row key, column
// key, value) tuples. Null cells are skipped, so a pair whose cell is
// Null does not round-trip, whether the pair was absent from the input
// or carried a genuinely Null value. Column keys come back as text
// because pivot column names are text.
func Flatten(p *operators.RecordBatch, rowKey, colKey, valueCol string) (*operators.RecordBatch, error) {
	if len(p.Columns) == 0 {
		return nil, fmt.Errorf("flatten: empty table")
	}
	if p.Schema.Field(0).Name != rowKey {
		return nil, fmt.Errorf("flatten: first column must be the row key %q", rowKey)
	}
	rowArr := p.Columns[0]
	valueFields := p.Schema.Fields()[1:]
	if len(valueFields) == 0 {
		return nil, fmt.Errorf("flatten: no value columns")
	}
	valueType := valueFields[0].Type

	mem := memory.NewGoAllocator()
	rb := array.NewBuilder(mem, rowArr.DataType())
	cb := array.NewStringBuilder(mem)
	vb := array.NewBuilder(mem, valueType)
	defer rb.Release()
	defer cb.Release()
	defer vb.Release()

	var rows uint64
	for i := 0; i < int(p.RowCount); i++ {
		for j, f := range valueFields {
			cell := operators.ValueAt(p.Columns[j+1], i)
			if cell.IsNull() {
				continue
			}
			if err := operators.AppendValue(rb, operators.ValueAt(rowArr, i)); err != nil {
				return nil, err
			}
			cb.Append(f.Name)
			if err := operators.AppendValue(vb, cell); err != nil {
				return nil, err
			}
			rows++
		}
	}

	fields := []arrow.Field{
		{Name: rowKey, Type: rowArr.DataType(), Nullable: true},
		{Name: colKey, Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: valueCol, Type: valueType, Nullable: true},
	}
	return &operators.RecordBatch{
		Schema:   arrow.NewSchema(fields, nil),
		Columns:  []arrow.Array{rb.NewArray(), cb.NewArray(), vb.NewArray()},
		RowCount: rows,
	}, nil
}
