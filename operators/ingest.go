package operators

import (
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// CellError records a single cell whose value did not match the inferred
// column type. The cell is stored as Null; ingestion itself never fails
// over a bad cell.
type CellError struct {
	Row    int
	Column string
	Value  any
}

func (e *CellError) Error() string {
	return fmt.Sprintf("row %d column %q: value %v (%T) does not match inferred column type",
		e.Row, e.Column, e.Value, e.Value)
}

// TableFromRecords converts a sequence of same-shaped records into a
// columnar table. The columns slice fixes schema order (records are maps
// and carry none). Each column's type is inferred from its first non-null
// value; later mismatched values become Null and are reported as
// CellErrors.
func TableFromRecords(columns []string, rows []map[string]any) (*RecordBatch, []CellError, error) {
	if len(columns) == 0 {
		return nil, nil, errors.New("at least one column name is required")
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			return nil, nil, fmt.Errorf("duplicate column name %q", c)
		}
		seen[c] = struct{}{}
	}

	kinds := make([]ValueKind, len(columns))
	for i, name := range columns {
		kinds[i] = inferColumnKind(name, rows)
	}

	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, len(columns))
	arrays := make([]arrow.Array, len(columns))
	var cellErrs []CellError

	for i, name := range columns {
		fields[i] = arrow.Field{Name: name, Type: ArrowType(kinds[i]), Nullable: true}
		builder := array.NewBuilder(mem, fields[i].Type)
		for r, row := range rows {
			v, ok := coerceCell(row[name], kinds[i])
			if !ok {
				cellErrs = append(cellErrs, CellError{Row: r, Column: name, Value: row[name]})
				v = Null()
			}
			if err := AppendValue(builder, v); err != nil {
				builder.Release()
				return nil, nil, err
			}
		}
		arrays[i] = builder.NewArray()
		builder.Release()
	}

	return &RecordBatch{
		Schema:   arrow.NewSchema(fields, nil),
		Columns:  arrays,
		RowCount: uint64(len(rows)),
	}, cellErrs, nil
}

// unsupportedKind marks a host value outside the scalar union. It never
// reaches a column; coerceCell turns it into a Null plus a CellError.
const unsupportedKind = ValueKind(-1)

// first non-null value's type wins; an all-null column defaults to text
func inferColumnKind(name string, rows []map[string]any) ValueKind {
	for _, row := range rows {
		v := scalarOf(row[name])
		if !v.IsNull() && v.Kind != unsupportedKind {
			return v.Kind
		}
	}
	return TextKind
}

func scalarOf(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case int:
		return NewInteger(int64(v))
	case int8:
		return NewInteger(int64(v))
	case int16:
		return NewInteger(int64(v))
	case int32:
		return NewInteger(int64(v))
	case int64:
		return NewInteger(v)
	case uint8:
		return NewInteger(int64(v))
	case uint16:
		return NewInteger(int64(v))
	case uint32:
		return NewInteger(int64(v))
	case float32:
		return NewFloat(float64(v))
	case float64:
		return NewFloat(v)
	case string:
		return NewText(v)
	case bool:
		return NewBoolean(v)
	default:
		return Value{Kind: unsupportedKind}
	}
}

// coerceCell fits a raw record value into the column's inferred kind.
// Integers widen into float columns; a float with no fraction narrows into
// an integer column. Anything else mismatched is a cell error.
func coerceCell(raw any, want ValueKind) (Value, bool) {
	v := scalarOf(raw)
	if v.Kind == unsupportedKind {
		return Null(), false
	}
	if v.IsNull() || v.Kind == want {
		return v, true
	}
	if want == FloatKind && v.Kind == IntegerKind {
		return NewFloat(float64(v.Int)), true
	}
	if want == IntegerKind && v.Kind == FloatKind && v.Float == float64(int64(v.Float)) {
		return NewInteger(int64(v.Float)), true
	}
	return Null(), false
}
