package operators

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrInvalidSchema = func(info string) error {
		return fmt.Errorf("invalid schema was provided. context: %s", info)
	}
)

// Operator is the pull-based execution interface. Parents request batches
// from children until Next returns io.EOF.
type Operator interface {
	Next(uint16) (*RecordBatch, error)
	Schema() *arrow.Schema
	// Call Operator.Close() after Next returns an io.EOF to clean up resources
	Close() error
}

// RecordBatch is a slice of columnar data. A fully materialized table is
// just a RecordBatch holding every row; tables are never mutated after
// construction, every operator produces new arrays.
type RecordBatch struct {
	Schema   *arrow.Schema
	Columns  []arrow.Array
	RowCount uint64
}

type SchemaBuilder struct {
	fields []arrow.Field
}

type RecordBatchBuilder struct {
	SchemaBuilder *SchemaBuilder
}

func NewRecordBatchBuilder() *RecordBatchBuilder {
	return &RecordBatchBuilder{
		SchemaBuilder: &SchemaBuilder{
			fields: make([]arrow.Field, 0, 10),
		},
	}
}

func (sb *SchemaBuilder) WithField(name string, dtype arrow.DataType, nullable bool) *SchemaBuilder {
	sb.fields = append(sb.fields, arrow.Field{
		Name:     name,
		Type:     dtype,
		Nullable: nullable,
	})
	return sb
}

func (sb *SchemaBuilder) Build() *arrow.Schema {
	return arrow.NewSchema(sb.fields, nil)
}

func (rbb *RecordBatchBuilder) Schema() *arrow.Schema {
	return arrow.NewSchema(rbb.SchemaBuilder.fields, nil)
}

// schema is always right in case of type mismatches
func (rbb *RecordBatchBuilder) validate(schema *arrow.Schema, columns []arrow.Array) error {
	if len(schema.Fields()) != len(columns) {
		return ErrInvalidSchema("schema fields and column count do not match")
	}
	var errs []string
	for i := 0; i < len(columns); i++ {
		field := schema.Field(i)
		colType := columns[i].DataType()

		if !arrow.TypeEqual(colType, field.Type) {
			errs = append(errs,
				fmt.Sprintf("Type mismatch at position %d: column '%s' has type '%s', but schema expects '%s'.",
					i, field.Name, colType, field.Type))
		}
	}
	if len(errs) > 0 {
		return ErrInvalidSchema(strings.Join(errs, " "))
	}
	return nil
}

func (rbb *RecordBatchBuilder) NewRecordBatch(schema *arrow.Schema, columns []arrow.Array) (*RecordBatch, error) {
	if err := rbb.validate(schema, columns); err != nil {
		return nil, err
	}
	var rows uint64
	if len(columns) > 0 {
		rows = uint64(columns[0].Len())
	}
	return &RecordBatch{
		Schema:   schema,
		Columns:  columns,
		RowCount: rows,
	}, nil
}

func (rb *RecordBatch) DeepEqual(other *RecordBatch) bool {
	if !rb.Schema.Equal(other.Schema) {
		return false
	}
	if len(rb.Columns) != len(other.Columns) {
		return false
	}
	for i := 0; i < len(rb.Columns); i++ {
		if !array.Equal(rb.Columns[i], other.Columns[i]) {
			return false
		}
	}
	return true
}

// ColumnByName returns the array backing the named column, or nil when the
// column does not exist.
func (rb *RecordBatch) ColumnByName(name string) arrow.Array {
	for i, f := range rb.Schema.Fields() {
		if f.Name == name {
			return rb.Columns[i]
		}
	}
	return nil
}

func ReleaseArrays(cols []arrow.Array) {
	for _, c := range cols {
		if c != nil {
			c.Release()
		}
	}
}

// Collect drains an operator into a single batch, concatenating every
// column across child batches. The operator is closed afterwards.
func Collect(op Operator, batchSize uint16) (*RecordBatch, error) {
	if batchSize == 0 {
		return nil, errors.New("must pass in wanted batch size > 0")
	}
	mem := memory.NewGoAllocator()
	schema := op.Schema()
	allColumns := make([]arrow.Array, len(schema.Fields()))
	for {
		batch, err := op.Next(batchSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		for i := range batch.Columns {
			if allColumns[i] == nil {
				allColumns[i] = batch.Columns[i]
				continue
			}
			larger, err := array.Concatenate([]arrow.Array{allColumns[i], batch.Columns[i]}, mem)
			if err != nil {
				return nil, err
			}
			allColumns[i] = larger
		}
	}
	if err := op.Close(); err != nil {
		return nil, err
	}
	// an operator that never produced a batch still yields an empty table
	for i, f := range schema.Fields() {
		if allColumns[i] == nil {
			allColumns[i] = emptyArray(f.Type, mem)
		}
	}
	var rows uint64
	if len(allColumns) > 0 {
		rows = uint64(allColumns[0].Len())
	}
	return &RecordBatch{
		Schema:   schema,
		Columns:  allColumns,
		RowCount: rows,
	}, nil
}

func emptyArray(dt arrow.DataType, mem memory.Allocator) arrow.Array {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	return b.NewArray()
}

func (rbb *RecordBatchBuilder) GenIntArray(values ...int64) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenFloatArray(values ...float64) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenStringArray(values ...string) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewStringBuilder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

func (rbb *RecordBatchBuilder) GenBoolArray(values ...bool) arrow.Array {
	mem := memory.NewGoAllocator()
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	for _, v := range values {
		builder.Append(v)
	}
	return builder.NewArray()
}

// GenValueArray builds an array from scalar Values, producing nulls where
// a Value is Null. Non-null values must be storable in dt.
func (rbb *RecordBatchBuilder) GenValueArray(dt arrow.DataType, values ...Value) (arrow.Array, error) {
	mem := memory.NewGoAllocator()
	builder := array.NewBuilder(mem, dt)
	defer builder.Release()
	for _, v := range values {
		if err := AppendValue(builder, v); err != nil {
			return nil, err
		}
	}
	return builder.NewArray(), nil
}
