package project

import (
	"errors"
	"io"

	"tabql/Expr"
	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	_ = (operators.Operator)(&ProjectExec{})
)

// handle keeping only the requested columns but make sure the schema and
// columns are also aligned
// returns error if a column doesnt exist
func ProjectSchemaFilterDown(schema *arrow.Schema, cols []arrow.Array, keepCols ...string) (*arrow.Schema, []arrow.Array, error) {
	if len(keepCols) == 0 {
		return arrow.NewSchema([]arrow.Field{}, nil), nil, errors.New("no columns passed in")
	}

	// Build map: columnName -> original index
	fieldIndex := make(map[string]int)
	for i, f := range schema.Fields() {
		fieldIndex[f.Name] = i
	}

	newFields := make([]arrow.Field, 0, len(keepCols))
	newCols := make([]arrow.Array, 0, len(keepCols))

	// Preserve order from keepCols, not schema order
	for _, name := range keepCols {
		idx, exists := fieldIndex[name]
		if !exists {
			return arrow.NewSchema([]arrow.Field{}, nil), []arrow.Array{}, errors.New("invalid column passed in to be pruned")
		}

		newFields = append(newFields, schema.Field(idx))
		newCols = append(newCols, cols[idx])
	}

	newSchema := arrow.NewSchema(newFields, nil)
	return newSchema, newCols, nil
}

// ProjectExec evaluates one expression per output column, renaming through
// aliases. The select list maps straight onto it.
type ProjectExec struct {
	input  operators.Operator
	schema *arrow.Schema
	exprs  []Expr.Expression
	done   bool
}

// NewProjectExec builds the projection. names gives the output column
// name for each expression (alias or the source column name).
func NewProjectExec(input operators.Operator, exprs []Expr.Expression, names []string) (*ProjectExec, error) {
	if len(exprs) == 0 {
		return nil, errors.New("projection needs at least one expression")
	}
	if len(exprs) != len(names) {
		return nil, operators.ErrInvalidSchema("projection expressions and output names do not match")
	}
	fields := make([]arrow.Field, len(exprs))
	for i, e := range exprs {
		dt, err := Expr.ExprDataType(e, input.Schema())
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: names[i], Type: dt, Nullable: true}
	}
	return &ProjectExec{
		input:  input,
		schema: arrow.NewSchema(fields, nil),
		exprs:  exprs,
	}, nil
}

func (p *ProjectExec) Next(n uint16) (*operators.RecordBatch, error) {
	if p.done {
		return nil, io.EOF
	}
	childBatch, err := p.input.Next(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.done = true
		}
		return nil, err
	}
	outCols := make([]arrow.Array, len(p.exprs))
	for i, e := range p.exprs {
		outCols[i], err = Expr.EvalExpression(e, childBatch)
		if err != nil {
			return nil, err
		}
	}
	return &operators.RecordBatch{
		Schema:   p.schema,
		Columns:  outCols,
		RowCount: childBatch.RowCount,
	}, nil
}

func (p *ProjectExec) Schema() *arrow.Schema {
	return p.schema
}

func (p *ProjectExec) Close() error {
	return p.input.Close()
}
