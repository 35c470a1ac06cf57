package Expr

import (
	"context"
	"fmt"

	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var (
	ErrUnsupportedExpression = func(info string) error {
		return fmt.Errorf("unsupported expression passed to EvalExpression: %s", info)
	}
)

type BinaryOperator int

const (
	// arithmetic
	Addition       BinaryOperator = 1
	Subtraction    BinaryOperator = 2
	Multiplication BinaryOperator = 3
	Division       BinaryOperator = 4
	// comparison
	Equal              BinaryOperator = 6
	NotEqual           BinaryOperator = 7
	LessThan           BinaryOperator = 8
	LessThanOrEqual    BinaryOperator = 9
	GreaterThan        BinaryOperator = 10
	GreaterThanOrEqual BinaryOperator = 11
	// logical
	And BinaryOperator = 12
	Or  BinaryOperator = 13
)

func (op BinaryOperator) String() string {
	switch op {
	case Addition:
		return "+"
	case Subtraction:
		return "-"
	case Multiplication:
		return "*"
	case Division:
		return "/"
	case Equal:
		return "="
	case NotEqual:
		return "!="
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	case And:
		return "AND"
	case Or:
		return "OR"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

var (
	_ = (Expression)(&Alias{})
	_ = (Expression)(&ColumnResolve{})
	_ = (Expression)(&LiteralResolve{})
	_ = (Expression)(&BinaryExpr{})
	_ = (Expression)(&NotExpr{})
	_ = (Expression)(&CastExpr{})
)

/*
Eval(expr):

	match expr:
	    Literal(x) -> column of length batch-size filled with x
	    Column(name) -> array of that column
	    BinaryExpr(left > right) -> eval left, eval right, apply operator
	    Not(expr) -> inverted boolean array, nulls stay null
	    Alias(expr, name) -> just a name wrapper
*/
type Expression interface {
	// empty method, only for the sake of polymorphism
	ExprNode()
	fmt.Stringer
}

func EvalExpression(expr Expression, batch *operators.RecordBatch) (arrow.Array, error) {
	switch e := expr.(type) {
	case *Alias:
		return EvalExpression(e.Expr, batch)
	case *ColumnResolve:
		return EvalColumn(e, batch)
	case *LiteralResolve:
		return EvalLiteral(e, batch)
	case *BinaryExpr:
		return EvalBinary(e, batch)
	case *NotExpr:
		return EvalNot(e, batch)
	case *CastExpr:
		return EvalCast(e, batch)
	default:
		return nil, ErrUnsupportedExpression(expr.String())
	}
}

// ExprDataType resolves the output type of an expression against an input
// schema, applying the numeric promotion rules. Incompatible operand types
// surface as a *operators.TypeError, unknown columns as a plain error.
func ExprDataType(e Expression, inputSchema *arrow.Schema) (arrow.DataType, error) {
	switch ex := e.(type) {
	case *LiteralResolve:
		return ex.Type, nil

	case *ColumnResolve:
		idx := inputSchema.FieldIndices(ex.Name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("exprDataType: unknown column %q", ex.Name)
		}
		return inputSchema.Field(idx[0]).Type, nil

	case *Alias:
		// alias does NOT change type
		return ExprDataType(ex.Expr, inputSchema)

	case *CastExpr:
		return ex.TargetType, nil

	case *NotExpr:
		dt, err := ExprDataType(ex.Expr, inputSchema)
		if err != nil {
			return nil, err
		}
		if dt.ID() != arrow.BOOL && dt.ID() != arrow.NULL {
			return nil, operators.Typef("NOT requires a boolean operand, got %s", dt)
		}
		return arrow.FixedWidthTypes.Boolean, nil

	case *BinaryExpr:
		leftType, err := ExprDataType(ex.Left, inputSchema)
		if err != nil {
			return nil, err
		}
		rightType, err := ExprDataType(ex.Right, inputSchema)
		if err != nil {
			return nil, err
		}
		return inferBinaryType(leftType, ex.Op, rightType)

	default:
		return nil, ErrUnsupportedExpression(ex.String())
	}
}

func NewExpressions(exprs ...Expression) []Expression {
	return exprs
}

/*
Alias | sql: select col1 as new_name from table_source
updates the column name in the output schema.
*/
type Alias struct {
	Expr Expression
	Name string
}

func NewAlias(expr Expression, name string) *Alias {
	return &Alias{
		Expr: expr,
		Name: name,
	}
}

func (a *Alias) ExprNode() {}
func (a *Alias) String() string {
	return fmt.Sprintf("Alias(%s AS %s)", a.Expr, a.Name)
}

// resolves the arrow array corresponding to name passed in
// sql: select age
type ColumnResolve struct {
	Name string
}

func NewColumnResolve(name string) *ColumnResolve {
	return &ColumnResolve{Name: name}
}

func EvalColumn(c *ColumnResolve, batch *operators.RecordBatch) (arrow.Array, error) {
	// schema and columns are always aligned
	for i, f := range batch.Schema.Fields() {
		if f.Name == c.Name {
			col := batch.Columns[i]
			col.Retain()
			return col, nil
		}
	}
	return nil, fmt.Errorf("column %s not found", c.Name)
}

func (c *ColumnResolve) ExprNode() {}
func (c *ColumnResolve) String() string {
	return fmt.Sprintf("Column(%s)", c.Name)
}

// Evaluates to a column of length = batch-size, filled with this literal.
// sql: select 1
type LiteralResolve struct {
	Type  arrow.DataType
	Value any
}

func NewLiteralResolve(Type arrow.DataType, Value any) *LiteralResolve {
	var castVal any
	switch v := Value.(type) {
	case int:
		castVal = int64(v)
	case int32:
		castVal = int64(v)
	case int64:
		castVal = v
	case float64:
		castVal = v
	case string:
		castVal = v
	case bool:
		castVal = v
	default:
		castVal = Value
	}
	return &LiteralResolve{Type: Type, Value: castVal}
}

// NewBoolLiteral is what predicates fold to.
func NewBoolLiteral(v bool) *LiteralResolve {
	return NewLiteralResolve(arrow.FixedWidthTypes.Boolean, v)
}

func EvalLiteral(l *LiteralResolve, batch *operators.RecordBatch) (arrow.Array, error) {
	n := int(batch.RowCount)
	mem := memory.DefaultAllocator

	switch l.Type.ID() {
	case arrow.BOOL:
		v := l.Value.(bool)
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil

	case arrow.INT64:
		v := l.Value.(int64)
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil

	case arrow.FLOAT64:
		v := l.Value.(float64)
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil

	case arrow.STRING:
		v := l.Value.(string)
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.Append(v)
		}
		return b.NewArray(), nil

	case arrow.NULL:
		b := array.NewNullBuilder(mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			b.AppendNull()
		}
		return b.NewArray(), nil

	default:
		return nil, fmt.Errorf("literal type %s not supported", l.Type)
	}
}

func (l *LiteralResolve) ExprNode() {}
func (l *LiteralResolve) String() string {
	if l.Type.ID() == arrow.STRING {
		return fmt.Sprintf("Literal(%q)", l.Value)
	}
	return fmt.Sprintf("Literal(%v)", l.Value)
}

type BinaryExpr struct {
	Left  Expression
	Op    BinaryOperator
	Right Expression
}

func NewBinaryExpr(left Expression, op BinaryOperator, right Expression) *BinaryExpr {
	return &BinaryExpr{
		Left:  left,
		Op:    op,
		Right: right,
	}
}

func (b *BinaryExpr) ExprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("BinaryExpr(%s %s %s)", b.Left, b.Op, b.Right)
}

func EvalBinary(b *BinaryExpr, batch *operators.RecordBatch) (arrow.Array, error) {
	leftArr, err := EvalExpression(b.Left, batch)
	if err != nil {
		return nil, err
	}
	rightArr, err := EvalExpression(b.Right, batch)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case Addition, Subtraction, Multiplication, Division:
		return evalArithmetic(b.Op, leftArr, rightArr)
	case Equal, NotEqual, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
		return evalComparison(b.Op, leftArr, rightArr)
	case And, Or:
		return evalLogical(b.Op, leftArr, rightArr)
	}
	return nil, fmt.Errorf("binary operator %s not supported", b.Op)
}

func evalArithmetic(op BinaryOperator, left, right arrow.Array) (arrow.Array, error) {
	if !isNumericType(left.DataType()) || !isNumericType(right.DataType()) {
		return nil, operators.Typef("arithmetic %s requires numeric operands, got %s and %s",
			op, left.DataType(), right.DataType())
	}
	var err error
	if !arrow.TypeEqual(left.DataType(), right.DataType()) {
		// Integer promotes to Float when mixed
		if left, err = castArrayToFloat64(left); err != nil {
			return nil, err
		}
		if right, err = castArrayToFloat64(right); err != nil {
			return nil, err
		}
	}
	opt := compute.ArithmeticOptions{}
	var datum compute.Datum
	switch op {
	case Addition:
		datum, err = compute.Add(context.TODO(), opt, compute.NewDatum(left), compute.NewDatum(right))
	case Subtraction:
		datum, err = compute.Subtract(context.TODO(), opt, compute.NewDatum(left), compute.NewDatum(right))
	case Multiplication:
		datum, err = compute.Multiply(context.TODO(), opt, compute.NewDatum(left), compute.NewDatum(right))
	case Division:
		datum, err = compute.Divide(context.TODO(), opt, compute.NewDatum(left), compute.NewDatum(right))
	}
	if err != nil {
		return nil, err
	}
	return unpackDatum(datum)
}

// numeric comparisons run through arrow compute kernels; text and boolean
// comparisons are evaluated row by row so that nulls stay null and
// unsupported combinations surface as TypeErrors.
func evalComparison(op BinaryOperator, left, right arrow.Array) (arrow.Array, error) {
	lt, rt := left.DataType(), right.DataType()

	switch {
	case isNumericType(lt) && isNumericType(rt):
		var err error
		if !arrow.TypeEqual(lt, rt) {
			if left, err = castArrayToFloat64(left); err != nil {
				return nil, err
			}
			if right, err = castArrayToFloat64(right); err != nil {
				return nil, err
			}
		}
		datum, err := compute.CallFunction(context.Background(), kernelName(op), compute.DefaultFilterOptions(),
			compute.NewDatum(left), compute.NewDatum(right))
		if err != nil {
			return nil, err
		}
		return unpackDatum(datum)

	case lt.ID() == arrow.STRING && rt.ID() == arrow.STRING:
		return compareTextArrays(op, left.(*array.String), right.(*array.String))

	case lt.ID() == arrow.BOOL && rt.ID() == arrow.BOOL:
		if op != Equal && op != NotEqual {
			return nil, operators.Typef("booleans only support = and !=, got %s", op)
		}
		return compareBoolArrays(op, left.(*array.Boolean), right.(*array.Boolean))

	case lt.ID() == arrow.NULL || rt.ID() == arrow.NULL:
		// NULL literal compares to nothing; whole mask is null
		return allNullBoolArray(left.Len()), nil

	default:
		return nil, operators.Typef("cannot compare %s with %s", lt, rt)
	}
}

func kernelName(op BinaryOperator) string {
	switch op {
	case Equal:
		return "equal"
	case NotEqual:
		return "not_equal"
	case LessThan:
		return "less"
	case LessThanOrEqual:
		return "less_equal"
	case GreaterThan:
		return "greater"
	case GreaterThanOrEqual:
		return "greater_equal"
	default:
		return ""
	}
}

func compareTextArrays(op BinaryOperator, left, right *array.String) (arrow.Array, error) {
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < left.Len(); i++ {
		if left.IsNull(i) || right.IsNull(i) {
			b.AppendNull()
			continue
		}
		li, ri := left.Value(i), right.Value(i)
		var out bool
		switch op {
		case Equal:
			out = li == ri
		case NotEqual:
			out = li != ri
		case LessThan:
			out = li < ri
		case LessThanOrEqual:
			out = li <= ri
		case GreaterThan:
			out = li > ri
		case GreaterThanOrEqual:
			out = li >= ri
		}
		b.Append(out)
	}
	return b.NewArray(), nil
}

func compareBoolArrays(op BinaryOperator, left, right *array.Boolean) (arrow.Array, error) {
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < left.Len(); i++ {
		if left.IsNull(i) || right.IsNull(i) {
			b.AppendNull()
			continue
		}
		eq := left.Value(i) == right.Value(i)
		if op == NotEqual {
			eq = !eq
		}
		b.Append(eq)
	}
	return b.NewArray(), nil
}

func evalLogical(op BinaryOperator, left, right arrow.Array) (arrow.Array, error) {
	// a NULL literal operand participates as an all-null mask
	if left.DataType().ID() == arrow.NULL {
		left = allNullBoolArray(left.Len())
	}
	if right.DataType().ID() == arrow.NULL {
		right = allNullBoolArray(right.Len())
	}
	if left.DataType().ID() != arrow.BOOL || right.DataType().ID() != arrow.BOOL {
		return nil, operators.Typef("%s requires boolean operands, got %s and %s",
			op, left.DataType(), right.DataType())
	}
	name := "and"
	if op == Or {
		name = "or"
	}
	datum, err := compute.CallFunction(context.Background(), name, compute.DefaultFilterOptions(),
		compute.NewDatum(left), compute.NewDatum(right))
	if err != nil {
		return nil, err
	}
	return unpackDatum(datum)
}

func allNullBoolArray(n int) arrow.Array {
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < n; i++ {
		b.AppendNull()
	}
	return b.NewArray()
}

func unpackDatum(d compute.Datum) (arrow.Array, error) {
	arr, ok := d.(*compute.ArrayDatum)
	if !ok {
		return nil, fmt.Errorf("datum %v is not of type array", d)
	}
	return arr.MakeArray(), nil
}

// NotExpr inverts a boolean expression; nulls stay null so a NOT over an
// absorbing null still fails the predicate.
type NotExpr struct {
	Expr Expression
}

func NewNotExpr(expr Expression) *NotExpr {
	return &NotExpr{Expr: expr}
}

func (n *NotExpr) ExprNode() {}
func (n *NotExpr) String() string {
	return fmt.Sprintf("Not(%s)", n.Expr.String())
}

func EvalNot(n *NotExpr, batch *operators.RecordBatch) (arrow.Array, error) {
	arr, err := EvalExpression(n.Expr, batch)
	if err != nil {
		return nil, err
	}
	if arr.DataType().ID() == arrow.NULL {
		n := arr.Len()
		arr.Release()
		return allNullBoolArray(n), nil
	}
	boolArr, ok := arr.(*array.Boolean)
	if !ok {
		return nil, operators.Typef("NOT requires a boolean operand, got %s", arr.DataType())
	}
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < boolArr.Len(); i++ {
		if boolArr.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(!boolArr.Value(i))
	}
	return b.NewArray(), nil
}

// If cast succeeds → return the casted value
// If cast fails → runtime error
type CastExpr struct {
	Expr       Expression
	TargetType arrow.DataType
}

func NewCastExpr(expr Expression, targetType arrow.DataType) *CastExpr {
	return &CastExpr{
		Expr:       expr,
		TargetType: targetType,
	}
}

func EvalCast(c *CastExpr, batch *operators.RecordBatch) (arrow.Array, error) {
	arr, err := EvalExpression(c.Expr, batch)
	if err != nil {
		return nil, err
	}
	castOpts := compute.SafeCastOptions(c.TargetType)
	out, err := compute.CastArray(context.TODO(), arr, castOpts)
	if err != nil {
		return nil, fmt.Errorf("cast error: cannot cast %s to %s: %w",
			arr.DataType(), c.TargetType, err)
	}
	return out, nil
}

func (c *CastExpr) ExprNode() {}
func (c *CastExpr) String() string {
	return fmt.Sprintf("Cast(%s AS %s)", c.Expr, c.TargetType)
}

func inferBinaryType(left arrow.DataType, op BinaryOperator, right arrow.DataType) (arrow.DataType, error) {
	switch op {
	case Addition, Subtraction, Multiplication, Division:
		if !isNumericType(left) || !isNumericType(right) {
			return nil, operators.Typef("arithmetic %s requires numeric operands, got %s and %s", op, left, right)
		}
		if arrow.TypeEqual(left, right) {
			return left, nil
		}
		return arrow.PrimitiveTypes.Float64, nil

	case Equal, NotEqual:
		if !comparableTypes(left, right) {
			return nil, operators.Typef("cannot compare %s with %s", left, right)
		}
		return arrow.FixedWidthTypes.Boolean, nil

	case LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
		if !comparableTypes(left, right) || left.ID() == arrow.BOOL || right.ID() == arrow.BOOL {
			return nil, operators.Typef("cannot order %s against %s", left, right)
		}
		return arrow.FixedWidthTypes.Boolean, nil

	case And, Or:
		if !boolish(left) || !boolish(right) {
			return nil, operators.Typef("%s requires boolean operands, got %s and %s", op, left, right)
		}
		return arrow.FixedWidthTypes.Boolean, nil

	default:
		return nil, fmt.Errorf("inferBinaryType: unsupported operator %s", op)
	}
}

func comparableTypes(left, right arrow.DataType) bool {
	if left.ID() == arrow.NULL || right.ID() == arrow.NULL {
		// comparison against null is always null, never a type error
		return true
	}
	if isNumericType(left) && isNumericType(right) {
		return true
	}
	return left.ID() == right.ID()
}

func boolish(dt arrow.DataType) bool {
	return dt.ID() == arrow.BOOL || dt.ID() == arrow.NULL
}

func isNumericType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT64, arrow.FLOAT64:
		return true
	default:
		return false
	}
}

func castArrayToFloat64(arr arrow.Array) (arrow.Array, error) {
	out, err := compute.CastArray(context.TODO(), arr, compute.NewCastOptions(&arrow.Float64Type{}, true))
	if err != nil {
		return nil, err
	}
	return out, nil
}
