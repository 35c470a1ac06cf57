package Expr

import (
	"testing"

	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

func testBatch(t *testing.T) *operators.RecordBatch {
	t.Helper()
	rbb := operators.NewRecordBatchBuilder()
	schema := rbb.SchemaBuilder.
		WithField("product", arrow.BinaryTypes.String, true).
		WithField("sales", arrow.PrimitiveTypes.Int64, true).
		WithField("ratio", arrow.PrimitiveTypes.Float64, true).
		WithField("active", arrow.FixedWidthTypes.Boolean, true).
		Build()

	sales, err := rbb.GenValueArray(arrow.PrimitiveTypes.Int64,
		operators.NewInteger(1000), operators.NewInteger(900), operators.Null())
	if err != nil {
		t.Fatal(err)
	}
	batch, err := rbb.NewRecordBatch(schema, []arrow.Array{
		rbb.GenStringArray("tv", "shirt", "apples"),
		sales,
		rbb.GenFloatArray(0.5, 1.25, 2.0),
		rbb.GenBoolArray(true, false, true),
	})
	if err != nil {
		t.Fatal(err)
	}
	return batch
}

func boolValues(t *testing.T, arr arrow.Array) []operators.Value {
	t.Helper()
	out := make([]operators.Value, arr.Len())
	for i := range out {
		out[i] = operators.ValueAt(arr, i)
	}
	return out
}

func TestEvalColumnAndLiteral(t *testing.T) {
	batch := testBatch(t)

	col, err := EvalExpression(NewColumnResolve("sales"), batch)
	if err != nil {
		t.Fatalf("eval column: %v", err)
	}
	if col.Len() != 3 || operators.ValueAt(col, 0) != operators.NewInteger(1000) {
		t.Errorf("column eval wrong: %v", col)
	}

	lit, err := EvalExpression(NewLiteralResolve(arrow.PrimitiveTypes.Int64, 7), batch)
	if err != nil {
		t.Fatalf("eval literal: %v", err)
	}
	if lit.Len() != 3 || operators.ValueAt(lit, 2) != operators.NewInteger(7) {
		t.Errorf("literal eval wrong: %v", lit)
	}
}

func TestNumericComparisonWithNulls(t *testing.T) {
	batch := testBatch(t)

	// sales > 900: true, false, null
	expr := NewBinaryExpr(NewColumnResolve("sales"), GreaterThan,
		NewLiteralResolve(arrow.PrimitiveTypes.Int64, 900))
	arr, err := EvalExpression(expr, batch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	got := boolValues(t, arr)
	want := []operators.Value{operators.NewBoolean(true), operators.NewBoolean(false), operators.Null()}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMixedNumericPromotion(t *testing.T) {
	batch := testBatch(t)

	// integer column against float literal runs through float64
	expr := NewBinaryExpr(NewColumnResolve("sales"), GreaterThanOrEqual,
		NewLiteralResolve(arrow.PrimitiveTypes.Float64, 999.5))
	arr, err := EvalExpression(expr, batch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if v := operators.ValueAt(arr, 0); v != operators.NewBoolean(true) {
		t.Errorf("1000 >= 999.5 = %v", v)
	}
	if v := operators.ValueAt(arr, 1); v != operators.NewBoolean(false) {
		t.Errorf("900 >= 999.5 = %v", v)
	}
}

func TestTextComparison(t *testing.T) {
	batch := testBatch(t)

	expr := NewBinaryExpr(NewColumnResolve("product"), LessThan,
		NewLiteralResolve(arrow.BinaryTypes.String, "shirt"))
	arr, err := EvalExpression(expr, batch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	got := boolValues(t, arr)
	// "tv" < "shirt" false, "shirt" < "shirt" false, "apples" < "shirt" true
	want := []bool{false, false, true}
	for i := range want {
		if got[i] != operators.NewBoolean(want[i]) {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBooleanComparisonRestrictions(t *testing.T) {
	batch := testBatch(t)

	eq := NewBinaryExpr(NewColumnResolve("active"), Equal, NewBoolLiteral(true))
	arr, err := EvalExpression(eq, batch)
	if err != nil {
		t.Fatalf("bool equality should work: %v", err)
	}
	if v := operators.ValueAt(arr, 1); v != operators.NewBoolean(false) {
		t.Errorf("row 1 = %v", v)
	}

	lt := NewBinaryExpr(NewColumnResolve("active"), LessThan, NewBoolLiteral(true))
	if _, err := EvalExpression(lt, batch); err == nil {
		t.Fatal("ordered boolean comparison must fail")
	}
}

func TestCrossTypeComparisonIsTypeError(t *testing.T) {
	batch := testBatch(t)

	expr := NewBinaryExpr(NewColumnResolve("product"), Equal,
		NewLiteralResolve(arrow.PrimitiveTypes.Int64, 1))
	_, err := EvalExpression(expr, batch)
	if err == nil {
		t.Fatal("comparing text with integer must fail")
	}
	if _, ok := err.(*operators.TypeError); !ok {
		t.Errorf("got %T, want *operators.TypeError", err)
	}
}

func TestNullLiteralComparison(t *testing.T) {
	batch := testBatch(t)

	expr := NewBinaryExpr(NewColumnResolve("sales"), Equal,
		NewLiteralResolve(arrow.Null, nil))
	arr, err := EvalExpression(expr, batch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	for i := 0; i < arr.Len(); i++ {
		if !arr.IsNull(i) {
			t.Errorf("row %d is not null", i)
		}
	}
}

func TestLogicalOperators(t *testing.T) {
	batch := testBatch(t)

	// active AND sales > 900: true&&true, false&&false, true&&null
	expr := NewBinaryExpr(
		NewColumnResolve("active"),
		And,
		NewBinaryExpr(NewColumnResolve("sales"), GreaterThan,
			NewLiteralResolve(arrow.PrimitiveTypes.Int64, 900)),
	)
	arr, err := EvalExpression(expr, batch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	got := boolValues(t, arr)
	if got[0] != operators.NewBoolean(true) || got[1] != operators.NewBoolean(false) {
		t.Errorf("AND rows 0,1 = %v, %v", got[0], got[1])
	}
	if got[2] != operators.Null() {
		t.Errorf("true AND null = %v, want null", got[2])
	}
}

func TestNotKeepsNulls(t *testing.T) {
	batch := testBatch(t)

	inner := NewBinaryExpr(NewColumnResolve("sales"), GreaterThan,
		NewLiteralResolve(arrow.PrimitiveTypes.Int64, 900))
	arr, err := EvalExpression(NewNotExpr(inner), batch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	got := boolValues(t, arr)
	want := []operators.Value{operators.NewBoolean(false), operators.NewBoolean(true), operators.Null()}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestArithmeticPromotion(t *testing.T) {
	batch := testBatch(t)

	expr := NewBinaryExpr(NewColumnResolve("sales"), Multiplication, NewColumnResolve("ratio"))
	arr, err := EvalExpression(expr, batch)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if arr.DataType().ID() != arrow.FLOAT64 {
		t.Fatalf("mixed arithmetic type = %s, want float64", arr.DataType())
	}
	if v := arr.(*array.Float64).Value(0); v != 500 {
		t.Errorf("1000 * 0.5 = %v", v)
	}
	if !arr.IsNull(2) {
		t.Error("null * anything must stay null")
	}
}

func TestExprDataType(t *testing.T) {
	batch := testBatch(t)

	cases := []struct {
		name string
		expr Expression
		want arrow.Type
	}{
		{"column", NewColumnResolve("ratio"), arrow.FLOAT64},
		{"mixed arithmetic", NewBinaryExpr(NewColumnResolve("sales"), Addition, NewColumnResolve("ratio")), arrow.FLOAT64},
		{"comparison", NewBinaryExpr(NewColumnResolve("sales"), LessThan, NewLiteralResolve(arrow.PrimitiveTypes.Int64, 1)), arrow.BOOL},
		{"alias passthrough", NewAlias(NewColumnResolve("sales"), "x"), arrow.INT64},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dt, err := ExprDataType(tc.expr, batch.Schema)
			if err != nil {
				t.Fatalf("ExprDataType: %v", err)
			}
			if dt.ID() != tc.want {
				t.Errorf("type = %s, want %s", dt, tc.want)
			}
		})
	}

	bad := NewBinaryExpr(NewColumnResolve("active"), GreaterThan, NewBoolLiteral(false))
	if _, err := ExprDataType(bad, batch.Schema); err == nil {
		t.Error("ordering booleans must be a type error")
	}
}

func TestCastIntToFloat(t *testing.T) {
	batch := testBatch(t)
	exprs := NewExpressions(NewCastExpr(NewColumnResolve("sales"), arrow.PrimitiveTypes.Float64))

	dt, err := ExprDataType(exprs[0], batch.Schema)
	if err != nil {
		t.Fatalf("ExprDataType: %v", err)
	}
	if dt.ID() != arrow.FLOAT64 {
		t.Fatalf("cast type = %s, want float64", dt)
	}

	arr, err := EvalExpression(exprs[0], batch)
	if err != nil {
		t.Fatalf("EvalExpression: %v", err)
	}
	defer arr.Release()
	if got := operators.ValueAt(arr, 0); got != operators.NewFloat(1000) {
		t.Errorf("cast cell = %v, want 1000 as float", got)
	}
	// the null cell survives the cast
	if !arr.IsNull(2) {
		t.Error("null input cell must stay null after cast")
	}
}
