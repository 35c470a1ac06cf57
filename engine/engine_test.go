package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/go-kit/log"

	"tabql/config"
	"tabql/operators"
	"tabql/parser"
	"tabql/plan"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	table, cellErrs, err := operators.TableFromRecords(
		[]string{"category", "sales", "region"},
		[]map[string]any{
			{"category": "Electronics", "sales": 1200, "region": "North"},
			{"category": "Clothing", "sales": 800, "region": "South"},
			{"category": "Electronics", "sales": 1500, "region": "East"},
			{"category": "Food", "sales": 600, "region": "West"},
			{"category": "Clothing", "sales": 950, "region": "North"},
		},
	)
	if err != nil || len(cellErrs) != 0 {
		t.Fatalf("table: err=%v cellErrs=%v", err, cellErrs)
	}
	return NewWithLogger(table, config.GetConfig(), log.NewNopLogger())
}

func column(t *testing.T, batch *operators.RecordBatch, name string) []operators.Value {
	t.Helper()
	arr := batch.ColumnByName(name)
	if arr == nil {
		t.Fatalf("column %q missing", name)
	}
	out := make([]operators.Value, int(batch.RowCount))
	for i := range out {
		out[i] = operators.ValueAt(arr, i)
	}
	return out
}

func TestQueryGroupedSums(t *testing.T) {
	e := testEngine(t)
	result, err := e.Query("SELECT category, SUM(sales) AS total FROM sales GROUP BY category ORDER BY category")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	cats := column(t, result, "category")
	totals := column(t, result, "total")
	want := map[string]float64{"Clothing": 1750, "Electronics": 2700, "Food": 600}
	if int(result.RowCount) != len(want) {
		t.Fatalf("got %d groups, want %d", result.RowCount, len(want))
	}
	for i, c := range cats {
		w, ok := want[c.Text]
		if !ok {
			t.Fatalf("unexpected group %v", c)
		}
		if totals[i] != operators.NewFloat(w) {
			t.Errorf("%s total = %v, want %v", c.Text, totals[i], w)
		}
	}
}

func TestQueryFilterPreservesRowOrder(t *testing.T) {
	e := testEngine(t)
	result, err := e.Query("SELECT * FROM sales WHERE sales > 900")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	cats := column(t, result, "category")
	amounts := column(t, result, "sales")
	wantCats := []string{"Electronics", "Electronics", "Clothing"}
	wantSales := []int64{1200, 1500, 950}
	if int(result.RowCount) != len(wantCats) {
		t.Fatalf("got %d rows, want %d", result.RowCount, len(wantCats))
	}
	for i := range wantCats {
		if cats[i] != operators.NewText(wantCats[i]) || amounts[i] != operators.NewInteger(wantSales[i]) {
			t.Errorf("row %d = %v/%v, want %q/%d", i, cats[i], amounts[i], wantCats[i], wantSales[i])
		}
	}
}

func TestQuerySortAndLimit(t *testing.T) {
	e := testEngine(t)
	result, err := e.Query("SELECT region FROM sales ORDER BY region DESC LIMIT 2")
	if err != nil {
		t.Fatal(err)
	}
	got := column(t, result, "region")
	want := []string{"West", "South"}
	for i, w := range want {
		if got[i] != operators.NewText(w) {
			t.Errorf("row %d = %v, want %q", i, got[i], w)
		}
	}
}

func TestQueryGroupedLimitTruncates(t *testing.T) {
	e := testEngine(t)
	result, err := e.Query("SELECT category, SUM(sales) FROM sales GROUP BY category LIMIT 2")
	if err != nil {
		t.Fatal(err)
	}
	// groups come out in first-seen order, the limit cuts the single
	// batch the aggregate emits
	if result.RowCount != 2 {
		t.Fatalf("got %d rows, want 2", result.RowCount)
	}
	got := column(t, result, "category")
	for i, want := range []string{"Electronics", "Clothing"} {
		if got[i] != operators.NewText(want) {
			t.Errorf("row %d = %v, want %q", i, got[i], want)
		}
	}
}

func TestQueryParseErrorNeverExecutes(t *testing.T) {
	e := testEngine(t)
	_, err := e.Query("SELECT FROM sales")
	if err == nil {
		t.Fatal("expected a parse error")
	}
	var pe *parser.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("got %T, want *parser.ParseError", err)
	}
}

func TestQuerySchemaError(t *testing.T) {
	e := testEngine(t)
	_, err := e.Query("SELECT nonexistent FROM sales")
	var se *plan.SchemaError
	if !errors.As(err, &se) {
		t.Errorf("got %T (%v), want *plan.SchemaError", err, err)
	}
	if se != nil && se.Column != "nonexistent" {
		t.Errorf("SchemaError.Column = %q", se.Column)
	}
}

func TestQueryTypeError(t *testing.T) {
	e := testEngine(t)
	_, err := e.Query("SELECT SUM(category) FROM sales")
	var te *operators.TypeError
	if !errors.As(err, &te) {
		t.Errorf("got %T (%v), want *operators.TypeError", err, err)
	}
}

func TestQueryParallelMatchesSequential(t *testing.T) {
	e := testEngine(t)
	sql := "SELECT category, COUNT(*), AVG(sales) FROM sales GROUP BY category ORDER BY category"

	seq, err := e.Query(sql)
	if err != nil {
		t.Fatal(err)
	}
	par, err := e.QueryParallel(context.Background(), sql)
	if err != nil {
		t.Fatal(err)
	}
	if !seq.DeepEqual(par) {
		t.Error("parallel result differs from sequential")
	}
}

func TestExplainQuery(t *testing.T) {
	e := testEngine(t)
	ex, err := e.ExplainQuery("SELECT category FROM sales WHERE sales > 900")
	if err != nil {
		t.Fatalf("ExplainQuery: %v", err)
	}
	if ex.Plan == "" {
		t.Error("plan text is empty")
	}
	if ex.Result.RowCount != 3 {
		t.Errorf("result rows = %d, want 3", ex.Result.RowCount)
	}
	if len(ex.Trace) < 2 {
		t.Fatalf("trace has %d steps, want at least scan and filter", len(ex.Trace))
	}

	// leaf first: the scan sees all five rows, the root emits three
	first := ex.Trace[0]
	if first.RowsIn != 5 || first.RowsOut != 5 {
		t.Errorf("scan step = %+v, want 5 in / 5 out", first)
	}
	last := ex.Trace[len(ex.Trace)-1]
	if last.RowsOut != 3 {
		t.Errorf("root step = %+v, want 3 rows out", last)
	}
}

func TestEngineIsReusable(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 3; i++ {
		result, err := e.Query("SELECT COUNT(*) FROM sales")
		if err != nil {
			t.Fatal(err)
		}
		if v := column(t, result, "count")[0]; v != operators.NewInteger(5) {
			t.Errorf("run %d: COUNT(*) = %v, want 5", i, v)
		}
	}
}
