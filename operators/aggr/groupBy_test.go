package aggr

import (
	"testing"

	"tabql/operators"
	"tabql/operators/project"
)

func salesSource(t *testing.T) *project.TableScan {
	t.Helper()
	src, err := project.NewInMemorySource(
		[]string{"category", "sales"},
		[]any{
			[]string{"Electronics", "Clothing", "Electronics", "Clothing", "Food"},
			[]operators.Value{
				operators.NewInteger(1000),
				operators.NewInteger(900),
				operators.NewInteger(1700),
				operators.NewInteger(850),
				operators.NewInteger(600),
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func columnValues(t *testing.T, batch *operators.RecordBatch, name string) []operators.Value {
	t.Helper()
	arr := batch.ColumnByName(name)
	if arr == nil {
		t.Fatalf("column %q missing from result", name)
	}
	out := make([]operators.Value, int(batch.RowCount))
	for i := range out {
		out[i] = operators.ValueAt(arr, i)
	}
	return out
}

func TestGroupBySum(t *testing.T) {
	g, err := NewGroupByExec(salesSource(t),
		[]string{"category"},
		[]AggSpec{{Fn: Sum, Column: "sales", Output: "sum_sales"}},
	)
	if err != nil {
		t.Fatalf("NewGroupByExec: %v", err)
	}
	result, err := operators.Collect(g, 1024)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	keys := columnValues(t, result, "category")
	sums := columnValues(t, result, "sum_sales")

	// groups come out in first-seen order
	wantKeys := []string{"Electronics", "Clothing", "Food"}
	wantSums := []float64{2700, 1750, 600}
	if int(result.RowCount) != len(wantKeys) {
		t.Fatalf("got %d groups, want %d", result.RowCount, len(wantKeys))
	}
	for i := range wantKeys {
		if keys[i] != operators.NewText(wantKeys[i]) {
			t.Errorf("group %d key = %v, want %q", i, keys[i], wantKeys[i])
		}
		if sums[i] != operators.NewFloat(wantSums[i]) {
			t.Errorf("group %d sum = %v, want %v", i, sums[i], wantSums[i])
		}
	}
}

func TestGroupByMultipleAggregates(t *testing.T) {
	g, err := NewGroupByExec(salesSource(t),
		[]string{"category"},
		[]AggSpec{
			{Fn: Count, Star: true, Output: "count"},
			{Fn: Min, Column: "sales", Output: "min_sales"},
			{Fn: Max, Column: "sales", Output: "max_sales"},
			{Fn: Avg, Column: "sales", Output: "avg_sales"},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	result, err := operators.Collect(g, 1024)
	if err != nil {
		t.Fatal(err)
	}

	counts := columnValues(t, result, "count")
	mins := columnValues(t, result, "min_sales")
	maxs := columnValues(t, result, "max_sales")
	avgs := columnValues(t, result, "avg_sales")

	// Electronics: 1000, 1700
	if counts[0] != operators.NewInteger(2) {
		t.Errorf("count = %v", counts[0])
	}
	if mins[0] != operators.NewFloat(1000) || maxs[0] != operators.NewFloat(1700) {
		t.Errorf("min/max = %v/%v", mins[0], maxs[0])
	}
	if avgs[0] != operators.NewFloat(1350) {
		t.Errorf("avg = %v, want 1350", avgs[0])
	}
}

func TestGlobalAggregateOverEmptyInput(t *testing.T) {
	src, err := project.NewInMemorySource(
		[]string{"sales"},
		[]any{[]int64{}},
	)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGroupByExec(src, nil, []AggSpec{
		{Fn: Count, Star: true, Output: "count"},
		{Fn: Avg, Column: "sales", Output: "avg_sales"},
		{Fn: Sum, Column: "sales", Output: "sum_sales"},
	})
	if err != nil {
		t.Fatal(err)
	}
	result, err := operators.Collect(g, 1024)
	if err != nil {
		t.Fatal(err)
	}

	if result.RowCount != 1 {
		t.Fatalf("empty-input global aggregate must emit one row, got %d", result.RowCount)
	}
	if v := columnValues(t, result, "count")[0]; v != operators.NewInteger(0) {
		t.Errorf("COUNT(*) = %v, want 0", v)
	}
	if v := columnValues(t, result, "avg_sales")[0]; !v.IsNull() {
		t.Errorf("AVG over nothing = %v, want null", v)
	}
	if v := columnValues(t, result, "sum_sales")[0]; !v.IsNull() {
		t.Errorf("SUM over nothing = %v, want null", v)
	}
}

func TestGroupByEmptyInputEmitsNoGroups(t *testing.T) {
	src, err := project.NewInMemorySource(
		[]string{"category", "sales"},
		[]any{[]string{}, []int64{}},
	)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGroupByExec(src, []string{"category"},
		[]AggSpec{{Fn: Sum, Column: "sales", Output: "sum_sales"}})
	if err != nil {
		t.Fatal(err)
	}
	result, err := operators.Collect(g, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if result.RowCount != 0 {
		t.Errorf("grouped aggregate over no rows = %d groups, want 0", result.RowCount)
	}
}

func TestCountColumnSkipsNulls(t *testing.T) {
	src, err := project.NewInMemorySource(
		[]string{"sales"},
		[]any{[]operators.Value{
			operators.NewInteger(10),
			operators.Null(),
			operators.NewInteger(20),
		}},
	)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGroupByExec(src, nil, []AggSpec{
		{Fn: Count, Star: true, Output: "rows"},
		{Fn: Count, Column: "sales", Output: "count_sales"},
		{Fn: Sum, Column: "sales", Output: "sum_sales"},
		{Fn: Avg, Column: "sales", Output: "avg_sales"},
	})
	if err != nil {
		t.Fatal(err)
	}
	result, err := operators.Collect(g, 1024)
	if err != nil {
		t.Fatal(err)
	}

	if v := columnValues(t, result, "rows")[0]; v != operators.NewInteger(3) {
		t.Errorf("COUNT(*) = %v, want 3", v)
	}
	if v := columnValues(t, result, "count_sales")[0]; v != operators.NewInteger(2) {
		t.Errorf("COUNT(sales) = %v, want 2", v)
	}
	if v := columnValues(t, result, "sum_sales")[0]; v != operators.NewFloat(30) {
		t.Errorf("SUM = %v, want 30", v)
	}
	// the null row does not feed the divisor
	if v := columnValues(t, result, "avg_sales")[0]; v != operators.NewFloat(15) {
		t.Errorf("AVG = %v, want 15", v)
	}
}

func TestNullGroupKeyFormsItsOwnGroup(t *testing.T) {
	src, err := project.NewInMemorySource(
		[]string{"category", "sales"},
		[]any{
			[]operators.Value{
				operators.NewText("a"),
				operators.Null(),
				operators.Null(),
			},
			[]int64{1, 2, 3},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGroupByExec(src, []string{"category"},
		[]AggSpec{{Fn: Sum, Column: "sales", Output: "sum_sales"}})
	if err != nil {
		t.Fatal(err)
	}
	result, err := operators.Collect(g, 1024)
	if err != nil {
		t.Fatal(err)
	}

	if result.RowCount != 2 {
		t.Fatalf("got %d groups, want 2 (one real, one null)", result.RowCount)
	}
	keys := columnValues(t, result, "category")
	sums := columnValues(t, result, "sum_sales")
	if !keys[1].IsNull() {
		t.Errorf("second group key = %v, want null", keys[1])
	}
	if sums[1] != operators.NewFloat(5) {
		t.Errorf("null group sum = %v, want 5", sums[1])
	}
}

func TestHashGroupsMergeMatchesSingleState(t *testing.T) {
	specs := []AggSpec{
		{Fn: Sum, Column: "sales", Output: "sum_sales"},
		{Fn: Avg, Column: "sales", Output: "avg_sales"},
		{Fn: Count, Star: true, Output: "count"},
	}
	kinds := []operators.ValueKind{operators.TextKind}

	update := func(h *HashGroups, key string, vals ...operators.Value) {
		g := h.groupFor([]operators.Value{operators.NewText(key)})
		for _, v := range vals {
			for i := range specs {
				if specs[i].Star {
					h.States[g][i].Update(operators.NewInteger(1))
				} else {
					h.States[g][i].Update(v)
				}
			}
		}
	}

	whole := NewHashGroups([]string{"category"}, kinds, specs)
	update(whole, "a", operators.NewInteger(1), operators.NewInteger(2), operators.NewInteger(3))
	update(whole, "b", operators.NewInteger(10))

	left := NewHashGroups([]string{"category"}, kinds, specs)
	update(left, "a", operators.NewInteger(1))
	right := NewHashGroups([]string{"category"}, kinds, specs)
	update(right, "a", operators.NewInteger(2), operators.NewInteger(3))
	update(right, "b", operators.NewInteger(10))

	if err := left.MergeFrom(right); err != nil {
		t.Fatalf("MergeFrom: %v", err)
	}

	wholeBatch, err := whole.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	mergedBatch, err := left.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if !wholeBatch.DeepEqual(mergedBatch) {
		t.Error("merged partial states differ from single-pass aggregation")
	}
}
