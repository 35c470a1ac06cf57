package aggr

import (
	"testing"

	"tabql/operators"
	"tabql/operators/project"
)

func sortSource(t *testing.T) *project.TableScan {
	t.Helper()
	src, err := project.NewInMemorySource(
		[]string{"name", "score"},
		[]any{
			[]string{"carol", "alice", "dave", "bob", "erin"},
			[]operators.Value{
				operators.NewInteger(30),
				operators.NewInteger(10),
				operators.NewInteger(30),
				operators.Null(),
				operators.NewInteger(20),
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return src
}

func names(t *testing.T, batch *operators.RecordBatch) []string {
	t.Helper()
	arr := batch.ColumnByName("name")
	out := make([]string, int(batch.RowCount))
	for i := range out {
		out[i] = operators.ValueAt(arr, i).Text
	}
	return out
}

func TestSortAscendingNullsFirst(t *testing.T) {
	s, err := NewSortExec(sortSource(t), []SortKey{NewSortKey("score", true)})
	if err != nil {
		t.Fatalf("NewSortExec: %v", err)
	}
	result, err := operators.Collect(s, 1024)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := names(t, result)
	// bob has a null score and sorts first; carol/dave tie at 30 and keep
	// their input order
	want := []string{"bob", "alice", "erin", "carol", "dave"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortDescending(t *testing.T) {
	s, err := NewSortExec(sortSource(t), []SortKey{NewSortKey("score", false)})
	if err != nil {
		t.Fatal(err)
	}
	result, err := operators.Collect(s, 1024)
	if err != nil {
		t.Fatal(err)
	}
	got := names(t, result)
	want := []string{"carol", "dave", "erin", "alice", "bob"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortMultipleKeys(t *testing.T) {
	// score descending, then name ascending to break the 30/30 tie
	s, err := NewSortExec(sortSource(t), []SortKey{
		NewSortKey("score", false),
		NewSortKey("name", true),
	})
	if err != nil {
		t.Fatal(err)
	}
	result, err := operators.Collect(s, 1024)
	if err != nil {
		t.Fatal(err)
	}
	got := names(t, result)
	want := []string{"carol", "dave", "erin", "alice", "bob"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortSmallBatchPulls(t *testing.T) {
	s, err := NewSortExec(sortSource(t), []SortKey{NewSortKey("name", true)})
	if err != nil {
		t.Fatal(err)
	}
	// pulling two rows at a time must still walk the sorted order
	result, err := operators.Collect(s, 2)
	if err != nil {
		t.Fatal(err)
	}
	got := names(t, result)
	want := []string{"alice", "bob", "carol", "dave", "erin"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSortEmptyInput(t *testing.T) {
	src, err := project.NewInMemorySource([]string{"score"}, []any{[]int64{}})
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewSortExec(src, []SortKey{NewSortKey("score", true)})
	if err != nil {
		t.Fatal(err)
	}
	result, err := operators.Collect(s, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if result.RowCount != 0 {
		t.Errorf("RowCount = %d, want 0", result.RowCount)
	}
}

func TestSortUnknownColumn(t *testing.T) {
	if _, err := NewSortExec(sortSource(t), []SortKey{NewSortKey("missing", true)}); err == nil {
		t.Fatal("unknown sort column must be rejected")
	}
}
