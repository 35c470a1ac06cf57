package plan

import (
	"errors"
	"testing"

	"tabql/operators"
	"tabql/parser"

	"github.com/apache/arrow/go/v17/arrow"
)

func salesSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "product", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "category", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "sales", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
}

func buildPlan(t *testing.T, sql string) Node {
	t.Helper()
	q, err := parser.Parse(sql)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	node, err := Build(q, salesSchema())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return node
}

func buildErr(t *testing.T, sql string) error {
	t.Helper()
	q, err := parser.Parse(sql)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = Build(q, salesSchema())
	if err == nil {
		t.Fatalf("Build(%q) succeeded, expected an error", sql)
	}
	return err
}

// nodeChain lists the plan's node types root first.
func nodeChain(n Node) []string {
	var out []string
	for ; n != nil; n = n.Input() {
		switch n.(type) {
		case *Scan:
			out = append(out, "scan")
		case *Filter:
			out = append(out, "filter")
		case *Aggregate:
			out = append(out, "aggregate")
		case *Project:
			out = append(out, "project")
		case *Sort:
			out = append(out, "sort")
		case *Limit:
			out = append(out, "limit")
		}
	}
	return out
}

func chainEquals(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuildCanonicalShape(t *testing.T) {
	node := buildPlan(t, "SELECT product FROM sales WHERE sales > 900 ORDER BY product LIMIT 5")
	want := []string{"limit", "sort", "project", "filter", "scan"}
	if got := nodeChain(node); !chainEquals(got, want) {
		t.Errorf("chain = %v, want %v", got, want)
	}
}

func TestBuildAggregateShape(t *testing.T) {
	node := buildPlan(t, "SELECT category, SUM(sales) FROM sales GROUP BY category")
	want := []string{"project", "aggregate", "scan"}
	if got := nodeChain(node); !chainEquals(got, want) {
		t.Errorf("chain = %v, want %v", got, want)
	}

	var agg *Aggregate
	for n := node; n != nil; n = n.Input() {
		if a, ok := n.(*Aggregate); ok {
			agg = a
		}
	}
	if agg == nil || len(agg.Aggs) != 1 || agg.Aggs[0].Output != "sum_sales" {
		t.Fatalf("aggregate = %+v", agg)
	}
	if got := OutputNames(node); !chainEquals(got, []string{"category", "sum_sales"}) {
		t.Errorf("output names = %v", got)
	}
}

func TestBuildAliasNamesOutput(t *testing.T) {
	node := buildPlan(t, "SELECT SUM(sales) AS total FROM sales")
	if got := OutputNames(node); !chainEquals(got, []string{"total"}) {
		t.Errorf("output names = %v, want [total]", got)
	}
}

func TestBuildImplicitGlobalGroup(t *testing.T) {
	node := buildPlan(t, "SELECT COUNT(*) FROM sales")
	found := false
	for n := node; n != nil; n = n.Input() {
		if a, ok := n.(*Aggregate); ok {
			found = true
			if len(a.GroupBy) != 0 {
				t.Errorf("GroupBy = %v, want empty", a.GroupBy)
			}
		}
	}
	if !found {
		t.Fatal("COUNT(*) without GROUP BY must still plan an aggregate")
	}
}

func TestBuildOrderByAggregateNotProjected(t *testing.T) {
	node := buildPlan(t, "SELECT category FROM sales GROUP BY category ORDER BY SUM(sales) DESC")

	// the sort runs below the projection, on the aggregate output
	want := []string{"project", "sort", "aggregate", "scan"}
	if got := nodeChain(node); !chainEquals(got, want) {
		t.Fatalf("chain = %v, want %v", got, want)
	}
	if got := OutputNames(node); !chainEquals(got, []string{"category"}) {
		t.Errorf("output names = %v, want [category]", got)
	}
}

func TestBuildSchemaErrors(t *testing.T) {
	cases := map[string]string{
		"unknown select column":  "SELECT nope FROM sales",
		"unknown where column":   "SELECT product FROM sales WHERE nope = 1",
		"unknown group column":   "SELECT product FROM sales GROUP BY nope",
		"unknown agg column":     "SELECT SUM(nope) FROM sales",
		"bare column not in group": "SELECT product, SUM(sales) FROM sales GROUP BY category",
		"order by unprojected":   "SELECT product FROM sales ORDER BY sales",
	}
	for name, sql := range cases {
		t.Run(name, func(t *testing.T) {
			err := buildErr(t, sql)
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Errorf("got %T (%v), want *SchemaError", err, err)
			}
		})
	}
}

func TestBuildTypeErrors(t *testing.T) {
	cases := map[string]string{
		"sum of text":          "SELECT SUM(product) FROM sales",
		"avg of text":          "SELECT AVG(category) FROM sales GROUP BY category",
		"non-boolean where":    "SELECT product FROM sales WHERE sales",
		"text ordered vs int":  "SELECT product FROM sales WHERE product > 3",
	}
	for name, sql := range cases {
		t.Run(name, func(t *testing.T) {
			err := buildErr(t, sql)
			var te *operators.TypeError
			if !errors.As(err, &te) {
				t.Errorf("got %T (%v), want *operators.TypeError", err, err)
			}
		})
	}
}

func TestBuildCountOfTextIsAllowed(t *testing.T) {
	buildPlan(t, "SELECT COUNT(product) FROM sales")
}

func TestBuildStarExpansion(t *testing.T) {
	node := buildPlan(t, "SELECT * FROM sales")
	if got := OutputNames(node); !chainEquals(got, []string{"product", "category", "sales"}) {
		t.Errorf("output names = %v", got)
	}
}
