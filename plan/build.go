package plan

import (
	"fmt"
	"strings"

	"tabql/Expr"
	"tabql/operators"
	"tabql/operators/aggr"
	"tabql/parser"

	"github.com/apache/arrow/go/v17/arrow"
)

// Build turns a parsed query into the canonical plan tree for the given
// table schema. Column references are resolved here; unknown columns
// surface as *SchemaError and operand type mismatches as
// *operators.TypeError.
func Build(q *parser.Query, schema *arrow.Schema) (Node, error) {
	tableCols := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		tableCols[i] = f.Name
	}

	var root Node = &Scan{Table: q.From, TableColumns: tableCols}

	if q.Where != nil {
		pred, err := convertExpr(q.Where, schema)
		if err != nil {
			return nil, err
		}
		dt, err := Expr.ExprDataType(pred, schema)
		if err != nil {
			return nil, err
		}
		if dt.ID() != arrow.BOOL && dt.ID() != arrow.NULL {
			return nil, operators.Typef("WHERE predicate must be boolean, got %s", dt)
		}
		root = &Filter{Child: root, Predicate: pred}
	}

	items, err := expandStar(q, schema)
	if err != nil {
		return nil, err
	}

	grouped := len(q.GroupBy) > 0
	hasAgg := grouped
	for _, item := range items {
		if item.Agg != nil {
			hasAgg = true
		}
	}

	if hasAgg {
		return buildAggregate(q, items, schema, root)
	}
	return buildSimple(q, items, schema, root)
}

// expandStar rewrites SELECT * into one item per table column.
func expandStar(q *parser.Query, schema *arrow.Schema) ([]parser.SelectItem, error) {
	var items []parser.SelectItem
	for _, item := range q.Select {
		if !item.Star {
			items = append(items, item)
			continue
		}
		for _, f := range schema.Fields() {
			items = append(items, parser.SelectItem{Column: f.Name})
		}
	}
	return items, nil
}

func buildSimple(q *parser.Query, items []parser.SelectItem, schema *arrow.Schema, input Node) (Node, error) {
	exprs := make([]Expr.Expression, len(items))
	names := make([]string, len(items))
	for i, item := range items {
		if item.Agg != nil {
			// unreachable, buildAggregate handles these
			return nil, fmt.Errorf("aggregate %s outside aggregation", item.Agg.Fn)
		}
		if err := requireColumn(schema, item.Column); err != nil {
			return nil, err
		}
		exprs[i] = Expr.NewColumnResolve(item.Column)
		names[i] = item.Column
		if item.Alias != "" {
			names[i] = item.Alias
		}
	}
	var root Node = &Project{Child: input, Exprs: exprs, Names: names}

	root, err := attachOrderBy(q, root)
	if err != nil {
		return nil, err
	}
	return attachLimit(q, root), nil
}

func buildAggregate(q *parser.Query, items []parser.SelectItem, schema *arrow.Schema, input Node) (Node, error) {
	for _, col := range q.GroupBy {
		if err := requireColumn(schema, col); err != nil {
			return nil, err
		}
	}
	groupSet := make(map[string]struct{}, len(q.GroupBy))
	for _, col := range q.GroupBy {
		groupSet[col] = struct{}{}
	}

	var specs []aggr.AggSpec
	exprs := make([]Expr.Expression, len(items))
	names := make([]string, len(items))

	for i, item := range items {
		switch {
		case item.Agg != nil:
			spec, err := makeAggSpec(item.Agg, item.Alias, schema)
			if err != nil {
				return nil, err
			}
			var out string
			specs, out = appendSpec(specs, spec)
			exprs[i] = Expr.NewColumnResolve(out)
			names[i] = out

		default:
			// a bare column is only meaningful when it is a group key
			if _, ok := groupSet[item.Column]; !ok {
				if err := requireColumn(schema, item.Column); err != nil {
					return nil, err
				}
				return nil, &SchemaError{Column: item.Column,
					Message: "selected without aggregation and not in GROUP BY"}
			}
			exprs[i] = Expr.NewColumnResolve(item.Column)
			names[i] = item.Column
		}
		if item.Alias != "" {
			names[i] = item.Alias
		}
	}

	// ORDER BY may repeat an aggregate that is not in the select list;
	// it still has to be computed.
	var sortKeys []aggr.SortKey
	for _, key := range q.OrderBy {
		if key.Agg != nil {
			spec, err := makeAggSpec(key.Agg, "", schema)
			if err != nil {
				return nil, err
			}
			var out string
			specs, out = appendSpec(specs, spec)
			sortKeys = append(sortKeys, aggr.SortKey{Column: projectedName(out, exprs, names), Ascending: !key.Desc})
			continue
		}
		name, err := resolveSortColumn(key.Column, names, groupSet)
		if err != nil {
			return nil, err
		}
		sortKeys = append(sortKeys, aggr.SortKey{Column: name, Ascending: !key.Desc})
	}

	var root Node = &Aggregate{Child: input, GroupBy: q.GroupBy, Aggs: specs}
	root = &Project{Child: root, Exprs: exprs, Names: names}

	if len(sortKeys) > 0 {
		// sorting on an aggregate not in the select list needs the plain
		// aggregate output, so the sort sits between aggregation and the
		// final projection when any key is missing from the projection
		if keysCovered(sortKeys, names) {
			root = &Sort{Child: root, Keys: sortKeys}
		} else {
			proj := root.(*Project)
			sorted := &Sort{Child: proj.Child, Keys: rewriteToAggNames(sortKeys, exprs, names)}
			root = &Project{Child: sorted, Exprs: proj.Exprs, Names: proj.Names}
		}
	}
	return attachLimit(q, root), nil
}

// keysCovered reports whether every sort key names an output column.
func keysCovered(keys []aggr.SortKey, names []string) bool {
	for _, k := range keys {
		found := false
		for _, n := range names {
			if n == k.Column {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// rewriteToAggNames maps projected output names back to the aggregate's
// own column names so a pre-projection sort can resolve them.
func rewriteToAggNames(keys []aggr.SortKey, exprs []Expr.Expression, names []string) []aggr.SortKey {
	out := make([]aggr.SortKey, len(keys))
	for i, k := range keys {
		out[i] = k
		for j, n := range names {
			if n != k.Column {
				continue
			}
			if col, ok := exprs[j].(*Expr.ColumnResolve); ok {
				out[i].Column = col.Name
			}
			break
		}
	}
	return out
}

// projectedName maps an aggregate output column to the name it carries
// after the final projection, when it is projected at all.
func projectedName(aggOut string, exprs []Expr.Expression, names []string) string {
	for i, e := range exprs {
		col, ok := e.(*Expr.ColumnResolve)
		if ok && col.Name == aggOut {
			return names[i]
		}
	}
	return aggOut
}

func resolveSortColumn(name string, outputNames []string, groupSet map[string]struct{}) (string, error) {
	for _, n := range outputNames {
		if n == name {
			return name, nil
		}
	}
	if _, ok := groupSet[name]; ok {
		return name, nil
	}
	return "", &SchemaError{Column: name, Message: "ORDER BY target is not an output column"}
}

func attachOrderBy(q *parser.Query, root Node) (Node, error) {
	if len(q.OrderBy) == 0 {
		return root, nil
	}
	outNames := OutputNames(root)
	keys := make([]aggr.SortKey, len(q.OrderBy))
	for i, key := range q.OrderBy {
		if key.Agg != nil {
			return nil, operators.Typef("ORDER BY %s(...) requires aggregation", key.Agg.Fn)
		}
		found := false
		for _, n := range outNames {
			if n == key.Column {
				found = true
				break
			}
		}
		if !found {
			return nil, &SchemaError{Column: key.Column, Message: "ORDER BY target is not an output column"}
		}
		keys[i] = aggr.SortKey{Column: key.Column, Ascending: !key.Desc}
	}
	return &Sort{Child: root, Keys: keys}, nil
}

func attachLimit(q *parser.Query, root Node) Node {
	if q.Limit == nil {
		return root
	}
	return &Limit{Child: root, N: *q.Limit}
}

// makeAggSpec validates one aggregate call against the schema. Aggregates
// other than COUNT require a numeric argument.
func makeAggSpec(call *parser.AggCall, alias string, schema *arrow.Schema) (aggr.AggSpec, error) {
	spec := aggr.AggSpec{Column: call.Column, Star: call.Star}
	switch call.Fn {
	case "COUNT":
		spec.Fn = aggr.Count
	case "SUM":
		spec.Fn = aggr.Sum
	case "AVG":
		spec.Fn = aggr.Avg
	case "MIN":
		spec.Fn = aggr.Min
	case "MAX":
		spec.Fn = aggr.Max
	default:
		return spec, fmt.Errorf("unknown aggregate %q", call.Fn)
	}

	if !call.Star {
		if err := requireColumn(schema, call.Column); err != nil {
			return spec, err
		}
		if spec.Fn != aggr.Count {
			idx := schema.FieldIndices(call.Column)
			dt := schema.Field(idx[0]).Type
			if dt.ID() != arrow.INT64 && dt.ID() != arrow.FLOAT64 {
				return spec, operators.Typef("%s requires a numeric column, %q is %s",
					call.Fn, call.Column, dt)
			}
		}
	}

	spec.Output = alias
	if spec.Output == "" {
		spec.Output = defaultAggName(spec)
	}
	return spec, nil
}

func defaultAggName(spec aggr.AggSpec) string {
	if spec.Star {
		return "count"
	}
	return strings.ToLower(spec.Fn.String()) + "_" + spec.Column
}

// appendSpec deduplicates identical aggregate computations. The second
// return value is the output column the computation lives under, which
// is the first occurrence's name when the spec is a duplicate.
func appendSpec(specs []aggr.AggSpec, spec aggr.AggSpec) ([]aggr.AggSpec, string) {
	for _, s := range specs {
		if s.Fn == spec.Fn && s.Column == spec.Column && s.Star == spec.Star {
			return specs, s.Output
		}
	}
	return append(specs, spec), spec.Output
}

func requireColumn(schema *arrow.Schema, name string) error {
	if len(schema.FieldIndices(name)) == 0 {
		return &SchemaError{Column: name}
	}
	return nil
}

// convertExpr lowers a parsed predicate into an evaluable expression,
// resolving columns against the schema as it goes.
func convertExpr(e parser.Expr, schema *arrow.Schema) (Expr.Expression, error) {
	switch ex := e.(type) {
	case *parser.ColumnRef:
		if err := requireColumn(schema, ex.Name); err != nil {
			return nil, err
		}
		return Expr.NewColumnResolve(ex.Name), nil

	case *parser.Literal:
		switch v := ex.Val.(type) {
		case int64:
			return Expr.NewLiteralResolve(arrow.PrimitiveTypes.Int64, v), nil
		case float64:
			return Expr.NewLiteralResolve(arrow.PrimitiveTypes.Float64, v), nil
		case string:
			return Expr.NewLiteralResolve(arrow.BinaryTypes.String, v), nil
		case bool:
			return Expr.NewBoolLiteral(v), nil
		case nil:
			return Expr.NewLiteralResolve(arrow.Null, nil), nil
		default:
			return nil, fmt.Errorf("unsupported literal %v", ex.Val)
		}

	case *parser.Unary:
		inner, err := convertExpr(ex.Expr, schema)
		if err != nil {
			return nil, err
		}
		return Expr.NewNotExpr(inner), nil

	case *parser.Binary:
		left, err := convertExpr(ex.Left, schema)
		if err != nil {
			return nil, err
		}
		right, err := convertExpr(ex.Right, schema)
		if err != nil {
			return nil, err
		}
		op, err := binaryOp(ex.Op)
		if err != nil {
			return nil, err
		}
		return Expr.NewBinaryExpr(left, op, right), nil
	}
	return nil, fmt.Errorf("unsupported predicate node %T", e)
}

func binaryOp(op string) (Expr.BinaryOperator, error) {
	switch op {
	case "=":
		return Expr.Equal, nil
	case "!=":
		return Expr.NotEqual, nil
	case "<":
		return Expr.LessThan, nil
	case "<=":
		return Expr.LessThanOrEqual, nil
	case ">":
		return Expr.GreaterThan, nil
	case ">=":
		return Expr.GreaterThanOrEqual, nil
	case "AND":
		return Expr.And, nil
	case "OR":
		return Expr.Or, nil
	}
	return 0, fmt.Errorf("unsupported operator %q", op)
}
