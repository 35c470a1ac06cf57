package plan

import (
	"tabql/Expr"
	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
)

// Optimize rewrites a plan tree without changing its results: predicate
// constant folding, removal of always-true filters, column pruning into
// the scan, and elimination of projections and sorts that do nothing.
// Running it on an already optimized tree is a no-op.
func Optimize(root Node) Node {
	root = foldFilters(root)
	prune(root, nil)
	return dropNoOps(root)
}

func foldFilters(n Node) Node {
	switch node := n.(type) {
	case *Scan:
		return node
	case *Filter:
		node.Child = foldFilters(node.Child)
		node.Predicate = foldExpr(node.Predicate)
		if lit, ok := node.Predicate.(*Expr.LiteralResolve); ok {
			if lit.Type.ID() == arrow.BOOL && lit.Value.(bool) {
				return node.Child
			}
		}
		return node
	case *Aggregate:
		node.Child = foldFilters(node.Child)
		return node
	case *Project:
		node.Child = foldFilters(node.Child)
		return node
	case *Sort:
		node.Child = foldFilters(node.Child)
		return node
	case *Limit:
		node.Child = foldFilters(node.Child)
		return node
	}
	return n
}

// foldExpr evaluates the literal-only parts of a predicate ahead of
// execution, including boolean short circuits over one literal side.
func foldExpr(e Expr.Expression) Expr.Expression {
	switch ex := e.(type) {
	case *Expr.NotExpr:
		inner := foldExpr(ex.Expr)
		if lit, ok := inner.(*Expr.LiteralResolve); ok {
			switch lit.Type.ID() {
			case arrow.BOOL:
				return Expr.NewBoolLiteral(!lit.Value.(bool))
			case arrow.NULL:
				return lit
			}
		}
		return Expr.NewNotExpr(inner)

	case *Expr.BinaryExpr:
		left := foldExpr(ex.Left)
		right := foldExpr(ex.Right)

		ll, lok := left.(*Expr.LiteralResolve)
		rl, rok := right.(*Expr.LiteralResolve)
		if lok && rok {
			if folded, ok := foldLiteralPair(ll, ex.Op, rl); ok {
				return folded
			}
		}
		if ex.Op == Expr.And || ex.Op == Expr.Or {
			if lok {
				if folded, ok := shortCircuit(ex.Op, ll, right); ok {
					return folded
				}
			}
			if rok {
				if folded, ok := shortCircuit(ex.Op, rl, left); ok {
					return folded
				}
			}
		}
		return Expr.NewBinaryExpr(left, ex.Op, right)

	default:
		return e
	}
}

// shortCircuit folds AND/OR where one side is a known boolean. A null
// side never short-circuits, its result depends on the other operand.
func shortCircuit(op Expr.BinaryOperator, lit *Expr.LiteralResolve, other Expr.Expression) (Expr.Expression, bool) {
	if lit.Type.ID() != arrow.BOOL {
		return nil, false
	}
	v := lit.Value.(bool)
	if op == Expr.And {
		if !v {
			return Expr.NewBoolLiteral(false), true
		}
		return other, true
	}
	if v {
		return Expr.NewBoolLiteral(true), true
	}
	return other, true
}

func foldLiteralPair(l *Expr.LiteralResolve, op Expr.BinaryOperator, r *Expr.LiteralResolve) (Expr.Expression, bool) {
	lv := literalValue(l)
	rv := literalValue(r)

	switch op {
	case Expr.Equal, Expr.NotEqual, Expr.LessThan, Expr.LessThanOrEqual,
		Expr.GreaterThan, Expr.GreaterThanOrEqual:
		if lv.IsNull() || rv.IsNull() {
			return Expr.NewLiteralResolve(arrow.Null, nil), true
		}
		cmp, err := lv.Compare(rv)
		if err != nil {
			// incompatible literal types fail at eval, not at fold
			return nil, false
		}
		var out bool
		switch op {
		case Expr.Equal:
			out = cmp == 0
		case Expr.NotEqual:
			out = cmp != 0
		case Expr.LessThan:
			out = cmp < 0
		case Expr.LessThanOrEqual:
			out = cmp <= 0
		case Expr.GreaterThan:
			out = cmp > 0
		case Expr.GreaterThanOrEqual:
			out = cmp >= 0
		}
		return Expr.NewBoolLiteral(out), true

	case Expr.And, Expr.Or:
		return foldLogicalPair(op, lv, rv)

	default:
		return nil, false
	}
}

// foldLogicalPair applies three-valued AND/OR over boolean or null
// literals.
func foldLogicalPair(op Expr.BinaryOperator, lv, rv operators.Value) (Expr.Expression, bool) {
	known := func(v operators.Value) (bool, bool) {
		return v.Bool, v.Kind == operators.BooleanKind
	}
	lb, lok := known(lv)
	rb, rok := known(rv)
	if (!lok && !lv.IsNull()) || (!rok && !rv.IsNull()) {
		return nil, false
	}

	if op == Expr.And {
		if (lok && !lb) || (rok && !rb) {
			return Expr.NewBoolLiteral(false), true
		}
		if lok && rok {
			return Expr.NewBoolLiteral(true), true
		}
		return Expr.NewLiteralResolve(arrow.Null, nil), true
	}
	if (lok && lb) || (rok && rb) {
		return Expr.NewBoolLiteral(true), true
	}
	if lok && rok {
		return Expr.NewBoolLiteral(false), true
	}
	return Expr.NewLiteralResolve(arrow.Null, nil), true
}

func literalValue(l *Expr.LiteralResolve) operators.Value {
	switch l.Type.ID() {
	case arrow.INT64:
		return operators.NewInteger(l.Value.(int64))
	case arrow.FLOAT64:
		return operators.NewFloat(l.Value.(float64))
	case arrow.STRING:
		return operators.NewText(l.Value.(string))
	case arrow.BOOL:
		return operators.NewBoolean(l.Value.(bool))
	default:
		return operators.Null()
	}
}

// prune pushes the set of referenced columns down into the scan.
// required is the columns the parent still needs; nil means all of them.
func prune(n Node, required []string) {
	switch node := n.(type) {
	case *Scan:
		if required == nil {
			node.Columns = nil
			return
		}
		cols := intersectOrdered(node.TableColumns, required)
		if len(cols) == len(node.TableColumns) {
			node.Columns = nil
			return
		}
		if len(cols) == 0 && len(node.TableColumns) > 0 {
			// a scan with no columns loses its row count, keep one
			cols = node.TableColumns[:1]
		}
		node.Columns = cols

	case *Filter:
		if required != nil {
			required = unionColumns(required, exprColumns(node.Predicate))
		}
		prune(node.Child, required)

	case *Aggregate:
		need := append([]string{}, node.GroupBy...)
		for _, spec := range node.Aggs {
			if !spec.Star {
				need = append(need, spec.Column)
			}
		}
		prune(node.Child, need)

	case *Project:
		var need []string
		for _, e := range node.Exprs {
			need = unionColumns(need, exprColumns(e))
		}
		prune(node.Child, need)

	case *Sort:
		if required != nil {
			for _, k := range node.Keys {
				required = unionColumns(required, []string{k.Column})
			}
		}
		prune(node.Child, required)

	case *Limit:
		prune(node.Child, required)
	}
}

func exprColumns(e Expr.Expression) []string {
	switch ex := e.(type) {
	case *Expr.ColumnResolve:
		return []string{ex.Name}
	case *Expr.Alias:
		return exprColumns(ex.Expr)
	case *Expr.NotExpr:
		return exprColumns(ex.Expr)
	case *Expr.CastExpr:
		return exprColumns(ex.Expr)
	case *Expr.BinaryExpr:
		return unionColumns(exprColumns(ex.Left), exprColumns(ex.Right))
	default:
		return nil
	}
}

func unionColumns(a, b []string) []string {
	out := a
	for _, name := range b {
		seen := false
		for _, have := range out {
			if have == name {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, name)
		}
	}
	return out
}

// intersectOrdered keeps base's order, which is the table schema order.
func intersectOrdered(base, wanted []string) []string {
	var out []string
	for _, name := range base {
		for _, w := range wanted {
			if name == w {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// dropNoOps removes projections that forward their input untouched and
// sorts with no keys.
func dropNoOps(n Node) Node {
	switch node := n.(type) {
	case *Scan:
		return node
	case *Filter:
		node.Child = dropNoOps(node.Child)
		return node
	case *Aggregate:
		node.Child = dropNoOps(node.Child)
		return node
	case *Sort:
		node.Child = dropNoOps(node.Child)
		if len(node.Keys) == 0 {
			return node.Child
		}
		return node
	case *Limit:
		node.Child = dropNoOps(node.Child)
		return node
	case *Project:
		node.Child = dropNoOps(node.Child)
		if isIdentityProject(node) {
			return node.Child
		}
		return node
	}
	return n
}

func isIdentityProject(p *Project) bool {
	childNames := OutputNames(p.Child)
	if len(childNames) != len(p.Exprs) {
		return false
	}
	for i, e := range p.Exprs {
		col, ok := e.(*Expr.ColumnResolve)
		if !ok || col.Name != childNames[i] || p.Names[i] != childNames[i] {
			return false
		}
	}
	return true
}
