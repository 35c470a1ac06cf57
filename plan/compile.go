package plan

import (
	"fmt"

	"tabql/operators"
	"tabql/operators/aggr"
	"tabql/operators/filter"
	"tabql/operators/project"
)

// WrapFunc lets the caller interpose on every compiled operator, used
// for per-node tracing.
type WrapFunc func(n Node, op operators.Operator) operators.Operator

// Compile lowers a plan tree onto a table into a pull-based operator
// pipeline. The returned operator is the root; closing it closes the
// whole pipeline.
func Compile(n Node, table *operators.RecordBatch) (operators.Operator, error) {
	return compile(n, table, nil, nil)
}

// CompileRange is Compile restricted to the half-open row range
// [start, end) of the table. Partition execution builds on this.
func CompileRange(n Node, table *operators.RecordBatch, start, end uint64) (operators.Operator, error) {
	return compile(n, table, &rowRange{start: start, end: end}, nil)
}

// CompileTraced compiles with every operator wrapped by wrap.
func CompileTraced(n Node, table *operators.RecordBatch, wrap WrapFunc) (operators.Operator, error) {
	return compile(n, table, nil, wrap)
}

type rowRange struct {
	start, end uint64
}

func compile(n Node, table *operators.RecordBatch, rng *rowRange, wrap WrapFunc) (operators.Operator, error) {
	var op operators.Operator
	var err error

	switch node := n.(type) {
	case *Scan:
		if rng != nil {
			op, err = project.NewTableRangeScan(table, node.Columns, rng.start, rng.end)
		} else {
			op, err = project.NewTableScan(table, node.Columns)
		}

	case *Filter:
		var child operators.Operator
		child, err = compile(node.Child, table, rng, wrap)
		if err != nil {
			return nil, err
		}
		op, err = filter.NewFilterExec(child, node.Predicate)

	case *Aggregate:
		var child operators.Operator
		child, err = compile(node.Child, table, rng, wrap)
		if err != nil {
			return nil, err
		}
		op, err = aggr.NewGroupByExec(child, node.GroupBy, node.Aggs)

	case *Project:
		var child operators.Operator
		child, err = compile(node.Child, table, rng, wrap)
		if err != nil {
			return nil, err
		}
		op, err = project.NewProjectExec(child, node.Exprs, node.Names)

	case *Sort:
		var child operators.Operator
		child, err = compile(node.Child, table, rng, wrap)
		if err != nil {
			return nil, err
		}
		op, err = aggr.NewSortExec(child, node.Keys)

	case *Limit:
		var child operators.Operator
		child, err = compile(node.Child, table, rng, wrap)
		if err != nil {
			return nil, err
		}
		op, err = filter.NewLimitExec(child, node.N)

	default:
		return nil, fmt.Errorf("compile: unsupported plan node %T", n)
	}
	if err != nil {
		return nil, err
	}
	if wrap != nil {
		op = wrap(n, op)
	}
	return op, nil
}

// SplitAtAggregate cuts a plan at its aggregate: prefix is the
// Scan/Filter/Aggregate pipeline that can run per partition, and rebuild
// re-attaches the Project/Sort/Limit suffix on top of a replacement
// input node over the merged result. ok is false for plans without an
// aggregate.
func SplitAtAggregate(n Node) (prefix *Aggregate, rebuild func(Node) Node, ok bool) {
	switch node := n.(type) {
	case *Aggregate:
		return node, func(x Node) Node { return x }, true

	case *Project:
		inner, innerRebuild, found := SplitAtAggregate(node.Child)
		if !found {
			return nil, nil, false
		}
		return inner, func(x Node) Node {
			return &Project{Child: innerRebuild(x), Exprs: node.Exprs, Names: node.Names}
		}, true

	case *Sort:
		inner, innerRebuild, found := SplitAtAggregate(node.Child)
		if !found {
			return nil, nil, false
		}
		return inner, func(x Node) Node {
			return &Sort{Child: innerRebuild(x), Keys: node.Keys}
		}, true

	case *Limit:
		inner, innerRebuild, found := SplitAtAggregate(node.Child)
		if !found {
			return nil, nil, false
		}
		return inner, func(x Node) Node {
			return &Limit{Child: innerRebuild(x), N: node.N}
		}, true

	default:
		return nil, nil, false
	}
}
