// Package plan turns parsed queries into logical plan trees, rewrites
// them, and compiles them into executable operator pipelines.
package plan

import (
	"fmt"
	"strings"

	"tabql/Expr"
	"tabql/operators/aggr"
)

// SchemaError reports a reference to a column the table does not have,
// or a bare select of a column that is not grouped.
type SchemaError struct {
	Column  string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("schema error: column %q: %s", e.Column, e.Message)
	}
	return fmt.Sprintf("schema error: unknown column %q", e.Column)
}

// Node is one level of a logical plan. The canonical pipeline built by
// Build is Scan -> Filter -> Aggregate -> Project -> Sort -> Limit, with
// every level except Scan optional.
type Node interface {
	// Input returns the child node, nil for leaves.
	Input() Node
	fmt.Stringer
}

type Scan struct {
	Table string
	// TableColumns is the table's full column list in schema order.
	TableColumns []string
	// Columns is the pruned read set; nil reads every column.
	Columns []string
}

type Filter struct {
	Child     Node
	Predicate Expr.Expression
}

type Aggregate struct {
	Child   Node
	GroupBy []string
	Aggs    []aggr.AggSpec
}

type Project struct {
	Child Node
	Exprs []Expr.Expression
	Names []string
}

type Sort struct {
	Child Node
	Keys  []aggr.SortKey
}

type Limit struct {
	Child Node
	N     int64
}

func (s *Scan) Input() Node      { return nil }
func (f *Filter) Input() Node    { return f.Child }
func (a *Aggregate) Input() Node { return a.Child }
func (p *Project) Input() Node   { return p.Child }
func (s *Sort) Input() Node      { return s.Child }
func (l *Limit) Input() Node     { return l.Child }

func (s *Scan) String() string {
	cols := "*"
	if s.Columns != nil {
		cols = strings.Join(s.Columns, ", ")
	}
	return fmt.Sprintf("Scan(%s: %s)", s.Table, cols)
}

func (f *Filter) String() string {
	return fmt.Sprintf("Filter(%s)", f.Predicate)
}

func (a *Aggregate) String() string {
	specs := make([]string, len(a.Aggs))
	for i, spec := range a.Aggs {
		arg := spec.Column
		if spec.Star {
			arg = "*"
		}
		specs[i] = fmt.Sprintf("%s(%s) -> %s", spec.Fn, arg, spec.Output)
	}
	if len(a.GroupBy) == 0 {
		return fmt.Sprintf("Aggregate(%s)", strings.Join(specs, ", "))
	}
	return fmt.Sprintf("Aggregate(group by %s: %s)",
		strings.Join(a.GroupBy, ", "), strings.Join(specs, ", "))
}

func (p *Project) String() string {
	parts := make([]string, len(p.Exprs))
	for i, e := range p.Exprs {
		parts[i] = fmt.Sprintf("%s AS %s", e, p.Names[i])
	}
	return fmt.Sprintf("Project(%s)", strings.Join(parts, ", "))
}

func (s *Sort) String() string {
	parts := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		dir := "ASC"
		if !k.Ascending {
			dir = "DESC"
		}
		parts[i] = k.Column + " " + dir
	}
	return fmt.Sprintf("Sort(%s)", strings.Join(parts, ", "))
}

func (l *Limit) String() string {
	return fmt.Sprintf("Limit(%d)", l.N)
}

// Format renders a plan tree one node per line, leaf last.
func Format(n Node) string {
	var sb strings.Builder
	depth := 0
	for ; n != nil; n = n.Input() {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(n.String())
		sb.WriteString("\n")
		depth++
	}
	return sb.String()
}

// OutputNames lists the column names a node produces, in order.
func OutputNames(n Node) []string {
	switch node := n.(type) {
	case *Scan:
		if node.Columns != nil {
			return node.Columns
		}
		return node.TableColumns
	case *Filter:
		return OutputNames(node.Child)
	case *Aggregate:
		names := make([]string, 0, len(node.GroupBy)+len(node.Aggs))
		names = append(names, node.GroupBy...)
		for _, spec := range node.Aggs {
			names = append(names, spec.Output)
		}
		return names
	case *Project:
		return node.Names
	case *Sort:
		return OutputNames(node.Child)
	case *Limit:
		return OutputNames(node.Child)
	}
	return nil
}
