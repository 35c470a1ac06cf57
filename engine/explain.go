package engine

import (
	"time"

	"github.com/apache/arrow/go/v17/arrow"

	"tabql/operators"
	"tabql/plan"
)

// TraceStep is one operator's share of a query, leaf first.
type TraceStep struct {
	Operation string
	Elapsed   time.Duration
	RowsIn    uint64
	RowsOut   uint64
}

// Explain bundles a query result with its optimized plan and the
// per-operator execution trace.
type Explain struct {
	Result *operators.RecordBatch
	Plan   string
	Trace  []TraceStep
}

// tracedOperator counts rows and time flowing through one pipeline
// level.
type tracedOperator struct {
	label   string
	inner   operators.Operator
	elapsed time.Duration
	rowsOut uint64
}

func (t *tracedOperator) Next(n uint16) (*operators.RecordBatch, error) {
	start := time.Now()
	batch, err := t.inner.Next(n)
	t.elapsed += time.Since(start)
	if err != nil {
		return nil, err
	}
	t.rowsOut += batch.RowCount
	return batch, nil
}

func (t *tracedOperator) Schema() *arrow.Schema { return t.inner.Schema() }
func (t *tracedOperator) Close() error          { return t.inner.Close() }

// ExplainQuery runs a query with every operator instrumented. The trace
// is ordered leaf to root; a step's RowsIn is the previous step's
// RowsOut, with the table's row count feeding the scan.
func (e *Engine) ExplainQuery(text string) (*Explain, error) {
	node, err := e.Plan(text)
	if err != nil {
		return nil, err
	}

	var traced []*tracedOperator
	op, err := plan.CompileTraced(node, e.table, func(n plan.Node, inner operators.Operator) operators.Operator {
		t := &tracedOperator{label: n.String(), inner: inner}
		traced = append(traced, t)
		return t
	})
	if err != nil {
		return nil, err
	}

	result, err := operators.Collect(op, e.cfg.BatchSize())
	if err != nil {
		op.Close()
		return nil, err
	}

	steps := make([]TraceStep, len(traced))
	rowsIn := e.table.RowCount
	for i, t := range traced {
		steps[i] = TraceStep{
			Operation: t.label,
			Elapsed:   t.elapsed,
			RowsIn:    rowsIn,
			RowsOut:   t.rowsOut,
		}
		rowsIn = t.rowsOut
	}
	return &Explain{Result: result, Plan: plan.Format(node), Trace: steps}, nil
}
