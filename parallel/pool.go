package parallel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"tabql/operators"
	"tabql/operators/aggr"
	"tabql/plan"
)

// Execute runs an aggregation plan across partitions workers and merges
// the partial states, then applies the plan's Project/Sort/Limit suffix
// once over the merged groups. Plans without an aggregate fall back to
// single-threaded execution, row order is only reproducible that way.
//
// When any worker fails the first error is returned and no merge
// happens.
func Execute(ctx context.Context, root plan.Node, table *operators.RecordBatch, partitions int, batchSize uint16) (*operators.RecordBatch, error) {
	agg, rebuild, ok := plan.SplitAtAggregate(root)
	if !ok || partitions <= 1 {
		return executeSequential(root, table, batchSize)
	}

	ranges := Partitions(table.RowCount, partitions)
	states := make([]*aggr.HashGroups, len(ranges))

	g, ctx := errgroup.WithContext(ctx)
	for i, rng := range ranges {
		i, rng := i, rng
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			groups, err := ExecutePartial(agg, table, rng)
			if err != nil {
				return err
			}
			states[i] = groups
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged, err := Merge(states)
	if err != nil {
		return nil, err
	}

	// the suffix re-enters the planner as a scan over the merged groups
	suffixRoot := rebuild(&plan.Scan{
		Table:        "merged",
		TableColumns: columnNames(merged),
	})
	op, err := plan.Compile(suffixRoot, merged)
	if err != nil {
		return nil, err
	}
	return operators.Collect(op, batchSize)
}

func executeSequential(root plan.Node, table *operators.RecordBatch, batchSize uint16) (*operators.RecordBatch, error) {
	op, err := plan.Compile(root, table)
	if err != nil {
		return nil, err
	}
	return operators.Collect(op, batchSize)
}

func columnNames(batch *operators.RecordBatch) []string {
	names := make([]string, len(batch.Schema.Fields()))
	for i, f := range batch.Schema.Fields() {
		names[i] = f.Name
	}
	return names
}
