// Package engine is the embedding surface: it owns an immutable table,
// parses and plans query strings, and executes them sequentially or
// across partitions.
package engine

import (
	"context"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"tabql/config"
	"tabql/operators"
	"tabql/parallel"
	"tabql/parser"
	"tabql/plan"
)

type Engine struct {
	table  *operators.RecordBatch
	cfg    *config.Config
	logger log.Logger
}

// New wraps an already ingested table. The table is never mutated, so
// one Engine serves any number of concurrent queries.
func New(table *operators.RecordBatch, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.GetConfig()
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "component", "engine")
	switch cfg.Log.Level {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return &Engine{table: table, cfg: cfg, logger: logger}
}

// NewWithLogger is New with a caller-provided logger, used by tests to
// keep output quiet.
func NewWithLogger(table *operators.RecordBatch, cfg *config.Config, logger log.Logger) *Engine {
	e := New(table, cfg)
	e.logger = logger
	return e
}

func (e *Engine) Table() *operators.RecordBatch { return e.table }

// Plan parses, builds, and optimizes without executing anything.
func (e *Engine) Plan(text string) (plan.Node, error) {
	q, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	node, err := plan.Build(q, e.table.Schema)
	if err != nil {
		return nil, err
	}
	return plan.Optimize(node), nil
}

// Query runs one query string to completion and returns the full
// result table.
func (e *Engine) Query(text string) (*operators.RecordBatch, error) {
	id := uuid.NewString()
	start := time.Now()
	level.Debug(e.logger).Log("query_id", id, "sql", text)

	node, err := e.Plan(text)
	if err != nil {
		level.Debug(e.logger).Log("query_id", id, "err", err)
		return nil, err
	}
	op, err := plan.Compile(node, e.table)
	if err != nil {
		return nil, err
	}
	result, err := operators.Collect(op, e.cfg.BatchSize())
	if err != nil {
		level.Debug(e.logger).Log("query_id", id, "err", err)
		return nil, err
	}
	level.Info(e.logger).Log("query_id", id, "rows", result.RowCount, "took", time.Since(start))
	return result, nil
}

// QueryParallel is Query with aggregation fanned out over row
// partitions. Non-aggregate queries silently run sequentially, their
// row order is only defined that way.
func (e *Engine) QueryParallel(ctx context.Context, text string) (*operators.RecordBatch, error) {
	id := uuid.NewString()
	start := time.Now()
	workers := e.cfg.Workers()
	level.Debug(e.logger).Log("query_id", id, "sql", text, "workers", workers)

	node, err := e.Plan(text)
	if err != nil {
		return nil, err
	}
	result, err := parallel.Execute(ctx, node, e.table, workers, e.cfg.BatchSize())
	if err != nil {
		level.Debug(e.logger).Log("query_id", id, "err", err)
		return nil, err
	}
	level.Info(e.logger).Log("query_id", id, "rows", result.RowCount, "took", time.Since(start), "workers", workers)
	return result, nil
}
