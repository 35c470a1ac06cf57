// Command tabql loads a JSON table and runs SQL queries against it from
// the command line. It is a thin host around the engine package; the
// engine itself is embeddable and has no I/O of its own.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"

	"tabql/config"
	"tabql/engine"
	"tabql/operators"
)

// tableFile is the on-disk shape: column order matters, JSON objects
// alone cannot carry it.
type tableFile struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func main() {
	var (
		configPath = flag.String("config", "", "optional yaml config file")
		dataPath   = flag.String("data", "", "JSON table file with columns and rows")
		query      = flag.String("query", "", "query to run")
		explain    = flag.Bool("explain", false, "print the plan and per-operator trace")
		parallel   = flag.Bool("parallel", false, "run aggregation across partitions")
	)
	flag.Parse()

	config.LoadEnv()
	if *configPath != "" {
		if err := config.Decode(*configPath); err != nil {
			fatal("load config: %v", err)
		}
	}
	if *dataPath == "" || *query == "" {
		fmt.Fprintln(os.Stderr, "usage: tabql -data table.json -query 'SELECT ...' [-explain] [-parallel]")
		os.Exit(2)
	}

	table, cellErrs, err := loadTable(*dataPath)
	if err != nil {
		fatal("load table: %v", err)
	}
	for _, ce := range cellErrs {
		fmt.Fprintf(os.Stderr, "warning: %v\n", &ce)
	}

	eng := engine.New(table, config.GetConfig())

	switch {
	case *explain:
		ex, err := eng.ExplainQuery(*query)
		if err != nil {
			fatal("query: %v", err)
		}
		fmt.Print(ex.Plan)
		printTrace(ex.Trace)
		printResult(ex.Result)

	case *parallel:
		result, err := eng.QueryParallel(context.Background(), *query)
		if err != nil {
			fatal("query: %v", err)
		}
		printResult(result)

	default:
		result, err := eng.Query(*query)
		if err != nil {
			fatal("query: %v", err)
		}
		printResult(result)
	}
}

func loadTable(path string) (*operators.RecordBatch, []operators.CellError, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var tf tableFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return nil, nil, err
	}
	if max := config.GetConfig().Ingest.MaxRows; max > 0 && len(tf.Rows) > max {
		return nil, nil, fmt.Errorf("table has %d rows, configured ingest limit is %d", len(tf.Rows), max)
	}
	return operators.TableFromRecords(tf.Columns, tf.Rows)
}

func printResult(batch *operators.RecordBatch) {
	w := tablewriter.NewWriter(os.Stdout)

	header := make([]string, len(batch.Schema.Fields()))
	for i, f := range batch.Schema.Fields() {
		header[i] = f.Name
	}
	w.SetHeader(header)
	w.SetAutoFormatHeaders(false)

	for row := uint64(0); row < batch.RowCount; row++ {
		cells := make([]string, len(batch.Columns))
		for col, arr := range batch.Columns {
			cells[col] = operators.ValueAt(arr, int(row)).String()
		}
		w.Append(cells)
	}
	w.Render()
	fmt.Printf("(%d rows)\n", batch.RowCount)
}

func printTrace(steps []engine.TraceStep) {
	w := tablewriter.NewWriter(os.Stderr)
	w.SetHeader([]string{"operator", "rows in", "rows out", "elapsed"})
	for _, s := range steps {
		w.Append([]string{
			s.Operation,
			fmt.Sprintf("%d", s.RowsIn),
			fmt.Sprintf("%d", s.RowsOut),
			s.Elapsed.String(),
		})
	}
	w.Render()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
