package aggr

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

/*
rules for group by:
1. Every non-aggregated column in SELECT must be in GROUP BY
2. Grouping by multiple columns creates a group per unique combination
3. Without GROUP BY, every row falls into one implicit global group
*/
var (
	_ = (operators.Operator)(&GroupByExec{})
)

// HashGroups is the engine's aggregation state: group-key tuple to one
// Accumulator per aggregate expression, in first-seen key order. It is
// shared between the blocking GroupByExec and partition-level partial
// aggregation, which is why consuming and finalizing are split.
type HashGroups struct {
	GroupBy  []string
	KeyKinds []operators.ValueKind
	Aggs     []AggSpec

	Keys   [][]operators.Value
	States [][]*Accumulator
	index  map[string]int
}

func NewHashGroups(groupBy []string, keyKinds []operators.ValueKind, aggs []AggSpec) *HashGroups {
	return &HashGroups{
		GroupBy:  groupBy,
		KeyKinds: keyKinds,
		Aggs:     aggs,
		index:    make(map[string]int),
	}
}

// RebuildIndex restores the key lookup after states were deserialized.
func (h *HashGroups) RebuildIndex() {
	h.index = make(map[string]int, len(h.Keys))
	for i, key := range h.Keys {
		h.index[encodeGroupKey(key)] = i
	}
}

// encodeGroupKey builds a collision-free map key for a tuple of scalars:
// kind tag plus length-prefixed payload per element.
func encodeGroupKey(key []operators.Value) string {
	var sb strings.Builder
	for _, v := range key {
		sb.WriteByte(byte('0' + int(v.Kind)))
		s := v.String()
		sb.WriteString(strconv.Itoa(len(s)))
		sb.WriteByte(':')
		sb.WriteString(s)
	}
	return sb.String()
}

func (h *HashGroups) groupFor(key []operators.Value) int {
	enc := encodeGroupKey(key)
	if idx, ok := h.index[enc]; ok {
		return idx
	}
	states := make([]*Accumulator, len(h.Aggs))
	for i := range states {
		states[i] = NewAccumulator()
	}
	h.Keys = append(h.Keys, key)
	h.States = append(h.States, states)
	h.index[enc] = len(h.Keys) - 1
	return len(h.Keys) - 1
}

// Consume folds one batch into the running groups.
func (h *HashGroups) Consume(batch *operators.RecordBatch) error {
	groupCols := make([]arrow.Array, len(h.GroupBy))
	for i, name := range h.GroupBy {
		if groupCols[i] = batch.ColumnByName(name); groupCols[i] == nil {
			return fmt.Errorf("group-by column %q not found in batch", name)
		}
	}
	argCols := make([]arrow.Array, len(h.Aggs))
	for i, spec := range h.Aggs {
		if spec.Star {
			continue
		}
		if argCols[i] = batch.ColumnByName(spec.Column); argCols[i] == nil {
			return fmt.Errorf("aggregate column %q not found in batch", spec.Column)
		}
	}

	for row := 0; row < int(batch.RowCount); row++ {
		key := make([]operators.Value, len(groupCols))
		for i, col := range groupCols {
			key[i] = operators.ValueAt(col, row)
		}
		g := h.groupFor(key)
		for i := range h.Aggs {
			if argCols[i] == nil {
				// COUNT(*): the row itself is the argument
				h.States[g][i].Update(operators.NewInteger(1))
				continue
			}
			h.States[g][i].Update(operators.ValueAt(argCols[i], row))
		}
	}
	return nil
}

// MergeFrom combines another partition's groups into this one. Both sides
// must describe the same grouping and aggregate expressions.
func (h *HashGroups) MergeFrom(o *HashGroups) error {
	if len(h.GroupBy) != len(o.GroupBy) || len(h.Aggs) != len(o.Aggs) {
		return errors.New("cannot merge group states with different shapes")
	}
	for i, key := range o.Keys {
		g := h.groupFor(key)
		for j := range h.Aggs {
			h.States[g][j].Merge(o.States[i][j])
		}
	}
	return nil
}

// Finalize materializes the groups into an output batch: group-key
// columns first, then one column per aggregate.
func (h *HashGroups) Finalize() (*operators.RecordBatch, error) {
	// a global aggregate over zero rows still produces one group so
	// COUNT can report 0 and AVG can report Null
	if len(h.GroupBy) == 0 && len(h.Keys) == 0 {
		h.groupFor([]operators.Value{})
	}
	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, 0, len(h.GroupBy)+len(h.Aggs))
	columns := make([]arrow.Array, 0, cap(fields))

	for i, name := range h.GroupBy {
		fields = append(fields, arrow.Field{Name: name, Type: operators.ArrowType(h.KeyKinds[i]), Nullable: true})
		b := array.NewBuilder(mem, operators.ArrowType(h.KeyKinds[i]))
		for _, key := range h.Keys {
			if err := operators.AppendValue(b, key[i]); err != nil {
				b.Release()
				return nil, err
			}
		}
		columns = append(columns, b.NewArray())
		b.Release()
	}
	for j, spec := range h.Aggs {
		fields = append(fields, arrow.Field{Name: spec.Output, Type: spec.OutputType(), Nullable: true})
		b := array.NewBuilder(mem, spec.OutputType())
		for _, states := range h.States {
			if err := operators.AppendValue(b, states[j].Finalize(spec)); err != nil {
				b.Release()
				return nil, err
			}
		}
		columns = append(columns, b.NewArray())
		b.Release()
	}
	return &operators.RecordBatch{
		Schema:   arrow.NewSchema(fields, nil),
		Columns:  columns,
		RowCount: uint64(len(h.Keys)),
	}, nil
}

// GroupOutputSchema is the schema an aggregation over childSchema emits.
func GroupOutputSchema(childSchema *arrow.Schema, groupBy []string, aggs []AggSpec) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(groupBy)+len(aggs))
	for _, name := range groupBy {
		idx := childSchema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("group-by column %q not found", name)
		}
		f := childSchema.Field(idx[0])
		fields = append(fields, arrow.Field{Name: f.Name, Type: f.Type, Nullable: true})
	}
	for _, spec := range aggs {
		fields = append(fields, arrow.Field{Name: spec.Output, Type: spec.OutputType(), Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

// GroupKeyKinds resolves the scalar kind of every group column.
func GroupKeyKinds(childSchema *arrow.Schema, groupBy []string) ([]operators.ValueKind, error) {
	kinds := make([]operators.ValueKind, len(groupBy))
	for i, name := range groupBy {
		idx := childSchema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("group-by column %q not found", name)
		}
		kinds[i] = operators.KindOf(childSchema.Field(idx[0]).Type)
	}
	return kinds, nil
}

// GroupByExec is the blocking hash-aggregation operator: it must see every
// upstream row of a group before any group can be finalized, so the whole
// input is consumed on the first Next.
type GroupByExec struct {
	child  operators.Operator
	schema *arrow.Schema
	groups *HashGroups
	done   bool
}

func NewGroupByExec(child operators.Operator, groupBy []string, aggs []AggSpec) (*GroupByExec, error) {
	s, err := GroupOutputSchema(child.Schema(), groupBy, aggs)
	if err != nil {
		return nil, err
	}
	kinds, err := GroupKeyKinds(child.Schema(), groupBy)
	if err != nil {
		return nil, err
	}
	return &GroupByExec{
		child:  child,
		schema: s,
		groups: NewHashGroups(groupBy, kinds, aggs),
	}, nil
}

// this is a pipeline breaker so it always consumes all of its input, then
// emits every group in one batch
func (g *GroupByExec) Next(_ uint16) (*operators.RecordBatch, error) {
	if g.done {
		return nil, io.EOF
	}
	for {
		childBatch, err := g.child.Next(math.MaxUint16)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if err := g.groups.Consume(childBatch); err != nil {
			return nil, err
		}
	}
	g.done = true
	return g.groups.Finalize()
}

func (g *GroupByExec) Schema() *arrow.Schema {
	return g.schema
}

func (g *GroupByExec) Close() error {
	return g.child.Close()
}
