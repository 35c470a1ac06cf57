package aggr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// order by col asc, col2 desc ... etc
var (
	_ = (operators.Operator)(&SortExec{})
)

// SortKey orders by one output column. Ascending by default; nulls sort
// first under ASC.
type SortKey struct {
	Column    string
	Ascending bool
}

func NewSortKey(column string, ascending bool) SortKey {
	return SortKey{Column: column, Ascending: ascending}
}

// SortExec is a full blocking sort: it reads the whole child input, sorts
// an index vector with the coercion-aware comparator, and serves the
// reordered rows back out in batches. The sort is stable, ties keep the
// upstream row order.
type SortExec struct {
	child    operators.Operator
	schema   *arrow.Schema
	sortKeys []SortKey
	// internal book keeping
	totalColumns   []arrow.Array
	consumedOffset uint64
	totalRows      uint64
	consumed       bool // did we finish reading all of the child record batches?
	done           bool // have we already produced all the sorted record batches?
}

func NewSortExec(child operators.Operator, sortKeys []SortKey) (*SortExec, error) {
	for _, sk := range sortKeys {
		if len(child.Schema().FieldIndices(sk.Column)) == 0 {
			return nil, fmt.Errorf("sort key column %q not found", sk.Column)
		}
	}
	return &SortExec{
		child:    child,
		schema:   child.Schema(),
		sortKeys: sortKeys,
	}, nil
}

// sortExec reads 2^16-1 column entries at a time from its child, which is
// more efficient than trusting the caller to pass a reasonable n
func (s *SortExec) Next(n uint16) (*operators.RecordBatch, error) {
	if s.done {
		return nil, io.EOF
	}
	if !s.consumed {
		mem := memory.NewGoAllocator()
		allColumns := make([]arrow.Array, len(s.schema.Fields()))
		for {
			childBatch, err := s.child.Next(math.MaxUint16)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, err
			}
			for i := range childBatch.Columns {
				if allColumns[i] == nil {
					allColumns[i] = childBatch.Columns[i]
					continue
				}
				larger, err := array.Concatenate([]arrow.Array{allColumns[i], childBatch.Columns[i]}, mem)
				if err != nil {
					return nil, err
				}
				allColumns[i] = larger
			}
		}
		s.consumed = true
		var count uint64
		for i, f := range s.schema.Fields() {
			if allColumns[i] == nil {
				b := array.NewBuilder(mem, f.Type)
				allColumns[i] = b.NewArray()
				b.Release()
			}
		}
		if len(allColumns) > 0 {
			count = uint64(allColumns[0].Len())
		}
		idx, err := sortBatch(&operators.RecordBatch{
			Schema:   s.schema,
			Columns:  allColumns,
			RowCount: count,
		}, s.sortKeys)
		if err != nil {
			return nil, err
		}
		for i := range allColumns {
			arr, err := compute.TakeArray(context.TODO(), allColumns[i], idxToArrowArray(idx, mem))
			if err != nil {
				return nil, err
			}
			allColumns[i] = arr
		}
		s.totalColumns = allColumns
		s.totalRows = count
	}
	var readSize uint64
	remaining := s.totalRows - s.consumedOffset
	if remaining <= uint64(n) {
		// if n is more than we have left just read up to remaining
		readSize = remaining
		s.done = true
	} else {
		readSize = uint64(n)
	}
	mem := memory.NewGoAllocator()
	sortedColumns, err := s.consumeSortedBatch(readSize, mem)
	if err != nil {
		return nil, err
	}

	return &operators.RecordBatch{
		Schema:   s.schema,
		Columns:  sortedColumns,
		RowCount: readSize,
	}, nil
}

func (s *SortExec) Schema() *arrow.Schema {
	return s.schema
}

func (s *SortExec) Close() error {
	return s.child.Close()
}

func (s *SortExec) consumeSortedBatch(readSize uint64, mem memory.Allocator) ([]arrow.Array, error) {
	resultColumns := make([]arrow.Array, len(s.schema.Fields()))
	offsetArray := genOffsetTakeIdx(s.consumedOffset, readSize, mem)
	for i := range s.totalColumns {
		arr, err := compute.TakeArray(context.TODO(), s.totalColumns[i], offsetArray)
		if err != nil {
			return nil, err
		}
		resultColumns[i] = arr
	}
	s.consumedOffset += readSize
	return resultColumns, nil
}

/*
shared functions
*/
func sortBatch(fullRC *operators.RecordBatch, sortKeys []SortKey) ([]uint64, error) {
	keyColumns := make([]arrow.Array, len(sortKeys))
	for i, sk := range sortKeys {
		col := fullRC.ColumnByName(sk.Column)
		if col == nil {
			return nil, fmt.Errorf("sort key column %q not found", sk.Column)
		}
		keyColumns[i] = col
	}
	idVector := make([]uint64, fullRC.RowCount)
	for i := range idVector {
		idVector[i] = uint64(i)
	}
	if err := sortIndexVector(idVector, keyColumns, sortKeys); err != nil {
		return nil, err
	}
	return idVector, nil
}

// sortIndexVector stably sorts idVec based on keyColumns + sortKeys.
// keyColumns[i] corresponds to sortKeys[i]. A comparison failure (only
// possible on types outside the closed scalar set) aborts the sort.
func sortIndexVector(idVec []uint64, keyColumns []arrow.Array, sortKeys []SortKey) error {
	var sortErr error
	sort.SliceStable(idVec, func(a, b int) bool {
		if sortErr != nil {
			return false
		}
		i := idVec[a]
		j := idVec[b]

		// lexicographic: go through each sort key
		for k, col := range keyColumns {
			vi := operators.ValueAt(col, int(i))
			vj := operators.ValueAt(col, int(j))
			cmp, err := vi.Compare(vj)
			if err != nil {
				sortErr = err
				return false
			}
			if cmp == 0 {
				continue // equal, move to next key
			}
			if sortKeys[k].Ascending {
				return cmp < 0
			}
			return cmp > 0
		}

		// completely equal for all keys; stability keeps input order
		return false
	})
	return sortErr
}

func idxToArrowArray(v []uint64, mem memory.Allocator) arrow.Array {
	b := array.NewUint64Builder(mem)
	defer b.Release()
	b.AppendValues(v, nil)
	return b.NewArray()
}

func genOffsetTakeIdx(offset, size uint64, mem memory.Allocator) arrow.Array {
	b := array.NewUint64Builder(mem)
	defer b.Release()
	for i := uint64(0); i < size; i++ {
		b.Append(offset + i)
	}
	return b.NewArray()
}
