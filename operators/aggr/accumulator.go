package aggr

import (
	"fmt"

	"tabql/operators"

	"github.com/apache/arrow/go/v17/arrow"
)

var (
	ErrUnsupportedAggrFunc = func(aggr int) error {
		return fmt.Errorf("%d is an unsupported aggregate function", aggr)
	}
)

// AggrFunc represents the type of aggregation function to be performed.
type AggrFunc int

const (
	Min AggrFunc = iota
	Max
	Count
	Sum
	Avg
)

func (f AggrFunc) String() string {
	switch f {
	case Min:
		return "MIN"
	case Max:
		return "MAX"
	case Count:
		return "COUNT"
	case Sum:
		return "SUM"
	case Avg:
		return "AVG"
	default:
		return "UNKNOWN_AGGREGATE_FUNCTION"
	}
}

// AggSpec binds one aggregate function to its argument column. Star is
// COUNT(*). Output names the result column.
type AggSpec struct {
	Fn     AggrFunc
	Column string
	Star   bool
	Output string
}

// OutputType is the arrow type of an aggregate's result column. Counts
// stay integral, everything else is float64.
func (s AggSpec) OutputType() arrow.DataType {
	if s.Fn == Count {
		return arrow.PrimitiveTypes.Int64
	}
	return arrow.PrimitiveTypes.Float64
}

// Accumulator is the per-group running state. It deliberately carries raw
// sums and counts rather than finished results so that partial states
// merge commutatively across partitions; AVG is derived once at finalize
// as sum/count.
type Accumulator struct {
	Rows     int64 // every row of the group, null or not (COUNT(*))
	Count    int64 // non-null argument values (COUNT(col), AVG divisor)
	Sum      float64
	Min      float64
	Max      float64
	HasValue bool // Sum/Min/Max only mean something once a numeric value arrived
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Update folds one argument cell into the running state. Nulls count the
// row but touch nothing else.
func (a *Accumulator) Update(v operators.Value) {
	a.Rows++
	if v.IsNull() {
		return
	}
	a.Count++
	f, ok := v.AsFloat()
	if !ok {
		// non-numeric values are countable but have no sum or extrema
		return
	}
	if !a.HasValue {
		a.Sum = f
		a.Min = f
		a.Max = f
		a.HasValue = true
		return
	}
	a.Sum += f
	a.Min = min(a.Min, f)
	a.Max = max(a.Max, f)
}

// Merge combines another partition's state into this one. Must stay
// associative and commutative: counts and sums add, extrema take the
// extremum.
func (a *Accumulator) Merge(o *Accumulator) {
	a.Rows += o.Rows
	a.Count += o.Count
	if !o.HasValue {
		return
	}
	if !a.HasValue {
		a.Sum = o.Sum
		a.Min = o.Min
		a.Max = o.Max
		a.HasValue = true
		return
	}
	a.Sum += o.Sum
	a.Min = min(a.Min, o.Min)
	a.Max = max(a.Max, o.Max)
}

// Finalize produces the aggregate's value for this group. An empty group
// yields Null for SUM/MIN/MAX/AVG; AVG over zero values is Null, never a
// division error.
func (a *Accumulator) Finalize(spec AggSpec) operators.Value {
	switch spec.Fn {
	case Count:
		if spec.Star {
			return operators.NewInteger(a.Rows)
		}
		return operators.NewInteger(a.Count)
	case Sum:
		if !a.HasValue {
			return operators.Null()
		}
		return operators.NewFloat(a.Sum)
	case Min:
		if !a.HasValue {
			return operators.Null()
		}
		return operators.NewFloat(a.Min)
	case Max:
		if !a.HasValue {
			return operators.Null()
		}
		return operators.NewFloat(a.Max)
	case Avg:
		if a.Count == 0 || !a.HasValue {
			return operators.Null()
		}
		return operators.NewFloat(a.Sum / float64(a.Count))
	default:
		return operators.Null()
	}
}
