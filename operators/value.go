package operators

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
)

// TypeError reports a comparison or aggregation across types the engine
// cannot coerce. It is fatal to the query only; the table stays valid.
type TypeError struct {
	Message string
}

func (e *TypeError) Error() string {
	return "type error: " + e.Message
}

func Typef(format string, a ...any) *TypeError {
	return &TypeError{Message: fmt.Sprintf(format, a...)}
}

type ValueKind int

const (
	NullKind ValueKind = iota
	IntegerKind
	FloatKind
	TextKind
	BooleanKind
)

func (k ValueKind) String() string {
	switch k {
	case NullKind:
		return "null"
	case IntegerKind:
		return "integer"
	case FloatKind:
		return "float"
	case TextKind:
		return "text"
	case BooleanKind:
		return "boolean"
	default:
		return "unknown"
	}
}

// Value is the engine's closed scalar union. Integer and Float combine
// numerically (Integer promotes to Float when mixed), Text compares
// lexicographically, Boolean supports only (in)equality, Null is
// incomparable and absorbing.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
	Bool  bool
}

func Null() Value                 { return Value{Kind: NullKind} }
func NewInteger(v int64) Value    { return Value{Kind: IntegerKind, Int: v} }
func NewFloat(v float64) Value    { return Value{Kind: FloatKind, Float: v} }
func NewText(v string) Value      { return Value{Kind: TextKind, Text: v} }
func NewBoolean(v bool) Value     { return Value{Kind: BooleanKind, Bool: v} }
func (v Value) IsNull() bool      { return v.Kind == NullKind }
func (v Value) IsNumeric() bool   { return v.Kind == IntegerKind || v.Kind == FloatKind }

// AsFloat reports the numeric reading of v, false when v is not numeric.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case IntegerKind:
		return float64(v.Int), true
	case FloatKind:
		return v.Float, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case NullKind:
		return "NULL"
	case IntegerKind:
		return strconv.FormatInt(v.Int, 10)
	case FloatKind:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TextKind:
		return v.Text
	case BooleanKind:
		return strconv.FormatBool(v.Bool)
	default:
		return "?"
	}
}

// Compare orders two values for sorting and merging. Nulls sort first;
// mixed Integer/Float compare through float64. Cross-type comparisons that
// cannot coerce return a TypeError.
func (a Value) Compare(b Value) (int, error) {
	if a.IsNull() && b.IsNull() {
		return 0, nil
	}
	if a.IsNull() {
		return -1, nil
	}
	if b.IsNull() {
		return 1, nil
	}
	if a.IsNumeric() && b.IsNumeric() {
		af, _ := a.AsFloat()
		bf, _ := b.AsFloat()
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.Kind != b.Kind {
		return 0, Typef("cannot compare %s with %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case TextKind:
		switch {
		case a.Text < b.Text:
			return -1, nil
		case a.Text > b.Text:
			return 1, nil
		default:
			return 0, nil
		}
	case BooleanKind:
		// booleans only support (in)equality; order false < true so sort
		// remains total
		switch {
		case a.Bool == b.Bool:
			return 0, nil
		case !a.Bool:
			return -1, nil
		default:
			return 1, nil
		}
	default:
		return 0, Typef("cannot compare %s values", a.Kind)
	}
}

// ValueAt reads one cell out of an arrow array.
func ValueAt(arr arrow.Array, i int) Value {
	if arr.IsNull(i) {
		return Null()
	}
	switch a := arr.(type) {
	case *array.Int64:
		return NewInteger(a.Value(i))
	case *array.Float64:
		return NewFloat(a.Value(i))
	case *array.String:
		return NewText(a.Value(i))
	case *array.Boolean:
		return NewBoolean(a.Value(i))
	default:
		return Null()
	}
}

// AppendValue writes a scalar into an array builder, promoting Integer to
// Float when the builder holds floats.
func AppendValue(b array.Builder, v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		if v.Kind != IntegerKind {
			return Typef("cannot store %s value in integer column", v.Kind)
		}
		bb.Append(v.Int)
	case *array.Float64Builder:
		f, ok := v.AsFloat()
		if !ok {
			return Typef("cannot store %s value in float column", v.Kind)
		}
		bb.Append(f)
	case *array.StringBuilder:
		if v.Kind != TextKind {
			return Typef("cannot store %s value in text column", v.Kind)
		}
		bb.Append(v.Text)
	case *array.BooleanBuilder:
		if v.Kind != BooleanKind {
			return Typef("cannot store %s value in boolean column", v.Kind)
		}
		bb.Append(v.Bool)
	default:
		return Typef("unsupported builder %T", b)
	}
	return nil
}

// ArrowType maps a value kind to the arrow type backing its columns.
func ArrowType(k ValueKind) arrow.DataType {
	switch k {
	case IntegerKind:
		return arrow.PrimitiveTypes.Int64
	case FloatKind:
		return arrow.PrimitiveTypes.Float64
	case TextKind:
		return arrow.BinaryTypes.String
	case BooleanKind:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.Null
	}
}

// KindOf maps an arrow column type back to the scalar kind, NullKind when
// the type is outside the engine's closed set.
func KindOf(dt arrow.DataType) ValueKind {
	switch dt.ID() {
	case arrow.INT64:
		return IntegerKind
	case arrow.FLOAT64:
		return FloatKind
	case arrow.STRING:
		return TextKind
	case arrow.BOOL:
		return BooleanKind
	default:
		return NullKind
	}
}
