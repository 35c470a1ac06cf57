package parallel

import (
	"encoding/binary"
	"fmt"
	"io"

	"tabql/operators"
	"tabql/operators/aggr"
)

// partialMagic guards against decoding arbitrary byte streams.
var partialMagic = [4]byte{'T', 'B', 'Q', 'P'}

// PartialAggregate is the wire form of one partition's aggregation
// state. It carries everything a peer needs to merge: the grouping
// definition, the aggregate specs, and the raw accumulator fields, so
// AVG still merges exactly as sum and count.
type PartialAggregate struct {
	Groups *aggr.HashGroups
}

func NewPartialAggregate(groups *aggr.HashGroups) *PartialAggregate {
	return &PartialAggregate{Groups: groups}
}

// Encode writes the state in a fixed little-endian layout.
func (p *PartialAggregate) Encode(w io.Writer) error {
	if _, err := w.Write(partialMagic[:]); err != nil {
		return err
	}
	h := p.Groups

	if err := writeStrings(w, h.GroupBy); err != nil {
		return err
	}
	for _, k := range h.KeyKinds {
		if err := binary.Write(w, binary.LittleEndian, int8(k)); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint16(len(h.Aggs))); err != nil {
		return err
	}
	for _, spec := range h.Aggs {
		if err := binary.Write(w, binary.LittleEndian, int8(spec.Fn)); err != nil {
			return err
		}
		if err := writeString(w, spec.Column); err != nil {
			return err
		}
		if err := writeBool(w, spec.Star); err != nil {
			return err
		}
		if err := writeString(w, spec.Output); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(h.Keys))); err != nil {
		return err
	}
	for g, key := range h.Keys {
		for _, v := range key {
			if err := writeValue(w, v); err != nil {
				return err
			}
		}
		for _, acc := range h.States[g] {
			if err := writeAccumulator(w, acc); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodePartial reads a state previously written by Encode. The key
// index is rebuilt so the result merges immediately.
func DecodePartial(r io.Reader) (*PartialAggregate, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != partialMagic {
		return nil, fmt.Errorf("decode partial: bad magic %q", magic[:])
	}

	groupBy, err := readStrings(r)
	if err != nil {
		return nil, err
	}
	kinds := make([]operators.ValueKind, len(groupBy))
	for i := range kinds {
		var k int8
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return nil, err
		}
		kinds[i] = operators.ValueKind(k)
	}

	var nAggs uint16
	if err := binary.Read(r, binary.LittleEndian, &nAggs); err != nil {
		return nil, err
	}
	aggs := make([]aggr.AggSpec, nAggs)
	for i := range aggs {
		var fn int8
		if err := binary.Read(r, binary.LittleEndian, &fn); err != nil {
			return nil, err
		}
		aggs[i].Fn = aggr.AggrFunc(fn)
		if aggs[i].Column, err = readString(r); err != nil {
			return nil, err
		}
		if aggs[i].Star, err = readBool(r); err != nil {
			return nil, err
		}
		if aggs[i].Output, err = readString(r); err != nil {
			return nil, err
		}
	}

	var nGroups uint32
	if err := binary.Read(r, binary.LittleEndian, &nGroups); err != nil {
		return nil, err
	}
	groups := aggr.NewHashGroups(groupBy, kinds, aggs)
	for g := uint32(0); g < nGroups; g++ {
		key := make([]operators.Value, len(groupBy))
		for i := range key {
			if key[i], err = readValue(r); err != nil {
				return nil, err
			}
		}
		states := make([]*aggr.Accumulator, len(aggs))
		for i := range states {
			if states[i], err = readAccumulator(r); err != nil {
				return nil, err
			}
		}
		groups.Keys = append(groups.Keys, key)
		groups.States = append(groups.States, states)
	}
	groups.RebuildIndex()
	return &PartialAggregate{Groups: groups}, nil
}

func writeValue(w io.Writer, v operators.Value) error {
	if err := binary.Write(w, binary.LittleEndian, int8(v.Kind)); err != nil {
		return err
	}
	switch v.Kind {
	case operators.NullKind:
		return nil
	case operators.IntegerKind:
		return binary.Write(w, binary.LittleEndian, v.Int)
	case operators.FloatKind:
		return binary.Write(w, binary.LittleEndian, v.Float)
	case operators.TextKind:
		return writeString(w, v.Text)
	case operators.BooleanKind:
		return writeBool(w, v.Bool)
	}
	return fmt.Errorf("encode value: unknown kind %d", v.Kind)
}

func readValue(r io.Reader) (operators.Value, error) {
	var kind int8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return operators.Value{}, err
	}
	switch operators.ValueKind(kind) {
	case operators.NullKind:
		return operators.Null(), nil
	case operators.IntegerKind:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return operators.NewInteger(v), err
	case operators.FloatKind:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return operators.NewFloat(v), err
	case operators.TextKind:
		s, err := readString(r)
		return operators.NewText(s), err
	case operators.BooleanKind:
		b, err := readBool(r)
		return operators.NewBoolean(b), err
	}
	return operators.Value{}, fmt.Errorf("decode value: unknown kind %d", kind)
}

func writeAccumulator(w io.Writer, acc *aggr.Accumulator) error {
	for _, v := range []any{acc.Rows, acc.Count, acc.Sum, acc.Min, acc.Max} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return writeBool(w, acc.HasValue)
}

func readAccumulator(r io.Reader) (*aggr.Accumulator, error) {
	acc := aggr.NewAccumulator()
	for _, dst := range []any{&acc.Rows, &acc.Count, &acc.Sum, &acc.Min, &acc.Max} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, err
		}
	}
	var err error
	acc.HasValue, err = readBool(r)
	return acc, err
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeStrings(w io.Writer, ss []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r io.Reader) ([]string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeBool(w io.Writer, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func readBool(r io.Reader) (bool, error) {
	var v uint8
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return false, err
	}
	return v == 1, nil
}
