package common

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Value carries a type tag and the corresponding typed payload. It is
// the unit of computation in predicates, set clauses and aggregation;
// records on disk are the serialized concatenation of column values.
type Value struct {
	Type ColType

	intVal    int32
	bigintVal int64
	floatVal  float32
	strVal    string
}

// NewIntValue creates an INT Value.
func NewIntValue(v int32) Value {
	return Value{Type: TypeInt, intVal: v}
}

// NewBigintValue creates a BIGINT Value.
func NewBigintValue(v int64) Value {
	return Value{Type: TypeBigint, bigintVal: v}
}

// NewFloatValue creates a FLOAT Value.
func NewFloatValue(v float32) Value {
	return Value{Type: TypeFloat, floatVal: v}
}

// NewStringValue creates a STRING Value.
func NewStringValue(v string) Value {
	return Value{Type: TypeString, strVal: v}
}

// NewDatetimeValue creates a DATETIME Value from its 19-byte ASCII
// representation. The caller validates the string first.
func NewDatetimeValue(v string) Value {
	return Value{Type: TypeDatetime, strVal: v}
}

// IntValue returns the underlying INT payload.
func (v Value) IntValue() int32 {
	Assert(v.Type == TypeInt, "type mismatch in IntValue")
	return v.intVal
}

// BigintValue returns the underlying BIGINT payload.
func (v Value) BigintValue() int64 {
	Assert(v.Type == TypeBigint, "type mismatch in BigintValue")
	return v.bigintVal
}

// FloatValue returns the underlying FLOAT payload.
func (v Value) FloatValue() float32 {
	Assert(v.Type == TypeFloat, "type mismatch in FloatValue")
	return v.floatVal
}

// StringValue returns the underlying STRING or DATETIME payload.
func (v Value) StringValue() string {
	Assert(v.Type == TypeString || v.Type == TypeDatetime, "type mismatch in StringValue")
	return v.strVal
}

// CoerceTo converts the value to the target type where an implicit
// conversion exists. The only supported coercion is INT -> BIGINT.
func (v Value) CoerceTo(target ColType) (Value, error) {
	if v.Type == target {
		return v, nil
	}
	if v.Type == TypeInt && target == TypeBigint {
		return NewBigintValue(int64(v.intVal)), nil
	}
	return Value{}, NewError(IncompatibleType, "cannot convert %s to %s", v.Type, target)
}

// Compare orders two values of the same type. It returns a negative,
// zero or positive result, or IncompatibleType when the types differ.
func (v Value) Compare(other Value) (int, error) {
	if v.Type != other.Type {
		return 0, NewError(IncompatibleType, "cannot compare %s with %s", v.Type, other.Type)
	}
	switch v.Type {
	case TypeInt:
		return cmpOrdered(v.intVal, other.intVal), nil
	case TypeBigint:
		return cmpOrdered(v.bigintVal, other.bigintVal), nil
	case TypeFloat:
		return cmpOrdered(v.floatVal, other.floatVal), nil
	case TypeString, TypeDatetime:
		return bytes.Compare([]byte(v.strVal), []byte(other.strVal)), nil
	}
	panic("unreachable")
}

func cmpOrdered[T int32 | int64 | float32](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Add returns v + other for numeric types. Integer arithmetic wraps in
// two's complement.
func (v Value) Add(other Value) (Value, error) {
	if v.Type != other.Type {
		return Value{}, NewError(IncompatibleType, "cannot add %s and %s", v.Type, other.Type)
	}
	switch v.Type {
	case TypeInt:
		return NewIntValue(v.intVal + other.intVal), nil
	case TypeBigint:
		return NewBigintValue(v.bigintVal + other.bigintVal), nil
	case TypeFloat:
		return NewFloatValue(v.floatVal + other.floatVal), nil
	}
	return Value{}, NewError(IncompatibleType, "arithmetic on non-numeric type %s", v.Type)
}

// Sub returns v - other for numeric types.
func (v Value) Sub(other Value) (Value, error) {
	if v.Type != other.Type {
		return Value{}, NewError(IncompatibleType, "cannot subtract %s and %s", v.Type, other.Type)
	}
	switch v.Type {
	case TypeInt:
		return NewIntValue(v.intVal - other.intVal), nil
	case TypeBigint:
		return NewBigintValue(v.bigintVal - other.bigintVal), nil
	case TypeFloat:
		return NewFloatValue(v.floatVal - other.floatVal), nil
	}
	return Value{}, NewError(IncompatibleType, "arithmetic on non-numeric type %s", v.Type)
}

// WriteTo serializes the value into dst using the declared column
// width. STRING values shorter than the column are zero-padded; longer
// values raise StringOverflow.
func (v Value) WriteTo(dst []byte, colLen int) error {
	Assert(len(dst) >= colLen, "buffer too small for value of width %d", colLen)
	switch v.Type {
	case TypeInt:
		binary.LittleEndian.PutUint32(dst, uint32(v.intVal))
	case TypeBigint:
		binary.LittleEndian.PutUint64(dst, uint64(v.bigintVal))
	case TypeFloat:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(v.floatVal))
	case TypeString:
		if len(v.strVal) > colLen {
			return NewError(StringOverflow, "string of length %d exceeds column width %d", len(v.strVal), colLen)
		}
		n := copy(dst, v.strVal)
		for i := n; i < colLen; i++ {
			dst[i] = 0
		}
	case TypeDatetime:
		Assert(len(v.strVal) == DatetimeLen, "datetime value must be %d bytes", DatetimeLen)
		copy(dst, v.strVal)
	}
	return nil
}

// ReadValue deserializes a value of the given type and width from src.
func ReadValue(t ColType, src []byte, colLen int) Value {
	Assert(len(src) >= colLen, "buffer too small for value of width %d", colLen)
	switch t {
	case TypeInt:
		return NewIntValue(int32(binary.LittleEndian.Uint32(src)))
	case TypeBigint:
		return NewBigintValue(int64(binary.LittleEndian.Uint64(src)))
	case TypeFloat:
		return NewFloatValue(math.Float32frombits(binary.LittleEndian.Uint32(src)))
	case TypeString:
		raw := src[:colLen]
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		return NewStringValue(string(raw))
	case TypeDatetime:
		return NewDatetimeValue(string(src[:DatetimeLen]))
	}
	panic("unreachable")
}

// CompareBytes compares two serialized column values of the same type
// without materializing Values. Integers compare signed, floats by
// IEEE ordering, strings and datetimes bytewise over the full width.
func CompareBytes(a, b []byte, t ColType, colLen int) int {
	switch t {
	case TypeInt:
		return cmpOrdered(int32(binary.LittleEndian.Uint32(a)), int32(binary.LittleEndian.Uint32(b)))
	case TypeBigint:
		return cmpOrdered(int64(binary.LittleEndian.Uint64(a)), int64(binary.LittleEndian.Uint64(b)))
	case TypeFloat:
		return cmpOrdered(math.Float32frombits(binary.LittleEndian.Uint32(a)), math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case TypeString, TypeDatetime:
		return bytes.Compare(a[:colLen], b[:colLen])
	}
	panic("unreachable")
}

// MinValueBytes fills dst with the smallest serialized value of the
// type; MaxValueBytes with a sentinel sorting above every valid value.
// The 0xFF string fill is only a range boundary, never stored data.
func MinValueBytes(dst []byte, t ColType, colLen int) {
	switch t {
	case TypeInt:
		var minInt32 int32 = math.MinInt32
		binary.LittleEndian.PutUint32(dst, uint32(minInt32))
	case TypeBigint:
		var minInt64 int64 = math.MinInt64
		binary.LittleEndian.PutUint64(dst, uint64(minInt64))
	case TypeFloat:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(math.Inf(-1))))
	case TypeString, TypeDatetime:
		for i := 0; i < colLen; i++ {
			dst[i] = 0
		}
	}
}

// MaxValueBytes fills dst with the largest serialized value of the type.
func MaxValueBytes(dst []byte, t ColType, colLen int) {
	switch t {
	case TypeInt:
		binary.LittleEndian.PutUint32(dst, uint32(math.MaxInt32))
	case TypeBigint:
		binary.LittleEndian.PutUint64(dst, uint64(math.MaxInt64))
	case TypeFloat:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(math.Inf(1))))
	case TypeString, TypeDatetime:
		for i := 0; i < colLen; i++ {
			dst[i] = 0xFF
		}
	}
}
