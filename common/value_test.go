package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueCompareSameType(t *testing.T) {
	cmp, err := NewIntValue(1).Compare(NewIntValue(2))
	require.NoError(t, err)
	assert.Negative(t, cmp)

	cmp, err = NewStringValue("abc").Compare(NewStringValue("abc"))
	require.NoError(t, err)
	assert.Zero(t, cmp)

	cmp, err = NewFloatValue(2.5).Compare(NewFloatValue(-1))
	require.NoError(t, err)
	assert.Positive(t, cmp)
}

func TestValueCompareCrossTypeFails(t *testing.T) {
	_, err := NewIntValue(1).Compare(NewStringValue("1"))
	require.Error(t, err)
	assert.True(t, IsCode(err, IncompatibleType))
}

func TestValueCoerceIntToBigint(t *testing.T) {
	v, err := NewIntValue(-7).CoerceTo(TypeBigint)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), v.BigintValue())

	_, err = NewBigintValue(7).CoerceTo(TypeInt)
	assert.True(t, IsCode(err, IncompatibleType))
}

func TestValueSerializationRoundTrip(t *testing.T) {
	buf := make([]byte, 16)

	require.NoError(t, NewIntValue(-42).WriteTo(buf, 4))
	assert.Equal(t, int32(-42), ReadValue(TypeInt, buf, 4).IntValue())

	require.NoError(t, NewStringValue("ab").WriteTo(buf, 8))
	assert.Equal(t, "ab", ReadValue(TypeString, buf, 8).StringValue())
	// Zero padding after the payload.
	assert.Equal(t, byte(0), buf[2])
}

func TestStringOverflow(t *testing.T) {
	buf := make([]byte, 4)
	err := NewStringValue("too long").WriteTo(buf, 4)
	require.Error(t, err)
	assert.True(t, IsCode(err, StringOverflow))
}

func TestCompareBytesSignedIntegers(t *testing.T) {
	a := make([]byte, 4)
	b := make([]byte, 4)
	require.NoError(t, NewIntValue(-1).WriteTo(a, 4))
	require.NoError(t, NewIntValue(1).WriteTo(b, 4))
	assert.Negative(t, CompareBytes(a, b, TypeInt, 4))
}

func TestStringBoundSentinelOrdersLast(t *testing.T) {
	max := make([]byte, 4)
	MaxValueBytes(max, TypeString, 4)
	val := make([]byte, 4)
	require.NoError(t, NewStringValue("zzzz").WriteTo(val, 4))
	assert.Positive(t, CompareBytes(max, val, TypeString, 4))
}

func TestValidateDatetime(t *testing.T) {
	assert.True(t, ValidateDatetime("2023-06-01 12:30:45"))
	assert.True(t, ValidateDatetime("1000-01-01 00:00:00"))
	assert.True(t, ValidateDatetime("9999-12-31 23:59:59"))

	assert.False(t, ValidateDatetime("0999-12-31 23:59:59"))
	assert.False(t, ValidateDatetime("2023-13-01 00:00:00"))
	assert.False(t, ValidateDatetime("2023-02-30 00:00:00"))
	assert.False(t, ValidateDatetime("2023-06-01 24:00:00"))
	assert.False(t, ValidateDatetime("2023-06-01"))

	// Lenient month-length policy: only Feb-30 is rejected explicitly.
	assert.True(t, ValidateDatetime("2023-04-31 00:00:00"))
}

func TestArithmeticWraps(t *testing.T) {
	sum, err := NewBigintValue(1<<63 - 1).Add(NewBigintValue(1))
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<63), sum.BigintValue())
}
