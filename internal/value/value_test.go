package value

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualScalars(t *testing.T) {
	assert.True(t, Equal(Int32(1), Int32(1)))
	assert.False(t, Equal(Int32(1), Int32(2)))
	assert.True(t, Equal(Null(), Null()))
	assert.False(t, Equal(Null(), Int32(0)))
	assert.True(t, Equal(String("a"), String("a")))
	assert.True(t, Equal(Enum("Admin"), Enum("Admin")))
}

func TestEqualComposites(t *testing.T) {
	a := Vec([]Value{Int32(1), Int32(2)})
	b := Vec([]Value{Int32(1), Int32(2)})
	c := Vec([]Value{Int32(1), Int32(3)})
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))

	m1 := Map(map[string]Value{"x": Int32(1)})
	m2 := Map(map[string]Value{"x": Int32(1)})
	m3 := Map(map[string]Value{"x": Int32(2)})
	assert.True(t, Equal(m1, m2))
	assert.False(t, Equal(m1, m3))
}

func TestLessOrdersScalars(t *testing.T) {
	assert.True(t, Less(Int32(1), Int32(2)))
	assert.False(t, Less(Int32(2), Int32(1)))
	assert.True(t, Less(String("a"), String("b")))

	d1 := Decimal(decimal.NewFromInt(1))
	d2 := Decimal(decimal.NewFromInt(2))
	assert.True(t, Less(d1, d2))

	t1 := Date(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	t2 := Date(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, Less(t1, t2))
}

func TestMarshalJSON(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Null(), "null"},
		{Bool(true), "true"},
		{Int32(5), "5"},
		{String("hi"), `"hi"`},
		{Enum("Admin"), `"Admin"`},
	}
	for _, c := range cases {
		b, err := json.Marshal(c.v)
		require.NoError(t, err)
		assert.Equal(t, c.want, string(b))
	}
}

func TestMarshalJSONDecimalAsString(t *testing.T) {
	b, err := json.Marshal(Decimal(decimal.NewFromFloat(1.5)))
	require.NoError(t, err)
	assert.Equal(t, `"1.5"`, string(b))
}

func TestMarshalJSONDateTime(t *testing.T) {
	dt := DateTime(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC))
	b, err := json.Marshal(dt)
	require.NoError(t, err)
	assert.Contains(t, string(b), "2024-03-04T05:06:07")
}

func TestFromJSONScalarCoercion(t *testing.T) {
	v, err := FromJSON(true, KindBool)
	require.NoError(t, err)
	assert.Equal(t, KindBool, v.Kind())
	assert.True(t, v.Bool())

	v, err = FromJSON(float64(42), KindInt32)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v.Int32())

	v, err = FromJSON(nil, KindString)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestFromJSONTypeMismatch(t *testing.T) {
	_, err := FromJSON("not-a-bool", KindBool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected bool")
}

func TestFromJSONDecimalFromStringOrFloat(t *testing.T) {
	v, err := FromJSON("12.34", KindDecimal)
	require.NoError(t, err)
	assert.True(t, v.Decimal().Equal(decimal.RequireFromString("12.34")))

	v, err = FromJSON(float64(12.5), KindDecimal)
	require.NoError(t, err)
	assert.True(t, v.Decimal().Equal(decimal.NewFromFloat(12.5)))
}

func TestFromJSONDateRoundTrip(t *testing.T) {
	v, err := FromJSON("2024-03-04", KindDate)
	require.NoError(t, err)
	assert.Equal(t, 2024, v.Date().Year())

	_, err = FromJSON("not-a-date", KindDate)
	require.Error(t, err)
}

func TestSortKeys(t *testing.T) {
	m := map[string]Value{"b": Int32(1), "a": Int32(2), "c": Int32(3)}
	assert.Equal(t, []string{"a", "b", "c"}, SortKeys(m))
}
