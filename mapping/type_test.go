package mapping_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/fetchgraph/mapping"
)

func TestTypeNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		typ  mapping.Type
		in   any
		want any
	}{
		{"IntFromInt", mapping.TypeInt, 7, int64(7)},
		{"IntFromUint8", mapping.TypeInt, uint8(7), int64(7)},
		{"IntFromBytes", mapping.TypeInt, []byte("42"), int64(42)},
		{"IntFromFloat", mapping.TypeInt, float64(3), int64(3)},
		{"StringFromBytes", mapping.TypeString, []byte("abc"), "abc"},
		{"StringFromInt", mapping.TypeString, 12, "12"},
		{"FloatFromInt", mapping.TypeFloat, int64(2), float64(2)},
		{"FloatFromString", mapping.TypeFloat, "2.5", 2.5},
		{"BoolFromInt", mapping.TypeBool, int64(1), true},
		{"BoolFromBytes", mapping.TypeBool, []byte("f"), false},
		{"TimeFromString", mapping.TypeTime, "2024-03-01 10:30:00", ts},
		{"BytesFromString", mapping.TypeBytes, "ab", []byte("ab")},
		{"AnyFromBytes", mapping.TypeAny, []byte("x"), "x"},
		{"Null", mapping.TypeInt, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.typ.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypeNormalize_Errors(t *testing.T) {
	for _, tt := range []struct {
		typ mapping.Type
		in  any
	}{
		{mapping.TypeInt, 1.5},
		{mapping.TypeInt, "x"},
		{mapping.TypeInt, uint64(1 << 63)},
		{mapping.TypeBool, "maybe"},
		{mapping.TypeTime, 12},
		{mapping.TypeBytes, 12},
	} {
		_, err := tt.typ.Normalize(tt.in)
		assert.Error(t, err, "%s %v", tt.typ, tt.in)
	}
}

func TestTypeEqual(t *testing.T) {
	assert.True(t, mapping.TypeInt.Equal(int32(5), []byte("5")))
	assert.True(t, mapping.TypeString.Equal("dog", []byte("dog")))
	assert.False(t, mapping.TypeString.Equal("dog", "cat"))
	assert.True(t, mapping.TypeTime.Equal(
		time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600)),
	))
	assert.False(t, mapping.TypeInt.Equal("x", 1))
	k, err := mapping.TypeBytes.Key([]byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "\x01\x02", k)
}

func TestTuple(t *testing.T) {
	a, err := mapping.NewTuple(int64(1), "x")
	require.NoError(t, err)
	b, err := mapping.NewTuple(int64(1), "x")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Len())
	assert.True(t, a == b)
	assert.Equal(t, []any{int64(1), "x"}, a.Parts())
	assert.Equal(t, "(1, x)", a.String())

	m := map[any]bool{a: true}
	assert.True(t, m[b])

	_, err = mapping.NewTuple(1, 2, 3, 4, 5, 6, 7)
	assert.Error(t, err)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "int", mapping.TypeInt.String())
	assert.Equal(t, "type(99)", mapping.Type(99).String())
}
