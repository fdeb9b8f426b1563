package expr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// filterMap builds rx://operators/map(rx://operators/filter(src, x => x > limit), label)
func filterMap(src string, limit int64, label string) Node {
	x := Param("x", TypeInt)
	return Call(Param("rx://operators/map", TypeFunc),
		Call(Param("rx://operators/filter", TypeFunc),
			Param(src, TypeAny),
			Fn(Call(Param("rx://operators/gt", TypeFunc), x, Const(limit)), x),
		),
		Const(label),
	)
}

func sampleNodes() map[string]Node {
	return map[string]Node{
		"null":    Const(nil),
		"bool":    Const(true),
		"int":     Const(int64(-42)),
		"float":   Const(3.25),
		"nan":     Const(math.NaN()),
		"string":  Const("héllo"),
		"bytes":   Const([]byte{0, 1, 2, 0xff}),
		"empty":   Const([]byte{}),
		"param":   Param("rx://streams/ticks", TypeAny),
		"lambda":  Fn(Param("y", TypeString), Param("y", TypeString)),
		"nullary": Fn(Const(1)),
		"query":   filterMap("rx://streams/ticks", 10, "big"),
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	for name, n := range sampleNodes() {
		t.Run(name, func(t *testing.T) {
			data, err := Marshal(n)
			require.NoError(t, err)

			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.True(t, Equal(n, got), "got %s, want %s", got, n)

			again, err := Marshal(got)
			require.NoError(t, err)
			assert.Equal(t, data, again, "encoding is not canonical")
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	for name, n := range sampleNodes() {
		if name == "nan" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			data, err := ToJSON(n)
			require.NoError(t, err)

			got, err := FromJSON(data)
			require.NoError(t, err)
			assert.True(t, Equal(n, got), "got %s, want %s", got, n)
		})
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	good, err := Marshal(filterMap("rx://s", 1, "a"))
	require.NoError(t, err)

	tests := map[string][]byte{
		"empty":       nil,
		"unknown tag": {0x09},
		"truncated":   good[:len(good)-3],
		"trailing":    append(append([]byte{}, good...), 0x00),
		"bad bool":    {byte(KindConstant), byte(TypeBool), 7},
		"huge length": {byte(KindConstant), byte(TypeString), 0xff, 0xff, 0x03},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(filterMap("a", 1, "x"), filterMap("a", 1, "x")))
	assert.False(t, Equal(filterMap("a", 1, "x"), filterMap("a", 2, "x")))
	assert.False(t, Equal(Const(int64(1)), Const(1.0)))
	assert.False(t, Equal(Param("a", TypeInt), Param("a", TypeString)))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(Const(1), nil))
}

func TestApply(t *testing.T) {
	a, b := Param("a", TypeInt), Param("b", TypeString)
	fn := Fn(Call(Param("f", TypeFunc), a, b, Fn(a, a)), a, b)

	got, err := Apply(fn, []Node{Const(7), Const("s")})
	require.NoError(t, err)
	want := Call(Param("f", TypeFunc), Const(7), Const("s"), Fn(a, a))
	assert.True(t, Equal(want, got), "got %s", got)

	_, err = Apply(fn, []Node{Const(7)})
	assert.ErrorIs(t, err, ErrArity)

	_, err = Apply(fn, []Node{Const("7"), Const("s")})
	assert.ErrorIs(t, err, ErrArgType)
}

func TestFreeParameters(t *testing.T) {
	free := FreeParameters(filterMap("rx://streams/ticks", 1, "a"))
	names := make([]string, len(free))
	for i, p := range free {
		names[i] = p.Name
	}
	assert.Equal(t, []string{
		"rx://operators/map",
		"rx://operators/filter",
		"rx://streams/ticks",
		"rx://operators/gt",
	}, names)
}

func TestString(t *testing.T) {
	n := Fn(Call(Param("f", TypeFunc), Param("x", TypeAny), Const("a"), Const(2)), Param("x", TypeAny))
	assert.Equal(t, `(x) => f(x, "a", 2)`, n.String())
}
