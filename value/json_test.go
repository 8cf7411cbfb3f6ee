package value

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphmesh/errors"
)

func TestFromJSONBasics(t *testing.T) {
	v, err := FromJSON(`{"name":"echo","count":3,"ratio":0.5,"on":true,"tags":["a","b"]}`)
	require.NoError(t, err)

	s, err := v.Peek("name").GetString()
	require.NoError(t, err)
	assert.Equal(t, "echo", s)

	// Integers widen to int64 on parse.
	n, err := v.Peek("count").GetInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	f, err := v.Peek("ratio").GetFloat64()
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)

	b, err := v.Peek("on").GetBool()
	require.NoError(t, err)
	assert.True(t, b)

	length, err := v.Peek("tags").ArrayLen()
	require.NoError(t, err)
	assert.Equal(t, 2, length)
}

func TestFromJSONErrors(t *testing.T) {
	_, err := FromJSON(`{"broken":`)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParseError)

	_, err = FromJSON(`{} trailing`)
	assert.ErrorIs(t, err, errors.ErrParseError)
}

func TestToJSONStableKeyOrder(t *testing.T) {
	obj := NewObject()
	require.NoError(t, obj.ObjectSet("zebra", NewInt64(1)))
	require.NoError(t, obj.ObjectSet("apple", NewInt64(2)))

	text, err := obj.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"zebra":1,"apple":2}`, text)
}

func TestJSONRoundTrip(t *testing.T) {
	cases := map[string]string{
		"object":  `{"a":1,"b":{"c":[true,false],"d":"x"}}`,
		"array":   `[1,2.5,"three"]`,
		"string":  `"hello"`,
		"bool":    `true`,
		"int":     `42`,
		"bigint":  `9223372036854775807`,
		"float":   `1.25`,
		"escapes": `"line\nbreak"`,
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := FromJSON(text)
			require.NoError(t, err)

			out, err := v.ToJSON()
			require.NoError(t, err)

			again, err := FromJSON(out)
			require.NoError(t, err)
			if !v.Equals(again) {
				t.Errorf("round trip mismatch:\n%s", cmp.Diff(text, out))
			}
		})
	}
}

func TestBufRoundTrip(t *testing.T) {
	obj := NewObject()
	require.NoError(t, obj.ObjectSet("payload", NewBuf([]byte{0xDE, 0xAD, 0xBE, 0xEF})))

	text, err := obj.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"payload":"@buf:deadbeef"}`, text)

	back, err := FromJSON(text)
	require.NoError(t, err)
	raw, err := back.Peek("payload").GetBuf()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, raw)
}

func TestFloatWholeNumberStaysFloat(t *testing.T) {
	obj := NewObject()
	require.NoError(t, obj.ObjectSet("f", NewFloat64(5)))

	text, err := obj.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"f":5.0}`, text)

	back, err := FromJSON(text)
	require.NoError(t, err)
	assert.Equal(t, TypeFloat64, back.Peek("f").Type())
}

func TestPtrOmittedFromJSON(t *testing.T) {
	obj := NewObject()
	require.NoError(t, obj.ObjectSet("keep", NewInt64(1)))
	require.NoError(t, obj.ObjectSet("handle", NewPtr(struct{}{}, PtrCallbacks{})))

	text, err := obj.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"keep":1}`, text)
}

func TestUint64BeyondInt64Range(t *testing.T) {
	v, err := FromJSON(`{"big":18446744073709551615}`)
	require.NoError(t, err)

	u, err := v.Peek("big").GetUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), u)
}
