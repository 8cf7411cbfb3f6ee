package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphmesh/errors"
)

func TestZeroValueIsInvalid(t *testing.T) {
	var v Value
	assert.Equal(t, TypeInvalid, v.Type())
	assert.False(t, v.IsValid())

	assert.True(t, NewBool(true).IsValid())
}

func TestTypeFromString(t *testing.T) {
	for tt := TypeBool; tt <= TypeObject; tt++ {
		assert.Equal(t, tt, TypeFromString(tt.String()))
	}
	assert.Equal(t, TypeInvalid, TypeFromString("no-such-type"))
}

func TestScalarGetters(t *testing.T) {
	b, err := NewBool(true).GetBool()
	require.NoError(t, err)
	assert.True(t, b)

	s, err := NewString("hello").GetString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	_, err = NewString("hello").GetBool()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestIntegerWidening(t *testing.T) {
	v8 := NewInt8(-7)

	i16, err := v8.GetInt16()
	require.NoError(t, err)
	assert.Equal(t, int16(-7), i16)

	i64, err := v8.GetInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-7), i64)

	// Narrowing is a type mismatch, even when the payload would fit.
	_, err = NewInt64(1).GetInt32()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	// Cross-signedness never widens.
	_, err = NewUint8(1).GetInt64()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
	_, err = NewInt8(1).GetUint64()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestUnsignedWidening(t *testing.T) {
	v := NewUint16(40000)

	u32, err := v.GetUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(40000), u32)

	u64, err := v.GetUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(40000), u64)

	_, err = NewUint64(1).GetUint16()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestFloatWidening(t *testing.T) {
	f64, err := NewFloat32(1.5).GetFloat64()
	require.NoError(t, err)
	assert.Equal(t, 1.5, f64)

	// Integers widen into a strictly larger float mantissa only.
	f64, err = NewInt32(1 << 20).GetFloat64()
	require.NoError(t, err)
	assert.Equal(t, float64(1<<20), f64)

	_, err = NewInt64(1).GetFloat64()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	f32, err := NewInt16(300).GetFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(300), f32)

	_, err = NewInt32(1).GetFloat32()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)

	// Floats never narrow.
	_, err = NewFloat64(1.5).GetFloat32()
	assert.ErrorIs(t, err, errors.ErrTypeMismatch)
}

func TestBufOwnership(t *testing.T) {
	src := []byte{1, 2, 3}
	v := NewBuf(src)
	src[0] = 99

	got, err := v.GetBuf()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got, "buffer must own a copy of its bytes")
}

func TestObjectInsertionOrder(t *testing.T) {
	obj := NewObject()
	require.NoError(t, obj.ObjectSet("zebra", NewInt64(1)))
	require.NoError(t, obj.ObjectSet("apple", NewInt64(2)))
	require.NoError(t, obj.ObjectSet("mango", NewInt64(3)))

	keys, err := obj.ObjectKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "apple", "mango"}, keys)

	// Replacing a member keeps its original position.
	require.NoError(t, obj.ObjectSet("apple", NewInt64(20)))
	keys, err = obj.ObjectKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "apple", "mango"}, keys)

	require.NoError(t, obj.ObjectDelete("zebra"))
	keys, err = obj.ObjectKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "mango"}, keys)
}

func TestCloneSharesNothing(t *testing.T) {
	obj := NewObject()
	require.NoError(t, obj.ObjectSet("nested", NewObject()))
	nested := obj.Peek("nested")
	require.NoError(t, nested.ObjectSet("n", NewInt64(1)))
	require.NoError(t, obj.ObjectSet("buf", NewBuf([]byte{9})))
	require.NoError(t, obj.ObjectSet("arr", NewArray(NewString("x"))))

	clone := obj.Clone()
	require.True(t, clone.Equals(obj))

	// Mutating the original must not show through the clone.
	require.NoError(t, nested.ObjectSet("n", NewInt64(2)))
	cloneN := clone.Peek("nested.n")
	require.NotNil(t, cloneN)
	n, err := cloneN.GetInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPtrRefCounting(t *testing.T) {
	destructed := 0
	copied := 0
	handle := &struct{ name string }{name: "resource"}

	v := NewPtr(handle, PtrCallbacks{
		Copy:     func(any) any { copied++; return handle },
		Destruct: func(any) { destructed++ },
	})

	got, err := v.GetPtr()
	require.NoError(t, err)
	assert.Same(t, handle, got)

	clone := v.Clone()
	assert.Equal(t, 1, copied)
	assert.Equal(t, 0, destructed)

	v.Release()
	assert.Equal(t, 0, destructed, "one reference still outstanding")

	clone.Release()
	assert.Equal(t, 1, destructed, "destruct fires on last release")
}

func TestEquals(t *testing.T) {
	assert.True(t, NewInt64(5).Equals(NewInt64(5)))
	assert.False(t, NewInt64(5).Equals(NewInt32(5)), "different variants are unequal")
	assert.False(t, NewInt64(5).Equals(NewUint64(5)))

	a := NewArray(NewString("a"), NewBool(true))
	b := NewArray(NewString("a"), NewBool(true))
	assert.True(t, a.Equals(b))

	require.NoError(t, b.ArrayAppend(NewInt64(1)))
	assert.False(t, a.Equals(b))
}
