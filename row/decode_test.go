package row

import (
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDecodeCoercions(t *testing.T) {
	require.Equal(t, int64(7), Decode[int64](IntValue(7)))
	require.Equal(t, int64(7), Decode[int64](FloatValue(7.0)))
	require.Equal(t, 7, Decode[int](IntValue(7)))
	require.Equal(t, int32(-7), Decode[int32](IntValue(-7)))
	require.Equal(t, uint8(255), Decode[uint8](IntValue(255)))
	require.Equal(t, uint64(1), Decode[uint64](IntValue(1)))
	require.Equal(t, 7.0, Decode[float64](IntValue(7)))
	require.Equal(t, float32(2.5), Decode[float32](FloatValue(2.5)))
	require.Equal(t, true, Decode[bool](IntValue(2)))
	require.Equal(t, false, Decode[bool](FloatValue(0)))
	require.Equal(t, "text", Decode[string](TextValue("text")))
	require.Equal(t, "blob", Decode[string](BlobValue([]byte("blob"))))
	require.Equal(t, []byte("text"), Decode[[]byte](TextValue("text")))
	require.Equal(t, []byte{1, 2}, Decode[[]byte](BlobValue([]byte{1, 2})))
	require.True(t, NullValue().Equal(Decode[Value](NullValue())))
	require.Equal(t, celsius(21.5), Decode[celsius](TextValue("21.5C")))
}

func TestDecodeFailuresPanic(t *testing.T) {
	var cases = []struct {
		fn     func()
		expect string
	}{
		{func() { Decode[int64](NullValue()) }, "could not decode NULL as int64: unexpected NULL"},
		{func() { Decode[int64](TextValue("1")) }, `could not decode "1" as int64: incompatible storage class TEXT`},
		{func() { Decode[int64](FloatValue(1.5)) }, "could not decode 1.5 as int64: real has no exact integer representation"},
		{func() { Decode[int64](FloatValue(math.Inf(1))) }, "could not decode +Inf as int64: real has no exact integer representation"},
		{func() { Decode[int8](IntValue(300)) }, "could not decode 300 as int8: integer out of range"},
		{func() { Decode[uint32](IntValue(-1)) }, "could not decode -1 as uint32: integer out of range"},
		{func() { Decode[string](BlobValue([]byte{0xff})) }, "could not decode x'ff' as string: blob is not valid UTF-8"},
		{func() { Decode[string](IntValue(1)) }, "could not decode 1 as string: incompatible storage class INTEGER"},
		{func() { Decode[float64](TextValue("1.0")) }, `could not decode "1.0" as float64: incompatible storage class TEXT`},
		{func() { Decode[struct{}](IntValue(1)) }, "could not decode 1 as struct {}: unsupported target type"},
		{func() { Decode[celsius](TextValue("hot")) }, `could not decode "hot" as row.celsius: not a temperature`},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expect, recoverDecodeError(t, tc.fn).Error())
	}
}

func TestDecodeOptionalForms(t *testing.T) {
	var v, ok = DecodeOptional[int64](NullValue())
	require.False(t, ok)
	require.Zero(t, v)

	v, ok = DecodeOptional[int64](IntValue(3))
	require.True(t, ok)
	require.Equal(t, int64(3), v)

	// Optional decodes still panic on incompatible values.
	recoverDecodeError(t, func() { DecodeOptional[int64](TextValue("x")) })

	// A Value target decodes NULL as present.
	_, ok = DecodeOptional[Value](NullValue())
	require.True(t, ok)
}

func TestRowDecodeByIndexAndName(t *testing.T) {
	var r = New([]string{"id", "Score", "note"},
		[]Value{IntValue(1), FloatValue(9.5), NullValue()})

	require.Equal(t, int64(1), Get[int64](r, 0))
	require.Equal(t, 9.5, Named[float64](r, "score"))

	var note, ok = NamedOptional[string](r, "NOTE")
	require.False(t, ok)
	require.Empty(t, note)

	_, ok = NamedOptional[string](r, "missing")
	require.False(t, ok)

	score, ok := GetOptional[float64](r, 1)
	require.True(t, ok)
	require.Equal(t, 9.5, score)

	require.Equal(t, `could not decode NULL (column "note") as string: unexpected NULL`,
		recoverDecodeError(t, func() { Get[string](r, 2) }).Error())
	require.Equal(t, `could not decode NULL (column "absent") as int: no such column`,
		recoverDecodeError(t, func() { Named[int](r, "absent") }).Error())

	// Index errors aren't decode errors.
	require.Panics(t, func() { Get[int](r, 3) })
}

func recoverDecodeError(t *testing.T, fn func()) (out *DecodeError) {
	defer func() {
		var ok bool
		out, ok = recover().(*DecodeError)
		require.True(t, ok, "expected a DecodeError panic")
	}()
	fn()
	return nil
}

type celsius float64

func (c *celsius) DecodeValue(v Value) error {
	var s, ok = v.Text()
	if !ok || !strings.HasSuffix(s, "C") {
		return errors.New("not a temperature")
	}
	var f, err = strconv.ParseFloat(strings.TrimSuffix(s, "C"), 64)
	*c = celsius(f)
	return err
}
