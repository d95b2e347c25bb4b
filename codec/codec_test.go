package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fooRecord struct {
	X int32
	Y barRecord
}

type barRecord struct {
	Z int32
}

func TestMsgpackRoundTrip(t *testing.T) {
	c := Get(TypeMsgpack)
	require.Equal(t, TypeMsgpack, c.Type())

	in := fooRecord{X: 80, Y: barRecord{Z: 7}}
	data, err := c.Encode(in)
	require.NoError(t, err)

	var out fooRecord
	require.NoError(t, c.Decode(data, &out))
	require.Equal(t, in, out)
}

func TestMsgpackRoundTripPrimitive(t *testing.T) {
	c := Get(TypeMsgpack)
	var out int32
	data, err := c.Encode(int32(-12345))
	require.NoError(t, err)
	require.NoError(t, c.Decode(data, &out))
	require.Equal(t, int32(-12345), out)
}

func TestJSONRoundTrip(t *testing.T) {
	c := Get(TypeJSON)
	require.Equal(t, TypeJSON, c.Type())

	in := fooRecord{X: 1, Y: barRecord{Z: 2}}
	data, err := c.Encode(in)
	require.NoError(t, err)

	var out fooRecord
	require.NoError(t, c.Decode(data, &out))
	require.Equal(t, in, out)
}

func TestMsgpackMalformed(t *testing.T) {
	c := Get(TypeMsgpack)
	var out fooRecord
	err := c.Decode([]byte{0xff, 0xff, 0xff}, &out)
	require.Error(t, err)
}
