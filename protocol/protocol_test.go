package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bx-d/nestrpc/message"
)

func TestClientMessageRoundTrip(t *testing.T) {
	cases := []message.ClientMessage{
		message.DropService(42),
		message.CallMethod(7, 3, []byte("args")),
		message.CallMethod(0, 0, nil),
	}
	for _, msg := range cases {
		got, err := DecodeClient(EncodeClient(msg))
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	cases := []message.ServerMessage{
		message.DropServiceDone(),
		message.MethodReturned(message.Data([]byte("reply"))),
		message.MethodReturned(message.Data(nil)),
		message.MethodReturned(message.Service(123)),
	}
	for _, msg := range cases {
		got, err := DecodeServer(EncodeServer(msg))
		require.NoError(t, err)
		require.Equal(t, msg, got)
	}
}

func TestDecodeClientMalformed(t *testing.T) {
	_, err := DecodeClient(nil)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeClient([]byte{99})
	require.ErrorIs(t, err, ErrMalformed)

	// CallMethod header claims more arg bytes than are present.
	buf := EncodeClient(message.CallMethod(1, 2, []byte("xy")))
	_, err = DecodeClient(buf[:len(buf)-1])
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeServerMalformed(t *testing.T) {
	_, err := DecodeServer(nil)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeServer([]byte{200})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello nested capability")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	// Claim a body far larger than MaxFrameSize without actually writing it.
	for i := range lenBuf {
		lenBuf[i] = 0xff
	}
	buf.Write(lenBuf[:])

	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrMalformed)
}
