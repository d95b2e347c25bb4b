// Package protocol implements the wire codec and frame transport for the
// capability RPC connection.
//
// There are two layers here, both fixed by the spec rather than left to a
// pluggable Codec (see the codec package, which only handles user-level
// argument/return values):
//
//   - A pure, allocation-light binary encoding of ClientMessage/ServerMessage
//     (EncodeClient/DecodeClient, EncodeServer/DecodeServer below).
//   - Length-prefixed framing over a duplex byte stream (WriteFrame/ReadFrame).
//
// The earlier mini-RPC project needed a richer 14-byte header (magic number,
// version, codec selector, sequence number) because one connection carried
// many concurrently in-flight, arbitrarily-codec'd requests. This protocol
// allows exactly one outstanding call per connection and exactly one message
// type per direction, so that header collapses to a 4-byte length prefix.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/bx-d/nestrpc/message"
)

// ErrMalformed is returned by the Decode* functions when the input is not a
// valid encoding of the declared tag union.
var ErrMalformed = errors.New("protocol: malformed frame")

// MaxFrameSize bounds the length prefix so a corrupt length field fails fast
// with ErrMalformed instead of driving a multi-gigabyte allocation.
const MaxFrameSize = 16 << 20 // 16 MiB

// WriteFrame writes a length-prefixed frame: a 4-byte big-endian length
// followed by exactly that many payload bytes.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "protocol: write frame length")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "protocol: write frame body")
	}
	return nil
}

// ReadFrame reads one complete length-prefixed frame, blocking until the
// whole frame has arrived or the reader errors.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, errors.Wrapf(ErrMalformed, "frame length %d exceeds max %d", n, MaxFrameSize)
	}
	if n == 0 {
		return nil, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// EncodeClient serializes a ClientMessage to bytes.
func EncodeClient(msg message.ClientMessage) []byte {
	switch msg.Tag {
	case message.ClientDropService:
		buf := make([]byte, 1+8)
		buf[0] = byte(message.ClientDropService)
		binary.BigEndian.PutUint64(buf[1:9], uint64(msg.DropID))
		return buf
	case message.ClientCallMethod:
		total := 1 + 8 + 8 + 4 + len(msg.CallArgs)
		buf := make([]byte, total)
		buf[0] = byte(message.ClientCallMethod)
		binary.BigEndian.PutUint64(buf[1:9], uint64(msg.CallID))
		binary.BigEndian.PutUint64(buf[9:17], uint64(msg.Method))
		binary.BigEndian.PutUint32(buf[17:21], uint32(len(msg.CallArgs)))
		copy(buf[21:], msg.CallArgs)
		return buf
	default:
		panic("protocol: unknown ClientTag")
	}
}

// DecodeClient deserializes a ClientMessage from bytes, failing with
// ErrMalformed if data is not a valid encoding of the tag union.
func DecodeClient(data []byte) (message.ClientMessage, error) {
	if len(data) < 1 {
		return message.ClientMessage{}, errors.Wrap(ErrMalformed, "empty client message")
	}
	switch message.ClientTag(data[0]) {
	case message.ClientDropService:
		if len(data) != 1+8 {
			return message.ClientMessage{}, errors.Wrap(ErrMalformed, "DropService: wrong length")
		}
		id := binary.BigEndian.Uint64(data[1:9])
		return message.DropService(message.ServiceID(id)), nil
	case message.ClientCallMethod:
		if len(data) < 1+8+8+4 {
			return message.ClientMessage{}, errors.Wrap(ErrMalformed, "CallMethod: short header")
		}
		id := binary.BigEndian.Uint64(data[1:9])
		mid := binary.BigEndian.Uint64(data[9:17])
		argsLen := binary.BigEndian.Uint32(data[17:21])
		if uint64(len(data)-21) != uint64(argsLen) {
			return message.ClientMessage{}, errors.Wrap(ErrMalformed, "CallMethod: args length mismatch")
		}
		var args []byte
		if argsLen > 0 {
			args = make([]byte, argsLen)
			copy(args, data[21:])
		}
		return message.CallMethod(message.ServiceID(id), message.MethodID(mid), args), nil
	default:
		return message.ClientMessage{}, errors.Wrapf(ErrMalformed, "unknown client tag %d", data[0])
	}
}

// EncodeServer serializes a ServerMessage to bytes.
func EncodeServer(msg message.ServerMessage) []byte {
	switch msg.Tag {
	case message.ServerDropServiceDone:
		return []byte{byte(message.ServerDropServiceDone)}
	case message.ServerMethodReturned:
		rv := encodeReturnValue(msg.Return)
		buf := make([]byte, 1+len(rv))
		buf[0] = byte(message.ServerMethodReturned)
		copy(buf[1:], rv)
		return buf
	default:
		panic("protocol: unknown ServerTag")
	}
}

// DecodeServer deserializes a ServerMessage from bytes, failing with
// ErrMalformed if data is not a valid encoding of the tag union.
func DecodeServer(data []byte) (message.ServerMessage, error) {
	if len(data) < 1 {
		return message.ServerMessage{}, errors.Wrap(ErrMalformed, "empty server message")
	}
	switch message.ServerTag(data[0]) {
	case message.ServerDropServiceDone:
		if len(data) != 1 {
			return message.ServerMessage{}, errors.Wrap(ErrMalformed, "DropServiceDone: wrong length")
		}
		return message.DropServiceDone(), nil
	case message.ServerMethodReturned:
		rv, err := decodeReturnValue(data[1:])
		if err != nil {
			return message.ServerMessage{}, err
		}
		return message.MethodReturned(rv), nil
	default:
		return message.ServerMessage{}, errors.Wrapf(ErrMalformed, "unknown server tag %d", data[0])
	}
}

func encodeReturnValue(rv message.ReturnValue) []byte {
	switch rv.Kind {
	case message.ReturnData:
		buf := make([]byte, 1+4+len(rv.Data))
		buf[0] = byte(message.ReturnData)
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(rv.Data)))
		copy(buf[5:], rv.Data)
		return buf
	case message.ReturnService:
		buf := make([]byte, 1+8)
		buf[0] = byte(message.ReturnService)
		binary.BigEndian.PutUint64(buf[1:9], uint64(rv.Service))
		return buf
	default:
		panic("protocol: unknown ReturnKind")
	}
}

func decodeReturnValue(data []byte) (message.ReturnValue, error) {
	if len(data) < 1 {
		return message.ReturnValue{}, errors.Wrap(ErrMalformed, "empty return value")
	}
	switch message.ReturnKind(data[0]) {
	case message.ReturnData:
		if len(data) < 5 {
			return message.ReturnValue{}, errors.Wrap(ErrMalformed, "Data: short header")
		}
		n := binary.BigEndian.Uint32(data[1:5])
		if uint64(len(data)-5) != uint64(n) {
			return message.ReturnValue{}, errors.Wrap(ErrMalformed, "Data: length mismatch")
		}
		var payload []byte
		if n > 0 {
			payload = make([]byte, n)
			copy(payload, data[5:])
		}
		return message.Data(payload), nil
	case message.ReturnService:
		if len(data) != 1+8 {
			return message.ReturnValue{}, errors.Wrap(ErrMalformed, "Service: wrong length")
		}
		id := binary.BigEndian.Uint64(data[1:9])
		return message.Service(message.ServiceID(id)), nil
	default:
		return message.ReturnValue{}, errors.Wrapf(ErrMalformed, "unknown return kind %d", data[0])
	}
}
