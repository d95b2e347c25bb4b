package codec

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// msgpackHandle is shared across calls; codec.Handle implementations are
// safe for concurrent use once configured and are meant to be reused rather
// than constructed per-call.
var msgpackHandle = &codec.MsgpackHandle{}

// MsgpackCodec is the default value codec: a compact, schemaless binary
// format. It is the Go-idiomatic analogue of the rmp_serde (MessagePack)
// codec the framework this spec was distilled from uses for exactly the
// same job — serializing the positional argument tuple and the declared
// return value.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	dec := codec.NewDecoder(bytes.NewReader(data), msgpackHandle)
	return dec.Decode(v)
}

func (c *MsgpackCodec) Type() Type {
	return TypeMsgpack
}
