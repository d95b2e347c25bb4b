package codec

import "encoding/json"

// JSONCodec uses the standard library's encoding/json. Kept as a second
// Codec implementation (as the teacher's codec package does) mainly so
// cross-codec tests and debugging tools have a human-readable option;
// production call paths use MsgpackCodec.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() Type {
	return TypeJSON
}
