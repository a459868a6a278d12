package codec

import "encoding/json"

// JSONCodec is the default wire format: interoperable and easy to
// inspect on the wire.
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
