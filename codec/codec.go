// Package codec provides the payload serialization formats carried
// inside protocol frames. The codec byte travels in every frame header,
// so the receiver decodes each frame with the codec its sender chose.
package codec

// Type selects a serialization format.
type Type byte

const (
	TypeJSON Type = 0
	TypeGob  Type = 1
)

// Codec serializes envelope payloads.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() Type
}

// Get returns the codec for the given type byte. Unknown bytes fall back
// to JSON, which matches the zero value of Type.
func Get(t Type) Codec {
	if t == TypeGob {
		return &GobCodec{}
	}
	return &JSONCodec{}
}
