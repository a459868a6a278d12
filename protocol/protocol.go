// Package protocol implements the binary framing for the registry
// control channel.
//
// A frame is a fixed 14-byte header followed by a variable-length body.
// The receiver reads the header first, learns the body length, then
// reads exactly that many bytes, so frame boundaries survive TCP's
// stream semantics.
//
// Frame layout:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...   │
//	│ nrp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// The seq field correlates a request with its response; both directions
// of the stream use it, so a server push (a request-shaped frame sent
// server-to-client) is answered with a response frame carrying the same
// seq.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "nrp" identify a registry protocol frame and let the
// server reject stray connections (health probes, HTTP clients) early.
const (
	magic0  byte = 0x6e // 'n'
	magic1  byte = 0x72 // 'r'
	magic2  byte = 0x70 // 'p'
	Version byte = 0x01

	// HeaderSize = 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) +
	// 4 (seq) + 4 (bodyLen).
	HeaderSize = 14
)

// MaxBodyLen bounds a single frame body. A header announcing more than
// this is treated as a protocol error rather than an allocation request.
const MaxBodyLen = 10 * 1024 * 1024

// MsgType distinguishes the three frame shapes on the stream.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // unary request, or server push when sent server-to-client
	MsgTypeResponse  MsgType = 1 // answer to a request frame with the same seq
	MsgTypeHeartbeat MsgType = 2 // keep-alive, no body, never answered
)

// Header is the decoded fixed-size frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Seq       uint32
	BodyLen   uint32
}

// Encode writes one complete frame to w. Writers sharing w must
// serialize calls externally or frames will interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize)
	buf[0], buf[1], buf[2] = magic0, magic1, magic2
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// Decode reads one complete frame from r, validating magic, version and
// message type. io.ReadFull guarantees full header and body reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, err
	}

	if buf[0] != magic0 || buf[1] != magic1 || buf[2] != magic2 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", buf[0:3])
	}
	if buf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported protocol version: %d", buf[3])
	}
	mt := MsgType(buf[5])
	if mt != MsgTypeRequest && mt != MsgTypeResponse && mt != MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", buf[5])
	}

	bodyLen := binary.BigEndian.Uint32(buf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}

	h := &Header{
		CodecType: buf[4],
		MsgType:   mt,
		Seq:       binary.BigEndian.Uint32(buf[6:10]),
		BodyLen:   bodyLen,
	}
	if bodyLen == 0 {
		return h, nil, nil
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
