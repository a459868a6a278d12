package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: 0,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
		BodyLen:   11,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decoded.CodecType, header.CodecType)
	}
	if decoded.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %d, want %d", decoded.MsgType, header.MsgType)
	}
	if decoded.Seq != header.Seq {
		t.Errorf("Seq mismatch: got %d, want %d", decoded.Seq, header.Seq)
	}
	if decoded.BodyLen != header.BodyLen {
		t.Errorf("BodyLen mismatch: got %d, want %d", decoded.BodyLen, header.BodyLen)
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %q, want %q", decodedBody, body)
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, Version, 0, byte(MsgTypeRequest), 0, 0, 0, 0, 0x30, 0x39, 0x00, 0x00})

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("expected error for invalid magic number, got nil")
	}
}

func TestDecodeWrongVersion(t *testing.T) {
	header := Header{MsgType: MsgTypeRequest, Seq: 1, BodyLen: 0}
	var buf bytes.Buffer
	if err := Encode(&buf, &header, nil); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	raw[3] = Version + 1

	_, _, err := Decode(bytes.NewReader(raw))
	if err == nil {
		t.Fatal("expected error for wrong version, got nil")
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	header := Header{
		MsgType: MsgTypeHeartbeat,
		Seq:     7,
		BodyLen: 0,
	}
	var buf bytes.Buffer
	if err := Encode(&buf, &header, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, body, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.MsgType != MsgTypeHeartbeat {
		t.Errorf("MsgType mismatch: got %d, want %d", decoded.MsgType, MsgTypeHeartbeat)
	}
	if len(body) != 0 {
		t.Errorf("expected empty body, got %d bytes", len(body))
	}
}

func TestDecodeTruncatedHeader(t *testing.T) {
	buf := bytes.NewReader([]byte{0x6e, 0x72, 0x70, Version})
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected error for truncated header, got nil")
	}
}

func TestDecodeOversizedBody(t *testing.T) {
	header := Header{MsgType: MsgTypeRequest, Seq: 1, BodyLen: 3}
	var buf bytes.Buffer
	if err := Encode(&buf, &header, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	// Rewrite BodyLen past the limit.
	raw[10] = 0xff
	raw[11] = 0xff
	raw[12] = 0xff
	raw[13] = 0xff

	if _, _, err := Decode(bytes.NewReader(raw)); err == nil {
		t.Fatal("expected error for oversized body, got nil")
	}
}
