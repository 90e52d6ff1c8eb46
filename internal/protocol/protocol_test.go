package protocol

import (
	"bytes"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestUpdatePositionRoundTrip(t *testing.T) {
	in := UpdatePosition{
		Pos:        mgl32.Vec3{1.5, -2.25, 64},
		Yaw:        45,
		Pitch:      -10,
		ViewRadius: 5,
	}
	frame := EncodeUpdatePosition(in)
	tag, body, err := SplitTag(frame)
	if err != nil {
		t.Fatalf("SplitTag: %v", err)
	}
	if tag != ClientUpdatePosition {
		t.Fatalf("tag: got %d want %d", tag, ClientUpdatePosition)
	}
	out, err := DecodeUpdatePosition(body)
	if err != nil {
		t.Fatalf("DecodeUpdatePosition: %v", err)
	}
	if out != in {
		t.Fatalf("round trip: got %+v want %+v", out, in)
	}
}

func TestUpdatePositionWireLayout(t *testing.T) {
	frame := EncodeUpdatePosition(UpdatePosition{Pos: mgl32.Vec3{1, 0, 0}, ViewRadius: 3})
	if len(frame) != 2+5*4+1 {
		t.Fatalf("frame length: got %d want 23", len(frame))
	}
	// Tag 0, then float32(1.0) little-endian.
	want := []byte{0x00, 0x00, 0x00, 0x00, 0x80, 0x3f}
	if !bytes.Equal(frame[:6], want) {
		t.Fatalf("frame prefix: got %x want %x", frame[:6], want)
	}
	if frame[22] != 3 {
		t.Fatalf("view radius byte: got %d want 3", frame[22])
	}
}

func TestSetPositionRoundTrip(t *testing.T) {
	in := mgl32.Vec3{-4, 1, 0.5}
	tag, body, err := SplitTag(EncodeSetPosition(in))
	if err != nil {
		t.Fatalf("SplitTag: %v", err)
	}
	if tag != ServerSetPosition {
		t.Fatalf("tag: got %d", tag)
	}
	out, err := DecodeSetPosition(body)
	if err != nil {
		t.Fatalf("DecodeSetPosition: %v", err)
	}
	if out != in {
		t.Fatalf("round trip: got %v want %v", out, in)
	}
}

func TestSetChunkRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab, 0x01, 0x02}, 100)

	// Threshold 0 disables compression: plain tag.
	frame := EncodeSetChunk(-2, 0, -1, payload, 0)
	tag, body, err := SplitTag(frame)
	if err != nil {
		t.Fatalf("SplitTag: %v", err)
	}
	if tag != ServerSetChunk {
		t.Fatalf("tag: got %d want %d", tag, ServerSetChunk)
	}
	x, y, z, got, err := DecodeSetChunk(tag, body)
	if err != nil {
		t.Fatalf("DecodeSetChunk: %v", err)
	}
	if x != -2 || y != 0 || z != -1 {
		t.Fatalf("location: got (%d,%d,%d)", x, y, z)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}

	// Over threshold: compressed tag, identical payload after decode.
	frame = EncodeSetChunk(-2, 0, -1, payload, 16)
	tag, body, _ = SplitTag(frame)
	if tag != ServerSetChunkZstd {
		t.Fatalf("tag: got %d want %d", tag, ServerSetChunkZstd)
	}
	if len(frame) >= 2+12+len(payload) {
		t.Fatalf("compressed frame not smaller: %d vs %d", len(frame), 2+12+len(payload))
	}
	_, _, _, got, err = DecodeSetChunk(tag, body)
	if err != nil {
		t.Fatalf("DecodeSetChunk zstd: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("compressed payload mismatch")
	}
}

func TestMalformedFrames(t *testing.T) {
	if _, _, err := SplitTag([]byte{0x01}); err == nil {
		t.Fatal("short frame must fail")
	}
	if _, err := DecodeUpdatePosition([]byte{1, 2, 3}); err == nil {
		t.Fatal("short UPDATE_POSITION must fail")
	}
	if _, err := DecodeSetPosition(nil); err == nil {
		t.Fatal("short SET_POSITION must fail")
	}
	if _, _, _, _, err := DecodeSetChunk(ServerSetChunk, []byte{1, 2}); err == nil {
		t.Fatal("short SET_CHUNK must fail")
	}
	if _, _, _, _, err := DecodeSetChunk(ServerSetChunkZstd, append(make([]byte, 12), 0xde, 0xad)); err == nil {
		t.Fatal("bad zstd payload must fail")
	}
}
