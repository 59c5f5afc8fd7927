package wire

import (
	"bytes"
	"testing"
)

func TestBitStreamRoundTrip(t *testing.T) {
	bs := NewWriter()
	bs.WriteByte(0x42)
	bs.WriteUint16LE(1234)
	bs.WriteUint32LE(567890)
	bs.WriteFloat64LE(3.5)
	bs.WriteString("hello world")
	bs.WritePascal50("bob")

	r := NewReader(bs.Bytes())
	if b, _ := r.ReadByte(); b != 0x42 {
		t.Errorf("byte = 0x%02X, want 0x42", b)
	}
	if v, _ := r.ReadUint16LE(); v != 1234 {
		t.Errorf("u16 = %d, want 1234", v)
	}
	if v, _ := r.ReadUint32LE(); v != 567890 {
		t.Errorf("u32 = %d, want 567890", v)
	}
	if v, _ := r.ReadFloat64LE(); v != 3.5 {
		t.Errorf("f64 = %v, want 3.5", v)
	}
	if s, _ := r.ReadString(); s != "hello world" {
		t.Errorf("string = %q, want hello world", s)
	}
	if s, _ := r.ReadPascal50(); s != "bob" {
		t.Errorf("pascal50 = %q, want bob", s)
	}
}

func TestFrameUnframeRoundTrip(t *testing.T) {
	salt := uint32(0xDEADBEEF)
	payload := []byte("payload bytes")
	datagram, err := Frame(salt, 5, payload)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	tag, body, ok := Unframe(datagram, salt)
	if !ok {
		t.Fatal("Unframe reported corruption on a freshly-framed datagram")
	}
	if tag != 5 {
		t.Errorf("tag = %d, want 5", tag)
	}
	if !bytes.Equal(body, payload) {
		t.Errorf("body = %q, want %q", body, payload)
	}
}

func TestUnframeRejectsWrongSalt(t *testing.T) {
	datagram, err := Frame(1, 1, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok := Unframe(datagram, 2); ok {
		t.Error("Unframe accepted a datagram with the wrong salt")
	}
}

func TestUnframeRejectsCorruption(t *testing.T) {
	datagram, err := Frame(1, 1, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	datagram[len(datagram)-1] ^= 0xFF // flip a payload bit
	if _, _, ok := Unframe(datagram, 1); ok {
		t.Error("Unframe accepted a corrupted datagram")
	}
}

func TestFrameRejectsOversizeDatagram(t *testing.T) {
	_, err := Frame(1, 1, make([]byte, MTU))
	if err == nil {
		t.Error("Frame should reject a payload that pushes the datagram over MTU")
	}
}

func TestPadToMTU(t *testing.T) {
	out := PadToMTU([]byte{1, 2, 3})
	if len(out) != MTU {
		t.Errorf("len = %d, want %d", len(out), MTU)
	}
}

func TestRegistryEncodeDecodeRoundTrip(t *testing.T) {
	original := &PlayerState{
		Tick: 100, ID: 5,
		Pos: Vec2{X: 10, Y: 10}, Vel: Vec2{X: 1, Y: -1},
		Rot: 0.5, RotVel: 0.1,
		Action: [2]float32{0.5, -0.25},
	}

	encoded, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tag := encoded[0]
	wantTag, _ := TagOf("PlayerState")
	if tag != wantTag {
		t.Errorf("tag = %d, want %d", tag, wantTag)
	}

	decoded, err := Decode(tag, encoded[1:])
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ps, ok := decoded.(*PlayerState)
	if !ok {
		t.Fatalf("Decode returned %T, want *PlayerState", decoded)
	}
	if *ps != *original {
		t.Errorf("round-trip mismatch: got %+v, want %+v", ps, original)
	}
}

func TestTagZeroReservedForACK(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("tag 0 must not resolve to a registered packet type")
	}
}

func TestKindOf(t *testing.T) {
	tag, _ := TagOf("UpdateClientInput")
	kind, err := KindOf(tag)
	if err != nil {
		t.Fatal(err)
	}
	if kind != Normal {
		t.Errorf("UpdateClientInput kind = %v, want Normal", kind)
	}
}

func BenchmarkEncodeDecodePlayerState(b *testing.B) {
	p := &PlayerState{Tick: 1, ID: 1}
	for i := 0; i < b.N; i++ {
		enc, _ := Encode(p)
		_, _ = Decode(enc[0], enc[1:])
	}
}
