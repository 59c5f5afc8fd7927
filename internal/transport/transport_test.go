package transport

import (
	"bytes"
	"net"
	"testing"

	"platformer-go/internal/wire"
)

func TestSendToReadFromLoopback(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer server.Close()

	client, err := Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	addr, err := net.ResolveUDPAddr("udp", server.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}

	if err := client.SendTo(addr, 0xABCD, 7, []byte("hello")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	buf := NewRecvBuffer()
	n, _, err := server.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}

	tag, payload, ok := wire.Unframe(buf[:n], 0xABCD)
	if !ok {
		t.Fatal("Unframe rejected a freshly sent datagram")
	}
	if tag != 7 {
		t.Errorf("tag = %d, want 7", tag)
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Errorf("payload = %q, want hello", payload)
	}
}
