package netconn

import (
	"net"
	"testing"
	"time"

	"platformer-go/internal/transport"
	"platformer-go/internal/wire"
)

// sequentialRNG hands out a fixed sequence of values so handshake tests
// are deterministic without needing math/rand.
func sequentialRNG(values ...uint32) func() uint32 {
	i := 0
	return func() uint32 {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestThreeWayHandshakeEstablishesConnection(t *testing.T) {
	serverSock, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer serverSock.Close()
	clientSock, err := transport.Dial()
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer clientSock.Close()

	serverAddr, err := net.ResolveUDPAddr("udp", serverSock.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}

	var accepted *Connection
	var acceptedPayload []byte
	// handleConn draws serverSalt then challenge, in that order.
	handler := NewHandler(serverSock, sequentialRNG(0x00000002, 0x11111111), func(c *Connection, payload []byte) {
		accepted = c
		acceptedPayload = payload
	})

	done := make(chan error, 1)
	go func() {
		conn, err := ClientHandshake(clientSock, serverAddr, 0x00000001, []byte("hello server"))
		if err != nil {
			done <- err
			return
		}
		_ = conn
		done <- nil
	}()

	// Server side of the exchange: CONN, then final CHAL.
	buf := transport.NewRecvBuffer()
	n, clientAddr, err := serverSock.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom CONN: %v", err)
	}
	handler.HandleRaw(clientAddr, append([]byte(nil), buf[:n]...))

	n, clientAddr, err = serverSock.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom final CHAL: %v", err)
	}
	handler.HandleRaw(clientAddr, append([]byte(nil), buf[:n]...))

	if err := <-done; err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}

	if accepted == nil {
		t.Fatal("onConnect was never invoked")
	}
	if string(acceptedPayload) != "hello server" {
		t.Errorf("init payload = %q, want %q", acceptedPayload, "hello server")
	}
	wantSalt := uint32(0x00000001) ^ uint32(0x00000002)
	if accepted.salt != wantSalt {
		t.Errorf("accepted salt = 0x%08X, want 0x%08X", accepted.salt, wantSalt)
	}
	if len(handler.Connections()) != 1 {
		t.Errorf("connection table has %d entries, want 1", len(handler.Connections()))
	}
}

func TestPendingListEvictsOldestBeyondSixteen(t *testing.T) {
	serverSock, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer serverSock.Close()

	handler := NewHandler(serverSock, sequentialRNG(1, 2), func(*Connection, []byte) {})

	addrs := make([]*net.UDPAddr, maxPending+1)
	for i := range addrs {
		addrs[i] = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 20000 + i}
	}

	for _, addr := range addrs {
		handler.handleConn(addr, func() []byte {
			body := make([]byte, 4)
			body[0] = 0xAA
			return body
		}())
	}

	handler.mu.Lock()
	count := len(handler.pending)
	_, oldestStillPresent := func() (pendingEntry, bool) {
		for _, p := range handler.pending {
			if p.addr.Port == addrs[0].Port {
				return p, true
			}
		}
		return pendingEntry{}, false
	}()
	handler.mu.Unlock()

	if count != maxPending {
		t.Errorf("pending list size = %d, want %d", count, maxPending)
	}
	if oldestStillPresent {
		t.Error("oldest pending entry should have been evicted once the list exceeded capacity")
	}
}

func TestHandshakeDatagramDistinguishedFromEstablishedDatagram(t *testing.T) {
	conn := encodeHandshake(connTag, []uint32{0x1}, nil)
	tag, rest, ok := isHandshake(conn)
	if !ok || tag != connTag {
		t.Error("encodeHandshake(connTag, ...) was not recognized as a handshake datagram")
	}
	var gotField uint32
	if len(rest) >= 4 {
		gotField = uint32(rest[0]) | uint32(rest[1])<<8 | uint32(rest[2])<<16 | uint32(rest[3])<<24
	}
	if gotField != 0x1 {
		t.Errorf("rest's first field = 0x%X, want 0x1", gotField)
	}

	a, b, _, bSock := loopbackPair(t)
	if err := a.SendPacket(&wire.PlayerState{Tick: 1}); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	a.Update(time.Now())
	_ = b

	buf := transport.NewRecvBuffer()
	n, _, err := bSock.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if _, _, ok := isHandshake(buf[:n]); ok {
		t.Error("an ordinary CRC-framed datagram was misidentified as a handshake datagram")
	}
}

func TestIsHandshakeRejectsCorruptedCRC(t *testing.T) {
	datagram := encodeHandshake(connTag, []uint32{0x1, 0x2}, []byte("payload"))
	if _, _, ok := isHandshake(datagram); !ok {
		t.Fatal("uncorrupted handshake datagram should be recognized")
	}

	corrupted := append([]byte(nil), datagram...)
	corrupted[20] ^= 0xFF // flip a byte inside the trailing payload, past the CRC/magic/tag/fields
	if _, _, ok := isHandshake(corrupted); ok {
		t.Error("a bit-flipped handshake datagram should fail CRC verification, not be accepted")
	}
}

func TestIsHandshakeRejectsCorruptedCRCField(t *testing.T) {
	datagram := encodeHandshake(chalTag, []uint32{0x1, 0x2, 0x3}, nil)
	corrupted := append([]byte(nil), datagram...)
	corrupted[0] ^= 0xFF // flip a byte inside the CRC itself
	if _, _, ok := isHandshake(corrupted); ok {
		t.Error("a handshake datagram with a corrupted CRC field should fail verification")
	}
}
