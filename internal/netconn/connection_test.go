package netconn

import (
	"net"
	"testing"
	"time"

	"platformer-go/internal/transport"
	"platformer-go/internal/wire"
)

func loopbackPair(t *testing.T) (a, b *Connection, aSock, bSock *transport.Socket) {
	t.Helper()
	aSock, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen a: %v", err)
	}
	bSock, err = transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen b: %v", err)
	}
	aAddr, err := net.ResolveUDPAddr("udp", aSock.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	bAddr, err := net.ResolveUDPAddr("udp", bSock.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	const salt = 0x1234
	a = New(aSock, bAddr, salt)
	b = New(bSock, aAddr, salt)
	return a, b, aSock, bSock
}

func deliver(t *testing.T, sock *transport.Socket, dst *Connection) {
	t.Helper()
	buf := transport.NewRecvBuffer()
	n, _, err := sock.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	tag, payload, ok := wire.Unframe(buf[:n], 0x1234)
	if !ok {
		t.Fatal("Unframe rejected a datagram exchanged between two Connections")
	}
	dst.HandleDatagram(tag, payload)
}

func TestNormalPacketSurfacesDirectly(t *testing.T) {
	a, b, _, bSock := loopbackPair(t)

	if err := a.SendPacket(&wire.PlayerState{Tick: 7, ID: 1}); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	deliver(t, bSock, b)

	got := b.Drain()
	if len(got) != 1 {
		t.Fatalf("drained %d packets, want 1", len(got))
	}
	ps, err := wire.Decode(got[0].Tag, got[0].Body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ps.(*wire.PlayerState).Tick != 7 {
		t.Errorf("Tick = %d, want 7", ps.(*wire.PlayerState).Tick)
	}
}

func TestReliablePacketSurfacesInOrderDespiteGap(t *testing.T) {
	a, b, aSock, bSock := loopbackPair(t)
	_ = aSock

	a.SendPacket(&wire.NewPlayer{ID: 1, Name: "first"})
	a.SendPacket(&wire.NewPlayer{ID: 2, Name: "second"})
	a.SendPacket(&wire.NewPlayer{ID: 3, Name: "third"})
	a.Update(time.Now())

	// Drain the three outbound datagrams but deliver them out of order,
	// simulating reordering in flight.
	var frames [][]byte
	for i := 0; i < 3; i++ {
		buf := transport.NewRecvBuffer()
		n, _, err := bSock.ReadFrom(buf)
		if err != nil {
			t.Fatalf("ReadFrom: %v", err)
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		frames = append(frames, frame)
	}

	order := []int{1, 2, 0}
	for _, idx := range order {
		tag, payload, ok := wire.Unframe(frames[idx], 0x1234)
		if !ok {
			t.Fatal("Unframe failed on a reliable datagram")
		}
		b.HandleDatagram(tag, payload)
	}

	got := b.Drain()
	if len(got) != 3 {
		t.Fatalf("drained %d packets, want 3 (reordering must not drop any)", len(got))
	}
	for i, pkt := range got {
		decoded, err := wire.Decode(pkt.Tag, pkt.Body)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if decoded.(*wire.NewPlayer).ID != uint32(i+1) {
			t.Errorf("surfaced order[%d] ID = %d, want %d (in-order surfacing)", i, decoded.(*wire.NewPlayer).ID, i+1)
		}
	}

	// The three ACK datagrams b emitted are queued on aSock; drain them
	// so later tests in this process don't see stale buffered reads.
	for i := 0; i < 3; i++ {
		buf := transport.NewRecvBuffer()
		aSock.ReadFrom(buf)
	}
}

func TestBigPacketReassembly(t *testing.T) {
	a, b, aSock, bSock := loopbackPair(t)

	payload := make([]byte, maxSlicePayload*3+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	tag, _ := wire.TagOf("ScriptPacket")
	if err := a.sendBig(tag, payload); err != nil {
		t.Fatalf("sendBig: %v", err)
	}

	sliceCount := len(sliceBody(payload))

	// One Update call emits every slice of the (single) queued chunk;
	// deliver each to b, which acks every slice it accepts.
	a.Update(time.Now())
	for i := 0; i < sliceCount; i++ {
		deliver(t, bSock, b)
	}
	// b emitted one ack per accepted slice; deliver them back to a so
	// its chunk sender retires.
	for i := 0; i < sliceCount; i++ {
		deliver(t, aSock, a)
	}

	got := b.Drain()
	if len(got) != 1 {
		t.Fatalf("drained %d packets, want 1 reassembled big packet", len(got))
	}
	if len(got[0].Body) != len(payload) {
		t.Fatalf("reassembled length = %d, want %d", len(got[0].Body), len(payload))
	}
	for i := range payload {
		if got[0].Body[i] != payload[i] {
			t.Fatalf("reassembled byte %d corrupted", i)
		}
	}
	if a.currentSender != nil {
		t.Error("chunk sender should have retired once every slice was acked")
	}
}

func TestReliableRetransmitsUnackedPacket(t *testing.T) {
	a, _, _, bSock := loopbackPair(t)

	if err := a.SendPacket(&wire.DeletePlayer{ID: 1}); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	// SendPacket only enqueues a reliable packet; Update performs the
	// actual transmit.
	a.Update(time.Now())
	buf := transport.NewRecvBuffer()
	if _, _, err := bSock.ReadFrom(buf); err != nil {
		t.Fatalf("expected an initial reliable send: %v", err)
	}

	// Simulate the ACK never arriving: after the RTO elapses, Update
	// must resend the same sequence number.
	future := time.Now().Add(time.Second)
	a.Update(future)
	if _, _, err := bSock.ReadFrom(buf); err != nil {
		t.Fatalf("expected a retransmission after timeout: %v", err)
	}
}
