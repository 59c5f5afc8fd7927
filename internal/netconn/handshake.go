package netconn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"net"
	"sync"
	"time"

	"platformer-go/internal/transport"
	"platformer-go/internal/wire"
)

// maxPending bounds the FIFO of half-open handshakes (spec.md §4.4, §7):
// a client that sends CONN and never completes step 3 can occupy at most
// one slot, and the 17th concurrent half-open peer evicts the oldest.
const maxPending = 16

var connTag = [4]byte{'C', 'O', 'N', 'N'}
var chalTag = [4]byte{'C', 'H', 'A', 'L'}

// isHandshake verifies datagram as a pre-connection CONN/CHAL frame
// rather than an established connection's CRC-framed datagram, and if it
// checks out, returns the 4-byte stage tag and the fields/extra payload
// that follow it. A handshake frame is laid out exactly like
// wire.Frame/Unframe's CRC32(body) ‖ body envelope, just with the 4-byte
// ASCII stage tag standing in for wire's single type byte: CRC32 is
// computed over (protocol_id ‖ tag ‖ fields ‖ extra) and verified here the
// same way Unframe verifies an established datagram, per spec.md
// §4.2/§4.4's "every outgoing datagram is CRC32-prefixed" with no
// handshake carve-out.
func isHandshake(datagram []byte) (tag [4]byte, rest []byte, ok bool) {
	if len(datagram) < 12 {
		return tag, nil, false
	}
	gotCRC := binary.LittleEndian.Uint32(datagram[0:4])
	body := datagram[4:]
	if !bytes.Equal(body[0:4], wire.ProtocolID[:]) {
		return tag, nil, false
	}
	if crc32.ChecksumIEEE(body) != gotCRC {
		return tag, nil, false
	}
	copy(tag[:], body[4:8])
	if tag != connTag && tag != chalTag {
		return tag, nil, false
	}
	return tag, body[8:], true
}

func encodeHandshake(tag [4]byte, fields []uint32, extra []byte) []byte {
	body := make([]byte, 0, wire.MTU)
	body = append(body, wire.ProtocolID[:]...)
	body = append(body, tag[:]...)
	for _, f := range fields {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], f)
		body = append(body, b[:]...)
	}
	body = append(body, extra...)

	sum := crc32.ChecksumIEEE(body)
	out := make([]byte, 0, 4+len(body))
	out = append(out, byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24))
	out = append(out, body...)
	return wire.PadToMTU(out)
}

// ClientHandshake runs the client side of the 3-way CONN/CHAL exchange
// (spec.md §4.4) and returns a ready Connection. It blocks on one
// synchronous read per step; callers on an unreliable link should wrap
// it with their own retry.
func ClientHandshake(socket *transport.Socket, addr *net.UDPAddr, clientSalt uint32, initPayload []byte) (*Connection, error) {
	if err := socket.SendRawTo(addr, encodeHandshake(connTag, []uint32{clientSalt}, nil)); err != nil {
		return nil, fmt.Errorf("netconn: sending CONN: %w", err)
	}

	buf := transport.NewRecvBuffer()
	n, _, err := socket.ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("netconn: awaiting CHAL: %w", err)
	}
	tag, body, ok := isHandshake(buf[:n])
	if !ok || tag != chalTag {
		return nil, fmt.Errorf("netconn: expected CHAL reply, got something else")
	}
	if len(body) < 12 {
		return nil, fmt.Errorf("netconn: malformed CHAL reply")
	}
	challenge := binary.LittleEndian.Uint32(body[0:4])
	echoedClientSalt := binary.LittleEndian.Uint32(body[4:8])
	serverSalt := binary.LittleEndian.Uint32(body[8:12])
	if echoedClientSalt != clientSalt {
		return nil, fmt.Errorf("netconn: CHAL echoed an unexpected client salt")
	}
	finalSalt := clientSalt ^ serverSalt

	step3 := encodeHandshake(chalTag, []uint32{challenge, finalSalt}, initPayload)
	if err := socket.SendRawTo(addr, step3); err != nil {
		return nil, fmt.Errorf("netconn: sending final CHAL: %w", err)
	}

	return New(socket, addr, finalSalt), nil
}

type pendingEntry struct {
	addr      *net.UDPAddr
	challenge uint32
	finalSalt uint32
}

// Handler is the server-side 3-way handshake acceptor and connection
// table. Grounded on the teacher's connection-accept path, generalized
// from RakNet's two-step cookie exchange (Session.Cookie) to spec.md
// §4.4's CONN/CHAL/CHAL sequence and its capped pending FIFO.
type Handler struct {
	mu sync.Mutex

	socket    *transport.Socket
	rng       func() uint32
	onConnect func(conn *Connection, initPayload []byte)

	pending []pendingEntry
	conns   map[string]*Connection
}

// NewHandler constructs a Handler. rng supplies 32-bit salts/challenges;
// onConnect is invoked (outside the Handler's lock) once step 3 of the
// handshake validates, with the newly accepted Connection and whatever
// payload the client attached to its final CHAL.
func NewHandler(socket *transport.Socket, rng func() uint32, onConnect func(*Connection, []byte)) *Handler {
	return &Handler{
		socket:    socket,
		rng:       rng,
		onConnect: onConnect,
		conns:     make(map[string]*Connection),
	}
}

// HandleRaw routes one received datagram to the handshake state machine
// or to the Connection whose salt it carries.
func (h *Handler) HandleRaw(addr *net.UDPAddr, datagram []byte) {
	if tag, rest, ok := isHandshake(datagram); ok {
		h.handleHandshake(addr, tag, rest)
		return
	}

	salt, ok := wire.PeekSalt(datagram)
	if !ok {
		return
	}
	h.mu.Lock()
	conn := h.conns[addr.String()]
	h.mu.Unlock()
	if conn == nil || conn.salt != salt {
		return
	}
	tag, payload, ok := wire.Unframe(datagram, salt)
	if !ok {
		return
	}
	conn.HandleDatagram(tag, payload)
}

func (h *Handler) handleHandshake(addr *net.UDPAddr, tag [4]byte, body []byte) {
	switch tag {
	case connTag:
		h.handleConn(addr, body)
	case chalTag:
		h.handleChal(addr, body)
	}
}

// handleConn answers a CONN with a CHAL, recording only the tuple
// needed to validate step 3 — no Connection is allocated yet, so a
// flood of CONN datagrams costs at most 16 small struct slots.
func (h *Handler) handleConn(addr *net.UDPAddr, body []byte) {
	if len(body) < 4 {
		return
	}
	clientSalt := binary.LittleEndian.Uint32(body[0:4])
	serverSalt := h.rng()
	challenge := h.rng()

	h.mu.Lock()
	if len(h.pending) >= maxPending {
		h.pending = h.pending[1:]
	}
	h.pending = append(h.pending, pendingEntry{
		addr:      addr,
		challenge: challenge,
		finalSalt: clientSalt ^ serverSalt,
	})
	h.mu.Unlock()

	reply := encodeHandshake(chalTag, []uint32{challenge, clientSalt, serverSalt}, nil)
	_ = h.socket.SendRawTo(addr, reply)
}

func (h *Handler) handleChal(addr *net.UDPAddr, body []byte) {
	if len(body) < 8 {
		return
	}
	challenge := binary.LittleEndian.Uint32(body[0:4])
	finalSalt := binary.LittleEndian.Uint32(body[4:8])
	initPayload := body[8:]

	h.mu.Lock()
	idx := -1
	for i, p := range h.pending {
		if p.addr.String() == addr.String() && p.challenge == challenge && p.finalSalt == finalSalt {
			idx = i
			break
		}
	}
	if idx == -1 {
		h.mu.Unlock()
		return
	}
	h.pending = append(h.pending[:idx], h.pending[idx+1:]...)

	conn := New(h.socket, addr, finalSalt)
	h.conns[addr.String()] = conn
	h.mu.Unlock()

	if h.onConnect != nil {
		h.onConnect(conn, initPayload)
	}
}

// Connections returns a snapshot of every established connection.
func (h *Handler) Connections() []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Disconnect drops addr's connection from the table.
func (h *Handler) Disconnect(addr *net.UDPAddr) {
	h.mu.Lock()
	delete(h.conns, addr.String())
	h.mu.Unlock()
}

// Update drives retransmission on every established connection and
// reports (without removing; callers decide how to notify the game
// layer first) every connection that has exceeded the receive timeout.
func (h *Handler) Update(now time.Time, timeout time.Duration) (timedOut []*Connection) {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Update(now)
		if now.Sub(c.LastActivity()) > timeout {
			timedOut = append(timedOut, c)
		}
	}
	return timedOut
}
