// Package transport is the UDP socket facade: it owns the raw
// net.UDPConn, and SendTo applies the CRC+salt envelope of internal/wire,
// enforcing the MTU at send time. Received datagrams are returned as read;
// their CRC and salt are checked by the caller with wire.Unframe.
// Grounded on the teacher's Server.Start/listen (source/server/server.go).
package transport

import (
	"fmt"
	"net"

	"platformer-go/internal/wire"
)

// recvBufferSize is comfortably above MTU so a corrupt over-length
// datagram can still be read (and then rejected) instead of truncated
// silently by the kernel.
const recvBufferSize = 2048

// Socket wraps a UDP connection. It is safe for concurrent use: net.UDPConn
// already serializes its own reads/writes at the OS level, and this type
// adds no additional mutable state.
type Socket struct {
	conn *net.UDPConn
}

// Listen opens a UDP socket bound to addr (host:port), for server use.
func Listen(addr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}
	return &Socket{conn: conn}, nil
}

// Dial opens a UDP socket for client use, with no fixed local address.
func Dial() (*Socket, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return &Socket{conn: conn}, nil
}

// SendTo frames (salt, tag, payload) and writes it to addr. An oversize
// payload is rejected before it reaches the socket (spec.md §4.2).
func (s *Socket) SendTo(addr *net.UDPAddr, salt uint32, tag byte, payload []byte) error {
	datagram, err := wire.Frame(salt, tag, payload)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(datagram, addr)
	return err
}

// SendRawTo writes an already-framed (and possibly MTU-padded) datagram
// verbatim, used for handshake steps that must be padded to exactly MTU.
func (s *Socket) SendRawTo(addr *net.UDPAddr, datagram []byte) error {
	_, err := s.conn.WriteToUDP(datagram, addr)
	return err
}

// ReadFrom blocks until a datagram arrives and reads it into the caller's
// buf, returning its length and sender. The bytes are not copied: a
// caller that reuses buf overwrites them on its next read.
func (s *Socket) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	return s.conn.ReadFromUDP(buf)
}

// NewRecvBuffer allocates a buffer sized for one incoming datagram.
func NewRecvBuffer() []byte {
	return make([]byte, recvBufferSize)
}

// LocalAddr reports the socket's bound address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close releases the underlying socket.
func (s *Socket) Close() error { return s.conn.Close() }
