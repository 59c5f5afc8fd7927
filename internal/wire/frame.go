package wire

import (
	"fmt"
	"hash/crc32"
)

// MTU is the maximum datagram size enforced at send time (spec.md §3).
const MTU = 1200

// ProtocolID is the fixed 4-byte magic prefixed to the CRC of every
// datagram; it both versions the wire format and filters out packets from
// an unrelated game sharing the same port.
var ProtocolID = [4]byte{0xAB, 0x55, 0xD7, 0x01}

// Frame assembles a complete outgoing datagram: a 4-byte CRC32 of
// (protocol_id ‖ salt ‖ tag ‖ payload), the 4-byte salt, the 1-byte type
// tag, and the payload. Tag 0 is reserved for ACKs and fragment meta at
// the Connection layer; the packet registry only ever produces tags >= 1.
// Frame never pads — callers that need MTU-sized handshake datagrams call
// PadToMTU on the result.
func Frame(salt uint32, tag byte, payload []byte) ([]byte, error) {
	body := make([]byte, 0, 4+1+len(payload))
	body = append(body, byte(salt), byte(salt>>8), byte(salt>>16), byte(salt>>24))
	body = append(body, tag)
	body = append(body, payload...)

	if 4+len(body) > MTU {
		return nil, fmt.Errorf("wire: datagram of %d bytes exceeds MTU %d", 4+len(body), MTU)
	}

	sum := crc32.ChecksumIEEE(append(ProtocolID[:], body...))
	out := make([]byte, 0, 4+len(body))
	out = append(out, byte(sum), byte(sum>>8), byte(sum>>16), byte(sum>>24))
	out = append(out, body...)
	return out, nil
}

// PadToMTU pads datagram with zero bytes up to exactly MTU, used for the
// connection-establishment CONN/CHAL steps to resist amplification
// attacks (spec.md §3, §4.4).
func PadToMTU(datagram []byte) []byte {
	if len(datagram) >= MTU {
		return datagram[:MTU]
	}
	out := make([]byte, MTU)
	copy(out, datagram)
	return out
}

// Unframe verifies a received datagram's CRC and salt, returning the type
// tag and payload. A CRC mismatch or salt mismatch is reported via ok=false
// and must be silently dropped by the caller, never treated as fatal
// (spec.md §4.2, §7).
func Unframe(datagram []byte, expectedSalt uint32) (tag byte, payload []byte, ok bool) {
	if len(datagram) < 9 {
		return 0, nil, false
	}
	gotCRC := uint32(datagram[0]) | uint32(datagram[1])<<8 | uint32(datagram[2])<<16 | uint32(datagram[3])<<24
	body := datagram[4:]
	wantCRC := crc32.ChecksumIEEE(append(ProtocolID[:], body...))
	if gotCRC != wantCRC {
		return 0, nil, false
	}

	salt := uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24
	if salt != expectedSalt {
		return 0, nil, false
	}

	return body[4], body[5:], true
}

// PeekSalt extracts the salt from a datagram without verifying the CRC,
// used only to route a datagram to the right Connection before its own
// salt can be checked.
func PeekSalt(datagram []byte) (salt uint32, ok bool) {
	if len(datagram) < 9 {
		return 0, false
	}
	body := datagram[4:]
	return uint32(body[0]) | uint32(body[1])<<8 | uint32(body[2])<<16 | uint32(body[3])<<24, true
}
