// Package wire implements the datagram framing (CRC + connection salt),
// the ordered packet-type registry, and the typed packet structs of the
// wire protocol described in spec.md §6.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BitStream is a cursor over a byte buffer supporting the little-endian
// and length-prefixed field encodings the packet registry needs. It plays
// the same role as the teacher's BitStream (source/protocol/raknet.go),
// trimmed to the field kinds this protocol actually uses.
type BitStream struct {
	data   []byte
	offset int
}

// NewReader wraps an existing buffer for reading.
func NewReader(data []byte) *BitStream {
	return &BitStream{data: data}
}

// NewWriter returns an empty BitStream ready for writing.
func NewWriter() *BitStream {
	return &BitStream{data: make([]byte, 0, 64)}
}

// Bytes returns the accumulated buffer (for a writer) or the remaining
// unread bytes (for a reader positioned at the start).
func (bs *BitStream) Bytes() []byte { return bs.data }

// Remaining reports how many unread bytes are left.
func (bs *BitStream) Remaining() int { return len(bs.data) - bs.offset }

func (bs *BitStream) need(n int) error {
	if bs.Remaining() < n {
		return fmt.Errorf("wire: buffer underrun: need %d bytes, have %d", n, bs.Remaining())
	}
	return nil
}

// ReadByte reads a single byte.
func (bs *BitStream) ReadByte() (byte, error) {
	if err := bs.need(1); err != nil {
		return 0, err
	}
	b := bs.data[bs.offset]
	bs.offset++
	return b, nil
}

// ReadBytes reads exactly n bytes.
func (bs *BitStream) ReadBytes(n int) ([]byte, error) {
	if err := bs.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, bs.data[bs.offset:bs.offset+n])
	bs.offset += n
	return out, nil
}

// ReadUint16LE reads a little-endian u16.
func (bs *BitStream) ReadUint16LE() (uint16, error) {
	b, err := bs.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32LE reads a little-endian u32.
func (bs *BitStream) ReadUint32LE() (uint32, error) {
	b, err := bs.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint32BE reads a big-endian u32.
func (bs *BitStream) ReadUint32BE() (uint32, error) {
	b, err := bs.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadFloat32LE reads a little-endian IEEE-754 float32.
func (bs *BitStream) ReadFloat32LE() (float32, error) {
	v, err := bs.ReadUint32LE()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat64LE reads a little-endian IEEE-754 float64.
func (bs *BitStream) ReadFloat64LE() (float64, error) {
	b, err := bs.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadString reads a u16le length prefix followed by that many UTF-8 bytes.
func (bs *BitStream) ReadString() (string, error) {
	n, err := bs.ReadUint16LE()
	if err != nil {
		return "", err
	}
	b, err := bs.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadPascal50 reads a fixed 50-byte Pascal string: 1 length byte followed
// by 49 bytes of fixed storage, of which only the first `length` are used.
func (bs *BitStream) ReadPascal50() (string, error) {
	raw, err := bs.ReadBytes(50)
	if err != nil {
		return "", err
	}
	n := int(raw[0])
	if n > 49 {
		n = 49
	}
	return string(raw[1 : 1+n]), nil
}

// ReadRemaining reads everything left in the buffer (used for opaque
// script bodies and JSON tails).
func (bs *BitStream) ReadRemaining() []byte {
	out := bs.data[bs.offset:]
	bs.offset = len(bs.data)
	return out
}

// WriteByte appends a single byte.
func (bs *BitStream) WriteByte(b byte) {
	bs.data = append(bs.data, b)
}

// WriteBytes appends raw bytes.
func (bs *BitStream) WriteBytes(b []byte) {
	bs.data = append(bs.data, b...)
}

// WriteUint16LE appends a little-endian u16.
func (bs *BitStream) WriteUint16LE(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	bs.data = append(bs.data, buf[:]...)
}

// WriteUint32LE appends a little-endian u32.
func (bs *BitStream) WriteUint32LE(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	bs.data = append(bs.data, buf[:]...)
}

// WriteUint32BE appends a big-endian u32.
func (bs *BitStream) WriteUint32BE(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	bs.data = append(bs.data, buf[:]...)
}

// WriteFloat32LE appends a little-endian IEEE-754 float32.
func (bs *BitStream) WriteFloat32LE(f float32) {
	bs.WriteUint32LE(math.Float32bits(f))
}

// WriteFloat64LE appends a little-endian IEEE-754 float64.
func (bs *BitStream) WriteFloat64LE(f float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	bs.data = append(bs.data, buf[:]...)
}

// WriteString appends a u16le length prefix followed by s's UTF-8 bytes.
func (bs *BitStream) WriteString(s string) {
	bs.WriteUint16LE(uint16(len(s)))
	bs.data = append(bs.data, []byte(s)...)
}

// WritePascal50 appends name as a fixed 50-byte Pascal string, truncating
// to 49 bytes of payload if necessary.
func (bs *BitStream) WritePascal50(name string) {
	b := []byte(name)
	if len(b) > 49 {
		b = b[:49]
	}
	var buf [50]byte
	buf[0] = byte(len(b))
	copy(buf[1:], b)
	bs.data = append(bs.data, buf[:]...)
}
