// Package netconn implements one peer-to-peer UDP session: unreliable
// NORMAL packets, at-least-once/in-order RELIABLE packets, and
// slice-reassembled BIG packets, all multiplexed over a single
// internal/transport.Socket and salt. Grounded on the teacher's
// Session.Update/HandleDataPacket/HandleACK/HandleNACK
// (source/protocol/raknet.go) for the shape of the per-tick update loop
// and the accept/ack/retransmit state machine; the RTT/loss EWMA and the
// three delivery classes themselves are spec.md §4.3's own design.
package netconn

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"platformer-go/internal/transport"
	"platformer-go/internal/wire"
	"platformer-go/pkg/packetcache"
	"platformer-go/pkg/seqnum"
)

const (
	seqWidth             = 16
	retransmitScanWindow = 32
	maxSlices            = 256
	maxSlicePayload      = wire.MTU - 16
	minRTO               = 10 * time.Millisecond
)

// AppPacket is one fully-formed application datagram surfaced by a
// Connection: the registry tag of the wrapped wire.Packet and its body.
type AppPacket struct {
	Tag  byte
	Body []byte
}

type sendRecord struct {
	tag  byte
	body []byte
	sent *time.Time
}

type chunkSender struct {
	chunkID    byte
	tag        byte
	slices     [][]byte
	acked      [maxSlices]bool
	ackedCount int
}

type chunkReceiver struct {
	chunkID  byte
	tag      byte
	total    int
	slices   [][]byte
	got      [maxSlices]bool
	gotCount int
}

// Connection is one end of a session with a single peer address.
type Connection struct {
	mu sync.Mutex

	socket *transport.Socket
	addr   *net.UDPAddr
	salt   uint32

	earliestSending    seqnum.Number
	latestSending      seqnum.Number
	earliestUnreceived seqnum.Number
	latestReceived     seqnum.Number

	sendingPackets  *packetcache.Cache[sendRecord]
	receivedPackets *packetcache.Cache[AppPacket]

	chunkCounter    byte
	chunkQueue      []*chunkSender
	currentSender   *chunkSender
	currentReceiver *chunkReceiver

	rtt        time.Duration
	rttDev     time.Duration
	packetLoss float64

	lastActivity time.Time
	inbox        []AppPacket
}

// New creates a Connection bound to a peer address and the salt agreed
// during the handshake (spec.md §4.4).
func New(socket *transport.Socket, addr *net.UDPAddr, salt uint32) *Connection {
	return &Connection{
		socket: socket,
		addr:   addr,
		salt:   salt,

		earliestSending:    seqnum.New(seqWidth, 0),
		latestSending:      seqnum.New(seqWidth, 0),
		earliestUnreceived: seqnum.New(seqWidth, 0),
		latestReceived:     seqnum.New(seqWidth, 0),

		sendingPackets:  packetcache.New[sendRecord](),
		receivedPackets: packetcache.New[AppPacket](),

		rtt:          100 * time.Millisecond,
		rttDev:       50 * time.Millisecond,
		lastActivity: time.Now(),
	}
}

// Addr is the peer's socket address.
func (c *Connection) Addr() *net.UDPAddr { return c.addr }

// RTT, RTTDeviation and PacketLoss expose the connection's current link
// estimate (spec.md §4.3, RFC 2988-style EWMA).
func (c *Connection) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

func (c *Connection) RTTDeviation() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rttDev
}

func (c *Connection) PacketLoss() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packetLoss
}

// LastActivity reports when a datagram was last received from the peer,
// for disconnect-timeout checks.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// SendPacket encodes p and dispatches it through the delivery class its
// registry entry declares.
func (c *Connection) SendPacket(p wire.Packet) error {
	tag, body, err := wire.EncodeFor(p)
	if err != nil {
		return err
	}
	switch p.Kind() {
	case wire.Normal:
		return c.sendNormal(tag, body)
	case wire.Reliable:
		c.sendReliable(tag, body)
		return nil
	case wire.Big:
		return c.sendBig(tag, body)
	default:
		return fmt.Errorf("netconn: packet kind %v cannot be sent over a Connection", p.Kind())
	}
}

func (c *Connection) sendNormal(tag byte, body []byte) error {
	c.mu.Lock()
	addr, salt := c.addr, c.salt
	c.mu.Unlock()
	return c.socket.SendTo(addr, salt, tag, body)
}

func (c *Connection) sendReliable(tag byte, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.latestSending
	c.latestSending = c.latestSending.Add(1)
	c.sendingPackets.Insert(seq, sendRecord{tag: tag, body: body})
}

func sliceBody(body []byte) [][]byte {
	if len(body) == 0 {
		return [][]byte{{}}
	}
	out := make([][]byte, 0, (len(body)/maxSlicePayload)+1)
	for i := 0; i < len(body); i += maxSlicePayload {
		end := i + maxSlicePayload
		if end > len(body) {
			end = len(body)
		}
		out = append(out, body[i:end])
	}
	return out
}

func (c *Connection) sendBig(tag byte, body []byte) error {
	slices := sliceBody(body)
	if len(slices) > maxSlices {
		return fmt.Errorf("netconn: payload needs %d slices, over the %d-slice limit", len(slices), maxSlices)
	}
	c.mu.Lock()
	c.chunkCounter++
	cs := &chunkSender{chunkID: c.chunkCounter, tag: tag, slices: slices}
	c.chunkQueue = append(c.chunkQueue, cs)
	c.mu.Unlock()
	return nil
}

// Update drives retransmission and big-packet slice sending. The caller
// invokes it once per simulation tick.
func (c *Connection) Update(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timeout := c.rtt + c.rttDev*4
	if timeout < minRTO {
		timeout = minRTO
	}

	// Only retransmitScanWindow (32) slots from earliestSending are
	// scanned per call, although sendingPackets holds up to 256: reliable
	// sends beyond that window stay queued in the cache until the window
	// advances past acknowledged packets.
	cursor := c.earliestSending
	for i := 0; i < retransmitScanWindow; i++ {
		rec, occupied, stored := c.sendingPackets.At(cursor)
		if occupied && stored.Equal(cursor) {
			if rec.sent == nil || now.Sub(*rec.sent) >= timeout {
				wasRetransmit := rec.sent != nil
				c.transmitReliable(cursor, rec.tag, rec.body)
				t := now
				c.sendingPackets.Update(cursor, func(r sendRecord) sendRecord { r.sent = &t; return r })
				if wasRetransmit {
					c.packetLoss = c.packetLoss*0.95 + 0.05
				}
			}
		}
		cursor = cursor.Add(1)
	}

	for c.earliestSending.Less(c.latestSending) && !c.sendingPackets.Has(c.earliestSending) {
		c.earliestSending = c.earliestSending.Add(1)
	}

	c.updateChunkSend()
}

func (c *Connection) transmitReliable(seq seqnum.Number, tag byte, body []byte) {
	payload := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(payload[0:2], uint16(seq.Value))
	copy(payload[2:], body)
	_ = c.socket.SendTo(c.addr, c.salt, tag, payload)
}

// updateChunkSend resends every unacknowledged slice of the active big
// packet every tick. This is a simplified stand-in for a paced,
// bandwidth-budgeted burst schedule: it converges under loss but isn't
// rate-limited the way a production sender's outgoing big-packet stream
// would be.
func (c *Connection) updateChunkSend() {
	if c.currentSender == nil {
		if len(c.chunkQueue) == 0 {
			return
		}
		c.currentSender = c.chunkQueue[0]
		c.chunkQueue = c.chunkQueue[1:]
	}
	cs := c.currentSender
	for i, slice := range cs.slices {
		if cs.acked[i] {
			continue
		}
		header := make([]byte, 4+len(slice))
		header[0] = cs.chunkID
		header[1] = byte(i)
		binary.LittleEndian.PutUint16(header[2:4], uint16(len(cs.slices)))
		copy(header[4:], slice)
		_ = c.socket.SendTo(c.addr, c.salt, cs.tag, header)
	}
}

// HandleDatagram processes one already-unframed (tag, payload) pair.
func (c *Connection) HandleDatagram(tag byte, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()

	if tag == 0 {
		switch len(payload) {
		case 6:
			c.handleReliableAck(payload)
		case 33:
			c.handleBigAck(payload[0], payload[1:])
		}
		return
	}

	kind, err := wire.KindOf(tag)
	if err != nil {
		return
	}
	switch kind {
	case wire.Normal:
		c.inbox = append(c.inbox, AppPacket{Tag: tag, Body: payload})
	case wire.Reliable:
		c.handleReliable(tag, payload)
	case wire.Big:
		c.handleBigSlice(tag, payload)
	}
}

func (c *Connection) handleReliable(tag byte, payload []byte) {
	if len(payload) < 2 {
		return
	}
	seq := seqnum.New(seqWidth, uint32(binary.LittleEndian.Uint16(payload[0:2])))
	body := payload[2:]

	if !seq.Less(c.earliestUnreceived) {
		c.receivedPackets.Insert(seq, AppPacket{Tag: tag, Body: append([]byte(nil), body...)})
		if seq.Equal(c.latestReceived) || seq.Greater(c.latestReceived) {
			c.latestReceived = seq
		}
	}

	for {
		pkt, ok := c.receivedPackets.Get(c.earliestUnreceived)
		if !ok {
			break
		}
		c.inbox = append(c.inbox, pkt)
		c.receivedPackets.Remove(c.earliestUnreceived)
		c.earliestUnreceived = c.earliestUnreceived.Add(1)
	}

	c.sendReliableAck()
}

func (c *Connection) wasReceived(seq seqnum.Number) bool {
	if seq.Less(c.earliestUnreceived) {
		return true
	}
	return c.receivedPackets.Has(seq)
}

func (c *Connection) sendReliableAck() {
	var bitfield uint32
	for i := uint32(0); i < 32; i++ {
		s := c.latestReceived.Add(-int32(i) - 1)
		if c.wasReceived(s) {
			bitfield |= 1 << i
		}
	}
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(c.latestReceived.Value))
	binary.LittleEndian.PutUint32(payload[2:6], bitfield)
	_ = c.socket.SendTo(c.addr, c.salt, 0, payload)
}

func (c *Connection) handleReliableAck(payload []byte) {
	latest := seqnum.New(seqWidth, uint32(binary.LittleEndian.Uint16(payload[0:2])))
	bitfield := binary.LittleEndian.Uint32(payload[2:6])

	c.ackReceived(latest)
	for i := uint32(0); i < 32; i++ {
		if bitfield&(1<<i) != 0 {
			c.ackReceived(latest.Add(-int32(i) - 1))
		}
	}
}

func (c *Connection) ackReceived(seq seqnum.Number) {
	rec, ok := c.sendingPackets.Get(seq)
	if !ok {
		return
	}
	if rec.sent != nil {
		c.updateRTT(time.Since(*rec.sent))
	}
	c.sendingPackets.Remove(seq)
	c.packetLoss *= 0.95
}

// updateRTT applies the RFC 2988 EWMA update to the RTT and RTT
// deviation estimates (spec.md §4.3).
func (c *Connection) updateRTT(sample time.Duration) {
	delta := sample - c.rtt
	c.rtt += delta / 8
	if delta < 0 {
		delta = -delta
	}
	c.rttDev += (delta - c.rttDev) / 4
}

func (c *Connection) handleBigSlice(tag byte, payload []byte) {
	if len(payload) < 4 {
		return
	}
	chunkID := payload[0]
	sliceIndex := int(payload[1])
	sliceCount := int(binary.LittleEndian.Uint16(payload[2:4]))
	data := payload[4:]

	if c.currentReceiver == nil || c.currentReceiver.chunkID != chunkID {
		c.currentReceiver = &chunkReceiver{
			chunkID: chunkID,
			tag:     tag,
			total:   sliceCount,
			slices:  make([][]byte, sliceCount),
		}
	}
	cr := c.currentReceiver
	if sliceIndex >= 0 && sliceIndex < cr.total && !cr.got[sliceIndex] {
		cr.got[sliceIndex] = true
		cr.gotCount++
		cr.slices[sliceIndex] = append([]byte(nil), data...)
	}

	c.sendBigAck(cr)

	if cr.gotCount == cr.total {
		var full []byte
		for _, s := range cr.slices {
			full = append(full, s...)
		}
		c.inbox = append(c.inbox, AppPacket{Tag: cr.tag, Body: full})
		c.currentReceiver = nil
	}
}

func (c *Connection) sendBigAck(cr *chunkReceiver) {
	bitfield := make([]byte, 32)
	for i := 0; i < cr.total && i < maxSlices; i++ {
		if cr.got[i] {
			bitfield[i/8] |= 1 << uint(i%8)
		}
	}
	payload := make([]byte, 0, 33)
	payload = append(payload, cr.chunkID)
	payload = append(payload, bitfield...)
	_ = c.socket.SendTo(c.addr, c.salt, 0, payload)
}

func (c *Connection) handleBigAck(chunkID byte, bitfield []byte) {
	cs := c.currentSender
	if cs == nil || cs.chunkID != chunkID || len(bitfield) < 32 {
		return
	}
	for i := 0; i < len(cs.slices); i++ {
		byteIdx, bitIdx := i/8, uint(i%8)
		if bitfield[byteIdx]&(1<<bitIdx) != 0 && !cs.acked[i] {
			cs.acked[i] = true
			cs.ackedCount++
		}
	}
	if cs.ackedCount == len(cs.slices) {
		c.currentSender = nil
	}
}

// Drain returns and clears every application packet surfaced since the
// last call.
func (c *Connection) Drain() []AppPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.inbox
	c.inbox = nil
	return out
}
