package wire

import (
	"fmt"
	"reflect"
)

// Kind classifies how a packet type is delivered (spec.md §3).
type Kind int

const (
	// Normal packets are unreliable, best-effort, unordered.
	Normal Kind = iota
	// Reliable packets are delivered at-least-once on the wire and
	// surfaced to the application at-most-once, in order.
	Reliable
	// Big packets are split into slices and reassembled as one atomic
	// application-level event.
	Big
	// Initial packets belong to the handshake only and never pass
	// through a Connection.
	Initial
)

// Packet is implemented by every entry in the packet-type registry. Tag 0
// is reserved for ACKs; registry tags start at 1 and must never be
// reordered once assigned (spec.md §4.10 — the registry order is the
// protocol's API).
type Packet interface {
	// Kind reports this packet type's delivery class.
	Kind() Kind
	// WriteBody serializes the packet's fields (not including the tag,
	// which the registry/codec writes).
	WriteBody(bs *BitStream)
	// ReadBody deserializes the packet's fields from bs.
	ReadBody(bs *BitStream) error
}

type registryEntry struct {
	name string
	kind Kind
	new  func() Packet
}

// registry is the ordered packet-type table of spec.md §6. Index i holds
// the packet assigned tag i+1. Never reorder these entries.
var registry = []registryEntry{
	{"InitConnectionServer", Initial, func() Packet { return &InitConnectionServer{} }},
	{"InitConnectionClient", Reliable, func() Packet { return &InitConnectionClient{} }},
	{"ScriptPacket", Big, func() Packet { return &ScriptPacket{} }},
	{"LevelProps", Reliable, func() Packet { return &LevelProps{} }},
	{"UpdateClientInput", Normal, func() Packet { return &UpdateClientInput{} }},
	{"UpdateClientResponse", Normal, func() Packet { return &UpdateClientResponse{} }},
	{"PlayerState", Normal, func() Packet { return &PlayerState{} }},
	{"NewObject", Reliable, func() Packet { return &NewObject{} }},
	{"DeleteObject", Reliable, func() Packet { return &DeleteObject{} }},
	{"ObjectProps", Reliable, func() Packet { return &ObjectProps{} }},
	{"UpdateObjects", Normal, func() Packet { return &UpdateObjects{} }},
	{"NewConstraint", Reliable, func() Packet { return &NewConstraint{} }},
	{"NewPlayer", Reliable, func() Packet { return &NewPlayer{} }},
	{"DeletePlayer", Reliable, func() Packet { return &DeletePlayer{} }},
	{"Disconnect", Normal, func() Packet { return &Disconnect{} }},
}

var nameToTag = func() map[string]byte {
	m := make(map[string]byte, len(registry))
	for i, e := range registry {
		m[e.name] = byte(i + 1)
	}
	return m
}()

// TagOf returns the registry tag for a packet type's name, for use by
// callers constructing a packet and wanting to encode it.
func TagOf(name string) (byte, bool) {
	tag, ok := nameToTag[name]
	return tag, ok
}

// KindOf reports the delivery class registered for tag.
func KindOf(tag byte) (Kind, error) {
	if tag == 0 || int(tag) > len(registry) {
		return 0, fmt.Errorf("wire: tag %d out of range", tag)
	}
	return registry[tag-1].kind, nil
}

// New instantiates the zero-valued Packet registered for tag.
func New(tag byte) (Packet, error) {
	if tag == 0 || int(tag) > len(registry) {
		return nil, fmt.Errorf("wire: unknown packet tag %d", tag)
	}
	return registry[tag-1].new(), nil
}

// Encode writes tag‖payload for p, where tag is p's registry tag.
func Encode(p Packet) ([]byte, error) {
	tag, ok := tagForPacket(p)
	if !ok {
		return nil, fmt.Errorf("wire: packet %T is not registered", p)
	}
	bs := NewWriter()
	p.WriteBody(bs)
	out := make([]byte, 0, 1+len(bs.Bytes()))
	out = append(out, tag)
	out = append(out, bs.Bytes()...)
	return out, nil
}

var typeToTag = func() map[reflect.Type]byte {
	m := make(map[reflect.Type]byte, len(registry))
	for i, e := range registry {
		m[reflect.TypeOf(e.new())] = byte(i + 1)
	}
	return m
}()

func tagForPacket(p Packet) (byte, bool) {
	tag, ok := typeToTag[reflect.TypeOf(p)]
	return tag, ok
}

// EncodeFor returns p's registry tag and serialized body separately, for
// callers (internal/netconn.Connection) that frame the tag and body
// through their own delivery-class-specific envelope instead of writing
// them back-to-back as Encode does.
func EncodeFor(p Packet) (tag byte, body []byte, err error) {
	tag, ok := tagForPacket(p)
	if !ok {
		return 0, nil, fmt.Errorf("wire: packet %T is not registered", p)
	}
	bs := NewWriter()
	p.WriteBody(bs)
	return tag, bs.Bytes(), nil
}

// Decode reads a registry tag plus body from data and returns the
// populated Packet.
func Decode(tag byte, body []byte) (Packet, error) {
	p, err := New(tag)
	if err != nil {
		return nil, err
	}
	bs := NewReader(body)
	if err := p.ReadBody(bs); err != nil {
		return nil, fmt.Errorf("wire: decode tag %d: %w", tag, err)
	}
	return p, nil
}
