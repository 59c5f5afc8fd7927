// Package packetcache implements the fixed-capacity ring buffer used to
// track in-flight and recently-received packets, indexed by sequence
// number modulo the buffer's capacity.
package packetcache

import "platformer-go/pkg/seqnum"

const capacity = 256

type slot[V any] struct {
	occupied bool
	seq      seqnum.Number
	value    V
}

// Cache is a 256-slot ring buffer keyed by sequence number. Inserting a
// new sequence number overwrites whatever previously occupied the same
// slot (seq mod 256); a lookup only returns a hit if the stored sequence
// number matches exactly, so a stale entry for a different sequence
// number that shares the same slot reads back as a miss.
type Cache[V any] struct {
	slots [capacity]slot[V]
}

// New returns an empty Cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{}
}

// Insert stores value under seq, evicting whatever previously occupied
// seq's slot.
func (c *Cache[V]) Insert(seq seqnum.Number, value V) {
	c.slots[seq.Mod(capacity)] = slot[V]{occupied: true, seq: seq, value: value}
}

// Get returns the value stored under seq and true, or the zero value and
// false if the slot is empty or holds a different sequence number.
func (c *Cache[V]) Get(seq seqnum.Number) (V, bool) {
	s := &c.slots[seq.Mod(capacity)]
	if !s.occupied || !s.seq.Equal(seq) {
		var zero V
		return zero, false
	}
	return s.value, true
}

// Has reports whether seq is currently stored.
func (c *Cache[V]) Has(seq seqnum.Number) bool {
	_, ok := c.Get(seq)
	return ok
}

// Remove clears seq's slot if it currently holds seq.
func (c *Cache[V]) Remove(seq seqnum.Number) {
	s := &c.slots[seq.Mod(capacity)]
	if s.occupied && s.seq.Equal(seq) {
		*s = slot[V]{}
	}
}

// At returns the raw contents of seq's slot: its value, whether it is
// occupied, and the sequence number it actually holds, which may differ
// from seq. Used by Connection.Update to scan the retransmission window.
func (c *Cache[V]) At(seq seqnum.Number) (value V, occupied bool, stored seqnum.Number) {
	s := &c.slots[seq.Mod(capacity)]
	return s.value, s.occupied, s.seq
}

// Update mutates the value stored at seq in place, if seq is still
// present. It is a no-op otherwise.
func (c *Cache[V]) Update(seq seqnum.Number, fn func(V) V) {
	s := &c.slots[seq.Mod(capacity)]
	if s.occupied && s.seq.Equal(seq) {
		s.value = fn(s.value)
	}
}

// Capacity is the fixed number of slots in any Cache.
func Capacity() int { return capacity }
