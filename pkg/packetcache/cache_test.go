package packetcache

import (
	"testing"

	"platformer-go/pkg/seqnum"
)

func seq(v uint32) seqnum.Number { return seqnum.New(16, v) }

func TestInsertGet(t *testing.T) {
	c := New[string]()
	c.Insert(seq(5), "hello")
	got, ok := c.Get(seq(5))
	if !ok || got != "hello" {
		t.Fatalf("Get(5) = %q, %v; want hello, true", got, ok)
	}
}

func TestOverwriteSameSlotDifferentSeqEvicts(t *testing.T) {
	c := New[int]()
	c.Insert(seq(10), 1)
	c.Insert(seq(10+256), 2) // same slot (10 mod 256 == 266 mod 256), different seq

	if _, ok := c.Get(seq(10)); ok {
		t.Error("Get(10) should miss after slot was overwritten by seq 266")
	}
	got, ok := c.Get(seq(10 + 256))
	if !ok || got != 2 {
		t.Errorf("Get(266) = %v, %v; want 2, true", got, ok)
	}
}

func TestMissOnEmptySlot(t *testing.T) {
	c := New[int]()
	if _, ok := c.Get(seq(42)); ok {
		t.Error("Get on empty cache should miss")
	}
}

func TestRemove(t *testing.T) {
	c := New[int]()
	c.Insert(seq(1), 9)
	c.Remove(seq(1))
	if c.Has(seq(1)) {
		t.Error("Has(1) should be false after Remove")
	}
}

func TestCapacityIs256(t *testing.T) {
	if Capacity() != 256 {
		t.Errorf("Capacity() = %d, want 256", Capacity())
	}
}
