package seqnum

import "testing"

func TestLess16Bit(t *testing.T) {
	cases := []struct {
		a, b uint32
		less bool
	}{
		{0, 1, true},
		{1, 0, false},
		{65535, 0, true},  // wraps forward
		{0, 65535, false}, // wraps backward
		{100, 100, false}, // equal is never less
		{0, 32768, true},  // exactly half the window: still "less"
		{32768, 0, true},  // exactly half the window the other way: also "less"
	}

	for _, c := range cases {
		a := New(16, c.a)
		b := New(16, c.b)
		if got := a.Less(b); got != c.less {
			t.Errorf("New(16,%d).Less(New(16,%d)) = %v, want %v", c.a, c.b, got, c.less)
		}
	}
}

func TestNoReflexiveOrdering(t *testing.T) {
	for _, v := range []uint32{0, 1, 32767, 32768, 65535} {
		n := New(16, v)
		if n.Less(n) {
			t.Errorf("New(16,%d).Less(itself) reported true", v)
		}
		if n.Greater(n) {
			t.Errorf("New(16,%d).Greater(itself) reported true", v)
		}
		if !n.Equal(n) {
			t.Errorf("New(16,%d).Equal(itself) reported false", v)
		}
	}
}

func TestAddWraps(t *testing.T) {
	n := New(16, 65535)
	if got := n.Add(1); got.Value != 0 {
		t.Errorf("65535+1 = %d, want 0", got.Value)
	}
	n = New(16, 0)
	if got := n.Add(-1); got.Value != 65535 {
		t.Errorf("0-1 = %d, want 65535", got.Value)
	}
}

func TestSubRoundTrip(t *testing.T) {
	for _, delta := range []int32{-1000, -1, 0, 1, 1000, 32767} {
		a := New(16, 40000)
		b := a.Add(delta)
		if got := b.Sub(a); got != delta {
			t.Errorf("a.Add(%d).Sub(a) = %d, want %d", delta, got, delta)
		}
	}
}

func TestMod(t *testing.T) {
	n := New(16, 257)
	if got := n.Mod(256); got != 1 {
		t.Errorf("257 mod 256 = %d, want 1", got)
	}
}
