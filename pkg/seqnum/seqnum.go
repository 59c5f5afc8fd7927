// Package seqnum implements cyclic, fixed-width sequence numbers used
// throughout the wire protocol to order and deduplicate datagrams.
package seqnum

// Number is a sequence number of a fixed bit Width, wrapping modulo 2^Width.
// Comparisons are modular: a value is only "less than" another if it falls
// within half the number space ahead of it, so wrap-around is invisible to
// callers that always compare numbers drawn from the same narrow window.
type Number struct {
	Width uint
	Value uint32
}

// New constructs a Number of the given bit width holding value mod 2^width.
func New(width uint, value uint32) Number {
	return Number{Width: width, Value: value & mask(width)}
}

func mask(width uint) uint32 {
	if width >= 32 {
		return ^uint32(0)
	}
	return (uint32(1) << width) - 1
}

func (n Number) modulus() uint32 {
	return mask(n.Width) + 1
}

// half returns 2^(Width-1), the size of the comparison window.
func (n Number) half() uint32 {
	if n.Width == 0 {
		return 0
	}
	return uint32(1) << (n.Width - 1)
}

// Less reports whether n precedes other under modular ordering: n < other
// iff (other - n) mod 2^Width lies in (0, 2^(Width-1)].
func (n Number) Less(other Number) bool {
	diff := (other.Value - n.Value) & mask(n.Width)
	return diff > 0 && diff <= n.half()
}

// Greater reports whether n follows other under modular ordering.
func (n Number) Greater(other Number) bool {
	return other.Less(n)
}

// Equal reports exact equality; ties are never reported as Less or Greater.
func (n Number) Equal(other Number) bool {
	return n.Value == other.Value
}

// Add returns n incremented by a signed delta, wrapping modulo 2^Width.
func (n Number) Add(delta int32) Number {
	m := int64(n.modulus())
	v := (int64(n.Value) + int64(delta)) % m
	if v < 0 {
		v += m
	}
	return Number{Width: n.Width, Value: uint32(v)}
}

// Sub returns the signed modular distance from other to n, i.e. the delta
// such that other.Add(delta) == n, chosen from the half-open window
// (-2^(Width-1), 2^(Width-1)].
func (n Number) Sub(other Number) int32 {
	diff := (n.Value - other.Value) & mask(n.Width)
	half := n.half()
	if diff > half {
		return int32(diff) - int32(n.modulus())
	}
	return int32(diff)
}

// Mod returns the slot this sequence number occupies in a ring buffer of
// the given capacity.
func (n Number) Mod(capacity uint32) uint32 {
	return n.Value % capacity
}
