package sync

import "platformer-go/internal/wire"

// maxBatchSize is spec.md §4.7's cap on objects per NORMAL update packet.
const maxBatchSize = 20

// Batch groups ready syncs into UpdateObjects packets of at most
// maxBatchSize entries each, and resets every included sync's priority
// accumulator.
func Batch(tick uint32, ready []*ObjectSync) []*wire.UpdateObjects {
	var out []*wire.UpdateObjects
	for len(ready) > 0 {
		n := len(ready)
		if n > maxBatchSize {
			n = maxBatchSize
		}
		chunk := ready[:n]
		ready = ready[n:]

		pkt := &wire.UpdateObjects{Tick: tick, Objects: make([]wire.ObjectKinematics, 0, n)}
		for _, s := range chunk {
			pos, vel, rot, rotVel := s.Kinematics()
			pkt.Objects = append(pkt.Objects, wire.ObjectKinematics{
				ID:     s.ID,
				Pos:    wire.Vec2{X: pos.X, Y: pos.Y},
				Vel:    wire.Vec2{X: vel.X, Y: vel.Y},
				Rot:    float32(rot),
				RotVel: float32(rotVel),
			})
			s.Reset()
		}
		out = append(out, pkt)
	}
	return out
}
