// Package sync implements spec.md §4.7's per-object priority estimator:
// ObjectSync accumulates a priority score from a base rate plus the
// divergence between a client-side dead-reckoning prediction and the
// object's actual trajectory, and flags the object for broadcast once
// that score crosses 1.0.
package sync

import (
	"platformer-go/internal/game"
	"platformer-go/internal/physics"
)

const (
	priorityThreshold   = 1.0
	staticPriorityRate  = 0.02
	dynamicPriorityRate = 0.10
	maxDivergenceTerm   = 0.3
	divergenceScale     = 15.0

	// nearlyStaticThresholdSq is the squared-velocity threshold below
	// which a body is treated as at rest for prediction purposes (spec.md
	// §9 Open Question: "0.2² ms⁻²" resolved as a squared-velocity bound
	// on the object's own velocity, documented in DESIGN.md).
	nearlyStaticThresholdSq = 0.2 * 0.2
)

// ObjectSync tracks one GameObject's last-broadcast snapshot and
// accumulated priority.
type ObjectSync struct {
	ID     uint32
	Object *game.GameObject

	prevPos physics.Vec2
	prevVel physics.Vec2
	dt      float64

	priority  float64
	isNew     bool
	everDirty bool
}

// New returns an ObjectSync for obj, snapshotting its position and
// velocity, and flagged as new (IsNew) until MarkCreated is called.
// Update does not consult the flag.
func New(id uint32, obj *game.GameObject) *ObjectSync {
	return &ObjectSync{
		ID:      id,
		Object:  obj,
		prevPos: obj.Pos,
		prevVel: obj.Vel,
		isNew:   true,
	}
}

// IsNew reports whether this sync has not yet announced its object's
// creation.
func (s *ObjectSync) IsNew() bool { return s.isNew }

// MarkCreated clears the new flag once the creation packet has been sent.
func (s *ObjectSync) MarkCreated() { s.isNew = false }

func isNearlyStatic(vel physics.Vec2) bool {
	return vel.LenSq() < nearlyStaticThresholdSq
}

// Update runs one tick of spec.md §4.7's priority accumulation against the
// world's current gravity and reports whether the object is now eligible
// for this tick's broadcast.
func (s *ObjectSync) Update(gravity physics.Vec2) bool {
	if s.Object.IsStatic() {
		s.priority += staticPriorityRate
	} else {
		s.priority += dynamicPriorityRate
	}
	s.dt++

	var predictedPos, predictedVel physics.Vec2
	if isNearlyStatic(s.Object.Vel) {
		predictedPos = s.prevPos.Add(s.prevVel.Scale(s.dt))
		predictedVel = s.prevVel
	} else {
		predictedPos = s.prevPos.Add(s.prevVel.Scale(s.dt)).Add(gravity.Scale(0.5 * s.dt * s.dt))
		predictedVel = s.prevVel.Add(gravity.Scale(s.dt))
	}

	posDivergence := predictedPos.Sub(s.Object.Pos).Len() / divergenceScale
	if posDivergence > maxDivergenceTerm {
		posDivergence = maxDivergenceTerm
	}
	velDivergence := predictedVel.Sub(s.Object.Vel).Len() / divergenceScale
	if velDivergence > maxDivergenceTerm {
		velDivergence = maxDivergenceTerm
	}
	s.priority += posDivergence + velDivergence

	if s.Object.DirtyState {
		s.priority += 1
		s.Object.DirtyState = false
	}

	return s.priority >= priorityThreshold
}

// Reset refreshes the snapshot and zeroes priority/Δt after a broadcast.
func (s *ObjectSync) Reset() {
	s.prevPos = s.Object.Pos
	s.prevVel = s.Object.Vel
	s.dt = 0
	s.priority = 0
}

// PropsDirty reports and clears the object's dirty-props flag; property
// changes are flushed independently of priority (spec.md §4.7).
func (s *ObjectSync) PropsDirty() bool {
	if !s.Object.DirtyProps {
		return false
	}
	s.Object.DirtyProps = false
	s.everDirty = true
	return true
}

// EverDirty reports whether this object has ever had a property change
// flushed; used to decide whether a newly-broadcast object's creation
// packet must be followed by a property packet (original_source/server.py's
// ObjectSync.ever_dirty).
func (s *ObjectSync) EverDirty() bool { return s.everDirty }

// Kinematics snapshot (Pos, Vel, Rot, RotVel), read directly by the
// broadcast batcher in internal/server.
func (s *ObjectSync) Kinematics() (pos, vel physics.Vec2, rot, rotVel float64) {
	return s.Object.Pos, s.Object.Vel, s.Object.Rot, s.Object.RotVel
}
