package physics

import "math"

// Constraint is one of the four joint variants of spec.md §4.2: Pivot,
// Fixed, Slider, Custom. Apply is called once per solver iteration with
// the two bodies it joins (in the order recorded by AttachedConstraint).
type Constraint interface {
	Apply(a, b *PhysicsObject, dt float64)
}

// PivotConstraint holds two local anchor points coincident: a ball-
// socket joint.
type PivotConstraint struct {
	AnchorA, AnchorB Vec2
	Bias             float64 // Baumgarte stabilization factor, (0,1]
}

func (p PivotConstraint) Apply(a, b *PhysicsObject, dt float64) {
	worldA := a.Pos.Add(rotate(p.AnchorA, a.Rot))
	worldB := b.Pos.Add(rotate(p.AnchorB, b.Rot))
	separation := worldB.Sub(worldA)
	if separation.LenSq() == 0 {
		return
	}
	applyPointConstraint(a, b, worldA, worldB, separation, p.bias())
}

func (p PivotConstraint) bias() float64 {
	if p.Bias == 0 {
		return defaultBaumgarte
	}
	return p.Bias
}

// FixedConstraint holds two anchors coincident AND the bodies' relative
// rotation constant.
type FixedConstraint struct {
	AnchorA, AnchorB Vec2
	RestAngle        float64
	Bias             float64
}

func (f FixedConstraint) Apply(a, b *PhysicsObject, dt float64) {
	PivotConstraint{AnchorA: f.AnchorA, AnchorB: f.AnchorB, Bias: f.Bias}.Apply(a, b, dt)

	angleError := (b.Rot - a.Rot) - f.RestAngle
	invSum := a.InvMoment + b.InvMoment
	if invSum == 0 {
		return
	}
	bias := f.Bias
	if bias == 0 {
		bias = defaultBaumgarte
	}
	correction := -bias * angleError / invSum
	a.RotVel -= correction * a.InvMoment
	b.RotVel += correction * b.InvMoment
}

// SliderConstraint constrains the two anchors to move only along a
// shared normal (in body A's frame), allowing relative translation
// along that axis but not perpendicular to it.
type SliderConstraint struct {
	AnchorA, AnchorB Vec2
	Normal           Vec2
	Bias             float64
}

func (s SliderConstraint) Apply(a, b *PhysicsObject, dt float64) {
	worldA := a.Pos.Add(rotate(s.AnchorA, a.Rot))
	worldB := b.Pos.Add(rotate(s.AnchorB, b.Rot))
	separation := worldB.Sub(worldA)

	axis := rotate(s.Normal, a.Rot).Normalized()
	perp := axis.Perp()
	off := separation.Dot(perp)
	if off == 0 {
		return
	}
	bias := s.Bias
	if bias == 0 {
		bias = defaultBaumgarte
	}
	applyPointConstraint(a, b, worldA, worldB, perp.Scale(off), bias)
}

// CustomConstraint calls a user-supplied function every solver
// iteration, for script-defined joints.
type CustomConstraint struct {
	Fn func(a, b *PhysicsObject, dt float64)
}

func (c CustomConstraint) Apply(a, b *PhysicsObject, dt float64) {
	if c.Fn != nil {
		c.Fn(a, b, dt)
	}
}

const defaultBaumgarte = 0.2

func rotate(v Vec2, angle float64) Vec2 {
	s, c := math.Sincos(angle)
	return Vec2{v.X*c - v.Y*s, v.X*s + v.Y*c}
}

// applyPointConstraint removes relative velocity along separation and
// applies a Baumgarte position-bias impulse, used by Pivot/Fixed/Slider.
func applyPointConstraint(a, b *PhysicsObject, worldA, worldB, separation Vec2, bias float64) {
	ra := worldA.Sub(a.Pos)
	rb := worldB.Sub(b.Pos)

	relVel := b.Vel.Add(CrossScalar(b.RotVel, rb)).Sub(a.Vel.Add(CrossScalar(a.RotVel, ra)))
	n := separation.Normalized()

	raCrossN := ra.Cross(n)
	rbCrossN := rb.Cross(n)
	invMassSum := a.InvMass + b.InvMass + raCrossN*raCrossN*a.InvMoment + rbCrossN*rbCrossN*b.InvMoment
	if invMassSum == 0 {
		return
	}

	lambda := -(relVel.Dot(n) + bias*separation.Len()) / invMassSum
	impulse := n.Scale(lambda)

	a.Vel = a.Vel.Sub(impulse.Scale(a.InvMass))
	a.RotVel -= ra.Cross(impulse) * a.InvMoment
	b.Vel = b.Vel.Add(impulse.Scale(b.InvMass))
	b.RotVel += rb.Cross(impulse) * b.InvMoment
}
