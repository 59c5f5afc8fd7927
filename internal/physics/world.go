package physics

import "math"

// World holds every PhysicsObject and drives the substepped
// integrate/solve/integrate loop of spec.md §4.5.
type World struct {
	Gravity Vec2
	Steps   float64 // substeps per unit of dt, world.steps in spec.md §4.5

	// Solver tuning (spec.md §4.5: "configurable Baumgarte bias,
	// position slop, restitution slop, and solver iteration count").
	BaumgarteBias      float64
	PositionSlop       float64
	RestitutionSlop    float64
	SolverIterations   int

	objects []*PhysicsObject
	tree    *AABBTree
}

// NewWorld returns a World with the teacher-independent, spec-typical
// tuning defaults used throughout this repo's levels.
func NewWorld() *World {
	return &World{
		Gravity:          Vec2{0, -20},
		Steps:            1,
		BaumgarteBias:    0.2,
		PositionSlop:     0.01,
		RestitutionSlop:  0.5,
		SolverIterations: 8,
		tree:             NewAABBTree(),
	}
}

// AddObject registers obj with the world and its broad phase.
func (w *World) AddObject(obj *PhysicsObject) {
	w.objects = append(w.objects, obj)
	w.tree.Insert(obj)
}

// RemoveObject removes obj from the world and its broad phase.
func (w *World) RemoveObject(obj *PhysicsObject) {
	for i, o := range w.objects {
		if o == obj {
			w.objects = append(w.objects[:i], w.objects[i+1:]...)
			break
		}
	}
	w.tree.Remove(obj)
}

// Objects returns the world's current object list. Callers must not
// retain the slice across a subsequent AddObject/RemoveObject.
func (w *World) Objects() []*PhysicsObject { return w.objects }

// Bounds returns the broad phase's current root AABB, the union of
// every registered object's bounds. ok is false for an empty world.
func (w *World) Bounds() (min, max Vec2, ok bool) {
	return w.tree.RootBounds()
}

// Update advances the world by dt, in ceil(Steps*dt) substeps (spec.md
// §4.5). Each substep: integrate velocities, resolve contacts and
// constraints, integrate positions.
func (w *World) Update(dt float64) {
	steps := int(math.Ceil(w.Steps * dt))
	if steps < 1 {
		steps = 1
	}
	sub := dt / float64(steps)
	for i := 0; i < steps; i++ {
		w.substep(sub)
	}
}

func (w *World) substep(dt float64) {
	for _, o := range w.objects {
		if o.InvMass == 0 {
			continue
		}
		o.Vel = o.Vel.Add(w.Gravity.Scale(dt))
	}

	contacts := w.generateContacts()

	for iter := 0; iter < w.SolverIterations; iter++ {
		for _, o := range w.objects {
			for _, ac := range o.Constraints {
				ac.Constraint.Apply(o, ac.Other, dt)
			}
		}
		for i := range contacts {
			resolveContact(&contacts[i], w.BaumgarteBias, w.PositionSlop, w.RestitutionSlop)
		}
	}

	for _, o := range w.objects {
		o.Pos = o.Pos.Add(o.Vel.Scale(dt))
		o.Rot += o.RotVel * dt
		w.tree.Move(o)
	}
}

// contact is a single narrow-phase contact between two bodies: the
// centre-to-centre normal (pointing from A to B) and penetration depth.
// Per-point impulse accumulation (warm starting) is allowed but not
// required by spec.md §4.5; this solver re-derives impulses each iteration.
type contact struct {
	A, B        *PhysicsObject
	Normal      Vec2
	Penetration float64
	Point       Vec2
}

func (w *World) generateContacts() []contact {
	var out []contact
	for _, pair := range w.tree.Pairs() {
		if pair.A.InvMass == 0 && pair.B.InvMass == 0 {
			continue
		}
		c, ok := narrowPhase(pair.A, pair.B)
		if !ok {
			continue
		}
		if pair.A.Collide != nil && pair.A.Collide(pair.A, pair.B, c.Normal, c.Point, c.Point) {
			continue
		}
		if pair.B.Collide != nil && pair.B.Collide(pair.B, pair.A, c.Normal.Scale(-1), c.Point, c.Point) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// narrowPhase tests the bounding circle of each object's colliders
// against the other, a contract-level stand-in for full polygon SAT
// (see DESIGN.md): every collider degrades to its bounding radius for
// contact generation, which is enough to exercise the constraint/
// contact solver end to end without implementing polygon clipping.
func narrowPhase(a, b *PhysicsObject) (contact, bool) {
	ra := boundingRadius(a)
	rb := boundingRadius(b)

	delta := b.Pos.Sub(a.Pos)
	dist := delta.Len()
	penetration := ra + rb - dist

	if penetration <= 0 {
		return contact{}, false
	}

	normal := delta.Normalized()
	if dist == 0 {
		normal = Vec2{0, 1}
	}
	point := a.Pos.Add(normal.Scale(ra))
	return contact{A: a, B: b, Normal: normal, Penetration: penetration, Point: point}, true
}

func boundingRadius(o *PhysicsObject) float64 {
	min, max := Vec2{}, Vec2{}
	first := true
	for _, c := range o.Colliders {
		cmin, cmax := c.LocalBounds()
		if first {
			min, max = cmin, cmax
			first = false
			continue
		}
		if cmin.X < min.X {
			min.X = cmin.X
		}
		if cmin.Y < min.Y {
			min.Y = cmin.Y
		}
		if cmax.X > max.X {
			max.X = cmax.X
		}
		if cmax.Y > max.Y {
			max.Y = cmax.Y
		}
	}
	d := max.Sub(min)
	return math.Max(d.X, d.Y) / 2
}

// resolveContact applies a sequential-impulse solve for one contact,
// with Baumgarte position-bias and a restitution slop below which
// bounce is suppressed (spec.md §4.5).
func resolveContact(c *contact, baumgarte, positionSlop, restitutionSlop float64) {
	a, b := c.A, c.B
	ra := c.Point.Sub(a.Pos)
	rb := c.Point.Sub(b.Pos)

	relVel := b.Vel.Add(CrossScalar(b.RotVel, rb)).Sub(a.Vel.Add(CrossScalar(a.RotVel, ra)))
	velAlongNormal := relVel.Dot(c.Normal)
	if velAlongNormal > 0 {
		return // separating already
	}

	raCrossN := ra.Cross(c.Normal)
	rbCrossN := rb.Cross(c.Normal)
	invMassSum := a.InvMass + b.InvMass + raCrossN*raCrossN*a.InvMoment + rbCrossN*rbCrossN*b.InvMoment
	if invMassSum == 0 {
		return
	}

	restitution := math.Min(a.Restitution, b.Restitution)
	if -velAlongNormal < restitutionSlop {
		restitution = 0
	}

	bias := baumgarte * math.Max(c.Penetration-positionSlop, 0)
	j := -(1+restitution)*velAlongNormal + bias
	j /= invMassSum

	impulse := c.Normal.Scale(j)
	a.Vel = a.Vel.Sub(impulse.Scale(a.InvMass))
	a.RotVel -= ra.Cross(impulse) * a.InvMoment
	b.Vel = b.Vel.Add(impulse.Scale(b.InvMass))
	b.RotVel += rb.Cross(impulse) * b.InvMoment
}
