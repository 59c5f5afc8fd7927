package physics

// Collider is a convex shape attached to a PhysicsObject's local frame.
// Circle, axis-aligned Box and Polygon colliders are defined; contact
// generation reduces each of them to a bounding radius (see narrowPhase
// in world.go). spec.md §1/§4.5 specifies the solver at contract level and
// does not mandate full polygon-vs-polygon SAT clipping.
type Collider interface {
	// LocalBounds returns the collider's axis-aligned bounds in its
	// object's local frame, used to derive the object's world AABB.
	LocalBounds() (min, max Vec2)
}

// CircleCollider is a circle centered on its object's origin.
type CircleCollider struct {
	Radius float64
}

func (c CircleCollider) LocalBounds() (min, max Vec2) {
	return Vec2{-c.Radius, -c.Radius}, Vec2{c.Radius, c.Radius}
}

// BoxCollider is an axis-aligned rectangle centered on its object's
// origin, described by its half-extents.
type BoxCollider struct {
	HalfWidth, HalfHeight float64
}

func (b BoxCollider) LocalBounds() (min, max Vec2) {
	return Vec2{-b.HalfWidth, -b.HalfHeight}, Vec2{b.HalfWidth, b.HalfHeight}
}

// PolygonCollider is a convex polygon given in local, centroid-relative
// winding order. Only its bounding box participates in narrow-phase
// resolution; this is a deliberate simplification of spec.md's
// contract-level polygon collider (see DESIGN.md).
type PolygonCollider struct {
	Points []Vec2
}

func (p PolygonCollider) LocalBounds() (min, max Vec2) {
	if len(p.Points) == 0 {
		return Vec2{}, Vec2{}
	}
	min, max = p.Points[0], p.Points[0]
	for _, pt := range p.Points[1:] {
		if pt.X < min.X {
			min.X = pt.X
		}
		if pt.Y < min.Y {
			min.Y = pt.Y
		}
		if pt.X > max.X {
			max.X = pt.X
		}
		if pt.Y > max.Y {
			max.Y = pt.Y
		}
	}
	return min, max
}

// CollideFunc is invoked before a contact between Self and Other is
// applied; a true return cancels the contact (spec.md §4.5, §4.6).
type CollideFunc func(self, other *PhysicsObject, normal Vec2, localA, localB Vec2) bool

// PhysicsObject is a single rigid body: position, orientation, their
// derivatives, mass/inertia (inverse form: a mass of -1 becomes a zero
// inverse, which encodes a static/infinite-mass body), and the
// colliders and constraints attached to it.
type PhysicsObject struct {
	ID int

	Pos    Vec2
	Vel    Vec2
	Rot    float64
	RotVel float64

	InvMass   float64
	InvMoment float64

	Restitution float64
	Friction    float64

	Colliders   []Collider
	Constraints []AttachedConstraint

	// Collide is consulted before a contact is resolved; nil means
	// every contact is accepted.
	Collide CollideFunc

	aabbNode int
}

// AttachedConstraint pairs a Constraint with the other body it joins
// this object to.
type AttachedConstraint struct {
	Other      *PhysicsObject
	Constraint Constraint
}

// NewDynamic builds a PhysicsObject with finite mass/moment.
func NewDynamic(mass, moment, restitution, friction float64) *PhysicsObject {
	return &PhysicsObject{
		InvMass:     invert(mass),
		InvMoment:   invert(moment),
		Restitution: restitution,
		Friction:    friction,
		aabbNode:    nullNode,
	}
}

// NewStatic builds an infinite-mass PhysicsObject (a level platform, for
// instance): it never moves under impulses.
func NewStatic(restitution, friction float64) *PhysicsObject {
	return &PhysicsObject{
		InvMass:     0,
		InvMoment:   0,
		Restitution: restitution,
		Friction:    friction,
		aabbNode:    nullNode,
	}
}

func invert(v float64) float64 {
	if v < 0 {
		return 0 // "-1 means infinite" (spec.md §4.2) -> zero inverse mass
	}
	if v == 0 {
		return 0
	}
	return 1 / v
}

// IsStatic reports whether the object has both infinite mass and
// infinite moment of inertia.
func (o *PhysicsObject) IsStatic() bool {
	return o.InvMass == 0 && o.InvMoment == 0
}

// WorldAABB unions every collider's local bounds, offset by Pos. The
// object's rotation is not applied: the bounds are those of the
// unrotated colliders.
func (o *PhysicsObject) WorldAABB() (min, max Vec2) {
	if len(o.Colliders) == 0 {
		return o.Pos, o.Pos
	}
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
	return min.Add(o.Pos), max.Add(o.Pos)
}

// PolygonMassMoment computes mass and moment of inertia for a
// polygon given in winding order, via the shoelace-formula derivation
// ported from original_source/objects.py's calculate_props (numpy ->
// plain float64). density <= 0 signals a static (infinite-mass) object.
func PolygonMassMoment(points []Vec2, density float64) (mass, moment float64, centroid Vec2) {
	n := len(points)
	area := 0.0
	for i := 0; i < n; i++ {
		a, b := points[i], points[(i+n-1)%n]
		area += a.Cross(b)
	}
	area /= 2

	var cx, cy float64
	for i := 0; i < n; i++ {
		a, b := points[i], points[(i+n-1)%n]
		cross := a.Cross(b)
		cx += (a.X + b.X) * cross
		cy += (a.Y + b.Y) * cross
	}
	centroid = Vec2{cx / (6 * area), cy / (6 * area)}

	if density <= 0 {
		return -1, -1, centroid
	}
	mass = area * density
	if mass < 0 {
		mass = -mass
	}

	var momentSum float64
	for i := 0; i < n; i++ {
		a := points[i].Sub(centroid)
		b := points[(i+n-1)%n].Sub(centroid)
		momentSum += a.Cross(b) * (a.LenSq() + a.Dot(b) + b.LenSq())
	}
	moment = momentSum * mass / (12 * area)
	return mass, moment, centroid
}

// CircleMassMoment ports original_source/objects.py's
// circle_mass_moment: mass = π·r²·density, moment = mass·r²/2. density
// <= 0 signals a static (infinite-mass) object.
func CircleMassMoment(radius, density float64) (mass, moment float64) {
	if density <= 0 {
		return -1, -1
	}
	const pi = 3.14159265358979323846
	mass = pi * radius * radius * density
	moment = mass * radius * radius / 2
	return mass, moment
}
