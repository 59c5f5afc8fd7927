// Package level decodes a level file's JSON object/constraint records into
// internal/physics and internal/game constructions. Grounded on
// original_source/objects.py's Object.__init__ (the type-keyed dispatch to
// polygon/circle construction and the optional-density static/dynamic
// split) and original_source/packets.py's NewConstraintPacketClient.handle
// (the type-keyed constraint dispatch and its object-index addressing).
package level

import (
	"encoding/json"
	"fmt"

	"platformer-go/internal/game"
	"platformer-go/internal/physics"
)

// PhysicsRecord carries the optional density that decides whether an
// object is dynamic or static. A nil Density means "absent" in the source
// JSON, matching original_source/objects.py's `density = data['physics']['density']
// if 'physics' in data else None`.
type PhysicsRecord struct {
	Density *float64 `json:"density"`
}

// AnimationRecord mirrors original_source/objects.py's `animated` block:
// a looping offset of (dx, dy) over period ticks, phased by dt.
type AnimationRecord struct {
	Period float64 `json:"period"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	DT     float64 `json:"dt"`
}

// CheckpointRecord mirrors the `checkpoint` block.
type CheckpointRecord struct {
	Index int `json:"index"`
}

// ObjectRecord is one level object, type-dispatched the same way
// original_source/objects.py's Object.__init__ is: polygon objects carry
// Points, circle objects carry Radius+Pos. The "text" object type from the
// original editor is a draw-time-only decoration with no physics
// footprint and is intentionally not reproduced here.
type ObjectRecord struct {
	Type        string            `json:"type"`
	Physics     *PhysicsRecord    `json:"physics"`
	Points      [][2]float64      `json:"points"`
	Radius      float64           `json:"radius"`
	Pos         [2]float64        `json:"pos"`
	Restitution float64           `json:"restitution"`
	Friction    float64           `json:"friction"`
	Colour      [3]byte           `json:"colour"`
	Lethal      bool              `json:"lethal"`
	Checkpoint  *CheckpointRecord `json:"checkpoint"`
	Groups      []string          `json:"groups"`
	Trigger     string            `json:"trigger"`
	Animated    *AnimationRecord  `json:"animated"`
}

// ConstraintRecord joins two objects by index, keyed the way
// original_source/packets.py's NewConstraintPacketClient carries a
// constraint: a type tag plus local anchors in each object's own frame,
// with Normal only meaningful for "slider".
type ConstraintRecord struct {
	Type   string     `json:"type"`
	A      int        `json:"a"`
	B      int        `json:"b"`
	LocalA [2]float64 `json:"local_a"`
	LocalB [2]float64 `json:"local_b"`
	Normal [2]float64 `json:"normal"`
}

// File is the top-level level document: an ordered object list and a
// constraint list addressing it by index.
type File struct {
	Gravity     [2]float64         `json:"gravity"`
	Spawn       [2]float64         `json:"spawn"`
	Objects     []ObjectRecord     `json:"objects"`
	Constraints []ConstraintRecord `json:"constraints"`
}

// ConstraintSnapshot is the wire-level encoding of one constraint
// (`wire.NewConstraint`'s Record): the level file's by-index A/B
// addressing is already resolved to real object IDs by the time a
// constraint is broadcast, so only the joint shape itself travels,
// mirroring original_source/packets.py's NewConstraintPacketClient
// `data` dict (`type`, `local_a`, `local_b`, `normal`).
type ConstraintSnapshot struct {
	Type   string     `json:"type"`
	LocalA [2]float64 `json:"local_a"`
	LocalB [2]float64 `json:"local_b"`
	Normal [2]float64 `json:"normal"`
}

// ConstraintInstance pairs a built constraint's resolved object IDs with
// its wire-ready record, returned by Load for the server's join-flow and
// hot-reload constraint replay.
type ConstraintInstance struct {
	IDA, IDB int
	Record   []byte
}

func vec(p [2]float64) physics.Vec2 { return physics.Vec2{X: p[0], Y: p[1]} }

// PropsSnapshot is the wire-level encoding of an object's mutable
// properties (`wire.ObjectProps`'s Record), mirroring
// original_source/packets.py's ObjectPropsPacketClient `data` dict:
// colour, mass/moment (not their physics-layer inverse form), the
// animation/checkpoint/trigger blocks, and group membership.
type PropsSnapshot struct {
	Colour     [3]byte           `json:"colour"`
	Mass       float64           `json:"mass"`
	Moment     float64           `json:"moment"`
	Animated   *AnimationRecord  `json:"animated"`
	Lethal     bool              `json:"lethal"`
	Checkpoint *CheckpointRecord `json:"checkpoint"`
	Groups     []string          `json:"groups"`
	Trigger    string            `json:"trigger"`
}

// BuildPropsSnapshot reads obj's current mutable properties into the
// wire-ready shape, for internal/server's ObjectProps flush (on the
// property-change path, and for a joining connection's one-shot
// creation-packet replay when the object has ever been dirtied).
func BuildPropsSnapshot(obj *game.GameObject) PropsSnapshot {
	var anim *AnimationRecord
	if obj.Animation != nil {
		anim = &AnimationRecord{
			Period: obj.Animation.Period,
			DX:     obj.Animation.Offset.X,
			DY:     obj.Animation.Offset.Y,
			DT:     obj.Animation.PhaseTicks,
		}
	}
	var cp *CheckpointRecord
	if obj.Checkpoint != nil {
		cp = &CheckpointRecord{Index: obj.Checkpoint.Index}
	}
	groups := make([]string, 0, len(obj.Groups))
	for g := range obj.Groups {
		groups = append(groups, g)
	}
	return PropsSnapshot{
		Colour:     obj.Colour,
		Mass:       massFromInv(obj.InvMass),
		Moment:     massFromInv(obj.InvMoment),
		Animated:   anim,
		Lethal:     obj.Lethal,
		Checkpoint: cp,
		Groups:     groups,
		Trigger:    obj.Trigger,
	}
}

// massFromInv undoes PhysicsObject's inverse-mass encoding: -1 signals a
// static (infinite-mass) body on the wire, matching the level file's own
// density-less-object convention.
func massFromInv(inv float64) float64 {
	if inv == 0 {
		return -1
	}
	return 1 / inv
}

// Decode parses raw level JSON into a File without constructing any
// physics/game objects.
func Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("level: decode: %w", err)
	}
	return &f, nil
}

// Load builds a populated game.ScriptedWorld from a decoded File: every
// object becomes a game.GameObject with its colliders and mass/moment
// already computed, and every constraint is resolved to the pair of
// objects it names and attached to both. It also returns each object's
// original JSON record keyed by its allocated ID (original_source/
// packets.py's NewObjectPacketClient carries `obj.data`, the literal
// level-file record, verbatim) and every constraint's wire-ready
// snapshot, both consumed by internal/server's join/reload packet
// replay and by internal/client's reconciliation-driven reconstruction.
func Load(f *File) (*game.ScriptedWorld, map[int][]byte, []ConstraintInstance, error) {
	w := game.NewScriptedWorld()
	w.Gravity = vec(f.Gravity)
	w.Spawn = vec(f.Spawn)

	built := make([]*game.GameObject, len(f.Objects))
	for i, rec := range f.Objects {
		obj, err := BuildObject(rec)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("level: object %d: %w", i, err)
		}
		built[i] = obj
	}

	for i, rec := range f.Constraints {
		if rec.A < 0 || rec.A >= len(built) || rec.B < 0 || rec.B >= len(built) {
			return nil, nil, nil, fmt.Errorf("level: constraint %d: object index out of range", i)
		}
		if err := AttachConstraint(built[rec.A], built[rec.B], rec); err != nil {
			return nil, nil, nil, fmt.Errorf("level: constraint %d: %w", i, err)
		}
	}

	records := make(map[int][]byte, len(built))
	for i, obj := range built {
		obj.ID = w.Arena.AllocateID()
		raw, err := json.Marshal(f.Objects[i])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("level: re-encoding object %d: %w", i, err)
		}
		records[obj.ID] = raw
		w.AddObject(obj)
	}

	constraints := make([]ConstraintInstance, 0, len(f.Constraints))
	for _, rec := range f.Constraints {
		snap := ConstraintSnapshot{Type: rec.Type, LocalA: rec.LocalA, LocalB: rec.LocalB, Normal: rec.Normal}
		raw, err := json.Marshal(snap)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("level: encoding constraint: %w", err)
		}
		constraints = append(constraints, ConstraintInstance{IDA: built[rec.A].ID, IDB: built[rec.B].ID, Record: raw})
	}

	return w, records, constraints, nil
}

// BuildObject constructs a single GameObject from a decoded record,
// without assigning it an ID or registering it with any world; callers
// needing a standalone object (internal/client reconstructing one from
// a NewObject packet's Record) call this directly.
func BuildObject(rec ObjectRecord) (*game.GameObject, error) {
	var density float64 = -1
	if rec.Physics != nil && rec.Physics.Density != nil {
		density = *rec.Physics.Density
	}

	var po *physics.PhysicsObject
	var pos physics.Vec2

	switch rec.Type {
	case "polygon":
		points := make([]physics.Vec2, len(rec.Points))
		for i, p := range rec.Points {
			points[i] = vec(p)
		}
		mass, moment, centroid := physics.PolygonMassMoment(points, density)
		po = physics.NewDynamic(mass, moment, rec.Restitution, rec.Friction)
		local := make([]physics.Vec2, len(points))
		for i, p := range points {
			local[i] = p.Sub(centroid)
		}
		po.Colliders = []physics.Collider{physics.PolygonCollider{Points: local}}
		pos = centroid
	case "circle":
		mass, moment := physics.CircleMassMoment(rec.Radius, density)
		po = physics.NewDynamic(mass, moment, rec.Restitution, rec.Friction)
		po.Colliders = []physics.Collider{physics.CircleCollider{Radius: rec.Radius}}
		pos = vec(rec.Pos)
	default:
		return nil, fmt.Errorf("unknown object type %q", rec.Type)
	}
	po.Pos = pos

	obj := game.NewGameObject(0, po)
	obj.Colour = rec.Colour
	obj.Lethal = rec.Lethal
	obj.Trigger = rec.Trigger
	if rec.Checkpoint != nil {
		obj.Checkpoint = &game.Checkpoint{Index: rec.Checkpoint.Index}
	}
	if rec.Animated != nil {
		obj.Animation = &game.Animation{
			Period:     rec.Animated.Period,
			Offset:     physics.Vec2{X: rec.Animated.DX, Y: rec.Animated.DY},
			PhaseTicks: rec.Animated.DT,
		}
	}
	for _, g := range rec.Groups {
		obj.Groups[g] = struct{}{}
	}
	obj.Initial.Colour = rec.Colour
	return obj, nil
}

// AttachConstraint resolves rec's joint type and attaches it to both a
// and b, in each object's own AttachedConstraint list.
func AttachConstraint(a, b *game.GameObject, rec ConstraintRecord) error {
	var c physics.Constraint
	switch rec.Type {
	case "pivot":
		c = physics.PivotConstraint{AnchorA: vec(rec.LocalA), AnchorB: vec(rec.LocalB)}
	case "fixed":
		c = physics.FixedConstraint{
			AnchorA:   vec(rec.LocalA),
			AnchorB:   vec(rec.LocalB),
			RestAngle: b.Rot - a.Rot,
		}
	case "slider":
		c = physics.SliderConstraint{AnchorA: vec(rec.LocalA), AnchorB: vec(rec.LocalB), Normal: vec(rec.Normal)}
	default:
		return fmt.Errorf("unknown constraint type %q", rec.Type)
	}
	a.Constraints = append(a.Constraints, physics.AttachedConstraint{Other: b.PhysicsObject, Constraint: c})
	b.Constraints = append(b.Constraints, physics.AttachedConstraint{Other: a.PhysicsObject, Constraint: c})
	return nil
}
