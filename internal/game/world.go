package game

import (
	"math"

	"platformer-go/internal/physics"
)

// Script is the closed hook menu a ScriptedWorld calls into (spec.md
// §4.6): load once, tick every logical step, on_death for a dying
// player, add_object/remove_object as objects appear/disappear, and a
// named collision trigger. internal/script implements this interface
// over a sandboxed Lua VM; a nil Script is a no-op world (no scripting
// loaded), which keeps tests and `local` mode free of the scripting
// dependency entirely.
type Script interface {
	Load()
	Tick()
	OnDeath(player *Player)
	ObjectAdded(obj *GameObject)
	ObjectRemoved(obj *GameObject)
	// Trigger invokes the named hook; a true return cancels the contact.
	Trigger(name string, self, other *GameObject, normal, localA, localB physics.Vec2) bool
}

// ScriptedWorld wraps a physics.World with the stable-ID object arena,
// player list, gravity/spawn vectors, tick counter and script
// environment of spec.md §4.6.
type ScriptedWorld struct {
	Physics *physics.World
	Arena   *Arena
	Script  Script

	Gravity physics.Vec2
	Spawn   physics.Vec2

	Tick float64
}

// NewScriptedWorld builds an empty world. Callers install Script after
// construction and call Load once the level is fully populated.
func NewScriptedWorld() *ScriptedWorld {
	w := physics.NewWorld()
	return &ScriptedWorld{
		Physics: w,
		Arena:   NewArena(),
	}
}

// Load applies Gravity/Spawn to the physics world and invokes the
// script's load hook, if any.
func (w *ScriptedWorld) Load() {
	w.Physics.Gravity = w.Gravity
	if w.Script != nil {
		w.Script.Load()
	}
}

// AddObject registers obj with both the physics world and the arena,
// wires its collide hook to the named trigger and/or lethal contact
// handling, and notifies the script.
func (w *ScriptedWorld) AddObject(obj *GameObject) {
	if obj.Trigger != "" || obj.Lethal {
		trigger := obj.Trigger
		lethal := obj.Lethal
		me := obj
		obj.PhysicsObject.Collide = func(self, other *physics.PhysicsObject, normal, localA, localB physics.Vec2) bool {
			otherGO, _ := w.Arena.Object(objectIDOf(w, other))
			if lethal {
				if p, ok := w.Arena.Player(objectIDOf(w, other)); ok {
					w.Kill(p)
				}
			}
			if trigger == "" || w.Script == nil {
				return false
			}
			return w.Script.Trigger(trigger, me, otherGO, normal, localA, localB)
		}
	}
	w.Physics.AddObject(obj.PhysicsObject)
	w.Arena.AddObject(obj)
	if w.Script != nil {
		w.Script.ObjectAdded(obj)
	}
}

// objectIDOf looks up the GameObject ID owning a raw PhysicsObject, for
// collide-hook dispatch. Small arenas make a linear scan acceptable; a
// direct back-pointer would need physics.PhysicsObject to know about
// game.GameObject; threading the ID through every PhysicsObject would
// leak a game-layer concept into the physics contract.
func objectIDOf(w *ScriptedWorld, p *physics.PhysicsObject) int {
	for _, o := range w.Arena.Objects() {
		if o.PhysicsObject == p {
			return o.ID
		}
	}
	return -1
}

// RemoveObject unregisters obj from both the physics world and the
// arena and notifies the script.
func (w *ScriptedWorld) RemoveObject(obj *GameObject) {
	w.Physics.RemoveObject(obj.PhysicsObject)
	w.Arena.RemoveObject(obj.ID)
	if w.Script != nil {
		w.Script.ObjectRemoved(obj)
	}
}

// AddPlayer registers a player as both a controllable object and an
// arena player entry.
func (w *ScriptedWorld) AddPlayer(p *Player) {
	w.Physics.AddObject(p.PhysicsObject)
	w.Arena.AddPlayer(p)
}

// RemovePlayer unregisters a player from both the physics world and the
// arena.
func (w *ScriptedWorld) RemovePlayer(id int) {
	if p, ok := w.Arena.Player(id); ok {
		w.Physics.RemoveObject(p.PhysicsObject)
	}
	w.Arena.RemovePlayer(id)
}

// Kill notifies the script that player has died, then respawns them at
// the world's spawn point with velocity and rotation zeroed (spec.md
// §4.8's death handling calls into on_death before any respawn logic
// runs). Grounded on original_source/objects.py's BasePlayer.die
// followed by its spawn-point reset in server.py's player join/respawn
// path.
func (w *ScriptedWorld) Kill(p *Player) {
	if w.Script != nil {
		w.Script.OnDeath(p)
	}
	p.Pos = w.Spawn
	p.Vel = physics.Vec2{}
	p.Rot = 0
	p.RotVel = 0
	p.Action = [2]float32{}
	p.DirtyState = true
}

// checkFalls kills any player that has fallen outside the broad
// phase's current bounds against the pull of gravity: ported from
// original_source/objects.py's BasePlayer.update fall-death check,
// which compares the AABB tree's furthest corner (against gravity) to
// the player's predicted position one half-step ahead.
func (w *ScriptedWorld) checkFalls() {
	min, max, ok := w.Physics.Bounds()
	if !ok || w.Gravity == (physics.Vec2{}) {
		return
	}
	boundary := furthestCorner(min, max, w.Gravity)
	threshold := boundary.Dot(w.Gravity)
	for _, p := range w.Arena.Players() {
		predicted := p.Pos.Add(p.Vel.Scale(0.5))
		if threshold-predicted.Dot(w.Gravity) < 0 {
			w.Kill(p)
		}
	}
}

func furthestCorner(min, max, dir physics.Vec2) physics.Vec2 {
	corners := [4]physics.Vec2{min, {X: min.X, Y: max.Y}, {X: max.X, Y: min.Y}, max}
	best := corners[0]
	bestDot := best.Dot(dir)
	for _, c := range corners[1:] {
		if d := c.Dot(dir); d > bestDot {
			bestDot = d
			best = c
		}
	}
	return best
}

// applyPlayerControl turns each player's current Action into rolling
// angular velocity and an impulsive jump, a simplified rendition of
// original_source/objects.py's BasePlayer.update energy-conserving roll
// model: Action.X drives a rolling acceleration, a positive Action.Y
// brakes the roll toward a stop instead, and Action.Y below -0.1
// applies a fixed upward velocity kick once per press.
func (w *ScriptedWorld) applyPlayerControl(dt float64) {
	const rollAccel = 6.0
	const jumpVelocity = 8.0
	const jumpThreshold = -0.1

	for _, p := range w.Arena.Players() {
		x, y := float64(p.Action[0]), float64(p.Action[1])
		if y > 0 {
			// braking: roll velocity decays toward zero
			if p.RotVel > 0 {
				p.RotVel -= rollAccel * dt
				if p.RotVel < 0 {
					p.RotVel = 0
				}
			} else if p.RotVel < 0 {
				p.RotVel += rollAccel * dt
				if p.RotVel > 0 {
					p.RotVel = 0
				}
			}
		} else {
			p.RotVel += x * rollAccel * dt
		}

		if y < jumpThreshold && !p.jumping {
			p.Vel.Y += jumpVelocity
			p.jumping = true
		} else if y >= jumpThreshold {
			p.jumping = false
		}
	}
}

// Update advances the physics world by dt, runs every animated
// object's position update, applies player control input, increments
// Tick by exactly dt (spec.md §4.6: "tick is incremented by exactly dt
// per update(dt) call"), and calls the script's tick hook once dt
// completes a whole tick.
func (w *ScriptedWorld) Update(dt float64) {
	for _, o := range w.Arena.Objects() {
		o.updateAnimation(w.Tick)
	}
	w.applyPlayerControl(dt)
	w.Physics.Update(dt)
	w.Tick += dt
	// tick() and the fall-death check fire only when dt completed a
	// whole logical tick (spec.md §4.6): draw_world's fractional
	// interpolation steps never call them.
	if dt == math.Trunc(dt) && dt != 0 {
		w.checkFalls()
		if w.Script != nil {
			w.Script.Tick()
		}
	}
}
