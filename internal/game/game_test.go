package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platformer-go/internal/physics"
)

type recordingScript struct {
	loaded       bool
	ticks        int
	died         []*Player
	added        []*GameObject
	removed      []*GameObject
	triggerCalls []string
	triggerFn    func(name string, self, other *GameObject, normal, localA, localB physics.Vec2) bool
}

func (s *recordingScript) Load() { s.loaded = true }
func (s *recordingScript) Tick() { s.ticks++ }
func (s *recordingScript) OnDeath(p *Player) {
	s.died = append(s.died, p)
}
func (s *recordingScript) ObjectAdded(o *GameObject)   { s.added = append(s.added, o) }
func (s *recordingScript) ObjectRemoved(o *GameObject) { s.removed = append(s.removed, o) }
func (s *recordingScript) Trigger(name string, self, other *GameObject, normal, localA, localB physics.Vec2) bool {
	s.triggerCalls = append(s.triggerCalls, name)
	if s.triggerFn != nil {
		return s.triggerFn(name, self, other, normal, localA, localB)
	}
	return false
}

func TestArenaAllocateRangeIsContiguous(t *testing.T) {
	a := NewArena()
	base := a.AllocateRange(3)
	require.Equal(t, 0, base, "first AllocateRange should start at 0")
	assert.Equal(t, 3, a.AllocateID(), "AllocateID after a 3-wide range")
}

func TestScriptedWorldLoadAndTick(t *testing.T) {
	w := NewScriptedWorld()
	script := &recordingScript{}
	w.Script = script
	w.Gravity = physics.Vec2{0, -20}
	w.Load()

	assert.True(t, script.loaded, "Load should invoke the script's Load hook")
	assert.Equal(t, w.Gravity, w.Physics.Gravity)

	w.Update(1)
	assert.Equal(t, 1, script.ticks, "one whole-tick Update")
	w.Update(0.4)
	assert.Equal(t, 1, script.ticks, "a fractional (interpolation) Update should not tick the script")
}

func TestScriptedWorldAddRemoveObjectNotifiesScript(t *testing.T) {
	w := NewScriptedWorld()
	script := &recordingScript{}
	w.Script = script

	obj := NewGameObject(w.Arena.AllocateID(), physics.NewDynamic(1, 1, 0, 0))
	w.AddObject(obj)
	require.Len(t, script.added, 1)
	assert.Same(t, obj, script.added[0])

	w.RemoveObject(obj)
	require.Len(t, script.removed, 1)
	assert.Same(t, obj, script.removed[0])
	_, ok := w.Arena.Object(obj.ID)
	assert.False(t, ok, "object should no longer be retrievable from the arena after RemoveObject")
}

func TestTriggerDispatchOnCollide(t *testing.T) {
	w := NewScriptedWorld()
	script := &recordingScript{triggerFn: func(string, *GameObject, *GameObject, physics.Vec2, physics.Vec2, physics.Vec2) bool {
		return true
	}}
	w.Script = script

	a := NewGameObject(w.Arena.AllocateID(), physics.NewDynamic(1, 1, 0, 0))
	a.Trigger = "on_touch"
	a.Colliders = []physics.Collider{physics.CircleCollider{Radius: 1}}
	w.AddObject(a)

	b := NewGameObject(w.Arena.AllocateID(), physics.NewDynamic(1, 1, 0, 0))
	b.Colliders = []physics.Collider{physics.CircleCollider{Radius: 1}}
	w.AddObject(b)

	cancelled := a.PhysicsObject.Collide(a.PhysicsObject, b.PhysicsObject, physics.Vec2{X: 1}, physics.Vec2{}, physics.Vec2{})
	assert.True(t, cancelled, "Collide should return the script's trigger verdict")
	require.Len(t, script.triggerCalls, 1)
	assert.Equal(t, "on_touch", script.triggerCalls[0])
}

func TestResetRestoresInitialState(t *testing.T) {
	obj := NewGameObject(1, physics.NewDynamic(1, 1, 0, 0))
	obj.Pos = physics.Vec2{X: 5, Y: 5}
	obj.Vel = physics.Vec2{X: 1}
	obj.Reset()

	assert.Equal(t, physics.Vec2{}, obj.Pos)
	assert.True(t, obj.DirtyState, "Reset should mark the object dirty for resynchronization")
}

func newTestPlayer(w *ScriptedWorld, pos physics.Vec2) *Player {
	po := physics.NewDynamic(1, 1, 0.2, 0.8)
	po.Colliders = []physics.Collider{physics.CircleCollider{Radius: 15}}
	po.Pos = pos
	p := &Player{GameObject: NewGameObject(w.Arena.AllocateID(), po), Name: "tester"}
	w.AddPlayer(p)
	return p
}

func TestKillNotifiesScriptAndRespawnsAtSpawn(t *testing.T) {
	w := NewScriptedWorld()
	script := &recordingScript{}
	w.Script = script
	w.Spawn = physics.Vec2{X: 3, Y: 4}

	p := newTestPlayer(w, physics.Vec2{X: 50, Y: -50})
	p.Vel = physics.Vec2{X: 2, Y: -2}
	p.RotVel = 1
	p.Action = [2]float32{1, 1}

	w.Kill(p)

	require.Len(t, script.died, 1)
	assert.Same(t, p, script.died[0])
	assert.Equal(t, w.Spawn, p.Pos)
	assert.Equal(t, physics.Vec2{}, p.Vel)
	assert.Zero(t, p.RotVel)
	assert.Equal(t, [2]float32{}, p.Action)
	assert.True(t, p.DirtyState, "Kill should mark the player dirty for resynchronization")
}

func TestLethalObjectCollideKillsPlayer(t *testing.T) {
	w := NewScriptedWorld()
	script := &recordingScript{}
	w.Script = script
	w.Spawn = physics.Vec2{X: 0, Y: 0}

	spikes := NewGameObject(w.Arena.AllocateID(), physics.NewDynamic(1, 1, 0, 0))
	spikes.Lethal = true
	spikes.Colliders = []physics.Collider{physics.CircleCollider{Radius: 1}}
	w.AddObject(spikes)

	p := newTestPlayer(w, physics.Vec2{X: 10, Y: 10})

	spikes.PhysicsObject.Collide(spikes.PhysicsObject, p.PhysicsObject, physics.Vec2{X: 1}, physics.Vec2{}, physics.Vec2{})

	require.Len(t, script.died, 1, "colliding with a lethal object should kill the player exactly once")
	assert.Same(t, p, script.died[0])
	assert.Equal(t, w.Spawn, p.Pos)
}

func TestCheckFallsKillsPlayerBelowBounds(t *testing.T) {
	w := NewScriptedWorld()
	script := &recordingScript{}
	w.Script = script
	w.Gravity = physics.Vec2{X: 0, Y: -20}
	w.Spawn = physics.Vec2{X: 0, Y: 0}

	ground := NewGameObject(w.Arena.AllocateID(), physics.NewStatic(0, 0))
	ground.Colliders = []physics.Collider{physics.CircleCollider{Radius: 10}}
	ground.Pos = physics.Vec2{X: 0, Y: 0}
	w.AddObject(ground)

	p := newTestPlayer(w, physics.Vec2{X: 0, Y: -20})
	p.Vel = physics.Vec2{X: 0, Y: -500}

	w.checkFalls()

	require.Len(t, script.died, 1, "a player falling fast past the level's current bounds should die")
	assert.Same(t, p, script.died[0])
}

func TestCheckFallsSparesPlayerWithinBounds(t *testing.T) {
	w := NewScriptedWorld()
	script := &recordingScript{}
	w.Script = script
	w.Gravity = physics.Vec2{X: 0, Y: -20}

	ground := NewGameObject(w.Arena.AllocateID(), physics.NewStatic(0, 0))
	ground.Colliders = []physics.Collider{physics.CircleCollider{Radius: 10}}
	ground.Pos = physics.Vec2{X: 0, Y: 0}
	w.AddObject(ground)

	newTestPlayer(w, physics.Vec2{X: 0, Y: 5})

	w.checkFalls()

	assert.Empty(t, script.died, "a player within the level's bounds should not die")
}

func TestApplyPlayerControlRollsAndJumps(t *testing.T) {
	w := NewScriptedWorld()
	p := newTestPlayer(w, physics.Vec2{})
	p.Action = [2]float32{1, 0}

	w.applyPlayerControl(1)
	assert.Greater(t, p.RotVel, 0.0, "RotVel after rolling right for 1s")

	p.Action = [2]float32{0, -1}
	beforeVel := p.Vel.Y
	w.applyPlayerControl(1)
	assert.Greater(t, p.Vel.Y, beforeVel, "Vel.Y after a jump press")
	assert.True(t, p.jumping, "jumping should be true immediately after a jump press")

	jumpedVel := p.Vel.Y
	w.applyPlayerControl(1)
	assert.Equal(t, jumpedVel, p.Vel.Y, "holding the jump input should not apply a second impulse")
}

func TestAnimationOscillatesWithinOffset(t *testing.T) {
	obj := NewGameObject(1, physics.NewDynamic(1, 1, 0, 0))
	obj.Animation = &Animation{Period: 10, Offset: physics.Vec2{X: 4}}

	var maxX float64
	for tick := 0.0; tick < 40; tick++ {
		obj.updateAnimation(tick)
		if obj.Pos.X > maxX {
			maxX = obj.Pos.X
		}
		require.InDelta(t, 2, obj.Pos.X, 2+1e-9, "Pos.X at tick %v should stay within [0,4]", tick)
	}
	assert.GreaterOrEqual(t, maxX, 3.0, "animation never approached its offset bound")
}
