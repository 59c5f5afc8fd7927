// Package game builds spec.md §4.6's ScriptedWorld on top of
// internal/physics: stable integer object IDs, a player list, a tick
// counter, and the closed script-hook menu. Grounded on
// core/gamemode/freeroam.go's Player/Vehicle/SpawnPoint struct shapes
// and its map-keyed-by-ID registry pattern, generalized from SA-MP's
// fixed vehicle/player model to an arbitrary GameObject arena with a
// monotonic ID allocator (spec.md §9 design note).
package game

import (
	"sync"

	"platformer-go/internal/physics"
)

// Checkpoint is an optional respawn-point descriptor carried by a
// GameObject.
type Checkpoint struct {
	Index int
}

// Animation moves a GameObject along a fixed, looping path: max offset
// (dx, dy) from its initial position, period in ticks, and a phase
// offset so multiple objects sharing one Animation don't move in
// lockstep (original_source/objects.py's Object.update).
type Animation struct {
	Period     float64
	Offset     physics.Vec2
	PhaseTicks float64
}

// InitialState is the snapshot a GameObject's reset() restores (spec.md
// §4.2 "initial snapshot for reset").
type InitialState struct {
	Colour [3]byte
	Pos    physics.Vec2
	Vel    physics.Vec2
	Rot    float64
	RotVel float64
}

// GameObject extends PhysicsObject with the fields spec.md §4.2
// ("GameObject extends PhysicsObject with...") lists: colour, lethal
// flag, optional checkpoint/animation, group membership, an optional
// trigger name, and the dirty flags ObjectSync consults.
type GameObject struct {
	*physics.PhysicsObject

	ID int

	Colour     [3]byte
	Lethal     bool
	Checkpoint *Checkpoint
	Animation  *Animation
	Groups     map[string]struct{}
	Trigger    string

	DirtyState bool
	DirtyProps bool

	Initial InitialState
}

// NewGameObject wraps a PhysicsObject with the GameObject fields and
// records its initial snapshot for Reset.
func NewGameObject(id int, obj *physics.PhysicsObject) *GameObject {
	g := &GameObject{
		PhysicsObject: obj,
		ID:            id,
		Groups:        make(map[string]struct{}),
		Initial: InitialState{
			Pos:    obj.Pos,
			Vel:    obj.Vel,
			Rot:    obj.Rot,
			RotVel: obj.RotVel,
		},
	}
	return g
}

// InGroup reports whether the object belongs to the named group.
func (g *GameObject) InGroup(name string) bool {
	_, ok := g.Groups[name]
	return ok
}

// Reset restores the object's colour, position, velocity and rotation
// to its initial snapshot and marks it dirty for the next broadcast.
func (g *GameObject) Reset() {
	g.Colour = g.Initial.Colour
	g.Pos = g.Initial.Pos
	g.Vel = g.Initial.Vel
	g.Rot = g.Initial.Rot
	g.RotVel = g.Initial.RotVel
	g.DirtyState = true
}

// updateAnimation replays original_source/objects.py's Object.update:
// the object oscillates between its initial position and
// initial+offset over Period ticks, a triangle wave in [0,1] scaled by
// the offset, with velocity set to the wave's derivative so
// synchronization sees consistent position/velocity pairs.
func (g *GameObject) updateAnimation(tick float64) {
	if g.Animation == nil {
		return
	}
	a := g.Animation
	phase := tick + a.PhaseTicks

	t := triangleWave(phase, a.Period)
	tn := triangleWave(phase+1, a.Period)

	g.Pos = g.Initial.Pos.Add(a.Offset.Scale(t))
	g.Vel = a.Offset.Scale(tn - t)
}

func triangleWave(tick, period float64) float64 {
	if period <= 0 {
		return 0
	}
	m := mod(tick, period)
	v := 2 * m / period
	if v > 1 {
		v = 2 - v
	}
	return v
}

func mod(a, m float64) float64 {
	r := a - float64(int64(a/m))*m
	if r < 0 {
		r += m
	}
	return r
}

// Player is a client-controlled GameObject with a display name and a
// 2-axis action input.
type Player struct {
	*GameObject
	Name   string
	Action [2]float32

	jumping bool
}

// Arena owns the ID-indexed registries of objects, players, and
// constraints for one ScriptedWorld, guarded by a mutex per spec.md §5
// ("the ScriptedWorld is single-owner — only the tick thread mutates
// it"); the mutex exists for defensive access from diagnostic/test code
// rather than concurrent tick-thread writers.
type Arena struct {
	mu      sync.Mutex
	nextID  int
	objects map[int]*GameObject
	players map[int]*Player
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{
		objects: make(map[int]*GameObject),
		players: make(map[int]*Player),
	}
}

// AllocateID returns the next stable integer ID and advances the
// counter by one; AllocateRange shares the same counter for a
// contiguous range reserved at once for a joining connection's players
// (spec.md §4.8).
func (a *Arena) AllocateID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	return id
}

// AllocateRange reserves n contiguous IDs and returns the first.
func (a *Arena) AllocateRange(n int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	base := a.nextID
	a.nextID += n
	return base
}

func (a *Arena) AddObject(obj *GameObject) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[obj.ID] = obj
}

func (a *Arena) RemoveObject(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, id)
}

func (a *Arena) Object(id int) (*GameObject, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.objects[id]
	return o, ok
}

func (a *Arena) Objects() []*GameObject {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*GameObject, 0, len(a.objects))
	for _, o := range a.objects {
		out = append(out, o)
	}
	return out
}

func (a *Arena) AddPlayer(p *Player) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.players[p.ID] = p
	a.objects[p.ID] = p.GameObject
}

func (a *Arena) RemovePlayer(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.players, id)
	delete(a.objects, id)
}

func (a *Arena) Player(id int) (*Player, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.players[id]
	return p, ok
}

func (a *Arena) Players() []*Player {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Player, 0, len(a.players))
	for _, p := range a.players {
		out = append(out, p)
	}
	return out
}
