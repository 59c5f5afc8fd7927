// Package client drives the predictive side of a connection: it holds
// two ScriptedWorlds, a believed-authoritative sim_world ticked in lockstep
// with the server and a draw_world that interpolates toward it, and turns
// local input into speculative actions the server later confirms or
// corrects. Grounded on internal/server's tick-loop shape and on
// Ancillary-AGI-foundry/networking/client/client.go's prediction/
// reconciliation queues and RTT-driven connection-quality tracking,
// generalized from its fixed-size ring buffers to the server-tick-indexed
// action map spec.md §4.9 describes.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"sync"
	"time"

	"platformer-go/internal/game"
	"platformer-go/internal/level"
	"platformer-go/internal/netconn"
	"platformer-go/internal/physics"
	"platformer-go/internal/transport"
	"platformer-go/internal/wire"
)

// Player body constants, duplicated from internal/server (both are
// grounded on original_source/objects.py's BasePlayer): a joining
// player's own client has no NewObject-style record for itself, only a
// NewPlayer announcement, so it must know how to build the same body
// the server built.
const (
	playerSize        = 15.0
	playerDensity     = 0.5
	playerRestitution = 0.2
	playerFriction    = 0.8
)

// disconnectTimeout mirrors spec.md §4.9 step 3: silence from the peer
// longer than this raises a fatal disconnect.
const disconnectTimeout = 3 * time.Second

// ErrTimedOut is returned by Tick once the connection has gone silent
// for longer than disconnectTimeout; the client has already sent its own
// Disconnect and the caller should stop ticking.
var ErrTimedOut = errors.New("client: connection timed out")

// ErrDisconnected is returned by Tick after the server has sent a
// Disconnect, or once the client has raised its own ErrTimedOut.
var ErrDisconnected = errors.New("client: disconnected")

// InputProvider supplies each locally-controlled player's current
// 2-axis action; a Client reads it once per tick and predicts forward
// from whatever it returns. ManualInput is the default, test- and
// console-friendly implementation.
type InputProvider interface {
	Actions() map[int][2]float32
}

// ManualInput is a goroutine-safe InputProvider a caller (console input,
// test code) drives by calling SetAction.
type ManualInput struct {
	mu      sync.Mutex
	actions map[int][2]float32
}

// NewManualInput returns an InputProvider with no players under control.
func NewManualInput() *ManualInput {
	return &ManualInput{actions: make(map[int][2]float32)}
}

// SetAction records the requested action for playerID, consulted on the
// next Tick.
func (m *ManualInput) SetAction(playerID int, x, y float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[playerID] = [2]float32{x, y}
}

// Actions implements InputProvider.
func (m *ManualInput) Actions() map[int][2]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int][2]float32, len(m.actions))
	for k, v := range m.actions {
		out[k] = v
	}
	return out
}

// Renderer is the draw_world consumer; Tick calls it once per frame
// after interpolation if set. A nil Renderer keeps the client usable
// headlessly, the same way a nil game.Script keeps a ScriptedWorld
// usable without Lua.
type Renderer interface {
	Render(world *game.ScriptedWorld)
}

// Client is one connected peer's predictive simulation. All exported
// methods are safe for the caller's own goroutine to call serially;
// Tick holds mu for its whole step, while the background read loop
// only hands datagrams to the Connection, which has its own lock.
type Client struct {
	mu sync.Mutex

	socket *transport.Socket
	conn   *netconn.Connection

	simWorld  *game.ScriptedWorld
	drawWorld *game.ScriptedWorld

	playerIDs []int

	actions map[uint32]map[int]wire.PlayerAction
	lastSent uint32
	sentAt   map[uint32]time.Time

	targetTick float64
	tickRate   float64

	ready            bool
	disconnected     bool
	disconnectReason string

	Input    InputProvider
	Renderer Renderer
}

// Dial performs the CONN/CHAL handshake against addr, announcing the
// given players, and starts the background read loop. tickRate <= 0
// defaults to 20, matching internal/server's own default.
func Dial(addr string, players []wire.PlayerInit, tickRate float64) (*Client, error) {
	if tickRate <= 0 {
		tickRate = 20
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: resolving %q: %w", addr, err)
	}
	sock, err := transport.Dial()
	if err != nil {
		return nil, fmt.Errorf("client: dialing: %w", err)
	}

	payload, err := wire.Encode(&wire.InitConnectionServer{Players: players})
	if err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("client: encoding init payload: %w", err)
	}

	conn, err := netconn.ClientHandshake(sock, udpAddr, rand.Uint32(), payload)
	if err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("client: handshake: %w", err)
	}

	c := &Client{
		socket:    sock,
		conn:      conn,
		simWorld:  game.NewScriptedWorld(),
		drawWorld: game.NewScriptedWorld(),
		actions:   make(map[uint32]map[int]wire.PlayerAction),
		sentAt:    make(map[uint32]time.Time),
		tickRate:  tickRate,
		Input:     NewManualInput(),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	buf := transport.NewRecvBuffer()
	for {
		n, _, err := c.socket.ReadFrom(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		salt, ok := wire.PeekSalt(data)
		if !ok {
			continue
		}
		tag, payload, ok := wire.Unframe(data, salt)
		if !ok {
			continue
		}
		c.conn.HandleDatagram(tag, payload)
	}
}

// Close shuts down the socket, which unblocks and ends the read loop.
func (c *Client) Close() error {
	return c.socket.Close()
}

// PlayerIDs reports the IDs of the players this connection controls,
// known once InitConnectionClient has been processed.
func (c *Client) PlayerIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.playerIDs))
	copy(out, c.playerIDs)
	return out
}

// SimWorld and DrawWorld expose the two simulations for rendering and
// diagnostics; callers must not mutate them outside of a Renderer
// invoked from Tick.
func (c *Client) SimWorld() *game.ScriptedWorld  { return c.simWorld }
func (c *Client) DrawWorld() *game.ScriptedWorld { return c.drawWorld }

func wireToVec(v wire.Vec2) physics.Vec2 { return physics.Vec2{X: v.X, Y: v.Y} }

// Tick runs one full client step (spec.md §4.9): poll and apply inbound
// packets, raise a fatal timeout if the server has gone silent, mirror
// sim_world's arena membership into draw_world, predict and send this
// tick's local input, then advance draw_world's interpolation filter
// and render.
func (c *Client) Tick(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disconnected {
		return ErrDisconnected
	}

	c.conn.Update(now)

	groups := make(map[uint32]*tickGroup)
	var order []uint32
	var immediate []wire.Packet

	for _, ap := range c.conn.Drain() {
		pkt, err := wire.Decode(ap.Tag, ap.Body)
		if err != nil {
			continue
		}
		switch p := pkt.(type) {
		case *wire.PlayerState:
			g := groups[p.Tick]
			if g == nil {
				g = &tickGroup{tick: p.Tick}
				groups[p.Tick] = g
				order = append(order, p.Tick)
			}
			g.pkts = append(g.pkts, p)
		case *wire.UpdateObjects:
			g := groups[p.Tick]
			if g == nil {
				g = &tickGroup{tick: p.Tick}
				groups[p.Tick] = g
				order = append(order, p.Tick)
			}
			g.pkts = append(g.pkts, p)
		default:
			immediate = append(immediate, pkt)
		}
	}

	// A LevelProps arriving after at least one DeleteObject in the same
	// drain batch is a hot reload (internal/server.ReloadLevel always
	// sends them in that order). On a reload draw_world's tick counter is
	// set to sim_world's before this frame's interpolation step, so
	// draw_world does not ease its tick across the reload; the
	// interpolation step itself still runs.
	var sawDeleteObject, reloadDetected bool
	for _, pkt := range immediate {
		switch pkt.(type) {
		case *wire.DeleteObject:
			sawDeleteObject = true
		case *wire.LevelProps:
			if sawDeleteObject {
				reloadDetected = true
			}
		}
		c.applyImmediate(pkt, now)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	c.applyTickGroups(order, groups)

	if now.Sub(c.conn.LastActivity()) > disconnectTimeout {
		_ = c.conn.SendPacket(&wire.Disconnect{Reason: "Timed Out"})
		c.disconnected = true
		c.disconnectReason = "Timed Out"
		return ErrTimedOut
	}

	c.syncDrawMembership()
	if reloadDetected {
		c.drawWorld.Tick = c.simWorld.Tick
	}

	if c.ready {
		c.sendPredictedInput(now)
	}

	dt := (c.targetTick-c.drawWorld.Tick)/15 + 14.0/15.0
	if dt < 0 {
		dt = 0
	}
	c.drawWorld.Update(dt)

	if c.Renderer != nil {
		c.Renderer.Render(c.drawWorld)
	}

	return nil
}

// tickGroup collects every PlayerState/UpdateObjects packet that shares a
// single server tick, so they can be applied together once sim_world has
// caught up to that tick.
type tickGroup struct {
	tick uint32
	pkts []wire.Packet
}

// applyTickGroups steps sim_world forward to each group's tick in turn and
// applies its packets — unless sim_world has already advanced past that
// tick, in which case the group is stale and dropped outright rather than
// snapped onto a state it has since moved beyond (spec.md §4.9;
// original_source/client.py's update() never hands a past-tick NORMAL
// packet to handleClient).
func (c *Client) applyTickGroups(order []uint32, groups map[uint32]*tickGroup) {
	for _, tick := range order {
		g := groups[tick]
		for uint32(c.simWorld.Tick) < g.tick {
			c.advanceSimOneTick()
		}
		if uint32(c.simWorld.Tick) > g.tick {
			continue
		}
		for _, pkt := range g.pkts {
			c.applyAuthoritative(pkt)
		}
	}
}

// advanceSimOneTick replays this tick's previously predicted actions
// (if any) onto their players, then steps sim_world by one whole tick.
func (c *Client) advanceSimOneTick() {
	tick := uint32(c.simWorld.Tick)
	bucket := c.actions[tick]
	delete(c.actions, tick)
	for pid, act := range bucket {
		if p, ok := c.simWorld.Arena.Player(pid); ok {
			p.Action = [2]float32{act.X, act.Y}
		}
	}
	c.simWorld.Update(1)
}

// applyAuthoritative overwrites sim_world state from a tick-grouped
// packet: the snapshot always wins outright (spec.md §4.9's
// reconciliation policy), draw_world catches up only through its own
// interpolation filter in Tick.
func (c *Client) applyAuthoritative(pkt wire.Packet) {
	switch m := pkt.(type) {
	case *wire.PlayerState:
		if p, ok := c.simWorld.Arena.Player(int(m.ID)); ok {
			p.Pos, p.Vel, p.Rot, p.RotVel, p.Action = wireToVec(m.Pos), wireToVec(m.Vel), m.Rot, m.RotVel, m.Action
		}
	case *wire.UpdateObjects:
		for _, k := range m.Objects {
			if obj, ok := c.simWorld.Arena.Object(int(k.ID)); ok {
				obj.Pos, obj.Vel, obj.Rot, obj.RotVel = wireToVec(k.Pos), wireToVec(k.Vel), float64(k.Rot), float64(k.RotVel)
				continue
			}
			if p, ok := c.simWorld.Arena.Player(int(k.ID)); ok {
				p.Pos, p.Vel, p.Rot, p.RotVel = wireToVec(k.Pos), wireToVec(k.Vel), float64(k.Rot), float64(k.RotVel)
			}
		}
	}
}

// applyImmediate handles every packet type that is not grouped by tick:
// structural join/leave/property events apply the moment they arrive,
// and UpdateClientResponse drives the RTT-based target_tick formula.
func (c *Client) applyImmediate(pkt wire.Packet, now time.Time) {
	switch m := pkt.(type) {
	case *wire.InitConnectionClient:
		c.playerIDs = make([]int, len(m.IDs))
		for i, id := range m.IDs {
			c.playerIDs[i] = int(id)
		}
		c.simWorld.Tick = float64(m.Tick)
		c.drawWorld.Tick = float64(m.Tick)
		c.targetTick = float64(m.Tick) + 1
		c.lastSent = m.Tick
		c.ready = true
	case *wire.ScriptPacket:
		// Scripting is server-authoritative (spec.md §4.6/§4.8); the
		// client has nothing to execute locally with the body.
	case *wire.LevelProps:
		g, s := wireToVec(m.Gravity), wireToVec(m.Spawn)
		c.simWorld.Gravity, c.simWorld.Spawn = g, s
		c.simWorld.Physics.Gravity = g
		c.drawWorld.Gravity, c.drawWorld.Spawn = g, s
		c.drawWorld.Physics.Gravity = g
	case *wire.NewObject:
		c.addObject(m)
	case *wire.DeleteObject:
		if obj, ok := c.simWorld.Arena.Object(int(m.ID)); ok {
			c.simWorld.RemoveObject(obj)
		}
		if obj, ok := c.drawWorld.Arena.Object(int(m.ID)); ok {
			c.drawWorld.RemoveObject(obj)
		}
	case *wire.ObjectProps:
		c.applyProps(m)
	case *wire.NewConstraint:
		c.addConstraint(m)
	case *wire.NewPlayer:
		c.addPlayer(m)
	case *wire.DeletePlayer:
		if p, ok := c.simWorld.Arena.Player(int(m.ID)); ok {
			c.simWorld.RemovePlayer(p.ID)
		}
		if p, ok := c.drawWorld.Arena.Player(int(m.ID)); ok {
			c.drawWorld.RemovePlayer(p.ID)
		}
	case *wire.UpdateClientResponse:
		c.applyResponse(m, now)
	case *wire.Disconnect:
		c.disconnected = true
		c.disconnectReason = m.Reason
	}
}

// addObject builds independent sim and draw copies of a freshly
// announced object from its opaque level record, both seeded with the
// packet's authoritative kinematics.
func (c *Client) addObject(m *wire.NewObject) {
	var rec level.ObjectRecord
	if err := json.Unmarshal(m.Record, &rec); err != nil {
		return
	}
	pos, vel := wireToVec(m.Pos), wireToVec(m.Vel)

	build := func(w *game.ScriptedWorld) {
		obj, err := level.BuildObject(rec)
		if err != nil {
			return
		}
		obj.ID = int(m.ID)
		obj.Pos, obj.Vel, obj.Rot, obj.RotVel = pos, vel, m.Rot, m.RotVel
		obj.Initial = game.InitialState{Colour: obj.Colour, Pos: pos, Vel: vel, Rot: m.Rot, RotVel: m.RotVel}
		w.AddObject(obj)
	}
	build(c.simWorld)
	build(c.drawWorld)
}

// addConstraint resolves a constraint announcement against both worlds'
// already-built objects.
func (c *Client) addConstraint(m *wire.NewConstraint) {
	var snap level.ConstraintSnapshot
	if err := json.Unmarshal(m.Record, &snap); err != nil {
		return
	}
	rec := level.ConstraintRecord{Type: snap.Type, LocalA: snap.LocalA, LocalB: snap.LocalB, Normal: snap.Normal}
	attach := func(w *game.ScriptedWorld) {
		a, okA := w.Arena.Object(int(m.IDA))
		b, okB := w.Arena.Object(int(m.IDB))
		if okA && okB {
			_ = level.AttachConstraint(a, b, rec)
		}
	}
	attach(c.simWorld)
	attach(c.drawWorld)
}

// addPlayer builds a new player body in both worlds, spawned at the
// world's current spawn point: NewPlayer carries no position of its own
// (spec.md §4.10), the player's first PlayerState broadcast corrects it.
func (c *Client) addPlayer(m *wire.NewPlayer) {
	build := func(w *game.ScriptedWorld) *game.Player {
		mass, moment := physics.CircleMassMoment(playerSize, playerDensity)
		po := physics.NewDynamic(mass, moment, playerRestitution, playerFriction)
		po.Colliders = []physics.Collider{physics.CircleCollider{Radius: playerSize}}
		po.Pos = w.Spawn
		gobj := game.NewGameObject(int(m.ID), po)
		gobj.Colour = m.Colour
		return &game.Player{GameObject: gobj, Name: m.Name}
	}
	c.simWorld.AddPlayer(build(c.simWorld))
	c.drawWorld.AddPlayer(build(c.drawWorld))
}

// applyProps reconstructs an object's mutable properties from
// ObjectProps's raw-mass/moment JSON shape, the inverse of
// level.BuildPropsSnapshot/massFromInv.
func (c *Client) applyProps(m *wire.ObjectProps) {
	var snap level.PropsSnapshot
	if err := json.Unmarshal(m.Record, &snap); err != nil {
		return
	}
	apply := func(obj *game.GameObject) {
		obj.Colour = snap.Colour
		obj.Lethal = snap.Lethal
		obj.Trigger = snap.Trigger
		obj.InvMass = invMassFromRaw(snap.Mass)
		obj.InvMoment = invMassFromRaw(snap.Moment)
		if snap.Checkpoint != nil {
			obj.Checkpoint = &game.Checkpoint{Index: snap.Checkpoint.Index}
		} else {
			obj.Checkpoint = nil
		}
		if snap.Animated != nil {
			obj.Animation = &game.Animation{
				Period: snap.Animated.Period,
				Offset: physics.Vec2{X: snap.Animated.DX, Y: snap.Animated.DY},
				PhaseTicks: snap.Animated.DT,
			}
		} else {
			obj.Animation = nil
		}
		obj.Groups = make(map[string]struct{}, len(snap.Groups))
		for _, g := range snap.Groups {
			obj.Groups[g] = struct{}{}
		}
	}
	if obj, ok := c.simWorld.Arena.Object(int(m.ID)); ok {
		apply(obj)
	}
	if obj, ok := c.drawWorld.Arena.Object(int(m.ID)); ok {
		apply(obj)
	}
}

// invMassFromRaw undoes ObjectProps's raw mass/moment wire encoding,
// mirroring physics.NewDynamic's own mass<=0-means-static convention.
func invMassFromRaw(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return 1 / v
}

// applyResponse computes RTT from the matching previously-sent tick and
// updates target_tick per spec.md §4.9's formula.
func (c *Client) applyResponse(m *wire.UpdateClientResponse, now time.Time) {
	sent, ok := c.sentAt[m.ClientTick]
	if !ok {
		return
	}
	delete(c.sentAt, m.ClientTick)
	rtt := now.Sub(sent)
	c.targetTick = 0.25*(float64(m.ServerTick)+1+rtt.Seconds()*c.tickRate) + 0.75*c.targetTick
}

// syncDrawMembership keeps draw_world's arena a mirror of sim_world's:
// anything newly present in sim_world gets a cloned entry in draw_world,
// anything no longer in sim_world is removed from draw_world.
func (c *Client) syncDrawMembership() {
	for _, obj := range c.simWorld.Arena.Objects() {
		if _, ok := c.drawWorld.Arena.Object(obj.ID); !ok {
			c.drawWorld.AddObject(cloneGameObject(obj))
		}
	}
	for _, obj := range c.drawWorld.Arena.Objects() {
		if _, ok := c.simWorld.Arena.Object(obj.ID); !ok {
			c.drawWorld.RemoveObject(obj)
		}
	}
	for _, p := range c.simWorld.Arena.Players() {
		if _, ok := c.drawWorld.Arena.Player(p.ID); !ok {
			c.drawWorld.AddPlayer(&game.Player{GameObject: cloneGameObject(p.GameObject), Name: p.Name})
		}
	}
	for _, p := range c.drawWorld.Arena.Players() {
		if _, ok := c.simWorld.Arena.Player(p.ID); !ok {
			c.drawWorld.RemovePlayer(p.ID)
		}
	}
}

func cloneGameObject(src *game.GameObject) *game.GameObject {
	po := *src.PhysicsObject
	obj := game.NewGameObject(src.ID, &po)
	obj.Colour = src.Colour
	obj.Lethal = src.Lethal
	obj.Trigger = src.Trigger
	obj.Checkpoint = src.Checkpoint
	obj.Animation = src.Animation
	obj.Groups = src.Groups
	obj.Initial = src.Initial
	return obj
}

// sendPredictedInput stores and sends this tick's speculative action
// for every locally-controlled player, for the whole range the client
// is owed: [lastSent+1, target_tick] (spec.md §4.9 step 5).
func (c *Client) sendPredictedInput(now time.Time) {
	if len(c.playerIDs) == 0 {
		return
	}
	current := c.Input.Actions()

	last := int64(c.targetTick)
	for tick := uint64(c.lastSent) + 1; int64(tick) <= last; tick++ {
		t := uint32(tick)
		bucket := c.actions[t]
		if bucket == nil {
			bucket = make(map[int]wire.PlayerAction, len(c.playerIDs))
			c.actions[t] = bucket
		}
		actions := make([]wire.PlayerAction, 0, len(c.playerIDs))
		for _, pid := range c.playerIDs {
			a := current[pid]
			bucket[pid] = wire.PlayerAction{PlayerID: uint32(pid), X: a[0], Y: a[1]}
			actions = append(actions, bucket[pid])
		}
		_ = c.conn.SendPacket(&wire.UpdateClientInput{Tick: t, Actions: actions})
		c.sentAt[t] = now
		c.lastSent = t
	}
}

// DisconnectReason reports why the connection ended, valid once Tick
// has returned ErrDisconnected or ErrTimedOut.
func (c *Client) DisconnectReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectReason
}
