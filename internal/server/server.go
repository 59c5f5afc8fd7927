// Package server runs the authoritative tick loop: it owns the one
// ScriptedWorld every connected client predicts against, accepts joins
// over internal/netconn's handshake, and turns each tick's physics step
// into the prioritized broadcast spec.md §4.7/§4.8 describes. Grounded
// on source/server/server.go's goroutine split (an accept loop plus a
// ticker-driven update loop) and on original_source/server.py's Server
// class for the exact per-tick and join/leave/reload packet sequences.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"platformer-go/internal/game"
	"platformer-go/internal/level"
	"platformer-go/internal/netconn"
	"platformer-go/internal/physics"
	"platformer-go/internal/script"
	objsync "platformer-go/internal/sync"
	"platformer-go/internal/transport"
	"platformer-go/internal/wire"
	"platformer-go/pkg/logger"
)

// Player body constants, ported from original_source/objects.py's
// BasePlayer class attributes: a 15-unit circle, density 0.5, the same
// restitution/friction every BasePlayer.__init__ passes to physics.Object.
const (
	playerSize        = 15.0
	playerDensity     = 0.5
	playerRestitution = 0.2
	playerFriction    = 0.8
)

// disconnectTimeout mirrors original_source/server.py's Server.update
// kick condition (`last_received + 3 < t`): three seconds of silence
// drops a connection.
const disconnectTimeout = 3 * time.Second

// Config describes one server instance's startup parameters.
type Config struct {
	ListenAddr string
	LevelPath  string
	ScriptPath string
	// TickRate is logical ticks per second; TickRate <= 0 defaults to 20.
	TickRate float64
}

type connEntry struct {
	id        uuid.UUID
	conn      *netconn.Connection
	playerIDs []int
}

// Server is the authoritative simulation and its connection table.
// Everything mutable is guarded by mu: the accept loop's onConnect
// callback and the tick loop both touch the world and connection set,
// and spec.md §5 makes the tick thread the world's only writer, so mu
// serializes the rare case of a join landing mid-tick.
type Server struct {
	mu sync.Mutex

	socket  *transport.Socket
	handler *netconn.Handler

	world       *game.ScriptedWorld
	objRecords  map[int][]byte
	constraints []level.ConstraintInstance
	syncs       map[int]*objsync.ObjectSync

	script    *script.Script
	scriptSrc []byte
	levelPath string

	conns  map[uuid.UUID]*connEntry
	byConn map[*netconn.Connection]uuid.UUID

	actions map[uint32]map[int]wire.PlayerAction

	tick         uint32
	tickInterval time.Duration
	paused       bool
}

// New loads the level (and optional script) named by cfg and opens a
// listening socket, but does not yet accept connections or run ticks —
// call Run for that.
func New(cfg Config) (*Server, error) {
	data, err := os.ReadFile(cfg.LevelPath)
	if err != nil {
		return nil, fmt.Errorf("server: reading level %q: %w", cfg.LevelPath, err)
	}
	f, err := level.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("server: decoding level %q: %w", cfg.LevelPath, err)
	}
	world, records, constraints, err := level.Load(f)
	if err != nil {
		return nil, fmt.Errorf("server: loading level %q: %w", cfg.LevelPath, err)
	}

	var scr *script.Script
	var scriptSrc []byte
	if cfg.ScriptPath != "" {
		src, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("server: reading script %q: %w", cfg.ScriptPath, err)
		}
		scr, err = script.Load(string(src))
		if err != nil {
			return nil, fmt.Errorf("server: loading script %q: %w", cfg.ScriptPath, err)
		}
		scriptSrc = src
	}
	if scr != nil {
		world.Script = scr
	}
	world.Load()

	socket, err := transport.Listen(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listening on %q: %w", cfg.ListenAddr, err)
	}

	tickRate := cfg.TickRate
	if tickRate <= 0 {
		tickRate = 20
	}

	s := &Server{
		socket:       socket,
		world:        world,
		objRecords:   records,
		constraints:  constraints,
		script:       scr,
		scriptSrc:    scriptSrc,
		levelPath:    cfg.LevelPath,
		conns:        make(map[uuid.UUID]*connEntry),
		byConn:       make(map[*netconn.Connection]uuid.UUID),
		actions:      make(map[uint32]map[int]wire.PlayerAction),
		tickInterval: time.Duration(float64(time.Second) / tickRate),
	}
	s.syncs = buildSyncs(world)
	s.handler = netconn.NewHandler(socket, rand.Uint32, s.onConnect)
	return s, nil
}

func buildSyncs(w *game.ScriptedWorld) map[int]*objsync.ObjectSync {
	syncs := make(map[int]*objsync.ObjectSync)
	for _, obj := range w.Arena.Objects() {
		if _, isPlayer := w.Arena.Player(obj.ID); isPlayer {
			continue
		}
		sy := objsync.New(uint32(obj.ID), obj)
		sy.MarkCreated()
		syncs[obj.ID] = sy
	}
	return syncs
}

func vecToWire(v physics.Vec2) wire.Vec2 { return wire.Vec2{X: v.X, Y: v.Y} }

func spawnJitter(spawn physics.Vec2) physics.Vec2 {
	return spawn.Add(physics.Vec2{X: (rand.Float64() - 0.5) * 2, Y: (rand.Float64() - 0.5) * 2})
}

func newPlayerObject(spawn physics.Vec2) *physics.PhysicsObject {
	mass, moment := physics.CircleMassMoment(playerSize, playerDensity)
	po := physics.NewDynamic(mass, moment, playerRestitution, playerFriction)
	po.Colliders = []physics.Collider{physics.CircleCollider{Radius: playerSize}}
	po.Pos = spawnJitter(spawn)
	return po
}

// Run drives the accept loop and the tick ticker until ctx is
// cancelled, then closes the socket.
func (s *Server) Run(ctx context.Context) error {
	go s.acceptLoop(ctx)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	buf := transport.NewRecvBuffer()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := s.socket.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("server: read error: %v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go s.handler.HandleRaw(addr, data)
	}
}

// Stop closes the listening socket; Run's accept/tick loops notice via
// their next I/O error or ctx cancellation.
func (s *Server) Stop() {
	_ = s.socket.Close()
	logger.Info("server: stopped")
}

// onConnect runs the full join sequence for a newly validated
// connection, grounded exactly on original_source/packets.py's
// InitConnectionPacketServer.handle_server: allocate a contiguous ID
// range, send InitConnectionClient, an optional ScriptPacket, then
// LevelProps; replay every existing object's creation packet (and its
// ObjectProps companion only if that object has ever been dirtied);
// replay every constraint; send every existing player's NewPlayer to
// just this connection; and finally broadcast each new player's
// NewPlayer to every other connection (this connection learns its own
// players from the ID list and subsequent PlayerState ticks, never from
// its own NewPlayer).
func (s *Server) onConnect(conn *netconn.Connection, initPayload []byte) {
	if len(initPayload) == 0 {
		logger.Warn("server: empty init payload from %s, dropping", conn.Addr())
		return
	}
	pkt, err := wire.Decode(initPayload[0], initPayload[1:])
	if err != nil {
		logger.Warn("server: malformed init payload from %s: %v", conn.Addr(), err)
		return
	}
	init, ok := pkt.(*wire.InitConnectionServer)
	if !ok {
		logger.Warn("server: unexpected init packet type from %s", conn.Addr())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(init.Players)
	base := s.world.Arena.AllocateRange(n)
	ids := make([]int, n)
	newPlayers := make([]*game.Player, n)
	for i, pi := range init.Players {
		id := base + i
		ids[i] = id
		gobj := game.NewGameObject(id, newPlayerObject(s.world.Spawn))
		gobj.Colour = pi.Colour
		newPlayers[i] = &game.Player{GameObject: gobj, Name: pi.Name}
	}

	existingObjects := s.world.Arena.Objects()
	existingPlayers := s.world.Arena.Players()

	for _, p := range newPlayers {
		s.world.AddPlayer(p)
	}

	ids32 := make([]uint32, n)
	for i, id := range ids {
		ids32[i] = uint32(id)
	}
	_ = conn.SendPacket(&wire.InitConnectionClient{Tick: s.tick, IDs: ids32})

	if s.scriptSrc != nil {
		_ = conn.SendPacket(&wire.ScriptPacket{Body: s.scriptSrc})
	}

	_ = conn.SendPacket(&wire.LevelProps{Gravity: vecToWire(s.world.Gravity), Spawn: vecToWire(s.world.Spawn)})

	for _, obj := range existingObjects {
		if _, isPlayer := s.world.Arena.Player(obj.ID); isPlayer {
			continue
		}
		_ = conn.SendPacket(&wire.NewObject{
			Tick: s.tick, ID: uint32(obj.ID),
			Pos: vecToWire(obj.Pos), Vel: vecToWire(obj.Vel),
			Rot: obj.Rot, RotVel: obj.RotVel,
			Record: s.objRecords[obj.ID],
		})
		if sy, ok := s.syncs[obj.ID]; ok && sy.EverDirty() {
			if record, err := json.Marshal(level.BuildPropsSnapshot(obj)); err == nil {
				_ = conn.SendPacket(&wire.ObjectProps{Tick: s.tick, ID: uint32(obj.ID), Record: record})
			}
		}
	}

	for _, ci := range s.constraints {
		_ = conn.SendPacket(&wire.NewConstraint{Tick: s.tick, IDA: uint32(ci.IDA), IDB: uint32(ci.IDB), Record: ci.Record})
	}

	for _, p := range existingPlayers {
		_ = conn.SendPacket(&wire.NewPlayer{Tick: s.tick, ID: uint32(p.ID), Name: p.Name, Colour: p.Colour})
	}

	for _, p := range newPlayers {
		s.broadcast(&wire.NewPlayer{Tick: s.tick, ID: uint32(p.ID), Name: p.Name, Colour: p.Colour})
	}

	id := uuid.New()
	s.conns[id] = &connEntry{id: id, conn: conn, playerIDs: ids}
	s.byConn[conn] = id

	logger.Conn(id).Success("joined with %d player(s) from %s", n, conn.Addr())
}

func (s *Server) broadcast(p wire.Packet) {
	for _, entry := range s.conns {
		_ = entry.conn.SendPacket(p)
	}
}

// Tick runs one logical step: drain inbound input, drop timed-out
// connections, apply this tick's stored actions, advance the world
// unless paused, flush property changes and priority-ready kinematics,
// and broadcast PlayerState for every player whose action landed this
// tick. Grounded on original_source/server.py's Server.update.
func (s *Server) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	timedOut := s.handler.Update(time.Now(), disconnectTimeout)

	for _, entry := range s.conns {
		for _, ap := range entry.conn.Drain() {
			s.handleAppPacket(entry, ap)
		}
	}

	for _, c := range timedOut {
		if id, ok := s.byConn[c]; ok {
			s.removeConnectionLocked(id, "timed out")
		}
	}

	bucket := s.actions[s.tick]
	delete(s.actions, s.tick)
	var responded []int
	for pid, act := range bucket {
		p, ok := s.world.Arena.Player(pid)
		if !ok {
			continue
		}
		p.Action = [2]float32{act.X, act.Y}
		responded = append(responded, pid)
	}

	if !s.paused {
		s.world.Update(1)
	}

	var ready []*objsync.ObjectSync
	for _, obj := range s.world.Arena.Objects() {
		sy, ok := s.syncs[obj.ID]
		if !ok {
			continue
		}
		if sy.PropsDirty() {
			if record, err := json.Marshal(level.BuildPropsSnapshot(obj)); err == nil {
				s.broadcast(&wire.ObjectProps{Tick: s.tick, ID: uint32(obj.ID), Record: record})
			}
		}
		if sy.Update(s.world.Gravity) {
			ready = append(ready, sy)
		}
	}
	for _, pkt := range objsync.Batch(s.tick, ready) {
		s.broadcast(pkt)
	}

	for _, pid := range responded {
		p, ok := s.world.Arena.Player(pid)
		if !ok {
			continue
		}
		s.broadcast(&wire.PlayerState{
			Tick: s.tick, ID: uint32(pid),
			Pos: vecToWire(p.Pos), Vel: vecToWire(p.Vel),
			Rot: p.Rot, RotVel: p.RotVel,
			Action: p.Action,
		})
	}

	s.tick++
}

// handleAppPacket dispatches one drained application packet for a known
// connection. An UpdateClientInput batch is validated and stored or, on
// any out-of-range action, dropped whole: original_source/packets.py's
// UpdateClientPacketServer.handle_server rejects the entire packet
// rather than clamping individual entries.
func (s *Server) handleAppPacket(entry *connEntry, ap netconn.AppPacket) {
	pkt, err := wire.Decode(ap.Tag, ap.Body)
	if err != nil {
		return
	}
	switch m := pkt.(type) {
	case *wire.UpdateClientInput:
		owned := make(map[int]bool, len(entry.playerIDs))
		for _, id := range entry.playerIDs {
			owned[id] = true
		}
		for _, a := range m.Actions {
			if !owned[int(a.PlayerID)] {
				return
			}
			if math.Abs(float64(a.X)) > 1 || math.Abs(float64(a.Y)) > 1 {
				logger.Tick(float64(m.Tick)).Warn("rejecting UpdateClientInput: player %d action (%.2f, %.2f) out of range", a.PlayerID, a.X, a.Y)
				return
			}
		}
		bucket := s.actions[m.Tick]
		if bucket == nil {
			bucket = make(map[int]wire.PlayerAction, len(m.Actions))
			s.actions[m.Tick] = bucket
		}
		for _, a := range m.Actions {
			bucket[int(a.PlayerID)] = a
		}
		_ = entry.conn.SendPacket(&wire.UpdateClientResponse{ClientTick: m.Tick, ServerTick: s.tick})
	case *wire.Disconnect:
		s.removeConnectionLocked(entry.id, m.Reason)
	}
}

// removeConnectionLocked tears down a connection's players and drops it
// from the table; callers hold mu. Grounded on
// original_source/server.py's Server.disconnect.
func (s *Server) removeConnectionLocked(id uuid.UUID, reason string) {
	entry, ok := s.conns[id]
	if !ok {
		return
	}
	delete(s.conns, id)
	delete(s.byConn, entry.conn)
	s.handler.Disconnect(entry.conn.Addr())

	for _, pid := range entry.playerIDs {
		if _, ok := s.world.Arena.Player(pid); ok {
			s.world.RemovePlayer(pid)
			s.broadcast(&wire.DeletePlayer{Tick: s.tick, ID: uint32(pid)})
		}
	}
	logger.Conn(id).Info("left (%s)", reason)
}

// Pause toggles whether Tick advances the physics world and returns the
// new state; packets still drain and connections still time out while
// paused.
func (s *Server) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = !s.paused
	return s.paused
}

// Addr reports the socket's bound local address, resolved after New in
// case ListenAddr asked for an ephemeral port.
func (s *Server) Addr() string {
	return s.socket.LocalAddr().String()
}

// Status summarizes the server's current state for the operator
// console.
func (s *Server) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("tick=%d level=%s connections=%d players=%d paused=%v",
		s.tick, s.levelPath, len(s.conns), len(s.world.Arena.Players()), s.paused)
}

// ReloadCurrent re-reads the currently loaded level file from disk, for
// an operator iterating on a level without restarting the server.
func (s *Server) ReloadCurrent() error {
	s.mu.Lock()
	path := s.levelPath
	s.mu.Unlock()
	return s.ReloadLevel(path)
}

// ReloadLevel hot-swaps the running world for the level at path,
// preserving every connected player's object ID, name and colour.
// Grounded on original_source/server.py's Server.setWorld: delete every
// current (non-player) object, rebuild players onto the fresh world,
// then resend LevelProps and every creation/constraint packet.
func (s *Server) ReloadLevel(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("server: reading level %q: %w", path, err)
	}
	f, err := level.Decode(data)
	if err != nil {
		return fmt.Errorf("server: decoding level %q: %w", path, err)
	}
	world, records, constraints, err := level.Load(f)
	if err != nil {
		return fmt.Errorf("server: loading level %q: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obj := range s.world.Arena.Objects() {
		if _, isPlayer := s.world.Arena.Player(obj.ID); isPlayer {
			continue
		}
		s.broadcast(&wire.DeleteObject{Tick: s.tick, ID: uint32(obj.ID)})
	}

	if s.script != nil {
		world.Script = s.script
	}
	world.Load()

	for _, entry := range s.conns {
		for _, pid := range entry.playerIDs {
			old, ok := s.world.Arena.Player(pid)
			if !ok {
				continue
			}
			gobj := game.NewGameObject(pid, newPlayerObject(world.Spawn))
			gobj.Colour = old.Colour
			world.AddPlayer(&game.Player{GameObject: gobj, Name: old.Name})
		}
	}

	s.world = world
	s.objRecords = records
	s.constraints = constraints
	s.syncs = buildSyncs(world)
	s.levelPath = path

	s.broadcast(&wire.LevelProps{Gravity: vecToWire(world.Gravity), Spawn: vecToWire(world.Spawn)})
	for _, obj := range world.Arena.Objects() {
		if _, isPlayer := world.Arena.Player(obj.ID); isPlayer {
			continue
		}
		s.broadcast(&wire.NewObject{
			Tick: s.tick, ID: uint32(obj.ID),
			Pos: vecToWire(obj.Pos), Vel: vecToWire(obj.Vel),
			Rot: obj.Rot, RotVel: obj.RotVel,
			Record: records[obj.ID],
		})
	}
	for _, ci := range constraints {
		s.broadcast(&wire.NewConstraint{Tick: s.tick, IDA: uint32(ci.IDA), IDB: uint32(ci.IDB), Record: ci.Record})
	}

	logger.Success("server: reloaded level from %s", path)
	return nil
}
