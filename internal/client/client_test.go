package client

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platformer-go/internal/game"
	"platformer-go/internal/level"
	"platformer-go/internal/physics"
	"platformer-go/internal/server"
	"platformer-go/internal/wire"
)

func writeTestLevel(t *testing.T) string {
	t.Helper()
	f := level.File{
		Gravity: [2]float64{0, -20},
		Spawn:   [2]float64{0, 0},
		Objects: []level.ObjectRecord{
			{Type: "circle", Radius: 50, Pos: [2]float64{0, -100}, Colour: [3]byte{10, 20, 30}},
		},
	}
	data, err := json.Marshal(f)
	require.NoError(t, err, "marshal test level")
	path := filepath.Join(t.TempDir(), "level.json")
	require.NoError(t, os.WriteFile(path, data, 0o644), "write test level")
	return path
}

// newTestServer starts a real server, running its accept/tick loops in the
// background, so Dial below exercises the full handshake and join flow
// over a loopback socket rather than a fake.
func newTestServer(t *testing.T, tickRate float64) *server.Server {
	t.Helper()
	s, err := server.New(server.Config{ListenAddr: "127.0.0.1:0", LevelPath: writeTestLevel(t), TickRate: tickRate})
	require.NoError(t, err, "server.New")
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)
	t.Cleanup(s.Stop)
	return s
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// drive calls Tick n times at the server's tick interval, the way a real
// frame loop would, giving the background read loop time to surface
// packets between calls.
func drive(t *testing.T, c *Client, n int, interval time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		time.Sleep(interval)
		require.NoErrorf(t, c.Tick(time.Now()), "Tick (%d/%d)", i+1, n)
	}
}

func TestDialJoinsAndPopulatesSimWorld(t *testing.T) {
	s := newTestServer(t, 200)

	c, err := Dial(s.Addr(), []wire.PlayerInit{{Name: "alice", Colour: [3]byte{1, 2, 3}}}, 200)
	require.NoError(t, err, "Dial")
	t.Cleanup(func() { c.Close() })

	waitUntil(t, time.Second, func() bool { return len(c.PlayerIDs()) > 0 })

	ids := c.PlayerIDs()
	require.Len(t, ids, 1, "PlayerIDs should contain exactly 1 id")

	drive(t, c, 20, 5*time.Millisecond)

	assert.Greater(t, c.SimWorld().Tick, 0.0, "sim_world.Tick should advance after driving ticks")

	_, ok := c.SimWorld().Arena.Player(ids[0])
	assert.True(t, ok, "sim_world should contain the locally-controlled player")
	assert.Len(t, c.SimWorld().Arena.Objects(), 1, "the level's ground object")

	_, ok = c.DrawWorld().Arena.Player(ids[0])
	assert.True(t, ok, "draw_world should mirror sim_world's player once membership has synced")
	assert.Len(t, c.DrawWorld().Arena.Objects(), 1)
}

func TestSecondClientSeesFirstClientsPlayer(t *testing.T) {
	s := newTestServer(t, 200)

	alice, err := Dial(s.Addr(), []wire.PlayerInit{{Name: "alice", Colour: [3]byte{1, 2, 3}}}, 200)
	require.NoError(t, err, "Dial alice")
	t.Cleanup(func() { alice.Close() })
	waitUntil(t, time.Second, func() bool { return len(alice.PlayerIDs()) > 0 })
	drive(t, alice, 5, 5*time.Millisecond)

	bob, err := Dial(s.Addr(), []wire.PlayerInit{{Name: "bob", Colour: [3]byte{4, 5, 6}}}, 200)
	require.NoError(t, err, "Dial bob")
	t.Cleanup(func() { bob.Close() })
	waitUntil(t, time.Second, func() bool { return len(bob.PlayerIDs()) > 0 })

	drive(t, bob, 5, 5*time.Millisecond)
	bobID := bob.PlayerIDs()[0]

	deadline := time.Now().Add(time.Second)
	var sawBob bool
	for time.Now().Before(deadline) && !sawBob {
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, alice.Tick(time.Now()), "alice.Tick")
		_, sawBob = alice.SimWorld().Arena.Player(bobID)
	}

	assert.True(t, sawBob, "alice's sim_world should learn about bob joining")
}

// TestApplyTickGroupsDropsStaleGroup exercises applyTickGroups directly,
// bypassing the network, against a sim_world that has already moved past a
// tick a PlayerState/UpdateObjects group names: the stale group must be
// skipped rather than snapping the object's position backward.
func TestApplyTickGroupsDropsStaleGroup(t *testing.T) {
	world := game.NewScriptedWorld()
	obj := game.NewGameObject(1, physics.NewDynamic(1, 1, 0, 0))
	obj.Pos = physics.Vec2{X: 42, Y: 42}
	world.AddObject(obj)
	world.Tick = 10

	c := &Client{simWorld: world, drawWorld: game.NewScriptedWorld()}

	stale := &tickGroup{
		tick: 3,
		pkts: []wire.Packet{&wire.UpdateObjects{Tick: 3, Objects: []wire.ObjectKinematics{
			{ID: 1, Pos: wire.Vec2{X: 0, Y: 0}},
		}}},
	}
	c.applyTickGroups([]uint32{3}, map[uint32]*tickGroup{3: stale})

	got, ok := world.Arena.Object(1)
	require.True(t, ok, "object should still be present")
	assert.Equal(t, physics.Vec2{X: 42, Y: 42}, got.Pos, "a stale-tick UpdateObjects must be dropped, not applied")
	assert.Equal(t, 10.0, world.Tick, "sim_world.Tick must not move for a stale group")
}

// TestApplyTickGroupsAppliesCurrentGroup is the control case: a group at
// or ahead of sim_world's tick is applied as usual.
func TestApplyTickGroupsAppliesCurrentGroup(t *testing.T) {
	world := game.NewScriptedWorld()
	obj := game.NewGameObject(1, physics.NewDynamic(1, 1, 0, 0))
	obj.Pos = physics.Vec2{X: 42, Y: 42}
	world.AddObject(obj)
	world.Tick = 10

	c := &Client{simWorld: world, drawWorld: game.NewScriptedWorld()}

	current := &tickGroup{
		tick: 10,
		pkts: []wire.Packet{&wire.UpdateObjects{Tick: 10, Objects: []wire.ObjectKinematics{
			{ID: 1, Pos: wire.Vec2{X: 7, Y: 7}},
		}}},
	}
	c.applyTickGroups([]uint32{10}, map[uint32]*tickGroup{10: current})

	got, ok := world.Arena.Object(1)
	require.True(t, ok, "object should still be present")
	assert.Equal(t, physics.Vec2{X: 7, Y: 7}, got.Pos, "a current-tick UpdateObjects must be applied")
}

func TestTickReturnsErrDisconnectedAfterClose(t *testing.T) {
	s := newTestServer(t, 200)

	c, err := Dial(s.Addr(), []wire.PlayerInit{{Name: "alice", Colour: [3]byte{1, 2, 3}}}, 200)
	require.NoError(t, err, "Dial")
	waitUntil(t, time.Second, func() bool { return len(c.PlayerIDs()) > 0 })

	c.mu.Lock()
	c.disconnected = true
	c.disconnectReason = "test forced disconnect"
	c.mu.Unlock()

	assert.ErrorIs(t, c.Tick(time.Now()), ErrDisconnected, "Tick after forced disconnect")
	assert.Equal(t, "test forced disconnect", c.DisconnectReason())
	_ = c.Close()
}
