package script

import (
	lua "github.com/yuin/gopher-lua"

	"platformer-go/internal/game"
	"platformer-go/internal/physics"
)

// Script wraps a validated, loaded Lua chunk and implements game.Script's
// closed hook menu (spec.md §4.6): load, tick, on_death, add_object,
// remove_object, and named collision triggers. A Script with no global
// function for a given hook is a silent no-op for that hook, matching the
// spec's "core's operation is unchanged when scripts are absent" guarantee
// for any individual hook a script chooses not to define.
type Script struct {
	L *lua.LState
}

// Load validates source against the sandbox denylist, then runs it in a
// fresh Lua VM. The chunk's top-level statements execute immediately
// (global function definitions included); Load() the hook is called
// separately, once the level is installed.
func Load(source string) (*Script, error) {
	if err := Validate(source); err != nil {
		return nil, err
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, err
		}
	}
	// os/io/debug/package are never opened, and the base library's load
	// and require are cleared here. The base library's other loaders
	// (dofile, loadfile, loadstring) stay registered and are reachable
	// only by names Validate rejects.
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, err
	}
	return &Script{L: L}, nil
}

// Close releases the underlying Lua VM.
func (s *Script) Close() {
	s.L.Close()
}

func (s *Script) call(name string, args ...lua.LValue) (lua.LValue, bool) {
	fn := s.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return lua.LNil, false
	}
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, false
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, true
}

func (s *Script) Load() { s.call("load") }

func (s *Script) Tick() { s.call("tick") }

func (s *Script) OnDeath(player *game.Player) {
	s.call("on_death", objectTable(s.L, player.GameObject))
}

func (s *Script) ObjectAdded(obj *game.GameObject) {
	s.call("add_object", objectTable(s.L, obj))
}

func (s *Script) ObjectRemoved(obj *game.GameObject) {
	s.call("remove_object", objectTable(s.L, obj))
}

// Trigger invokes the named collision-trigger global, if the script
// defines one. Its return value cancels the contact when truthy, per
// Lua's own truthiness rule (only nil and false are falsy).
func (s *Script) Trigger(name string, self, other *game.GameObject, normal, localA, localB physics.Vec2) bool {
	ret, called := s.call(name,
		objectTable(s.L, self),
		objectTable(s.L, other),
		vecTable(s.L, normal),
		vecTable(s.L, localA),
		vecTable(s.L, localB),
	)
	if !called {
		return false
	}
	return lua.LVAsBool(ret)
}

func vecTable(L *lua.LState, v physics.Vec2) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("x", lua.LNumber(v.X))
	t.RawSetString("y", lua.LNumber(v.Y))
	return t
}

func objectTable(L *lua.LState, obj *game.GameObject) *lua.LTable {
	t := L.NewTable()
	if obj == nil {
		return t
	}
	t.RawSetString("id", lua.LNumber(obj.ID))
	t.RawSetString("lethal", lua.LBool(obj.Lethal))
	t.RawSetString("pos", vecTable(L, obj.Pos))
	t.RawSetString("vel", vecTable(L, obj.Vel))
	t.RawSetString("rot", lua.LNumber(obj.Rot))
	return t
}
