package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers all engine.* Lua tables into L:
//
//	engine.log.debug|info|warn|error(msg)
//	engine.world.seed
//	engine.world.chunk_biome(cx, cy) -> name or nil
//
// Precondition: L must be from NewVM.
// Postcondition: engine global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()
	L.SetField(engine, "log", m.newLogModule(L))
	L.SetField(engine, "world", m.newWorldModule(L))
	L.SetGlobal("engine", engine)
}

func (m *Manager) newLogModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	levels := map[string]func(string, ...zap.Field){
		"debug": m.logger.Debug,
		"info":  m.logger.Info,
		"warn":  m.logger.Warn,
		"error": m.logger.Error,
	}
	for name, fn := range levels {
		fn := fn
		L.SetField(mod, name, L.NewFunction(func(L *lua.LState) int {
			fn(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}))
	}
	return mod
}

func (m *Manager) newWorldModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "seed", lua.LNumber(m.seed))
	L.SetField(mod, "chunk_biome", L.NewFunction(func(L *lua.LState) int {
		cx, cy := L.CheckInt(1), L.CheckInt(2)
		if m.ChunkBiome == nil {
			L.Push(lua.LNil)
			return 1
		}
		name, ok := m.ChunkBiome(cx, cy)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(name))
		return 1
	}))
	return mod
}
