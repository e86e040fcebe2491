package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// WorldRules is the script set name used for world-generation rules.
const WorldRules = "world"

// vm pairs an LState with the lock that serializes access to it.
type vm struct {
	mu sync.Mutex
	L  *lua.LState
}

// Manager owns one sandboxed LState per named script set and exposes hook
// dispatch.
//
// Manager is safe for concurrent use. Each LState is single-threaded, so calls
// into the same set are serialized while different sets run concurrently.
type Manager struct {
	mu        sync.RWMutex
	vms       map[string]*vm
	instLimit int
	seed      int64
	logger    *zap.Logger

	// Injected after construction. nil = engine.world.chunk_biome returns nil.
	ChunkBiome func(cx, cy int) (string, bool)
}

// NewManager creates a Manager. seed is exposed to scripts as engine.world.seed.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a non-nil Manager with no script sets loaded.
func NewManager(logger *zap.Logger, seed int64, instLimit int) *Manager {
	if logger == nil {
		panic("scripting.NewManager: logger must not be nil")
	}
	return &Manager{
		vms:       make(map[string]*vm),
		instLimit: instLimit,
		seed:      seed,
		logger:    logger.Named("scripting"),
	}
}

// LoadDir creates a sandboxed VM for name, registers all engine.* modules,
// then executes every *.lua file in scriptDir in lexicographic order.
//
// Precondition: name must be non-empty; scriptDir must be a readable directory.
// Postcondition: VM is registered; returns error on Lua load failure.
func (m *Manager) LoadDir(name, scriptDir string) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, name, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)
	return m.loadInto(name, luaFiles)
}

// LoadFile creates a sandboxed VM for name from a single script.
//
// Precondition: path must be a readable Lua file.
// Postcondition: VM is registered; returns error on Lua load failure.
func (m *Manager) LoadFile(name, path string) error {
	return m.loadInto(name, []string{path})
}

func (m *Manager) loadInto(name string, files []string) error {
	L := NewVM()
	m.RegisterModules(L)

	budget := WithBudget(L, m.instLimit)
	for _, path := range files {
		if err := L.DoFile(path); err != nil {
			budget.Release()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, name, err)
		}
	}
	budget.Release()

	m.mu.Lock()
	if old, ok := m.vms[name]; ok {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
	m.vms[name] = &vm{L: L}
	m.mu.Unlock()

	m.logger.Info("scripts loaded", zap.String("set", name), zap.Int("files", len(files)))
	return nil
}

// HasHook reports whether set name defines a global function hook.
func (m *Manager) HasHook(name, hook string) bool {
	m.mu.RLock()
	v := m.vms[name]
	m.mu.RUnlock()
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.L.GetGlobal(hook).Type() == lua.LTFunction
}

// CallHook calls the named Lua global function in set name. Returns (LNil, nil)
// if the hook is not defined or no VM exists. Lua runtime errors, including
// an exhausted instruction budget, are logged at Warn level and never propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(name, hook string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.RLock()
	v := m.vms[name]
	m.mu.RUnlock()

	if v == nil {
		m.logger.Debug("no VM for script set",
			zap.String("set", name),
			zap.String("hook", hook),
		)
		return lua.LNil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	fn := v.L.GetGlobal(hook)
	if fn.Type() != lua.LTFunction {
		return lua.LNil, nil
	}

	budget := WithBudget(v.L, m.instLimit)
	defer budget.Release()
	if err := v.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		m.logger.Warn("Lua runtime error",
			zap.String("set", name),
			zap.String("hook", hook),
			zap.Bool("budget_exhausted", budget.Exhausted()),
			zap.Error(err),
		)
		return lua.LNil, nil
	}

	ret := v.L.Get(-1)
	v.L.Pop(1)
	return ret, nil
}

// Close releases every VM. Later CallHook calls return LNil.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range m.vms {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
		delete(m.vms, name)
	}
}
