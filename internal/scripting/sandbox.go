// Package scripting runs world-rule Lua scripts in a sandboxed GopherLua VM.
// It has no dependency on game domain packages; world queries are injected
// via Manager callback fields.
package scripting

import (
	"context"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the opcode budget per hook call or script load
// when none is configured.
const DefaultInstructionLimit = 100_000

// blockedGlobals are left behind by the base library but reach the host.
var blockedGlobals = []string{"dofile", "loadfile", "load", "collectgarbage", "require"}

// NewVM returns an LState with only the base, table, string, and math
// libraries and with blockedGlobals removed. Execution is unbounded until a
// Budget is attached.
//
// Postcondition: The caller owns the LState and must Close it.
func NewVM() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// Budget caps the number of opcodes an LState may execute. GopherLua polls
// its context's Done channel once per opcode, so counting those polls counts
// instructions.
type Budget struct {
	context.Context
	cancel context.CancelFunc
	left   atomic.Int64
	L      *lua.LState
}

// Done spends one instruction and cancels the VM once none remain.
func (b *Budget) Done() <-chan struct{} {
	if b.left.Add(-1) <= 0 {
		b.cancel()
	}
	return b.Context.Done()
}

// Exhausted reports whether the script ran out of instructions.
func (b *Budget) Exhausted() bool { return b.left.Load() <= 0 }

// Release detaches the budget from its LState.
func (b *Budget) Release() {
	b.L.RemoveContext()
	b.cancel()
}

// WithBudget attaches a fresh budget of limit opcodes to L. Long-lived VMs
// get a new budget for every call so they never wear out.
//
// Precondition: limit <= 0 selects DefaultInstructionLimit.
// Postcondition: L aborts with an error once the budget is spent, until Release.
func WithBudget(L *lua.LState, limit int) *Budget {
	if limit <= 0 {
		limit = DefaultInstructionLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Budget{Context: ctx, cancel: cancel, L: L}
	b.left.Store(int64(limit))
	L.SetContext(b)
	return b
}
