package monkey

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Lua monkey errors.
var (
	// ErrNoApply is returned when a patch script defines no apply()
	// function.
	ErrNoApply = errors.New("patch script defines no apply() function")
)

// safeLibs are the Lua standard libraries opened for patch scripts.
// Everything touching the filesystem, processes, or module loading
// stays closed.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// LuaMonkey is a patch unit whose body is a Lua script. The script runs
// in a restricted state; its global apply() function is the patch body.
type LuaMonkey struct {
	name       string
	priority   int
	scriptPath string
}

// NewLua creates a Lua-backed monkey running the script at path.
func NewLua(name string, priority int, scriptPath string) *LuaMonkey {
	return &LuaMonkey{name: name, priority: priority, scriptPath: scriptPath}
}

// Name returns the patch name.
func (m *LuaMonkey) Name() string { return m.name }

// Priority returns the patch priority.
func (m *LuaMonkey) Priority() int { return m.priority }

// ScriptPath returns the path of the backing script.
func (m *LuaMonkey) ScriptPath() string { return m.scriptPath }

// Run loads the script into a fresh restricted Lua state and calls its
// apply() function. Each run owns its state, so patches never share
// interpreter state and gopher-lua's single-goroutine constraint holds.
func (m *LuaMonkey) Run(ctx context.Context) error {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	for _, lib := range safeLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// Script-level escape hatches stay off even in base.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	if err := L.DoFile(m.scriptPath); err != nil {
		return fmt.Errorf("patch %q: script: %w", m.name, err)
	}

	apply := L.GetGlobal("apply")
	if apply.Type() != lua.LTFunction {
		return fmt.Errorf("patch %q: %w", m.name, ErrNoApply)
	}

	L.Push(apply)
	if err := L.PCall(0, 1, nil); err != nil {
		return fmt.Errorf("patch %q: apply: %w", m.name, err)
	}

	// A returned false (or string) reports failure without a Lua error.
	ret := L.Get(-1)
	L.Pop(1)
	switch v := ret.(type) {
	case lua.LBool:
		if !bool(v) {
			return fmt.Errorf("patch %q: apply reported failure", m.name)
		}
	case lua.LString:
		return fmt.Errorf("patch %q: apply reported failure: %s", m.name, string(v))
	}
	return nil
}
