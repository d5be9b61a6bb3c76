package luaengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrLuaTimeout is returned when Lua script exceeds execution time limit.
	ErrLuaTimeout = errors.New("lua script exceeded execution time limit")
	// ErrRejected is returned when the script rejects a candidate token.
	ErrRejected = errors.New("token rejected by lua policy")
)

// DefaultTimeout is the default execution time limit per Lua evaluation.
const DefaultTimeout = 2 * time.Second

// Candidate is the token under evaluation.
type Candidate struct {
	Token  string
	JWT    bool
	Claims map[string]any
}

// CompiledPolicy holds a pre-compiled Lua script for reuse across calls.
type CompiledPolicy struct {
	proto *lua.FunctionProto
	mu    sync.Mutex
}

// Compile parses and compiles a Lua script. The result can be reused for many Evaluate calls.
func Compile(script string) (*CompiledPolicy, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	fn, err := L.LoadString(script)
	if err != nil {
		return nil, fmt.Errorf("lua compile error: %w", err)
	}
	return &CompiledPolicy{proto: fn.Proto}, nil
}

// Evaluate runs the policy against a candidate token.
// It returns nil when the candidate is accepted and an error wrapping ErrRejected when the
// script rejects it. Any other error means the script itself failed.
func (cp *CompiledPolicy) Evaluate(c Candidate) error {
	return cp.EvaluateWithTimeout(c, DefaultTimeout)
}

// EvaluateWithTimeout runs with a custom execution timeout.
func (cp *CompiledPolicy) EvaluateWithTimeout(c Candidate, timeout time.Duration) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	L.SetContext(ctx)

	OpenSafeLibs(L)

	claims := c.Claims
	if claims == nil {
		claims = map[string]any{}
	}
	L.SetGlobal("token", lua.LString(c.Token))
	L.SetGlobal("is_jwt", lua.LBool(c.JWT))
	L.SetGlobal("claims", mapToLTable(L, claims))

	var policyErr error

	L.SetGlobal("has", L.NewFunction(func(L *lua.LState) int {
		_, ok := claims[L.CheckString(1)]
		L.Push(lua.LBool(ok))
		return 1
	}))

	L.SetGlobal("get", L.NewFunction(func(L *lua.LState) int {
		val, ok := claims[L.CheckString(1)]
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, val))
		return 1
	}))

	L.SetGlobal("require_claim", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		if _, ok := claims[key]; !ok {
			policyErr = fmt.Errorf("%w: required claim missing: %s", ErrRejected, key)
			L.RaiseError("%s", policyErr.Error())
		}
		return 0
	}))

	L.SetGlobal("reject", L.NewFunction(func(L *lua.LState) int {
		msg := L.OptString(1, "rejected")
		policyErr = fmt.Errorf("%w: %s", ErrRejected, msg)
		L.RaiseError("%s", policyErr.Error())
		return 0
	}))

	fn := L.NewFunctionFromProto(cp.proto)
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrLuaTimeout
		}
		if policyErr != nil {
			return policyErr
		}
		return fmt.Errorf("lua policy error: %w", err)
	}
	return policyErr
}

// OpenSafeLibs opens only base, table, string and math, and removes the base functions
// that can load code from outside the script.
func OpenSafeLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
}

func mapToLTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		tbl.RawSetString(k, goToLua(L, v))
	}
	return tbl
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]any:
		return mapToLTable(L, val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, goToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, lua.LString(item))
		}
		return tbl
	case nil:
		return lua.LNil
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
