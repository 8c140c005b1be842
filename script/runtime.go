// Package script runs Lua programs that issue bus transactions through a
// Driver, one blocking access at a time. It is used for register-level
// diagnostics such as starting a self-test engine and polling its status.
package script

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/Readm/wb_sim/logger"
)

// Driver performs blocking bus accesses on behalf of a script.
type Driver interface {
	Read(addr uint32) (uint32, error)
	Write(addr, value uint32) error
	// Step advances the simulation by n cycles without issuing traffic.
	Step(n int) error
	Cycle() uint64
}

// DefaultPollLimit bounds poll() when the script gives no limit.
const DefaultPollLimit = 10000

// ErrPollTimeout is returned to the script when poll() gives up.
var ErrPollTimeout = errors.New("poll limit reached")

// Runtime is a Lua state bound to one driver. It is not safe for concurrent
// use.
type Runtime struct {
	L      *lua.LState
	driver Driver
	log    *logger.Logger
	reads  uint64
	writes uint64
}

// New builds a runtime exposing read, write, poll, step, cycle and log.
func New(d Driver, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.Get()
	}
	r := &Runtime{L: lua.NewState(), driver: d, log: log}
	r.register()
	return r
}

// Close releases the Lua state.
func (r *Runtime) Close() {
	if r != nil && r.L != nil {
		r.L.Close()
	}
}

func (r *Runtime) register() {
	fns := map[string]lua.LGFunction{
		"read":  r.luaRead,
		"write": r.luaWrite,
		"poll":  r.luaPoll,
		"step":  r.luaStep,
		"cycle": r.luaCycle,
		"log":   r.luaLog,
		"print": r.luaLog,
	}
	for name, fn := range fns {
		r.L.SetGlobal(name, r.L.NewFunction(fn))
	}
}

// Run executes source under ctx.
func (r *Runtime) Run(ctx context.Context, source string) error {
	r.L.SetContext(ctx)
	if err := r.L.DoString(source); err != nil {
		return errors.Wrap(err, "run script")
	}
	return nil
}

// RunFile executes the Lua file at path under ctx.
func (r *Runtime) RunFile(ctx context.Context, path string) error {
	r.L.SetContext(ctx)
	if err := r.L.DoFile(path); err != nil {
		return errors.Wrapf(err, "run script %s", path)
	}
	return nil
}

// Accesses returns the number of reads and writes issued by scripts.
func (r *Runtime) Accesses() (reads, writes uint64) { return r.reads, r.writes }

func checkAddr(L *lua.LState, n int) uint32 {
	v := L.CheckInt64(n)
	if v < 0 || v > 0xffffffff {
		L.ArgError(n, "value out of 32-bit range")
	}
	return uint32(v)
}

func (r *Runtime) luaRead(L *lua.LState) int {
	addr := checkAddr(L, 1)
	v, err := r.driver.Read(addr)
	if err != nil {
		L.RaiseError("read 0x%08x: %v", addr, err)
		return 0
	}
	r.reads++
	L.Push(lua.LNumber(v))
	return 1
}

func (r *Runtime) luaWrite(L *lua.LState) int {
	addr := checkAddr(L, 1)
	val := checkAddr(L, 2)
	if err := r.driver.Write(addr, val); err != nil {
		L.RaiseError("write 0x%08x: %v", addr, err)
		return 0
	}
	r.writes++
	return 0
}

// poll(addr, mask, want[, max]) reads addr until value&mask == want and
// returns the last value read. It raises an error once max reads failed.
func (r *Runtime) luaPoll(L *lua.LState) int {
	addr := checkAddr(L, 1)
	mask := checkAddr(L, 2)
	want := checkAddr(L, 3)
	limit := L.OptInt(4, DefaultPollLimit)
	for i := 0; i < limit; i++ {
		v, err := r.driver.Read(addr)
		if err != nil {
			L.RaiseError("poll 0x%08x: %v", addr, err)
			return 0
		}
		r.reads++
		if v&mask == want {
			L.Push(lua.LNumber(v))
			return 1
		}
	}
	L.RaiseError("poll 0x%08x: %v after %d reads", addr, ErrPollTimeout, limit)
	return 0
}

func (r *Runtime) luaStep(L *lua.LState) int {
	n := L.OptInt(1, 1)
	if n < 0 {
		L.ArgError(1, "negative cycle count")
	}
	if err := r.driver.Step(n); err != nil {
		L.RaiseError("step: %v", err)
	}
	return 0
}

func (r *Runtime) luaCycle(L *lua.LState) int {
	L.Push(lua.LNumber(r.driver.Cycle()))
	return 1
}

func (r *Runtime) luaLog(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.Get(i).String())
	}
	r.log.Infof("[lua @%d] %s", r.driver.Cycle(), strings.Join(parts, " "))
	return 0
}
