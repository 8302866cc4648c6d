// Package script runs Lua plans against a drill controller.
//
// A plan sees a global table named rig:
//
//	rig.command(name)        apply a command, returns false for unknown names
//	rig.tick([n])            run n control ticks (default 1)
//	rig.wait(status, [max])  tick until status is reached, returns true on success
//	rig.status()             current status name
//	rig.pending(), rig.done() piston counts
//	rig.angle()              last rotor angle read
//	rig.display()            current display text
//	rig.log(msg)             write a line to the output
package script

import (
	"context"
	"fmt"
	"io"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/gwillem/drillrig/pkg/drill"
)

// defaultWaitTicks bounds rig.wait when no limit is given.
const defaultWaitTicks = 10_000

// Config holds configuration for a Runner.
type Config struct {
	// Step advances the physical world by one tick interval before each
	// tick. It may be nil when the devices move on their own.
	Step func(dt time.Duration)
	Out  io.Writer
}

// Runner executes plans. It drives the controller directly, so it must not
// be used while the controller's Start loop is running.
type Runner struct {
	ctrl *drill.Controller
	step func(time.Duration)
	out  io.Writer
	ctx  context.Context
}

// New creates a Runner for ctrl.
func New(ctrl *drill.Controller, cfg Config) *Runner {
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	return &Runner{ctrl: ctrl, step: cfg.Step, out: out}
}

// Run executes the plan in src.
func (r *Runner) Run(ctx context.Context, src string) error {
	return r.run(ctx, func(L *lua.LState) error { return L.DoString(src) })
}

// RunFile executes the plan stored at path.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	return r.run(ctx, func(L *lua.LState) error { return L.DoFile(path) })
}

func (r *Runner) run(ctx context.Context, exec func(*lua.LState) error) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	r.ctx = ctx

	mod := L.NewTable()
	for name, fn := range map[string]lua.LGFunction{
		"command": r.command,
		"tick":    r.tick,
		"wait":    r.wait,
		"status":  r.status,
		"pending": r.pending,
		"done":    r.done,
		"angle":   r.angle,
		"display": r.display,
		"log":     r.log,
	} {
		L.SetField(mod, name, L.NewFunction(fn))
	}
	L.SetGlobal("rig", mod)

	if err := exec(L); err != nil {
		return fmt.Errorf("run plan: %w", err)
	}
	return nil
}

func (r *Runner) command(L *lua.LState) int {
	cmd, ok := drill.ParseCommand(L.CheckString(1))
	if err := r.ctrl.HandleCommand(r.ctx, cmd); err != nil {
		L.RaiseError("command %s: %v", cmd, err)
		return 0
	}
	L.Push(lua.LBool(ok))
	return 1
}

func (r *Runner) tickOnce(L *lua.LState) {
	if r.step != nil {
		r.step(r.ctrl.Interval())
	}
	if err := r.ctrl.Tick(r.ctx); err != nil {
		L.RaiseError("tick: %v", err)
	}
}

func (r *Runner) tick(L *lua.LState) int {
	n := L.OptInt(1, 1)
	for range n {
		r.tickOnce(L)
	}
	return 0
}

func (r *Runner) wait(L *lua.LState) int {
	want := L.CheckString(1)
	limit := L.OptInt(2, defaultWaitTicks)
	for range limit {
		if r.ctrl.Status().String() == want {
			L.Push(lua.LTrue)
			return 1
		}
		r.tickOnce(L)
	}
	L.Push(lua.LBool(r.ctrl.Status().String() == want))
	return 1
}

func (r *Runner) status(L *lua.LState) int {
	L.Push(lua.LString(r.ctrl.Status().String()))
	return 1
}

func (r *Runner) pending(L *lua.LState) int {
	L.Push(lua.LNumber(r.ctrl.Report().Pending))
	return 1
}

func (r *Runner) done(L *lua.LState) int {
	L.Push(lua.LNumber(r.ctrl.Report().Done))
	return 1
}

func (r *Runner) angle(L *lua.LState) int {
	L.Push(lua.LNumber(r.ctrl.Report().Angle))
	return 1
}

func (r *Runner) display(L *lua.LState) int {
	L.Push(lua.LString(r.ctrl.Report().String()))
	return 1
}

func (r *Runner) log(L *lua.LState) int {
	fmt.Fprintln(r.out, L.CheckString(1))
	return 0
}
