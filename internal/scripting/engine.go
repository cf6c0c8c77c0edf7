package scripting

import (
	"bytes"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/data"
	"github.com/shijimago/shijima/internal/mascot"
)

// Engine compiles behavior scripts once per template and creates one Lua VM
// per simulated entity. It also owns the VM used for API selectors.
// Single-goroutine access only (tick goroutine).
type Engine struct {
	log       *zap.Logger
	protos    map[int64]*lua.FunctionProto
	vm        *lua.LState
	selectors map[string]*lua.FunctionProto
}

func NewEngine(log *zap.Logger) *Engine {
	vm := newVM()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	return &Engine{
		log:       log,
		protos:    make(map[int64]*lua.FunctionProto, 16),
		vm:        vm,
		selectors: make(map[string]*lua.FunctionProto, 8),
	}
}

// newVM opens only the sandbox-safe standard libraries: no io, os or package.
func newVM() *lua.LState {
	vm := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := vm.CallByParam(lua.P{
			Fn:      vm.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			panic(fmt.Sprintf("open lua lib %s: %v", lib.name, err))
		}
	}
	for _, unsafe := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		vm.SetGlobal(unsafe, lua.LNil)
	}
	return vm
}

func compile(source []byte, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return proto, nil
}

// Prepare compiles the template's script and checks that it defines tick.
func (e *Engine) Prepare(t *data.Template) error {
	proto, err := compile(t.Script, t.Name)
	if err != nil {
		return err
	}
	vm := newVM()
	defer vm.Close()
	vm.Push(vm.NewFunctionFromProto(proto))
	if err := vm.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("run %s: %w", t.Name, err)
	}
	if _, ok := vm.GetGlobal("tick").(*lua.LFunction); !ok {
		return fmt.Errorf("%w: %s does not define tick(m, env)", data.ErrInvalidTemplate, t.Name)
	}
	e.protos[t.ID] = proto
	e.log.Debug("compiled mascot script", zap.String("template", t.Name), zap.Int64("data_id", t.ID))
	return nil
}

// Evict drops the compiled script of a deregistered template.
func (e *Engine) Evict(t *data.Template) {
	delete(e.protos, t.ID)
}

// NewSimulation creates a fresh simulation of t bound to env. init, when
// non-nil, seeds position, facing and behavior from a breed request. The
// script's init function sees both.
func (e *Engine) NewSimulation(t *data.Template, env *mascot.Environment, init *mascot.BreedRequest) (mascot.Simulation, error) {
	proto, ok := e.protos[t.ID]
	if !ok {
		if err := e.Prepare(t); err != nil {
			return nil, err
		}
		proto = e.protos[t.ID]
	}
	return newLuaSimulation(t, proto, env, init, e.log)
}

func (e *Engine) Close() {
	e.vm.Close()
}
