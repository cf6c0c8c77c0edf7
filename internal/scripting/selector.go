package scripting

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

var ErrInvalidSelector = errors.New("invalid selector")

// Subject is what a selector expression can see of one entity.
type Subject struct {
	ID           int64
	DataID       int64
	Name         string
	X, Y         float64
	LookingRight bool
	Dragging     bool
	Dead         bool
	Behavior     string
}

// CompileSelector checks expr and caches its compiled form. An empty
// expression matches everything.
func (e *Engine) CompileSelector(expr string) error {
	_, err := e.selector(expr)
	return err
}

func (e *Engine) selector(expr string) (*lua.FunctionProto, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	if p, ok := e.selectors[expr]; ok {
		return p, nil
	}
	proto, err := compile([]byte("return ("+expr+")"), "selector")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	e.selectors[expr] = proto
	return proto, nil
}

// Match evaluates expr against s. Runtime errors count as no match.
func (e *Engine) Match(expr string, s Subject) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	proto, err := e.selector(expr)
	if err != nil {
		return false, err
	}
	vm := e.vm
	vm.SetGlobal("id", lua.LNumber(s.ID))
	vm.SetGlobal("data_id", lua.LNumber(s.DataID))
	vm.SetGlobal("name", lua.LString(s.Name))
	vm.SetGlobal("x", lua.LNumber(s.X))
	vm.SetGlobal("y", lua.LNumber(s.Y))
	vm.SetGlobal("looking_right", lua.LBool(s.LookingRight))
	vm.SetGlobal("dragging", lua.LBool(s.Dragging))
	vm.SetGlobal("dead", lua.LBool(s.Dead))
	vm.SetGlobal("behavior", lua.LString(s.Behavior))

	vm.Push(vm.NewFunctionFromProto(proto))
	if err := vm.PCall(0, 1, nil); err != nil {
		e.log.Debug("selector failed", zap.String("selector", expr), zap.Int64("id", s.ID), zap.Error(err))
		return false, nil
	}
	ret := vm.Get(-1)
	vm.Pop(1)
	return lua.LVAsBool(ret), nil
}
