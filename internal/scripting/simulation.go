package scripting

import (
	"fmt"
	"math/rand"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/data"
	"github.com/shijimago/shijima/internal/mascot"
)

const defaultSize = 128

// luaSimulation drives one entity with its own VM. The script sees a
// persistent table m (x, y, looking_right, dragging, dead, behavior,
// next_behavior, breed) and a per-tick env table.
type luaSimulation struct {
	tmpl      *data.Template
	log       *zap.Logger
	vm        *lua.LState
	self      *lua.LTable
	env       *lua.LTable
	tick      *lua.LFunction
	reset     *lua.LFunction
	behaviors map[string]bool
	width     float64
	height    float64
	state     mascot.State
	failed    bool
}

func newLuaSimulation(t *data.Template, proto *lua.FunctionProto, env *mascot.Environment,
	seed *mascot.BreedRequest, log *zap.Logger) (*luaSimulation, error) {
	vm := newVM()
	vm.Push(vm.NewFunctionFromProto(proto))
	if err := vm.PCall(0, lua.MultRet, nil); err != nil {
		vm.Close()
		return nil, fmt.Errorf("run %s: %w", t.Name, err)
	}
	tick, ok := vm.GetGlobal("tick").(*lua.LFunction)
	if !ok {
		vm.Close()
		return nil, fmt.Errorf("%w: %s does not define tick(m, env)", data.ErrInvalidTemplate, t.Name)
	}

	s := &luaSimulation{
		tmpl:      t,
		log:       log,
		vm:        vm,
		self:      vm.NewTable(),
		env:       vm.NewTable(),
		tick:      tick,
		behaviors: make(map[string]bool),
		width:     numberGlobal(vm, "width", defaultSize),
		height:    numberGlobal(vm, "height", defaultSize),
	}
	s.reset, _ = vm.GetGlobal("reset").(*lua.LFunction)
	if list, ok := vm.GetGlobal("behaviors").(*lua.LTable); ok {
		list.ForEach(func(_, v lua.LValue) {
			if name, ok := v.(lua.LString); ok {
				s.behaviors[string(name)] = true
			}
		})
	}
	s.self.RawSetString("breed", vm.NewFunction(s.luaBreed))
	s.state.Env = env
	if seed != nil {
		s.state.Anchor = seed.Anchor
		s.state.LookingRight = seed.LookingRight
		if seed.Behavior != "" {
			s.SetBehavior(seed.Behavior)
		}
	}
	s.pushState()

	if init, ok := vm.GetGlobal("init").(*lua.LFunction); ok {
		if err := s.call(init); err != nil {
			vm.Close()
			return nil, fmt.Errorf("init %s: %w", t.Name, err)
		}
		s.pullState()
	}
	return s, nil
}

func numberGlobal(vm *lua.LState, name string, def float64) float64 {
	if n, ok := vm.GetGlobal(name).(lua.LNumber); ok && n > 0 {
		return float64(n)
	}
	return def
}

func (s *luaSimulation) State() *mascot.State { return &s.state }

func (s *luaSimulation) Size() (float64, float64) { return s.width, s.height }

func (s *luaSimulation) ActiveBehavior() string {
	if b, ok := s.self.RawGetString("behavior").(lua.LString); ok {
		return string(b)
	}
	return ""
}

func (s *luaSimulation) SetBehavior(name string) bool {
	if !s.behaviors[name] {
		return false
	}
	s.self.RawSetString("next_behavior", lua.LString(name))
	return true
}

func (s *luaSimulation) Tick() {
	if s.failed {
		return
	}
	s.pushState()
	if err := s.call(s.tick); err != nil {
		// A script that throws once would throw every tick; retire the entity.
		s.log.Warn("mascot script failed", zap.String("template", s.tmpl.Name), zap.Error(err))
		s.failed = true
		s.state.Dead = true
		return
	}
	s.pullState()
}

func (s *luaSimulation) ResetPosition() {
	s.pushState()
	if s.reset != nil {
		if err := s.call(s.reset); err != nil {
			s.log.Warn("mascot reset failed", zap.String("template", s.tmpl.Name), zap.Error(err))
		} else {
			s.pullState()
			return
		}
	}
	env := s.state.Env
	if env == nil {
		s.state.Anchor = mascot.Vec2{}
		return
	}
	w := env.WorkArea
	s.state.Anchor = mascot.Vec2{
		X: w.Left + rand.Float64()*(w.Right-w.Left),
		Y: w.Top,
	}
	s.pushState()
}

func (s *luaSimulation) Close() {
	s.vm.Close()
}

func (s *luaSimulation) call(fn *lua.LFunction) error {
	s.refreshEnv()
	return s.vm.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, s.self, s.env)
}

// luaBreed accepts both m.breed(name) and m:breed(name).
func (s *luaSimulation) luaBreed(L *lua.LState) int {
	arg := 1
	if _, ok := L.Get(1).(*lua.LTable); ok {
		arg = 2
	}
	name := L.OptString(arg, "")
	s.pullState()
	s.state.BreedRequest = mascot.BreedRequest{
		Available:    true,
		Name:         name,
		Anchor:       s.state.Anchor,
		LookingRight: s.state.LookingRight,
		Behavior:     L.OptString(arg+1, ""),
	}
	return 0
}

func (s *luaSimulation) pushState() {
	st := &s.state
	s.self.RawSetString("x", lua.LNumber(st.Anchor.X))
	s.self.RawSetString("y", lua.LNumber(st.Anchor.Y))
	s.self.RawSetString("looking_right", lua.LBool(st.LookingRight))
	s.self.RawSetString("dragging", lua.LBool(st.Dragging))
	s.self.RawSetString("dead", lua.LBool(st.Dead))
}

func (s *luaSimulation) pullState() {
	st := &s.state
	if n, ok := s.self.RawGetString("x").(lua.LNumber); ok {
		st.Anchor.X = float64(n)
	}
	if n, ok := s.self.RawGetString("y").(lua.LNumber); ok {
		st.Anchor.Y = float64(n)
	}
	st.LookingRight = lua.LVAsBool(s.self.RawGetString("looking_right"))
	if lua.LVAsBool(s.self.RawGetString("dead")) {
		st.Dead = true
	}
}

func (s *luaSimulation) refreshEnv() {
	env := s.state.Env
	if env == nil {
		env = mascot.NewEnvironment()
	}
	t := s.env
	t.RawSetString("screen", s.area(env.Screen))
	t.RawSetString("work_area", s.area(env.WorkArea))
	t.RawSetString("active_window", s.area(env.ActiveWindow))
	t.RawSetString("floor", s.border(env.Floor))
	t.RawSetString("ceiling", s.border(env.Ceiling))

	cursor := s.vm.NewTable()
	cursor.RawSetString("x", lua.LNumber(env.Cursor.X))
	cursor.RawSetString("y", lua.LNumber(env.Cursor.Y))
	cursor.RawSetString("dx", lua.LNumber(env.Cursor.DX))
	cursor.RawSetString("dy", lua.LNumber(env.Cursor.DY))
	t.RawSetString("cursor", cursor)

	t.RawSetString("scale", lua.LNumber(env.Scale()))
	t.RawSetString("subtick_count", lua.LNumber(env.SubtickCount))
	t.RawSetString("allows_breeding", lua.LBool(env.AllowsBreeding))
}

func (s *luaSimulation) area(a mascot.Area) *lua.LTable {
	t := s.vm.NewTable()
	t.RawSetString("top", lua.LNumber(a.Top))
	t.RawSetString("right", lua.LNumber(a.Right))
	t.RawSetString("bottom", lua.LNumber(a.Bottom))
	t.RawSetString("left", lua.LNumber(a.Left))
	t.RawSetString("dx", lua.LNumber(a.DX))
	t.RawSetString("dy", lua.LNumber(a.DY))
	t.RawSetString("visible", lua.LBool(a.Visible()))
	return t
}

func (s *luaSimulation) border(b mascot.HBorder) *lua.LTable {
	t := s.vm.NewTable()
	t.RawSetString("y", lua.LNumber(b.Y))
	t.RawSetString("x_start", lua.LNumber(b.XStart))
	t.RawSetString("x_end", lua.LNumber(b.XEnd))
	return t
}
