package scripting

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/data"
	"github.com/shijimago/shijima/internal/mascot"
)

const walkerScript = `
behaviors = { "Walk", "Sit" }
width = 64
height = 32

function reset(m, env)
  m.x = env.work_area.left
  m.y = env.floor.y
  m.behavior = "Walk"
end

function tick(m, env)
  if m.next_behavior ~= nil then
    m.behavior = m.next_behavior
    m.next_behavior = nil
  end
  if m.behavior == "Walk" then
    m.x = m.x + 1
  end
  if m.x >= 3 then
    m:breed("child")
  end
  if m.y > 1000 then
    m.dead = true
  end
end
`

func template(name, script string) *data.Template {
	return &data.Template{ID: 7, Name: name, Script: []byte(script), Deletable: true}
}

func testEnv() *mascot.Environment {
	env := mascot.NewEnvironment()
	env.WorkArea = mascot.Area{Top: 0, Left: 0, Right: 800, Bottom: 600}
	env.Floor = mascot.HBorder{Y: 600, XStart: 0, XEnd: 800}
	return env
}

func TestPrepareRejectsScriptWithoutTick(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	err := e.Prepare(template("Bad", `behaviors = {}`))
	if !errors.Is(err, data.ErrInvalidTemplate) {
		t.Fatalf("err = %v, want ErrInvalidTemplate", err)
	}
	if err := e.Prepare(template("Broken", `function tick(`)); err == nil {
		t.Fatal("syntax error accepted")
	}
}

func TestSimulationTickMovesAndBreeds(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	sim, err := e.NewSimulation(template("Walker", walkerScript), nil, nil)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	defer sim.Close()

	sim.State().Env = testEnv()
	sim.ResetPosition()
	if st := sim.State(); st.Anchor.X != 0 || st.Anchor.Y != 600 {
		t.Fatalf("reset anchor = %+v", st.Anchor)
	}
	if got := sim.ActiveBehavior(); got != "Walk" {
		t.Fatalf("behavior = %q", got)
	}
	if w, h := sim.Size(); w != 64 || h != 32 {
		t.Fatalf("size = %vx%v", w, h)
	}

	for i := 0; i < 2; i++ {
		sim.Tick()
	}
	if sim.State().BreedRequest.Available {
		t.Fatal("breed requested too early")
	}
	sim.Tick()
	req := sim.State().BreedRequest
	if !req.Available || req.Name != "child" || req.Anchor.X != 3 {
		t.Fatalf("breed request = %+v", req)
	}
}

func TestSetBehaviorOnlyKnownNames(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	sim, err := e.NewSimulation(template("Walker", walkerScript), nil, nil)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	defer sim.Close()
	sim.State().Env = testEnv()
	sim.ResetPosition()

	if sim.SetBehavior("Fly") {
		t.Fatal("unknown behavior accepted")
	}
	if !sim.SetBehavior("Sit") {
		t.Fatal("Sit rejected")
	}
	sim.Tick()
	if got := sim.ActiveBehavior(); got != "Sit" {
		t.Fatalf("behavior = %q", got)
	}
	if x := sim.State().Anchor.X; x != 0 {
		t.Fatalf("sitting mascot moved to %v", x)
	}
}

func TestSimulationSeededFromBreedRequest(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	init := &mascot.BreedRequest{Anchor: mascot.Vec2{X: 40, Y: 50}, LookingRight: true, Behavior: "Sit"}
	sim, err := e.NewSimulation(template("Walker", walkerScript), testEnv(), init)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	defer sim.Close()
	sim.State().Env = testEnv()
	sim.Tick()
	st := sim.State()
	if st.Anchor.X != 40 || st.Anchor.Y != 50 || !st.LookingRight {
		t.Fatalf("state = %+v", st)
	}
	if sim.ActiveBehavior() != "Sit" {
		t.Fatalf("behavior = %q", sim.ActiveBehavior())
	}
}

func TestInitSeesEnvironmentAndSeed(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	script := `
function init(m, env)
  m.seen_right = env.work_area.right
  m.seen_x = m.x
end
function tick(m, env)
  m.y = m.seen_right + m.seen_x
end
`
	seed := &mascot.BreedRequest{Anchor: mascot.Vec2{X: 40, Y: 0}}
	sim, err := e.NewSimulation(template("Child", script), testEnv(), seed)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	defer sim.Close()
	sim.Tick()
	if y := sim.State().Anchor.Y; y != 840 {
		t.Fatalf("y = %v, want 840", y)
	}
}

func TestScriptErrorMarksDead(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	sim, err := e.NewSimulation(template("Thrower", `function tick(m, env) error("boom") end`), nil, nil)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	defer sim.Close()
	sim.Tick()
	if !sim.State().Dead {
		t.Fatal("failing script not marked dead")
	}
}

func TestDefaultTemplateFallsToFloor(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	tmpl := data.DefaultTemplate()
	sim, err := e.NewSimulation(tmpl, nil, nil)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	defer sim.Close()
	sim.State().Env = testEnv()
	sim.ResetPosition()
	for i := 0; i < 500; i++ {
		sim.Tick()
	}
	if y := sim.State().Anchor.Y; y != 600 {
		t.Fatalf("y = %v, want floor", y)
	}
}

func TestSelectorMatch(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	s := Subject{ID: 3, Name: "Foo", X: 10, Behavior: "Walk"}

	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{`name == "Foo"`, true},
		{`name == "Bar"`, false},
		{`id == 3 and x > 5`, true},
		{`behavior == "Sit" or dragging`, false},
		{`missing.field`, false},
	}
	for _, tc := range cases {
		got, err := e.Match(tc.expr, s)
		if err != nil {
			t.Fatalf("Match(%q): %v", tc.expr, err)
		}
		if got != tc.want {
			t.Errorf("Match(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}

	if err := e.CompileSelector(`name ==`); !errors.Is(err, ErrInvalidSelector) {
		t.Fatalf("err = %v, want ErrInvalidSelector", err)
	}
}

func TestEmptySelectorCompiles(t *testing.T) {
	e := NewEngine(zap.NewNop())
	defer e.Close()
	for _, expr := range []string{"", "   ", "\t\n"} {
		if err := e.CompileSelector(expr); err != nil {
			t.Fatalf("CompileSelector(%q) = %v", expr, err)
		}
		if ok, err := e.Match(expr, Subject{ID: 1}); !ok || err != nil {
			t.Fatalf("Match(%q) = %v, %v", expr, ok, err)
		}
	}
}
