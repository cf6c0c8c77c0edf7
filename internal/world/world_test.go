package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/core/ecs"
	"github.com/shijimago/shijima/internal/core/event"
	"github.com/shijimago/shijima/internal/core/rendezvous"
	"github.com/shijimago/shijima/internal/data"
	"github.com/shijimago/shijima/internal/mascot"
	"github.com/shijimago/shijima/internal/platform"
)

// fakeSim stands in for a behavior script. breedNext and dieNext are
// consumed by the following Tick.
type fakeSim struct {
	state     mascot.State
	ticks     int
	resets    int
	closed    bool
	breedNext *mascot.BreedRequest
	dieNext   bool
	behavior  string
	bornEnv   *mascot.Environment
}

func (s *fakeSim) Tick() {
	s.ticks++
	if s.breedNext != nil {
		s.state.BreedRequest = *s.breedNext
		s.state.BreedRequest.Available = true
		s.breedNext = nil
	}
	if s.dieNext {
		s.state.Dead = true
	}
}

func (s *fakeSim) State() *mascot.State { return &s.state }

func (s *fakeSim) ResetPosition() {
	s.resets++
	if s.state.Env != nil {
		s.state.Anchor = mascot.Vec2{X: s.state.Env.WorkArea.Left, Y: s.state.Env.Floor.Y}
	}
}

func (s *fakeSim) ActiveBehavior() string { return s.behavior }

func (s *fakeSim) SetBehavior(name string) bool {
	s.behavior = name
	return true
}

func (s *fakeSim) Size() (float64, float64) { return 100, 100 }

func (s *fakeSim) Close() { s.closed = true }

type fakeFactory struct {
	sims     []*fakeSim
	failFor  map[string]bool
	prepared map[int64]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{failFor: map[string]bool{}, prepared: map[int64]bool{}}
}

func (f *fakeFactory) Prepare(t *data.Template) error {
	f.prepared[t.ID] = true
	return nil
}

func (f *fakeFactory) Evict(t *data.Template) { delete(f.prepared, t.ID) }

func (f *fakeFactory) NewSimulation(t *data.Template, env *mascot.Environment, init *mascot.BreedRequest) (mascot.Simulation, error) {
	if f.failFor[t.Name] {
		return nil, fmt.Errorf("broken template %s", t.Name)
	}
	s := &fakeSim{bornEnv: env}
	s.state.Env = env
	if init != nil {
		s.state.Anchor = init.Anchor
		s.state.LookingRight = init.LookingRight
	}
	f.sims = append(f.sims, s)
	return s, nil
}

func display(id platform.DisplayID, x int) platform.Display {
	geom := platform.Rect{X: x, Y: 0, W: 1920, H: 1080}
	avail := platform.Rect{X: x, Y: 0, W: 1920, H: 1040}
	return platform.Display{ID: id, Geometry: geom, Available: avail}
}

type harness struct {
	m       *Manager
	plat    *platform.Static
	factory *fakeFactory
	bus     *event.Bus
}

func newHarness(t *testing.T, templates ...string) *harness {
	t.Helper()
	plat := platform.NewStatic([]platform.Display{display(1, 0), display(2, 1920)}, 0)
	ids := ecs.NewIDCounter()
	factory := newFakeFactory()
	bus := event.NewBus()
	m := NewManager(ids, data.NewCatalog(ids), factory, plat, bus,
		EnvOptions{UserScale: 1, AllowsBreeding: true, OwnPID: 1, WindowMaxAge: time.Minute}, zap.NewNop())
	for _, name := range templates {
		if err := m.RegisterTemplate(&data.Template{Name: name, Deletable: true}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return &harness{m: m, plat: plat, factory: factory, bus: bus}
}

func (h *harness) spawn(t *testing.T, name string) ecs.EntityID {
	t.Helper()
	id, err := h.m.Spawn(name)
	if err != nil {
		t.Fatalf("Spawn(%q): %v", name, err)
	}
	return id
}

func TestSpawnUnknownTemplateChangesNothing(t *testing.T) {
	h := newHarness(t, "Foo")
	before := h.m.ids.Peek()
	_, err := h.m.Spawn("Bar")
	if !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("err = %v", err)
	}
	if h.m.Len() != 0 || h.m.ids.Peek() != before {
		t.Fatalf("population %d, counter %d -> %d", h.m.Len(), before, h.m.ids.Peek())
	}
}

func TestIDsUniqueAndIndexed(t *testing.T) {
	h := newHarness(t, "Foo", "Bar")
	for i := 0; i < 50; i++ {
		name := "Foo"
		if i%3 == 0 {
			name = "Bar"
		}
		h.spawn(t, name)
	}
	seen := map[ecs.EntityID]bool{}
	var prev ecs.EntityID = ecs.NoEntity
	h.m.Each(func(e *Entity) {
		if seen[e.ID] {
			t.Fatalf("duplicate id %s", e.ID)
		}
		seen[e.ID] = true
		if e.ID <= prev {
			t.Fatalf("ids not increasing: %s after %s", e.ID, prev)
		}
		prev = e.ID
		got, ok := h.m.Get(e.ID)
		if !ok || got != e {
			t.Fatalf("index mismatch for %s", e.ID)
		}
	})
	if len(seen) != 50 {
		t.Fatalf("saw %d entities", len(seen))
	}
}

func TestIDsNeverReused(t *testing.T) {
	h := newHarness(t, "Foo")
	a := h.spawn(t, "Foo")
	if err := h.m.MarkForDeletion(a); err != nil {
		t.Fatal(err)
	}
	h.m.Reap()
	b := h.spawn(t, "Foo")
	if b <= a {
		t.Fatalf("id %s reused after %s", b, a)
	}
	// Templates draw from the same counter.
	tmpl := &data.Template{Name: "Late", Deletable: true}
	if err := h.m.RegisterTemplate(tmpl); err != nil {
		t.Fatal(err)
	}
	if ecs.EntityID(tmpl.ID) <= b {
		t.Fatalf("template id %d not after entity %s", tmpl.ID, b)
	}
}

func TestMarkedEntityStaysValidUntilReap(t *testing.T) {
	h := newHarness(t, "Foo")
	id := h.spawn(t, "Foo")
	if err := h.m.MarkForDeletion(id); err != nil {
		t.Fatal(err)
	}
	h.m.Step()
	e, ok := h.m.Get(id)
	if !ok || e.Sim.(*fakeSim).ticks != 1 {
		t.Fatal("marked entity was not stepped")
	}
	if err := h.m.Grab(id, id); err != nil {
		t.Fatalf("grab marked entity: %v", err)
	}
	if n := h.m.Reap(); n != 1 {
		t.Fatalf("reaped %d", n)
	}
	if _, ok := h.m.Get(id); ok {
		t.Fatal("entity survived reap")
	}
	if !e.Sim.(*fakeSim).closed {
		t.Fatal("simulation not closed")
	}
	if err := h.m.MarkForDeletion(id); !errors.Is(err, ErrNoSuchEntity) {
		t.Fatalf("err = %v", err)
	}
}

func TestReapEverything(t *testing.T) {
	for _, n := range []int{0, 1, 1000} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			h := newHarness(t, "Foo")
			for i := 0; i < n; i++ {
				h.spawn(t, "Foo")
			}
			if killed := h.m.KillAll(); killed != n {
				t.Fatalf("marked %d", killed)
			}
			if reaped := h.m.Reap(); reaped != n {
				t.Fatalf("reaped %d", reaped)
			}
			if h.m.Len() != 0 {
				t.Fatalf("%d left", h.m.Len())
			}
			for i, s := range h.factory.sims {
				if !s.closed {
					t.Fatalf("sim %d not closed", i)
				}
			}
			if reaped := h.m.Reap(); reaped != 0 {
				t.Fatalf("second reap removed %d", reaped)
			}
		})
	}
}

func TestReapDeadEntities(t *testing.T) {
	h := newHarness(t, "Foo")
	a := h.spawn(t, "Foo")
	b := h.spawn(t, "Foo")
	ea, _ := h.m.Get(a)
	ea.Sim.(*fakeSim).dieNext = true

	var reaped []event.EntityReaped
	event.Subscribe(h.bus, func(ev event.EntityReaped) { reaped = append(reaped, ev) })

	h.m.Step()
	h.m.Reap()
	if _, ok := h.m.Get(a); ok {
		t.Fatal("dead entity kept")
	}
	if _, ok := h.m.Get(b); !ok {
		t.Fatal("live entity reaped")
	}
	h.bus.SwapBuffers()
	h.bus.DispatchAll()
	if len(reaped) != 1 || reaped[0].ID != a || reaped[0].Reason != "dead" {
		t.Fatalf("events = %+v", reaped)
	}
}

func TestKillVariants(t *testing.T) {
	h := newHarness(t, "Foo", "Bar")
	f1 := h.spawn(t, "Foo")
	b1 := h.spawn(t, "Bar")
	f2 := h.spawn(t, "Foo")
	f3 := h.spawn(t, "Foo")

	if n := h.m.KillAllButOneByTemplate("Foo"); n != 2 {
		t.Fatalf("KillAllButOneByTemplate marked %d", n)
	}
	h.m.Reap()
	if _, ok := h.m.Get(f1); !ok {
		t.Fatal("oldest Foo reaped")
	}
	if _, ok := h.m.Get(f2); ok {
		t.Fatal("second Foo kept")
	}
	if _, ok := h.m.Get(f3); ok {
		t.Fatal("third Foo kept")
	}

	if _, err := h.m.KillAllButOne(b1); err != nil {
		t.Fatal(err)
	}
	h.m.Reap()
	if h.m.Len() != 1 {
		t.Fatalf("len = %d", h.m.Len())
	}
	if _, err := h.m.KillAllButOne(f2); !errors.Is(err, ErrNoSuchEntity) {
		t.Fatalf("err = %v", err)
	}

	h.spawn(t, "Foo")
	if n := h.m.KillAllByTemplate("Bar"); n != 1 {
		t.Fatalf("KillAllByTemplate marked %d", n)
	}
	h.m.Reap()
	h.m.Each(func(e *Entity) {
		if e.Name() != "Foo" {
			t.Fatalf("%s survived", e.Name())
		}
	})
}

func TestTemplateNamesNormalized(t *testing.T) {
	const nfc, nfd = "Caf\u00e9", " Cafe\u0301 "
	h := newHarness(t, nfc)
	h.spawn(t, nfd)
	h.spawn(t, nfc)
	if n := h.m.KillAllButOneByTemplate(nfd); n != 1 {
		t.Fatalf("KillAllButOneByTemplate marked %d", n)
	}
	if n := h.m.KillAllByTemplate(nfd); n != 2 {
		t.Fatalf("KillAllByTemplate marked %d", n)
	}
	if err := h.m.UnregisterTemplate(nfd); err != nil {
		t.Fatalf("UnregisterTemplate: %v", err)
	}
	if _, ok := h.m.Catalog().Lookup(nfc); ok {
		t.Fatal("template still registered")
	}
}

func TestBreedNormalizesPathNames(t *testing.T) {
	h := newHarness(t, "Parent", "Name")
	p := h.spawn(t, "Parent")
	pe, _ := h.m.Get(p)
	pe.Sim.(*fakeSim).breedNext = &mascot.BreedRequest{Name: `dir\sub/Name`, Anchor: mascot.Vec2{X: 5, Y: 6}}

	h.m.Step()
	if n := h.m.ProcessBreedRequests(); n != 1 {
		t.Fatalf("bred %d", n)
	}
	if h.m.Len() != 2 {
		t.Fatalf("len = %d", h.m.Len())
	}
	var child *Entity
	h.m.Each(func(e *Entity) {
		if e.ID != p {
			child = e
		}
	})
	if child.Name() != "Name" {
		t.Fatalf("child template %q", child.Name())
	}
	if child.Env() != pe.Env() || child.Sim.(*fakeSim).bornEnv != pe.Env() {
		t.Fatal("child does not share parent environment")
	}
	if a := child.State().Anchor; a.X != 5 || a.Y != 6 {
		t.Fatalf("child anchor %+v", a)
	}
	if pe.State().BreedRequest.Available {
		t.Fatal("breed request not consumed")
	}
}

func TestBreedEmptyNameUsesParentTemplate(t *testing.T) {
	h := newHarness(t, "Foo")
	p := h.spawn(t, "Foo")
	pe, _ := h.m.Get(p)
	id, ok := h.m.Breed(pe, mascot.BreedRequest{Available: true})
	if !ok {
		t.Fatal("breed failed")
	}
	ce, _ := h.m.Get(id)
	if ce.Name() != "Foo" {
		t.Fatalf("child template %q", ce.Name())
	}
}

func TestBreedFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t, "Foo", "Broken")
	h.factory.failFor["Broken"] = true
	p := h.spawn(t, "Foo")
	pe, _ := h.m.Get(p)
	if _, ok := h.m.Breed(pe, mascot.BreedRequest{Name: "Nope"}); ok {
		t.Fatal("unknown template bred")
	}
	if _, ok := h.m.Breed(pe, mascot.BreedRequest{Name: "Broken"}); ok {
		t.Fatal("broken template bred")
	}
	if h.m.Len() != 1 {
		t.Fatalf("len = %d", h.m.Len())
	}
}

func TestDoubleDragPanics(t *testing.T) {
	h := newHarness(t, "Foo")
	a, b, c := h.spawn(t, "Foo"), h.spawn(t, "Foo"), h.spawn(t, "Foo")
	if err := h.m.SetDragTarget(a, b); err != nil {
		t.Fatal(err)
	}
	defer func() {
		v := recover()
		err, ok := v.(error)
		if !ok || !errors.Is(err, ErrDoubleDrag) {
			t.Fatalf("recovered %v, want ErrDoubleDrag", v)
		}
		if h.m.Drag().DraggedBy(b) != a {
			t.Fatal("relation rebound")
		}
	}()
	_ = h.m.SetDragTarget(c, b)
}

func TestDragRetargetAndClear(t *testing.T) {
	h := newHarness(t, "Foo")
	a, b, c := h.spawn(t, "Foo"), h.spawn(t, "Foo"), h.spawn(t, "Foo")
	d := h.m.Drag()
	_ = h.m.SetDragTarget(a, b)
	_ = h.m.SetDragTarget(a, c)
	if d.DraggedBy(b) != ecs.NoEntity || d.DraggedBy(c) != a || d.Target(a) != c {
		t.Fatal("retarget left a stale back reference")
	}
	_ = h.m.SetDragTarget(a, ecs.NoEntity)
	if d.DraggedBy(c) != ecs.NoEntity || d.Len() != 0 {
		t.Fatal("clear left a back reference")
	}
	if err := h.m.SetDragTarget(b, c); err != nil {
		t.Fatalf("released target not claimable: %v", err)
	}
	if err := h.m.SetDragTarget(a, 99); !errors.Is(err, ErrNoSuchEntity) {
		t.Fatalf("err = %v", err)
	}
}

func TestDragClearedOnReap(t *testing.T) {
	h := newHarness(t, "Foo")
	a, b := h.spawn(t, "Foo"), h.spawn(t, "Foo")
	if err := h.m.Grab(a, b); err != nil {
		t.Fatal(err)
	}
	be, _ := h.m.Get(b)
	if !be.State().Dragging {
		t.Fatal("target not flagged as dragging")
	}
	_ = h.m.MarkForDeletion(a)
	h.m.Reap()
	d := h.m.Drag()
	if d.DraggedBy(b) != ecs.NoEntity || d.Len() != 0 {
		t.Fatal("drag relation outlived dragger")
	}
	if be.State().Dragging {
		t.Fatal("target still dragging after dragger was reaped")
	}

	c := h.spawn(t, "Foo")
	_ = h.m.SetDragTarget(c, b)
	_ = h.m.MarkForDeletion(b)
	h.m.Reap()
	if d.Target(c) != ecs.NoEntity {
		t.Fatal("dragger still points at reaped target")
	}
}

func TestReleaseClearsDragging(t *testing.T) {
	h := newHarness(t, "Foo")
	a := h.spawn(t, "Foo")
	if err := h.m.Grab(a, a); err != nil {
		t.Fatal(err)
	}
	if err := h.m.Release(a); err != nil {
		t.Fatal(err)
	}
	e, _ := h.m.Get(a)
	if e.State().Dragging || h.m.Drag().Len() != 0 {
		t.Fatal("release left drag state behind")
	}
}

func TestDetachMigratesToPrimary(t *testing.T) {
	h := newHarness(t, "Foo")
	if err := h.m.SetCurrentDisplay(2); err != nil {
		t.Fatal(err)
	}
	const n = 5
	for i := 0; i < n; i++ {
		h.spawn(t, "Foo")
	}
	_ = h.m.SetCurrentDisplay(1)
	stay := h.spawn(t, "Foo")

	envs := h.m.Environments()
	old, _ := envs.Get(2)
	primary, _ := envs.Get(1)
	if old.Bindings() != n {
		t.Fatalf("display 2 bindings = %d", old.Bindings())
	}
	resetsBefore := make(map[ecs.EntityID]int)
	h.m.Each(func(e *Entity) { resetsBefore[e.ID] = e.Sim.(*fakeSim).resets })

	h.plat.Detach(2)
	migrated, err := h.m.DetachDisplay(2)
	if err != nil {
		t.Fatal(err)
	}
	if migrated != n {
		t.Fatalf("migrated %d", migrated)
	}
	h.m.Each(func(e *Entity) {
		if e.Env() != primary {
			t.Fatalf("%s not on primary", e.ID)
		}
		want := resetsBefore[e.ID]
		if e.ID != stay {
			want++
		}
		if got := e.Sim.(*fakeSim).resets; got != want {
			t.Fatalf("%s resets = %d, want %d", e.ID, got, want)
		}
	})
	if old.Bindings() != 0 {
		t.Fatalf("detached environment still has %d bindings", old.Bindings())
	}
	if _, ok := envs.Get(2); ok {
		t.Fatal("detached environment still registered")
	}
	if _, ok := envs.DisplayOf(old); ok {
		t.Fatal("reverse entry kept")
	}
	if primary.Bindings() != n+1 {
		t.Fatalf("primary bindings = %d", primary.Bindings())
	}
	if _, err := h.m.DetachDisplay(2); !errors.Is(err, ErrNoSuchDisplay) {
		t.Fatalf("err = %v", err)
	}
}

func TestDetachPrimaryFallsBackToRemaining(t *testing.T) {
	h := newHarness(t, "Foo")
	id := h.spawn(t, "Foo")
	h.plat.Detach(1)
	if _, err := h.m.DetachDisplay(1); err != nil {
		t.Fatal(err)
	}
	e, _ := h.m.Get(id)
	other, _ := h.m.Environments().Get(2)
	if e.Env() != other {
		t.Fatal("entity not moved to the remaining display")
	}
}

func TestAttachInheritsBreedingFlag(t *testing.T) {
	h := newHarness(t)
	p, _ := h.m.Environments().Get(1)
	p.AllowsBreeding = false
	h.m.AttachDisplay(display(3, 3840))
	env, ok := h.m.Environments().Get(3)
	if !ok {
		t.Fatal("display 3 not attached")
	}
	if env.AllowsBreeding {
		t.Fatal("new display ignored primary's breeding flag")
	}
}

func TestWindowedModeRebindsKeepingIdentity(t *testing.T) {
	h := newHarness(t, "Foo")
	a, b := h.spawn(t, "Foo"), h.spawn(t, "Foo")
	ea, _ := h.m.Get(a)
	simA := ea.Sim

	h.m.SetWindowedMode(true)
	sandbox := h.m.Environments().Sandbox()
	for _, id := range []ecs.EntityID{a, b} {
		e, ok := h.m.Get(id)
		if !ok || e.Env() != sandbox {
			t.Fatalf("%s not in sandbox", id)
		}
	}
	if ea.Sim != simA {
		t.Fatal("simulation replaced")
	}
	primary, _ := h.m.Environments().Get(1)
	if primary.Bindings() != 0 || sandbox.Bindings() != 2 {
		t.Fatalf("bindings primary=%d sandbox=%d", primary.Bindings(), sandbox.Bindings())
	}

	h.m.SetWindowedMode(false)
	if ea.Env() != primary {
		t.Fatal("not back on the desktop")
	}
}

func TestEnvironmentGeometry(t *testing.T) {
	h := newHarness(t)
	h.plat.SetCursor(platform.Point{X: 100, Y: 200})
	h.m.RefreshEnvironment()
	h.plat.SetCursor(platform.Point{X: 130, Y: 190})
	h.m.RefreshEnvironment()

	env, _ := h.m.Environments().Get(1)
	if env.WorkArea.Bottom != 1039 || env.Floor.Y != 1039 {
		t.Fatalf("work area %+v floor %+v", env.WorkArea, env.Floor)
	}
	if env.Screen.Bottom != 1079 || env.Ceiling.Y != 0 {
		t.Fatalf("screen %+v ceiling %+v", env.Screen, env.Ceiling)
	}
	if env.Cursor.DX != 30 || env.Cursor.DY != -10 {
		t.Fatalf("cursor %+v", env.Cursor)
	}
	h.m.RefreshEnvironment()
	if env.Cursor.DX != 0 || env.Cursor.DY != 0 {
		t.Fatalf("still cursor %+v", env.Cursor)
	}
	if env.SubtickCount != DefaultSubtickCount {
		t.Fatalf("subticks = %d", env.SubtickCount)
	}
}

func TestInsetsClampedAtZero(t *testing.T) {
	geom := platform.Rect{X: 0, Y: 0, W: 800, H: 600}
	avail := platform.Rect{X: 0, Y: -20, W: 800, H: 640}
	taskbar, status := insets(geom, avail)
	if taskbar != 0 || status != 0 {
		t.Fatalf("taskbar=%d status=%d", taskbar, status)
	}
	avail = platform.Rect{X: 0, Y: 24, W: 800, H: 536}
	taskbar, status = insets(geom, avail)
	if taskbar != 40 || status != 24 {
		t.Fatalf("taskbar=%d status=%d", taskbar, status)
	}
}

func TestActiveWindowObservation(t *testing.T) {
	h := newHarness(t)
	env, _ := h.m.Environments().Get(1)

	h.plat.SetActiveWindow(platform.ActiveWindow{Available: true, UID: "w1", PID: 99, X: 10, Y: 20, Width: 300, Height: 200})
	h.m.RefreshEnvironment()
	if env.ActiveWindow.Left != 10 || env.ActiveWindow.Right != 310 || env.ActiveWindow.DX != 0 {
		t.Fatalf("window %+v", env.ActiveWindow)
	}

	h.plat.SetActiveWindow(platform.ActiveWindow{Available: true, UID: "w1", PID: 99, X: 15, Y: 20, Width: 300, Height: 230})
	h.m.RefreshEnvironment()
	if env.ActiveWindow.DX != 5 || env.ActiveWindow.DY != 30 {
		t.Fatalf("delta %+v", env.ActiveWindow)
	}
	other, _ := h.m.Environments().Get(2)
	if other.ActiveWindow.DX != 5 {
		t.Fatalf("second display delta %+v", other.ActiveWindow)
	}

	h.plat.SetActiveWindow(platform.ActiveWindow{Available: true, UID: "w2", PID: 99, X: 50, Y: 50, Width: 300, Height: 230})
	h.m.RefreshEnvironment()
	if env.ActiveWindow.DX != 0 || env.ActiveWindow.DY != 0 {
		t.Fatalf("delta across windows %+v", env.ActiveWindow)
	}

	for _, w := range []platform.ActiveWindow{
		{Available: true, UID: "own", PID: 1, X: 10, Y: 10, Width: 300, Height: 300},
		{Available: true, UID: "thin", PID: 99, X: 10, Y: 10, Width: 1, Height: 300},
		{Available: false},
	} {
		h.plat.SetActiveWindow(w)
		h.m.RefreshEnvironment()
		if env.ActiveWindow != mascot.HiddenArea {
			t.Fatalf("%s: window %+v, want hidden", w.UID, env.ActiveWindow)
		}
	}

	h.plat.SetActiveWindow(platform.ActiveWindow{Available: true, UID: "w1", PID: 99, X: 10, Y: 20, Width: 300, Height: 200})
	h.m.SetWindowedMode(true)
	h.m.RefreshEnvironment()
	if sb := h.m.Environments().Sandbox(); sb.ActiveWindow != mascot.HiddenArea {
		t.Fatalf("sandbox window %+v", sb.ActiveWindow)
	}
}

func TestStaleWindowHidden(t *testing.T) {
	h := newHarness(t)
	env, _ := h.m.Environments().Get(1)
	w := platform.ActiveWindow{Available: true, UID: "w1", PID: 99, X: 10, Y: 20, Width: 300, Height: 200}

	w.Observed = time.Now()
	h.plat.SetActiveWindow(w)
	h.m.RefreshEnvironment()
	if env.ActiveWindow.Left != 10 {
		t.Fatalf("fresh window %+v", env.ActiveWindow)
	}

	w.Observed = time.Now().Add(-time.Hour)
	h.plat.SetActiveWindow(w)
	h.m.RefreshEnvironment()
	if env.ActiveWindow != mascot.HiddenArea {
		t.Fatalf("stale window %+v, want hidden", env.ActiveWindow)
	}
}

func TestScaleIsOneTickPulse(t *testing.T) {
	h := newHarness(t)
	h.m.Environments().SetUserScale(4)
	env, _ := h.m.Environments().Get(1)
	h.m.RefreshEnvironment()
	if math.Abs(env.Scale()-0.5) > 1e-9 {
		t.Fatalf("scale = %v", env.Scale())
	}
	h.m.ResetScale()
	if env.Scale() != 1 {
		t.Fatalf("scale after reset = %v", env.Scale())
	}
	h.m.RefreshEnvironment()
	if math.Abs(env.Scale()-0.5) > 1e-9 {
		t.Fatalf("scale next tick = %v", env.Scale())
	}
}

func TestDraggedEntityFollowsDisplay(t *testing.T) {
	h := newHarness(t, "Foo")
	id := h.spawn(t, "Foo")
	e, _ := h.m.Get(id)
	_ = h.m.Grab(id, id)
	e.State().Anchor = mascot.Vec2{X: 2500, Y: 500}
	h.m.Step()
	second, _ := h.m.Environments().Get(2)
	if e.Env() != second {
		t.Fatal("dragged entity did not change display")
	}
	first, _ := h.m.Environments().Get(1)
	if first.Bindings() != 0 || second.Bindings() != 1 {
		t.Fatalf("bindings %d/%d", first.Bindings(), second.Bindings())
	}
}

func TestHitTest(t *testing.T) {
	h := newHarness(t, "Foo")
	a := h.spawn(t, "Foo")
	e, _ := h.m.Get(a)
	e.State().Anchor = mascot.Vec2{X: 500, Y: 500}
	if id, ok := h.m.HitTest(platform.Point{X: 480, Y: 450}); !ok || id != a {
		t.Fatalf("hit = %s, %v", id, ok)
	}
	if _, ok := h.m.HitTest(platform.Point{X: 700, Y: 450}); ok {
		t.Fatal("hit outside box")
	}
}

func TestReloadTemplateKillsOldEntities(t *testing.T) {
	h := newHarness(t, "Foo")
	old := h.spawn(t, "Foo")
	oldTmpl, _ := h.m.Catalog().Lookup("Foo")

	if err := h.m.ReloadTemplate(&data.Template{Name: "Foo", Deletable: true}); err != nil {
		t.Fatal(err)
	}
	e, _ := h.m.Get(old)
	if !e.Marked() {
		t.Fatal("entity of replaced template not killed")
	}
	newTmpl, _ := h.m.Catalog().Lookup("Foo")
	if newTmpl == oldTmpl || newTmpl.ID == oldTmpl.ID {
		t.Fatal("template not swapped")
	}
	if h.factory.prepared[oldTmpl.ID] || !h.factory.prepared[newTmpl.ID] {
		t.Fatal("factory not updated")
	}

	def := data.DefaultTemplate()
	if err := h.m.RegisterTemplate(def); err != nil {
		t.Fatal(err)
	}
	if err := h.m.ReloadTemplate(data.DefaultTemplate()); !errors.Is(err, data.ErrNotDeletable) {
		t.Fatalf("err = %v", err)
	}
}

// Drives the full tick order through the rendezvous: spawn Foo, observe it
// from a foreign goroutine, mark it, and see it reaped by the next tick.
func TestForeignCallerScenario(t *testing.T) {
	h := newHarness(t, "Foo")
	rv := rendezvous.New[*Manager](8)
	tick := func() {
		rv.Drain(h.m)
		if h.m.Len() > 0 {
			h.m.RefreshEnvironment()
			h.m.Step()
			h.m.ProcessBreedRequests()
		}
		h.m.Reap()
		h.m.ResetScale()
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	ctx := context.Background()
	var spawnErr error
	if err := rv.RunSync(ctx, func(m *Manager) { _, spawnErr = m.Spawn("Foo") }); err != nil || spawnErr != nil {
		t.Fatalf("spawn: %v %v", err, spawnErr)
	}

	var names []string
	var id ecs.EntityID
	_ = rv.RunSync(ctx, func(m *Manager) {
		m.Each(func(e *Entity) {
			names = append(names, e.Name())
			id = e.ID
		})
	})
	if len(names) != 1 || names[0] != "Foo" {
		t.Fatalf("observed %v", names)
	}

	var markErr error
	_ = rv.RunSync(ctx, func(m *Manager) { markErr = m.MarkForDeletion(id) })
	if markErr != nil {
		t.Fatal(markErr)
	}

	var left int
	_ = rv.RunSync(ctx, func(m *Manager) { left = m.Len() })
	if left != 0 {
		t.Fatalf("%d entities after reap", left)
	}
}

func TestRunSyncFromCallbackContextPanics(t *testing.T) {
	h := newHarness(t)
	rv := rendezvous.New[*Manager](4)
	defer func() {
		if v := recover(); v == nil {
			t.Fatal("nested RunSync did not panic")
		}
	}()
	_ = rv.RunSync(h.m.Context(), func(*Manager) {})
}
