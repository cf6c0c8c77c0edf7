// Package world owns the live mascot population: the entity table, the
// per-display environments and the drag relation. Everything here runs on
// the tick goroutine; foreign goroutines reach a Manager only through a
// rendezvous callback.
package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/core/ecs"
	"github.com/shijimago/shijima/internal/core/event"
	"github.com/shijimago/shijima/internal/core/rendezvous"
	"github.com/shijimago/shijima/internal/data"
	"github.com/shijimago/shijima/internal/mascot"
	"github.com/shijimago/shijima/internal/platform"
)

var (
	ErrUnknownTemplate = errors.New("world: unknown mascot template")
	ErrNoSuchEntity    = errors.New("world: no such mascot")
	ErrNoSuchDisplay   = errors.New("world: no such display")
)

// SimulationFactory builds simulations from registered templates.
type SimulationFactory interface {
	Prepare(t *data.Template) error
	Evict(t *data.Template)
	NewSimulation(t *data.Template, env *mascot.Environment, init *mascot.BreedRequest) (mascot.Simulation, error)
}

// Platform is the desktop as the manager sees it.
type Platform interface {
	platform.DisplayProvider
	platform.CursorSource
	platform.WindowObserver
}

// Manager is the lifecycle controller. It is the only writer of the entity
// table.
type Manager struct {
	log     *zap.Logger
	ids     *ecs.IDCounter
	catalog *data.Catalog
	factory SimulationFactory
	plat    Platform
	bus     *event.Bus
	table   *ecs.Table[Entity]
	drag    *DragTracker
	envs    *Environments
	ctx     context.Context
}

// NewManager attaches every display plat currently reports. ids is shared
// with catalog.
func NewManager(ids *ecs.IDCounter, catalog *data.Catalog, factory SimulationFactory, plat Platform,
	bus *event.Bus, opts EnvOptions, log *zap.Logger) *Manager {
	m := &Manager{
		log:     log,
		ids:     ids,
		catalog: catalog,
		factory: factory,
		plat:    plat,
		bus:     bus,
		table:   ecs.NewTable[Entity](),
		drag:    NewDragTracker(),
		envs:    NewEnvironments(opts),
		ctx:     rendezvous.WithTick(context.Background()),
	}
	m.table.Registry().Register(m.drag)
	if plat != nil {
		for _, d := range plat.Displays() {
			m.envs.Attach(d)
		}
		m.envs.SetPrimary(plat.Primary())
	}
	return m
}

// Context is marked as the tick goroutine's. Code running inside a rendezvous
// callback passes it on so a nested RunSync fails fast.
func (m *Manager) Context() context.Context { return m.ctx }

func (m *Manager) Catalog() *data.Catalog { return m.catalog }

func (m *Manager) Environments() *Environments { return m.envs }

func (m *Manager) Drag() *DragTracker { return m.drag }

func (m *Manager) Bus() *event.Bus { return m.bus }

func (m *Manager) Len() int { return m.table.Len() }

func (m *Manager) Get(id ecs.EntityID) (*Entity, bool) { return m.table.Get(id) }

// Each visits live entities in spawn order. fn must not spawn or reap.
func (m *Manager) Each(fn func(*Entity)) {
	m.table.Each(func(_ ecs.EntityID, e *Entity) { fn(e) })
}

func (m *Manager) IDs() []ecs.EntityID { return m.table.IDs() }

func (m *Manager) frame() Frame {
	if m.plat == nil {
		return Frame{}
	}
	return Frame{
		Displays: m.plat.Displays(),
		Cursor:   m.plat.CursorPos(),
		Window:   m.plat.ActiveWindow(),
		Now:      time.Now(),
	}
}

// ---------- templates ----------

// RegisterTemplate adds t to the catalog and compiles it.
func (m *Manager) RegisterTemplate(t *data.Template) error {
	if err := m.catalog.Register(t); err != nil {
		return err
	}
	if err := m.factory.Prepare(t); err != nil {
		m.catalog.Deregister(t.Name)
		return fmt.Errorf("register %q: %w", t.Name, err)
	}
	m.log.Info("mascot template loaded", zap.String("template", t.Name), zap.Int64("data_id", t.ID))
	return nil
}

// UnregisterTemplate marks every entity of name and drops the template.
func (m *Manager) UnregisterTemplate(name string) error {
	name = data.NormalizeName(name)
	t, ok := m.catalog.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	if !t.Deletable {
		return fmt.Errorf("%w: %q", data.ErrNotDeletable, name)
	}
	killed := m.KillAllByTemplate(name)
	m.catalog.Deregister(name)
	m.factory.Evict(t)
	m.log.Info("mascot template unloaded", zap.String("template", name), zap.Int("killed", killed))
	return nil
}

// ReloadTemplate swaps in t under its name. Entities of the old definition
// are killed before the swap.
func (m *Manager) ReloadTemplate(t *data.Template) error {
	if _, ok := m.catalog.Lookup(t.Name); ok {
		if err := m.UnregisterTemplate(t.Name); err != nil {
			return err
		}
	}
	return m.RegisterTemplate(t)
}

// ---------- spawn / breed ----------

// Spawn creates an entity of the named template in the current environment
// and resets its position.
func (m *Manager) Spawn(name string) (ecs.EntityID, error) {
	name = data.NormalizeName(name)
	t, ok := m.catalog.Lookup(name)
	if !ok {
		return ecs.NoEntity, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return m.spawn(t)
}

// SpawnByID is Spawn addressed by catalog id.
func (m *Manager) SpawnByID(dataID int64) (ecs.EntityID, error) {
	t, ok := m.catalog.ByID(dataID)
	if !ok {
		return ecs.NoEntity, fmt.Errorf("%w: data id %d", ErrUnknownTemplate, dataID)
	}
	return m.spawn(t)
}

func (m *Manager) spawn(t *data.Template) (ecs.EntityID, error) {
	env := m.envs.Current()
	m.envs.RecomputeOne(env, m.frame())
	defer env.ResetScale()

	sim, err := m.factory.NewSimulation(t, env, nil)
	if err != nil {
		return ecs.NoEntity, fmt.Errorf("spawn %q: %w", t.Name, err)
	}
	e := &Entity{ID: m.ids.Next(), Template: t, Sim: sim}
	e.setEnv(env)
	sim.ResetPosition()
	m.table.Insert(e.ID, e)

	event.Emit(m.bus, event.EntitySpawned{ID: e.ID, Template: t.Name, ParentID: ecs.NoEntity})
	m.log.Debug("mascot spawned", zap.Stringer("id", e.ID), zap.String("template", t.Name))
	return e.ID, nil
}

// Breed fulfils a breed request of parent. Failures are logged and
// swallowed: the population is unchanged and ok is false.
func (m *Manager) Breed(parent *Entity, req mascot.BreedRequest) (ecs.EntityID, bool) {
	name := req.Name
	if name == "" {
		name = parent.Name()
	}
	name = data.NormalizeName(data.LastPathComponent(name))
	t, found := m.catalog.Lookup(name)
	if !found {
		m.log.Warn("breed request for unknown template",
			zap.Stringer("parent", parent.ID), zap.String("template", name))
		return ecs.NoEntity, false
	}
	sim, err := m.factory.NewSimulation(t, parent.env, &req)
	if err != nil {
		m.log.Warn("couldn't fulfil breed request",
			zap.Stringer("parent", parent.ID), zap.String("template", name), zap.Error(err))
		return ecs.NoEntity, false
	}
	child := &Entity{ID: m.ids.Next(), Template: t, Sim: sim}
	child.setEnv(parent.env)
	m.table.Insert(child.ID, child)

	event.Emit(m.bus, event.EntitySpawned{ID: child.ID, Template: t.Name, ParentID: parent.ID})
	m.log.Debug("mascot bred", zap.Stringer("id", child.ID), zap.Stringer("parent", parent.ID),
		zap.String("template", t.Name))
	return child.ID, true
}

// ProcessBreedRequests fulfils the requests the last step produced. Children
// born here do not get their requests looked at until the next tick.
func (m *Manager) ProcessBreedRequests() int {
	bred := 0
	for _, id := range m.table.IDs() {
		e, ok := m.table.Get(id)
		if !ok {
			continue
		}
		st := e.State()
		if !st.BreedRequest.Available {
			continue
		}
		req := st.BreedRequest
		st.BreedRequest = mascot.BreedRequest{}
		if _, ok := m.Breed(e, req); ok {
			bred++
		}
	}
	return bred
}

// ---------- kill / reap ----------

// MarkForDeletion flags id for the next reap. The entity stays fully valid
// until then.
func (m *Manager) MarkForDeletion(id ecs.EntityID) error {
	e, ok := m.table.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchEntity, id)
	}
	e.marked = true
	return nil
}

func (m *Manager) KillAll() int {
	return m.markWhere(func(*Entity) bool { return true })
}

func (m *Manager) KillAllByTemplate(name string) int {
	name = data.NormalizeName(name)
	return m.markWhere(func(e *Entity) bool { return e.Name() == name })
}

// KillAllButOne marks every entity except keep.
func (m *Manager) KillAllButOne(keep ecs.EntityID) (int, error) {
	if !m.table.Has(keep) {
		return 0, fmt.Errorf("%w: %s", ErrNoSuchEntity, keep)
	}
	return m.markWhere(func(e *Entity) bool { return e.ID != keep }), nil
}

// KillAllButOneByTemplate marks every entity of name except the oldest one.
func (m *Manager) KillAllButOneByTemplate(name string) int {
	name = data.NormalizeName(name)
	found := false
	return m.markWhere(func(e *Entity) bool {
		if e.Name() != name {
			return false
		}
		if !found {
			found = true
			return false
		}
		return true
	})
}

func (m *Manager) markWhere(pred func(*Entity) bool) int {
	n := 0
	m.table.Each(func(_ ecs.EntityID, e *Entity) {
		if pred(e) {
			e.marked = true
			n++
		}
	})
	return n
}

// Reap removes every dead or marked entity. Drag relations of a reaped
// entity are cleared before its simulation is closed.
func (m *Manager) Reap() int {
	doomed := m.table.Collect(func(_ ecs.EntityID, e *Entity) bool { return e.Doomed() })
	if len(doomed) == 0 {
		return 0
	}
	for _, id := range doomed {
		if t := m.drag.Target(id); t.Valid() && t != id {
			if te, ok := m.table.Get(t); ok {
				te.State().Dragging = false
			}
		}
	}
	removed := m.table.RemoveAll(doomed)
	for _, e := range removed {
		reason := "dead"
		if e.marked {
			reason = "marked"
		}
		e.setEnv(nil)
		e.Sim.Close()
		event.Emit(m.bus, event.EntityReaped{ID: e.ID, Template: e.Name(), Reason: reason})
		m.log.Debug("mascot reaped", zap.Stringer("id", e.ID), zap.String("reason", reason))
	}
	return len(removed)
}

// ---------- stepping ----------

// RefreshEnvironment is the per-tick environment pass.
func (m *Manager) RefreshEnvironment() {
	if m.plat != nil {
		m.envs.SetPrimary(m.plat.Primary())
	}
	m.envs.Recompute(m.frame())
}

// Step ticks every live entity once. A dragged entity follows the cursor
// onto whatever display it lands on.
func (m *Manager) Step() {
	windowed := m.envs.Windowed()
	m.table.Each(func(_ ecs.EntityID, e *Entity) {
		e.Sim.Tick()
		st := e.State()
		if !st.Dragging || windowed || m.plat == nil {
			return
		}
		did, ok := m.plat.DisplayAt(platform.Point{X: int(st.Anchor.X), Y: int(st.Anchor.Y)})
		if !ok || did == platform.SandboxDisplay {
			return
		}
		if env, ok := m.envs.Get(did); ok && env != e.env {
			e.setEnv(env)
		}
	})
}

// ResetScale ends this tick's scale pulse.
func (m *Manager) ResetScale() { m.envs.ResetScale() }

// ---------- displays ----------

func (m *Manager) AttachDisplay(d platform.Display) {
	if d.ID == platform.SandboxDisplay {
		return
	}
	m.envs.Attach(d)
	event.Emit(m.bus, event.DisplayAttached{Display: int(d.ID)})
	m.log.Info("display attached", zap.Int("display", int(d.ID)))
}

// DetachDisplay drops the display's Environment after moving every entity
// bound to it onto the primary display and resetting their position.
func (m *Manager) DetachDisplay(id platform.DisplayID) (int, error) {
	if id == platform.SandboxDisplay {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchDisplay, id)
	}
	env, ok := m.envs.Detach(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchDisplay, id)
	}
	if m.plat != nil {
		m.envs.SetPrimary(m.plat.Primary())
	}
	target := m.envs.PrimaryEnv()
	migrated := 0
	m.table.Each(func(_ ecs.EntityID, e *Entity) {
		if e.env != env {
			return
		}
		e.setEnv(target)
		e.Sim.ResetPosition()
		migrated++
	})
	event.Emit(m.bus, event.DisplayDetached{Display: int(id), Migrated: migrated})
	m.log.Info("display detached", zap.Int("display", int(id)), zap.Int("migrated", migrated))
	return migrated, nil
}

// SetCurrentDisplay picks the display new entities spawn on.
func (m *Manager) SetCurrentDisplay(id platform.DisplayID) error {
	if !m.envs.SetCurrent(id) {
		return fmt.Errorf("%w: %d", ErrNoSuchDisplay, id)
	}
	return nil
}

// SetWindowedMode moves every entity between the sandbox and the current
// display. Identity and simulation state survive; positions are reset.
func (m *Manager) SetWindowedMode(on bool) {
	if m.envs.Windowed() == on {
		return
	}
	m.envs.SetWindowed(on)
	env := m.envs.Current()
	m.envs.RecomputeOne(env, m.frame())
	defer env.ResetScale()
	m.table.Each(func(_ ecs.EntityID, e *Entity) {
		e.setEnv(env)
		e.Sim.ResetPosition()
	})
	m.log.Info("windowed mode changed", zap.Bool("windowed", on), zap.Int("mascots", m.table.Len()))
}

// ---------- dragging ----------

// SetDragTarget makes dragger drag target; ecs.NoEntity clears. Claiming a
// target that already has a dragger panics with ErrDoubleDrag.
func (m *Manager) SetDragTarget(dragger, target ecs.EntityID) error {
	if !m.table.Has(dragger) {
		return fmt.Errorf("%w: %s", ErrNoSuchEntity, dragger)
	}
	if target.Valid() && !m.table.Has(target) {
		return fmt.Errorf("%w: %s", ErrNoSuchEntity, target)
	}
	m.drag.Set(dragger, target)
	return nil
}

// Grab starts a drag of target by dragger and flags target as dragged.
func (m *Manager) Grab(dragger, target ecs.EntityID) error {
	if prev := m.drag.Target(dragger); prev.Valid() {
		if pe, ok := m.table.Get(prev); ok {
			pe.State().Dragging = false
		}
	}
	if err := m.SetDragTarget(dragger, target); err != nil {
		return err
	}
	if te, ok := m.table.Get(target); ok {
		te.State().Dragging = true
	}
	return nil
}

// Release ends dragger's drag.
func (m *Manager) Release(dragger ecs.EntityID) error {
	if t := m.drag.Target(dragger); t.Valid() {
		if te, ok := m.table.Get(t); ok {
			te.State().Dragging = false
		}
	}
	return m.SetDragTarget(dragger, ecs.NoEntity)
}

// HitTest returns the oldest entity whose box contains p.
func (m *Manager) HitTest(p platform.Point) (ecs.EntityID, bool) {
	for _, id := range m.table.IDs() {
		e, _ := m.table.Get(id)
		if e.Bounds().Contains(p) {
			return id, true
		}
	}
	return ecs.NoEntity, false
}

// Close releases every simulation. Used at shutdown.
func (m *Manager) Close() {
	all := m.table.RemoveAll(m.table.IDs())
	for _, e := range all {
		e.setEnv(nil)
		e.Sim.Close()
	}
}
