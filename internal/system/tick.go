package system

import (
	"time"

	"github.com/shijimago/shijima/internal/core/event"
	"github.com/shijimago/shijima/internal/core/rendezvous"
	coresys "github.com/shijimago/shijima/internal/core/system"
	"github.com/shijimago/shijima/internal/world"
)

// RendezvousSystem runs every callback queued by foreign goroutines.
// Phase 0. Never skipped.
type RendezvousSystem struct {
	rv    *rendezvous.Rendezvous[*world.Manager]
	world *world.Manager
}

func NewRendezvousSystem(rv *rendezvous.Rendezvous[*world.Manager], m *world.Manager) *RendezvousSystem {
	return &RendezvousSystem{rv: rv, world: m}
}

func (s *RendezvousSystem) Phase() coresys.Phase { return coresys.PhaseRendezvous }

func (s *RendezvousSystem) Update(_ time.Duration) {
	s.rv.Drain(s.world)
}

// EventSystem delivers last tick's lifecycle events. Phase 1.
type EventSystem struct {
	bus *event.Bus
}

func NewEventSystem(bus *event.Bus) *EventSystem {
	return &EventSystem{bus: bus}
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhaseEvents }

func (s *EventSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}

// EnvironmentSystem recomputes display environments. Phase 2. Skipped while
// nobody is alive to read them.
type EnvironmentSystem struct {
	world *world.Manager
}

func NewEnvironmentSystem(m *world.Manager) *EnvironmentSystem {
	return &EnvironmentSystem{world: m}
}

func (s *EnvironmentSystem) Phase() coresys.Phase { return coresys.PhaseEnvironment }

func (s *EnvironmentSystem) Update(_ time.Duration) {
	if s.world.Len() == 0 {
		return
	}
	s.world.RefreshEnvironment()
}

// StepSystem ticks every entity once. Phase 3.
type StepSystem struct {
	world *world.Manager
}

func NewStepSystem(m *world.Manager) *StepSystem {
	return &StepSystem{world: m}
}

func (s *StepSystem) Phase() coresys.Phase { return coresys.PhaseStep }

func (s *StepSystem) Update(_ time.Duration) {
	if s.world.Len() == 0 {
		return
	}
	s.world.Step()
}

// LifecycleSystem fulfils breed requests. Phase 4.
type LifecycleSystem struct {
	world *world.Manager
}

func NewLifecycleSystem(m *world.Manager) *LifecycleSystem {
	return &LifecycleSystem{world: m}
}

func (s *LifecycleSystem) Phase() coresys.Phase { return coresys.PhaseLifecycle }

func (s *LifecycleSystem) Update(_ time.Duration) {
	if s.world.Len() == 0 {
		return
	}
	s.world.ProcessBreedRequests()
}
