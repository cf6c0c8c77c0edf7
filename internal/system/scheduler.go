package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shijimago/shijima/internal/core/rendezvous"
	coresys "github.com/shijimago/shijima/internal/core/system"
	"github.com/shijimago/shijima/internal/platform"
	"github.com/shijimago/shijima/internal/world"
)

// NewTickRunner registers the standard tick pipeline for m.
func NewTickRunner(rv *rendezvous.Rendezvous[*world.Manager], m *world.Manager) *coresys.Runner {
	r := coresys.NewRunner()
	r.Register(NewRendezvousSystem(rv, m))
	r.Register(NewEventSystem(m.Bus()))
	r.Register(NewEnvironmentSystem(m))
	r.Register(NewStepSystem(m))
	r.Register(NewLifecycleSystem(m))
	r.Register(NewCleanupSystem(m))
	return r
}

// Scheduler owns the tick goroutine. Besides the fixed-period simulation
// tick it services the window observer at its own frequency and applies
// display hotplug events, all on the same goroutine.
type Scheduler struct {
	runner   *coresys.Runner
	world    *world.Manager
	rv       *rendezvous.Rendezvous[*world.Manager]
	observer platform.WindowObserver
	notifier platform.DisplayNotifier
	period   time.Duration
	log      *zap.Logger
}

func NewScheduler(runner *coresys.Runner, m *world.Manager, rv *rendezvous.Rendezvous[*world.Manager],
	observer platform.WindowObserver, notifier platform.DisplayNotifier, period time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		world:    m,
		rv:       rv,
		observer: observer,
		notifier: notifier,
		period:   period,
		log:      log,
	}
}

// Run ticks until ctx ends. On exit events still queued by the last tick are
// dispatched and the rendezvous is closed so blocked callers return ErrClosed.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.rv.Close()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	var observe <-chan time.Time
	if s.observer != nil {
		if freq := s.observer.TickFrequency(); freq > 0 {
			t := time.NewTicker(freq)
			defer t.Stop()
			observe = t.C
		}
	}
	var hotplug <-chan platform.DisplayEvent
	if s.notifier != nil {
		hotplug = s.notifier.DisplayEvents()
	}

	s.log.Info("tick loop started", zap.Duration("period", s.period))
	for {
		select {
		case <-ticker.C:
			s.runner.Tick(s.period)
		case <-observe:
			s.observer.Tick()
		case ev := <-hotplug:
			s.applyDisplayEvent(ev)
		case <-ctx.Done():
			flushed := s.flushEvents()
			s.log.Info("tick loop stopped", zap.Uint64("ticks", s.runner.Ticks()), zap.Int("flushed_events", flushed))
			return
		}
	}
}

func (s *Scheduler) flushEvents() int {
	bus := s.world.Bus()
	n := bus.Pending()
	if n == 0 {
		return 0
	}
	bus.SwapBuffers()
	bus.DispatchAll()
	return n
}

func (s *Scheduler) applyDisplayEvent(ev platform.DisplayEvent) {
	switch ev.Kind {
	case platform.DisplayAdded:
		s.world.AttachDisplay(ev.Display)
	case platform.DisplayRemoved:
		if _, err := s.world.DetachDisplay(ev.Display.ID); err != nil {
			s.log.Warn("display detach ignored", zap.Int("display", int(ev.Display.ID)), zap.Error(err))
		}
	}
}
