package system

import (
	"time"

	coresys "github.com/shijimago/shijima/internal/core/system"
	"github.com/shijimago/shijima/internal/persist"
	"github.com/shijimago/shijima/internal/world"
)

// PositionSink receives periodic position snapshots.
type PositionSink interface {
	RecordPositions(ps []persist.Position)
}

// PersistenceSystem periodically snapshots the position of every live
// mascot. Phase 5 (Cleanup), after the reap so only survivors are written.
// The sink does the I/O off the tick goroutine.
type PersistenceSystem struct {
	world     *world.Manager
	sink      PositionSink
	tickCount int
	interval  int
}

func NewPersistenceSystem(m *world.Manager, sink PositionSink, intervalTicks int) *PersistenceSystem {
	if intervalTicks <= 0 {
		intervalTicks = 1
	}
	return &PersistenceSystem{world: m, sink: sink, interval: intervalTicks}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.SaveAll()
}

// SaveAll snapshots every live mascot immediately. Called at shutdown too.
func (s *PersistenceSystem) SaveAll() {
	if s.world.Len() == 0 {
		return
	}
	ps := make([]persist.Position, 0, s.world.Len())
	s.world.Each(func(e *world.Entity) {
		a := e.State().Anchor
		ps = append(ps, persist.Position{MascotID: int64(e.ID), X: a.X, Y: a.Y})
	})
	s.sink.RecordPositions(ps)
}
