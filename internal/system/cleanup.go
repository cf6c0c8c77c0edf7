package system

import (
	"time"

	coresys "github.com/shijimago/shijima/internal/core/system"
	"github.com/shijimago/shijima/internal/world"
)

// CleanupSystem reaps dead and marked entities, then ends the tick's scale
// pulse. Phase 5 (Cleanup). Runs even when the population is empty.
type CleanupSystem struct {
	world *world.Manager
}

func NewCleanupSystem(m *world.Manager) *CleanupSystem {
	return &CleanupSystem{world: m}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.world.Reap()
	s.world.ResetScale()
}
