package world

import (
	"github.com/shijimago/shijima/internal/core/ecs"
	"github.com/shijimago/shijima/internal/data"
	"github.com/shijimago/shijima/internal/mascot"
	"github.com/shijimago/shijima/internal/platform"
)

// Entity is one live mascot session.
type Entity struct {
	ID       ecs.EntityID
	Template *data.Template
	Sim      mascot.Simulation
	env      *mascot.Environment
	marked   bool
}

func (e *Entity) Name() string { return e.Template.Name }

func (e *Entity) State() *mascot.State { return e.Sim.State() }

func (e *Entity) Env() *mascot.Environment { return e.env }

// Marked reports whether the entity waits for the next reap.
func (e *Entity) Marked() bool { return e.marked }

// Doomed is true for entities the next reap removes.
func (e *Entity) Doomed() bool { return e.marked || e.Sim.State().Dead }

// setEnv moves the entity's reference from its current Environment to env.
func (e *Entity) setEnv(env *mascot.Environment) {
	if e.env == env {
		return
	}
	if e.env != nil {
		e.env.Unbind()
	}
	e.env = env
	if env != nil {
		env.Bind()
	}
	e.Sim.State().Env = env
}

// Bounds is the entity's box in desktop coordinates. The anchor sits at the
// bottom centre.
func (e *Entity) Bounds() platform.Rect {
	w, h := e.Sim.Size()
	a := e.Sim.State().Anchor
	return platform.Rect{
		X: int(a.X - w/2),
		Y: int(a.Y - h),
		W: int(w),
		H: int(h),
	}
}
