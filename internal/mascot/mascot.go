// Package mascot holds the contract between the world manager and the
// behavior simulation that drives each entity.
package mascot

type Vec2 struct {
	X, Y float64
}

// BreedRequest is written by a simulation during Tick when it wants a new
// entity spawned. The world manager consumes it and clears Available.
type BreedRequest struct {
	Available    bool
	Name         string // template name; empty means the parent's own
	Anchor       Vec2
	LookingRight bool
	Behavior     string
}

// State is the part of a simulation the manager reads and writes.
type State struct {
	Anchor       Vec2
	LookingRight bool
	Dragging     bool
	Dead         bool
	BreedRequest BreedRequest
	Env          *Environment
}

// Simulation is one stepped behavior state machine. Every method is called
// from the tick goroutine only.
type Simulation interface {
	Tick()
	State() *State
	ResetPosition()
	ActiveBehavior() string
	// SetBehavior switches to the named behavior on the next tick; false
	// when no behavior of that name exists.
	SetBehavior(name string) bool
	Size() (w, h float64)
	Close()
}
