package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseRendezvous  Phase = iota // 0: run foreign-goroutine callbacks
	PhaseEvents                   // 1: dispatch last tick's lifecycle events
	PhaseEnvironment              // 2: recompute per-display environments
	PhaseStep                     // 3: step every live entity once
	PhaseLifecycle                // 4: fulfil breed requests produced by the step
	PhaseCleanup                  // 5: reap, reset per-tick scale
)

func (p Phase) String() string {
	switch p {
	case PhaseRendezvous:
		return "rendezvous"
	case PhaseEvents:
		return "events"
	case PhaseEnvironment:
		return "environment"
	case PhaseStep:
		return "step"
	case PhaseLifecycle:
		return "lifecycle"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
